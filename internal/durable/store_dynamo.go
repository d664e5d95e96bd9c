package durable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wei840222/pingu-bot/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoRunStore persists run records to a DynamoDB table keyed by runId.
// The table's TTL attribute should be set to expiresAt.
type DynamoRunStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ RunStore = (*DynamoRunStore)(nil)

// NewDynamoRunStore builds a store backed by the provided DynamoDB client.
func NewDynamoRunStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoRunStore {
	if client == nil {
		panic("durable: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("durable: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoRunStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Create inserts a new run, failing with ErrRunExists if runId is taken.
func (s *DynamoRunStore) Create(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return errors.New("durable: run id required")
	}
	rec.stamp(time.Now().UTC())

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("durable: failed to marshal run: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(runId)"),
	})
	if err != nil {
		var conditionErr *types.ConditionalCheckFailedException
		if errors.As(err, &conditionErr) {
			return ErrRunExists
		}
		return fmt.Errorf("durable: failed to persist run: %w", err)
	}
	return nil
}

// Get fetches a run by ID.
func (s *DynamoRunStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, errors.New("durable: run id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            runKey(runID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("durable: failed to fetch run: %w", err)
	}
	if out.Item == nil {
		return nil, ErrRunNotFound
	}

	var rec RunRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("durable: failed to decode run: %w", err)
	}
	return &rec, nil
}

// Save overwrites an existing run with the checkpointed state.
func (s *DynamoRunStore) Save(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return errors.New("durable: run id required")
	}
	rec.UpdatedAt = time.Now().UTC()

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("durable: failed to marshal run: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(runId)"),
	})
	if err != nil {
		var conditionErr *types.ConditionalCheckFailedException
		if errors.As(err, &conditionErr) {
			return ErrRunNotFound
		}
		return fmt.Errorf("durable: failed to update run %s: %w", rec.RunID, err)
	}
	return nil
}

// Delete removes a run. Used to roll back a start whose task never reached the queue.
func (s *DynamoRunStore) Delete(ctx context.Context, runID string) error {
	if runID == "" {
		return errors.New("durable: run id required")
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       runKey(runID),
	})
	if err != nil {
		return fmt.Errorf("durable: failed to delete run %s: %w", runID, err)
	}
	s.logger.Debug("durable run deleted", "run_id", runID)
	return nil
}

func runKey(runID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"runId": &types.AttributeValueMemberS{Value: runID},
	}
}
