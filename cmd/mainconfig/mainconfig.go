package mainconfig

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wei840222/pingu-bot/internal/config"
)

// LoadAWSConfig centralizes AWS SDK initialization so the API, the worker
// and the lambda share the same LocalStack/production wiring.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	return config.LoadDefaultConfig(ctx, loaders...)
}

// AWSClients are the service clients the bot talks to. With an endpoint
// override every client points at it (LocalStack).
type AWSClients struct {
	SQS      *sqs.Client
	DynamoDB *dynamodb.Client
	SES      *sesv2.Client
}

func NewAWSClients(awsCfg aws.Config, endpointOverride string) AWSClients {
	endpoint := strings.TrimSpace(endpointOverride)
	var base *string
	if endpoint != "" {
		base = aws.String(endpoint)
	}
	return AWSClients{
		SQS: sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			o.BaseEndpoint = base
		}),
		DynamoDB: dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = base
		}),
		SES: sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
			o.BaseEndpoint = base
		}),
	}
}
