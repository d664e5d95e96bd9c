package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wei840222/pingu-bot/cmd/mainconfig"
	appconfig "github.com/wei840222/pingu-bot/internal/config"
	"github.com/wei840222/pingu-bot/internal/durable"
	"github.com/wei840222/pingu-bot/pkg/logging"
)

const defaultLeaseTTL = time.Minute

// Backends bundles the durable execution backends selected by config.
// History is nil unless runs live in Postgres.
type Backends struct {
	Store   durable.RunStore
	Queue   durable.TaskQueue
	Lease   durable.Lease
	History *durable.RunHistory

	closers []func()
}

// Close releases connections in reverse order of creation.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// BuildBackends connects the run store, task queue and run lease.
func BuildBackends(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Backends, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b := &Backends{}
	aws := lazyAWS(ctx, cfg)

	if err := b.buildRunStore(ctx, cfg, aws, logger); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.buildTaskQueue(ctx, cfg, aws, logger); err != nil {
		b.Close()
		return nil, err
	}
	b.buildLease(ctx, cfg, logger)
	return b, nil
}

func (b *Backends) buildRunStore(ctx context.Context, cfg *appconfig.Config, aws func() (mainconfig.AWSClients, error), logger *logging.Logger) error {
	switch cfg.WorkflowStoreBackend {
	case appconfig.StoreBackendDynamoDB:
		clients, err := aws()
		if err != nil {
			return err
		}
		b.Store = durable.NewDynamoRunStore(clients.DynamoDB, cfg.WorkflowRunsTable, logger)
	case appconfig.StoreBackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("bootstrap: ping postgres: %w", err)
		}
		b.Store = durable.NewPostgresRunStore(pool)

		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("bootstrap: open run history: %w", err)
		}
		b.closers = append(b.closers, func() { _ = db.Close() })
		b.History = durable.NewRunHistory(db)
	default:
		logger.Warn("using in-memory run store; runs are lost on restart")
		b.Store = durable.NewMemoryRunStore()
	}
	logger.Info("run store ready", "backend", cfg.WorkflowStoreBackend)
	return nil
}

func (b *Backends) buildTaskQueue(ctx context.Context, cfg *appconfig.Config, aws func() (mainconfig.AWSClients, error), logger *logging.Logger) error {
	switch cfg.WorkflowQueueBackend {
	case appconfig.QueueBackendSQS:
		clients, err := aws()
		if err != nil {
			return err
		}
		b.Queue = durable.NewSQSQueue(clients.SQS, cfg.WorkflowQueueURL)
	case appconfig.QueueBackendRabbitMQ:
		conn, err := DialWithRetry(ctx, DialOptions{URL: cfg.RabbitMQURL, Logger: logger})
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() { _ = conn.Close() })
		queue, err := durable.NewAMQPQueue(conn, cfg.WorkflowTaskQueue)
		if err != nil {
			return fmt.Errorf("bootstrap: declare task queue: %w", err)
		}
		b.closers = append(b.closers, func() { _ = queue.Close() })
		b.Queue = queue
	default:
		b.Queue = durable.NewMemoryQueue(1024)
	}
	logger.Info("task queue ready", "backend", cfg.WorkflowQueueBackend, "task_queue", cfg.WorkflowTaskQueue)
	return nil
}

func (b *Backends) buildLease(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) {
	if client := BuildRedisClient(ctx, cfg, logger, true); client != nil {
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.Lease = durable.NewRedisLease(client, "")
		logger.Info("run lease backed by redis", "addr", cfg.RedisAddr)
		return
	}
	b.Lease = durable.NewMemoryLease()
}

// LeaseTTL bounds how long one worker may hold a run. It covers every
// attempt of an activity plus the backoff between them.
func LeaseTTL(cfg *appconfig.Config) time.Duration {
	if cfg == nil || cfg.ReplyMaxAttempts <= 0 {
		return defaultLeaseTTL
	}
	ttl := time.Duration(cfg.ReplyMaxAttempts)*(cfg.ReplyActivityTimeout+cfg.ReplyMaxInterval) + 10*time.Second
	if ttl < defaultLeaseTTL {
		return defaultLeaseTTL
	}
	return ttl
}

func lazyAWS(ctx context.Context, cfg *appconfig.Config) func() (mainconfig.AWSClients, error) {
	var (
		clients mainconfig.AWSClients
		err     error
		loaded  bool
	)
	return func() (mainconfig.AWSClients, error) {
		if loaded {
			return clients, err
		}
		loaded = true
		awsCfg, loadErr := mainconfig.LoadAWSConfig(ctx, cfg)
		if loadErr != nil {
			err = fmt.Errorf("bootstrap: load aws config: %w", loadErr)
			return clients, err
		}
		clients = mainconfig.NewAWSClients(awsCfg, cfg.AWSEndpointOverride)
		return clients, nil
	}
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not available; falling back to in-process run lease", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}
