package bootstrap

import (
	"context"

	appconfig "github.com/wei840222/pingu-bot/internal/config"
	"github.com/wei840222/pingu-bot/internal/durable"
	"github.com/wei840222/pingu-bot/internal/line"
	"github.com/wei840222/pingu-bot/internal/reply"
	"github.com/wei840222/pingu-bot/pkg/logging"
)

// BuildReplyWorkflow wires the keyword selector and LINE reply activities
// with the retry contract from config.
func BuildReplyWorkflow(cfg *appconfig.Config, logger *logging.Logger) *reply.Workflow {
	if logger == nil {
		logger = logging.Default()
	}
	factory := reply.NewLineClientFactory(line.Config{
		BaseURL:     cfg.LineAPIBaseURL,
		AccessToken: cfg.LineChannelAccessToken,
		Timeout:     cfg.LineAPITimeout,
		Logger:      logger.Logger,
	})
	return reply.NewWorkflow(
		reply.NewSelector(cfg.AudioBaseURL),
		reply.NewActivities(factory, logger),
		reply.RetryConfig{
			ActivityTimeout: cfg.ReplyActivityTimeout,
			MaxAttempts:     cfg.ReplyMaxAttempts,
			MaxInterval:     cfg.ReplyMaxInterval,
		},
	)
}

// BuildWorker creates a reply worker over backends with the reply workflow
// registered. observer may be nil.
func BuildWorker(ctx context.Context, cfg *appconfig.Config, backends *Backends, observer durable.Observer, logger *logging.Logger) *durable.Worker {
	if logger == nil {
		logger = logging.Default()
	}
	opts := []durable.WorkerOption{
		durable.WithWorkerCount(cfg.WorkerCount),
		durable.WithLease(backends.Lease, LeaseTTL(cfg)),
	}
	if observer != nil {
		opts = append(opts, durable.WithObserver(observer))
	}
	if alerter := BuildAlerter(ctx, cfg, logger); alerter != nil {
		opts = append(opts, durable.WithFailureHandler(alerter))
	}
	worker := durable.NewWorker(backends.Store, backends.Queue, cfg.WorkflowTaskQueue, logger, opts...)
	BuildReplyWorkflow(cfg, logger).Register(worker)
	return worker
}
