package bootstrap

import (
	"context"
	"strings"

	appconfig "github.com/wei840222/pingu-bot/internal/config"
	"github.com/wei840222/pingu-bot/internal/durable"
	"github.com/wei840222/pingu-bot/internal/notify"
	"github.com/wei840222/pingu-bot/pkg/logging"
)

// BuildAlerter picks the operator alert channel: SendGrid when an API key
// is set, SES when a sender address is set, the log otherwise. It returns
// nil when ALERT_EMAIL_TO is empty.
func BuildAlerter(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) durable.FailureHandler {
	if cfg == nil || strings.TrimSpace(cfg.AlertEmailTo) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	var sender notify.EmailSender
	switch {
	case cfg.SendGridAPIKey != "":
		sender = notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		logger.Info("run failure alerts via sendgrid", "to", cfg.AlertEmailTo)
	case cfg.SESFromEmail != "":
		clients, err := lazyAWS(ctx, cfg)()
		if err != nil {
			logger.Warn("ses unavailable; run failure alerts go to the log", "error", err)
			sender = notify.NewLogSender(logger)
			break
		}
		sender = notify.NewSESSender(clients.SES, notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		logger.Info("run failure alerts via ses", "to", cfg.AlertEmailTo)
	default:
		sender = notify.NewLogSender(logger)
		logger.Info("no email provider configured; run failure alerts go to the log")
	}
	return notify.NewRunFailureAlerter(sender, cfg.AlertEmailTo, logger)
}
