package reply

import (
	"context"
	"errors"
	"fmt"

	"github.com/wei840222/pingu-bot/internal/durable"
	"github.com/wei840222/pingu-bot/internal/line"
	"github.com/wei840222/pingu-bot/pkg/logging"
)

const (
	ReplyAudioActivityName      = "ReplyAudioActivity"
	ReplyQuickReplyActivityName = "ReplyQuickReplyActivity"
	ReplyTextActivityName       = "ReplyTextActivity"

	kindConfiguration = "Configuration"
)

type ReplyAudioParams struct {
	ReplyToken string `json:"replyToken"`
	ContentURL string `json:"contentUrl"`
	DurationMs int    `json:"durationMs"`
}

type ReplyQuickReplyParams struct {
	ReplyToken string   `json:"replyToken"`
	QuoteToken string   `json:"quoteToken,omitempty"`
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options"`
}

type ReplyTextParams struct {
	ReplyToken string `json:"replyToken"`
	QuoteToken string `json:"quoteToken,omitempty"`
	Text       string `json:"text"`
}

// Receipt is what the Messaging API reported for a delivered reply.
type Receipt struct {
	RequestID    string             `json:"requestId,omitempty"`
	SentMessages []line.SentMessage `json:"sentMessages,omitempty"`
}

// Replier is the part of line.Client the activities use.
type Replier interface {
	ReplyMessage(ctx context.Context, req line.ReplyMessageRequest) (*line.ReplyMessageResponse, error)
	Close() error
}

// ClientFactory opens a Messaging API client for a single activity call.
type ClientFactory func() (Replier, error)

// NewLineClientFactory returns a factory producing line.Client instances from cfg.
func NewLineClientFactory(cfg line.Config) ClientFactory {
	return func() (Replier, error) {
		client, err := line.New(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Activities sends replies through the LINE Messaging API. Each call owns
// its client and closes it on every exit path.
type Activities struct {
	newClient ClientFactory
	logger    *logging.Logger
}

func NewActivities(factory ClientFactory, logger *logging.Logger) *Activities {
	if factory == nil {
		panic("reply: client factory cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Activities{newClient: factory, logger: logger}
}

func (a *Activities) ReplyAudio(ctx context.Context, p ReplyAudioParams) (Receipt, error) {
	return a.reply(ctx, ReplyAudioActivityName, line.ReplyMessageRequest{
		ReplyToken: p.ReplyToken,
		Messages: []line.Message{
			line.AudioMessage{OriginalContentURL: p.ContentURL, Duration: p.DurationMs},
		},
	})
}

func (a *Activities) ReplyQuickReply(ctx context.Context, p ReplyQuickReplyParams) (Receipt, error) {
	return a.reply(ctx, ReplyQuickReplyActivityName, line.ReplyMessageRequest{
		ReplyToken: p.ReplyToken,
		Messages: []line.Message{
			line.TextMessage{
				Text:       p.Prompt,
				QuoteToken: p.QuoteToken,
				QuickReply: line.NewMessageQuickReply(p.Options...),
			},
		},
	})
}

func (a *Activities) ReplyText(ctx context.Context, p ReplyTextParams) (Receipt, error) {
	return a.reply(ctx, ReplyTextActivityName, line.ReplyMessageRequest{
		ReplyToken: p.ReplyToken,
		Messages: []line.Message{
			line.TextMessage{Text: p.Text, QuoteToken: p.QuoteToken},
		},
	})
}

func (a *Activities) reply(ctx context.Context, activity string, req line.ReplyMessageRequest) (Receipt, error) {
	client, err := a.newClient()
	if err != nil {
		return Receipt{}, durable.NewNonRetryableError(kindConfiguration, fmt.Errorf("reply: open messaging client: %w", err))
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			a.logger.Warn("failed to close messaging client", "activity", activity, "error", cerr)
		}
	}()

	resp, err := client.ReplyMessage(ctx, req)
	if err != nil {
		return Receipt{}, classify(err)
	}

	receipt := Receipt{RequestID: resp.RequestID, SentMessages: resp.SentMessages}
	a.logger.Info("reply message sent", "activity", activity, "request_id", receipt.RequestID, "sent_messages", len(receipt.SentMessages))
	return receipt, nil
}

// classify maps Messaging API failures onto retry kinds: client rejections
// are final, transport failures and server-side errors are retried.
func classify(err error) error {
	var transportErr *line.TransportError
	if errors.As(err, &transportErr) {
		return durable.NewApplicationError(durable.KindTransient, err)
	}
	if line.IsBadRequest(err) {
		return durable.NewNonRetryableError(durable.KindBadRequest, err)
	}
	var apiErr *line.APIError
	if errors.As(err, &apiErr) {
		return durable.NewApplicationError(durable.KindTransient, err)
	}
	// request validation
	return durable.NewNonRetryableError(durable.KindBadRequest, err)
}
