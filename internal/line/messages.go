package line

import (
	"errors"
	"strings"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

// Message is an outbound message accepted by the reply endpoint.
type Message interface {
	validate() error
	sdkMessage() messaging_api.MessageInterface
}

// TextMessage is a plain text reply, optionally quoting the inbound
// message and offering quick-reply buttons.
type TextMessage struct {
	Text       string
	QuoteToken string
	QuickReply *messaging_api.QuickReply
}

func (m TextMessage) validate() error {
	if strings.TrimSpace(m.Text) == "" {
		return errors.New("line: text message requires text")
	}
	if m.QuickReply != nil && len(m.QuickReply.Items) > maxQuickReplyItems {
		return errors.New("line: too many quick reply items")
	}
	return nil
}

func (m TextMessage) sdkMessage() messaging_api.MessageInterface {
	return messaging_api.TextMessage{
		Text:       m.Text,
		QuoteToken: m.QuoteToken,
		QuickReply: m.QuickReply,
	}
}

// AudioMessage plays a hosted m4a/mp3 clip. Duration is in milliseconds.
type AudioMessage struct {
	OriginalContentURL string
	Duration           int
}

func (m AudioMessage) validate() error {
	if !strings.HasPrefix(m.OriginalContentURL, "https://") {
		return errors.New("line: audio content url must be https")
	}
	if m.Duration <= 0 {
		return errors.New("line: audio duration must be positive")
	}
	return nil
}

func (m AudioMessage) sdkMessage() messaging_api.MessageInterface {
	return messaging_api.AudioMessage{
		OriginalContentUrl: m.OriginalContentURL,
		Duration:           int64(m.Duration),
	}
}

const maxQuickReplyItems = 13

// NewMessageQuickReply builds quick-reply buttons that echo each option.
func NewMessageQuickReply(options ...string) *messaging_api.QuickReply {
	items := make([]messaging_api.QuickReplyItem, 0, len(options))
	for _, opt := range options {
		items = append(items, messaging_api.QuickReplyItem{
			Type: "action",
			Action: &messaging_api.MessageAction{
				Label: opt,
				Text:  opt,
			},
		})
	}
	return &messaging_api.QuickReply{Items: items}
}

// ReplyMessageRequest is the body of POST /v2/bot/message/reply.
type ReplyMessageRequest struct {
	ReplyToken           string
	Messages             []Message
	NotificationDisabled bool
}

func (r ReplyMessageRequest) validate() error {
	if strings.TrimSpace(r.ReplyToken) == "" {
		return errors.New("line: reply token required")
	}
	if len(r.Messages) == 0 || len(r.Messages) > 5 {
		return errors.New("line: reply requires between 1 and 5 messages")
	}
	for _, m := range r.Messages {
		if m == nil {
			return errors.New("line: nil message")
		}
		if err := m.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (r ReplyMessageRequest) sdkRequest() *messaging_api.ReplyMessageRequest {
	messages := make([]messaging_api.MessageInterface, 0, len(r.Messages))
	for _, m := range r.Messages {
		messages = append(messages, m.sdkMessage())
	}
	return &messaging_api.ReplyMessageRequest{
		ReplyToken:           r.ReplyToken,
		Messages:             messages,
		NotificationDisabled: r.NotificationDisabled,
	}
}

// SentMessage identifies a delivered message.
type SentMessage struct {
	ID         string `json:"id"`
	QuoteToken string `json:"quoteToken,omitempty"`
}

// ReplyMessageResponse is returned by a successful reply call.
type ReplyMessageResponse struct {
	RequestID    string        `json:"-"`
	SentMessages []SentMessage `json:"sentMessages"`
}
