package line

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// ErrMalformedPayload is returned when a verified webhook body cannot be decoded.
var ErrMalformedPayload = errors.New("line: malformed payload")

// EventKind classifies decoded webhook events.
type EventKind int

const (
	EventKindOther EventKind = iota
	EventKindMessage
)

func (k EventKind) String() string {
	if k == EventKindMessage {
		return "message"
	}
	return "other"
}

// InboundEvent is a user text message ready for dispatch.
type InboundEvent struct {
	EventID     string
	ReplyToken  string
	QuoteToken  string
	MessageText string
	Kind        EventKind
}

// eventTypes is decoded before the SDK request so that events without a
// type are rejected instead of surfacing as unknown events.
type eventTypes struct {
	Events []struct {
		Type string `json:"type"`
	} `json:"events"`
}

// DecodeEvents parses a verified webhook body. The envelope is validated
// eagerly; the returned sequence lazily yields the text message events that
// can be replied to and skips everything else.
func DecodeEvents(body []byte) (iter.Seq[InboundEvent], error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}
	var types eventTypes
	if err := json.Unmarshal(trimmed, &types); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	for i, evt := range types.Events {
		if strings.TrimSpace(evt.Type) == "" {
			return nil, fmt.Errorf("%w: event %d has no type", ErrMalformedPayload, i)
		}
	}

	var cb webhook.CallbackRequest
	if err := json.Unmarshal(trimmed, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	for i, evt := range cb.Events {
		msg, ok := asMessageEvent(evt)
		if !ok {
			continue
		}
		if msg.Message == nil {
			return nil, fmt.Errorf("%w: message event %d has no message", ErrMalformedPayload, i)
		}
		if strings.TrimSpace(msg.WebhookEventId) == "" {
			return nil, fmt.Errorf("%w: message event %d has no webhookEventId", ErrMalformedPayload, i)
		}
	}

	return func(yield func(InboundEvent) bool) {
		for _, evt := range cb.Events {
			inbound := toInbound(evt)
			if inbound.Kind != EventKindMessage {
				continue
			}
			if !yield(inbound) {
				return
			}
		}
	}, nil
}

func asMessageEvent(evt webhook.EventInterface) (webhook.MessageEvent, bool) {
	switch e := evt.(type) {
	case webhook.MessageEvent:
		return e, true
	case *webhook.MessageEvent:
		if e != nil {
			return *e, true
		}
	}
	return webhook.MessageEvent{}, false
}

func asTextContent(content webhook.MessageContentInterface) (webhook.TextMessageContent, bool) {
	switch c := content.(type) {
	case webhook.TextMessageContent:
		return c, true
	case *webhook.TextMessageContent:
		if c != nil {
			return *c, true
		}
	}
	return webhook.TextMessageContent{}, false
}

func toInbound(evt webhook.EventInterface) InboundEvent {
	msg, ok := asMessageEvent(evt)
	if !ok {
		return InboundEvent{Kind: EventKindOther}
	}
	inbound := InboundEvent{
		EventID:    msg.WebhookEventId,
		ReplyToken: msg.ReplyToken,
		Kind:       EventKindOther,
	}
	text, ok := asTextContent(msg.Message)
	if !ok {
		return inbound
	}
	// standby events and redeliveries without a token cannot be answered
	if string(msg.Mode) == "standby" || strings.TrimSpace(msg.ReplyToken) == "" {
		return inbound
	}
	inbound.Kind = EventKindMessage
	inbound.MessageText = text.Text
	inbound.QuoteToken = text.QuoteToken
	return inbound
}
