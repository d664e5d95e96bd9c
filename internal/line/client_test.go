package line

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := New(Config{
		BaseURL:     server.URL,
		AccessToken: "token",
		HTTPClient:  server.Client(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestReplyMessageAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/bot/message/reply" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Fatalf("unexpected auth header %q", got)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		var decoded struct {
			ReplyToken string           `json:"replyToken"`
			Messages   []map[string]any `json:"messages"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if decoded.ReplyToken != "reply-1" {
			t.Fatalf("unexpected reply token %q", decoded.ReplyToken)
		}
		if len(decoded.Messages) != 1 || decoded.Messages[0]["type"] != "audio" {
			t.Fatalf("unexpected messages %v", decoded.Messages)
		}
		if decoded.Messages[0]["duration"] != float64(1000) {
			t.Fatalf("unexpected duration %v", decoded.Messages[0]["duration"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(requestIDHeader, "req-123")
		_, _ = w.Write([]byte(`{"sentMessages":[{"id":"461230966842064897"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	resp, err := client.ReplyMessage(context.Background(), ReplyMessageRequest{
		ReplyToken: "reply-1",
		Messages:   []Message{AudioMessage{OriginalContentURL: "https://example.com/a.mp3", Duration: 1000}},
	})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if resp.RequestID != "req-123" {
		t.Fatalf("expected request id, got %q", resp.RequestID)
	}
	if len(resp.SentMessages) != 1 || resp.SentMessages[0].ID != "461230966842064897" {
		t.Fatalf("unexpected sent messages %#v", resp.SentMessages)
	}
}

func TestReplyMessageQuickReplyPayload(t *testing.T) {
	var captured string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured = string(body)
		_, _ = w.Write([]byte(`{"sentMessages":[{"id":"1","quoteToken":"q"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.ReplyMessage(context.Background(), ReplyMessageRequest{
		ReplyToken: "reply-2",
		Messages: []Message{TextMessage{
			Text:       "想讓 Pingu 怎麼叫 ?",
			QuoteToken: "quote-1",
			QuickReply: NewMessageQuickReply("叫", "驚訝", "生氣"),
		}},
	})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	for _, want := range []string{`"type":"text"`, `"quoteToken":"quote-1"`, `"quickReply"`, `"label":"驚訝"`, `"type":"message"`} {
		if !strings.Contains(captured, want) {
			t.Fatalf("expected %s in payload %s", want, captured)
		}
	}
}

func TestReplyMessageValidation(t *testing.T) {
	client, err := New(Config{AccessToken: "token"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	cases := []ReplyMessageRequest{
		{Messages: []Message{TextMessage{Text: "hi"}}},
		{ReplyToken: "r"},
		{ReplyToken: "r", Messages: []Message{TextMessage{}}},
		{ReplyToken: "r", Messages: []Message{AudioMessage{OriginalContentURL: "http://insecure", Duration: 1}}},
		{ReplyToken: "r", Messages: []Message{AudioMessage{OriginalContentURL: "https://ok", Duration: 0}}},
	}
	for i, req := range cases {
		if _, err := client.ReplyMessage(context.Background(), req); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestReplyMessageAPIErrorClassification(t *testing.T) {
	tests := []struct {
		status     int
		body       string
		badRequest bool
	}{
		{http.StatusBadRequest, `{"message":"Invalid reply token"}`, true},
		{http.StatusUnauthorized, `{"message":"Authentication failed"}`, true},
		{http.StatusTooManyRequests, `{"message":"The API rate limit has been exceeded"}`, false},
		{http.StatusInternalServerError, `oops`, false},
		{http.StatusBadGateway, ``, false},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(tt.body))
		}))
		client := newTestClient(t, server)
		_, err := client.ReplyMessage(context.Background(), ReplyMessageRequest{
			ReplyToken: "r",
			Messages:   []Message{TextMessage{Text: "hi"}},
		})
		server.Close()

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: expected APIError, got %v", tt.status, err)
		}
		if apiErr.StatusCode != tt.status {
			t.Fatalf("expected status %d, got %d", tt.status, apiErr.StatusCode)
		}
		if IsBadRequest(err) != tt.badRequest {
			t.Fatalf("status %d: expected bad request=%v", tt.status, tt.badRequest)
		}
	}
}

func TestReplyMessageTimeoutIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.ReplyMessage(ctx, ReplyMessageRequest{
		ReplyToken: "r",
		Messages:   []Message{TextMessage{Text: "hi"}},
	})
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !transportErr.Timeout() {
		t.Fatalf("expected timeout classification, got %v", err)
	}
	if IsBadRequest(err) {
		t.Fatal("transport errors must not be classified as bad requests")
	}
}

func TestNewClientDefaultsAndValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected access token validation error")
	}
	client, err := New(Config{AccessToken: "token"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.baseURL != defaultBaseURL {
		t.Fatalf("expected default base url, got %s", client.baseURL)
	}
	if client.httpClient.Timeout != 5*time.Second {
		t.Fatalf("expected default timeout, got %s", client.httpClient.Timeout)
	}
	if _, ok := client.httpClient.Transport.(*otelhttp.Transport); !ok {
		t.Fatalf("expected instrumented transport, got %T", client.httpClient.Transport)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestReplyMessageUndecodableSuccessIsDelivered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(requestIDHeader, "req-7")
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	resp, err := client.ReplyMessage(context.Background(), ReplyMessageRequest{
		ReplyToken: "r",
		Messages:   []Message{TextMessage{Text: "hi"}},
	})
	if err != nil {
		t.Fatalf("expected delivered reply, got %v", err)
	}
	if resp.RequestID != "req-7" {
		t.Fatalf("expected request id, got %q", resp.RequestID)
	}
	if len(resp.SentMessages) != 0 {
		t.Fatalf("expected empty receipt, got %#v", resp.SentMessages)
	}
}
