package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultBaseURL  = "https://api.line.me"
	requestIDHeader = "X-Line-Request-Id"
)

// Config controls how the messaging API client behaves.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client wraps the SDK Messaging API endpoints used for replies. It does
// not retry; retries belong to the caller's retry policy.
type Client struct {
	api        *messaging_api.MessagingApiAPI
	baseURL    string
	httpClient *http.Client
	ownsHTTP   bool
	logger     *slog.Logger
}

// New creates a configured Client with sane defaults. Without an injected
// HTTP client, outbound calls go through an otelhttp transport.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("line: channel access token is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	ownsHTTP := false
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
		}
		ownsHTTP = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	api, err := messaging_api.NewMessagingApiAPI(
		cfg.AccessToken,
		messaging_api.WithHTTPClient(httpClient),
		messaging_api.WithEndpoint(baseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("line: build messaging api client: %w", err)
	}
	return &Client{
		api:        api,
		baseURL:    baseURL,
		httpClient: httpClient,
		ownsHTTP:   ownsHTTP,
		logger:     logger,
	}, nil
}

// ReplyMessage sends messages using a single-use reply token. A 2xx whose
// body cannot be decoded still counts as delivered.
func (c *Client) ReplyMessage(ctx context.Context, req ReplyMessageRequest) (*ReplyMessageResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	res, out, err := c.api.WithContext(ctx).ReplyMessageWithHttpInfo(req.sdkRequest())
	if res == nil {
		if err == nil {
			err = errors.New("no response")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &TransportError{Err: ctxErr}
		}
		return nil, &TransportError{Err: err}
	}
	defer res.Body.Close()

	requestID := res.Header.Get(requestIDHeader)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		data, readErr := io.ReadAll(res.Body)
		if readErr != nil {
			return nil, &TransportError{Err: fmt.Errorf("read response: %w", readErr)}
		}
		apiErr := decodeAPIError(res.StatusCode, requestID, data)
		c.logger.Warn("line api error",
			"path", "/v2/bot/message/reply",
			"status", res.StatusCode,
			"request_id", requestID,
			"error", apiErr,
		)
		return nil, apiErr
	}

	resp := &ReplyMessageResponse{RequestID: requestID}
	if err != nil || out == nil {
		c.logger.Warn("line reply delivered but response was not decodable",
			"status", res.StatusCode,
			"request_id", requestID,
			"error", err,
		)
		return resp, nil
	}
	for _, sent := range out.SentMessages {
		resp.SentMessages = append(resp.SentMessages, SentMessage{ID: sent.Id, QuoteToken: sent.QuoteToken})
	}
	return resp, nil
}

// Close releases idle connections held by a client-owned transport.
func (c *Client) Close() error {
	if c == nil || !c.ownsHTTP {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

// TransportError wraps failures that happened before a response was received.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("line: transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline or network timeout.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// APIError is a non-2xx response from the Messaging API.
type APIError struct {
	StatusCode int           `json:"-"`
	RequestID  string        `json:"-"`
	Message    string        `json:"message,omitempty"`
	Details    []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail points at the offending request property.
type ErrorDetail struct {
	Message  string `json:"message"`
	Property string `json:"property"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("line: %s (status=%d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("line: http status %d", e.StatusCode)
}

func decodeAPIError(status int, requestID string, body []byte) error {
	var parsed APIError
	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed = APIError{Message: strings.TrimSpace(string(body))}
	}
	parsed.StatusCode = status
	parsed.RequestID = requestID
	return &parsed
}

// IsBadRequest reports whether err is a client-side rejection that will
// fail the same way on every retry: consumed or expired reply tokens,
// invalid payloads, bad credentials.
func IsBadRequest(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}
