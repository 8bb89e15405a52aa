// Package waha implements the WAHA (WhatsApp HTTP API) gateway client.
// It builds send requests, enforces the request timeout and classifies every
// failure as recoverable or not. Retries live in Sender.
package waha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultTimeout is used when Config.Timeout is zero.
	DefaultTimeout = 30 * time.Second

	// DefaultRetryAttempts is used when Config.RetryAttempts is zero.
	DefaultRetryAttempts = 3

	apiKeyHeader = "X-Api-Key"
)

// ErrInvalidConfig is returned by NewClient for a missing base URL, API key or session.
var ErrInvalidConfig = errors.New("waha: invalid configuration")

// Config contains configuration for the WAHA client.
type Config struct {
	// BaseURL is the gateway root, e.g. http://waha:3000
	BaseURL string

	// APIKey is sent in the X-Api-Key header
	APIKey string

	// Session is the default WhatsApp session name
	Session string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first send
	RetryAttempts int

	// HTTPClient overrides the default client. Its Timeout is left as-is.
	HTTPClient *http.Client

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables request logging
	Debug bool
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.Session = strings.TrimSpace(c.Session)

	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "base URL")
	}
	if c.APIKey == "" {
		missing = append(missing, "API key")
	}
	if c.Session == "" {
		missing = append(missing, "session name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalidConfig, strings.Join(missing, ", "))
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// SendResult is a message accepted by the gateway.
type SendResult struct {
	MessageID string
	Timestamp time.Time
}

// Client is the WAHA gateway client. It holds no mutable state and is safe
// for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates the config and creates a client.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     config.Logger.With("component", "waha"),
	}, nil
}

// Session returns the default session name.
func (c *Client) Session() string {
	return c.config.Session
}

// RetryAttempts returns the configured number of retries.
func (c *Client) RetryAttempts() int {
	return c.config.RetryAttempts
}

// ══════════════════════════════════════════════════════════════════════════════
// SEND OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// SendText sends a text message. An empty session uses the default one.
// Every error is a *Error.
func (c *Client) SendText(ctx context.Context, session, phone, body string) (*SendResult, error) {
	if session == "" {
		session = c.config.Session
	}

	endpoint := c.sendTextURL(session)

	p := shared.PhoneNumber(phone)
	if !p.IsValid() {
		return nil, &Error{Code: CodeInvalidPhone, Message: "phone number has no digits", URL: endpoint, Phone: phone}
	}

	payload, err := json.Marshal(SendTextRequest{ChatID: p.ChatID(), Text: body})
	if err != nil {
		return nil, &Error{Code: CodeValidation, Message: "encode request", URL: endpoint, Phone: phone, Err: err}
	}

	respBody, status, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, transportError(err, endpoint, phone)
	}
	if status < 200 || status >= 300 {
		return nil, httpError(status, respBody, endpoint, phone)
	}

	var resp SendTextResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, &Error{
				Code:       CodeMessageFailed,
				Message:    "unreadable gateway response",
				StatusCode: status,
				URL:        endpoint,
				Phone:      phone,
				Err:        err,
			}
		}
	}

	result := &SendResult{
		MessageID: resp.MessageID(),
		Timestamp: resp.SentAt(time.Now().UTC()),
	}

	if c.config.Debug {
		c.logger.Debug("message sent",
			"chat_id", p.Masked(),
			"message_id", result.MessageID,
			"session", session,
		)
	}

	return result, nil
}

// sendTextURL returns the sendText endpoint for a session.
func (c *Client) sendTextURL(session string) string {
	if session == "" {
		session = c.config.Session
	}
	return c.config.BaseURL + "/api/sendText?" + url.Values{"session": {session}}.Encode()
}

// Attempt performs one send and classifies the result for retry.Run.
func (c *Client) Attempt(ctx context.Context, session, phone, body string) retry.Outcome[*SendResult] {
	res, err := c.SendText(ctx, session, phone, body)
	if err == nil {
		return retry.Success(res)
	}
	if IsRecoverable(err) {
		return retry.RetryableFailure[*SendResult](err)
	}
	return retry.TerminalFailure[*SendResult](err)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// HealthCheck reports whether the gateway server is up. It never returns an error.
func (c *Client) HealthCheck(ctx context.Context) bool {
	_, status, err := c.do(ctx, http.MethodGet, c.config.BaseURL+"/api/server/status", nil)
	if err != nil {
		c.logger.Debug("health check failed", "error", err)
		return false
	}
	return status >= 200 && status < 300
}

// IsSessionReady reports whether the session's status is WORKING.
// An empty session uses the default one.
func (c *Client) IsSessionReady(ctx context.Context, session string) bool {
	status, err := c.SessionStatus(ctx, session)
	if err != nil {
		c.logger.Debug("session status failed", "session", session, "error", err)
		return false
	}
	return strings.EqualFold(status, "WORKING")
}

// SessionStatus returns the status the gateway reports for a session.
func (c *Client) SessionStatus(ctx context.Context, session string) (string, error) {
	if session == "" {
		session = c.config.Session
	}
	endpoint := c.config.BaseURL + "/api/sessions"

	body, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", transportError(err, endpoint, "")
	}
	if status < 200 || status >= 300 {
		return "", httpError(status, body, endpoint, "")
	}

	var list []SessionDTO
	if err := json.Unmarshal(body, &list); err != nil {
		var single SessionDTO
		if err := json.Unmarshal(body, &single); err != nil {
			return "", fmt.Errorf("decode sessions: %w", err)
		}
		list = []SessionDTO{single}
	}

	for _, s := range list {
		if s.Name == session || (len(list) == 1 && s.Name == "") {
			return s.Status, nil
		}
	}
	return "", &Error{Code: CodeSessionNotReady, Message: fmt.Sprintf("session %q not found", session), URL: endpoint, Recoverable: true}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// do executes one request and returns the body and status code.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if c.config.Debug {
		c.logger.Debug("waha request",
			"method", method,
			"path", req.URL.Path,
			"status", resp.StatusCode,
			"duration", time.Since(start),
		)
	}

	return body, resp.StatusCode, nil
}
