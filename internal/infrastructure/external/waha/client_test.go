package waha

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/pkg/circuitbreaker"
	"github.com/fibreflow/ticket-notify/pkg/retry"
)

const testAPIKey = "secret-key-123"

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{BaseURL: srv.URL + "/", APIKey: testAPIKey, Session: "default", RetryAttempts: 2}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c, srv
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{BaseURL: " http://waha:3000/ ", APIKey: "k", Session: "s"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://waha:3000", cfg.BaseURL)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultRetryAttempts, cfg.RetryAttempts)

	for _, bad := range []Config{
		{APIKey: "k", Session: "s"},
		{BaseURL: "http://x", Session: "s"},
		{BaseURL: "http://x", APIKey: "  ", Session: "s"},
		{BaseURL: "http://x", APIKey: "k"},
	} {
		_, err := NewClient(bad)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
}

func TestSendText_BuildsRequest(t *testing.T) {
	var got SendTextRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/sendText", r.URL.Path)
		assert.Equal(t, "default", r.URL.Query().Get("session"))
		assert.Equal(t, testAPIKey, r.Header.Get("X-Api-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"id":"true_27821234567@c.us_ABC","timestamp":1735300000}`))
	})

	res, err := c.SendText(context.Background(), "", "+27821234567", "hello")
	require.NoError(t, err)

	assert.Equal(t, "27821234567@c.us", got.ChatID)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "true_27821234567@c.us_ABC", res.MessageID)
	assert.Equal(t, time.Unix(1735300000, 0).UTC(), res.Timestamp)
}

func TestSendText_ParsesObjectID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":{"fromMe":true,"_serialized":"true_1@c.us_XYZ"}}`))
	})

	res, err := c.SendText(context.Background(), "", "27 82 123 4567", "hi")
	require.NoError(t, err)
	assert.Equal(t, "true_1@c.us_XYZ", res.MessageID)
	assert.False(t, res.Timestamp.IsZero())
}

func TestSendText_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status      int
		body        string
		code        ErrorCode
		recoverable bool
		message     string
	}{
		{http.StatusBadRequest, `{"message":"bad chatId"}`, CodeValidation, false, "bad chatId"},
		{http.StatusUnauthorized, `{"error":"invalid key"}`, CodeAuthentication, false, "invalid key"},
		{http.StatusForbidden, ``, CodeAuthentication, false, "HTTP 403 error"},
		{http.StatusNotFound, ``, CodeMessageFailed, false, "HTTP 404 error"},
		{http.StatusTooManyRequests, ``, CodeMessageFailed, false, "HTTP 429 error"},
		{http.StatusUnprocessableEntity,
			`{"error":"Session status is not as expected. Try again later or restart the session","session":"default","status":"STARTING","expected":["WORKING"]}`,
			CodeSessionNotReady, true, "Session status is not as expected. Try again later or restart the session"},
		{http.StatusInternalServerError, ``, CodeServer, true, "HTTP 500 error"},
		{http.StatusNotImplemented, ``, CodeServer, true, "HTTP 501 error"},
		{http.StatusBadGateway, ``, CodeServer, true, "HTTP 502 error"},
		{http.StatusServiceUnavailable, `{"error":{"message":"session STARTING"}}`, CodeSessionNotReady, true, "session STARTING"},
		{http.StatusGatewayTimeout, ``, CodeServer, true, "HTTP 504 error"},
		{http.StatusHTTPVersionNotSupported, ``, CodeServer, true, "HTTP 505 error"},
		{http.StatusInsufficientStorage, ``, CodeServer, true, "HTTP 507 error"},
		{520, ``, CodeServer, true, "HTTP 520 error"},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.SendText(context.Background(), "", "+27821234567", "x")
			require.Error(t, err)

			var we *Error
			require.True(t, errors.As(err, &we))
			assert.Equal(t, tt.code, we.Code)
			assert.Equal(t, tt.recoverable, we.Recoverable)
			assert.Equal(t, tt.message, we.Message)
			assert.Equal(t, tt.status, we.StatusCode)
			assert.Equal(t, "+27821234567", we.Phone)
			assert.True(t, strings.HasPrefix(we.URL, srv.URL+"/api/sendText"))
			assert.NotContains(t, err.Error(), testAPIKey)
			assert.NotContains(t, we.URL, testAPIKey)
		})
	}
}

func TestSendText_TimeoutIsRecoverable(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(cfg *Config) { cfg.Timeout = 20 * time.Millisecond })
	defer close(release)

	_, err := c.SendText(context.Background(), "", "+27821234567", "x")
	require.Error(t, err)
	assert.Equal(t, CodeTimeout, CodeOf(err))
	assert.True(t, IsRecoverable(err))
	assert.ErrorIs(t, err, shared.ErrTimeout)
}

func TestSendText_NetworkErrorIsRecoverable(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := c.SendText(context.Background(), "", "+27821234567", "x")
	require.Error(t, err)
	assert.Equal(t, CodeNetwork, CodeOf(err))
	assert.True(t, IsRecoverable(err))
}

func TestSendText_InvalidPhone(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	_, err := c.SendText(context.Background(), "", "n/a", "x")
	assert.Equal(t, CodeInvalidPhone, CodeOf(err))
	assert.False(t, IsRecoverable(err))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestSender_RetriesRecoverableUpToLimit(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}, func(cfg *Config) { cfg.RetryAttempts = 3 })

	_, err := NewSender(c, WithBackoff(retry.NoBackoff)).Send(context.Background(), "+27821234567", "x")

	require.Error(t, err)
	assert.Equal(t, CodeServer, CodeOf(err))
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestSender_RetryDependsOnStatusClass(t *testing.T) {
	tests := []struct {
		status int
		calls  int32
	}{
		{http.StatusTooManyRequests, 1},
		{http.StatusNotFound, 1},
		{http.StatusNotImplemented, 3},
		{http.StatusHTTPVersionNotSupported, 3},
		{http.StatusInsufficientStorage, 3},
		{520, 3},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			var calls int32
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
			}, func(cfg *Config) { cfg.RetryAttempts = 2 })

			_, err := NewSender(c, WithBackoff(retry.NoBackoff)).Send(context.Background(), "+27821234567", "x")

			require.Error(t, err)
			assert.Equal(t, tt.calls, atomic.LoadInt32(&calls))
		})
	}
}

func TestSender_DoesNotRetryNonRecoverable(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}, func(cfg *Config) { cfg.RetryAttempts = 3 })

	_, err := NewSender(c, WithBackoff(retry.NoBackoff)).Send(context.Background(), "+27821234567", "x")

	require.Error(t, err)
	assert.Equal(t, CodeAuthentication, CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSender_RecoversAfterTransientFailure(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"msg-2"}`))
	})

	receipt, err := NewSender(c, WithBackoff(retry.NoBackoff)).Send(context.Background(), "+27821234567", "x")

	require.NoError(t, err)
	assert.Equal(t, "msg-2", receipt.MessageID)
	assert.Equal(t, 2, receipt.Attempts)
}

func TestSender_OpenBreakerFailsFast(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, func(cfg *Config) { cfg.RetryAttempts = 1 })

	cb := circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(2), circuitbreaker.WithTimeout(time.Hour),
		circuitbreaker.WithIsFailure(IsRecoverable))
	s := NewSender(c, WithBackoff(retry.NoBackoff), WithBreaker(cb))

	_, err := s.Send(context.Background(), "+27821234567", "x")
	require.Error(t, err)
	require.True(t, cb.IsOpen())

	_, err = s.Send(context.Background(), "+27821234567", "x")
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.True(t, IsRecoverable(err))

	var we *Error
	require.True(t, errors.As(err, &we))
	assert.Equal(t, "+27821234567", we.Phone)
	assert.True(t, strings.HasSuffix(we.URL, "/api/sendText?session=default"))
}

func TestHealthCheck(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/server/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	assert.True(t, c.HealthCheck(context.Background()))

	down, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	assert.False(t, down.HealthCheck(context.Background()))

	gone, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()
	assert.False(t, gone.HealthCheck(context.Background()))
}

func TestIsSessionReady(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions", r.URL.Path)
		_, _ = w.Write([]byte(`[{"name":"default","status":"working"},{"name":"other","status":"STOPPED"}]`))
	})

	assert.True(t, c.IsSessionReady(context.Background(), ""))
	assert.False(t, c.IsSessionReady(context.Background(), "other"))
	assert.False(t, c.IsSessionReady(context.Background(), "missing"))
}

func TestParseTimestamp(t *testing.T) {
	ts, ok := ParseTimestamp(json.RawMessage(`1735300000`))
	require.True(t, ok)
	assert.Equal(t, int64(1735300000), ts.Unix())

	ts, ok = ParseTimestamp(json.RawMessage(`1735300000123`))
	require.True(t, ok)
	assert.Equal(t, int64(1735300000123), ts.UnixMilli())

	ts, ok = ParseTimestamp(json.RawMessage(`"2025-12-27T13:00:00Z"`))
	require.True(t, ok)
	assert.Equal(t, 2025, ts.Year())

	_, ok = ParseTimestamp(json.RawMessage(`null`))
	assert.False(t, ok)
}
