package waha

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// SendTextRequest is the body of POST /api/sendText.
type SendTextRequest struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

// SendTextResponse is the gateway's answer to a send.
//
// Depending on the engine, id is either a plain string or an object with a
// "_serialized" field, and timestamp is either unix seconds or RFC3339.
type SendTextResponse struct {
	ID        json.RawMessage `json:"id"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// MessageID extracts the gateway message id.
func (r SendTextResponse) MessageID() string {
	if len(r.ID) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s
	}

	var obj struct {
		Serialized string `json:"_serialized"`
		ID         string `json:"id"`
	}
	if err := json.Unmarshal(r.ID, &obj); err == nil {
		if obj.Serialized != "" {
			return obj.Serialized
		}
		return obj.ID
	}
	return ""
}

// SentAt extracts the gateway timestamp, falling back to fallback.
func (r SendTextResponse) SentAt(fallback time.Time) time.Time {
	if t, ok := parseTimestamp(r.Timestamp); ok {
		return t
	}
	return fallback
}

// SessionDTO is one entry of GET /api/sessions.
type SessionDTO struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ServerStatusDTO is GET /api/server/status. Only liveness is used.
type ServerStatusDTO struct {
	Status string `json:"status"`
}

// errorDTO covers the error bodies the gateway returns.
type errorDTO struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// parseErrorMessage returns the error text from a gateway error body.
func parseErrorMessage(body []byte) string {
	var dto errorDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return ""
	}
	if len(dto.Error) > 0 {
		var s string
		if err := json.Unmarshal(dto.Error, &s); err == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(dto.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return dto.Message
}

// parseTimestamp accepts unix seconds, unix milliseconds, or RFC3339.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return unixTime(n.String())
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return unixTime(s)
}

// unixTime parses a decimal unix timestamp. Values above 1e12 are milliseconds.
func unixTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return time.Time{}, false
	}
	if v > 1e12 {
		return time.UnixMilli(v).UTC(), true
	}
	return time.Unix(v, 0).UTC(), true
}

// ParseTimestamp is exported for webhook payloads, which use the same formats.
func ParseTimestamp(raw json.RawMessage) (time.Time, bool) {
	return parseTimestamp(raw)
}
