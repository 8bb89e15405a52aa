package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DELIVERY WEBHOOK
// ══════════════════════════════════════════════════════════════════════════════

// SignatureHeader carries the HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Webhook-Signature"

// WebhookPayload is the body of a gateway delivery callback.
type WebhookPayload struct {
	Event     string    `json:"event"`
	MessageID string    `json:"message_id"`
	Timestamp Timestamp `json:"timestamp"`
	Phone     string    `json:"phone"`
	Error     string    `json:"error,omitempty"`
}

// Timestamp accepts unix seconds, unix milliseconds or RFC3339, as a JSON
// number or string. A missing or null value is the zero time.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	v, err := timeutil.ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = v
	return nil
}

// ParseWebhook decodes a webhook body into a delivery event.
func ParseWebhook(body []byte) (notification.WebhookEvent, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return notification.WebhookEvent{}, shared.WrapError("webhook", "Parse", shared.ErrInvalidFormat,
			"malformed webhook payload", err)
	}
	return notification.WebhookEvent{
		Type:      notification.WebhookEventType(p.Event),
		MessageID: strings.TrimSpace(p.MessageID),
		Timestamp: p.Timestamp.Time,
		Phone:     p.Phone,
		Error:     p.Error,
	}, nil
}

// SignatureVerifier checks webhook signatures. A verifier without a secret
// accepts everything.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier creates a verifier for the shared secret.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (v *SignatureVerifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify checks a hex signature, with or without a "sha256=" prefix.
func (v *SignatureVerifier) Verify(body []byte, signature string) bool {
	if !v.Enabled() {
		return true
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, v.sum(body))
}

func (v *SignatureVerifier) sum(body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign returns the header value a sender would attach to body.
func Sign(secret string, body []byte) string {
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(NewSignatureVerifier(secret).sum(body)))
}
