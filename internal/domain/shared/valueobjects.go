// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
	"unicode"
)

// ═══════════════════════════════════════════════════════════════════════════
// PhoneNumber Value Object
// ═══════════════════════════════════════════════════════════════════════════

// PhoneNumber is a recipient phone number as supplied by the ticketing data.
// It may carry a leading "+", spaces or dashes.
type PhoneNumber string

// Digits returns the number with every non-digit character removed.
func (p PhoneNumber) Digits() string {
	var b strings.Builder
	b.Grow(len(p))
	for _, r := range string(p) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValid reports whether the number contains at least one digit.
func (p PhoneNumber) IsValid() bool {
	return p.Digits() != ""
}

// ChatID returns the WhatsApp chat identifier for this number.
func (p PhoneNumber) ChatID() string {
	return p.Digits() + "@c.us"
}

// Masked hides everything except the last four digits. Used in logs.
func (p PhoneNumber) Masked() string {
	d := p.Digits()
	if len(d) <= 4 {
		return strings.Repeat("*", len(d))
	}
	return strings.Repeat("*", len(d)-4) + d[len(d)-4:]
}

// String returns the raw value.
func (p PhoneNumber) String() string {
	return string(p)
}

// NewPhoneNumber creates a PhoneNumber with validation.
func NewPhoneNumber(value string) (PhoneNumber, error) {
	p := PhoneNumber(strings.TrimFunc(value, unicode.IsSpace))
	if !p.IsValid() {
		return "", NewDomainError("shared", "NewPhoneNumber", ErrInvalidFormat, "phone number has no digits")
	}
	return p, nil
}
