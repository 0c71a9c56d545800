package whatsapp

import (
	"errors"
	"strings"
	"unicode"

	"github.com/nextlevelbuilder/chatqueue/internal/channels"
)

var (
	ErrEmptyMessage  = errors.New("empty message")
	ErrInvalidSender = errors.New("invalid sender identifier")
)

// Phone number length bounds after normalization, '+' included.
const (
	minPhoneLen = 8
	maxPhoneLen = 15
)

// CleanMessage collapses whitespace runs to single spaces, trims the ends
// and cuts text longer than maxChars to maxChars plus "...".
func CleanMessage(s string, maxChars int) (string, error) {
	cleaned := strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
	if cleaned == "" {
		return "", ErrEmptyMessage
	}
	if maxChars > 0 {
		cleaned = channels.Truncate(cleaned, maxChars)
	}
	return cleaned, nil
}

// NormalizePhone keeps digits and a leading '+', then checks the length.
// Normalizing a normalized number returns it unchanged.
func NormalizePhone(s string) (string, error) {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	if strings.HasPrefix(s, "+") {
		b.WriteByte('+')
	}
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if n := len(out); n < minPhoneLen || n > maxPhoneLen {
		return "", ErrInvalidSender
	}
	return out, nil
}
