// Package channels provides the outbound delivery abstraction for
// messaging platforms. Platform packages (whatsapp) implement Sender.
package channels

import (
	"context"
	"errors"
)

// TruncationMarker is appended to text cut by Truncate.
const TruncationMarker = "..."

// ErrNotConnected is returned by senders whose transport is down.
var ErrNotConnected = errors.New("channel not connected")

// Sender delivers a text message to a recipient on one platform.
type Sender interface {
	Send(ctx context.Context, recipient, text string) error
}

// SenderFunc adapts a plain function to Sender.
type SenderFunc func(ctx context.Context, recipient, text string) error

func (f SenderFunc) Send(ctx context.Context, recipient, text string) error {
	return f(ctx, recipient, text)
}

// Truncate shortens s to maxRunes characters, appending "..." if truncated.
// Counting runes keeps multi-byte characters (emoji) intact.
func Truncate(s string, maxRunes int) string {
	if maxRunes < 0 {
		maxRunes = 0
	}
	if len(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i] + TruncationMarker
		}
		n++
	}
	return s
}

// TruncateAbove leaves s untouched when it has at most limit characters;
// otherwise it keeps the first keep characters and appends "...".
func TruncateAbove(s string, limit, keep int) string {
	if RuneLen(s) <= limit {
		return s
	}
	return Truncate(s, keep)
}

// RuneLen counts characters rather than bytes.
func RuneLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
