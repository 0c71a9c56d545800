package fallback

import (
	"math/rand/v2"
	"sync"
)

// Selector picks one of n variants for a session and reply set.
type Selector interface {
	Pick(sessionID, set string, n int) int
}

// NewSelector returns the selector for a config name: "rotate" or
// anything else for random.
func NewSelector(name string) Selector {
	if name == "rotate" {
		return newRotateSelector()
	}
	return randomSelector{}
}

type randomSelector struct{}

func (randomSelector) Pick(_, _ string, n int) int {
	if n <= 1 {
		return 0
	}
	return rand.IntN(n)
}

// maxRotateKeys bounds rotateSelector memory; the table resets when full.
const maxRotateKeys = 10000

// rotateSelector walks the variants round-robin per session and set.
type rotateSelector struct {
	mu   sync.Mutex
	next map[string]int
}

func newRotateSelector() *rotateSelector {
	return &rotateSelector{next: make(map[string]int)}
}

func (s *rotateSelector) Pick(sessionID, set string, n int) int {
	if n <= 1 {
		return 0
	}
	key := sessionID + "|" + set

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.next[key]; !ok && len(s.next) >= maxRotateKeys {
		clear(s.next)
	}
	i := s.next[key] % n
	s.next[key] = i + 1
	return i
}
