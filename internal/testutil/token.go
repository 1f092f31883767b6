package testutil

import (
	"fmt"
	"sync"
)

// TokenSequence hands out run tokens in a fixed, predictable order:
// prefix-000001, prefix-000002, and so on. Substituting it for the
// controller's UUID source keeps golden traces and store fixtures
// byte-identical across runs.
//
// Safe for concurrent use.
type TokenSequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewTokenSequence creates a sequence with the given prefix. An empty
// prefix defaults to "test-run".
func NewTokenSequence(prefix string) *TokenSequence {
	if prefix == "" {
		prefix = "test-run"
	}
	return &TokenSequence{prefix: prefix}
}

// Next returns the next token in the sequence.
func (s *TokenSequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%06d", s.prefix, s.n)
}
