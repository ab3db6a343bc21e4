package engine

import (
	"sync"

	"github.com/google/uuid"
)

// TokenSource produces run tokens: opaque strings that label one
// invocation in logs, traces, and the run store. Tokens never influence
// evaluation; two runs that differ only in token are otherwise
// bit-identical.
//
// Implemented by UUIDv7Source (production) and FixedSource (tests).
type TokenSource interface {
	Next() string
}

// UUIDv7Source generates time-sortable UUIDv7 run tokens.
//
// UUIDv7 embeds a timestamp in the most significant bits, making tokens
// sortable by creation time. This keeps run listings chronological
// without storing a separate timestamp.
//
// Uses github.com/google/uuid package for RFC 4122 compliant UUIDs.
//
// Thread-safety: UUIDv7Source is stateless and safe for concurrent use.
type UUIDv7Source struct{}

// Next creates a new UUIDv7 and returns it as a hyphenated string.
//
// Format: "550e8400-e29b-41d4-a716-446655440000" (36 characters)
//
// Panics if UUID generation fails (should never happen in practice).
func (s UUIDv7Source) Next() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedSource returns predetermined run tokens for testing.
//
// This enables deterministic test execution and golden trace comparison.
// Tests provide a known sequence of tokens and verify exact output.
//
// Thread-safety: FixedSource is safe for concurrent use via internal mutex.
type FixedSource struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedSource creates a source that returns tokens in order.
//
// Example:
//
//	src := NewFixedSource("run-1", "run-2", "run-3")
//	src.Next() // "run-1"
//	src.Next() // "run-2"
//	src.Next() // "run-3"
//	src.Next() // panic: all tokens exhausted
func NewFixedSource(tokens ...string) *FixedSource {
	return &FixedSource{
		tokens: tokens,
		idx:    0,
	}
}

// Next returns the next predetermined token.
// Thread-safe: uses mutex to protect index access.
//
// Panics if all tokens have been consumed. This is a fail-fast approach
// to catch test misconfiguration (test ran more invocations than expected).
func (s *FixedSource) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx >= len(s.tokens) {
		panic("FixedSource: all tokens exhausted")
	}
	token := s.tokens[s.idx]
	s.idx++
	return token
}
