// Package retry holds the init/retry contract shared by the peripheral sources.
// A source asks its Gate before every attempt to bring a peripheral up; the
// gate decides whether another attempt is allowed.
package retry

import (
	"errors"
	"fmt"
)

// ErrExhausted is returned by Gate.Try once no attempts remain.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy bounds the number of init attempts a source may make.
type Policy struct {
	// MaxAttempts caps the number of attempts. The default value of 0
	// means unlimited: the source retries on every call.
	MaxAttempts int
}

var (
	// EveryCall retries on every poll. Used for the shared GPS serial line.
	EveryCall = Policy{}

	// OneReinit allows the first attempt plus a single re-init. Used for the
	// environmental sensor, which stays absent once this is spent.
	OneReinit = Policy{MaxAttempts: 2}
)

func (p Policy) String() string {
	if p.MaxAttempts == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("max %d", p.MaxAttempts)
}

// Gate counts attempts against a Policy.
type Gate struct {
	policy   Policy
	attempts int
	lastErr  error
}

// NewGate returns a gate for p.
func NewGate(p Policy) *Gate {
	return &Gate{policy: p}
}

// Allow reports whether another attempt is permitted.
func (g *Gate) Allow() bool {
	return g.policy.MaxAttempts == 0 || g.attempts < g.policy.MaxAttempts
}

// Exhausted is the inverse of Allow.
func (g *Gate) Exhausted() bool { return !g.Allow() }

// Attempts returns how many attempts have been made.
func (g *Gate) Attempts() int { return g.attempts }

// Try runs fn if the policy allows it. The returned error is fn's error, or
// ErrExhausted wrapping the last failure when no attempts remain.
func (g *Gate) Try(fn func() error) error {
	if !g.Allow() {
		if g.lastErr != nil {
			return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, g.attempts, g.lastErr)
		}
		return ErrExhausted
	}
	g.attempts++
	err := fn()
	g.lastErr = err
	return err
}
