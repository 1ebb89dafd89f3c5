// Package budget implements the monotonic time-budget arithmetic shared by
// every logical request: a single total duration, counted down from the
// moment the request entered the pipeline, that every stage and strategy
// consults before doing more work.
package budget

import (
	"time"

	"github.com/obiwan-smirnobi/clusterclient.core/internal"
)

// Budget tracks the wall-clock duration allotted to one logical request.
// It is immutable once created; elapsed/remaining are always derived from
// the clock, never cached.
type Budget struct {
	clock internal.Clock
	total time.Duration
	start time.Time
}

// New creates a Budget with the given total duration, using the real
// system clock.
func New(total time.Duration) *Budget {
	return NewWithClock(total, internal.NewRealClock())
}

// NewWithClock creates a Budget using the given clock. Tests inject a fake
// clock here to make expiry deterministic.
func NewWithClock(total time.Duration, clock internal.Clock) *Budget {
	return &Budget{
		clock: clock,
		total: total,
		start: clock.Now(),
	}
}

// Total returns the original total duration, unaffected by elapsed time.
func (b *Budget) Total() time.Duration {
	return b.total
}

// Elapsed returns how much time has passed since the budget was created.
// Never negative.
func (b *Budget) Elapsed() time.Duration {
	elapsed := b.clock.Since(b.start)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Remaining returns the time left in the budget, clamped to zero.
func (b *Budget) Remaining() time.Duration {
	remaining := b.total - b.Elapsed()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HasExpired reports whether the budget has been fully consumed.
func (b *Budget) HasExpired() bool {
	return b.Remaining() <= 0
}

// WithTotal returns a new Budget sharing this one's clock and start
// time but with a different total duration, used by the TimeoutValidation
// pipeline module to trim an overlarge caller-supplied timeout (spec.md
// §4.9) without losing elapsed time already charged against the original.
func (b *Budget) WithTotal(total time.Duration) *Budget {
	return &Budget{clock: b.clock, total: total, start: b.start}
}

// Deadline returns the absolute time at which the budget expires, useful
// for constructing a context.WithDeadline using the same clock semantics
// as the budget (note: context always uses the real clock, so this is
// only meaningful when clock is the real clock).
func (b *Budget) Deadline() time.Time {
	return b.start.Add(b.total)
}
