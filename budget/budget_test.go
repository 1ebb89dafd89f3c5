package budget_test

import (
	"testing"
	"time"

	"github.com/obiwan-smirnobi/clusterclient.core/budget"
	"github.com/obiwan-smirnobi/clusterclient.core/internal/clocktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget_RemainingClampsToZero(t *testing.T) {
	t.Parallel()

	clock := clocktest.NewFakeClock()
	b := budget.NewWithClock(5*time.Second, clock)
	require.Equal(t, 5*time.Second, b.Remaining())

	clock.Advance(3 * time.Second)
	assert.Equal(t, 2*time.Second, b.Remaining())
	assert.False(t, b.HasExpired())

	clock.Advance(10 * time.Second)
	assert.Equal(t, time.Duration(0), b.Remaining())
	assert.True(t, b.HasExpired())
}

func TestBudget_ElapsedNeverNegative(t *testing.T) {
	t.Parallel()

	clock := clocktest.NewFakeClock()
	b := budget.NewWithClock(time.Second, clock)
	assert.Equal(t, time.Duration(0), b.Elapsed())
}

func TestBudget_IsNonIncreasing(t *testing.T) {
	t.Parallel()

	clock := clocktest.NewFakeClock()
	b := budget.NewWithClock(10*time.Second, clock)
	prev := b.Remaining()
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		cur := b.Remaining()
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}
