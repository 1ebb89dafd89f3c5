package strategy_test

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obiwan-smirnobi/clusterclient.core/budget"
	"github.com/obiwan-smirnobi/clusterclient.core/ordering"
	"github.com/obiwan-smirnobi/clusterclient.core/params"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/sender"
	"github.com/obiwan-smirnobi/clusterclient.core/storage"
	"github.com/obiwan-smirnobi/clusterclient.core/strategy"
	"github.com/obiwan-smirnobi/clusterclient.core/weight"
)

func replicas(t *testing.T, raws ...string) []replica.Replica {
	t.Helper()
	out := make([]replica.Replica, 0, len(raws))
	for _, raw := range raws {
		r, err := replica.NewReplica(raw)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func newIterator(t *testing.T, rs []replica.Replica) *ordering.Iterator {
	t.Helper()
	orderer := ordering.New(weight.NewChain(nil), 10)
	access := weight.StorageAccess{Process: storage.NewRegistry(), Request: storage.NewRegistry()}
	return orderer.Order(rs, access, replica.Request{}, params.New(), rand.New(rand.NewSource(1)))
}

func newAccess() sender.StorageAccess {
	return weight.StorageAccess{Process: storage.NewRegistry(), Request: storage.NewRegistry()}
}

type sliceAccumulator struct {
	mu      sync.Mutex
	results []replica.ReplicaResult
}

func (a *sliceAccumulator) Append(r replica.ReplicaResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
}

func (a *sliceAccumulator) snapshot() []replica.ReplicaResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]replica.ReplicaResult, len(a.results))
	copy(out, a.results)
	return out
}

// scriptedAttempter accepts on the acceptOnCall'th invocation (1-indexed,
// 0 meaning never) regardless of which replica it lands on, so tests stay
// deterministic without depending on the ordering iterator's draw order.
type scriptedAttempter struct {
	acceptOnCall int32
	delay        time.Duration
	calls        int32
}

func (s *scriptedAttempter) Send(ctx context.Context, r replica.Replica, _ replica.Request, _, _ time.Duration, acc sender.Accumulator, _ sender.StorageAccess) replica.ReplicaResult {
	call := atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}
	verdict := replica.Reject
	if s.acceptOnCall != 0 && call == s.acceptOnCall {
		verdict = replica.Accept
	}
	result := replica.ReplicaResult{Replica: r, Verdict: verdict}
	acc.Append(result)
	return result
}

func TestSequential_StopsOnAccept(t *testing.T) {
	t.Parallel()

	rs := replicas(t, "http://a", "http://b", "http://c")
	it := newIterator(t, rs)
	b := budget.New(time.Minute)
	attempter := &scriptedAttempter{acceptOnCall: 2}
	acc := &sliceAccumulator{}

	s := strategy.Sequential{Timeouts: strategy.EqualTimeoutsProvider{Division: 3}}
	err := s.Run(context.Background(), attempter, b, replica.Request{}, it, 3, acc, newAccess())

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempter.calls))
	results := acc.snapshot()
	require.Len(t, results, 2)
	assert.Equal(t, replica.Accept, results[1].Verdict)
}

func TestSequential_StopsWhenBudgetAlreadyExpired(t *testing.T) {
	t.Parallel()

	rs := replicas(t, "http://a", "http://b")
	it := newIterator(t, rs)
	b := budget.New(0)
	attempter := &scriptedAttempter{}
	acc := &sliceAccumulator{}

	s := strategy.Sequential{}
	err := s.Run(context.Background(), attempter, b, replica.Request{}, it, 2, acc, newAccess())

	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&attempter.calls))
}

func TestParallelN_CancelsSiblingsOnAccept(t *testing.T) {
	t.Parallel()

	rs := replicas(t, "http://a", "http://b")
	it := newIterator(t, rs)
	b := budget.New(time.Minute)
	attempter := &scriptedAttempter{acceptOnCall: 1, delay: 10 * time.Millisecond}
	acc := &sliceAccumulator{}

	s := strategy.ParallelN{N: 2}
	err := s.Run(context.Background(), attempter, b, replica.Request{}, it, 2, acc, newAccess())

	require.NoError(t, err)
	results := acc.snapshot()
	assert.Len(t, results, 2)
	var acceptCount int
	for _, r := range results {
		if r.Verdict == replica.Accept {
			acceptCount++
		}
	}
	assert.Equal(t, 1, acceptCount)
}

func TestForking_StartsSecondAttemptAfterDelay(t *testing.T) {
	t.Parallel()

	rs := replicas(t, "http://a", "http://b")
	it := newIterator(t, rs)
	b := budget.New(time.Minute)
	attempter := &scriptedAttempter{acceptOnCall: 2, delay: 200 * time.Millisecond}
	acc := &sliceAccumulator{}

	s := strategy.Forking{Delays: []time.Duration{20 * time.Millisecond}}
	err := s.Run(context.Background(), attempter, b, replica.Request{}, it, 2, acc, newAccess())

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempter.calls))
}

func TestForking_NoHedgeWhenFirstAttemptFinishesBeforeDelay(t *testing.T) {
	t.Parallel()

	rs := replicas(t, "http://a", "http://b")
	it := newIterator(t, rs)
	b := budget.New(time.Minute)
	attempter := &scriptedAttempter{acceptOnCall: 1}
	acc := &sliceAccumulator{}

	s := strategy.Forking{Delays: []time.Duration{50 * time.Millisecond}}
	err := s.Run(context.Background(), attempter, b, replica.Request{}, it, 2, acc, newAccess())

	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempter.calls))
}
