// Package strategy implements the request dispatch strategies (spec.md
// §4.8): Sequential, Parallel-N, and Forking/hedging. Every strategy
// consumes an ordered replica stream and a budget, drives the C7 sender
// one attempt at a time (or several concurrently), and returns once the
// common termination rule fires: cancellation, budget expiry, stream
// exhaustion, or an Accept verdict.
package strategy

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/obiwan-smirnobi/clusterclient.core/budget"
	"github.com/obiwan-smirnobi/clusterclient.core/ordering"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/sender"
)

// Attempter is the narrow surface a strategy needs from sender.Sender,
// kept as an interface for test doubles.
type Attempter interface {
	Send(ctx context.Context, r replica.Replica, req replica.Request, timeout, connectTimeout time.Duration, acc sender.Accumulator, access sender.StorageAccess) replica.ReplicaResult
}

// TimeoutsProvider computes the per-attempt timeout for the next attempt
// in a Sequential strategy (spec.md §4.8).
type TimeoutsProvider interface {
	// Timeout returns the timeout for the next attempt, given the budget
	// remaining at this point and the number of replicas left in the
	// stream (including the one about to be attempted).
	Timeout(remaining time.Duration, replicasLeft int) time.Duration
}

// EqualTimeoutsProvider divides the remaining budget evenly across up to
// D of the remaining replicas (spec.md §4.8): per-attempt timeout =
// remainingBudget / min(D, N). Unused time from a fast-failing attempt
// redistributes automatically because remaining is recomputed from true
// elapsed time before each attempt, not from a pre-allocated schedule.
type EqualTimeoutsProvider struct {
	Division int
}

func (p EqualTimeoutsProvider) Timeout(remaining time.Duration, replicasLeft int) time.Duration {
	d := p.Division
	if d <= 0 {
		d = 1
	}
	if replicasLeft < d {
		d = replicasLeft
	}
	if d <= 0 {
		return remaining
	}
	return remaining / time.Duration(d)
}

// ProportionalTimeoutsProvider weights the per-attempt timeout by a
// configured fraction of the remaining budget instead of an even split,
// useful when later attempts in the stream are expected to need more
// time (e.g. a fallback tier of slower replicas). Supplements
// EqualTimeoutsProvider with the same "recompute from true remaining"
// redistribution property.
type ProportionalTimeoutsProvider struct {
	Fraction float64
}

func (p ProportionalTimeoutsProvider) Timeout(remaining time.Duration, _ int) time.Duration {
	f := p.Fraction
	if f <= 0 || f > 1 {
		f = 1
	}
	return time.Duration(float64(remaining) * f)
}

// Run drives one logical request's attempts against orderedReplicas
// using strategy-specific dispatch, stopping per the common termination
// rule (spec.md §4.8): cancellation, budget expiry, stream exhaustion,
// or an Accept verdict.
type Strategy interface {
	Run(ctx context.Context, attempter Attempter, b *budget.Budget, req replica.Request, it *ordering.Iterator, totalReplicasCap int, acc sender.Accumulator, access sender.StorageAccess) error
}

func stopped(ctx context.Context, b *budget.Budget) bool {
	select {
	case <-ctx.Done():
		return true
	default:
	}
	return b.HasExpired()
}

// Sequential implements the Sequential dispatch strategy: one attempt at a
// time, stopping on Accept or budget expiry.
type Sequential struct {
	Timeouts       TimeoutsProvider
	ConnectTimeout time.Duration
}

var _ Strategy = Sequential{}

func (s Sequential) Run(ctx context.Context, attempter Attempter, b *budget.Budget, req replica.Request, it *ordering.Iterator, totalReplicasCap int, acc sender.Accumulator, access sender.StorageAccess) error {
	provider := s.Timeouts
	if provider == nil {
		provider = EqualTimeoutsProvider{Division: 1}
	}

	count := 0
	for count < totalReplicasCap {
		if stopped(ctx, b) {
			return ctx.Err()
		}
		r, ok := it.Next()
		if !ok {
			return nil
		}
		count++

		remaining := b.Remaining()
		if remaining <= 0 {
			return nil
		}
		timeout := provider.Timeout(remaining, totalReplicasCap-count+1)
		if timeout > remaining {
			timeout = remaining
		}

		result := attempter.Send(ctx, r, req, timeout, s.ConnectTimeout, acc, access)
		if result.Verdict == replica.Accept {
			return nil
		}
	}
	return nil
}

// ParallelN implements the Parallel-N dispatch strategy: up to N
// concurrent attempts in flight, topped up as attempts finish without an
// Accept, until the stream is exhausted, the budget expires, or an
// Accept wins (which cancels every other in-flight attempt).
type ParallelN struct {
	N              int
	ConnectTimeout time.Duration
}

var _ Strategy = ParallelN{}

func (p ParallelN) Run(ctx context.Context, attempter Attempter, b *budget.Budget, req replica.Request, it *ordering.Iterator, totalReplicasCap int, acc sender.Accumulator, access sender.StorageAccess) error {
	n := p.N
	if n <= 0 {
		n = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	sem := make(chan struct{}, n)
	accepted := make(chan struct{}, 1)
	launched := 0

	for launched < totalReplicasCap {
		if stopped(gctx, b) {
			break
		}
		r, ok := it.Next()
		if !ok {
			break
		}
		launched++

		sem <- struct{}{}
		replicaCopy := r
		g.Go(func() error {
			defer func() { <-sem }()
			if stopped(gctx, b) {
				return nil
			}
			timeout := b.Remaining()
			result := attempter.Send(gctx, replicaCopy, req, timeout, p.ConnectTimeout, acc, access)
			if result.Verdict == replica.Accept {
				select {
				case accepted <- struct{}{}:
					cancel()
				default:
				}
			}
			return nil
		})
	}

	err := g.Wait()
	select {
	case <-accepted:
		return nil
	default:
	}
	if err != nil {
		return err
	}
	return nil
}

// Forking implements the hedging dispatch strategy: start one attempt,
// and after each delay in Delays (if the previous attempt has not yet
// completed with Accept), start another, up to len(Delays)+1 total
// concurrent attempts. The first Accept wins and cancels the rest.
type Forking struct {
	Delays         []time.Duration
	ConnectTimeout time.Duration
}

var _ Strategy = Forking{}

func (f Forking) Run(ctx context.Context, attempter Attempter, b *budget.Budget, req replica.Request, it *ordering.Iterator, totalReplicasCap int, acc sender.Accumulator, access sender.StorageAccess) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	accepted := make(chan struct{}, 1)
	launched := 0

	launch := func() bool {
		if launched >= totalReplicasCap || stopped(gctx, b) {
			return false
		}
		r, ok := it.Next()
		if !ok {
			return false
		}
		launched++
		g.Go(func() error {
			if stopped(gctx, b) {
				return nil
			}
			timeout := b.Remaining()
			result := attempter.Send(gctx, r, req, timeout, f.ConnectTimeout, acc, access)
			if result.Verdict == replica.Accept {
				select {
				case accepted <- struct{}{}:
					cancel()
				default:
				}
			}
			return nil
		})
		return true
	}

	if launch() {
	delayLoop:
		for _, delay := range f.Delays {
			timer := time.NewTimer(delay)
			select {
			case <-gctx.Done():
				timer.Stop()
				break delayLoop
			case <-accepted:
				timer.Stop()
				break delayLoop
			case <-timer.C:
				if !launch() {
					break delayLoop
				}
			}
		}
	}

	err := g.Wait()
	select {
	case <-accepted:
		return nil
	default:
	}
	return err
}
