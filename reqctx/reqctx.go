// Package reqctx implements RequestContext (spec.md §3): the mutable
// per-request object created when a logical request enters the pipeline
// and destroyed when it exits. It never escapes the pipeline — no
// package outside this module's own pipeline/strategy/sender machinery
// should hold a reference to one past the call that produced it.
package reqctx

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/obiwan-smirnobi/clusterclient.core/budget"
	"github.com/obiwan-smirnobi/clusterclient.core/params"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/storage"
	"github.com/obiwan-smirnobi/clusterclient.core/transport"
)

// Accumulator is the concurrent, append-only collector of ReplicaResults
// for one logical request. Results are appended in completion order, not
// start order (spec.md §5); readers of a Snapshot must not assume any
// particular order.
type Accumulator struct {
	mu      sync.Mutex
	results []replica.ReplicaResult
}

// Append adds one completed result.
func (a *Accumulator) Append(result replica.ReplicaResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, result)
}

// Snapshot freezes and returns a copy of the results collected so far.
func (a *Accumulator) Snapshot() []replica.ReplicaResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]replica.ReplicaResult, len(a.results))
	copy(out, a.results)
	return out
}

// Len reports how many results have been appended so far.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Context is the per-request object threaded through the pipeline.
type Context struct {
	// Ctx carries cancellation and, where the caller set one, the
	// caller's own deadline. The pipeline additionally tracks Budget,
	// which is this module's own time-budget arithmetic; Client.Do sizes
	// it from Ctx's deadline when that is nearer than the default timeout,
	// and the budget does not follow Ctx afterwards.
	Ctx context.Context //nolint:containedctx // intentionally owned by this per-request value

	Request     replica.Request
	Params      *params.Bag
	Budget      *budget.Budget
	Logger      *zap.Logger
	Transport   transport.Transport
	MaxReplicas int

	Accumulator *Accumulator

	// RequestStorage is the Request-scoped storage registry (spec.md
	// §4.2): created fresh here and discarded when this Context is.
	RequestStorage *storage.Registry
}

// New constructs a Context for one logical request.
func New(ctx context.Context, req replica.Request, p *params.Bag, b *budget.Budget, tr transport.Transport, maxReplicas int, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p == nil {
		p = params.New()
	}
	return &Context{
		Ctx:            ctx,
		Request:        req,
		Params:         p,
		Budget:         b,
		Logger:         logger,
		Transport:      tr,
		MaxReplicas:    maxReplicas,
		Accumulator:    &Accumulator{},
		RequestStorage: storage.NewRegistry(),
	}
}

// Canceled reports whether the request's context has been canceled.
func (c *Context) Canceled() bool {
	select {
	case <-c.Ctx.Done():
		return true
	default:
		return false
	}
}
