// Package weight implements the weight modifier contract (spec.md §4.3):
// pluggable functions that read per-replica state and adjust a shared
// scalar weight, plus a side effect that updates that state from a
// completed attempt.
package weight

import (
	"github.com/obiwan-smirnobi/clusterclient.core/params"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/storage"
)

// StorageAccess gives a Modifier access to both storage scopes named in
// spec.md §4.2: a Process registry shared for the client's lifetime, and
// a Request registry created fresh for the current RequestContext. A
// Modifier decides for itself, per namespace, which scope to read from a
// configured Scope field — this struct just carries both options.
type StorageAccess struct {
	Process *storage.Registry
	Request *storage.Registry
}

// Registry returns the registry for the given scope.
func (a StorageAccess) Registry(scope storage.Scope) *storage.Registry {
	if scope == storage.Process {
		return a.Process
	}
	return a.Request
}

// ModifyContext carries everything a Modifier's Modify method needs: the
// replica under consideration, the full candidate set, both storage
// scopes, the original request and its parameters, and a pointer to the
// shared weight variable this and every other modifier in the chain
// mutates in place (spec.md's design note on "ref weight").
type ModifyContext struct {
	Replica      replica.Replica
	AllReplicas  []replica.Replica
	Storage      StorageAccess
	Request      replica.Request
	Params       *params.Bag
	Weight       *float64
}

// LearnContext carries a completed attempt's result plus storage access,
// for a Modifier's Learn method.
type LearnContext struct {
	Result  replica.ReplicaResult
	Storage StorageAccess
}

// Modifier is one pluggable weight adjustment, per spec.md §4.3.
type Modifier interface {
	// Modify reads state for ctx.Replica and adjusts *ctx.Weight in
	// place. It sees whatever value the previous modifier in the chain
	// left in *ctx.Weight.
	Modify(ctx ModifyContext)
	// Learn updates this modifier's state based on one completed
	// attempt. Learn calls across different modifiers in a chain are
	// independent; a modifier must not assume another has already
	// observed (or not observed) the same result.
	Learn(ctx LearnContext)
}

// Chain is an ordered, fixed list of modifiers, built once at client
// construction (mirroring a picker factory's construction
// contract: composition order is part of the configuration, not decided
// per request).
type Chain struct {
	modifiers []Modifier
}

// NewChain wraps modifiers into a Chain, preserving order.
func NewChain(modifiers []Modifier) Chain {
	return Chain{modifiers: append([]Modifier(nil), modifiers...)}
}

// Weigh computes the composed weight for one replica, starting at 1.0 and
// folding every modifier's Modify in configuration order.
func (c Chain) Weigh(r replica.Replica, all []replica.Replica, access StorageAccess, req replica.Request, p *params.Bag) float64 {
	w := 1.0
	ctx := ModifyContext{
		Replica:     r,
		AllReplicas: all,
		Storage:     access,
		Request:     req,
		Params:      p,
		Weight:      &w,
	}
	for _, m := range c.modifiers {
		m.Modify(ctx)
	}
	return w
}

// Learn fans a completed result out to every modifier's Learn, in
// configuration order.
func (c Chain) Learn(result replica.ReplicaResult, access StorageAccess) {
	ctx := LearnContext{Result: result, Storage: access}
	for _, m := range c.modifiers {
		m.Learn(ctx)
	}
}

// Len reports how many modifiers are in the chain.
func (c Chain) Len() int {
	return len(c.modifiers)
}
