// Package clusterprovider declares the ClusterProvider collaborator
// (spec.md §6): the thing that knows which replicas currently serve a
// logical cluster. Discovery backends themselves (DNS, a service
// registry, a static list) are out of scope for this module; only the
// contract, a static implementation, and a continuously-updating
// adapter live here.
package clusterprovider

import (
	"sync/atomic"

	"github.com/obiwan-smirnobi/clusterclient.core/replica"
)

// Provider returns the current set of replicas for a cluster. It may
// return an empty slice; it must be cheap to call, since the Execution
// pipeline module calls it once per logical request.
type Provider interface {
	GetCluster() []replica.Replica
}

// Static is a Provider over a fixed list of replicas, useful for tests
// and for clusters that never change membership.
type Static []replica.Replica

func (s Static) GetCluster() []replica.Replica {
	return s
}

// Watching is a Provider that caches the latest replica set pushed by a
// continuous discovery backend (DNS watch, service-registry stream,
// etc.), the same "push updates, cache the latest snapshot" shape as a
// connection balancer's resolver-callback/atomic.Pointer handling —
// generalized here from a connection balancer's address cache to a
// plain replica-list cache, since this module has no persistent
// connection pool to update.
type Watching struct {
	latest atomic.Pointer[[]replica.Replica]
}

// NewWatching creates a Watching provider with no replicas until the
// first Update call.
func NewWatching() *Watching {
	w := &Watching{}
	empty := []replica.Replica{}
	w.latest.Store(&empty)
	return w
}

// Update replaces the cached replica set. Safe to call concurrently with
// GetCluster from any number of goroutines.
func (w *Watching) Update(replicas []replica.Replica) {
	clone := make([]replica.Replica, len(replicas))
	copy(clone, replicas)
	w.latest.Store(&clone)
}

func (w *Watching) GetCluster() []replica.Replica {
	return *w.latest.Load()
}
