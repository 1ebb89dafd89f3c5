// Package ordering implements the replica ordering engine (spec.md §4.5):
// composing weight modifiers into a weighted random permutation of a
// cluster, exposed as a lazy, single-use, single-consumer iterator.
package ordering

import (
	"math/rand"

	"github.com/obiwan-smirnobi/clusterclient.core/internal"
	"github.com/obiwan-smirnobi/clusterclient.core/params"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/weight"
)

// Orderer composes a weight.Chain into orderings, clamping every weight
// to [0, MaxWeight] before sampling.
type Orderer struct {
	Chain     weight.Chain
	MaxWeight float64
}

// New creates an Orderer. maxWeight must be a finite positive cap
// (spec.md §4.5 step 1); configuration validation is responsible for
// rejecting non-positive values before they reach here.
func New(chain weight.Chain, maxWeight float64) *Orderer {
	return &Orderer{Chain: chain, MaxWeight: maxWeight}
}

// Order produces a lazy iterator over replicas, weighted by the
// Orderer's chain. The returned Iterator is single-use and must not be
// shared across concurrent consumers (spec.md §9's "lazy ordering
// iterator" design note).
func (o *Orderer) Order(replicas []replica.Replica, access weight.StorageAccess, req replica.Request, p *params.Bag, rng *rand.Rand) *Iterator {
	if rng == nil {
		rng = internal.NewRand()
	}
	entries := make([]entry, 0, len(replicas))
	total := 0.0
	for _, r := range replicas {
		w := o.Chain.Weigh(r, replicas, access, req, p)
		if w < 0 {
			w = 0
		}
		if w > o.MaxWeight {
			w = o.MaxWeight
		}
		if w > 0 {
			entries = append(entries, entry{replica: r, weight: w})
			total += w
		}
	}

	if len(entries) == 0 && len(replicas) > 0 {
		// spec.md §9: all-zero-weight fallback is explicit, not an
		// emergent property of degenerate weighted sampling.
		shuffled := make([]replica.Replica, len(replicas))
		copy(shuffled, replicas)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		return &Iterator{orderer: o, fallback: shuffled}
	}

	return &Iterator{orderer: o, entries: entries, total: total, rng: rng}
}

// Learn fans a completed result out to every modifier in the chain.
func (o *Orderer) Learn(result replica.ReplicaResult, access weight.StorageAccess) {
	o.Chain.Learn(result, access)
}

type entry struct {
	replica replica.Replica
	weight  float64
}

// Iterator is a single-use, single-consumer weighted-random-without-
// replacement sequence over a cluster. Each call to Next draws a replica
// with probability proportional to its remaining weight, emits it, and
// removes it from the pool.
type Iterator struct {
	orderer  *Orderer
	entries  []entry
	total    float64
	rng      *rand.Rand
	fallback []replica.Replica
	pos      int
}

// Next returns the next replica in the ordering, or ok=false once every
// non-zero-weight replica has been emitted (or, in the all-zero fallback
// case, once the whole permutation has been emitted).
func (it *Iterator) Next() (r replica.Replica, ok bool) {
	if it.fallback != nil {
		if it.pos >= len(it.fallback) {
			return replica.Replica{}, false
		}
		r = it.fallback[it.pos]
		it.pos++
		return r, true
	}

	if len(it.entries) == 0 || it.total <= 0 {
		return replica.Replica{}, false
	}

	draw := it.rng.Float64() * it.total
	cumulative := 0.0
	idx := len(it.entries) - 1
	for i, e := range it.entries {
		cumulative += e.weight
		if draw < cumulative {
			idx = i
			break
		}
	}

	chosen := it.entries[idx]
	it.entries = append(it.entries[:idx], it.entries[idx+1:]...)
	it.total -= chosen.weight
	return chosen.replica, true
}
