package pipeline

import (
	"math/rand"
	"sync"

	"github.com/obiwan-smirnobi/clusterclient.core/internal"
	"github.com/obiwan-smirnobi/clusterclient.core/params"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/reqctx"
	"github.com/obiwan-smirnobi/clusterclient.core/storage"
)

// dedupKey flags a request as wanting replica deduplication; read by
// ExecutionModule when it builds the candidate set.
var dedupKey = params.NewKey[bool]()

// DeduplicateModule implements the deduplicateRequestUrl configuration
// flag from spec.md §6: it marks the request so ExecutionModule
// collapses replicas that normalize to the same base URL into one
// candidate before ordering, the same "reconcile by host:port" grouping
// technique basebalancer's ConnManager.Update uses to collapse duplicate
// addresses before dialing, adapted here from connection-address
// reconciliation to replica-candidate collapse.
type DeduplicateModule struct {
	Enabled bool
}

func (m DeduplicateModule) Execute(rc *reqctx.Context, next Next) replica.ClusterResult {
	if m.Enabled {
		params.Set(rc.Params, dedupKey, true)
	}
	return next(rc)
}

func dedupeReplicas(replicas []replica.Replica) []replica.Replica {
	seen := make(map[replica.Replica]bool, len(replicas))
	out := make([]replica.Replica, 0, len(replicas))
	for _, r := range replicas {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// throttleCounters tracks the adaptive throttling formula's running
// totals for one logical request type: requests attempted and accepts
// observed, both monotonic since process start.
type throttleCounters struct {
	mu       sync.Mutex
	requests float64
	accepts  float64
}

// AdaptiveThrottlingModule implements the adaptiveThrottling
// configuration block (spec.md §6): client-side request shedding using
// the standard adaptive-throttling formula, rejecting locally with
// probability max(0, (requests - K·accepts) / (requests + 1)) once the
// minimum sample size is reached. Counters live in a process-scoped
// storage.Typed keyed by a synthetic per-request-type Replica, so the
// same CAS-free lock (this module owns its own mutex per counter, not
// storage's CAS) still shares state cleanly across concurrent requests
// of the same type.
type AdaptiveThrottlingModule struct {
	Enabled         bool
	K               float64
	MinimumRequests float64
	RejectionCap    float64
	RequestType     string
	ProcessCounters *storage.Typed[*throttleCounters]
	Rand            *rand.Rand
}

// NewThrottleCounters creates the process-scoped counter store an
// AdaptiveThrottlingModule needs; callers keep one instance per client
// and share it across every request of every type (counters are keyed
// internally by request type, not by instance).
func NewThrottleCounters() *storage.Typed[*throttleCounters] {
	return storage.NewTyped[*throttleCounters]()
}

func throttleKey(requestType string) replica.Replica {
	r, _ := replica.NewReplica("throttle://" + requestType)
	return r
}

func (m AdaptiveThrottlingModule) Execute(rc *reqctx.Context, next Next) replica.ClusterResult {
	if !m.Enabled || m.ProcessCounters == nil {
		return next(rc)
	}

	counters := m.ProcessCounters.GetOrAdd(throttleKey(m.RequestType), func() *throttleCounters { return &throttleCounters{} })

	counters.mu.Lock()
	requests, accepts := counters.requests, counters.accepts
	counters.mu.Unlock()

	if requests >= m.MinimumRequests && m.trips(requests, accepts) {
		return replica.ClusterResult{Status: replica.StatusThrottled, Request: rc.Request}
	}

	result := next(rc)

	counters.mu.Lock()
	counters.requests++
	if result.Status == replica.StatusSuccess {
		counters.accepts++
	}
	counters.mu.Unlock()

	return result
}

func (m AdaptiveThrottlingModule) trips(requests, accepts float64) bool {
	k := m.K
	if k <= 0 {
		k = 1.5
	}
	probability := (requests - k*accepts) / (requests + 1)
	if probability <= 0 {
		return false
	}
	cap := m.RejectionCap
	if cap <= 0 {
		cap = 0.9
	}
	if probability > cap {
		probability = cap
	}
	rng := m.Rand
	if rng == nil {
		rng = internal.NewRand()
	}
	return rng.Float64() < probability
}
