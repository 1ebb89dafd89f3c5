// Package cluster implements the cluster result selector (spec.md
// §4.10): choosing one response to return from a frozen list of
// ReplicaResults, and computing the terminal ClusterStatus for the
// logical request as a whole.
package cluster

import (
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
)

// ResponseSelector picks one response from the frozen ReplicaResults of
// a completed logical request (spec.md §6's required collaborator
// table). It must be total: given a non-empty slice, it always returns
// a response.
type ResponseSelector interface {
	Select(req replica.Request, results []replica.ReplicaResult) replica.Response
}

// DefaultResponseSelector picks the best-by-verdict response (Accept >
// DontKnow > Reject), tie-broken by recency: the later entry in results
// wins, matching the accumulator's completion-order append semantics.
type DefaultResponseSelector struct{}

var _ ResponseSelector = DefaultResponseSelector{}

func verdictRank(v replica.Verdict) int {
	switch v {
	case replica.Accept:
		return 2
	case replica.DontKnow:
		return 1
	default:
		return 0
	}
}

func (DefaultResponseSelector) Select(_ replica.Request, results []replica.ReplicaResult) replica.Response {
	if len(results) == 0 {
		return replica.NoResponse
	}
	best := results[0]
	bestRank := verdictRank(best.Verdict)
	for _, r := range results[1:] {
		rank := verdictRank(r.Verdict)
		if rank >= bestRank {
			best = r
			bestRank = rank
		}
	}
	return best.Response
}

// StatusSelector computes the terminal ClusterStatus for a completed
// logical request (spec.md §4.10 step 6's priority rule).
type StatusSelector interface {
	Select(results []replica.ReplicaResult, budgetExpired, canceled bool) replica.ClusterStatus
}

// DefaultStatusSelector implements spec.md §4.10 step 6 exactly: first
// match wins, in this order — any Accept → Success; budget expired →
// TimeExpired; cancellation observed → Canceled; all verdicts Reject →
// ReplicasExhausted; otherwise → UnexpectedException.
type DefaultStatusSelector struct{}

var _ StatusSelector = DefaultStatusSelector{}

func (DefaultStatusSelector) Select(results []replica.ReplicaResult, budgetExpired, canceled bool) replica.ClusterStatus {
	allReject := len(results) > 0
	for _, r := range results {
		if r.Verdict == replica.Accept {
			return replica.StatusSuccess
		}
		if r.Verdict != replica.Reject {
			allReject = false
		}
	}
	if budgetExpired {
		return replica.StatusTimeExpired
	}
	if canceled {
		return replica.StatusCanceled
	}
	if allReject {
		return replica.StatusReplicasExhausted
	}
	return replica.StatusUnexpectedException
}
