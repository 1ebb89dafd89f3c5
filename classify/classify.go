// Package classify implements the response classifier (spec.md §4.6):
// an ordered list of criteria applied to a single response, stopping at
// the first criterion that doesn't abstain.
package classify

import (
	"errors"

	"github.com/obiwan-smirnobi/clusterclient.core/replica"
)

// Criterion decides whether one response should be accepted, rejected,
// or leaves the decision to the next criterion in the chain.
type Criterion interface {
	// Classify returns Accept, Reject, or DontKnow (abstain) for resp.
	Classify(resp replica.Response) replica.Verdict
	// Terminal reports whether this criterion is guaranteed to never
	// return DontKnow. A configured chain must end with a terminal
	// criterion.
	Terminal() bool
}

// ErrChainNotTerminated is returned by Validate when the last criterion
// in a chain is not a terminal criterion.
var ErrChainNotTerminated = errors.New("classify: last criterion in chain must be terminal")

// ErrEmptyChain is returned by Validate for an empty criteria list.
var ErrEmptyChain = errors.New("classify: criteria chain must not be empty")

// Validate checks that criteria is non-empty and ends in a terminal
// criterion, per spec.md §4.6's invariant.
func Validate(criteria []Criterion) error {
	if len(criteria) == 0 {
		return ErrEmptyChain
	}
	if !criteria[len(criteria)-1].Terminal() {
		return ErrChainNotTerminated
	}
	return nil
}

// Chain is a validated, ordered list of criteria.
type Chain struct {
	criteria []Criterion
}

// NewChain validates and wraps criteria. It panics if criteria is invalid;
// callers that accept criteria lists from configuration should call
// Validate explicitly at configuration time instead, and only build a
// Chain once validation has already succeeded.
func NewChain(criteria []Criterion) Chain {
	if err := Validate(criteria); err != nil {
		panic(err)
	}
	return Chain{criteria: criteria}
}

// Classify applies each criterion in order, returning the first non-
// DontKnow verdict. Since a validated Chain always ends in a terminal
// criterion, this never returns DontKnow.
func (c Chain) Classify(resp replica.Response) replica.Verdict {
	for _, criterion := range c.criteria {
		if v := criterion.Classify(resp); v != replica.DontKnow {
			return v
		}
	}
	return replica.DontKnow
}

// AlwaysAccept is a terminal criterion that accepts every response.
var AlwaysAccept Criterion = alwaysAccept{}

type alwaysAccept struct{}

func (alwaysAccept) Classify(replica.Response) replica.Verdict { return replica.Accept }
func (alwaysAccept) Terminal() bool                            { return true }

// AlwaysReject is a terminal criterion that rejects every response.
var AlwaysReject Criterion = alwaysReject{}

type alwaysReject struct{}

func (alwaysReject) Classify(replica.Response) replica.Verdict { return replica.Reject }
func (alwaysReject) Terminal() bool                            { return true }

// StatusCategoryCriterion accepts responses whose status category is in
// the accept set, rejects those in the reject set, and otherwise
// abstains.
type StatusCategoryCriterion struct {
	Accept map[replica.StatusCategory]bool
	Reject map[replica.StatusCategory]bool
}

func (c StatusCategoryCriterion) Classify(resp replica.Response) replica.Verdict {
	category := resp.Category()
	if c.Accept[category] {
		return replica.Accept
	}
	if c.Reject[category] {
		return replica.Reject
	}
	return replica.DontKnow
}

func (StatusCategoryCriterion) Terminal() bool { return false }

// DefaultSuccessOrFailure is a common two-element chain: accept any
// successful (2xx) response, reject everything else.
func DefaultSuccessOrFailure() []Criterion {
	return []Criterion{
		StatusCategoryCriterion{Accept: map[replica.StatusCategory]bool{replica.CategorySuccess: true}},
		AlwaysReject,
	}
}

// TransportFailureCriterion rejects any response whose transport verdict
// was not TransportSuccess (network failures, timeouts, cancellations),
// and otherwise abstains, deferring the HTTP-status-based decision to
// later criteria in the chain.
type TransportFailureCriterion struct{}

func (TransportFailureCriterion) Classify(resp replica.Response) replica.Verdict {
	if resp.Verdict != replica.TransportSuccess {
		return replica.Reject
	}
	return replica.DontKnow
}

func (TransportFailureCriterion) Terminal() bool { return false }
