// Package health implements the adaptive health subsystem (spec.md §4.4):
// a weight modifier family that learns a numeric "health" per replica
// from observed outcomes, parameterized by a pluggable Implementation
// (scalar or linear-decay) and a pluggable TuningPolicy.
package health

import (
	"time"

	"github.com/obiwan-smirnobi/clusterclient.core/internal"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/storage"
	"github.com/obiwan-smirnobi/clusterclient.core/weight"
)

// State is the persisted health value for one replica. Pivot is only
// meaningful to the linear-decay Implementation; the scalar
// Implementation leaves it at its zero value. State must stay comparable
// so it can live in a storage.Typed and be updated with CAS semantics.
type State struct {
	Value float64
	Pivot time.Time
}

// Implementation defines how health values are created, nudged up or
// down, and folded into a weight.
type Implementation interface {
	CreateDefault() State
	Increase(s State) State
	Decrease(s State, now time.Time) State
	Apply(s State, weight float64, now time.Time) float64
}

// Scalar is the simple Implementation: a single float in [floor, 1],
// multiplied directly into the weight.
type Scalar struct {
	// Up is the multiplier applied on Increase. Must be > 1.
	Up float64
	// Down is the multiplier applied on Decrease. Must be in (0, 1).
	Down float64
	// Floor is the minimum health value. Must be in (0, 1).
	Floor float64
}

func (s Scalar) CreateDefault() State {
	return State{Value: 1}
}

func (s Scalar) Increase(state State) State {
	v := state.Value * s.Up
	if v > 1 {
		v = 1
	}
	return State{Value: v}
}

func (s Scalar) Decrease(state State, _ time.Time) State {
	v := state.Value * s.Down
	if v < s.Floor {
		v = s.Floor
	}
	return State{Value: v}
}

func (s Scalar) Apply(state State, w float64, _ time.Time) float64 {
	return w * state.Value
}

// LinearDecay is the Implementation that tracks a decay pivot: a
// decrease resets the pivot to "now", and the effective health recovers
// linearly from the decreased value back up to 1 over DecayDuration.
type LinearDecay struct {
	Up            float64
	Down          float64
	Floor         float64
	DecayDuration time.Duration
}

func (d LinearDecay) CreateDefault() State {
	return State{Value: 1}
}

func (d LinearDecay) Increase(state State) State {
	v := state.Value * d.Up
	if v > 1 {
		v = 1
	}
	return State{Value: v, Pivot: state.Pivot}
}

func (d LinearDecay) Decrease(state State, now time.Time) State {
	v := state.Value * d.Down
	if v < d.Floor {
		v = d.Floor
	}
	return State{Value: v, Pivot: now}
}

func (d LinearDecay) Apply(state State, w float64, now time.Time) float64 {
	if state.Pivot.IsZero() || d.DecayDuration <= 0 {
		return w * state.Value
	}
	elapsed := now.Sub(state.Pivot)
	t := float64(elapsed) / float64(d.DecayDuration)
	if t < 0 {
		t = 0
	}
	if t >= 1 {
		return w
	}
	damage := 1 - state.Value
	effective := state.Value + damage*t
	return w * effective
}

// Tuning is the direction a TuningPolicy decides for one observed
// result.
type Tuning int

const (
	DontTouch Tuning = iota
	Increase
	Decrease
)

// TuningPolicy decides, for one completed attempt, whether the stored
// health should increase, decrease, or stay put.
type TuningPolicy interface {
	Decide(result replica.ReplicaResult) Tuning
}

// PerVerdictPolicy maps the ReplicaResult's already-computed verdict to a
// Tuning: Accept -> Increase, Reject -> Decrease, DontKnow -> DontTouch.
// This is the "per-criterion" policy from spec.md §4.4, specialized to
// reuse the verdict the response classifier already assigned rather than
// re-running a second criterion against the response.
type PerVerdictPolicy struct{}

func (PerVerdictPolicy) Decide(result replica.ReplicaResult) Tuning {
	switch result.Verdict {
	case replica.Accept:
		return Increase
	case replica.Reject:
		return Decrease
	default:
		return DontTouch
	}
}

// NetworkErrorPolicy decreases health on a connect failure, a
// content-reuse failure or an unknown transport failure, and otherwise
// abstains (timeouts and cancellations included).
type NetworkErrorPolicy struct{}

func (NetworkErrorPolicy) Decide(result replica.ReplicaResult) Tuning {
	switch result.Response.Verdict {
	case replica.TransportConnectFailure, replica.TransportContentReuseFailure, replica.TransportUnknownFailure:
		return Decrease
	default:
		return DontTouch
	}
}

// TimeoutPolicy decreases health whenever the attempt timed out, and
// otherwise abstains.
type TimeoutPolicy struct{}

func (TimeoutPolicy) Decide(result replica.ReplicaResult) Tuning {
	if result.Response.Verdict == replica.TransportTimeout {
		return Decrease
	}
	return DontTouch
}

// CompositePolicy reduces several TuningPolicy votes to one decision:
// Decrease if any voter says Decrease, else Increase if any voter says
// Increase, else DontTouch.
type CompositePolicy struct {
	Voters []TuningPolicy
}

func (c CompositePolicy) Decide(result replica.ReplicaResult) Tuning {
	sawIncrease := false
	for _, voter := range c.Voters {
		switch voter.Decide(result) {
		case Decrease:
			return Decrease
		case Increase:
			sawIncrease = true
		}
	}
	if sawIncrease {
		return Increase
	}
	return DontTouch
}

// Modifier is the weight.Modifier implementation for adaptive health. It
// is parameterized by an Implementation, a TuningPolicy, a storage scope,
// and a storage namespace (so multiple independently-tuned health
// modifiers can coexist in the same chain without clobbering each
// other's state).
type Modifier struct {
	Namespace      string
	Scope          storage.Scope
	Implementation Implementation
	Tuning         TuningPolicy
	Clock          internal.Clock
}

// NewModifier creates a Modifier with a real clock. Tests that need
// deterministic decay should set the Clock field directly afterward.
func NewModifier(namespace string, scope storage.Scope, impl Implementation, tuning TuningPolicy) *Modifier {
	return &Modifier{
		Namespace:      namespace,
		Scope:          scope,
		Implementation: impl,
		Tuning:         tuning,
		Clock:          internal.NewRealClock(),
	}
}

var _ weight.Modifier = (*Modifier)(nil)

func (m *Modifier) store(access weight.StorageAccess) *storage.Typed[State] {
	return storage.Obtain[State](access.Registry(m.Scope), m.Namespace)
}

func (m *Modifier) Modify(ctx weight.ModifyContext) {
	store := m.store(ctx.Storage)
	state, ok := store.Get(ctx.Replica)
	if !ok {
		state = m.Implementation.CreateDefault()
	}
	*ctx.Weight = m.Implementation.Apply(state, *ctx.Weight, m.Clock.Now())
}

func (m *Modifier) Learn(ctx weight.LearnContext) {
	store := m.store(ctx.Storage)
	for {
		current, ok := store.Get(ctx.Result.Replica)
		if !ok {
			def := m.Implementation.CreateDefault()
			if !store.TryAdd(ctx.Result.Replica, def) {
				continue // someone else just added it; re-read
			}
			current = def
		}
		tuning := m.Tuning.Decide(ctx.Result)
		var next State
		switch tuning {
		case Increase:
			next = m.Implementation.Increase(current)
		case Decrease:
			next = m.Implementation.Decrease(current, m.Clock.Now())
		default:
			return
		}
		if store.TryUpdate(ctx.Result.Replica, next, current) {
			return
		}
		// contention: re-read and retry the decision
	}
}
