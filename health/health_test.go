package health_test

import (
	"testing"
	"time"

	"github.com/obiwan-smirnobi/clusterclient.core/health"
	"github.com/obiwan-smirnobi/clusterclient.core/params"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/storage"
	"github.com/obiwan-smirnobi/clusterclient.core/weight"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalar_IncreaseDecreaseRoundTrip(t *testing.T) {
	t.Parallel()

	impl := health.Scalar{Up: 2, Down: 0.5, Floor: 0.1}
	state := impl.CreateDefault()
	state = impl.Decrease(state, time.Time{})
	assert.InDelta(t, 0.5, state.Value, 1e-9)
	state = impl.Increase(state)
	assert.InDelta(t, 1.0, state.Value, 1e-9)
}

func TestScalar_NeverExceedsBoundsOrFloor(t *testing.T) {
	t.Parallel()

	impl := health.Scalar{Up: 1.5, Down: 0.5, Floor: 0.1}
	state := impl.CreateDefault()
	for i := 0; i < 20; i++ {
		state = impl.Increase(state)
		assert.LessOrEqual(t, state.Value, 1.0)
	}
	for i := 0; i < 20; i++ {
		state = impl.Decrease(state, time.Time{})
		assert.GreaterOrEqual(t, state.Value, impl.Floor)
	}
}

func TestLinearDecay_MonotoneRecoveryToDecayDuration(t *testing.T) {
	t.Parallel()

	impl := health.LinearDecay{Up: 1.5, Down: 0.5, Floor: 0.1, DecayDuration: 10 * time.Minute}
	now := time.Unix(0, 0)
	state := impl.Decrease(impl.CreateDefault(), now) // value=0.5, pivot=now

	w5 := impl.Apply(state, 2, now.Add(5*time.Minute))
	assert.InDelta(t, 1.5, w5, 1e-9) // effective health 0.75 * weight 2

	w10 := impl.Apply(state, 2, now.Add(10*time.Minute))
	assert.InDelta(t, 2.0, w10, 1e-9) // fully recovered, no-op

	w0 := impl.Apply(state, 2, now)
	assert.Less(t, w0, w5)
	assert.LessOrEqual(t, w5, w10)
}

func TestCompositePolicy_DecreaseDominates(t *testing.T) {
	t.Parallel()

	always := func(tuning health.Tuning) health.TuningPolicy {
		return fixedPolicy{tuning}
	}
	composite := health.CompositePolicy{Voters: []health.TuningPolicy{
		always(health.Increase),
		always(health.Decrease),
		always(health.DontTouch),
	}}
	assert.Equal(t, health.Decrease, composite.Decide(replica.ReplicaResult{}))
}

func TestCompositePolicy_IncreaseBeatsDontTouch(t *testing.T) {
	t.Parallel()

	composite := health.CompositePolicy{Voters: []health.TuningPolicy{
		fixedPolicy{health.DontTouch},
		fixedPolicy{health.Increase},
	}}
	assert.Equal(t, health.Increase, composite.Decide(replica.ReplicaResult{}))
}

func TestCompositePolicy_AllDontTouch(t *testing.T) {
	t.Parallel()

	composite := health.CompositePolicy{Voters: []health.TuningPolicy{
		fixedPolicy{health.DontTouch},
		fixedPolicy{health.DontTouch},
	}}
	assert.Equal(t, health.DontTouch, composite.Decide(replica.ReplicaResult{}))
}

type fixedPolicy struct{ tuning health.Tuning }

func (f fixedPolicy) Decide(replica.ReplicaResult) health.Tuning { return f.tuning }

func TestModifier_LearnThenModifyReflectsHealth(t *testing.T) {
	t.Parallel()

	r, err := replica.NewReplica("http://a")
	require.NoError(t, err)

	modifier := health.NewModifier("health-test", storage.Process, health.Scalar{Up: 1.5, Down: 0.5, Floor: 0.1}, health.PerVerdictPolicy{})
	access := weight.StorageAccess{Process: storage.NewRegistry(), Request: storage.NewRegistry()}

	modifier.Learn(weight.LearnContext{
		Result:  replica.ReplicaResult{Replica: r, Verdict: replica.Reject},
		Storage: access,
	})

	w := 1.0
	modifier.Modify(weight.ModifyContext{Replica: r, Weight: &w, Storage: access, Params: params.New()})
	assert.InDelta(t, 0.5, w, 1e-9)
}
