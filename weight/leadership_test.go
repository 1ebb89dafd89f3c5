package weight_test

import (
	"testing"

	"github.com/obiwan-smirnobi/clusterclient.core/params"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/storage"
	"github.com/obiwan-smirnobi/clusterclient.core/weight"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedDetector struct{ leader bool }

func (f fixedDetector) IsLeaderResult(replica.ReplicaResult) bool { return f.leader }

func TestLeadershipModifier_StartsNonLeaderThenPromotes(t *testing.T) {
	t.Parallel()

	r, err := replica.NewReplica("http://b")
	require.NoError(t, err)

	access := weight.StorageAccess{Process: storage.NewRegistry(), Request: storage.NewRegistry()}
	modifier := weight.NewLeadershipModifier("leader-test", storage.Process, fixedDetector{leader: false}, nil)

	w := 1.0
	modifier.Modify(weight.ModifyContext{Replica: r, Weight: &w, Storage: access, Params: params.New()})
	assert.Equal(t, 0.0, w)

	modifier.Detector = fixedDetector{leader: true}
	modifier.Learn(weight.LearnContext{Result: replica.ReplicaResult{Replica: r}, Storage: access})

	w = 1.0
	modifier.Modify(weight.ModifyContext{Replica: r, Weight: &w, Storage: access, Params: params.New()})
	assert.Equal(t, 1.0, w)
}

func TestLeadershipModifier_DemotesBackToZero(t *testing.T) {
	t.Parallel()

	r, err := replica.NewReplica("http://b")
	require.NoError(t, err)

	access := weight.StorageAccess{Process: storage.NewRegistry(), Request: storage.NewRegistry()}
	modifier := weight.NewLeadershipModifier("leader-test-2", storage.Process, fixedDetector{leader: true}, nil)
	modifier.Learn(weight.LearnContext{Result: replica.ReplicaResult{Replica: r}, Storage: access})

	modifier.Detector = fixedDetector{leader: false}
	modifier.Learn(weight.LearnContext{Result: replica.ReplicaResult{Replica: r}, Storage: access})

	w := 1.0
	modifier.Modify(weight.ModifyContext{Replica: r, Weight: &w, Storage: access, Params: params.New()})
	assert.Equal(t, 0.0, w)
}
