package clusterprovider_test

import (
	"testing"

	"github.com/obiwan-smirnobi/clusterclient.core/clusterprovider"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_ReturnsFixedSet(t *testing.T) {
	t.Parallel()

	a, err := replica.NewReplica("http://a")
	require.NoError(t, err)
	provider := clusterprovider.Static{a}
	assert.Equal(t, []replica.Replica{a}, provider.GetCluster())
}

func TestWatching_UpdateIsVisibleToSubsequentGetCluster(t *testing.T) {
	t.Parallel()

	provider := clusterprovider.NewWatching()
	assert.Empty(t, provider.GetCluster())

	a, err := replica.NewReplica("http://a")
	require.NoError(t, err)
	b, err := replica.NewReplica("http://b")
	require.NoError(t, err)

	provider.Update([]replica.Replica{a, b})
	assert.Equal(t, []replica.Replica{a, b}, provider.GetCluster())
}
