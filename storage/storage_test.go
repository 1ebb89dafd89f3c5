package storage_test

import (
	"sync"
	"testing"

	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustReplica(t *testing.T, raw string) replica.Replica {
	t.Helper()
	r, err := replica.NewReplica(raw)
	require.NoError(t, err)
	return r
}

func TestTyped_TryAddOnlyOnce(t *testing.T) {
	t.Parallel()

	store := storage.NewTyped[int]()
	r := mustReplica(t, "http://a")

	assert.True(t, store.TryAdd(r, 1))
	assert.False(t, store.TryAdd(r, 2))

	v, ok := store.Get(r)
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestTyped_TryUpdateRequiresMatch(t *testing.T) {
	t.Parallel()

	store := storage.NewTyped[int]()
	r := mustReplica(t, "http://a")
	store.TryAdd(r, 1)

	assert.False(t, store.TryUpdate(r, 3, 99))
	assert.True(t, store.TryUpdate(r, 2, 1))

	v, _ := store.Get(r)
	assert.Equal(t, 2, v)
}

func TestTyped_GetOrAddInstallsExactlyOneValue(t *testing.T) {
	t.Parallel()

	store := storage.NewTyped[int]()
	r := mustReplica(t, "http://a")

	var wg sync.WaitGroup
	results := make([]int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.GetOrAdd(r, func() int { return 7 })
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestRegistry_ObtainReturnsSameInstance(t *testing.T) {
	t.Parallel()

	reg := storage.NewRegistry()
	a := storage.Obtain[int](reg, "health")
	b := storage.Obtain[int](reg, "health")
	assert.Same(t, a, b)

	c := storage.Obtain[string](reg, "leadership")
	assert.NotNil(t, c)
}
