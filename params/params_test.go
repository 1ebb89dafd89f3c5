package params_test

import (
	"testing"

	"github.com/obiwan-smirnobi/clusterclient.core/params"
	"github.com/stretchr/testify/assert"
)

func TestBag(t *testing.T) {
	t.Parallel()

	var keyA = params.NewKey[string]()
	var keyB = params.NewKey[string]()
	var keyC = params.NewKey[string]()

	bag := params.New(
		keyA.Value("a1"),
		keyB.Value("b1"),
		keyA.Value("a2"),
	)

	value, ok := params.Get(bag, keyA)
	assert.True(t, ok)
	assert.Equal(t, "a2", value)

	value, ok = params.Get(bag, keyB)
	assert.True(t, ok)
	assert.Equal(t, "b1", value)

	value, ok = params.Get(bag, keyC)
	assert.False(t, ok)
	assert.Equal(t, "", value)
}

func TestBagSetAfterConstruction(t *testing.T) {
	t.Parallel()

	var key = params.NewKey[int]()
	bag := params.New()
	_, ok := params.Get(bag, key)
	assert.False(t, ok)

	params.Set(bag, key, 42)
	value, ok := params.Get(bag, key)
	assert.True(t, ok)
	assert.Equal(t, 42, value)
}
