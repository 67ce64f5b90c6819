package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))

	value, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, value)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegisterRejectsDuplicatesAndEmptyNames(t *testing.T) {
	r := NewBaseRegistry[string]()
	require.NoError(t, r.Register("a", "x"))
	assert.Error(t, r.Register("a", "y"))
	assert.Error(t, r.Register("", "z"))
	assert.Equal(t, 1, r.Count())
}

func TestNamesAndListAreSorted(t *testing.T) {
	r := NewBaseRegistry[string]()
	require.NoError(t, r.Register("track_journey", "c"))
	require.NoError(t, r.Register("lookup_knowledge", "a"))
	require.NoError(t, r.Register("search_memory", "b"))

	assert.Equal(t, []string{"lookup_knowledge", "search_memory", "track_journey"}, r.Names())
	assert.Equal(t, []string{"a", "b", "c"}, r.List())
}
