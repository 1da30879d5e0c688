package handler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Run("insert if absent", func(t *testing.T) {
		r := NewRegistry[string, *int]()
		one, two := 1, 2

		require.NoError(t, r.Insert("a", &one))
		require.ErrorIs(t, r.Insert("a", &two), ErrDuplicateKey)

		v, ok := r.Lookup("a")
		require.True(t, ok)
		require.Same(t, &one, v)
		require.Equal(t, 1, r.Len())
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		r := NewRegistry[string, *int]()
		one := 1
		require.NoError(t, r.Insert("a", &one))

		v, ok := r.Remove("a")
		require.True(t, ok)
		require.Same(t, &one, v)

		_, ok = r.Remove("a")
		require.False(t, ok)
		_, ok = r.Remove("never")
		require.False(t, ok)
		require.Zero(t, r.Len())
	})

	t.Run("compare and remove ignores stale values", func(t *testing.T) {
		r := NewRegistry[string, *int]()
		old, current := 1, 2
		require.NoError(t, r.Insert("a", &old))
		_, _ = r.Remove("a")
		require.NoError(t, r.Insert("a", &current))

		require.False(t, r.CompareAndRemove("a", &old))
		require.True(t, r.Contains("a", &current))

		require.True(t, r.CompareAndRemove("a", &current))
		require.False(t, r.CompareAndRemove("a", &current))
	})

	t.Run("keys keep insertion order", func(t *testing.T) {
		r := NewRegistry[string, int]()
		for i, k := range []string{"c", "a", "b"} {
			require.NoError(t, r.Insert(k, i))
		}
		require.Equal(t, []string{"c", "a", "b"}, r.Keys())
		require.Equal(t, []int{0, 1, 2}, r.Values())

		_, _ = r.Remove("a")
		require.Equal(t, []string{"c", "b"}, r.Keys())
	})

	t.Run("sealed rejects inserts only", func(t *testing.T) {
		r := NewRegistry[string, int]()
		require.NoError(t, r.Insert("a", 1))
		r.Seal()

		require.ErrorIs(t, r.Insert("b", 2), ErrRegistrySealed)
		_, ok := r.Remove("a")
		require.True(t, ok)
	})
}
