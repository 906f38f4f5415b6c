package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vectorStores returns each VectorStore implementation, in memory, at 4 dims.
func vectorStores(t *testing.T) map[string]VectorStore {
	t.Helper()

	h, err := NewHNSWStore("", DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	c, err := NewChromemStore("", 4)
	require.NoError(t, err)

	stores := map[string]VectorStore{"hnsw": h, "chromem": c}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func seedVectors(t *testing.T, s VectorStore) {
	t.Helper()
	err := s.Add(context.Background(),
		[]string{"a.pdf__p001_00", "a.pdf__p001_01", "a.pdf__p002_00"},
		[][]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0.9, 0.1, 0, 0},
		})
	require.NoError(t, err)
}

func TestVectorStores_SearchOrdersByCosine(t *testing.T) {
	ctx := context.Background()
	for name, s := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			// Given: two vectors near the x axis and one on y
			seedVectors(t, s)

			// When: querying along x, unnormalised
			results, err := s.Search(ctx, []float32{3, 0, 0, 0}, 2)

			// Then: the x-axis vectors come first, exact match scoring ~1
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.Equal(t, "a.pdf__p001_00", results[0].ID)
			assert.Equal(t, "a.pdf__p002_00", results[1].ID)
			assert.InDelta(t, 1.0, results[0].Score, 1e-4)
			assert.Greater(t, results[0].Score, results[1].Score)
		})
	}
}

func TestVectorStores_KLargerThanCount(t *testing.T) {
	ctx := context.Background()
	for name, s := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			seedVectors(t, s)

			results, err := s.Search(ctx, []float32{0, 1, 0, 0}, 50)

			require.NoError(t, err)
			assert.Len(t, results, 3)
			assert.Equal(t, "a.pdf__p001_01", results[0].ID)
		})
	}
}

func TestVectorStores_EmptyStore(t *testing.T) {
	for name, s := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			results, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
			require.NoError(t, err)
			assert.Empty(t, results)
			assert.Zero(t, s.Count())
		})
	}
}

func TestVectorStores_ReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			seedVectors(t, s)

			// Re-adding an ID moves it
			require.NoError(t, s.Add(ctx, []string{"a.pdf__p001_00"}, [][]float32{{0, 0, 1, 0}}))
			assert.Equal(t, 3, s.Count())

			results, err := s.Search(ctx, []float32{0, 0, 1, 0}, 1)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "a.pdf__p001_00", results[0].ID)

			require.NoError(t, s.Delete(ctx, []string{"a.pdf__p001_00", "missing"}))
			assert.Equal(t, 2, s.Count())

			results, err = s.Search(ctx, []float32{0, 0, 1, 0}, 3)
			require.NoError(t, err)
			for _, r := range results {
				assert.NotEqual(t, "a.pdf__p001_00", r.ID)
			}
		})
	}
}

func TestVectorStores_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	for name, s := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Add(ctx, []string{"x"}, [][]float32{{1, 2}})
			var dim ErrDimensionMismatch
			require.ErrorAs(t, err, &dim)
			assert.Equal(t, 4, dim.Expected)
			assert.Equal(t, 2, dim.Got)

			_, err = s.Search(ctx, []float32{1, 2, 3}, 1)
			require.ErrorAs(t, err, &dim)
		})
	}
}

func TestVectorStores_LengthMismatch(t *testing.T) {
	for name, s := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Add(context.Background(), []string{"a", "b"}, [][]float32{{1, 0, 0, 0}})
			assert.Error(t, err)
		})
	}
}

func TestHNSWStore_SaveAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.hnsw")

	// Given: a saved store with one deleted ID
	s, err := NewHNSWStore(path, DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	seedVectors(t, s)
	require.NoError(t, s.Delete(ctx, []string{"a.pdf__p001_01"}))
	require.NoError(t, s.Save())
	require.NoError(t, s.Close())

	// When: reopened
	reloaded, err := NewHNSWStore(path, DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	defer reloaded.Close()

	// Then: live IDs survive and the deleted one stays gone
	assert.Equal(t, 2, reloaded.Count())
	results, err := reloaded.Search(ctx, []float32{0, 1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, "a.pdf__p001_01", r.ID)
	}

	// New keys do not collide with loaded ones
	require.NoError(t, reloaded.Add(ctx, []string{"b.pdf__p001_00"}, [][]float32{{0, 0, 0, 1}}))
	results, err = reloaded.Search(ctx, []float32{0, 0, 0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, "b.pdf__p001_00", results[0].ID)
}

func TestHNSWStore_ReloadWithOtherDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")

	s, err := NewHNSWStore(path, DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	seedVectors(t, s)
	require.NoError(t, s.Save())
	require.NoError(t, s.Close())

	_, err = NewHNSWStore(path, DefaultVectorStoreConfig(8))

	var dim ErrDimensionMismatch
	require.ErrorAs(t, err, &dim)
	assert.Equal(t, 8, dim.Expected)
	assert.Equal(t, 4, dim.Got)
}

func TestHNSWStore_InvalidDimensions(t *testing.T) {
	_, err := NewHNSWStore("", DefaultVectorStoreConfig(0))
	assert.Error(t, err)
}

func TestChromemStore_Persistent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.chromem")

	s, err := NewChromemStore(path, 4)
	require.NoError(t, err)
	seedVectors(t, s)
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(path, 4)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 3, reopened.Count())
	results, err := reopened.Search(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.pdf__p001_01", results[0].ID)
}

func TestNormalizeVector(t *testing.T) {
	v := []float32{3, 4}
	NormalizeVector(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	NormalizeVector(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}
