package geocode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_Geocode(t *testing.T) {
	g := NewStatic()
	ctx := context.Background()

	t.Run("known city", func(t *testing.T) {
		lat, lng, ok, err := g.Geocode(ctx, "100 Main St", "Austin", "TX", "78701")
		require.NoError(t, err)
		require.True(t, ok)
		assert.InDelta(t, 30.2672, lat, 1e-4)
		assert.InDelta(t, -97.7431, lng, 1e-4)
	})

	t.Run("case and whitespace insensitive", func(t *testing.T) {
		lat1, lng1, ok, _ := g.Geocode(ctx, "", "  AUSTIN ", "tx", "")
		require.True(t, ok)
		lat2, lng2, _, _ := g.Geocode(ctx, "", "Austin", "TX", "")
		assert.Equal(t, lat2, lat1)
		assert.Equal(t, lng2, lng1)
	})

	t.Run("unknown city falls back to state centroid", func(t *testing.T) {
		lat, lng, ok, err := g.Geocode(ctx, "", "Smallville", "TX", "")
		require.NoError(t, err)
		require.True(t, ok)
		assert.InDelta(t, 31.054487, lat, 1e-4)
		assert.InDelta(t, -97.563461, lng, 1e-4)
	})

	t.Run("unknown state declines", func(t *testing.T) {
		_, _, ok, err := g.Geocode(ctx, "", "Somewhere", "", "")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
