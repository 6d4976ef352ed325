package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/vidswap/internal/detector"
)

// embDet builds a detection whose embedding is zero except the first
// component, so distances are easy to reason about.
func embDet(frame int, v float32) detector.Detection {
	var e detector.Embedding
	e[0] = v
	return detector.Detection{FrameIndex: frame, Embedding: e, Score: 1}
}

func TestClustererAdd(t *testing.T) {
	t.Parallel()

	t.Run("close embeddings join one identity", func(t *testing.T) {
		t.Parallel()
		c := NewClusterer(DefaultThreshold)

		assert.Equal(t, 0, c.Add(embDet(0, 0.0)))
		assert.Equal(t, 0, c.Add(embDet(10, 0.1)))
		assert.Equal(t, 1, c.Len())

		set := c.Freeze()
		ident := set.Get(0)
		require.NotNil(t, ident)
		assert.Equal(t, 2, ident.Members)
		assert.InDelta(t, 0.05, ident.Centroid[0], 1e-9)
	})

	t.Run("distant embedding opens a new identity", func(t *testing.T) {
		t.Parallel()
		c := NewClusterer(DefaultThreshold)

		assert.Equal(t, 0, c.Add(embDet(0, 0.0)))
		assert.Equal(t, 1, c.Add(embDet(10, 0.9)))
		assert.Equal(t, 2, c.Len())
	})

	t.Run("equidistant detection joins the lowest id", func(t *testing.T) {
		t.Parallel()
		c := NewClusterer(DefaultThreshold)

		require.Equal(t, 0, c.Add(embDet(0, 0.0)))
		require.Equal(t, 1, c.Add(embDet(10, 1.0)))

		// 0.5 is exactly 0.5 from both centroids.
		assert.Equal(t, 0, c.Add(embDet(20, 0.5)))
	})

	t.Run("identity count never decreases", func(t *testing.T) {
		t.Parallel()
		c := NewClusterer(DefaultThreshold)

		prev := 0
		for _, v := range []float32{0.0, 0.9, 0.05, 1.8, 0.85, 0.0} {
			c.Add(embDet(0, v))
			assert.GreaterOrEqual(t, c.Len(), prev)
			prev = c.Len()
		}
		assert.Equal(t, 3, c.Len())
	})

	t.Run("same input yields same partition", func(t *testing.T) {
		t.Parallel()
		input := []float32{0.0, 0.9, 0.05, 1.8, 0.85}

		run := func() []int {
			c := NewClusterer(DefaultThreshold)
			ids := make([]int, len(input))
			for i, v := range input {
				ids[i] = c.Add(embDet(i, v))
			}
			return ids
		}
		assert.Equal(t, run(), run())
	})
}

func TestClustererFreeze(t *testing.T) {
	t.Parallel()

	c := NewClusterer(DefaultThreshold)
	c.Add(embDet(0, 0.0))
	c.Add(embDet(5, 0.9))

	set := c.Freeze()
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, []int{0, 1}, set.IDs())
	assert.Equal(t, DefaultThreshold, set.Threshold())
	assert.Nil(t, set.Get(2))

	assert.Panics(t, func() { c.Add(embDet(6, 0.5)) })
}

func TestClustererRepresentative(t *testing.T) {
	t.Parallel()

	c := NewClusterer(DefaultThreshold)
	c.Add(embDet(7, 0.0))
	c.Add(embDet(12, 0.1))

	set := c.Freeze()
	ident := set.Get(0)
	require.NotNil(t, ident)
	assert.Equal(t, 7, ident.Representative.FrameIndex)
}
