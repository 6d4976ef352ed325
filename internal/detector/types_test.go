package detector

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundingBox(t *testing.T) {
	t.Parallel()

	box := BoundingBox{X1: 10, Y1: 20, X2: 50, Y2: 100}

	assert.EqualValues(t, 40, box.Width())
	assert.EqualValues(t, 80, box.Height())
	assert.EqualValues(t, 3200, box.Area())
	assert.Equal(t, Point{X: 30, Y: 60}, box.Center())

	t.Run("scale maps between resolutions", func(t *testing.T) {
		t.Parallel()
		scaled := box.Scale(2)
		assert.Equal(t, BoundingBox{X1: 20, Y1: 40, X2: 100, Y2: 200}, scaled)
	})

	t.Run("padded rect clamps to the image", func(t *testing.T) {
		t.Parallel()
		rect := box.PaddedRect(50, 80, 110)
		assert.Equal(t, image.Rect(0, 0, 80, 110), rect)

		rect = box.PaddedRect(5, 640, 480)
		assert.Equal(t, image.Rect(5, 15, 55, 105), rect)
	})
}

func TestLandmarks(t *testing.T) {
	t.Parallel()

	t.Run("outline of a complete set is jaw and brows", func(t *testing.T) {
		t.Parallel()
		lm := make(Landmarks, LandmarkCount)
		for i := range lm {
			lm[i] = Point{X: float32(i), Y: float32(i)}
		}
		assert.True(t, lm.Complete())
		assert.Len(t, lm.Outline(), 27)
	})

	t.Run("outline of a partial set is every point", func(t *testing.T) {
		t.Parallel()
		lm := Landmarks{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}
		assert.False(t, lm.Complete())
		assert.Len(t, lm.Outline(), 3)
	})

	t.Run("centroid and bounding box", func(t *testing.T) {
		t.Parallel()
		lm := Landmarks{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 20}, {X: 0, Y: 20}}
		assert.Equal(t, Point{X: 5, Y: 10}, lm.Centroid())
		assert.Equal(t, BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 20}, lm.BoundingBox())
	})

	t.Run("clone is independent", func(t *testing.T) {
		t.Parallel()
		lm := Landmarks{{X: 1, Y: 2}}
		cp := lm.Clone()
		cp[0].X = 99
		assert.EqualValues(t, 1, lm[0].X)
	})
}

func TestEmbeddingFloat64s(t *testing.T) {
	t.Parallel()

	var e Embedding
	e[0] = 0.25
	e[EmbeddingDim-1] = -1

	v := e.Float64s()
	assert.Len(t, v, EmbeddingDim)
	assert.Equal(t, 0.25, v[0])
	assert.Equal(t, -1.0, v[EmbeddingDim-1])
}
