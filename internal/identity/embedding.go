package identity

import (
	"gonum.org/v1/gonum/floats"

	"github.com/dudu/vidswap/internal/detector"
)

// DefaultThreshold is the embedding distance below which two faces are
// considered the same person. Calibrated for dlib ResNet descriptors.
const DefaultThreshold = 0.6

// Distance returns the Euclidean distance between two embedding vectors.
// Distance is symmetric and is the single comparison function used by both
// the clusterer and the matcher.
func Distance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// updateCentroid folds a new member embedding into a running mean over n
// members (n includes the new member).
func updateCentroid(centroid []float64, e detector.Embedding, n int) {
	delta := e.Float64s()
	floats.Sub(delta, centroid)
	floats.AddScaled(centroid, 1/float64(n), delta)
}
