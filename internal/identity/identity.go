// Package identity resolves per-frame face detections into a stable set of
// unique persons and assigns render-pass detections back to them.
package identity

import (
	"github.com/dudu/vidswap/internal/detector"
)

// Identity is one unique person inferred from embedding clustering across a
// whole video. Centroid mutates while the clusterer owns it and is frozen
// before the render pass begins.
type Identity struct {
	ID             int
	Centroid       []float64
	Members        int
	Representative detector.Detection
}

// Set is the frozen identity collection handed from the scan pass to the
// render pass. Read-only after construction.
type Set struct {
	identities []*Identity
	threshold  float64
}

// Len returns the number of identities.
func (s *Set) Len() int {
	return len(s.identities)
}

// Threshold returns the distance threshold the set was clustered with. The
// matcher must use the same value.
func (s *Set) Threshold() float64 {
	return s.threshold
}

// IDs returns all identity ids in ascending order.
func (s *Set) IDs() []int {
	ids := make([]int, len(s.identities))
	for i, id := range s.identities {
		ids[i] = id.ID
	}
	return ids
}

// Get returns the identity with the given id, or nil.
func (s *Set) Get(id int) *Identity {
	if id < 0 || id >= len(s.identities) {
		return nil
	}
	return s.identities[id]
}

// All returns the identities in id order.
func (s *Set) All() []*Identity {
	return s.identities
}
