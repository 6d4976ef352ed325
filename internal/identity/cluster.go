package identity

import (
	"github.com/dudu/vidswap/internal/detector"
)

// Clusterer partitions a frame-ordered detection stream into identities by
// incremental nearest-centroid clustering. One instance is owned exclusively
// by the scan pass; Freeze hands the result off read-only.
type Clusterer struct {
	threshold  float64
	identities []*Identity
	frozen     bool
}

// NewClusterer creates a clusterer with the given distance threshold.
func NewClusterer(threshold float64) *Clusterer {
	return &Clusterer{threshold: threshold}
}

// Add assigns one detection to the nearest identity within threshold,
// creating a new identity when none qualifies. Returns the identity id the
// detection joined. Detections must be fed in frame order; for a fixed input
// order and threshold the resulting partition is deterministic.
func (c *Clusterer) Add(det detector.Detection) int {
	if c.frozen {
		panic("identity: Add after Freeze")
	}

	best := -1
	bestDist := c.threshold
	vec := det.Embedding.Float64s()

	// Iterating in id order makes the strict < a lowest-id tie-break.
	for _, id := range c.identities {
		d := Distance(vec, id.Centroid)
		if d < bestDist {
			best = id.ID
			bestDist = d
		}
	}

	if best >= 0 {
		id := c.identities[best]
		id.Members++
		updateCentroid(id.Centroid, det.Embedding, id.Members)
		return best
	}

	id := &Identity{
		ID:             len(c.identities),
		Centroid:       det.Embedding.Float64s(),
		Members:        1,
		Representative: det,
	}
	c.identities = append(c.identities, id)
	return id.ID
}

// Len returns the number of identities formed so far.
func (c *Clusterer) Len() int {
	return len(c.identities)
}

// Freeze ends clustering and returns the read-only identity set. Further
// Add calls panic.
func (c *Clusterer) Freeze() *Set {
	c.frozen = true
	return &Set{identities: c.identities, threshold: c.threshold}
}
