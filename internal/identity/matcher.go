package identity

import (
	"github.com/dudu/vidswap/internal/detector"
)

// Unmatched marks a detection with no identity assignment for a frame.
const Unmatched = -1

// Matcher assigns a single frame's detections to identities in a frozen set.
// It uses the same distance function and threshold the set was clustered
// with. Stateless; safe for concurrent use.
type Matcher struct {
	set *Set
}

// NewMatcher creates a matcher over the frozen identity set.
func NewMatcher(set *Set) *Matcher {
	return &Matcher{set: set}
}

// Match returns, for each detection, the id of its identity or Unmatched.
// Two detections never map to the same identity: the closer one wins and the
// other is left unmatched for this frame. Re-running on the same input always
// yields the same assignment.
func (m *Matcher) Match(dets []detector.Detection) []int {
	assigned := make([]int, len(dets))
	dist := make([]float64, len(dets))

	for i, det := range dets {
		best := Unmatched
		bestDist := m.set.threshold
		vec := det.Embedding.Float64s()
		for _, id := range m.set.identities {
			d := Distance(vec, id.Centroid)
			if d < bestDist {
				best = id.ID
				bestDist = d
			}
		}
		assigned[i] = best
		dist[i] = bestDist
	}

	// Resolve duplicate-track collisions: per identity keep the closest
	// detection, earliest index on an exact tie.
	winner := make(map[int]int)
	for i, id := range assigned {
		if id == Unmatched {
			continue
		}
		w, ok := winner[id]
		if !ok || dist[i] < dist[w] {
			winner[id] = i
		}
	}
	for i, id := range assigned {
		if id != Unmatched && winner[id] != i {
			assigned[i] = Unmatched
		}
	}

	return assigned
}
