// Package track maintains per-identity smoothing state across the render
// pass so that per-frame detection jitter does not reach the compositor.
package track

import (
	"github.com/dudu/vidswap/internal/detector"
)

// State is the lifecycle state of an identity track.
type State int

const (
	// Unseen means no current estimate exists for the identity.
	Unseen State = iota
	// Tracking means an estimate exists and was matched recently.
	Tracking
	// Stale means the identity has been absent for more than the stale
	// threshold; the estimate is held one more frame for reacquisition
	// before being discarded.
	Stale
)

func (s State) String() string {
	switch s {
	case Tracking:
		return "tracking"
	case Stale:
		return "stale"
	default:
		return "unseen"
	}
}

// Track is the per-identity smoothing memory. Owned exclusively by the
// render-pass stage that advances it; never shared across goroutines.
type Track struct {
	state  State
	filter Filter
	missed int
	last   detector.Landmarks
}

// Smoother owns the track map for all identities during one render pass.
// Observe and Miss must be called once per identity per frame, in frame
// order.
type Smoother struct {
	staleAfter int
	newFilter  func() Filter
	tracks     map[int]*Track
}

// NewSmoother creates a smoother. staleAfter is the number of consecutive
// absent frames tolerated before a track goes stale; newFilter constructs
// the per-identity landmark filter.
func NewSmoother(staleAfter int, newFilter func() Filter) *Smoother {
	return &Smoother{
		staleAfter: staleAfter,
		newFilter:  newFilter,
		tracks:     make(map[int]*Track),
	}
}

// Observe feeds one matched frame's landmarks for an identity and returns
// the smoothed set. A track resuming from Stale blends toward the new
// observation through the retained filter state instead of snapping; a track
// restarting from Unseen begins fresh at the observation.
func (s *Smoother) Observe(id int, lm detector.Landmarks) detector.Landmarks {
	tr, ok := s.tracks[id]
	if !ok {
		tr = &Track{filter: s.newFilter()}
		s.tracks[id] = tr
	}

	if tr.state == Unseen {
		tr.filter.Reset()
	}
	tr.state = Tracking
	tr.missed = 0
	tr.last = tr.filter.Update(lm)
	return tr.last
}

// Miss records a frame in which the identity had no matched detection.
// Tracks transition Tracking -> Stale once the absence exceeds the stale
// threshold and Stale -> Unseen one frame later, discarding the estimate.
func (s *Smoother) Miss(id int) {
	tr, ok := s.tracks[id]
	if !ok || tr.state == Unseen {
		return
	}
	tr.missed++
	switch {
	case tr.missed > s.staleAfter+1:
		tr.state = Unseen
		tr.missed = 0
		tr.last = nil
		tr.filter.Reset()
	case tr.missed > s.staleAfter:
		tr.state = Stale
	}
}

// State returns the current state of the identity's track.
func (s *Smoother) State(id int) State {
	if tr, ok := s.tracks[id]; ok {
		return tr.state
	}
	return Unseen
}

// Last returns the most recent smoothed landmarks for the identity, or nil
// when the track is unseen.
func (s *Smoother) Last(id int) detector.Landmarks {
	if tr, ok := s.tracks[id]; ok {
		return tr.last
	}
	return nil
}

// FramesSinceSeen returns the consecutive-miss count for the identity.
func (s *Smoother) FramesSinceSeen(id int) int {
	if tr, ok := s.tracks[id]; ok {
		return tr.missed
	}
	return 0
}
