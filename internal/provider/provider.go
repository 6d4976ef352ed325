// Package provider abstracts the low-level face primitives: detection,
// landmark localization and embedding. Concrete backends are selected at
// startup.
package provider

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/dudu/vidswap/internal/detector"
)

// ErrNoFace reports that no face was found where one was required.
// Zero detections in a video frame is a valid result, not this error.
var ErrNoFace = errors.New("provider: no face detected")

// ErrInsufficientLandmarks reports that the landmark extractor could not
// find enough facial structure in the given box.
var ErrInsufficientLandmarks = errors.New("provider: not enough facial structure for landmarks")

// Provider supplies the face primitives. Implementations must be safe for
// concurrent use; heavyweight backends may serialize internally.
type Provider interface {
	// Detect returns zero or more face bounding boxes found in the frame.
	Detect(img gocv.Mat) ([]detector.BoundingBox, error)
	// Landmarks localizes the ordered landmark set for one detected box.
	Landmarks(img gocv.Mat, box detector.BoundingBox) (detector.Landmarks, error)
	// Embed computes the fixed-length embedding for a localized face.
	Embed(img gocv.Mat, lm detector.Landmarks) (detector.Embedding, error)
	Close() error
}

// BatchObserver is implemented by providers whose backend produces box,
// landmarks and embedding in a single pass. Collect prefers it over the
// three-call composition.
type BatchObserver interface {
	Observe(img gocv.Mat) ([]detector.Detection, error)
}

// Collect runs the full observation chain on one frame and returns the
// detections with the given frame index. Faces whose landmark or embedding
// step fails are skipped and counted, not errors.
func Collect(p Provider, img gocv.Mat, frameIndex int) (dets []detector.Detection, skipped int, err error) {
	if bo, ok := p.(BatchObserver); ok {
		dets, err = bo.Observe(img)
		if err != nil {
			return nil, 0, err
		}
		for i := range dets {
			dets[i].FrameIndex = frameIndex
		}
		return dets, 0, nil
	}

	boxes, err := p.Detect(img)
	if err != nil {
		return nil, 0, fmt.Errorf("detect: %w", err)
	}
	for _, box := range boxes {
		lm, lerr := p.Landmarks(img, box)
		if lerr != nil {
			skipped++
			continue
		}
		emb, eerr := p.Embed(img, lm)
		if eerr != nil {
			skipped++
			continue
		}
		dets = append(dets, detector.Detection{
			FrameIndex: frameIndex,
			Box:        box,
			Landmarks:  lm,
			Embedding:  emb,
			Score:      1.0,
		})
	}
	return dets, skipped, nil
}
