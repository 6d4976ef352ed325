// Package pipeline orchestrates the two-pass face replacement run: a scan
// pass that discovers identities, and a render pass that swaps assigned
// faces and writes the output stream.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/dudu/vidswap/internal/detector"
	"github.com/dudu/vidswap/internal/identity"
	"github.com/dudu/vidswap/internal/provider"
	"github.com/dudu/vidswap/internal/swap"
	"github.com/dudu/vidswap/internal/track"
)

// progressInterval is how many frames pass between Progress callbacks.
const progressInterval = 25

// Options configures a Runner.
type Options struct {
	Provider provider.Provider

	// Threshold is the embedding distance below which a detection joins
	// an existing identity during the scan pass.
	Threshold float64
	// ScanFrameSkip samples every Nth frame during the scan pass.
	ScanFrameSkip int
	// DetectScale downscales frames before detection; geometry is mapped
	// back to full resolution. 1 disables downscaling.
	DetectScale float64

	StaleAfter int
	NewFilter  func() track.Filter

	Transform     swap.TransformKind
	Feather       int
	ColorMatch    bool
	ColorStrength float64

	Workers  int
	Progress Progress
}

// Summary reports what a render pass did.
type Summary struct {
	RunID           string
	IdentitiesFound int
	FramesWritten   int
	FramesSwapped   int
	FramesUntouched int
	BlendFallbacks  int
	DetectionErrors int
	FacesSkipped    int
}

// Runner executes the two passes. Scan must complete before Assign and
// Render. A Runner is not safe for concurrent method calls; each method
// manages its own internal concurrency.
type Runner struct {
	opts    Options
	set     *identity.Set
	matcher *identity.Matcher
	sources map[int]*swap.Source

	detectionErrors int
	facesSkipped    int
}

// New creates a Runner. Options must carry a Provider and a NewFilter
// factory; everything else has a working zero-adjacent default applied
// by the caller.
func New(opts Options) (*Runner, error) {
	if opts.Provider == nil {
		return nil, errors.New("pipeline: provider is required")
	}
	if opts.NewFilter == nil {
		return nil, errors.New("pipeline: smoothing filter factory is required")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ScanFrameSkip < 1 {
		opts.ScanFrameSkip = 1
	}
	if opts.DetectScale <= 0 || opts.DetectScale > 1 {
		opts.DetectScale = 1
	}
	return &Runner{opts: opts, sources: make(map[int]*swap.Source)}, nil
}

// observe runs the provider chain on one frame, detecting on a downscaled
// copy when DetectScale is set and mapping geometry back to frame
// coordinates.
func (r *Runner) observe(frame gocv.Mat, frameIndex int) ([]detector.Detection, int, error) {
	if r.opts.DetectScale >= 1 {
		return provider.Collect(r.opts.Provider, frame, frameIndex)
	}

	small := gocv.NewMat()
	gocv.Resize(frame, &small, image.Pt(0, 0), r.opts.DetectScale, r.opts.DetectScale, gocv.InterpolationLinear)
	dets, skipped, err := provider.Collect(r.opts.Provider, small, frameIndex)
	small.Close()
	if err != nil {
		return nil, skipped, err
	}

	inv := float32(1 / r.opts.DetectScale)
	for i := range dets {
		dets[i].Box = dets[i].Box.Scale(inv)
		dets[i].Landmarks = dets[i].Landmarks.Scale(inv)
	}
	return dets, skipped, nil
}

type scanJob struct {
	seq   int
	frame gocv.Mat
	index int
}

type scanResult struct {
	seq     int
	dets    []detector.Detection
	skipped int
	err     error
}

// Scan samples the stream, detects faces in parallel and clusters their
// embeddings into identities. Detections are clustered in frame order
// regardless of worker completion order, so identity numbering is
// deterministic for a given input. total is the stream's frame count for
// progress reporting (0 if unknown).
func (r *Runner) Scan(ctx context.Context, src FrameSource, total int) (*identity.Set, error) {
	clusterer := identity.NewClusterer(r.opts.Threshold)

	jobs := make(chan scanJob, r.opts.Workers)
	results := make(chan scanResult, r.opts.Workers)

	var wg sync.WaitGroup
	for w := 0; w < r.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				dets, skipped, err := r.observe(job.frame, job.index)
				job.frame.Close()
				results <- scanResult{seq: job.seq, dets: dets, skipped: skipped, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		frame := gocv.NewMat()
		defer frame.Close()
		seq := 0
		for {
			index, ok := src.Read(&frame)
			if !ok {
				return
			}
			if index%r.opts.ScanFrameSkip != 0 {
				continue
			}
			clone := frame.Clone()
			select {
			case jobs <- scanJob{seq: seq, frame: clone, index: index}:
				seq++
			case <-ctx.Done():
				clone.Close()
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Reorder results back into frame order before clustering.
	pending := make(map[int]scanResult)
	next := 0
	processed := 0
	for res := range results {
		pending[res.seq] = res
		for {
			cur, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			if cur.err != nil {
				r.detectionErrors++
			} else {
				r.facesSkipped += cur.skipped
				for _, det := range cur.dets {
					clusterer.Add(det)
				}
			}
			processed++
			r.report(processed, total)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.set = clusterer.Freeze()
	r.matcher = identity.NewMatcher(r.set)
	return r.set, nil
}

// Assign binds a replacement face to a discovered identity. Unassigned
// identities pass through untouched in the render pass.
func (r *Runner) Assign(id int, source *swap.Source) error {
	if r.set == nil {
		return errors.New("pipeline: Scan must complete before Assign")
	}
	if r.set.Get(id) == nil {
		return fmt.Errorf("pipeline: unknown identity %d (have %d)", id, r.set.Len())
	}
	r.sources[id] = source
	return nil
}

type swapAction struct {
	source    *swap.Source
	landmarks detector.Landmarks
}

type renderJob struct {
	index   int
	frame   gocv.Mat
	actions []swapAction
}

type renderedFrame struct {
	index   int
	frame   gocv.Mat
	swapped bool
}

// Render runs the second pass: match detections to identities, smooth
// landmarks per identity, and swap every assigned face. Frames leave the
// sink in strictly ascending order. The source is rewound first.
func (r *Runner) Render(ctx context.Context, src FrameSource, sink FrameSink, total int) (Summary, error) {
	if r.set == nil {
		return Summary{}, errors.New("pipeline: Scan must complete before Render")
	}
	if err := src.Reset(); err != nil {
		return Summary{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	smoother := track.NewSmoother(r.opts.StaleAfter, r.opts.NewFilter)

	jobs := make(chan renderJob, r.opts.Workers)
	rendered := make(chan renderedFrame, r.opts.Workers)

	var blendFallbacks, facesSkipped atomic.Int64

	var wg sync.WaitGroup
	for w := 0; w < r.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			aligner, err := swap.NewAligner(r.opts.Transform)
			if err != nil {
				// Transform kind was validated upstream; drain defensively.
				for job := range jobs {
					rendered <- renderedFrame{index: job.index, frame: job.frame}
				}
				return
			}
			blender := swap.NewBlender(r.opts.Feather, r.opts.ColorMatch, r.opts.ColorStrength)
			defer blender.Close()

			for job := range jobs {
				swapped := false
				for _, act := range job.actions {
					t, err := aligner.Estimate(act.source.Landmarks, act.landmarks)
					if err != nil {
						facesSkipped.Add(1)
						continue
					}
					warped := aligner.Warp(act.source.Image, t, image.Pt(job.frame.Cols(), job.frame.Rows()))
					fallback, err := blender.Blend(warped, &job.frame, act.landmarks)
					warped.Close()
					if err != nil {
						facesSkipped.Add(1)
						continue
					}
					if fallback {
						blendFallbacks.Add(1)
					}
					swapped = true
				}
				rendered <- renderedFrame{index: job.index, frame: job.frame, swapped: swapped}
			}
		}()
	}

	// The matcher and smoother are stateful and order-sensitive, so the
	// producer runs detection, matching and smoothing sequentially and
	// hands only the heavy align/blend work to the pool.
	go func() {
		defer close(jobs)
		frame := gocv.NewMat()
		defer frame.Close()
		for {
			index, ok := src.Read(&frame)
			if !ok {
				return
			}

			dets, skipped, err := r.observe(frame, index)
			if err != nil {
				r.detectionErrors++
				dets = nil
			}
			r.facesSkipped += skipped

			assigned := r.matcher.Match(dets)
			observed := make(map[int]detector.Landmarks, len(dets))
			for i, id := range assigned {
				if id != identity.Unmatched {
					observed[id] = dets[i].Landmarks
				}
			}

			var actions []swapAction
			for _, id := range r.set.IDs() {
				lm, seen := observed[id]
				if seen {
					lm = smoother.Observe(id, lm)
				} else {
					smoother.Miss(id)
					lm = smoother.Last(id)
				}
				source, wanted := r.sources[id]
				if !wanted || lm == nil || smoother.State(id) == track.Unseen {
					continue
				}
				actions = append(actions, swapAction{source: source, landmarks: lm.Clone()})
			}

			clone := frame.Clone()
			select {
			case jobs <- renderJob{index: index, frame: clone, actions: actions}:
			case <-ctx.Done():
				clone.Close()
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(rendered)
	}()

	// Sequence rendered frames back into strict index order for the sink.
	pending := make(map[int]renderedFrame)
	next := 0
	summary := Summary{
		RunID:           uuid.NewString(),
		IdentitiesFound: r.set.Len(),
	}
	var sinkErr error
	for rf := range rendered {
		pending[rf.index] = rf
		for {
			cur, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			if sinkErr == nil {
				if err := sink.Write(cur.index, cur.frame); err != nil {
					sinkErr = err
					cancel()
				} else {
					summary.FramesWritten++
					if cur.swapped {
						summary.FramesSwapped++
					} else {
						summary.FramesUntouched++
					}
					r.report(summary.FramesWritten, total)
				}
			}
			cur.frame.Close()
		}
	}
	for _, rf := range pending {
		rf.frame.Close()
	}

	summary.BlendFallbacks = int(blendFallbacks.Load())
	summary.DetectionErrors = r.detectionErrors
	summary.FacesSkipped = r.facesSkipped + int(facesSkipped.Load())

	if sinkErr != nil {
		return summary, fmt.Errorf("write output: %w", sinkErr)
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (r *Runner) report(processed, total int) {
	if r.opts.Progress == nil {
		return
	}
	if processed%progressInterval == 0 || processed == total {
		r.opts.Progress(processed, total)
	}
}

// Close releases the assigned replacement sources. The provider is owned
// by the caller.
func (r *Runner) Close() {
	seen := make(map[*swap.Source]bool)
	for _, s := range r.sources {
		if !seen[s] {
			seen[s] = true
			s.Close()
		}
	}
	r.sources = make(map[int]*swap.Source)
}
