package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/dudu/vidswap/internal/detector"
	"github.com/dudu/vidswap/internal/swap"
	"github.com/dudu/vidswap/internal/track"
)

const (
	testWidth  = 64
	testHeight = 48
)

// fakeSource serves synthetic frames. The frame index is stamped into the
// top-left pixel so the fake provider can recover it from pixels alone.
type fakeSource struct {
	frames int
	next   int
}

func (s *fakeSource) Read(frame *gocv.Mat) (int, bool) {
	if s.next >= s.frames {
		return 0, false
	}
	m := gocv.NewMatWithSize(testHeight, testWidth, gocv.MatTypeCV8UC3)
	m.SetTo(gocv.NewScalar(90, 90, 90, 0))
	m.SetUCharAt(0, 0, uint8(s.next))
	m.CopyTo(frame)
	m.Close()
	index := s.next
	s.next++
	return index, true
}

func (s *fakeSource) Reset() error {
	s.next = 0
	return nil
}

// fakeProvider plays back scripted detections per frame index, read from
// the stamp pixel. It implements the single-pass fast path.
type fakeProvider struct {
	mu       sync.Mutex
	dets     func(frameIndex int) []detector.Detection
	observed []int
	failOn   map[int]bool
}

func (p *fakeProvider) Observe(img gocv.Mat) ([]detector.Detection, error) {
	index := int(img.GetUCharAt(0, 0))

	p.mu.Lock()
	p.observed = append(p.observed, index)
	fail := p.failOn[index]
	p.mu.Unlock()

	if fail {
		return nil, errors.New("scripted detection failure")
	}
	return p.dets(index), nil
}

func (p *fakeProvider) Detect(img gocv.Mat) ([]detector.BoundingBox, error) {
	return nil, errors.New("not used: Observe covers the fake")
}

func (p *fakeProvider) Landmarks(img gocv.Mat, box detector.BoundingBox) (detector.Landmarks, error) {
	return nil, errors.New("not used: Observe covers the fake")
}

func (p *fakeProvider) Embed(img gocv.Mat, lm detector.Landmarks) (detector.Embedding, error) {
	return detector.Embedding{}, errors.New("not used: Observe covers the fake")
}

func (p *fakeProvider) Close() error { return nil }

func (p *fakeProvider) observedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.observed)
}

// fakeSink records write order and can fail at a chosen frame.
type fakeSink struct {
	mu      sync.Mutex
	indices []int
	failAt  int // -1 disables
}

func (s *fakeSink) Write(frameIndex int, frame gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt >= 0 && frameIndex == s.failAt {
		return fmt.Errorf("scripted sink failure at %d", frameIndex)
	}
	s.indices = append(s.indices, frameIndex)
	return nil
}

func faceDet(frame int, emb float32) detector.Detection {
	var e detector.Embedding
	e[0] = emb
	return detector.Detection{
		FrameIndex: frame,
		Box:        detector.BoundingBox{X1: 15, Y1: 10, X2: 45, Y2: 40},
		Landmarks:  detector.Landmarks{{X: 20, Y: 15}, {X: 40, Y: 15}, {X: 30, Y: 35}},
		Embedding:  e,
		Score:      1,
	}
}

func testOptions(p *fakeProvider) Options {
	return Options{
		Provider:      p,
		Threshold:     0.6,
		ScanFrameSkip: 1,
		DetectScale:   1,
		StaleAfter:    3,
		NewFilter:     func() track.Filter { return track.NewEMA(0.4) },
		Transform:     swap.Similarity,
		Feather:       2,
		Workers:       4,
	}
}

func testSource() *swap.Source {
	img := gocv.NewMatWithSize(50, 50, gocv.MatTypeCV8UC3)
	img.SetTo(gocv.NewScalar(40, 160, 40, 0))
	return &swap.Source{
		Image:     img,
		Landmarks: detector.Landmarks{{X: 10, Y: 10}, {X: 40, Y: 10}, {X: 25, Y: 40}},
		Path:      "fake.png",
	}
}

func TestRunnerScan(t *testing.T) {
	t.Run("clusters two people into two identities", func(t *testing.T) {
		p := &fakeProvider{dets: func(i int) []detector.Detection {
			// Person A in every frame, person B in even frames.
			dets := []detector.Detection{faceDet(i, 0)}
			if i%2 == 0 {
				dets = append(dets, faceDet(i, 2.0))
			}
			return dets
		}}
		r, err := New(testOptions(p))
		require.NoError(t, err)

		set, err := r.Scan(context.Background(), &fakeSource{frames: 8}, 8)
		require.NoError(t, err)
		assert.Equal(t, 2, set.Len())
		assert.Equal(t, 8, set.Get(0).Members)
		assert.Equal(t, 4, set.Get(1).Members)
	})

	t.Run("respects the frame skip", func(t *testing.T) {
		p := &fakeProvider{dets: func(i int) []detector.Detection { return nil }}
		opts := testOptions(p)
		opts.ScanFrameSkip = 3
		r, err := New(opts)
		require.NoError(t, err)

		_, err = r.Scan(context.Background(), &fakeSource{frames: 10}, 10)
		require.NoError(t, err)
		// Frames 0, 3, 6, 9.
		assert.Equal(t, 4, p.observedCount())
	})

	t.Run("video with no faces yields an empty set", func(t *testing.T) {
		p := &fakeProvider{dets: func(i int) []detector.Detection { return nil }}
		r, err := New(testOptions(p))
		require.NoError(t, err)

		set, err := r.Scan(context.Background(), &fakeSource{frames: 5}, 5)
		require.NoError(t, err)
		assert.Equal(t, 0, set.Len())
	})

	t.Run("cancellation stops the scan", func(t *testing.T) {
		p := &fakeProvider{dets: func(i int) []detector.Detection { return nil }}
		r, err := New(testOptions(p))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = r.Scan(ctx, &fakeSource{frames: 10000}, 10000)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRunnerAssign(t *testing.T) {
	p := &fakeProvider{dets: func(i int) []detector.Detection {
		return []detector.Detection{faceDet(i, 0)}
	}}

	t.Run("before scan fails", func(t *testing.T) {
		r, err := New(testOptions(p))
		require.NoError(t, err)
		assert.Error(t, r.Assign(0, testSource()))
	})

	t.Run("unknown identity fails", func(t *testing.T) {
		r, err := New(testOptions(p))
		require.NoError(t, err)
		_, err = r.Scan(context.Background(), &fakeSource{frames: 4}, 4)
		require.NoError(t, err)

		assert.Error(t, r.Assign(5, testSource()))
		assert.NoError(t, r.Assign(0, testSource()))
		r.Close()
	})
}

func TestRunnerRender(t *testing.T) {
	newScripted := func(dets func(int) []detector.Detection) *fakeProvider {
		return &fakeProvider{dets: dets}
	}
	onePerson := func(i int) []detector.Detection {
		return []detector.Detection{faceDet(i, 0)}
	}

	t.Run("writes every frame exactly once in order", func(t *testing.T) {
		p := newScripted(onePerson)
		r, err := New(testOptions(p))
		require.NoError(t, err)
		defer r.Close()

		_, err = r.Scan(context.Background(), &fakeSource{frames: 20}, 20)
		require.NoError(t, err)
		require.NoError(t, r.Assign(0, testSource()))

		sink := &fakeSink{failAt: -1}
		summary, err := r.Render(context.Background(), &fakeSource{frames: 20}, sink, 20)
		require.NoError(t, err)

		require.Len(t, sink.indices, 20)
		for i, idx := range sink.indices {
			assert.Equal(t, i, idx)
		}
		assert.Equal(t, 20, summary.FramesWritten)
		assert.Equal(t, 20, summary.FramesSwapped)
		assert.Equal(t, 1, summary.IdentitiesFound)
		assert.NotEmpty(t, summary.RunID)
	})

	t.Run("unassigned identities pass through", func(t *testing.T) {
		p := newScripted(onePerson)
		r, err := New(testOptions(p))
		require.NoError(t, err)
		defer r.Close()

		_, err = r.Scan(context.Background(), &fakeSource{frames: 6}, 6)
		require.NoError(t, err)

		sink := &fakeSink{failAt: -1}
		summary, err := r.Render(context.Background(), &fakeSource{frames: 6}, sink, 6)
		require.NoError(t, err)
		assert.Equal(t, 6, summary.FramesWritten)
		assert.Equal(t, 0, summary.FramesSwapped)
		assert.Equal(t, 6, summary.FramesUntouched)
	})

	t.Run("detection failure passes the frame through", func(t *testing.T) {
		p := newScripted(onePerson)
		p.failOn = map[int]bool{3: true}
		r, err := New(testOptions(p))
		require.NoError(t, err)
		defer r.Close()

		_, err = r.Scan(context.Background(), &fakeSource{frames: 6}, 6)
		require.NoError(t, err)
		require.NoError(t, r.Assign(0, testSource()))

		// Same frame fails again on the render pass.
		sink := &fakeSink{failAt: -1}
		summary, err := r.Render(context.Background(), &fakeSource{frames: 6}, sink, 6)
		require.NoError(t, err)
		assert.Len(t, sink.indices, 6)
		assert.GreaterOrEqual(t, summary.DetectionErrors, 1)
	})

	t.Run("brief absence keeps swapping through the gap", func(t *testing.T) {
		p := newScripted(func(i int) []detector.Detection {
			if i == 3 || i == 4 {
				return nil // absent for 2 frames, under the threshold of 3
			}
			return onePerson(i)
		})
		r, err := New(testOptions(p))
		require.NoError(t, err)
		defer r.Close()

		_, err = r.Scan(context.Background(), &fakeSource{frames: 8}, 8)
		require.NoError(t, err)
		require.NoError(t, r.Assign(0, testSource()))

		sink := &fakeSink{failAt: -1}
		summary, err := r.Render(context.Background(), &fakeSource{frames: 8}, sink, 8)
		require.NoError(t, err)
		// Held estimate covers the gap frames too.
		assert.Equal(t, 8, summary.FramesSwapped)
	})

	t.Run("long absence stops swapping", func(t *testing.T) {
		p := newScripted(func(i int) []detector.Detection {
			if i < 2 {
				return onePerson(i)
			}
			return nil // gone for the rest of the clip
		})
		r, err := New(testOptions(p))
		require.NoError(t, err)
		defer r.Close()

		_, err = r.Scan(context.Background(), &fakeSource{frames: 12}, 12)
		require.NoError(t, err)
		require.NoError(t, r.Assign(0, testSource()))

		sink := &fakeSink{failAt: -1}
		summary, err := r.Render(context.Background(), &fakeSource{frames: 12}, sink, 12)
		require.NoError(t, err)
		// Swaps the 2 matched frames plus the held estimate, then stops.
		assert.Less(t, summary.FramesSwapped, 12)
		assert.GreaterOrEqual(t, summary.FramesSwapped, 2)
	})

	t.Run("before scan fails", func(t *testing.T) {
		p := newScripted(onePerson)
		r, err := New(testOptions(p))
		require.NoError(t, err)

		_, err = r.Render(context.Background(), &fakeSource{frames: 4}, &fakeSink{failAt: -1}, 4)
		assert.Error(t, err)
	})

	t.Run("cancellation stops the render", func(t *testing.T) {
		p := newScripted(onePerson)
		r, err := New(testOptions(p))
		require.NoError(t, err)
		defer r.Close()

		_, err = r.Scan(context.Background(), &fakeSource{frames: 4}, 4)
		require.NoError(t, err)
		require.NoError(t, r.Assign(0, testSource()))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = r.Render(ctx, &fakeSource{frames: 10000}, &fakeSink{failAt: -1}, 10000)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("sink failure is terminal", func(t *testing.T) {
		p := newScripted(onePerson)
		r, err := New(testOptions(p))
		require.NoError(t, err)
		defer r.Close()

		_, err = r.Scan(context.Background(), &fakeSource{frames: 10}, 10)
		require.NoError(t, err)

		sink := &fakeSink{failAt: 3}
		_, err = r.Render(context.Background(), &fakeSource{frames: 10}, sink, 10)
		require.Error(t, err)
		// Frames before the failure were written in order.
		assert.Equal(t, []int{0, 1, 2}, sink.indices)
	})
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{dets: func(i int) []detector.Detection { return nil }}

	t.Run("requires a provider", func(t *testing.T) {
		t.Parallel()
		opts := testOptions(p)
		opts.Provider = nil
		_, err := New(opts)
		assert.Error(t, err)
	})

	t.Run("requires a filter factory", func(t *testing.T) {
		t.Parallel()
		opts := testOptions(p)
		opts.NewFilter = nil
		_, err := New(opts)
		assert.Error(t, err)
	})

	t.Run("clamps worker and skip settings", func(t *testing.T) {
		t.Parallel()
		opts := testOptions(p)
		opts.Workers = 0
		opts.ScanFrameSkip = 0
		opts.DetectScale = 0
		r, err := New(opts)
		require.NoError(t, err)
		assert.NotNil(t, r)
	})
}
