package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/vidswap/internal/detector"
)

func lm(x, y float32) detector.Landmarks {
	return detector.Landmarks{{X: x, Y: y}, {X: x + 10, Y: y + 10}, {X: x + 20, Y: y}}
}

func TestEMA(t *testing.T) {
	t.Parallel()

	t.Run("first observation passes through", func(t *testing.T) {
		t.Parallel()
		f := NewEMA(0.4)
		out := f.Update(lm(100, 100))
		assert.Equal(t, lm(100, 100), out)
	})

	t.Run("converges on a stationary target", func(t *testing.T) {
		t.Parallel()
		f := NewEMA(0.4)
		f.Update(lm(0, 0))
		var out detector.Landmarks
		for i := 0; i < 50; i++ {
			out = f.Update(lm(100, 100))
		}
		assert.InDelta(t, 100, out[0].X, 0.5)
		assert.InDelta(t, 100, out[0].Y, 0.5)
	})

	t.Run("single step moves alpha of the way", func(t *testing.T) {
		t.Parallel()
		f := NewEMA(0.4)
		f.Update(lm(0, 0))
		out := f.Update(lm(100, 0))
		assert.InDelta(t, 40, out[0].X, 1e-3)
	})

	t.Run("reset forgets the estimate", func(t *testing.T) {
		t.Parallel()
		f := NewEMA(0.4)
		f.Update(lm(0, 0))
		f.Reset()
		out := f.Update(lm(100, 100))
		assert.Equal(t, lm(100, 100), out)
	})
}

func TestOneEuro(t *testing.T) {
	t.Parallel()

	t.Run("first observation passes through", func(t *testing.T) {
		t.Parallel()
		f := NewOneEuro(30, 1.0, 0.002, 1.0)
		out := f.Update(lm(50, 50))
		assert.Equal(t, lm(50, 50), out)
	})

	t.Run("converges on a stationary target", func(t *testing.T) {
		t.Parallel()
		f := NewOneEuro(30, 1.0, 0.002, 1.0)
		f.Update(lm(0, 0))
		var out detector.Landmarks
		for i := 0; i < 200; i++ {
			out = f.Update(lm(100, 100))
		}
		assert.InDelta(t, 100, out[0].X, 0.5)
	})

	t.Run("lags behind a step less than it would stand still", func(t *testing.T) {
		t.Parallel()
		f := NewOneEuro(30, 1.0, 0.002, 1.0)
		f.Update(lm(0, 0))
		out := f.Update(lm(100, 0))
		// Smoothed position is strictly between old and new.
		assert.Greater(t, out[0].X, float32(0))
		assert.Less(t, out[0].X, float32(100))
	})

	t.Run("deterministic for a fixed input sequence", func(t *testing.T) {
		t.Parallel()
		run := func() detector.Landmarks {
			f := NewOneEuro(30, 1.0, 0.002, 1.0)
			var out detector.Landmarks
			for i := 0; i < 10; i++ {
				out = f.Update(lm(float32(i*3), float32(i)))
			}
			return out
		}
		assert.Equal(t, run(), run())
	})
}

func TestKalman(t *testing.T) {
	t.Parallel()

	t.Run("first observation passes through", func(t *testing.T) {
		t.Parallel()
		f := NewKalman(1e-3, 1e-1)
		out := f.Update(lm(50, 50))
		assert.Equal(t, lm(50, 50), out)
	})

	t.Run("converges on a stationary target", func(t *testing.T) {
		t.Parallel()
		f := NewKalman(1e-3, 1e-1)
		f.Update(lm(0, 0))
		var out detector.Landmarks
		for i := 0; i < 200; i++ {
			out = f.Update(lm(100, 100))
		}
		assert.InDelta(t, 100, out[0].X, 0.5)
		assert.InDelta(t, 100, out[0].Y, 0.5)
	})

	t.Run("lags behind a step", func(t *testing.T) {
		t.Parallel()
		f := NewKalman(1e-3, 1e-1)
		f.Update(lm(0, 0))
		out := f.Update(lm(100, 0))
		assert.Greater(t, out[0].X, float32(0))
		assert.Less(t, out[0].X, float32(100))
	})

	t.Run("higher process variance tracks tighter", func(t *testing.T) {
		t.Parallel()
		slow := NewKalman(1e-4, 1e-1)
		fast := NewKalman(1e-1, 1e-1)
		slow.Update(lm(0, 0))
		fast.Update(lm(0, 0))
		var slowOut, fastOut detector.Landmarks
		for i := 0; i < 5; i++ {
			slowOut = slow.Update(lm(100, 0))
			fastOut = fast.Update(lm(100, 0))
		}
		assert.Greater(t, fastOut[0].X, slowOut[0].X)
	})

	t.Run("reset forgets the estimate", func(t *testing.T) {
		t.Parallel()
		f := NewKalman(1e-3, 1e-1)
		f.Update(lm(0, 0))
		f.Reset()
		out := f.Update(lm(100, 100))
		assert.Equal(t, lm(100, 100), out)
	})
}

func TestSmootherStates(t *testing.T) {
	t.Parallel()

	newSmoother := func(staleAfter int) *Smoother {
		return NewSmoother(staleAfter, func() Filter { return NewEMA(0.4) })
	}

	t.Run("unknown identity is unseen", func(t *testing.T) {
		t.Parallel()
		s := newSmoother(3)
		assert.Equal(t, Unseen, s.State(7))
		assert.Nil(t, s.Last(7))
	})

	t.Run("observation starts tracking", func(t *testing.T) {
		t.Parallel()
		s := newSmoother(3)
		out := s.Observe(0, lm(10, 10))
		assert.Equal(t, Tracking, s.State(0))
		assert.Equal(t, out, s.Last(0))
	})

	t.Run("short absence keeps the estimate live", func(t *testing.T) {
		t.Parallel()
		s := newSmoother(3)
		s.Observe(0, lm(10, 10))

		// Absent for 2 frames with a threshold of 3: still tracking.
		s.Miss(0)
		s.Miss(0)
		assert.Equal(t, Tracking, s.State(0))
		require.NotNil(t, s.Last(0))
		assert.Equal(t, 2, s.FramesSinceSeen(0))
	})

	t.Run("absence past threshold goes stale then unseen", func(t *testing.T) {
		t.Parallel()
		s := newSmoother(3)
		s.Observe(0, lm(10, 10))

		for i := 0; i < 3; i++ {
			s.Miss(0)
		}
		assert.Equal(t, Tracking, s.State(0))

		s.Miss(0)
		assert.Equal(t, Stale, s.State(0))
		assert.NotNil(t, s.Last(0))

		s.Miss(0)
		assert.Equal(t, Unseen, s.State(0))
		assert.Nil(t, s.Last(0))
	})

	t.Run("reacquiring a stale track blends instead of snapping", func(t *testing.T) {
		t.Parallel()
		s := newSmoother(2)
		s.Observe(0, lm(0, 0))
		s.Miss(0)
		s.Miss(0)
		s.Miss(0)
		require.Equal(t, Stale, s.State(0))

		out := s.Observe(0, lm(100, 100))
		assert.Equal(t, Tracking, s.State(0))
		// The retained filter state pulls the output toward the old position.
		assert.Less(t, out[0].X, float32(100))
		assert.Greater(t, out[0].X, float32(0))
	})

	t.Run("restart after unseen begins fresh", func(t *testing.T) {
		t.Parallel()
		s := newSmoother(1)
		s.Observe(0, lm(0, 0))
		s.Miss(0)
		s.Miss(0)
		s.Miss(0)
		require.Equal(t, Unseen, s.State(0))

		out := s.Observe(0, lm(100, 100))
		assert.Equal(t, lm(100, 100), out)
	})

	t.Run("identities are tracked independently", func(t *testing.T) {
		t.Parallel()
		s := newSmoother(3)
		s.Observe(0, lm(0, 0))
		s.Observe(1, lm(500, 500))
		s.Miss(1)

		assert.Equal(t, Tracking, s.State(0))
		assert.Equal(t, 0, s.FramesSinceSeen(0))
		assert.Equal(t, 1, s.FramesSinceSeen(1))
	})

	t.Run("missing an unseen identity is a no-op", func(t *testing.T) {
		t.Parallel()
		s := newSmoother(3)
		s.Miss(42)
		assert.Equal(t, Unseen, s.State(42))
	})
}
