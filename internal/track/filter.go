package track

import (
	"math"

	"github.com/dudu/vidswap/internal/detector"
)

// Filter low-pass filters a landmark set across consecutive frames.
type Filter interface {
	// Update folds one observation into the estimate and returns the
	// smoothed set.
	Update(lm detector.Landmarks) detector.Landmarks
	// Reset discards the estimate.
	Reset()
}

// EMA is an exponential moving average smoother for landmark sets.
// Alpha is the weight of the new observation: 1.0 disables smoothing,
// smaller values damp jitter harder at the cost of lag on fast motion.
type EMA struct {
	alpha float32
	state detector.Landmarks
}

// NewEMA creates an EMA filter. Alpha must be in (0, 1].
func NewEMA(alpha float64) *EMA {
	return &EMA{alpha: float32(alpha)}
}

func (f *EMA) Update(lm detector.Landmarks) detector.Landmarks {
	if f.state == nil || len(f.state) != len(lm) {
		f.state = lm.Clone()
		return f.state.Clone()
	}
	a := f.alpha
	for i, p := range lm {
		f.state[i].X = a*p.X + (1-a)*f.state[i].X
		f.state[i].Y = a*p.Y + (1-a)*f.state[i].Y
	}
	return f.state.Clone()
}

func (f *EMA) Reset() {
	f.state = nil
}

// OneEuro smooths landmark sets with a speed-adaptive cutoff: slow motion is
// filtered hard, fast motion tracks tightly. Frame-indexed; dt is fixed at
// 1/freq so results are reproducible.
type OneEuro struct {
	freq      float64
	minCutoff float64
	beta      float64
	dCutoff   float64

	x  []float64
	dx []float64
}

// NewOneEuro creates a one euro filter with the given parameters.
func NewOneEuro(freq, minCutoff, beta, dCutoff float64) *OneEuro {
	return &OneEuro{freq: freq, minCutoff: minCutoff, beta: beta, dCutoff: dCutoff}
}

func alphaFor(cutoff, dt float64) float64 {
	tau := 1.0 / (2 * math.Pi * cutoff)
	return 1.0 / (1.0 + tau/dt)
}

func (f *OneEuro) Update(lm detector.Landmarks) detector.Landmarks {
	flat := flatten(lm)
	if f.x == nil || len(f.x) != len(flat) {
		f.x = flat
		f.dx = make([]float64, len(flat))
		return lm.Clone()
	}

	dt := 1.0 / f.freq
	ad := alphaFor(f.dCutoff, dt)

	var speed float64
	dx := make([]float64, len(flat))
	for i, v := range flat {
		d := (v - f.x[i]) / dt
		dx[i] = ad*d + (1-ad)*f.dx[i]
		speed += math.Abs(dx[i])
	}
	speed /= float64(len(flat))

	cutoff := f.minCutoff + f.beta*speed
	a := alphaFor(cutoff, dt)
	for i, v := range flat {
		f.x[i] = a*v + (1-a)*f.x[i]
	}
	f.dx = dx

	return unflatten(f.x, len(lm))
}

func (f *OneEuro) Reset() {
	f.x = nil
	f.dx = nil
}

// Kalman runs an independent scalar constant-position Kalman filter per
// landmark coordinate. Process variance controls how fast the estimate
// follows motion; measurement variance controls how much each observation
// is trusted.
type Kalman struct {
	processVar float64
	measureVar float64

	x   []float64
	err []float64
}

// NewKalman creates a Kalman filter with the given variances.
func NewKalman(processVar, measureVar float64) *Kalman {
	return &Kalman{processVar: processVar, measureVar: measureVar}
}

func (f *Kalman) Update(lm detector.Landmarks) detector.Landmarks {
	flat := flatten(lm)
	if f.x == nil || len(f.x) != len(flat) {
		f.x = flat
		f.err = make([]float64, len(flat))
		for i := range f.err {
			f.err[i] = 1.0
		}
		return lm.Clone()
	}

	for i, z := range flat {
		prioriErr := f.err[i] + f.processVar
		gain := prioriErr / (prioriErr + f.measureVar)
		f.x[i] += gain * (z - f.x[i])
		f.err[i] = (1 - gain) * prioriErr
	}

	return unflatten(f.x, len(lm))
}

func (f *Kalman) Reset() {
	f.x = nil
	f.err = nil
}

func flatten(lm detector.Landmarks) []float64 {
	out := make([]float64, 0, len(lm)*2)
	for _, p := range lm {
		out = append(out, float64(p.X), float64(p.Y))
	}
	return out
}

func unflatten(flat []float64, n int) detector.Landmarks {
	out := make(detector.Landmarks, n)
	for i := 0; i < n; i++ {
		out[i] = detector.Point{X: float32(flat[i*2]), Y: float32(flat[i*2+1])}
	}
	return out
}
