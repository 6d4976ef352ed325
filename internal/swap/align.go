// Package swap warps a still replacement face onto a target detection and
// composites it into the frame.
package swap

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"github.com/dudu/vidswap/internal/detector"
)

// MinAlignmentPoints is the minimum number of corresponding landmark pairs
// needed to estimate a transform.
const MinAlignmentPoints = 3

// ErrInsufficientPoints reports that too few usable landmark
// correspondences remain to fit a transform; the frame's swap is skipped.
var ErrInsufficientPoints = errors.New("swap: insufficient corresponding points for alignment")

// TransformKind selects the geometric model fitted over landmark pairs.
type TransformKind string

const (
	// Similarity fits rotation, uniform scale and translation.
	Similarity TransformKind = "similarity"
	// Affine fits a full 6-parameter affine map.
	Affine TransformKind = "affine"
)

// Transform is a 2x3 affine matrix in row-major order.
type Transform struct {
	M [6]float64
}

// Mat returns the transform as a 2x3 CV64F matrix for gocv warps.
// The caller owns the returned Mat.
func (t Transform) Mat() gocv.Mat {
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			m.SetDoubleAt(i, j, t.M[i*3+j])
		}
	}
	return m
}

// Apply maps a single point through the transform.
func (t Transform) Apply(p detector.Point) detector.Point {
	x := float64(p.X)
	y := float64(p.Y)
	return detector.Point{
		X: float32(t.M[0]*x + t.M[1]*y + t.M[2]),
		Y: float32(t.M[3]*x + t.M[4]*y + t.M[5]),
	}
}

// Aligner estimates geometric transforms between landmark sets and
// resamples replacement pixels through them.
type Aligner struct {
	kind TransformKind
}

// NewAligner creates an aligner fitting the given transform kind.
func NewAligner(kind TransformKind) (*Aligner, error) {
	switch kind {
	case Similarity, Affine:
		return &Aligner{kind: kind}, nil
	default:
		return nil, fmt.Errorf("swap: unknown transform kind %q", kind)
	}
}

// Estimate computes the transform mapping src landmark geometry onto dst
// landmark geometry by least squares over corresponding point pairs. The two
// sets must have equal length; fewer than MinAlignmentPoints pairs, or a
// degenerate configuration, yields ErrInsufficientPoints.
func (a *Aligner) Estimate(src, dst detector.Landmarks) (Transform, error) {
	if len(src) != len(dst) {
		return Transform{}, fmt.Errorf("swap: landmark count mismatch %d vs %d", len(src), len(dst))
	}
	if len(src) < MinAlignmentPoints {
		return Transform{}, ErrInsufficientPoints
	}
	if a.kind == Affine {
		return estimateAffine(src, dst)
	}
	return estimateSimilarity(src, dst)
}

// Warp resamples src through the transform into a frame of the given size.
// The caller owns the returned Mat.
func (a *Aligner) Warp(src gocv.Mat, t Transform, size image.Point) gocv.Mat {
	m := t.Mat()
	defer m.Close()

	warped := gocv.NewMat()
	gocv.WarpAffine(src, &warped, m, size)
	return warped
}

// estimateSimilarity computes a 2D similarity transform (rotation, scale,
// translation) from source points to destination points by least squares.
func estimateSimilarity(src, dst detector.Landmarks) (Transform, error) {
	n := len(src)

	// Compute centroids
	var srcCx, srcCy, dstCx, dstCy float64
	for i := 0; i < n; i++ {
		srcCx += float64(src[i].X)
		srcCy += float64(src[i].Y)
		dstCx += float64(dst[i].X)
		dstCy += float64(dst[i].Y)
	}
	srcCx /= float64(n)
	srcCy /= float64(n)
	dstCx /= float64(n)
	dstCy /= float64(n)

	// Center the points and accumulate norms and cross-covariance
	var srcNorm, dstNorm float64
	var a11, a12, a21, a22 float64
	for i := 0; i < n; i++ {
		sx := float64(src[i].X) - srcCx
		sy := float64(src[i].Y) - srcCy
		dx := float64(dst[i].X) - dstCx
		dy := float64(dst[i].Y) - dstCy

		srcNorm += sx*sx + sy*sy
		dstNorm += dx*dx + dy*dy

		a11 += sx * dx
		a12 += sx * dy
		a21 += sy * dx
		a22 += sy * dy
	}

	srcNorm = math.Sqrt(srcNorm)
	dstNorm = math.Sqrt(dstNorm)
	if srcNorm < 1e-9 || dstNorm < 1e-9 {
		// All points coincide; no geometry to fit.
		return Transform{}, ErrInsufficientPoints
	}

	// cos(θ) ∝ a11 + a22, sin(θ) ∝ a21 - a12
	norm := math.Sqrt((a11+a22)*(a11+a22) + (a21-a12)*(a21-a12))
	if norm < 1e-10 {
		return Transform{}, ErrInsufficientPoints
	}

	cosTheta := (a11 + a22) / norm
	sinTheta := (a21 - a12) / norm
	scale := dstNorm / srcNorm

	// Translation: dstC - scale * R * srcC
	tx := dstCx - scale*(cosTheta*srcCx-sinTheta*srcCy)
	ty := dstCy - scale*(sinTheta*srcCx+cosTheta*srcCy)

	return Transform{M: [6]float64{
		scale * cosTheta, -scale * sinTheta, tx,
		scale * sinTheta, scale * cosTheta, ty,
	}}, nil
}

// estimateAffine solves the over-determined system [x y 1] * P = [x' y']
// for the six affine parameters by least squares.
func estimateAffine(src, dst detector.Landmarks) (Transform, error) {
	n := len(src)

	A := mat.NewDense(n, 3, nil)
	B := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		A.Set(i, 0, float64(src[i].X))
		A.Set(i, 1, float64(src[i].Y))
		A.Set(i, 2, 1)
		B.Set(i, 0, float64(dst[i].X))
		B.Set(i, 1, float64(dst[i].Y))
	}

	var p mat.Dense
	if err := p.Solve(A, B); err != nil {
		// Rank-deficient: collinear or coincident points.
		return Transform{}, ErrInsufficientPoints
	}

	return Transform{M: [6]float64{
		p.At(0, 0), p.At(1, 0), p.At(2, 0),
		p.At(0, 1), p.At(1, 1), p.At(2, 1),
	}}, nil
}
