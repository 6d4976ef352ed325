package detector

import "image"

// Point represents a 2D point
type Point struct {
	X, Y float32
}

// BoundingBox represents a face bounding box
type BoundingBox struct {
	X1, Y1 float32 // top-left
	X2, Y2 float32 // bottom-right
}

// Width returns box width
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns box height
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Center returns box center point
func (b BoundingBox) Center() Point {
	return Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

// Area returns box area
func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// Scale returns the box with all coordinates multiplied by f.
// Used to map detections from a downscaled frame back to full resolution.
func (b BoundingBox) Scale(f float32) BoundingBox {
	return BoundingBox{X1: b.X1 * f, Y1: b.Y1 * f, X2: b.X2 * f, Y2: b.Y2 * f}
}

// PaddedRect returns the box expanded by pad pixels on each side, clamped to
// an image of the given dimensions.
func (b BoundingBox) PaddedRect(pad, width, height int) image.Rectangle {
	x1 := int(b.X1) - pad
	y1 := int(b.Y1) - pad
	x2 := int(b.X2) + pad
	y2 := int(b.Y2) + pad
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 > width {
		x2 = width
	}
	if y2 > height {
		y2 = height
	}
	return image.Rect(x1, y1, x2, y2)
}

// LandmarkCount is the canonical number of landmark points (iBUG 68 layout).
const LandmarkCount = 68

// Landmark index boundaries for the 68-point layout.
const (
	jawEnd      = 17
	leftBrowEnd = 27
)

// Landmarks is an ordered landmark point set. A complete set follows the
// 68-point layout; providers with sparser shape predictors may yield fewer
// points, which downstream code must tolerate.
type Landmarks []Point

// Complete reports whether the set carries the full 68-point layout.
func (l Landmarks) Complete() bool {
	return len(l) == LandmarkCount
}

// Centroid returns the mean point of the set.
func (l Landmarks) Centroid() Point {
	if len(l) == 0 {
		return Point{}
	}
	var cx, cy float32
	for _, p := range l {
		cx += p.X
		cy += p.Y
	}
	n := float32(len(l))
	return Point{X: cx / n, Y: cy / n}
}

// BoundingBox computes the tight bounding box around all points.
func (l Landmarks) BoundingBox() BoundingBox {
	if len(l) == 0 {
		return BoundingBox{}
	}
	minX, minY := l[0].X, l[0].Y
	maxX, maxY := l[0].X, l[0].Y
	for i := 1; i < len(l); i++ {
		if l[i].X < minX {
			minX = l[i].X
		}
		if l[i].X > maxX {
			maxX = l[i].X
		}
		if l[i].Y < minY {
			minY = l[i].Y
		}
		if l[i].Y > maxY {
			maxY = l[i].Y
		}
	}
	return BoundingBox{X1: minX, Y1: minY, X2: maxX, Y2: maxY}
}

// Outline returns the points bounding the face region: jawline plus eyebrows
// for a complete set, every point otherwise. The convex hull of these points
// is the blend mask boundary.
func (l Landmarks) Outline() []Point {
	if !l.Complete() {
		return l
	}
	return l[:leftBrowEnd]
}

// Scale returns the set with all coordinates multiplied by f.
func (l Landmarks) Scale(f float32) Landmarks {
	out := make(Landmarks, len(l))
	for i, p := range l {
		out[i] = Point{X: p.X * f, Y: p.Y * f}
	}
	return out
}

// Clone returns an independent copy of the set.
func (l Landmarks) Clone() Landmarks {
	out := make(Landmarks, len(l))
	copy(out, l)
	return out
}

// EmbeddingDim is the length of the face embedding vector.
const EmbeddingDim = 128

// Embedding is a fixed-length face appearance vector used for identity
// comparison.
type Embedding [EmbeddingDim]float32

// Float64s returns the embedding as a float64 slice.
func (e Embedding) Float64s() []float64 {
	out := make([]float64, EmbeddingDim)
	for i, v := range e {
		out[i] = float64(v)
	}
	return out
}

// Detection is one face observation in one frame. Immutable once produced.
type Detection struct {
	FrameIndex int
	Box        BoundingBox
	Landmarks  Landmarks
	Embedding  Embedding
	Score      float32
}
