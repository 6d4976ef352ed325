package swap

import (
	"errors"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/dudu/vidswap/internal/detector"
)

// ErrEmptyMask reports that no usable face-region mask could be built from
// the target landmarks.
var ErrEmptyMask = errors.New("swap: empty blend mask")

// Blender composites a warped replacement face onto a frame inside a
// feathered convex-hull mask. Pixels outside the mask are left untouched.
type Blender struct {
	feather       int
	colorMatch    bool
	colorStrength float64
	erosionKernel gocv.Mat
}

// NewBlender creates a blender. feather is the mask feather radius in
// pixels; colorStrength in [0,1] scales the LAB color transfer toward the
// target region.
func NewBlender(feather int, colorMatch bool, colorStrength float64) *Blender {
	return &Blender{
		feather:       feather,
		colorMatch:    colorMatch,
		colorStrength: colorStrength,
		erosionKernel: gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(3, 3)),
	}
}

// Blend composites warped into frame using a mask built from the target
// landmarks' convex hull, gradient-domain cloned so the seam is invisible.
// Returns fallback=true when seamless cloning was not applicable and plain
// feathered alpha compositing was used instead.
func (b *Blender) Blend(warped gocv.Mat, frame *gocv.Mat, lm detector.Landmarks) (fallback bool, err error) {
	mask, maskRect := b.hullMask(frame.Rows(), frame.Cols(), lm)
	defer mask.Close()
	if gocv.CountNonZero(mask) == 0 {
		return false, ErrEmptyMask
	}

	if b.colorMatch {
		b.transferColor(&warped, *frame, maskRect)
	}

	center := lm.Centroid()
	cx, cy := int(center.X), int(center.Y)
	if !cloneFits(maskRect, image.Pt(cx, cy), frame.Cols(), frame.Rows()) {
		// OpenCV pastes the mask's bounding rect centered at the seed
		// point and hard-asserts that the resulting ROI lies inside the
		// frame; that abort cannot be caught from Go, so faces near the
		// border take the alpha path instead.
		b.alphaBlend(warped, frame, mask)
		return true, nil
	}

	blended := gocv.NewMat()
	defer blended.Close()
	gocv.SeamlessClone(warped, *frame, mask, image.Pt(cx, cy), &blended, gocv.NormalClone)
	if blended.Empty() {
		b.alphaBlend(warped, frame, mask)
		return true, nil
	}
	blended.CopyTo(frame)
	return false, nil
}

// cloneFits reports whether the mask bounding rect, re-centered at the seed
// point the way SeamlessClone places it, stays inside a width x height frame.
func cloneFits(rect image.Rectangle, center image.Point, width, height int) bool {
	w := rect.Dx()
	h := rect.Dy()
	if w == 0 || h == 0 {
		return false
	}
	x0 := center.X - w/2
	y0 := center.Y - h/2
	return x0 >= 0 && y0 >= 0 && x0+w < width && y0+h < height
}

// hullMask builds the face-region mask: filled convex hull of the landmark
// outline, eroded then feathered so no hard edge survives compositing. The
// returned rect bounds the mask's nonzero pixels within the frame.
func (b *Blender) hullMask(height, width int, lm detector.Landmarks) (gocv.Mat, image.Rectangle) {
	mask := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8U)

	outline := lm.Outline()
	if len(outline) < 3 {
		return mask, image.Rectangle{}
	}

	pts := make([]image.Point, len(outline))
	for i, p := range outline {
		pts[i] = image.Pt(int(p.X), int(p.Y))
	}
	pointsVec := gocv.NewPointVectorFromPoints(pts)
	defer pointsVec.Close()

	hull := gocv.NewMat()
	defer hull.Close()
	gocv.ConvexHull(pointsVec, &hull, true, true)

	if hull.Empty() || hull.Rows() < 3 {
		return mask, image.Rectangle{}
	}
	hullPts := make([]image.Point, hull.Rows())
	for i := 0; i < hull.Rows(); i++ {
		v := hull.GetVeciAt(i, 0)
		hullPts[i] = image.Pt(int(v[0]), int(v[1]))
	}
	ptsVec := gocv.NewPointsVectorFromPoints([][]image.Point{hullPts})
	defer ptsVec.Close()
	gocv.FillPoly(&mask, ptsVec, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	rect := boundingRect(hullPts)
	if b.feather > 0 {
		gocv.Erode(mask, &mask, b.erosionKernel)
		k := b.feather*2 + 1
		gocv.GaussianBlur(mask, &mask, image.Pt(k, k), 0, 0, gocv.BorderDefault)
		// The blur spreads nonzero intensity up to the feather radius.
		rect = rect.Inset(-b.feather)
	}
	rect = rect.Intersect(image.Rect(0, 0, width, height))

	return mask, rect
}

func boundingRect(pts []image.Point) image.Rectangle {
	rect := image.Rectangle{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		if p.X < rect.Min.X {
			rect.Min.X = p.X
		}
		if p.Y < rect.Min.Y {
			rect.Min.Y = p.Y
		}
		if p.X > rect.Max.X {
			rect.Max.X = p.X
		}
		if p.Y > rect.Max.Y {
			rect.Max.Y = p.Y
		}
	}
	// Max is exclusive.
	rect.Max.X++
	rect.Max.Y++
	return rect
}

// alphaBlend copies warped pixels into frame where the feathered mask is
// set. Fallback path when gradient-domain cloning cannot run.
func (b *Blender) alphaBlend(warped gocv.Mat, frame *gocv.Mat, mask gocv.Mat) {
	warped.CopyToWithMask(frame, mask)
}

// transferColor shifts the warped face's LAB statistics toward the target
// frame's, scaled by the configured strength, so lighting matches before
// cloning. Statistics are taken over the face rect only: the warped Mat is
// black outside the face, and whole-frame statistics would drag the source
// mean toward zero.
func (b *Blender) transferColor(source *gocv.Mat, target gocv.Mat, faceRect image.Rectangle) {
	if faceRect.Empty() {
		return
	}

	sourceLab := gocv.NewMat()
	defer sourceLab.Close()
	targetLab := gocv.NewMat()
	defer targetLab.Close()

	gocv.CvtColor(*source, &sourceLab, gocv.ColorBGRToLab)
	gocv.CvtColor(target, &targetLab, gocv.ColorBGRToLab)

	sourceFace := sourceLab.Region(faceRect)
	defer sourceFace.Close()
	targetFace := targetLab.Region(faceRect)
	defer targetFace.Close()

	sourceMean := gocv.NewMat()
	defer sourceMean.Close()
	sourceStd := gocv.NewMat()
	defer sourceStd.Close()
	targetMean := gocv.NewMat()
	defer targetMean.Close()
	targetStd := gocv.NewMat()
	defer targetStd.Close()

	gocv.MeanStdDev(sourceFace, &sourceMean, &sourceStd)
	gocv.MeanStdDev(targetFace, &targetMean, &targetStd)

	sourceFloat := gocv.NewMat()
	defer sourceFloat.Close()
	sourceLab.ConvertTo(&sourceFloat, gocv.MatTypeCV32FC3)

	channels := gocv.Split(sourceFloat)
	resultChannels := make([]gocv.Mat, 3)
	for i := 0; i < 3; i++ {
		resultChannels[i] = gocv.NewMat()
		defer channels[i].Close()
		defer resultChannels[i].Close()

		srcMean := sourceMean.GetDoubleAt(i, 0)
		srcStd := sourceStd.GetDoubleAt(i, 0)
		tgtMean := targetMean.GetDoubleAt(i, 0)
		tgtStd := targetStd.GetDoubleAt(i, 0)

		if srcStd < 1e-6 {
			srcStd = 1e-6
		}

		scale := tgtStd / srcStd
		offset := tgtMean - srcMean*scale
		gocv.AddWeighted(channels[i], scale, channels[i], 0, offset, &resultChannels[i])
	}

	resultFloat := gocv.NewMat()
	defer resultFloat.Close()
	gocv.Merge(resultChannels, &resultFloat)

	resultLab := gocv.NewMat()
	defer resultLab.Close()
	resultFloat.ConvertTo(&resultLab, gocv.MatTypeCV8UC3)

	corrected := gocv.NewMat()
	defer corrected.Close()
	gocv.CvtColor(resultLab, &corrected, gocv.ColorLabToBGR)

	// Blend corrected toward the original by strength.
	if b.colorStrength >= 1 {
		corrected.CopyTo(source)
		return
	}
	out := gocv.NewMat()
	defer out.Close()
	gocv.AddWeighted(corrected, b.colorStrength, *source, 1-b.colorStrength, 0, &out)
	out.CopyTo(source)
}

// Close releases blender resources.
func (b *Blender) Close() {
	b.erosionKernel.Close()
}
