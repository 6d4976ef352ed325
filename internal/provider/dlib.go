package provider

import (
	"fmt"
	"sync"

	goface "github.com/Kagami/go-face"
	"gocv.io/x/gocv"

	"github.com/dudu/vidswap/internal/detector"
)

// Dlib is the go-face backed provider. dlib's recognizer produces box,
// shape points and the 128-d descriptor in a single pass, so Dlib serves
// observations through the BatchObserver fast path. The individual
// capability methods re-run recognition and select the requested face;
// they exist for callers that hold only one primitive's inputs.
//
// go-face ships the 5-point shape predictor, so this backend emits five
// landmarks (eye corners and nose base) rather than a dense outline. Hull
// masks and alignments built from them cover the eyes-nose region only;
// select the onnx provider when full 68-point coverage is needed.
type Dlib struct {
	rec *goface.Recognizer
	mu  sync.Mutex
}

// NewDlib loads the dlib models from modelsDir. The directory must contain
// the shape predictor and the ResNet recognition model; a missing model is
// a fatal initialization error.
func NewDlib(modelsDir string) (*Dlib, error) {
	rec, err := goface.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("provider: loading dlib models from %s: %w", modelsDir, err)
	}
	return &Dlib{rec: rec}, nil
}

// Observe runs one dlib pass and returns all faces in the frame.
func (d *Dlib) Observe(img gocv.Mat) ([]detector.Detection, error) {
	faces, err := d.recognize(img)
	if err != nil {
		return nil, err
	}

	dets := make([]detector.Detection, 0, len(faces))
	for _, f := range faces {
		det := detector.Detection{
			Box:       rectToBox(f),
			Landmarks: shapesToLandmarks(f),
			Score:     1.0, // dlib's frontal detector reports no confidence
		}
		copy(det.Embedding[:], f.Descriptor[:])
		dets = append(dets, det)
	}
	return dets, nil
}

// Detect returns the bounding boxes of all faces in the frame.
func (d *Dlib) Detect(img gocv.Mat) ([]detector.BoundingBox, error) {
	faces, err := d.recognize(img)
	if err != nil {
		return nil, err
	}
	boxes := make([]detector.BoundingBox, len(faces))
	for i, f := range faces {
		boxes[i] = rectToBox(f)
	}
	return boxes, nil
}

// Landmarks returns the shape points of the face best overlapping box.
// dlib's predictor yields 5 points; see the Dlib type doc.
func (d *Dlib) Landmarks(img gocv.Mat, box detector.BoundingBox) (detector.Landmarks, error) {
	faces, err := d.recognize(img)
	if err != nil {
		return nil, err
	}
	f := bestOverlap(faces, box)
	if f == nil {
		return nil, ErrInsufficientLandmarks
	}
	lm := shapesToLandmarks(*f)
	if len(lm) == 0 {
		return nil, ErrInsufficientLandmarks
	}
	return lm, nil
}

// Embed returns the descriptor of the face whose shape centroid is nearest
// the given landmark set's centroid.
func (d *Dlib) Embed(img gocv.Mat, lm detector.Landmarks) (detector.Embedding, error) {
	var emb detector.Embedding
	faces, err := d.recognize(img)
	if err != nil {
		return emb, err
	}
	f := bestOverlap(faces, lm.BoundingBox())
	if f == nil {
		return emb, ErrNoFace
	}
	copy(emb[:], f.Descriptor[:])
	return emb, nil
}

// Close releases the dlib recognizer.
func (d *Dlib) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec != nil {
		d.rec.Close()
		d.rec = nil
	}
	return nil
}

// recognize encodes the frame to JPEG (go-face consumes compressed bytes)
// and runs the dlib pipeline. The recognizer is not thread safe.
func (d *Dlib) recognize(img gocv.Mat) ([]goface.Face, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("provider: encoding frame: %w", err)
	}
	defer buf.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	faces, err := d.rec.Recognize(buf.GetBytes())
	if err != nil {
		return nil, fmt.Errorf("provider: dlib recognize: %w", err)
	}
	return faces, nil
}

func rectToBox(f goface.Face) detector.BoundingBox {
	r := f.Rectangle
	return detector.BoundingBox{
		X1: float32(r.Min.X),
		Y1: float32(r.Min.Y),
		X2: float32(r.Max.X),
		Y2: float32(r.Max.Y),
	}
}

func shapesToLandmarks(f goface.Face) detector.Landmarks {
	lm := make(detector.Landmarks, len(f.Shapes))
	for i, p := range f.Shapes {
		lm[i] = detector.Point{X: float32(p.X), Y: float32(p.Y)}
	}
	return lm
}

func bestOverlap(faces []goface.Face, box detector.BoundingBox) *goface.Face {
	best := -1
	bestIoU := float32(0)
	for i, f := range faces {
		v := detector.IoU(rectToBox(f), box)
		if v > bestIoU {
			best = i
			bestIoU = v
		}
	}
	if best < 0 {
		return nil
	}
	return &faces[best]
}
