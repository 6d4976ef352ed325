package provider

import (
	"fmt"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/dudu/vidswap/internal/detector"
	"github.com/dudu/vidswap/internal/inference"
)

// ONNXConfig configures the ONNX provider stack.
type ONNXConfig struct {
	ModelsDir     string
	LibraryPath   string
	DetectionSize int
	ConfThreshold float32
	NMSThreshold  float32
}

// ONNX composes three ONNX Runtime models into a Provider: an SCRFD face
// detector, a PFLD 68-point landmark model and a 128-d face embedder.
type ONNX struct {
	detector *scrfd
	landmark *pfld
	embedder *faceEmbedder
}

// NewONNX initializes the ONNX Runtime and loads the three models from
// cfg.ModelsDir. Any load failure is fatal; there is no degraded mode.
func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if err := inference.Initialize(cfg.LibraryPath); err != nil {
		return nil, err
	}

	det, err := newSCRFD(filepath.Join(cfg.ModelsDir, "scrfd.onnx"),
		cfg.DetectionSize, cfg.ConfThreshold, cfg.NMSThreshold)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	lmk, err := newPFLD(filepath.Join(cfg.ModelsDir, "pfld68.onnx"))
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("provider: %w", err)
	}

	emb, err := newFaceEmbedder(filepath.Join(cfg.ModelsDir, "mobilefacenet.onnx"))
	if err != nil {
		det.Close()
		lmk.Close()
		return nil, fmt.Errorf("provider: %w", err)
	}

	return &ONNX{detector: det, landmark: lmk, embedder: emb}, nil
}

// Detect returns face bounding boxes found in the frame.
func (o *ONNX) Detect(img gocv.Mat) ([]detector.BoundingBox, error) {
	dets, err := o.detector.Detect(img)
	if err != nil {
		return nil, err
	}
	boxes := make([]detector.BoundingBox, len(dets))
	for i, d := range dets {
		boxes[i] = d.Box
	}
	return boxes, nil
}

// Landmarks localizes the 68-point set for one detected box.
func (o *ONNX) Landmarks(img gocv.Mat, box detector.BoundingBox) (detector.Landmarks, error) {
	return o.landmark.Detect(img, box)
}

// Embed computes the 128-d embedding for a localized face.
func (o *ONNX) Embed(img gocv.Mat, lm detector.Landmarks) (detector.Embedding, error) {
	return o.embedder.Extract(img, lm)
}

// Close releases all model sessions and shuts down the runtime.
func (o *ONNX) Close() error {
	o.detector.Close()
	o.landmark.Close()
	o.embedder.Close()
	return inference.Shutdown()
}
