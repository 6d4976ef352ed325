package provider

import (
	"fmt"
	"image"
	"math"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/vidswap/internal/detector"
	"github.com/dudu/vidswap/internal/inference"
)

// faceEmbedder extracts 128-d embeddings with a MobileFaceNet-style model.
type faceEmbedder struct {
	session   *inference.Session
	inputSize int
}

func newFaceEmbedder(modelPath string) (*faceEmbedder, error) {
	inputNames := []string{"input"}
	outputNames := []string{"embedding"}

	session, err := inference.NewSession(modelPath, inputNames, outputNames)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder session: %w", err)
	}

	return &faceEmbedder{
		session:   session,
		inputSize: 112,
	}, nil
}

// Extract computes the embedding for the face whose landmarks are given.
// The crop is taken from the landmark bounding box with a small margin so
// the whole face is covered.
func (e *faceEmbedder) Extract(img gocv.Mat, lm detector.Landmarks) (detector.Embedding, error) {
	var emb detector.Embedding

	if len(lm) == 0 {
		return emb, ErrInsufficientLandmarks
	}

	box := lm.BoundingBox()
	pad := int(0.1 * float32(e.inputSize))
	rect := box.PaddedRect(pad, img.Cols(), img.Rows())
	if rect.Dx() == 0 || rect.Dy() == 0 {
		return emb, fmt.Errorf("empty face crop %v", rect)
	}

	crop := img.Region(rect)
	face := gocv.NewMat()
	gocv.Resize(crop, &face, image.Pt(e.inputSize, e.inputSize), 0, 0, gocv.InterpolationLinear)
	crop.Close()
	defer face.Close()

	inputData := e.preprocess(face)

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(e.inputSize), int64(e.inputSize)),
		inputData,
	)
	if err != nil {
		return emb, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, detector.EmbeddingDim})
	if err != nil {
		return emb, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := e.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return emb, fmt.Errorf("embedding inference failed: %w", err)
	}

	return e.normalize(outputTensor.GetData()), nil
}

// preprocess converts the face crop to model input format.
func (e *faceEmbedder) preprocess(img gocv.Mat) []float32 {
	rgb := gocv.NewMat()
	gocv.CvtColor(img, &rgb, gocv.ColorBGRToRGB)
	defer rgb.Close()

	floatImg := gocv.NewMat()
	rgb.ConvertTo(&floatImg, gocv.MatTypeCV32FC3)
	defer floatImg.Close()

	// Normalize to [-1, 1], HWC to NCHW
	blob := gocv.BlobFromImage(floatImg, 1.0/128.0, image.Pt(e.inputSize, e.inputSize),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), false, false)
	defer blob.Close()

	return bytesToFloat32(blob.ToBytes())
}

// normalize L2-normalizes the raw model output.
func (e *faceEmbedder) normalize(data []float32) detector.Embedding {
	var emb detector.Embedding

	var norm float64
	for _, v := range data[:detector.EmbeddingDim] {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		norm = 1
	}

	for i := 0; i < detector.EmbeddingDim; i++ {
		emb[i] = data[i] / float32(norm)
	}

	return emb
}

func (e *faceEmbedder) Close() error {
	return e.session.Destroy()
}
