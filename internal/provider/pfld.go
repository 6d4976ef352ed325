package provider

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/vidswap/internal/detector"
	"github.com/dudu/vidswap/internal/inference"
)

// pfld runs a PFLD-style 68-point landmark model on a cropped face.
type pfld struct {
	session   *inference.Session
	inputSize int
	inputMean float32
	inputStd  float32
}

func newPFLD(modelPath string) (*pfld, error) {
	inputNames := []string{"input"}
	outputNames := []string{"output"}

	session, err := inference.NewSession(modelPath, inputNames, outputNames)
	if err != nil {
		return nil, fmt.Errorf("failed to create landmark session: %w", err)
	}

	return &pfld{
		session:   session,
		inputSize: 112,
		inputMean: 127.5,
		inputStd:  128.0,
	}, nil
}

// Detect localizes 68 landmarks for one detected face. Points are returned
// in frame coordinates.
func (l *pfld) Detect(img gocv.Mat, box detector.BoundingBox) (detector.Landmarks, error) {
	// Square crop around the box center with 1.5x expansion
	w := box.Width()
	h := box.Height()
	center := box.Center()
	maxDim := w
	if h > w {
		maxDim = h
	}
	if maxDim <= 0 {
		return nil, fmt.Errorf("degenerate box %+v", box)
	}
	scale := float32(l.inputSize) / (maxDim * 1.5)

	M := l.getTransformMatrix(center.X, center.Y, scale)

	aligned := gocv.NewMat()
	defer aligned.Close()
	gocv.WarpAffine(img, &aligned, M, image.Pt(l.inputSize, l.inputSize))
	M.Close()

	rgb := gocv.NewMat()
	gocv.CvtColor(aligned, &rgb, gocv.ColorBGRToRGB)
	defer rgb.Close()

	floatMat := gocv.NewMat()
	rgb.ConvertTo(&floatMat, gocv.MatTypeCV32FC3)
	defer floatMat.Close()

	// (x - mean) / std
	gocv.AddWeighted(floatMat, 1.0/float64(l.inputStd), floatMat, 0, -float64(l.inputMean)/float64(l.inputStd), &floatMat)

	blob := gocv.BlobFromImage(floatMat, 1.0, image.Pt(l.inputSize, l.inputSize),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	blobData := blob.ToBytes()
	floatData := bytesToFloat32(blobData)

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(l.inputSize), int64(l.inputSize)),
		floatData,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	// (1, 136) = 68 landmarks * 2 coords
	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, int64(detector.LandmarkCount * 2)})
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := l.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("landmark inference failed: %w", err)
	}

	return l.postprocess(outputTensor.GetData(), center.X, center.Y, scale), nil
}

// getTransformMatrix creates the affine transform for the face crop
// (scale and translate, no rotation).
func (l *pfld) getTransformMatrix(centerX, centerY, scale float32) gocv.Mat {
	M := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)

	M.SetDoubleAt(0, 0, float64(scale))
	M.SetDoubleAt(0, 1, 0)
	M.SetDoubleAt(0, 2, float64(l.inputSize)/2-float64(centerX*scale))
	M.SetDoubleAt(1, 0, 0)
	M.SetDoubleAt(1, 1, float64(scale))
	M.SetDoubleAt(1, 2, float64(l.inputSize)/2-float64(centerY*scale))

	return M
}

// postprocess maps model output back to frame coordinates. The model emits
// coordinates normalized to [0, 1] over the crop.
func (l *pfld) postprocess(output []float32, centerX, centerY, scale float32) detector.Landmarks {
	landmarks := make(detector.Landmarks, detector.LandmarkCount)

	halfSize := float32(l.inputSize) / 2

	for i := 0; i < detector.LandmarkCount; i++ {
		x := output[i*2] * float32(l.inputSize)
		y := output[i*2+1] * float32(l.inputSize)

		landmarks[i] = detector.Point{
			X: (x-halfSize)/scale + centerX,
			Y: (y-halfSize)/scale + centerY,
		}
	}

	return landmarks
}

func (l *pfld) Close() error {
	return l.session.Destroy()
}
