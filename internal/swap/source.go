package swap

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/dudu/vidswap/internal/detector"
	"github.com/dudu/vidswap/internal/provider"
)

// Source is a prepared replacement face: the still image it came from and
// the landmarks used to align it onto target faces. Prepared once, reused
// for every frame.
type Source struct {
	Image     gocv.Mat
	Landmarks detector.Landmarks
	Path      string
}

// LoadSource reads a replacement face image and localizes its landmarks.
// When the image contains several faces the largest box wins.
func LoadSource(path string, p provider.Provider) (*Source, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return nil, fmt.Errorf("cannot read image %s", path)
	}

	boxes, err := p.Detect(img)
	if err != nil {
		img.Close()
		return nil, fmt.Errorf("detect %s: %w", path, err)
	}
	if len(boxes) == 0 {
		img.Close()
		return nil, fmt.Errorf("%s: %w", path, provider.ErrNoFace)
	}

	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Area() > best.Area() {
			best = b
		}
	}

	lm, err := p.Landmarks(img, best)
	if err != nil {
		img.Close()
		return nil, fmt.Errorf("landmarks %s: %w", path, err)
	}

	return &Source{Image: img, Landmarks: lm, Path: path}, nil
}

// Close releases the source image.
func (s *Source) Close() {
	s.Image.Close()
}
