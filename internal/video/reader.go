// Package video wraps file-based video IO. Frames move through the rest of
// the pipeline as gocv Mats in BGR order.
package video

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Info describes an opened video stream.
type Info struct {
	Path       string
	Width      int
	Height     int
	FPS        float64
	FrameCount int
}

// Reader decodes frames from a video file in order. It supports one full
// rewind per pass via Reset, which reopens the file rather than seeking
// (seek accuracy varies by container).
type Reader struct {
	capture *gocv.VideoCapture
	info    Info
	next    int
	mu      sync.Mutex
}

// OpenReader opens a video file and probes its stream properties.
func OpenReader(path string) (*Reader, error) {
	capture, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}

	info := Info{
		Path:       path,
		Width:      int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(capture.Get(gocv.VideoCaptureFrameHeight)),
		FPS:        capture.Get(gocv.VideoCaptureFPS),
		FrameCount: int(capture.Get(gocv.VideoCaptureFrameCount)),
	}
	if info.Width <= 0 || info.Height <= 0 {
		capture.Close()
		return nil, fmt.Errorf("video %s has no decodable stream", path)
	}

	return &Reader{capture: capture, info: info}, nil
}

// Info returns the probed stream properties.
func (r *Reader) Info() Info {
	return r.info
}

// Read decodes the next frame into the provided Mat and returns its index.
// ok is false at end of stream.
func (r *Reader) Read(frame *gocv.Mat) (index int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture == nil {
		return 0, false
	}
	if !r.capture.Read(frame) || frame.Empty() {
		return 0, false
	}

	index = r.next
	r.next++
	return index, true
}

// Reset rewinds to the first frame by reopening the file.
func (r *Reader) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture != nil {
		r.capture.Close()
	}
	capture, err := gocv.OpenVideoCapture(r.info.Path)
	if err != nil {
		r.capture = nil
		return fmt.Errorf("failed to reopen video %s: %w", r.info.Path, err)
	}
	r.capture = capture
	r.next = 0
	return nil
}

// Close releases the decoder.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture != nil {
		err := r.capture.Close()
		r.capture = nil
		return err
	}
	return nil
}
