package video

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Writer encodes frames to a video file. Frames must arrive in strictly
// ascending index order starting at 0; the pipeline's sequencer guarantees
// this, and Writer fails loudly if the guarantee is broken.
type Writer struct {
	writer *gocv.VideoWriter
	path   string
	next   int
	count  int
	mu     sync.Mutex
}

// NewWriter creates an encoder matching the input stream's geometry and
// frame rate. codec is a FOURCC string such as "mp4v" or "avc1".
func NewWriter(path, codec string, fps float64, width, height int) (*Writer, error) {
	writer, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open output %s: %w", path, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("encoder rejected %s (codec %s, %dx%d @ %.2f)", path, codec, width, height, fps)
	}

	return &Writer{writer: writer, path: path}, nil
}

// Write encodes one frame. frameIndex must equal the number of frames
// written so far.
func (w *Writer) Write(frameIndex int, frame gocv.Mat) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return fmt.Errorf("writer for %s is closed", w.path)
	}
	if frameIndex != w.next {
		return fmt.Errorf("out-of-order frame %d, expected %d", frameIndex, w.next)
	}
	if err := w.writer.Write(frame); err != nil {
		return fmt.Errorf("encode frame %d: %w", frameIndex, err)
	}
	w.next++
	w.count++
	return nil
}

// Count returns the number of frames written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close finalizes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		err := w.writer.Close()
		w.writer = nil
		return err
	}
	return nil
}
