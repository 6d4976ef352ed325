package pipeline

import "gocv.io/x/gocv"

// FrameSource yields decoded frames in ascending index order. Read fills
// the provided Mat and returns the frame index; ok is false at end of
// stream. Reset rewinds to frame 0 for the next pass.
type FrameSource interface {
	Read(frame *gocv.Mat) (index int, ok bool)
	Reset() error
}

// FrameSink receives rendered frames in strictly ascending index order.
type FrameSink interface {
	Write(frameIndex int, frame gocv.Mat) error
}

// Progress is called periodically with the number of frames handled so
// far. total is 0 when the stream length is unknown.
type Progress func(processed, total int)
