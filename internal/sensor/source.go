package sensor

import "time"

// ByteSource is the raw transport the robot streams over.
//
// Read blocks for at most timeout. It returns 0, nil when nothing arrived in
// time; any non-nil error means the transport itself failed.
type ByteSource interface {
	Read(buf []byte, timeout time.Duration) (int, error)
}

// Observer receives pipeline events. Implementations must be safe for use
// from the reader and accumulator goroutines at the same time.
type Observer interface {
	BytesRead(n int)
	FrameQueued()
	FrameRejected(err error)
	FrameAccumulated(values int)
	DecodeFailed(err error)
	QueueDepth(n int)
}

type nopObserver struct{}

func (nopObserver) BytesRead(int)        {}
func (nopObserver) FrameQueued()         {}
func (nopObserver) FrameRejected(error)  {}
func (nopObserver) FrameAccumulated(int) {}
func (nopObserver) DecodeFailed(error)   {}
func (nopObserver) QueueDepth(int)       {}
