package sensor

import (
	"sync"
	"sync/atomic"
	"time"
)

// buildFrame wraps payload in a start byte, length byte and valid checksum.
func buildFrame(payload ...byte) []byte {
	b := append([]byte{PacketStart, byte(len(payload))}, payload...)
	return append(b, CalculateChecksum(b))
}

// scriptedSource replays chunks one per Read, then times out (or fails with
// err once the script is exhausted).
type scriptedSource struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
	reads  int
}

func newScriptedSource(chunks ...[]byte) *scriptedSource {
	return &scriptedSource{chunks: chunks}
}

func (s *scriptedSource) Read(buf []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	s.reads++
	if len(s.chunks) == 0 {
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return 0, err
		}
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	s.mu.Unlock()
	return copy(buf, c), nil
}

// splitEvery cuts b into chunks of n bytes.
func splitEvery(b []byte, n int) [][]byte {
	var out [][]byte
	for len(b) > n {
		out = append(out, b[:n])
		b = b[n:]
	}
	return append(out, b)
}

type countingObserver struct {
	bytes       atomic.Int64
	queued      atomic.Int64
	rejected    atomic.Int64
	accumulated atomic.Int64
	decodeFails atomic.Int64
	depth       atomic.Int64
}

func (o *countingObserver) BytesRead(n int)        { o.bytes.Add(int64(n)) }
func (o *countingObserver) FrameQueued()           { o.queued.Add(1) }
func (o *countingObserver) FrameRejected(error)    { o.rejected.Add(1) }
func (o *countingObserver) FrameAccumulated(n int) { o.accumulated.Add(1) }
func (o *countingObserver) DecodeFailed(error)     { o.decodeFails.Add(1) }
func (o *countingObserver) QueueDepth(n int)       { o.depth.Store(int64(n)) }
