package sensor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultReadBufferSize = 64

// Reader is the producer side of the sensor pipeline. Run pulls bytes from
// a ByteSource, assembles frames and queues every valid one in arrival
// order. Corrupt frames are dropped and noted in the diagnostic log.
//
// The queue has no bound. If nothing drains it, it grows; QueueDepth is
// reported to the Observer so the growth is at least visible.
type Reader struct {
	src      ByteSource
	timeout  time.Duration
	bufSize  int
	log      *zap.Logger
	observer Observer
	warn     *rate.Limiter

	stopped atomic.Bool

	mu    sync.Mutex
	queue []*Frame
	ready chan struct{}

	msgMu    sync.Mutex
	messages []string
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithReaderLogger sets the logger used for corrupt-frame warnings.
func WithReaderLogger(l *zap.Logger) ReaderOption {
	return func(r *Reader) { r.log = l }
}

// WithReaderObserver attaches pipeline event hooks.
func WithReaderObserver(o Observer) ReaderOption {
	return func(r *Reader) { r.observer = o }
}

// WithReadBufferSize sets how many bytes a single Read may return.
func WithReadBufferSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.bufSize = n
		}
	}
}

// WithWarnRate limits how often corrupt frames are logged. The diagnostic
// message log always records every one.
func WithWarnRate(perSecond float64, burst int) ReaderOption {
	return func(r *Reader) { r.warn = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewReader creates a reader that blocks at most timeout on each Read.
func NewReader(src ByteSource, timeout time.Duration, opts ...ReaderOption) *Reader {
	r := &Reader{
		src:      src,
		timeout:  timeout,
		bufSize:  defaultReadBufferSize,
		log:      zap.NewNop(),
		observer: nopObserver{},
		warn:     rate.NewLimiter(rate.Limit(5), 10),
		ready:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reads until StopReading is called, ctx is cancelled, or the source
// fails. Stopping takes effect at the top of the next iteration, so it can
// lag by up to one read timeout. A source failure is returned wrapped in
// ErrTransport; a requested stop returns nil.
func (r *Reader) Run(ctx context.Context) error {
	asm := NewAssembler()
	buf := make([]byte, r.bufSize)

	for {
		if r.stopped.Load() || ctx.Err() != nil {
			return nil
		}

		n, err := r.src.Read(buf, r.timeout)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if n == 0 {
			continue // timeout
		}
		r.observer.BytesRead(n)

		asm.Feed(buf[:n])
		for {
			frame, err := asm.Next()
			if err != nil {
				r.reject(err)
				continue
			}
			if frame == nil {
				break
			}
			r.AddPacket(frame)
		}
	}
}

func (r *Reader) reject(err error) {
	r.AddMessage(err.Error())
	r.observer.FrameRejected(err)
	if r.warn.Allow() {
		r.log.Warn("dropped frame", zap.Error(err))
	}
}

// StopReading asks Run to return after the current read completes.
func (r *Reader) StopReading() { r.stopped.Store(true) }

// AddPacket queues a copy of f.
func (r *Reader) AddPacket(f *Frame) {
	r.mu.Lock()
	r.queue = append(r.queue, f.Clone())
	depth := len(r.queue)
	r.mu.Unlock()

	r.observer.FrameQueued()
	r.observer.QueueDepth(depth)

	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// RemovePacket pops the oldest queued frame, or returns nil if the queue is
// empty.
func (r *Reader) RemovePacket() *Frame {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return nil
	}
	f := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	depth := len(r.queue)
	r.mu.Unlock()

	r.observer.QueueDepth(depth)
	return f
}

// NumPackets is the current queue length.
func (r *Reader) NumPackets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Ready is signalled after a frame is queued. One signal may stand for
// several frames, so consumers drain with RemovePacket until it returns nil.
func (r *Reader) Ready() <-chan struct{} { return r.ready }

// AddMessage appends to the diagnostic log.
func (r *Reader) AddMessage(msg string) {
	r.msgMu.Lock()
	defer r.msgMu.Unlock()
	r.messages = append(r.messages, msg)
}

// FullMessages joins the diagnostic log in insertion order.
func (r *Reader) FullMessages() string {
	r.msgMu.Lock()
	defer r.msgMu.Unlock()
	return strings.Join(r.messages, ", ")
}

// Messages returns a copy of the diagnostic log entries.
func (r *Reader) Messages() []string {
	r.msgMu.Lock()
	defer r.msgMu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Reader) ClearLog() {
	r.msgMu.Lock()
	defer r.msgMu.Unlock()
	r.messages = nil
}
