package sensor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Strategy decides how a newly decoded value is folded into the table.
type Strategy int

const (
	// Replace keeps the latest value.
	Replace Strategy = iota
	// Sum adds each value to the running total; distance and angle are
	// reported as deltas since the previous packet.
	Sum
)

func (s Strategy) String() string {
	switch s {
	case Replace:
		return "replace"
	case Sum:
		return "sum"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy accepts "replace" (or "value") and "sum".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "replace", "value":
		return Replace, nil
	case "sum":
		return Sum, nil
	default:
		return 0, fmt.Errorf("sensor: unknown accumulation strategy %q", s)
	}
}

// FrameSource is where the accumulator takes frames from. *Reader
// satisfies it.
type FrameSource interface {
	RemovePacket() *Frame
	Ready() <-chan struct{}
}

// MessageSink receives decode failures for the diagnostic log. *Reader
// satisfies it.
type MessageSink interface {
	AddMessage(msg string)
}

const defaultPollInterval = 10 * time.Millisecond

// Accumulator is the consumer side of the pipeline. It drains frames from a
// FrameSource and folds their values into a sensor table that the rest of
// the application reads concurrently.
type Accumulator struct {
	src        FrameSource
	strategies map[byte]Strategy
	poll       time.Duration
	log        *zap.Logger
	observer   Observer
	sink       MessageSink

	stopped atomic.Bool

	mu     sync.RWMutex
	values map[byte]int
}

// AccumulatorOption configures an Accumulator.
type AccumulatorOption func(*Accumulator)

func WithAccumulatorLogger(l *zap.Logger) AccumulatorOption {
	return func(a *Accumulator) { a.log = l }
}

func WithAccumulatorObserver(o Observer) AccumulatorOption {
	return func(a *Accumulator) { a.observer = o }
}

// WithPollInterval bounds how long Run waits for a ready signal before
// checking the queue again.
func WithPollInterval(d time.Duration) AccumulatorOption {
	return func(a *Accumulator) {
		if d > 0 {
			a.poll = d
		}
	}
}

// WithMessageSink records decode failures in a diagnostic log.
func WithMessageSink(s MessageSink) AccumulatorOption {
	return func(a *Accumulator) { a.sink = s }
}

// NewAccumulator creates an accumulator tracking the ids in strategies. The
// map is copied; later changes to it have no effect.
func NewAccumulator(src FrameSource, strategies map[byte]Strategy, opts ...AccumulatorOption) *Accumulator {
	s := make(map[byte]Strategy, len(strategies))
	for id, st := range strategies {
		s[id] = st
	}
	a := &Accumulator{
		src:        src,
		strategies: s,
		poll:       defaultPollInterval,
		log:        zap.NewNop(),
		observer:   nopObserver{},
		values:     make(map[byte]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run drains frames until StopAccumulating is called or ctx is cancelled.
// Decode failures are logged and skipped.
func (a *Accumulator) Run(ctx context.Context) error {
	timer := time.NewTimer(a.poll)
	defer timer.Stop()

	for {
		if a.stopped.Load() || ctx.Err() != nil {
			return nil
		}

		frame := a.src.RemovePacket()
		if frame == nil {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(a.poll)
			select {
			case <-ctx.Done():
				return nil
			case <-a.src.Ready():
			case <-timer.C:
			}
			continue
		}

		if err := a.PerformAccumulation(frame); err != nil {
			a.observer.DecodeFailed(err)
			if a.sink != nil {
				a.sink.AddMessage(err.Error())
			}
			a.log.Warn("decode failed",
				zap.Error(err),
				zap.String("frame", frame.FormatPacketBuffer()))
		}
	}
}

// StopAccumulating asks Run to return at the top of its next iteration.
func (a *Accumulator) StopAccumulating() { a.stopped.Store(true) }

// PerformAccumulation decodes f and applies each tracked value. If decoding
// fails nothing is applied.
func (a *Accumulator) PerformAccumulation(f *Frame) error {
	values, err := f.DecodeValues()
	if err != nil {
		return err
	}

	a.mu.Lock()
	for _, v := range values {
		st, ok := a.strategies[v.ID]
		if !ok {
			continue
		}
		switch st {
		case Replace:
			a.values[v.ID] = v.Value
		case Sum:
			a.values[v.ID] += v.Value
		}
	}
	a.mu.Unlock()

	a.observer.FrameAccumulated(len(values))
	return nil
}

// SetSensorValue overwrites the stored value for id.
func (a *Accumulator) SetSensorValue(id byte, value int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[id] = value
}

// IncrementSensorValue adds value to the stored value for id, starting
// from zero.
func (a *Accumulator) IncrementSensorValue(id byte, value int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[id] += value
}

// SensorValue returns the stored value for id, or 0 if it was never seen.
func (a *Accumulator) SensorValue(id byte) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.values[id]
}

// Lookup returns the stored value for id and whether it was ever seen.
func (a *Accumulator) Lookup(id byte) (int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[id]
	return v, ok
}

// Snapshot copies the whole table.
func (a *Accumulator) Snapshot() map[byte]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[byte]int, len(a.values))
	for id, v := range a.values {
		out[id] = v
	}
	return out
}

// Strategies returns a copy of the configured strategies.
func (a *Accumulator) Strategies() map[byte]Strategy {
	out := make(map[byte]Strategy, len(a.strategies))
	for id, st := range a.strategies {
		out[id] = st
	}
	return out
}
