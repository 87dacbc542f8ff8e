package robot

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shaunagostinho/createlink/internal/sensor"
)

// maxBacklog bounds how many unread frames the demo queues up.
const maxBacklog = 16

// DemoOptions tunes the simulated robot.
type DemoOptions struct {
	// Period between stream frames. The Create streams every 15 ms.
	Period time.Duration
	// CorruptEvery breaks the checksum of every Nth frame. 0 disables.
	CorruptEvery int
	// NoiseEvery prefixes every Nth frame with junk bytes. 0 disables.
	NoiseEvery int
	// Seed for the chunking and sensor noise generator.
	Seed int64
}

// Demo simulates a Create on the other end of the link: it acts on the
// commands it receives and, once a stream is requested, emits stream frames
// in randomly sized chunks like a real UART does.
type Demo struct {
	mu        sync.Mutex
	rng       *rand.Rand
	opts      DemoOptions
	connected bool
	streaming bool
	ids       []byte
	pending   []byte
	due       time.Time
	frames    int
	sent      [][]byte

	t        float64 // virtual time accumulator
	velocity int16
	radius   int16
	charge   int
	lowSide  [3]byte
}

func NewDemo(opts DemoOptions) *Demo {
	if opts.Period <= 0 {
		opts.Period = 15 * time.Millisecond
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return &Demo{
		rng:    rand.New(rand.NewSource(opts.Seed)),
		opts:   opts,
		radius: DriveStraight,
		charge: 2500,
	}
}

func (d *Demo) Name() string { return "Demo (Simulated)" }

func (d *Demo) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *Demo) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.streaming = false
	d.pending = nil
	return nil
}

func (d *Demo) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Sent returns every command received so far, opcode first.
func (d *Demo) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.sent))
	for i, c := range d.sent {
		out[i] = append([]byte(nil), c...)
	}
	return out
}

func (d *Demo) SendCommand(opcode byte, payload ...byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return ErrNotConnected
	}

	cmd := append([]byte{opcode}, payload...)
	d.sent = append(d.sent, cmd)

	switch opcode {
	case OpStream:
		if len(payload) == 0 {
			return nil
		}
		n := int(payload[0])
		if n > len(payload)-1 {
			n = len(payload) - 1
		}
		d.ids = append(d.ids[:0], payload[1:1+n]...)
		d.streaming = n > 0
		d.due = time.Now()
	case OpPauseResume:
		if len(payload) > 0 {
			d.streaming = payload[0] == 1 && len(d.ids) > 0
			if d.streaming {
				d.due = time.Now()
			}
		}
	case OpDrive:
		if len(payload) == 4 {
			d.velocity = int16(uint16(payload[0])<<8 | uint16(payload[1]))
			d.radius = int16(uint16(payload[2])<<8 | uint16(payload[3]))
		}
	case OpPWMLowSide:
		if len(payload) == 3 {
			d.lowSide = [3]byte{payload[2], payload[1], payload[0]}
		}
	}
	return nil
}

// Read hands out pending stream bytes, appending every frame that has come
// due. A chunk may end partway into the following frame. With nothing to
// send it sleeps until the next frame or timeout.
func (d *Demo) Read(buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		if !d.connected {
			d.mu.Unlock()
			return 0, ErrNotConnected
		}
		now := time.Now()
		if d.streaming {
			// A reader that falls behind finds frames queued back to back,
			// as in a UART receive buffer, up to maxBacklog of them.
			if lag := now.Sub(d.due); lag > maxBacklog*d.opts.Period {
				d.due = now.Add(-maxBacklog * d.opts.Period)
			}
			for !now.Before(d.due) {
				d.pending = append(d.pending, d.nextFrame()...)
				d.due = d.due.Add(d.opts.Period)
			}
		}
		if len(d.pending) > 0 {
			n := 1 + d.rng.Intn(len(d.pending))
			if n > len(buf) {
				n = len(buf)
			}
			copy(buf, d.pending[:n])
			d.pending = d.pending[n:]
			d.mu.Unlock()
			return n, nil
		}
		wait := timeout
		if d.streaming {
			wait = time.Until(d.due)
		}
		d.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil
		}
		if wait > remaining {
			wait = remaining
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		time.Sleep(wait)
	}
}

// nextFrame builds one stream frame for the requested ids. Caller holds mu.
func (d *Demo) nextFrame() []byte {
	d.frames++
	d.t += d.opts.Period.Seconds()

	out := make([]byte, 0, 64)
	if d.opts.NoiseEvery > 0 && d.frames%d.opts.NoiseEvery == 0 {
		for i := 1 + d.rng.Intn(3); i > 0; i-- {
			out = append(out, byte(d.rng.Intn(0x13)))
		}
	}

	body := make([]byte, 0, 48)
	for _, id := range d.ids {
		f, ok := sensor.FieldFor(id)
		if !ok {
			continue
		}
		v := d.sample(id) & (1<<(8*f.Width) - 1)
		body = append(body, id)
		if f.Width == 2 {
			body = append(body, byte(v>>8))
		}
		body = append(body, byte(v))
	}

	start := len(out)
	out = append(out, sensor.PacketStart, byte(len(body)))
	out = append(out, body...)
	cs := sensor.CalculateChecksum(out[start:])
	if d.opts.CorruptEvery > 0 && d.frames%d.opts.CorruptEvery == 0 {
		cs++
	}
	return append(out, cs)
}

// sample simulates one sensor reading. Distance and angle are deltas since
// the previous frame, the rest are instantaneous.
func (d *Demo) sample(id byte) int {
	dt := d.opts.Period.Seconds()
	switch id {
	case sensor.BumpsAndWheelDrops:
		if d.rng.Float64() < 0.01 {
			return 1 + d.rng.Intn(2)
		}
		return 0
	case sensor.Wall:
		if math.Sin(d.t*0.2) > 0.8 {
			return 1
		}
		return 0
	case sensor.Distance:
		return int(math.Round(float64(d.velocity) * dt))
	case sensor.Angle:
		if d.velocity == 0 || d.radius == DriveStraight || d.radius == 0 {
			return 0
		}
		// degrees = v*dt / r in radians
		return int(math.Round(float64(d.velocity) * dt / float64(d.radius) * 180 / math.Pi))
	case sensor.ChargingState:
		return 0
	case sensor.Voltage:
		return 15200 + d.rng.Intn(200) - int(math.Abs(float64(d.velocity)))
	case sensor.Current:
		return -(150 + int(math.Abs(float64(d.velocity))) + d.rng.Intn(40))
	case sensor.BatteryTemperature:
		return 28 + d.rng.Intn(3)
	case sensor.BatteryCharge:
		if d.frames%200 == 0 && d.charge > 0 {
			d.charge--
		}
		return d.charge
	case sensor.BatteryCapacity:
		return 2700
	case sensor.CargoBayAnalogSignal:
		v := 512 + 400*math.Sin(d.t*0.5) + float64(d.lowSide[0])
		return int(math.Max(0, math.Min(1023, v+d.rng.Float64()*8)))
	case sensor.OIMode:
		return 2 // safe
	case sensor.RequestedVelocity:
		return int(d.velocity)
	case sensor.RequestedRadius:
		return int(d.radius)
	default:
		return 0
	}
}
