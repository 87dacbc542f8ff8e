package robot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shaunagostinho/createlink/internal/sensor"
)

// Open Interface opcodes.
const (
	OpStart       byte = 128
	OpBaud        byte = 129
	OpSafe        byte = 131
	OpFull        byte = 132
	OpDrive       byte = 137
	OpLEDs        byte = 139
	OpSong        byte = 140
	OpPlay        byte = 141
	OpSensors     byte = 142
	OpPWMLowSide  byte = 144
	OpStream      byte = 148
	OpQueryList   byte = 149
	OpPauseResume byte = 150
)

// LED bits and colours for OpLEDs.
const (
	LEDPlay    byte = 0x02
	LEDAdvance byte = 0x08

	PowerGreen byte = 0x00
	PowerRed   byte = 0xff
)

// DriveStraight is the special radius meaning "no turn".
const DriveStraight int16 = 0x7fff

// DefaultStream is the packet list requested by Initialize when none is
// given: bumps, distance, angle and the cargo bay analog input.
var DefaultStream = []byte{
	sensor.BumpsAndWheelDrops,
	sensor.Distance,
	sensor.Angle,
	sensor.CargoBayAnalogSignal,
}

var (
	startupSong = []byte{0x00, 0x01, 0x48, 0x0a} // song 0: one C5, 10/64 s
	playSong    = []byte{0x00}
)

// ErrNoSamples means ReadAnalogPin could not read a single frame.
var ErrNoSamples = errors.New("robot: no analog samples read")

// Commands encodes outbound Open Interface commands and runs the one-shot
// synchronous queries.
type Commands struct {
	port        Port
	log         *zap.Logger
	readTimeout time.Duration

	mu   sync.Mutex
	logs []string
}

// NewCommands wraps port. readTimeout bounds each read of a synchronous
// query; zero means one second.
func NewCommands(port Port, readTimeout time.Duration, log *zap.Logger) *Commands {
	if readTimeout <= 0 {
		readTimeout = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Commands{port: port, log: log, readTimeout: readTimeout}
}

// Initialize wakes the robot into safe mode, plays a short tone, starts the
// sensor stream and turns the advance LED on.
func (c *Commands) Initialize(streamIDs []byte) error {
	if len(streamIDs) == 0 {
		streamIDs = DefaultStream
	}
	steps := []struct {
		name    string
		opcode  byte
		payload []byte
	}{
		{"start", OpStart, nil},
		{"safe", OpSafe, nil},
		{"song", OpSong, startupSong},
		{"play", OpPlay, playSong},
		{"stream", OpStream, streamPayload(streamIDs)},
		{"leds", OpLEDs, []byte{LEDAdvance, PowerGreen, 0xff}},
	}
	for _, step := range steps {
		if err := c.port.SendCommand(step.opcode, step.payload...); err != nil {
			return fmt.Errorf("initialize %s: %w", step.name, err)
		}
	}
	c.log.Info("robot initialized", zap.Binary("stream", streamIDs))
	return nil
}

func streamPayload(ids []byte) []byte {
	p := make([]byte, 0, 1+len(ids))
	p = append(p, byte(len(ids)))
	return append(p, ids...)
}

// Stream requests a sensor stream for ids, replacing any previous one.
func (c *Commands) Stream(ids ...byte) error {
	return c.port.SendCommand(OpStream, streamPayload(ids)...)
}

func (c *Commands) PauseStream() error  { return c.port.SendCommand(OpPauseResume, 0) }
func (c *Commands) ResumeStream() error { return c.port.SendCommand(OpPauseResume, 1) }

// Drive sets velocity (mm/s) and turn radius (mm). Both go out big-endian.
func (c *Commands) Drive(velocity, radius int16) error {
	return c.port.SendCommand(OpDrive,
		byte(uint16(velocity)>>8), byte(velocity),
		byte(uint16(radius)>>8), byte(radius))
}

// PWMLowSideDrivers sets the duty cycle (0-128) of the three low side
// drivers. The wire order is driver 2, 1, 0.
func (c *Commands) PWMLowSideDrivers(duty0, duty1, duty2 byte) error {
	return c.port.SendCommand(OpPWMLowSide, duty2, duty1, duty0)
}

// ReadAnalogPin averages the cargo bay analog input over samples stream
// frames, read synchronously from the port. The stream must already include
// CargoBayAnalogSignal. Corrupt frames are logged and skipped. Reading stops
// at the first other failure; the average of whatever was collected is
// returned, or ErrNoSamples wrapping the failure.
func (c *Commands) ReadAnalogPin(ctx context.Context, samples int) (int, error) {
	if samples < 1 {
		samples = 1
	}

	// One reader for the whole query: a read that runs into the next frame
	// leaves its start buffered for the next sample.
	spr := sensor.NewSyncReader()
	spr.OnFrameError = func(err error) {
		c.addLog(err.Error())
		c.log.Debug("discarded frame", zap.Error(err))
	}
	total, got := 0, 0
	var lastErr error

	for i := 0; i < samples; i++ {
		frame, err := spr.ReadCompletePacket(ctx, c.port, c.readTimeout)
		if err != nil {
			lastErr = err
			break
		}
		v, err := frame.Value(sensor.CargoBayAnalogSignal)
		if err != nil {
			lastErr = err
			break
		}
		total += v
		got++
		c.addLog(frame.FormatPacketBuffer())
	}

	if lastErr != nil {
		c.addLog(lastErr.Error())
		c.log.Warn("analog read stopped early",
			zap.Int("samples", got), zap.Int("wanted", samples), zap.Error(lastErr))
	}
	if got == 0 {
		return 0, fmt.Errorf("%w: %w", ErrNoSamples, lastErr)
	}
	return (total + got/2) / got, nil
}

func (c *Commands) addLog(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, msg)
}

// Logs returns the frames and errors recorded by synchronous queries.
func (c *Commands) Logs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.logs))
	copy(out, c.logs)
	return out
}

func (c *Commands) ClearLogs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = nil
}
