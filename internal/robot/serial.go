package robot

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	// DefaultBaudRate is the Create's factory Open Interface rate.
	DefaultBaudRate = 57600

	drainSilence = 50 * time.Millisecond   // silence threshold for drain loop
	drainTimeout = 1500 * time.Millisecond // max time to spend draining
)

// SerialConfig holds connection configuration for the serial link.
type SerialConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// Serial is a Link over a UART, a USB serial cable or a Bluetooth SPP
// bridge, all of which look like a tty.
type Serial struct {
	portPath string
	baudRate int
	log      *zap.Logger

	mu          sync.Mutex
	port        serial.Port
	readTimeout time.Duration
	timeoutSet  bool // readTimeout has been applied to port
	connected   bool

	writeMu sync.Mutex
}

// NewSerial creates a serial link. Connect opens it.
func NewSerial(cfg SerialConfig, log *zap.Logger) *Serial {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Serial{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		log:      log,
	}
}

func (s *Serial) Name() string { return "Serial " + s.portPath }

// Connect opens the port 8N1 and discards anything the robot printed while
// booting (the Create emits a banner on power up).
func (s *Serial) Connect() error {
	mode := &serial.Mode{
		BaudRate: s.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.portPath, mode)
	if err != nil {
		return fmt.Errorf("serial: failed to open %s: %w", s.portPath, err)
	}

	s.attach(port)

	s.log.Info("opened port", zap.String("port", s.portPath), zap.Int("baud", s.baudRate))
	s.drain("boot")
	return nil
}

func (s *Serial) attach(port serial.Port) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.port = port
	s.timeoutSet = false
	s.connected = true
}

// drain reads and discards pending input until the line has been silent for
// drainSilence, or drainTimeout has elapsed.
func (s *Serial) drain(label string) {
	port, err := s.current()
	if err != nil {
		return
	}
	port.ResetInputBuffer()

	total := 0
	deadline := time.Now().Add(drainTimeout)
	buf := make([]byte, 256)

	for time.Now().Before(deadline) {
		n, err := s.Read(buf, drainSilence)
		if err != nil || n == 0 {
			break
		}
		if total == 0 {
			s.log.Debug("drain first bytes", zap.String("label", label), zap.Binary("bytes", buf[:n]))
		}
		total += n
	}
	if total > 0 {
		s.log.Info("drained input", zap.String("label", label), zap.Int("bytes", total))
	}
}

func (s *Serial) current() (serial.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.port == nil {
		return nil, ErrNotConnected
	}
	return s.port, nil
}

// Read waits up to timeout for input. go.bug.st/serial reports a timeout as
// a zero-length read with no error, which is what ByteSource expects.
func (s *Serial) Read(buf []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	if !s.connected || s.port == nil {
		s.mu.Unlock()
		return 0, ErrNotConnected
	}
	port := s.port
	if !s.timeoutSet || timeout != s.readTimeout {
		if err := port.SetReadTimeout(timeout); err != nil {
			s.mu.Unlock()
			return 0, fmt.Errorf("serial: failed to set timeout: %w", err)
		}
		s.readTimeout = timeout
		s.timeoutSet = true
	}
	s.mu.Unlock()

	n, err := port.Read(buf)
	if err != nil {
		return n, fmt.Errorf("serial: read %s: %w", s.portPath, err)
	}
	return n, nil
}

// SendCommand writes opcode and payload in a single write.
func (s *Serial) SendCommand(opcode byte, payload ...byte) error {
	port, err := s.current()
	if err != nil {
		return err
	}

	cmd := make([]byte, 0, 1+len(payload))
	cmd = append(cmd, opcode)
	cmd = append(cmd, payload...)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := port.Write(cmd); err != nil {
		return fmt.Errorf("serial: write opcode %d: %w", opcode, err)
	}
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.port != nil {
		err := s.port.Close()
		s.port = nil
		return err
	}
	return nil
}

func (s *Serial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
