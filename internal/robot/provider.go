// Package robot talks to a Create over its Open Interface.
package robot

import (
	"errors"
	"time"
)

// ErrNotConnected is returned by links used before Connect or after Close.
var ErrNotConnected = errors.New("robot: not connected")

// Port is the minimum a link must offer the protocol code: a timed raw
// read (sensor.ByteSource) and an opcode writer.
type Port interface {
	// Read blocks for at most timeout and returns 0, nil when nothing
	// arrived. Any error means the transport is gone.
	Read(buf []byte, timeout time.Duration) (int, error)
	// SendCommand writes one Open Interface opcode followed by its payload.
	SendCommand(opcode byte, payload ...byte) error
}

// Link is the interface all robot backends implement. Serial talks to real
// hardware; Demo simulates a robot for development and testing.
type Link interface {
	Port
	// Name returns the human-readable name of this link.
	Name() string
	// Connect opens the transport.
	Connect() error
	// Close shuts the transport down. Blocked reads return an error.
	Close() error
	// IsConnected returns whether the link has an open transport.
	IsConnected() bool
}
