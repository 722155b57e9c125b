package link

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of serial.Port the manager relies on. A Read that
// returns (0, nil) means the read timeout elapsed with no data.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	Drain() error
}

// Opener opens the device at address with the given baud rate.
type Opener func(address string, baudRate int) (Port, error)

// OpenSerial opens a serial device in 8N1 mode.
func OpenSerial(address string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(address, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", address, err)
	}

	return port, nil
}
