// Package serial implements the two line-polled serial sources: fixed-width
// binary frames and delimiter-terminated ASCII lines. Both own one reader
// goroutine that lives between Start and Stop.
package serial

import (
	"fmt"
	"io"
	"time"

	bugst "go.bug.st/serial"
)

// Port is the part of a serial device the sources need. go.bug.st/serial
// ports satisfy it.
type Port interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds Read; a timed out Read returns 0, nil.
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener opens the named device at the given baud rate.
type Opener func(name string, baud int) (Port, error)

// Lister returns the device names UseUSBPort indexes into.
type Lister func() ([]string, error)

// OpenPort opens name as 8N1 at baud.
func OpenPort(name string, baud int) (Port, error) {
	p, err := bugst.Open(name, &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPorts returns the serial devices present on this machine.
func ListPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Resolve picks the device for index i, unless device is set explicitly.
func Resolve(list Lister, device string, i int) (string, error) {
	if device != "" {
		return device, nil
	}
	if i < 0 {
		return "", fmt.Errorf("no serial port selected")
	}
	ports, err := list()
	if err != nil {
		return "", err
	}
	if i >= len(ports) {
		return "", fmt.Errorf("serial port %d out of range, %d available", i, len(ports))
	}
	return ports[i], nil
}
