package levelfeed

import (
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// SerialPorter is the part of a serial port the feed needs. Tests supply an
// in-memory implementation.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// PortOpener opens a serial port. serial.Open is the production opener.
type PortOpener func(path string, mode *serial.Mode) (SerialPorter, error)

// PortOptions describes the serial connection to a level detector.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and fills in 115200 8N1 defaults.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

func openSerialPort(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}

// OpenSerial opens a line feed on a serial-attached detector. A nil opener
// uses the real serial port.
func OpenSerial(path string, opts PortOptions, open PortOpener, lineOpts LineOptions) (*LineFeed, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	if open == nil {
		open = openSerialPort
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return NewLineFeed("serial "+path, port, lineOpts), nil
}
