package meshtastic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaudRate is the Meshtastic serial API speed.
const DefaultBaudRate = 115200

// ErrNoSerialPort is returned when auto-detection finds no candidate port.
var ErrNoSerialPort = errors.New("no USB serial port found")

// SerialDialer opens a USB serial port. An empty Port auto-detects the
// device among USB serial ports.
type SerialDialer struct {
	Port     string
	BaudRate int

	// listPorts is replaced in tests.
	listPorts func() ([]*enumerator.PortDetails, error)
	open      func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerialDialer creates a dialer for port at baud. Zero baud uses 115200.
func NewSerialDialer(port string, baud int) *SerialDialer {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &SerialDialer{
		Port:      port,
		BaudRate:  baud,
		listPorts: enumerator.GetDetailedPortsList,
		open:      serial.Open,
	}
}

func (d *SerialDialer) String() string {
	if d.Port == "" {
		return "serial:auto"
	}
	return "serial:" + d.Port
}

// Dial resolves and opens the port in 8N1 mode.
func (d *SerialDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := d.Port
	if name == "" {
		var err error
		if name, err = d.detect(); err != nil {
			return nil, err
		}
		d.Port = name
	}

	port, err := d.open(name, &serial.Mode{
		BaudRate: d.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return port, nil
}

// detect picks the single USB serial port. Several candidates are an error
// because there is no safe way to choose between them.
func (d *SerialDialer) detect() (string, error) {
	ports, err := d.listPorts()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	var candidates []string
	for _, p := range ports {
		if p.IsUSB {
			candidates = append(candidates, p.Name)
		}
	}
	switch len(candidates) {
	case 0:
		return "", ErrNoSerialPort
	case 1:
		return candidates[0], nil
	default:
		return "", fmt.Errorf("multiple USB serial ports found (%s), set RADIO_SERIAL_PORT", strings.Join(candidates, ", "))
	}
}
