package meshtastic

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// DefaultTCPPort is the port the Meshtastic firmware serves its stream API on.
const DefaultTCPPort = "4403"

// TCPDialer connects to a network-attached node.
type TCPDialer struct {
	Address string
	Timeout time.Duration
}

// NewTCPDialer creates a dialer for address. A missing port defaults to 4403.
func NewTCPDialer(address string, timeout time.Duration) *TCPDialer {
	if _, _, err := net.SplitHostPort(address); err != nil {
		host := strings.TrimSuffix(strings.TrimPrefix(address, "["), "]")
		address = net.JoinHostPort(host, DefaultTCPPort)
	}
	return &TCPDialer{Address: address, Timeout: timeout}
}

func (d *TCPDialer) String() string { return "tcp:" + d.Address }

// Dial opens the TCP stream.
func (d *TCPDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.Address, err)
	}
	return conn, nil
}
