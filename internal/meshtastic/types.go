// Package meshtastic talks to a Meshtastic node over its stream API
// (USB serial or TCP). It frames and decodes the ToRadio/FromRadio protocol,
// delivers received packets to subscribers and sends text replies.
package meshtastic

import (
	"errors"
	"fmt"
)

// NodeNum is a mesh node address.
type NodeNum uint32

// BroadcastNum addresses every node on the channel.
const BroadcastNum NodeNum = 0xFFFFFFFF

// Valid reports whether n can be used as a unicast reply destination.
func (n NodeNum) Valid() bool {
	return n != 0 && n != BroadcastNum
}

// String renders the node the way the Meshtastic apps do, e.g. "!a1b2c3d4".
func (n NodeNum) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

// PortNum identifies the application a packet payload belongs to.
type PortNum uint32

const (
	PortUnknown     PortNum = 0
	PortTextMessage PortNum = 1
)

// MaxTextPayload is the largest text payload that fits in one packet.
const MaxTextPayload = 233

var (
	ErrNotConnected    = errors.New("radio not connected")
	ErrClosed          = errors.New("radio interface closed")
	ErrPayloadTooLarge = fmt.Errorf("text payload exceeds %d bytes", MaxTextPayload)
)

// InboundMessage is one packet received from the mesh.
type InboundMessage struct {
	From     NodeNum
	To       NodeNum
	Channel  uint32
	PacketID uint32
	PortNum  PortNum
	HopLimit uint32
	RxSNR    float32
	RxRSSI   int32

	// Text is set only when HasText is true: a decoded TEXT_MESSAGE_APP
	// payload that is valid UTF-8.
	Text    string
	HasText bool
}

// Handler receives inbound messages. OnMessage is called on the radio read
// loop, one message at a time.
type Handler interface {
	OnMessage(msg InboundMessage)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(msg InboundMessage)

func (f HandlerFunc) OnMessage(msg InboundMessage) { f(msg) }
