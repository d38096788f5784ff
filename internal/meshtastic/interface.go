package meshtastic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/lewisedginton/mesh_llm_relay/pkg/logger"
)

const (
	wakeDelay        = 100 * time.Millisecond
	closeDrainPeriod = 2 * time.Second
)

// Dialer opens the byte stream to a Meshtastic node.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

// Options tune the link and outbound packets.
type Options struct {
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration // 0 disables heartbeats
	Channel           uint32
	HopLimit          uint32
	WantAck           bool
}

// Interface is a connected Meshtastic node. It is safe for concurrent use.
type Interface struct {
	dialer Dialer
	opts   Options
	log    logger.Logger

	conn    io.ReadWriteCloser
	writeMu sync.Mutex

	mu         sync.RWMutex
	handlers   []Handler
	myNode     NodeNum
	configured bool

	configDone chan struct{}
	nonce      uint32

	done      chan struct{}
	err       error
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates an Interface. Nothing is opened until Open is called.
func New(dialer Dialer, opts Options, log logger.Logger) *Interface {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	return &Interface{
		dialer:     dialer,
		opts:       opts,
		log:        log.WithFields(logger.StringField("component", "radio"), logger.StringField("radio", dialer.String())),
		configDone: make(chan struct{}),
		done:       make(chan struct{}),
		closing:    make(chan struct{}),
	}
}

// Open dials the node, wakes its API and waits for the configuration
// handshake to complete.
func (i *Interface) Open(ctx context.Context) error {
	conn, err := i.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", i.dialer, err)
	}
	i.conn = conn

	if err := i.write(wakeSequence()); err != nil {
		i.abandon()
		return fmt.Errorf("failed to wake radio: %w", err)
	}
	select {
	case <-time.After(wakeDelay):
	case <-ctx.Done():
		i.abandon()
		return ctx.Err()
	}

	i.nonce = rand.Uint32N(1<<31-1) + 1
	go i.readLoop()

	if err := i.writeFrame(encodeWantConfig(i.nonce)); err != nil {
		_ = i.Close()
		return fmt.Errorf("failed to request config: %w", err)
	}

	timer := time.NewTimer(i.opts.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-i.configDone:
	case <-timer.C:
		_ = i.Close()
		return fmt.Errorf("radio did not finish configuration within %s", i.opts.ConnectTimeout)
	case <-i.done:
		i.release()
		return fmt.Errorf("radio link lost during configuration: %w", i.Err())
	case <-ctx.Done():
		_ = i.Close()
		return ctx.Err()
	}

	i.log.Info("Radio connected", logger.StringField("node", i.MyNodeNum().String()))

	if i.opts.HeartbeatInterval > 0 {
		go i.heartbeatLoop()
	}
	return nil
}

// Subscribe registers h for every received packet.
func (i *Interface) Subscribe(h Handler) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handlers = append(i.handlers, h)
}

// SendText sends text to dest as a TEXT_MESSAGE_APP packet.
func (i *Interface) SendText(ctx context.Context, text string, dest NodeNum) error {
	if err := i.Ready(); err != nil {
		return err
	}
	if len(text) > MaxTextPayload {
		return ErrPayloadTooLarge
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	pkt := &meshPacket{
		To:       uint32(dest),
		Channel:  i.opts.Channel,
		ID:       rand.Uint32N(1<<31-1) + 1,
		HopLimit: i.opts.HopLimit,
		WantAck:  i.opts.WantAck,
		Decoded:  &dataMsg{PortNum: PortTextMessage, Payload: []byte(text)},
	}
	if err := i.writeFrame(encodeToRadioPacket(pkt)); err != nil {
		return fmt.Errorf("failed to send text to %s: %w", dest, err)
	}
	i.log.Debug("Text packet queued",
		logger.StringField("to", dest.String()),
		logger.Field("packet_id", pkt.ID),
		logger.IntField("bytes", len(text)),
	)
	return nil
}

// Ready returns nil once the handshake completed and the link is up.
func (i *Interface) Ready() error {
	select {
	case <-i.done:
		return ErrClosed
	default:
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if !i.configured {
		return ErrNotConnected
	}
	return nil
}

// MyNodeNum is the local node number reported during the handshake.
func (i *Interface) MyNodeNum() NodeNum {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.myNode
}

// Done is closed when the read loop stops.
func (i *Interface) Done() <-chan struct{} { return i.done }

// Err reports why the link stopped. It is nil after a clean Close.
func (i *Interface) Err() error {
	select {
	case <-i.done:
		return i.err
	default:
		return nil
	}
}

// Transport names the underlying link, e.g. "serial:/dev/ttyUSB0".
func (i *Interface) Transport() string { return i.dialer.String() }

// Close tells the node we are leaving and releases the stream.
func (i *Interface) Close() error {
	var err error
	i.closeOnce.Do(func() {
		close(i.closing)
		if i.conn == nil {
			close(i.done)
			return
		}
		if werr := i.writeFrame(encodeDisconnect()); werr != nil {
			i.log.Debug("Failed to send disconnect", logger.ErrorField(werr))
		}
		err = i.conn.Close()

		select {
		case <-i.done:
		case <-time.After(closeDrainPeriod):
			i.log.Warn("Radio read loop did not stop after close")
		}
	})
	return err
}

// release closes the stream after the read loop has already stopped.
func (i *Interface) release() {
	i.closeOnce.Do(func() {
		close(i.closing)
		_ = i.conn.Close()
	})
}

// abandon drops a stream that never reached the read loop.
func (i *Interface) abandon() {
	_ = i.conn.Close()
	i.conn = nil
}

func (i *Interface) readLoop() {
	fr := newFrameReader(i.conn, func(line string) {
		i.log.Debug("Device console", logger.StringField("line", line))
	})

	var loopErr error
	for {
		payload, err := fr.ReadFrame()
		if err != nil {
			loopErr = err
			break
		}
		msg, err := decodeFromRadio(payload)
		if err != nil {
			i.log.Debug("Dropping undecodable frame", logger.ErrorField(err), logger.IntField("bytes", len(payload)))
			continue
		}
		i.handle(msg)
	}

	select {
	case <-i.closing:
	default:
		if errors.Is(loopErr, io.EOF) {
			loopErr = io.ErrUnexpectedEOF
		}
		i.err = fmt.Errorf("radio link lost: %w", loopErr)
		i.log.Error("Radio link lost", logger.ErrorField(loopErr))
	}
	close(i.done)
}

func (i *Interface) handle(msg *fromRadio) {
	if msg.HasMyInfo {
		i.mu.Lock()
		i.myNode = NodeNum(msg.MyNodeNum)
		i.mu.Unlock()
	}

	if msg.ConfigCompleteID != 0 && msg.ConfigCompleteID == i.nonce {
		i.mu.Lock()
		first := !i.configured
		i.configured = true
		i.mu.Unlock()
		if first {
			close(i.configDone)
		}
	}

	if msg.Rebooted {
		i.log.Warn("Radio reported a reboot")
	}

	if msg.Packet == nil {
		return
	}
	in := msg.Packet.inbound()

	i.mu.RLock()
	handlers := append([]Handler(nil), i.handlers...)
	i.mu.RUnlock()

	for _, h := range handlers {
		h.OnMessage(in)
	}
}

func (i *Interface) heartbeatLoop() {
	ticker := time.NewTicker(i.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := i.writeFrame(encodeHeartbeat()); err != nil {
				i.log.Warn("Failed to send heartbeat", logger.ErrorField(err))
			}
		case <-i.closing:
			return
		case <-i.done:
			return
		}
	}
}

func (i *Interface) writeFrame(payload []byte) error {
	frame, err := encodeFrame(payload)
	if err != nil {
		return err
	}
	return i.write(frame)
}

func (i *Interface) write(b []byte) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	_, err := i.conn.Write(b)
	return err
}
