package meshtastic

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

type toRadio struct {
	WantConfigID uint32
	Disconnect   bool
	Heartbeat    bool
	Packet       *meshPacket
}

func decodeToRadio(b []byte) (*toRadio, error) {
	msg := &toRadio{}
	err := parseFields(b, func(f field) error {
		switch f.id {
		case toRadioPacket:
			p, err := decodeMeshPacket(f.raw)
			if err != nil {
				return err
			}
			msg.Packet = p
		case toRadioWantConfigID:
			msg.WantConfigID = uint32(f.num)
		case toRadioDisconnect:
			msg.Disconnect = f.num != 0
		case toRadioHeartbeat:
			msg.Heartbeat = true
		}
		return nil
	})
	return msg, err
}

func fromRadioMyInfoMsg(node uint32) []byte {
	inner := protowire.AppendTag(nil, myInfoNodeNum, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(node))
	b := protowire.AppendTag(nil, fromRadioMyInfo, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func fromRadioConfigCompleteMsg(id uint32) []byte {
	b := protowire.AppendTag(nil, fromRadioConfigCompleteID, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(id))
}

func fromRadioPacketMsg(p *meshPacket) []byte {
	b := protowire.AppendTag(nil, fromRadioPacket, protowire.BytesType)
	return protowire.AppendBytes(b, encodeMeshPacket(p))
}

// fakeRadio plays the device side of the stream API over a net.Pipe.
type fakeRadio struct {
	conn     net.Conn
	nodeNum  uint32
	silent   bool
	received chan *toRadio
}

type pipeDialer struct {
	conn net.Conn
}

func (d *pipeDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) { return d.conn, nil }
func (d *pipeDialer) String() string                                       { return "pipe" }

func startFakeRadio(t *testing.T, nodeNum uint32, silent bool) (*fakeRadio, *pipeDialer) {
	t.Helper()
	host, dev := net.Pipe()
	r := &fakeRadio{conn: dev, nodeNum: nodeNum, silent: silent, received: make(chan *toRadio, 64)}
	go r.serve()
	t.Cleanup(func() { _ = dev.Close() })
	return r, &pipeDialer{conn: host}
}

func (r *fakeRadio) serve() {
	defer close(r.received)
	fr := newFrameReader(r.conn, nil)
	for {
		payload, err := fr.ReadFrame()
		if err != nil {
			return
		}
		msg, err := decodeToRadio(payload)
		if err != nil {
			continue
		}
		if msg.WantConfigID != 0 && !r.silent {
			r.send(fromRadioMyInfoMsg(r.nodeNum))
			r.send(fromRadioConfigCompleteMsg(msg.WantConfigID))
		}
		r.received <- msg
	}
}

func (r *fakeRadio) send(payload []byte) {
	frame, err := encodeFrame(payload)
	if err != nil {
		return
	}
	_, _ = r.conn.Write(frame)
}

// next waits for the first received message matching match.
func (r *fakeRadio) next(t *testing.T, match func(*toRadio) bool) *toRadio {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-r.received:
			require.True(t, ok, "radio stream closed")
			if match(msg) {
				return msg
			}
		case <-deadline:
			require.FailNow(t, "timed out waiting for message from host")
			return nil
		}
	}
}
