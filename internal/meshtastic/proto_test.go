package meshtastic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncodeTextPacketWireFormat(t *testing.T) {
	got := encodeToRadioPacket(&meshPacket{
		To:       0x1234,
		ID:       7,
		HopLimit: 3,
		Decoded:  &dataMsg{PortNum: PortTextMessage, Payload: []byte("hi")},
	})

	want := []byte{
		0x0a, 0x14, // ToRadio.packet, 20 bytes
		0x15, 0x34, 0x12, 0x00, 0x00, // to (fixed32)
		0x22, 0x06, 0x08, 0x01, 0x12, 0x02, 'h', 'i', // decoded{portnum, payload}
		0x35, 0x07, 0x00, 0x00, 0x00, // id (fixed32)
		0x48, 0x03, // hop_limit
	}
	assert.Equal(t, want, got)
}

func TestControlMessages(t *testing.T) {
	assert.Equal(t, []byte{0x18, 0x2a}, encodeWantConfig(42))
	assert.Equal(t, []byte{0x20, 0x01}, encodeDisconnect())
	assert.Equal(t, []byte{0x3a, 0x00}, encodeHeartbeat())
}

func TestDecodeFromRadioPacket(t *testing.T) {
	pkt := encodeMeshPacket(&meshPacket{
		From:    0xa1b2c3d4,
		To:      uint32(BroadcastNum),
		Channel: 1,
		ID:      99,
		Decoded: &dataMsg{PortNum: PortTextMessage, Payload: []byte("@ai hello")},
	})
	pkt = protowire.AppendTag(pkt, packetRxRSSI, protowire.VarintType)
	pkt = protowire.AppendVarint(pkt, uint64(int64(-92)))
	pkt = protowire.AppendTag(pkt, packetRxSNR, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, 0x40c00000) // 6.0
	pkt = protowire.AppendTag(pkt, 99, protowire.BytesType)
	pkt = protowire.AppendBytes(pkt, []byte("unknown field"))

	b := protowire.AppendTag(nil, fromRadioID, protowire.VarintType)
	b = protowire.AppendVarint(b, 5)
	b = protowire.AppendTag(b, fromRadioPacket, protowire.BytesType)
	b = protowire.AppendBytes(b, pkt)

	msg, err := decodeFromRadio(b)
	require.NoError(t, err)
	require.NotNil(t, msg.Packet)
	assert.Equal(t, uint32(5), msg.ID)

	in := msg.Packet.inbound()
	assert.Equal(t, NodeNum(0xa1b2c3d4), in.From)
	assert.Equal(t, BroadcastNum, in.To)
	assert.Equal(t, uint32(1), in.Channel)
	assert.Equal(t, uint32(99), in.PacketID)
	assert.Equal(t, int32(-92), in.RxRSSI)
	assert.Equal(t, float32(6.0), in.RxSNR)
	assert.True(t, in.HasText)
	assert.Equal(t, "@ai hello", in.Text)
}

func TestInboundWithoutText(t *testing.T) {
	testCases := []struct {
		name string
		pkt  *meshPacket
	}{
		{name: "encrypted", pkt: &meshPacket{From: 1, Encrypted: true}},
		{name: "position app", pkt: &meshPacket{From: 1, Decoded: &dataMsg{PortNum: 3, Payload: []byte{0x01}}}},
		{name: "invalid utf8", pkt: &meshPacket{From: 1, Decoded: &dataMsg{PortNum: PortTextMessage, Payload: []byte{0xff, 0xfe}}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in := tc.pkt.inbound()
			assert.False(t, in.HasText)
			assert.Empty(t, in.Text)
		})
	}
}

func TestDecodeMyInfoAndConfigComplete(t *testing.T) {
	msg, err := decodeFromRadio(append(fromRadioMyInfoMsg(0xdeadbeef), fromRadioConfigCompleteMsg(77)...))
	require.NoError(t, err)
	assert.True(t, msg.HasMyInfo)
	assert.Equal(t, uint32(0xdeadbeef), msg.MyNodeNum)
	assert.Equal(t, uint32(77), msg.ConfigCompleteID)
}

func TestDecodeTruncated(t *testing.T) {
	b := fromRadioPacketMsg(&meshPacket{From: 1, To: 2, ID: 3})
	_, err := decodeFromRadio(b[:len(b)-2])
	assert.Error(t, err)
}

func TestNodeNum(t *testing.T) {
	assert.True(t, NodeNum(0x1234).Valid())
	assert.False(t, NodeNum(0).Valid())
	assert.False(t, BroadcastNum.Valid())
	assert.Equal(t, "!0000abcd", NodeNum(0xabcd).String())
}
