package meshtastic

import (
	"fmt"
	"math"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the subset of meshtastic/mesh.proto used by the relay.
const (
	toRadioPacket       protowire.Number = 1
	toRadioWantConfigID protowire.Number = 3
	toRadioDisconnect   protowire.Number = 4
	toRadioHeartbeat    protowire.Number = 7

	fromRadioID               protowire.Number = 1
	fromRadioPacket           protowire.Number = 2
	fromRadioMyInfo           protowire.Number = 3
	fromRadioConfigCompleteID protowire.Number = 7
	fromRadioRebooted         protowire.Number = 8

	packetFrom      protowire.Number = 1
	packetTo        protowire.Number = 2
	packetChannel   protowire.Number = 3
	packetDecoded   protowire.Number = 4
	packetEncrypted protowire.Number = 5
	packetID        protowire.Number = 6
	packetRxTime    protowire.Number = 7
	packetRxSNR     protowire.Number = 8
	packetHopLimit  protowire.Number = 9
	packetWantAck   protowire.Number = 10
	packetRxRSSI    protowire.Number = 12

	dataPortNum      protowire.Number = 1
	dataPayload      protowire.Number = 2
	dataWantResponse protowire.Number = 3
	dataRequestID    protowire.Number = 6

	myInfoNodeNum protowire.Number = 1
)

type dataMsg struct {
	PortNum      PortNum
	Payload      []byte
	WantResponse bool
	RequestID    uint32
}

type meshPacket struct {
	From      uint32
	To        uint32
	Channel   uint32
	ID        uint32
	RxTime    uint32
	RxSNR     float32
	HopLimit  uint32
	WantAck   bool
	RxRSSI    int32
	Decoded   *dataMsg
	Encrypted bool
}

type fromRadio struct {
	ID               uint32
	Packet           *meshPacket
	MyNodeNum        uint32
	HasMyInfo        bool
	ConfigCompleteID uint32
	Rebooted         bool
}

// field is one decoded wire field. Scalars land in num, length-delimited
// values in raw.
type field struct {
	id  protowire.Number
	typ protowire.Type
	num uint64
	raw []byte
}

func parseFields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		id, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{id: id, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.num, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.num = uint64(v)
		case protowire.Fixed64Type:
			f.num, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(id, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", id, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func decodeFromRadio(b []byte) (*fromRadio, error) {
	msg := &fromRadio{}
	err := parseFields(b, func(f field) error {
		switch f.id {
		case fromRadioID:
			msg.ID = uint32(f.num)
		case fromRadioPacket:
			p, err := decodeMeshPacket(f.raw)
			if err != nil {
				return fmt.Errorf("packet: %w", err)
			}
			msg.Packet = p
		case fromRadioMyInfo:
			msg.HasMyInfo = true
			return parseFields(f.raw, func(f field) error {
				if f.id == myInfoNodeNum {
					msg.MyNodeNum = uint32(f.num)
				}
				return nil
			})
		case fromRadioConfigCompleteID:
			msg.ConfigCompleteID = uint32(f.num)
		case fromRadioRebooted:
			msg.Rebooted = f.num != 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeMeshPacket(b []byte) (*meshPacket, error) {
	p := &meshPacket{}
	err := parseFields(b, func(f field) error {
		switch f.id {
		case packetFrom:
			p.From = uint32(f.num)
		case packetTo:
			p.To = uint32(f.num)
		case packetChannel:
			p.Channel = uint32(f.num)
		case packetDecoded:
			d, err := decodeData(f.raw)
			if err != nil {
				return fmt.Errorf("decoded: %w", err)
			}
			p.Decoded = d
		case packetEncrypted:
			p.Encrypted = true
		case packetID:
			p.ID = uint32(f.num)
		case packetRxTime:
			p.RxTime = uint32(f.num)
		case packetRxSNR:
			p.RxSNR = math.Float32frombits(uint32(f.num))
		case packetHopLimit:
			p.HopLimit = uint32(f.num)
		case packetWantAck:
			p.WantAck = f.num != 0
		case packetRxRSSI:
			p.RxRSSI = int32(f.num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func decodeData(b []byte) (*dataMsg, error) {
	d := &dataMsg{}
	err := parseFields(b, func(f field) error {
		switch f.id {
		case dataPortNum:
			d.PortNum = PortNum(f.num)
		case dataPayload:
			d.Payload = append([]byte(nil), f.raw...)
		case dataWantResponse:
			d.WantResponse = f.num != 0
		case dataRequestID:
			d.RequestID = uint32(f.num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func encodeWantConfig(nonce uint32) []byte {
	b := protowire.AppendTag(nil, toRadioWantConfigID, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(nonce))
}

func encodeDisconnect() []byte {
	b := protowire.AppendTag(nil, toRadioDisconnect, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func encodeHeartbeat() []byte {
	b := protowire.AppendTag(nil, toRadioHeartbeat, protowire.BytesType)
	return protowire.AppendBytes(b, nil)
}

func encodeData(d *dataMsg) []byte {
	b := protowire.AppendTag(nil, dataPortNum, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.PortNum))
	b = protowire.AppendTag(b, dataPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, d.Payload)
	if d.WantResponse {
		b = protowire.AppendTag(b, dataWantResponse, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func encodeMeshPacket(p *meshPacket) []byte {
	var b []byte
	if p.From != 0 {
		b = protowire.AppendTag(b, packetFrom, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, p.From)
	}
	b = protowire.AppendTag(b, packetTo, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, p.To)
	if p.Channel != 0 {
		b = protowire.AppendTag(b, packetChannel, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Channel))
	}
	if p.Decoded != nil {
		b = protowire.AppendTag(b, packetDecoded, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeData(p.Decoded))
	}
	b = protowire.AppendTag(b, packetID, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, p.ID)
	if p.HopLimit != 0 {
		b = protowire.AppendTag(b, packetHopLimit, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.HopLimit))
	}
	if p.WantAck {
		b = protowire.AppendTag(b, packetWantAck, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func encodeToRadioPacket(p *meshPacket) []byte {
	b := protowire.AppendTag(nil, toRadioPacket, protowire.BytesType)
	return protowire.AppendBytes(b, encodeMeshPacket(p))
}

// inbound converts a received packet into the handler-facing form.
func (p *meshPacket) inbound() InboundMessage {
	msg := InboundMessage{
		From:     NodeNum(p.From),
		To:       NodeNum(p.To),
		Channel:  p.Channel,
		PacketID: p.ID,
		HopLimit: p.HopLimit,
		RxSNR:    p.RxSNR,
		RxRSSI:   p.RxRSSI,
	}
	if p.Decoded == nil {
		return msg
	}
	msg.PortNum = p.Decoded.PortNum
	if p.Decoded.PortNum == PortTextMessage && utf8.Valid(p.Decoded.Payload) {
		msg.Text = string(p.Decoded.Payload)
		msg.HasText = true
	}
	return msg
}
