package meshtastic

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

const (
	frameStart1 = 0x94
	frameStart2 = 0xC3

	// MaxFrameSize is the largest protobuf payload the stream API carries.
	MaxFrameSize = 512

	frameHeaderLen = 4
	wakeLen        = 32
)

// encodeFrame prefixes payload with the stream header.
func encodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("frame payload %d bytes exceeds %d", len(payload), MaxFrameSize)
	}
	buf := make([]byte, frameHeaderLen, frameHeaderLen+len(payload))
	buf[0] = frameStart1
	buf[1] = frameStart2
	binary.BigEndian.PutUint16(buf[2:], uint16(len(payload)))
	return append(buf, payload...), nil
}

// wakeSequence is written before the first request so a sleeping device
// switches its serial port into API mode.
func wakeSequence() []byte {
	b := make([]byte, wakeLen)
	for i := range b {
		b[i] = frameStart2
	}
	return b
}

// frameReader splits the device stream into protobuf frames. Bytes outside
// a frame are debug console output and are passed to console line by line.
type frameReader struct {
	br      *bufio.Reader
	line    []byte
	console func(line string)
}

func newFrameReader(r io.Reader, console func(string)) *frameReader {
	return &frameReader{br: bufio.NewReaderSize(r, 2*MaxFrameSize), console: console}
}

// ReadFrame blocks until a complete frame arrives. Frames announcing more
// than MaxFrameSize bytes are treated as corruption and skipped.
func (f *frameReader) ReadFrame() ([]byte, error) {
	for {
		b, err := f.br.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != frameStart1 {
			f.consoleByte(b)
			continue
		}

		next, err := f.br.Peek(1)
		if err != nil {
			return nil, err
		}
		if next[0] != frameStart2 {
			f.consoleByte(b)
			continue
		}
		_, _ = f.br.ReadByte()

		var hdr [2]byte
		if _, err := io.ReadFull(f.br, hdr[:]); err != nil {
			return nil, err
		}
		n := int(binary.BigEndian.Uint16(hdr[:]))
		if n > MaxFrameSize {
			continue
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(f.br, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

func (f *frameReader) consoleByte(b byte) {
	if b == '\n' || len(f.line) >= MaxFrameSize {
		f.flushConsole()
		if b == '\n' {
			return
		}
	}
	f.line = append(f.line, b)
}

func (f *frameReader) flushConsole() {
	line := strings.TrimRight(string(f.line), "\r")
	f.line = f.line[:0]
	if line != "" && f.console != nil {
		f.console(line)
	}
}
