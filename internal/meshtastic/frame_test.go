package meshtastic

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	frame, err := encodeFrame([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x94, 0xC3, 0x00, 0x03, 0x01, 0x02, 0x03}, frame)

	_, err = encodeFrame(make([]byte, MaxFrameSize+1))
	assert.Error(t, err)
}

func TestWakeSequence(t *testing.T) {
	assert.Equal(t, bytes.Repeat([]byte{0xC3}, 32), wakeSequence())
}

func TestFrameReaderResyncs(t *testing.T) {
	first, err := encodeFrame([]byte("one"))
	require.NoError(t, err)
	second, err := encodeFrame([]byte("two"))
	require.NoError(t, err)

	var stream bytes.Buffer
	stream.WriteString("INFO | boot ok\r\n")
	stream.Write(first)
	stream.Write([]byte{0x94, 'x', '\n'})
	stream.Write([]byte{0x94, 0xC3, 0x02, 0x01}) // announces 513 bytes
	stream.Write(second)

	var lines []string
	fr := newFrameReader(&stream, func(line string) { lines = append(lines, line) })

	got, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	got, err = fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	_, err = fr.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, []string{"INFO | boot ok", "\x94x"}, lines)
}

func TestFrameReaderTruncatedPayload(t *testing.T) {
	fr := newFrameReader(bytes.NewReader([]byte{0x94, 0xC3, 0x00, 0x05, 'a', 'b'}), nil)
	_, err := fr.ReadFrame()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
