package message

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"bitgopher/helpers/stream"
)

func TestSerializeRequest(t *testing.T) {
	m := NewRequest(1, 0x4000, 0x4000)
	out := m.Serialize()
	require.Len(t, out, 4+1+12)
	require.Equal(t, byte(Request), out[4])
}

func TestReadWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	m := &Message{ID: Interested}
	require.NoError(t, Write(&buf, m))

	read, err := Read(stream.New(&buf))
	require.NoError(t, err)
	require.Equal(t, Interested, read.ID)
	require.Empty(t, read.Payload)
}

func TestReadKeepAlive(t *testing.T) {
	buf := bytes.NewBuffer(KeepAlive())
	read, err := Read(stream.New(buf))
	require.NoError(t, err)
	require.Nil(t, read)
}

func TestParsePiece(t *testing.T) {
	payload := make([]byte, 8+4)
	payload[3] = 2  // index = 2
	payload[7] = 16 // begin = 16
	copy(payload[8:], []byte{1, 2, 3, 4})
	msg := &Message{ID: Piece, Payload: payload}

	out := make([]byte, 32)
	n, err := ParsePiece(2, out, msg)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte{1, 2, 3, 4}, out[16:20])
}

func TestParsePieceWrongIndex(t *testing.T) {
	payload := make([]byte, 8)
	msg := &Message{ID: Piece, Payload: payload}
	_, err := ParsePiece(5, make([]byte, 8), msg)
	require.Error(t, err)
}

func TestParseHave(t *testing.T) {
	m := NewHave(7)
	idx, err := ParseHave(m)
	require.NoError(t, err)
	require.Equal(t, 7, idx)
}
