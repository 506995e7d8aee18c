// Package message implements BitTorrent peer-wire message framing:
// a 4-byte big-endian length prefix followed by a 1-byte id and
// id-specific payload, or a zero length for a keep-alive.
package message

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"bitgopher/helpers/stream"
)

// ID identifies a peer message's type.
type ID uint8

const (
	Choke         ID = 0
	Unchoke       ID = 1
	Interested    ID = 2
	NotInterested ID = 3
	Have          ID = 4
	BitField      ID = 5
	Request       ID = 6
	Piece         ID = 7
	Cancel        ID = 8
	Extended      ID = 20
)

// Message is a single peer-wire message. A nil *Message serializes to
// a keep-alive; a non-nil Message always serializes with its ID, so a
// zero-value Message is a choke frame.
type Message struct {
	ID      ID
	Payload []byte
}

// KeepAlive is the zero-length frame meaning "still here".
func KeepAlive() []byte {
	return make([]byte, 4)
}

// Serialize renders m as its wire bytes.
func (m *Message) Serialize() []byte {
	if m == nil {
		return KeepAlive()
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// Read parses one frame from r. A keep-alive (zero length) yields a
// nil *Message and nil error.
func Read(r *stream.Reader) (*Message, error) {
	lengthBuf, err := r.ReadN(4)
	if err != nil {
		return nil, errors.Wrap(err, "read message length")
	}
	length := binary.BigEndian.Uint32(lengthBuf)
	if length == 0 {
		return nil, nil
	}

	body, err := r.ReadN(int(length))
	if err != nil {
		return nil, errors.Wrap(err, "read message body")
	}
	return &Message{ID: ID(body[0]), Payload: body[1:]}, nil
}

// Write serializes m and writes it to w.
func Write(w io.Writer, m *Message) error {
	_, err := w.Write(m.Serialize())
	return errors.Wrap(err, "write message")
}

// NewRequest builds a block-request message: piece index, begin
// offset, and block length, each a big-endian uint32.
func NewRequest(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: Request, Payload: payload}
}

// NewHave builds a have message announcing piece index.
func NewHave(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: Have, Payload: payload}
}

// ParsePiece validates and copies a piece message's block data into
// buf at its reported offset, returning the number of bytes copied.
func ParsePiece(wantIndex int, buf []byte, msg *Message) (int, error) {
	if msg.ID != Piece {
		return 0, errors.Errorf("expected piece message, got id %d", msg.ID)
	}
	if len(msg.Payload) < 8 {
		return 0, errors.Errorf("piece payload too short: %d bytes", len(msg.Payload))
	}
	gotIndex := int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	if gotIndex != wantIndex {
		return 0, errors.Errorf("piece message for index %d, expected %d", gotIndex, wantIndex)
	}
	begin := int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	if begin >= len(buf) {
		return 0, errors.Errorf("piece begin offset %d out of range (piece size %d)", begin, len(buf))
	}
	data := msg.Payload[8:]
	if begin+len(data) > len(buf) {
		return 0, errors.Errorf("piece data of length %d at offset %d overruns buffer of size %d", len(data), begin, len(buf))
	}
	copy(buf[begin:], data)
	return len(data), nil
}

// ParseHave extracts the announced piece index from a have message.
func ParseHave(msg *Message) (int, error) {
	if msg.ID != Have {
		return 0, errors.Errorf("expected have message, got id %d", msg.ID)
	}
	if len(msg.Payload) != 4 {
		return 0, errors.Errorf("have payload must be 4 bytes, got %d", len(msg.Payload))
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}
