// Package peer implements the BitTorrent wire handshake, the BEP-10
// extension handshake used to negotiate ut_metadata, and a Session
// type bundling the pieces of state one TCP connection to a peer
// needs for the rest of the flow.
package peer

import (
	"bytes"
	"net"
	"time"

	"github.com/pkg/errors"

	"bitgopher/bencode"
	"bitgopher/clientid"
	"bitgopher/helpers/bitfield"
	"bitgopher/helpers/stream"
	"bitgopher/message"
)

const (
	protocolID = "BitTorrent protocol"

	// extensionReservedByte is the byte offset (within the 8 reserved
	// handshake bytes) whose 0x10 bit advertises BEP-10 support.
	extensionReservedByte = 5
	extensionBit          = 0x10

	// localUtMetadataID is the sub-extension id this client assigns
	// to ut_metadata in its own extension handshake; it is arbitrary
	// and only needs to be consistent with what this client expects
	// back in metadata piece messages (spec.md §4.7/§4.8).
	localUtMetadataID = 1

	dialTimeout      = 3 * time.Second
	handshakeTimeout = 5 * time.Second
)

// ReservedBytes is the 8-byte reserved field of a handshake.
type ReservedBytes [8]byte

// SupportsExtensions reports whether the extension-protocol bit is set.
func (r ReservedBytes) SupportsExtensions() bool {
	return r[extensionReservedByte]&extensionBit != 0
}

// extendedReservedBytes is what this client advertises when
// extensions are wanted: the BEP-10 extension bit set, nothing else.
// Otherwise the reserved bytes are all zero.
var extendedReservedBytes = ReservedBytes{0, 0, 0, 0, 0, extensionBit, 0, 0}

// Session is the state owned by one TCP connection to a peer, created
// by Dial and discarded on Close.
type Session struct {
	Conn     net.Conn
	Reader   *stream.Reader
	PeerID   [20]byte
	Reserved ReservedBytes

	// MetadataExtensionID is the peer's sub-id for ut_metadata,
	// populated by ExtensionHandshake; zero if not negotiated.
	MetadataExtensionID int

	Bitfield bitfield.Bitfield
	Choked   bool
}

// Dial connects to addr and performs the base handshake, advertising
// the extension bit iff wantExtensions is true.
func Dial(addr string, infoHash [20]byte, wantExtensions bool) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial peer %s", addr)
	}

	peerID, reserved, err := handshake(conn, infoHash, wantExtensions)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Session{
		Conn:     conn,
		Reader:   stream.New(conn),
		PeerID:   peerID,
		Reserved: reserved,
		Choked:   true,
	}, nil
}

// Close releases the underlying connection.
func (s *Session) Close() error {
	return s.Conn.Close()
}

func handshake(conn net.Conn, infoHash [20]byte, wantExtensions bool) ([20]byte, ReservedBytes, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	reserved := ReservedBytes{}
	if wantExtensions {
		reserved = extendedReservedBytes
	}
	out := serializeHandshake(infoHash, reserved)
	if _, err := conn.Write(out); err != nil {
		return [20]byte{}, ReservedBytes{}, errors.Wrap(err, "write handshake")
	}

	r := stream.New(conn)
	in, err := r.ReadN(68)
	if err != nil {
		return [20]byte{}, ReservedBytes{}, errors.Wrap(err, "read handshake")
	}

	if !bytes.Equal(in[:20], out[:20]) {
		return [20]byte{}, ReservedBytes{}, errors.New("handshake: unexpected protocol header")
	}
	var gotReserved ReservedBytes
	copy(gotReserved[:], in[20:28])

	var gotInfoHash [20]byte
	copy(gotInfoHash[:], in[28:48])
	if gotInfoHash != infoHash {
		return [20]byte{}, ReservedBytes{}, errors.Errorf("handshake: info hash mismatch, expected %x got %x", infoHash, gotInfoHash)
	}

	var peerID [20]byte
	copy(peerID[:], in[48:68])
	return peerID, gotReserved, nil
}

func serializeHandshake(infoHash [20]byte, reserved ReservedBytes) []byte {
	buf := make([]byte, 68)
	buf[0] = byte(len(protocolID))
	copy(buf[1:20], protocolID)
	copy(buf[20:28], reserved[:])
	copy(buf[28:48], infoHash[:])
	copy(buf[48:68], clientid.PeerID)
	return buf
}

// AwaitUnchoke sends interested and drains frames until an unchoke
// arrives, per spec.md §4.9's send_interested procedure.
func (s *Session) AwaitUnchoke() error {
	if err := message.Write(s.Conn, &message.Message{ID: message.Interested}); err != nil {
		return errors.Wrap(err, "send interested")
	}
	for {
		msg, err := message.Read(s.Reader)
		if err != nil {
			return errors.Wrap(err, "await unchoke")
		}
		if msg == nil {
			continue // keep-alive
		}
		switch msg.ID {
		case message.Unchoke:
			s.Choked = false
			return nil
		case message.Choke:
			s.Choked = true
		case message.BitField:
			s.Bitfield = bitfield.Bitfield(msg.Payload)
		case message.Have:
			if idx, err := message.ParseHave(msg); err == nil {
				s.Bitfield.SetPiece(idx)
			}
		}
	}
}

// ExtensionHandshake performs the BEP-10 negotiation: it drains one
// leading message (many peers send a bitfield first), then exchanges
// extension handshake payloads and returns the peer's ut_metadata
// sub-id.
func (s *Session) ExtensionHandshake() (int, error) {
	if _, err := message.Read(s.Reader); err != nil {
		return 0, errors.Wrap(err, "drain leading message before extension handshake")
	}

	payload, err := bencode.Encode(bencode.Dict(map[string]bencode.Value{
		"m": bencode.Dict(map[string]bencode.Value{
			"ut_metadata": bencode.Int(localUtMetadataID),
		}),
	}))
	if err != nil {
		return 0, errors.Wrap(err, "encode extension handshake")
	}
	out := &message.Message{ID: message.Extended, Payload: append([]byte{0}, payload...)}
	if err := message.Write(s.Conn, out); err != nil {
		return 0, errors.Wrap(err, "send extension handshake")
	}

	reply, err := message.Read(s.Reader)
	if err != nil {
		return 0, errors.Wrap(err, "read extension handshake reply")
	}
	if reply == nil || reply.ID != message.Extended || len(reply.Payload) == 0 || reply.Payload[0] != 0 {
		return 0, errors.New("extension handshake: expected extended message with sub-id 0")
	}

	v, err := bencode.DecodeBytes(reply.Payload[1:])
	if err != nil {
		return 0, errors.Wrap(err, "decode extension handshake reply")
	}
	mDict, ok := v.Get("m")
	if !ok || mDict.Kind != bencode.KindMap {
		return 0, errors.New("extension handshake reply missing m dictionary")
	}
	utMetadata, ok := mDict.Get("ut_metadata")
	if !ok || utMetadata.Kind != bencode.KindInteger {
		return 0, errors.New("peer does not support ut_metadata")
	}

	s.MetadataExtensionID = int(utMetadata.Integer)
	return s.MetadataExtensionID, nil
}
