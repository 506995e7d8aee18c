// Package metadata implements the BEP-9 ut_metadata fetch used to
// bootstrap a full TorrentInfo from a magnet link's partial one.
package metadata

import (
	"bytes"
	"crypto/sha1"

	"github.com/pkg/errors"

	"bitgopher/bencode"
	"bitgopher/helpers/stream"
	"bitgopher/message"
	"bitgopher/peer"
	"bitgopher/torrentinfo"
)

const (
	msgTypeRequest = 0
	msgTypeData    = 1
)

// Fetch requests piece 0 of the info dictionary over ut_metadata,
// verifies it against partial.InfoHash, and returns a completed
// TorrentInfo. It assumes (per spec.md §4.8) the info dict fits in a
// single 16 KiB metadata piece.
func Fetch(sess *peer.Session, partial torrentinfo.TorrentInfo) (torrentinfo.TorrentInfo, error) {
	reqPayload, err := bencode.Encode(bencode.Dict(map[string]bencode.Value{
		"msg_type": bencode.Int(msgTypeRequest),
		"piece":    bencode.Int(0),
	}))
	if err != nil {
		return torrentinfo.TorrentInfo{}, errors.Wrap(err, "encode metadata request")
	}

	out := &message.Message{
		ID:      message.Extended,
		Payload: append([]byte{byte(sess.MetadataExtensionID)}, reqPayload...),
	}
	if err := message.Write(sess.Conn, out); err != nil {
		return torrentinfo.TorrentInfo{}, errors.Wrap(err, "send metadata request")
	}

	reply, err := readMetadataReply(sess.Reader)
	if err != nil {
		return torrentinfo.TorrentInfo{}, err
	}

	infoBytes, err := splitMetadataPayload(reply.Payload[1:])
	if err != nil {
		return torrentinfo.TorrentInfo{}, err
	}

	gotHash := sha1.Sum(infoBytes)
	if gotHash != partial.InfoHash {
		return torrentinfo.TorrentInfo{}, errors.Errorf("metadata info hash mismatch: expected %x got %x", partial.InfoHash, gotHash)
	}

	info, err := bencode.DecodeBytes(infoBytes)
	if err != nil {
		return torrentinfo.TorrentInfo{}, errors.Wrap(err, "decode fetched info dictionary")
	}

	length, ok := info.Get("length")
	if !ok {
		return torrentinfo.TorrentInfo{}, errors.New("fetched metadata missing length (multi-file torrents are not supported)")
	}
	pieceLength, ok := info.Get("piece length")
	if !ok {
		return torrentinfo.TorrentInfo{}, errors.New("fetched metadata missing piece length")
	}
	pieces, ok := info.Get("pieces")
	if !ok || !pieces.IsBytes() {
		return torrentinfo.TorrentInfo{}, errors.New("fetched metadata missing pieces")
	}
	if len(pieces.Bytes)%20 != 0 {
		return torrentinfo.TorrentInfo{}, errors.Errorf("fetched metadata: pieces length %d is not a multiple of 20", len(pieces.Bytes))
	}
	pieceHashes := make([][20]byte, len(pieces.Bytes)/20)
	for i := range pieceHashes {
		copy(pieceHashes[i][:], pieces.Bytes[i*20:(i+1)*20])
	}

	name := partial.Name
	if n, ok := info.Get("name"); ok && n.IsBytes() {
		name = n.String()
	}

	full := partial
	full.Length = int(length.Integer)
	full.PieceLength = int(pieceLength.Integer)
	full.PieceHashes = pieceHashes
	full.Name = name
	return full, nil
}

// readMetadataReply drains frames until an extended message with a
// non-empty payload arrives, skipping keep-alives and other message
// ids. It does not check the extension sub-id or the msg_type, so any
// extended message (e.g. a second, unsolicited extension handshake)
// is returned; splitMetadataPayload then rejects one that is not a
// data message.
func readMetadataReply(r *stream.Reader) (*message.Message, error) {
	for {
		msg, err := message.Read(r)
		if err != nil {
			return nil, errors.Wrap(err, "read metadata reply")
		}
		if msg == nil || msg.ID != message.Extended || len(msg.Payload) == 0 {
			continue
		}
		return msg, nil
	}
}

// splitMetadataPayload decodes the bencoded header map prefixing a
// metadata data message, using the decoder's consumed-byte count to
// find where the header ends and the raw info-dict bytes begin
// (spec.md §4.8/§9: the header and payload share one frame).
func splitMetadataPayload(payload []byte) ([]byte, error) {
	dec := bencode.NewDecoder(stream.New(bytes.NewReader(payload)))
	header, err := dec.Decode()
	if err != nil {
		return nil, errors.Wrap(err, "decode metadata header")
	}
	if header.Kind != bencode.KindMap {
		return nil, errors.New("metadata header is not a dictionary")
	}
	if mt, ok := header.Get("msg_type"); !ok || mt.Integer != msgTypeData {
		return nil, errors.New("metadata reply is not a data message")
	}

	totalSize, ok := header.Get("total_size")
	if !ok {
		return nil, errors.New("metadata reply missing total_size")
	}

	remainder := payload[dec.Consumed():]
	if int64(len(remainder)) != totalSize.Integer {
		return nil, errors.Errorf("metadata payload length %d does not match declared total_size %d", len(remainder), totalSize.Integer)
	}
	return remainder, nil
}
