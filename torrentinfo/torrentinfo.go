// Package torrentinfo builds a TorrentInfo from a .torrent metainfo
// file or a magnet link, deriving the info-hash from the exact bytes
// of the info sub-dictionary.
package torrentinfo

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"bitgopher/bencode"
	"bitgopher/helpers/stream"
)

// magnetPlaceholderLength is the "left" value advertised to the
// tracker before metadata has been fetched; it only needs to be
// positive so trackers don't treat the request as already complete.
const magnetPlaceholderLength = 999

// TorrentInfo is the resolved metadata for a single-file torrent. A
// partial TorrentInfo (from a magnet link, before the metadata fetch
// in the metadata package completes it) has Length set to the
// placeholder above, PieceLength zero, and PieceHashes empty.
type TorrentInfo struct {
	AnnounceURL string
	Length      int
	InfoHash    [20]byte
	PieceLength int
	PieceHashes [][20]byte
	// Name is the display name: the info dictionary's name when read
	// from a file or fetched metadata, else the magnet link's optional
	// dn= value. No other flow reads it.
	Name string
}

// FromFile decodes a .torrent metainfo file and derives its info-hash.
func FromFile(r io.Reader) (TorrentInfo, error) {
	dec := bencode.NewDecoder(stream.New(r))
	root, err := dec.Decode()
	if err != nil {
		return TorrentInfo{}, errors.Wrap(err, "decode torrent file")
	}
	if root.Kind != bencode.KindMap {
		return TorrentInfo{}, errors.New("torrent file: root value is not a dictionary")
	}

	announce, ok := root.Get("announce")
	if !ok || !announce.IsBytes() {
		return TorrentInfo{}, errors.New("torrent file: missing announce")
	}

	info, ok := root.Get("info")
	if !ok || info.Kind != bencode.KindMap {
		return TorrentInfo{}, errors.New("torrent file: missing info dictionary")
	}

	infoBytes, err := bencode.Encode(info)
	if err != nil {
		return TorrentInfo{}, errors.Wrap(err, "re-encode info dictionary")
	}
	infoHash := sha1.Sum(infoBytes)

	length, ok := info.Get("length")
	if !ok {
		return TorrentInfo{}, errors.New("torrent file: missing info.length (multi-file torrents are not supported)")
	}
	pieceLength, ok := info.Get("piece length")
	if !ok {
		return TorrentInfo{}, errors.New("torrent file: missing info.piece length")
	}
	pieces, ok := info.Get("pieces")
	if !ok || !pieces.IsBytes() {
		return TorrentInfo{}, errors.New("torrent file: missing info.pieces")
	}
	pieceHashes, err := splitPieceHashes(pieces.Bytes)
	if err != nil {
		return TorrentInfo{}, err
	}

	name := ""
	if n, ok := info.Get("name"); ok && n.IsBytes() {
		name = n.String()
	}

	return TorrentInfo{
		AnnounceURL: announce.String(),
		Length:      int(length.Integer),
		InfoHash:    infoHash,
		PieceLength: int(pieceLength.Integer),
		PieceHashes: pieceHashes,
		Name:        name,
	}, nil
}

func splitPieceHashes(pieces []byte) ([][20]byte, error) {
	if len(pieces)%20 != 0 {
		return nil, errors.Errorf("torrent file: pieces length %d is not a multiple of 20", len(pieces))
	}
	hashes := make([][20]byte, len(pieces)/20)
	for i := range hashes {
		copy(hashes[i][:], pieces[i*20:(i+1)*20])
	}
	return hashes, nil
}

// FromLink parses a magnet URI (magnet:?xt=urn:btih:<hex>&dn=...&tr=...)
// into a partial TorrentInfo. xt and tr are required; dn is optional.
func FromLink(link string) (TorrentInfo, error) {
	const prefix = "magnet:?"
	if !strings.HasPrefix(link, prefix) {
		return TorrentInfo{}, errors.Errorf("magnet link: missing %q prefix", prefix)
	}

	var infoHash [20]byte
	haveInfoHash := false
	var announce string
	haveAnnounce := false
	var name string

	for _, part := range strings.Split(link[len(prefix):], "&") {
		switch {
		case strings.HasPrefix(part, "xt=urn:btih:"):
			hexHash := part[len("xt=urn:btih:"):]
			decoded, err := hex.DecodeString(hexHash)
			if err != nil {
				return TorrentInfo{}, errors.Wrapf(err, "magnet link: invalid info hash %q", hexHash)
			}
			if len(decoded) != 20 {
				return TorrentInfo{}, errors.Errorf("magnet link: info hash %q is not 20 bytes", hexHash)
			}
			copy(infoHash[:], decoded)
			haveInfoHash = true
		case strings.HasPrefix(part, "dn="):
			decodedName, err := url.QueryUnescape(part[len("dn="):])
			if err == nil {
				name = decodedName
			}
		case strings.HasPrefix(part, "tr="):
			decodedURL, err := url.QueryUnescape(part[len("tr="):])
			if err != nil {
				return TorrentInfo{}, errors.Wrap(err, "magnet link: invalid tracker url")
			}
			announce = decodedURL
			haveAnnounce = true
		}
	}

	if !haveInfoHash {
		return TorrentInfo{}, errors.New("magnet link is missing info hash")
	}
	if !haveAnnounce {
		return TorrentInfo{}, errors.New("magnet link is missing tracker url")
	}

	return TorrentInfo{
		AnnounceURL: announce,
		Length:      magnetPlaceholderLength,
		InfoHash:    infoHash,
		PieceLength: 0,
		PieceHashes: nil,
		Name:        name,
	}, nil
}

