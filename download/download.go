// Package download drives the piece-by-piece transfer of a file's
// content over a single already-handshaken peer session.
//
// Downloads are sequential and single-peer: one piece is requested,
// pipelined, verified, and appended to the in-memory result before
// the next begins; nothing is written to disk here. There is
// no multi-peer fan-out, no rarest-first scheduling, and no endgame
// mode.
package download

import (
	"bytes"
	"crypto/sha1"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"bitgopher/message"
	"bitgopher/peer"
	"bitgopher/torrentinfo"
)

const (
	blockSize = 0x4000
	backlog   = 5
)

// progress tracks one piece's in-flight request/response bookkeeping.
type progress struct {
	index      int
	buffer     []byte
	downloaded int
	requested  int
	backlog    int
}

// Piece downloads and SHA-1-verifies a single piece by index from
// sess, blocking until complete. Per spec.md §5, there is no deadline
// here: a stalled peer blocks indefinitely.
func Piece(sess *peer.Session, ti torrentinfo.TorrentInfo, index int) ([]byte, error) {
	if index < 0 || index >= len(ti.PieceHashes) {
		return nil, errors.Errorf("piece index %d out of range (torrent has %d pieces)", index, len(ti.PieceHashes))
	}

	length := pieceSize(ti, index)
	state := progress{index: index, buffer: make([]byte, length)}

	for state.downloaded < length {
		if !sess.Choked {
			for state.backlog < backlog && state.requested < length {
				size := blockSize
				if length-state.requested < size {
					size = length - state.requested
				}
				req := message.NewRequest(index, state.requested, size)
				if err := message.Write(sess.Conn, req); err != nil {
					return nil, errors.Wrap(err, "send block request")
				}
				state.backlog++
				state.requested += size
			}
		}
		if err := advance(sess, &state); err != nil {
			return nil, err
		}
	}

	hash := sha1.Sum(state.buffer)
	if !bytes.Equal(hash[:], ti.PieceHashes[index][:]) {
		return nil, errors.Errorf("piece %d failed integrity check", index)
	}
	return state.buffer, nil
}

// advance reads one frame and folds it into state, tracking choke
// state and have announcements the same way AwaitUnchoke does.
func advance(sess *peer.Session, state *progress) error {
	msg, err := message.Read(sess.Reader)
	if err != nil {
		return errors.Wrap(err, "read during piece download")
	}
	if msg == nil {
		return nil // keep-alive
	}
	switch msg.ID {
	case message.Unchoke:
		sess.Choked = false
	case message.Choke:
		sess.Choked = true
	case message.Have:
		if idx, err := message.ParseHave(msg); err == nil {
			sess.Bitfield.SetPiece(idx)
		}
	case message.Piece:
		n, err := message.ParsePiece(state.index, state.buffer, msg)
		if err != nil {
			return err
		}
		state.downloaded += n
		state.backlog--
	}
	return nil
}

// pieceSize returns the byte length of piece index, accounting for a
// possibly-shorter final piece.
func pieceSize(ti torrentinfo.TorrentInfo, index int) int {
	if index == len(ti.PieceHashes)-1 {
		if remainder := ti.Length % ti.PieceLength; remainder != 0 {
			return remainder
		}
	}
	return ti.PieceLength
}

// File downloads every piece of ti in order over sess and returns the
// concatenated file content. Single peer, single piece at a time —
// per spec.md's Non-goals, there is no multi-peer parallelism.
func File(sess *peer.Session, ti torrentinfo.TorrentInfo) ([]byte, error) {
	out := make([]byte, 0, ti.Length)
	for index := range ti.PieceHashes {
		piece, err := Piece(sess, ti, index)
		if err != nil {
			return nil, errors.Wrapf(err, "download piece %d", index)
		}
		out = append(out, piece...)
		logrus.WithFields(logrus.Fields{
			"piece": index,
			"total": len(ti.PieceHashes),
		}).Debug("downloaded piece")
	}
	return out, nil
}
