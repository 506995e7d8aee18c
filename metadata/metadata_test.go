package metadata

import (
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"bitgopher/bencode"
	"bitgopher/helpers/stream"
	"bitgopher/message"
	"bitgopher/peer"
	"bitgopher/torrentinfo"
)

func TestSplitMetadataPayloadFindsTrailer(t *testing.T) {
	header, err := bencode.Encode(bencode.Dict(map[string]bencode.Value{
		"msg_type":   bencode.Int(msgTypeData),
		"piece":      bencode.Int(0),
		"total_size": bencode.Int(3),
	}))
	require.NoError(t, err)
	trailer := []byte("abc")

	got, err := splitMetadataPayload(append(header, trailer...))
	require.NoError(t, err)
	require.Equal(t, trailer, got)
}

func TestSplitMetadataPayloadRejectsSizeMismatch(t *testing.T) {
	header, err := bencode.Encode(bencode.Dict(map[string]bencode.Value{
		"msg_type":   bencode.Int(msgTypeData),
		"total_size": bencode.Int(99),
	}))
	require.NoError(t, err)

	_, err = splitMetadataPayload(append(header, []byte("short")...))
	require.Error(t, err)
}

func TestFetch(t *testing.T) {
	infoBytes, err := bencode.Encode(bencode.Dict(map[string]bencode.Value{
		"length":       bencode.Int(92063),
		"name":         bencode.Str([]byte("fetched.iso")),
		"piece length": bencode.Int(32768),
		"pieces":       bencode.Str(make([]byte, 40)),
	}))
	require.NoError(t, err)
	infoHash := sha1.Sum(infoBytes)

	header, err := bencode.Encode(bencode.Dict(map[string]bencode.Value{
		"msg_type":   bencode.Int(msgTypeData),
		"piece":      bencode.Int(0),
		"total_size": bencode.Int(int64(len(infoBytes))),
	}))
	require.NoError(t, err)

	clientConn, remote := net.Pipe()
	defer clientConn.Close()
	defer remote.Close()

	done := make(chan error, 1)
	go func() {
		remote.SetDeadline(time.Now().Add(2 * time.Second))

		req, err := message.Read(stream.New(remote))
		if err != nil {
			done <- err
			return
		}
		if req.ID != message.Extended || req.Payload[0] != 3 {
			done <- errors.New("unexpected metadata request frame")
			return
		}

		reply := &message.Message{
			ID:      message.Extended,
			Payload: append([]byte{0}, append(header, infoBytes...)...),
		}
		done <- message.Write(remote, reply)
	}()

	sess := &peer.Session{
		Conn:                clientConn,
		Reader:              stream.New(clientConn),
		MetadataExtensionID: 3,
	}
	partial := torrentinfo.TorrentInfo{
		AnnounceURL: "http://tracker.example/announce",
		InfoHash:    infoHash,
		Length:      999,
	}

	full, err := Fetch(sess, partial)
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, 92063, full.Length)
	require.Equal(t, 32768, full.PieceLength)
	require.Equal(t, "fetched.iso", full.Name)
	require.Len(t, full.PieceHashes, 2)
	require.Equal(t, "http://tracker.example/announce", full.AnnounceURL)
}
