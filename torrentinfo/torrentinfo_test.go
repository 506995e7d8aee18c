package torrentinfo

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"bitgopher/bencode"
)

func buildTestTorrent(t *testing.T) ([]byte, [20]byte) {
	t.Helper()
	pieces := strings.Repeat("A", 20) + strings.Repeat("B", 20)
	info := bencode.Dict(map[string]bencode.Value{
		"length":       bencode.Int(92063),
		"name":         bencode.Str([]byte("sample.txt")),
		"piece length": bencode.Int(32768),
		"pieces":       bencode.Str([]byte(pieces)),
	})
	infoBytes, err := bencode.Encode(info)
	require.NoError(t, err)
	wantHash := sha1.Sum(infoBytes)

	root := bencode.Dict(map[string]bencode.Value{
		"announce": bencode.Str([]byte("http://bittorrent-test-tracker.codecrafters.io/announce")),
		"info":     info,
	})
	raw, err := bencode.Encode(root)
	require.NoError(t, err)
	return raw, wantHash
}

func TestFromFile(t *testing.T) {
	raw, wantHash := buildTestTorrent(t)
	ti, err := FromFile(strings.NewReader(string(raw)))
	require.NoError(t, err)
	require.Equal(t, "http://bittorrent-test-tracker.codecrafters.io/announce", ti.AnnounceURL)
	require.Equal(t, 92063, ti.Length)
	require.Equal(t, 32768, ti.PieceLength)
	require.Equal(t, wantHash, ti.InfoHash)
	require.Len(t, ti.PieceHashes, 2)
}

func TestFromFileRejectsBadPiecesLength(t *testing.T) {
	info := bencode.Dict(map[string]bencode.Value{
		"length":       bencode.Int(10),
		"piece length": bencode.Int(10),
		"pieces":       bencode.Str([]byte("short")),
	})
	root := bencode.Dict(map[string]bencode.Value{
		"announce": bencode.Str([]byte("http://tracker")),
		"info":     info,
	})
	raw, err := bencode.Encode(root)
	require.NoError(t, err)
	_, err = FromFile(strings.NewReader(string(raw)))
	require.Error(t, err)
}

func TestFromLink(t *testing.T) {
	link := "magnet:?xt=urn:btih:ad42ce8109f54c99613ce38f9b4d87e70f24a165&dn=magnet1.gif&tr=http%3A%2F%2Fbittorrent-test-tracker.codecrafters.io%2Fannounce"
	ti, err := FromLink(link)
	require.NoError(t, err)
	require.Equal(t, "ad42ce8109f54c99613ce38f9b4d87e70f24a165", hex.EncodeToString(ti.InfoHash[:]))
	require.Equal(t, "http://bittorrent-test-tracker.codecrafters.io/announce", ti.AnnounceURL)
	require.Equal(t, "magnet1.gif", ti.Name)
	require.Equal(t, 0, ti.PieceLength)
	require.Empty(t, ti.PieceHashes)
}

func TestFromLinkMissingTracker(t *testing.T) {
	link := "magnet:?xt=urn:btih:ad42ce8109f54c99613ce38f9b4d87e70f24a165&dn=magnet1.gif"
	_, err := FromLink(link)
	require.Error(t, err)
}

func TestFromLinkMissingInfoHash(t *testing.T) {
	link := "magnet:?dn=magnet1.gif&tr=http%3A%2F%2Ftracker"
	_, err := FromLink(link)
	require.Error(t, err)
}
