// Package tracker announces to a torrent's HTTP tracker and decodes
// the compact peer list from its response.
package tracker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"bitgopher/bencode"
	"bitgopher/clientid"
	"bitgopher/helpers/stream"
	"bitgopher/torrentinfo"
)

const clientPort = 6881

// Peer is a tracker-announced peer address.
type Peer struct {
	IP   net.IP
	Port uint16
}

// String renders the peer as "a.b.c.d:port".
func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// Discover announces to ti's tracker over HTTP and returns its peer list.
func Discover(ctx context.Context, ti torrentinfo.TorrentInfo) ([]Peer, error) {
	trackerURL, err := buildURL(ti)
	if err != nil {
		return nil, errors.Wrap(err, "build tracker url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trackerURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build tracker request")
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "tracker request")
	}
	defer resp.Body.Close()

	dec := bencode.NewDecoder(stream.New(resp.Body))
	root, err := dec.Decode()
	if err != nil {
		return nil, errors.Wrap(err, "decode tracker response")
	}
	if root.Kind != bencode.KindMap {
		return nil, errors.New("tracker response: root value is not a dictionary")
	}

	if reason, ok := root.Get("failure reason"); ok {
		return nil, errors.Errorf("tracker failure: %s", reason.String())
	}

	peersValue, ok := root.Get("peers")
	if !ok || !peersValue.IsBytes() {
		return nil, errors.New("tracker response: missing peers")
	}
	return parseCompactPeers(peersValue.Bytes)
}

func parseCompactPeers(raw []byte) ([]Peer, error) {
	const entrySize = 6
	if len(raw)%entrySize != 0 {
		return nil, errors.Errorf("tracker response: peers length %d is not a multiple of %d", len(raw), entrySize)
	}
	peers := make([]Peer, len(raw)/entrySize)
	for i := range peers {
		off := i * entrySize
		peers[i] = Peer{
			IP:   net.IPv4(raw[off], raw[off+1], raw[off+2], raw[off+3]),
			Port: uint16(raw[off+4])<<8 | uint16(raw[off+5]),
		}
	}
	return peers, nil
}

func buildURL(ti torrentinfo.TorrentInfo) (string, error) {
	base, err := url.Parse(ti.AnnounceURL)
	if err != nil {
		return "", err
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", errors.Errorf("unsupported tracker scheme %q (only http/https trackers are supported)", base.Scheme)
	}

	values := url.Values{
		"peer_id":    []string{clientid.PeerID},
		"port":       []string{strconv.Itoa(clientPort)},
		"uploaded":   []string{"0"},
		"downloaded": []string{"0"},
		"left":       []string{strconv.Itoa(ti.Length)},
		"compact":    []string{"1"},
	}
	base.RawQuery = values.Encode() + "&info_hash=" + percentEncodeRaw(ti.InfoHash[:])
	return base.String(), nil
}

// percentEncodeRaw percent-encodes raw bytes per the tracker spec
// (every byte as %HH), bypassing url.Values' encoder, which assumes
// its input is already text and would mangle non-UTF8 info-hash bytes.
func percentEncodeRaw(b []byte) string {
	out := make([]byte, 0, len(b)*3)
	for _, c := range b {
		out = append(out, []byte(fmt.Sprintf("%%%02X", c))...)
	}
	return string(out)
}
