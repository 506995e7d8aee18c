// Command bitgopher is a command-line BitTorrent client: it decodes
// bencode and torrent metainfo, discovers peers via HTTP trackers,
// performs the peer wire handshake and BEP-10/BEP-9 extension
// handshake, and downloads and verifies file content piece by piece.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"bitgopher/bencode"
	"bitgopher/download"
	"bitgopher/metadata"
	"bitgopher/peer"
	"bitgopher/torrentinfo"
	"bitgopher/tracker"
)

var log = logrus.StandardLogger()

// knownCommands lets main print the spec's "unknown command" message
// and exit 0 instead of letting kingpin treat it as a usage error.
var knownCommands = map[string]bool{
	"decode": true, "info": true, "peers": true, "handshake": true,
	"download_piece": true, "download": true,
	"magnet_parse": true, "magnet_handshake": true, "magnet_info": true,
	"magnet_download_piece": true, "magnet_download": true,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: bitgopher <command> [args...]")
		os.Exit(1)
	}
	if !knownCommands[os.Args[1]] {
		fmt.Printf("unknown command: %s\n", os.Args[1])
		os.Exit(0)
	}

	app := kingpin.New("bitgopher", "A command-line BitTorrent client.")

	decodeCmd := app.Command("decode", "Decode a bencoded string and print it as JSON.")
	decodeValue := decodeCmd.Arg("value", "bencoded string").Required().String()

	infoCmd := app.Command("info", "Print a torrent file's metadata.")
	infoFile := infoCmd.Arg("torrent-file", "path to .torrent file").Required().String()

	peersCmd := app.Command("peers", "Discover peers via the tracker.")
	peersFile := peersCmd.Arg("torrent-file", "path to .torrent file").Required().String()

	handshakeCmd := app.Command("handshake", "Perform the peer handshake.")
	handshakeFile := handshakeCmd.Arg("torrent-file", "path to .torrent file").Required().String()
	handshakeAddr := handshakeCmd.Arg("peer", "host:port").Required().String()

	downloadPieceCmd := app.Command("download_piece", "Download a single piece to a file.")
	downloadPieceOut := downloadPieceCmd.Flag("output", "output file path").Short('o').Required().String()
	downloadPieceFile := downloadPieceCmd.Arg("torrent-file", "path to .torrent file").Required().String()
	downloadPieceIndex := downloadPieceCmd.Arg("piece-index", "piece index").Required().Int()

	downloadCmd := app.Command("download", "Download the whole file.")
	downloadOut := downloadCmd.Flag("output", "output file path").Short('o').Required().String()
	downloadFile := downloadCmd.Arg("torrent-file", "path to .torrent file").Required().String()

	magnetParseCmd := app.Command("magnet_parse", "Parse a magnet link.")
	magnetParseURI := magnetParseCmd.Arg("magnet-uri", "magnet link").Required().String()

	magnetHandshakeCmd := app.Command("magnet_handshake", "Handshake via a magnet link.")
	magnetHandshakeURI := magnetHandshakeCmd.Arg("magnet-uri", "magnet link").Required().String()

	magnetInfoCmd := app.Command("magnet_info", "Fetch metadata and print info via a magnet link.")
	magnetInfoURI := magnetInfoCmd.Arg("magnet-uri", "magnet link").Required().String()

	magnetDownloadPieceCmd := app.Command("magnet_download_piece", "Download a single piece via a magnet link.")
	magnetDownloadPieceOut := magnetDownloadPieceCmd.Flag("output", "output file path").Short('o').Required().String()
	magnetDownloadPieceURI := magnetDownloadPieceCmd.Arg("magnet-uri", "magnet link").Required().String()
	magnetDownloadPieceIndex := magnetDownloadPieceCmd.Arg("piece-index", "piece index").Required().Int()

	magnetDownloadCmd := app.Command("magnet_download", "Download the whole file via a magnet link.")
	magnetDownloadOut := magnetDownloadCmd.Flag("output", "output file path").Short('o').Required().String()
	magnetDownloadURI := magnetDownloadCmd.Arg("magnet-uri", "magnet link").Required().String()

	command, err := app.Parse(os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("bitgopher: invalid arguments")
	}

	switch command {
	case decodeCmd.FullCommand():
		err = runDecode(*decodeValue)
	case infoCmd.FullCommand():
		err = runInfo(*infoFile)
	case peersCmd.FullCommand():
		err = runPeers(*peersFile)
	case handshakeCmd.FullCommand():
		err = runHandshake(*handshakeFile, *handshakeAddr)
	case downloadPieceCmd.FullCommand():
		err = runDownloadPiece(*downloadPieceOut, *downloadPieceFile, *downloadPieceIndex)
	case downloadCmd.FullCommand():
		err = runDownload(*downloadOut, *downloadFile)
	case magnetParseCmd.FullCommand():
		err = runMagnetParse(*magnetParseURI)
	case magnetHandshakeCmd.FullCommand():
		err = runMagnetHandshake(*magnetHandshakeURI)
	case magnetInfoCmd.FullCommand():
		err = runMagnetInfo(*magnetInfoURI)
	case magnetDownloadPieceCmd.FullCommand():
		err = runMagnetDownloadPiece(*magnetDownloadPieceOut, *magnetDownloadPieceURI, *magnetDownloadPieceIndex)
	case magnetDownloadCmd.FullCommand():
		err = runMagnetDownload(*magnetDownloadOut, *magnetDownloadURI)
	}

	if err != nil {
		log.WithError(err).Fatal("bitgopher: command failed")
	}
}

func runDecode(raw string) error {
	v, err := bencode.DecodeBytes([]byte(raw))
	if err != nil {
		return errors.Wrap(err, "decode")
	}
	out, err := renderJSON(v)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

// renderJSON renders a Value the way the decode command must: bytes
// become text when valid UTF-8, hex otherwise; map keys print sorted.
func renderJSON(v bencode.Value) (string, error) {
	switch v.Kind {
	case bencode.KindBytes:
		text := string(v.Bytes)
		if !utf8.ValidString(text) {
			text = hex.EncodeToString(v.Bytes)
		}
		b, err := json.Marshal(text)
		return string(b), err
	case bencode.KindInteger:
		return fmt.Sprintf("%d", v.Integer), nil
	case bencode.KindList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			s, err := renderJSON(item)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	case bencode.KindMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			valStr, err := renderJSON(v.Map[k])
			if err != nil {
				return "", err
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return "", err
			}
			parts[i] = string(keyJSON) + ":" + valStr
		}
		return "{" + strings.Join(parts, ",") + "}", nil
	default:
		return "", errors.Errorf("decode: unrenderable value kind %d", v.Kind)
	}
}

func runInfo(path string) error {
	ti, err := openTorrentFile(path)
	if err != nil {
		return err
	}
	printTorrentInfo(ti)
	return nil
}

func printTorrentInfo(ti torrentinfo.TorrentInfo) {
	fmt.Printf("Tracker URL: %s\n", ti.AnnounceURL)
	fmt.Printf("Length: %d\n", ti.Length)
	fmt.Printf("Info Hash: %s\n", hex.EncodeToString(ti.InfoHash[:]))
	fmt.Printf("Piece Length: %d\n", ti.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, h := range ti.PieceHashes {
		fmt.Println(hex.EncodeToString(h[:]))
	}
}

func openTorrentFile(path string) (torrentinfo.TorrentInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return torrentinfo.TorrentInfo{}, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return torrentinfo.FromFile(f)
}

func runPeers(path string) error {
	ti, err := openTorrentFile(path)
	if err != nil {
		return err
	}
	peers, err := tracker.Discover(context.Background(), ti)
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Println(p.String())
	}
	return nil
}

func runHandshake(path, addr string) error {
	ti, err := openTorrentFile(path)
	if err != nil {
		return err
	}
	sess, err := peer.Dial(addr, ti.InfoHash, false)
	if err != nil {
		return err
	}
	defer sess.Close()
	fmt.Printf("Peer ID: %s\n", hex.EncodeToString(sess.PeerID[:]))
	return nil
}

func runDownloadPiece(out, path string, index int) error {
	ti, err := openTorrentFile(path)
	if err != nil {
		return err
	}
	sess, err := dialFirstPeer(ti, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.AwaitUnchoke(); err != nil {
		return err
	}
	data, err := download.Piece(sess, ti, index)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func runDownload(out, path string) error {
	ti, err := openTorrentFile(path)
	if err != nil {
		return err
	}
	sess, err := dialFirstPeer(ti, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.AwaitUnchoke(); err != nil {
		return err
	}
	data, err := download.File(sess, ti)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func runMagnetParse(uri string) error {
	ti, err := torrentinfo.FromLink(uri)
	if err != nil {
		return err
	}
	fmt.Printf("Tracker URL: %s\n", ti.AnnounceURL)
	fmt.Printf("Info Hash: %s\n", hex.EncodeToString(ti.InfoHash[:]))
	return nil
}

// magnetDial discovers peers for a partial TorrentInfo and performs
// the base handshake with the extension bit set against the first
// announced peer, as the reference client does — there is no retry
// across peers, per spec.md's error propagation policy.
func magnetDial(ti torrentinfo.TorrentInfo) (*peer.Session, error) {
	return dialFirstPeer(ti, true)
}

func dialFirstPeer(ti torrentinfo.TorrentInfo, wantExtensions bool) (*peer.Session, error) {
	peers, err := tracker.Discover(context.Background(), ti)
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		return nil, errors.New("tracker returned no peers")
	}
	return peer.Dial(peers[0].String(), ti.InfoHash, wantExtensions)
}

func runMagnetHandshake(uri string) error {
	ti, err := torrentinfo.FromLink(uri)
	if err != nil {
		return err
	}
	sess, err := magnetDial(ti)
	if err != nil {
		return err
	}
	defer sess.Close()

	fmt.Printf("Peer ID: %s\n", hex.EncodeToString(sess.PeerID[:]))
	if sess.Reserved.SupportsExtensions() {
		metadataID, err := sess.ExtensionHandshake()
		if err != nil {
			return err
		}
		fmt.Printf("Peer Metadata Extension ID: %d\n", metadataID)
	}
	return nil
}

// magnetBootstrap runs discovery, handshake, extension handshake, and
// the metadata fetch, returning a completed TorrentInfo and a session
// ready for send_interested.
func magnetBootstrap(uri string) (*peer.Session, torrentinfo.TorrentInfo, error) {
	partial, err := torrentinfo.FromLink(uri)
	if err != nil {
		return nil, torrentinfo.TorrentInfo{}, err
	}
	sess, err := magnetDial(partial)
	if err != nil {
		return nil, torrentinfo.TorrentInfo{}, err
	}
	if !sess.Reserved.SupportsExtensions() {
		sess.Close()
		return nil, torrentinfo.TorrentInfo{}, errors.New("expected a peer that supports extensions")
	}
	if _, err := sess.ExtensionHandshake(); err != nil {
		sess.Close()
		return nil, torrentinfo.TorrentInfo{}, err
	}
	full, err := metadata.Fetch(sess, partial)
	if err != nil {
		sess.Close()
		return nil, torrentinfo.TorrentInfo{}, err
	}
	return sess, full, nil
}

func runMagnetInfo(uri string) error {
	sess, full, err := magnetBootstrap(uri)
	if err != nil {
		return err
	}
	defer sess.Close()
	printTorrentInfo(full)
	return nil
}

func runMagnetDownloadPiece(out, uri string, index int) error {
	sess, full, err := magnetBootstrap(uri)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.AwaitUnchoke(); err != nil {
		return err
	}
	data, err := download.Piece(sess, full, index)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func runMagnetDownload(out, uri string) error {
	sess, full, err := magnetBootstrap(uri)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.AwaitUnchoke(); err != nil {
		return err
	}
	data, err := download.File(sess, full)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}
