package peer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bitgopher/clientid"
)

func TestSerializeHandshakeLayout(t *testing.T) {
	infoHash := [20]byte{1, 2, 3}
	out := serializeHandshake(infoHash, extendedReservedBytes)
	require.Len(t, out, 68)
	require.Equal(t, byte(19), out[0])
	require.Equal(t, protocolID, string(out[1:20]))
	require.Equal(t, byte(extensionBit), out[20+extensionReservedByte])
	require.Equal(t, infoHash[:], out[28:48])
	require.Equal(t, clientid.PeerID, string(out[48:68]))
}

func TestReservedBytesSupportsExtensions(t *testing.T) {
	require.True(t, extendedReservedBytes.SupportsExtensions())
	require.False(t, ReservedBytes{}.SupportsExtensions())
}

func TestDialPerformsHandshake(t *testing.T) {
	client, remote := net.Pipe()
	defer remote.Close()

	infoHash := [20]byte{9, 9, 9}
	peerID := [20]byte{}
	copy(peerID[:], "AAAAAAAAAAAAAAAAAAAA")

	done := make(chan error, 1)
	go func() {
		remote.SetDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 68)
		if _, err := readFull(remote, buf); err != nil {
			done <- err
			return
		}
		resp := serializeHandshake(infoHash, ReservedBytes{})
		copy(resp[48:68], peerID[:])
		_, err := remote.Write(resp)
		done <- err
	}()

	sess, err := dialOverConn(client, infoHash, false)
	require.NoError(t, err)
	require.Equal(t, peerID, sess.PeerID)
	require.NoError(t, <-done)
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// dialOverConn runs the handshake step of Dial over an already-open
// connection, for testing without a real TCP listener.
func dialOverConn(conn net.Conn, infoHash [20]byte, wantExtensions bool) (*Session, error) {
	peerID, reserved, err := handshake(conn, infoHash, wantExtensions)
	if err != nil {
		return nil, err
	}
	return &Session{Conn: conn, PeerID: peerID, Reserved: reserved, Choked: true}, nil
}
