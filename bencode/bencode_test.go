package bencode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"bitgopher/helpers/stream"
)

func streamFromBytes(b []byte) *stream.Reader {
	return stream.New(bytes.NewReader(b))
}

func TestDecodeString(t *testing.T) {
	v, err := DecodeBytes([]byte("5:hello"))
	require.NoError(t, err)
	require.True(t, v.IsBytes())
	require.Equal(t, "hello", v.String())
}

func TestDecodeInteger(t *testing.T) {
	v, err := DecodeBytes([]byte("i42e"))
	require.NoError(t, err)
	require.Equal(t, int64(42), v.Integer)
}

func TestDecodeNegativeInteger(t *testing.T) {
	v, err := DecodeBytes([]byte("i-42e"))
	require.NoError(t, err)
	require.Equal(t, int64(-42), v.Integer)
}

func TestDecodeList(t *testing.T) {
	v, err := DecodeBytes([]byte("l5:helloi52ee"))
	require.NoError(t, err)
	require.Len(t, v.List, 2)
	require.Equal(t, "hello", v.List[0].String())
	require.Equal(t, int64(52), v.List[1].Integer)
}

func TestDecodeDict(t *testing.T) {
	v, err := DecodeBytes([]byte("d3:foo3:bar5:helloi52ee"))
	require.NoError(t, err)
	foo, ok := v.Get("foo")
	require.True(t, ok)
	require.Equal(t, "bar", foo.String())
	hello, ok := v.Get("hello")
	require.True(t, ok)
	require.Equal(t, int64(52), hello.Integer)
}

func TestEncodeMapSortsKeys(t *testing.T) {
	v := Dict(map[string]Value{"b": Int(2), "a": Int(1)})
	out, err := Encode(v)
	require.NoError(t, err)
	require.Equal(t, "d1:ai1e1:bi2ee", string(out))
}

func TestEncodeDeterministic(t *testing.T) {
	v := Dict(map[string]Value{"z": Int(1), "a": Str([]byte("x")), "m": Lst([]Value{Int(1), Int(2)})})
	first, err := Encode(v)
	require.NoError(t, err)
	second, err := Encode(v)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRoundTripPreservesBinaryBytes(t *testing.T) {
	raw := []byte{0xff, 0x00, 0xfe, 'h', 'i'}
	v := Str(raw)
	encoded, err := Encode(v)
	require.NoError(t, err)
	decoded, err := DecodeBytes(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, decoded.Bytes)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v := Dict(map[string]Value{
		"pieces": Str([]byte{1, 2, 3, 0xaa, 0xbb}),
		"list":   Lst([]Value{Int(1), Str([]byte("two")), Int(-3)}),
	})
	encoded, err := Encode(v)
	require.NoError(t, err)
	decoded, err := DecodeBytes(encoded)
	require.NoError(t, err)

	pieces, ok := decoded.Get("pieces")
	require.True(t, ok)
	require.Equal(t, v.Map["pieces"].Bytes, pieces.Bytes)

	list, ok := decoded.Get("list")
	require.True(t, ok)
	require.Len(t, list.List, 3)
}

func TestDecoderReportsBytesConsumed(t *testing.T) {
	// A header value followed by trailer bytes in the same buffer,
	// mirroring the BEP-9 metadata response layout.
	data := []byte("d3:fooi1ee" + "TRAILER")
	dec := NewDecoder(streamFromBytes(data))
	v, err := dec.Decode()
	require.NoError(t, err)
	require.Equal(t, int64(1), v.Map["foo"].Integer)
	require.Equal(t, "d3:fooi1ee", string(data[:dec.Consumed()]))
	require.Equal(t, "TRAILER", string(data[dec.Consumed():]))
}
