package bencode

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"

	"bitgopher/helpers/stream"
)

// Decoder parses a bencode byte stream into Values. It tracks how many
// bytes it has consumed so callers with extra data appended after a
// value in the same frame (BEP-9's metadata response) can find where
// the value ends and the raw payload begins.
type Decoder struct {
	r        *stream.Reader
	consumed int
}

// NewDecoder wraps r.
func NewDecoder(r *stream.Reader) *Decoder {
	return &Decoder{r: r}
}

// Consumed returns the number of bytes read so far.
func (d *Decoder) Consumed() int { return d.consumed }

func (d *Decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	d.consumed++
	return b, nil
}

func (d *Decoder) peekByte() (byte, error) {
	return d.r.PeekByte()
}

func (d *Decoder) readUntil(delim byte) ([]byte, error) {
	out, err := d.r.ReadUntil(delim)
	if err != nil {
		return nil, err
	}
	d.consumed += len(out) + 1
	return out, nil
}

func (d *Decoder) readN(n int) ([]byte, error) {
	out, err := d.r.ReadN(n)
	if err != nil {
		return nil, err
	}
	d.consumed += n
	return out, nil
}

// Decode dispatches on the next byte and parses exactly one Value.
func (d *Decoder) Decode() (Value, error) {
	b, err := d.peekByte()
	if err != nil {
		return Value{}, errors.Wrap(err, "decode: read tag byte")
	}
	switch {
	case b >= '0' && b <= '9':
		s, err := d.decodeBytes()
		if err != nil {
			return Value{}, err
		}
		return Str(s), nil
	case b == 'i':
		n, err := d.decodeInteger()
		if err != nil {
			return Value{}, err
		}
		return Int(n), nil
	case b == 'l':
		return d.decodeList()
	case b == 'd':
		return d.decodeDict()
	default:
		return Value{}, errors.Errorf("decode: unrecognized tag byte %q", b)
	}
}

func (d *Decoder) decodeBytes() ([]byte, error) {
	lenStr, err := d.readUntil(':')
	if err != nil {
		return nil, errors.Wrap(err, "decode string: length")
	}
	n, err := strconv.Atoi(string(lenStr))
	if err != nil || n < 0 {
		return nil, errors.Errorf("decode string: invalid length %q", lenStr)
	}
	data, err := d.readN(n)
	if err != nil {
		return nil, errors.Wrap(err, "decode string: body")
	}
	return data, nil
}

func (d *Decoder) decodeInteger() (int64, error) {
	if _, err := d.readByte(); err != nil { // consume 'i'
		return 0, err
	}
	digits, err := d.readUntil('e')
	if err != nil {
		return 0, errors.Wrap(err, "decode integer")
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, errors.Errorf("decode integer: invalid literal %q", digits)
	}
	return n, nil
}

func (d *Decoder) decodeList() (Value, error) {
	if _, err := d.readByte(); err != nil { // consume 'l'
		return Value{}, err
	}
	var items []Value
	for {
		b, err := d.peekByte()
		if err != nil {
			return Value{}, errors.Wrap(err, "decode list")
		}
		if b == 'e' {
			if _, err := d.readByte(); err != nil {
				return Value{}, err
			}
			return Lst(items), nil
		}
		item, err := d.Decode()
		if err != nil {
			return Value{}, err
		}
		items = append(items, item)
	}
}

func (d *Decoder) decodeDict() (Value, error) {
	if _, err := d.readByte(); err != nil { // consume 'd'
		return Value{}, err
	}
	m := make(map[string]Value)
	for {
		b, err := d.peekByte()
		if err != nil {
			return Value{}, errors.Wrap(err, "decode dict")
		}
		if b == 'e' {
			if _, err := d.readByte(); err != nil {
				return Value{}, err
			}
			return Dict(m), nil
		}
		key, err := d.decodeBytes()
		if err != nil {
			return Value{}, errors.Wrap(err, "decode dict: key")
		}
		val, err := d.Decode()
		if err != nil {
			return Value{}, err
		}
		m[string(key)] = val
	}
}

// DecodeBytes parses a single bencoded value from a byte slice.
func DecodeBytes(b []byte) (Value, error) {
	return NewDecoder(stream.New(bytes.NewReader(b))).Decode()
}
