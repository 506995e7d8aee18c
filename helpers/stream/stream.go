// Package stream wraps a blocking byte source with a one-byte pushback
// buffer so callers can peek without consuming.
package stream

import (
	"io"

	"github.com/pkg/errors"
)

// Reader adds Peek/ReadUntil/ReadN semantics on top of any io.Reader.
// A single pushback byte is enough: PeekByte followed by ReadByte must
// always return the same byte.
type Reader struct {
	r       io.Reader
	pushed  byte
	hasPush bool
}

// New wraps r.
func New(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadByte consumes and returns the next byte.
func (s *Reader) ReadByte() (byte, error) {
	if s.hasPush {
		s.hasPush = false
		return s.pushed, nil
	}
	var buf [1]byte
	if _, err := io.ReadFull(s.r, buf[:]); err != nil {
		return 0, errors.Wrap(err, "read byte")
	}
	return buf[0], nil
}

// PeekByte returns the next byte without consuming it.
func (s *Reader) PeekByte() (byte, error) {
	if s.hasPush {
		return s.pushed, nil
	}
	var buf [1]byte
	if _, err := io.ReadFull(s.r, buf[:]); err != nil {
		return 0, errors.Wrap(err, "peek byte")
	}
	s.pushed = buf[0]
	s.hasPush = true
	return s.pushed, nil
}

// ReadN reads exactly n bytes, blocking until satisfied or the source fails.
func (s *Reader) ReadN(n int) ([]byte, error) {
	out := make([]byte, n)
	start := 0
	if s.hasPush && n > 0 {
		out[0] = s.pushed
		s.hasPush = false
		start = 1
	}
	if start < n {
		if _, err := io.ReadFull(s.r, out[start:]); err != nil {
			return nil, errors.Wrapf(err, "read %d bytes", n)
		}
	}
	return out, nil
}

// ReadUntil returns the bytes preceding delim, consuming delim but not
// returning it. Unexpected EOF before delim is a fatal parse error.
func (s *Reader) ReadUntil(delim byte) ([]byte, error) {
	var out []byte
	for {
		b, err := s.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "read until delimiter")
		}
		if b == delim {
			return out, nil
		}
		out = append(out, b)
	}
}
