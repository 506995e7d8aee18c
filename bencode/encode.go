package bencode

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

// Encode serializes v to canonical bencode bytes: map keys are always
// written in ascending byte-lexicographic order regardless of how the
// in-memory map iterates, so the same Value always produces the same
// bytes.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeInto(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeInto(buf *bytes.Buffer, v Value) error {
	switch v.Kind {
	case KindBytes:
		buf.WriteString(strconv.Itoa(len(v.Bytes)))
		buf.WriteByte(':')
		buf.Write(v.Bytes)
		return nil
	case KindInteger:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Integer, 10))
		buf.WriteByte('e')
		return nil
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.List {
			if err := encodeInto(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
		return nil
	case KindMap:
		buf.WriteByte('d')
		for _, key := range sortedKeys(v.Map) {
			if err := encodeInto(buf, Str([]byte(key))); err != nil {
				return err
			}
			if err := encodeInto(buf, v.Map[key]); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
		return nil
	default:
		return errors.Errorf("encode: unknown value kind %d", v.Kind)
	}
}
