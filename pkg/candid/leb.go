package candid

import (
	"encoding/binary"
	"errors"
)

var errTruncated = errors.New("candid: unexpected end of input")

func appendLEB(b []byte, v uint64) []byte {
	return binary.AppendUvarint(b, v)
}

func appendSLEB(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

// reader is a cursor over a Candid message.
type reader struct {
	buf []byte
	off int

	// zeroItems counts decoded elements of zero-sized vectors, which take
	// no input bytes and so are not bounded by the message length.
	zeroItems uint64
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) byte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, errTruncated
	}
	c := r.buf[r.off]
	r.off++
	return c, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, errTruncated
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) leb() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n == 0 {
		return 0, errTruncated
	}
	if n < 0 {
		return 0, errors.New("candid: leb128 overflows 64 bits")
	}
	r.off += n
	return v, nil
}

func (r *reader) sleb() (int64, error) {
	var result int64
	var shift uint
	for {
		c, err := r.byte()
		if err != nil {
			return 0, err
		}
		if shift >= 64 {
			return 0, errors.New("candid: sleb128 overflows 64 bits")
		}
		result |= int64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			if shift < 64 && c&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
}

// length reads a LEB128 length and checks it against the remaining input.
func (r *reader) length() (int, error) {
	n, err := r.leb()
	if err != nil {
		return 0, err
	}
	if n > uint64(r.remaining()) {
		return 0, errTruncated
	}
	return int(n), nil
}
