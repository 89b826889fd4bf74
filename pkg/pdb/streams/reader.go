package streams

import (
	"bytes"
	"encoding/binary"
	"io"
)

// reader decodes little-endian fields from an in-memory stream.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) u16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) cstring() (string, error) {
	s, n := ParseString(r.buf[r.off:])
	if n == 0 || r.buf[r.off+n-1] != 0 {
		return "", io.ErrUnexpectedEOF
	}
	r.off += n
	return s, nil
}

func (r *reader) align(n int) {
	r.off = (r.off + n - 1) &^ (n - 1)
	if r.off > len(r.buf) {
		r.off = len(r.buf)
	}
}

// ParseString reads a NUL-terminated string and returns it with the number of
// bytes consumed, including the terminator when present.
func ParseString(data []byte) (string, int) {
	idx := bytes.IndexByte(data, 0)
	if idx == -1 {
		return string(data), len(data)
	}
	return string(data[:idx]), idx + 1
}

// ParseNumeric decodes a CodeView numeric leaf and returns its value with the
// number of bytes consumed. Zero bytes consumed means the leaf was malformed.
func ParseNumeric(data []byte) (uint64, int) {
	if len(data) < 2 {
		return 0, 0
	}
	val := binary.LittleEndian.Uint16(data)
	if val < LF_NUMERIC {
		return uint64(val), 2
	}
	need := 0
	switch val {
	case LF_CHAR:
		need = 1
	case LF_SHORT, LF_USHORT:
		need = 2
	case LF_LONG, LF_ULONG:
		need = 4
	case LF_QUADWORD, LF_UQUADWORD:
		need = 8
	}
	if need == 0 || len(data) < 2+need {
		return 0, 0
	}
	p := data[2:]
	switch val {
	case LF_CHAR:
		return uint64(int8(p[0])), 3
	case LF_SHORT:
		return uint64(int16(binary.LittleEndian.Uint16(p))), 4
	case LF_USHORT:
		return uint64(binary.LittleEndian.Uint16(p)), 4
	case LF_LONG:
		return uint64(int32(binary.LittleEndian.Uint32(p))), 6
	case LF_ULONG:
		return uint64(binary.LittleEndian.Uint32(p)), 6
	default:
		return binary.LittleEndian.Uint64(p), 10
	}
}
