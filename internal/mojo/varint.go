package mojo

import (
	"strings"
	"unicode/utf8"
)

// The MOJO varint layout is least-significant-bits first. The first byte
// holds a sign bit (0x40), six magnitude bits and a continuation bit (0x80).
// Every following byte holds seven magnitude bits and a continuation bit.

// AppendVarint appends the canonical (shortest) encoding of n to dst.
func AppendVarint(dst []byte, n int64) []byte {
	var b byte
	u := uint64(n)
	if n < 0 {
		b = 0x40
		u = uint64(-n)
	}
	b |= byte(u & 0x3f)
	u >>= 6
	if u != 0 {
		b |= 0x80
	}
	dst = append(dst, b)
	for u != 0 {
		b = byte(u & 0x7f)
		u >>= 7
		if u != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}

// Varint returns the canonical encoding of n.
func Varint(n int64) []byte {
	return AppendVarint(nil, n)
}

// VarintReader decodes a varint one byte at a time, so the same state
// machine serves a blocking buffered reader and a chunked streaming one.
// Feed returns the decoded value and true on the final byte of an integer;
// the reader is then ready for the next integer.
type VarintReader struct {
	n     uint64
	shift uint
	neg   bool
	mid   bool
}

func (r *VarintReader) Feed(b byte) (int64, bool) {
	if !r.mid {
		r.neg = b&0x40 != 0
		r.n = uint64(b & 0x3f)
		r.shift = 6
		if b&0x80 == 0 {
			return r.value(), true
		}
		r.mid = true
		return 0, false
	}
	r.n |= uint64(b&0x7f) << r.shift
	r.shift += 7
	if b&0x80 == 0 {
		r.mid = false
		return r.value(), true
	}
	return 0, false
}

// Pending reports whether the reader is in the middle of an integer. A byte
// source ending while Pending is true was truncated.
func (r *VarintReader) Pending() bool {
	return r.mid
}

func (r *VarintReader) value() int64 {
	if r.neg {
		return -int64(r.n)
	}
	return int64(r.n)
}

// StringReader decodes a NUL-terminated string one byte at a time, with the
// same Feed contract as VarintReader. Invalid UTF-8 is replaced rather than
// rejected, matching how capture producers emit raw native symbols.
type StringReader struct {
	buf []byte
}

func (r *StringReader) Feed(b byte) (string, bool) {
	if b == 0 {
		s := string(r.buf)
		r.buf = r.buf[:0]
		if !utf8.ValidString(s) {
			s = strings.ToValidUTF8(s, "�")
		}
		return s, true
	}
	r.buf = append(r.buf, b)
	return "", false
}

// Pending reports whether bytes have been fed since the last terminator.
func (r *StringReader) Pending() bool {
	return len(r.buf) > 0
}
