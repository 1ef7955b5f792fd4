// Package varint implements the prefix-discriminated variable length integer
// encoding used by the replication log and the snapshot handshake.
//
// Unlike protobuf style LEB128 varints, the total length of an encoded value
// is determined by its first byte alone:
//
//	0xxxxxxx                       1 byte,  0 .. 2^7-1
//	10xxxxxx +1                    2 bytes, bias 2^7
//	110xxxxx +2                    3 bytes, bias 2^7+2^14
//	1110xxxx +3                    4 bytes, bias 2^7+2^14+2^21
//	11110xxx +4                    5 bytes, adds 2^28 to the bias
//	111110xx +5                    6 bytes, adds 2^35
//	1111110x +6                    7 bytes, adds 2^42
//	11111110 +7                    8 bytes, adds 2^49
//	11111111 +8                    9 bytes, adds 2^56
//
// Continuation bytes are big-endian. Every class starts where the previous
// one ends, so each value has exactly one encoding.
package varint

import (
	"encoding/binary"
	"io"
)

// MaxLen is the maximum number of bytes taken by an encoded value
const MaxLen = 9

// Class biases: the smallest value that is encoded with the given length
const (
	bias2 uint64 = 1 << 7
	bias3        = bias2 + 1<<14
	bias4        = bias3 + 1<<21
	bias5        = bias4 + 1<<28
	bias6        = bias5 + 1<<35
	bias7        = bias6 + 1<<42
	bias8        = bias7 + 1<<49
	bias9        = bias8 + 1<<56
)

// Length returns the total encoded length of a value from its first byte.
func Length(first byte) int {
	switch {
	case first < 0x80:
		return 1
	case first < 0xc0:
		return 2
	case first < 0xe0:
		return 3
	case first < 0xf0:
		return 4
	case first < 0xf8:
		return 5
	case first < 0xfc:
		return 6
	case first < 0xfe:
		return 7
	case first < 0xff:
		return 8
	default:
		return 9
	}
}

// SizeUint returns the number of bytes needed to encode v.
func SizeUint(v uint64) int {
	switch {
	case v < bias2:
		return 1
	case v < bias3:
		return 2
	case v < bias4:
		return 3
	case v < bias5:
		return 4
	case v < bias6:
		return 5
	case v < bias7:
		return 6
	case v < bias8:
		return 7
	case v < bias9:
		return 8
	default:
		return 9
	}
}

// PutUint encodes v into b and returns the number of bytes written.
// It panics if b is too small, use SizeUint or MaxLen to size it.
func PutUint(b []byte, v uint64) int {
	switch {
	case v < bias2:
		b[0] = byte(v)
		return 1
	case v < bias3:
		v -= bias2
		b[0] = 0x80 | byte(v>>8)
		b[1] = byte(v)
		return 2
	case v < bias4:
		v -= bias3
		b[0] = 0xc0 | byte(v>>16)
		putTail(b[1:3], v)
		return 3
	case v < bias5:
		v -= bias4
		b[0] = 0xe0 | byte(v>>24)
		putTail(b[1:4], v)
		return 4
	case v < bias6:
		v -= bias5
		b[0] = 0xf0 | byte(v>>32)
		putTail(b[1:5], v)
		return 5
	case v < bias7:
		v -= bias6
		b[0] = 0xf8 | byte(v>>40)
		putTail(b[1:6], v)
		return 6
	case v < bias8:
		v -= bias7
		b[0] = 0xfc | byte(v>>48)
		putTail(b[1:7], v)
		return 7
	case v < bias9:
		v -= bias8
		b[0] = 0xfe
		putTail(b[1:8], v)
		return 8
	default:
		v -= bias9
		b[0] = 0xff
		binary.BigEndian.PutUint64(b[1:9], v)
		return 9
	}
}

// AppendUint appends the encoding of v to b.
func AppendUint(b []byte, v uint64) []byte {
	var tmp [MaxLen]byte
	n := PutUint(tmp[:], v)
	return append(b, tmp[:n]...)
}

// Parse decodes a complete encoded value. The length of b must be exactly
// Length(b[0]), callers that read from a stream use Length to find out how
// many bytes to gather first.
func Parse(b []byte) uint64 {
	d := b[0]
	switch len(b) {
	case 1:
		return uint64(d)
	case 2:
		return bias2 + (uint64(d&0x3f)<<8 | uint64(b[1]))
	case 3:
		return bias3 + (uint64(d&0x1f)<<16 | tail(b[1:]))
	case 4:
		return bias4 + (uint64(d&0x0f)<<24 | tail(b[1:]))
	case 5:
		return bias5 + (uint64(d&0x07)<<32 | tail(b[1:]))
	case 6:
		return bias6 + (uint64(d&0x03)<<40 | tail(b[1:]))
	case 7:
		return bias7 + (uint64(d&0x01)<<48 | tail(b[1:]))
	case 8:
		return bias8 + tail(b[1:])
	default:
		// Wraps around for the top of the range
		return bias9 + binary.BigEndian.Uint64(b[1:9])
	}
}

// Uint decodes a value from the start of b and returns it along with the
// number of bytes consumed.
func Uint(b []byte) (v uint64, n int, err error) {
	if len(b) == 0 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	n = Length(b[0])
	if len(b) < n {
		return 0, 0, io.ErrUnexpectedEOF
	}
	return Parse(b[:n]), n, nil
}

// ZigZag maps a signed value onto the unsigned encoding space: negative
// values become odd, non-negative values even.
func ZigZag(v int64) uint64 {
	if v < 0 {
		return uint64(^v)<<1 | 1
	}
	return uint64(v) << 1
}

// UnZigZag reverses ZigZag. Odd values always get the sign bit forced on,
// which is what the log writers produce.
func UnZigZag(u uint64) int64 {
	if u&1 != 0 {
		return int64(^(u >> 1) | 1<<63)
	}
	return int64(u >> 1)
}

// SizeInt returns the number of bytes needed to encode the signed v.
func SizeInt(v int64) int {
	return SizeUint(ZigZag(v))
}

// PutInt encodes the signed v into b and returns the number of bytes written.
func PutInt(b []byte, v int64) int {
	return PutUint(b, ZigZag(v))
}

// AppendInt appends the encoding of the signed v to b.
func AppendInt(b []byte, v int64) []byte {
	return AppendUint(b, ZigZag(v))
}

// Int decodes a signed value from the start of b.
func Int(b []byte) (v int64, n int, err error) {
	u, n, err := Uint(b)
	if err != nil {
		return 0, 0, err
	}
	return UnZigZag(u), n, nil
}

func putTail(b []byte, v uint64) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func tail(b []byte) (v uint64) {
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
