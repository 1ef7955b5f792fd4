package varint

import (
	"fmt"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// classBoundaries returns the first and last value of every length class
func classBoundaries() []uint64 {
	biases := []uint64{0, bias2, bias3, bias4, bias5, bias6, bias7, bias8, bias9}
	var vals []uint64
	for i, b := range biases {
		vals = append(vals, b)
		if i > 0 {
			vals = append(vals, b-1)
		}
	}
	return append(vals, math.MaxUint64, math.MaxUint64-1)
}

func TestUint_roundtrip(t *testing.T) {
	vals := append(classBoundaries(), 0, 1, 127, 128, 16511, 16512, 1<<32, 1<<63)
	for _, v := range vals {
		t.Run(fmt.Sprint(v), func(t *testing.T) {
			b := AppendUint(nil, v)
			assert.Len(t, b, SizeUint(v))
			assert.Equal(t, len(b), Length(b[0]))

			got, n, err := Uint(b)
			require.NoError(t, err)
			assert.Equal(t, len(b), n)
			assert.Equal(t, v, got)
		})
	}
}

func TestUint_lengths(t *testing.T) {
	tests := []struct {
		v    uint64
		size int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16511, 2},
		{16512, 3},
		{bias4 - 1, 3},
		{bias4, 4},
		{bias5 - 1, 4},
		{bias5, 5},
		{bias6 - 1, 5},
		{bias6, 6},
		{bias7 - 1, 6},
		{bias7, 7},
		{bias8 - 1, 7},
		{bias8, 8},
		{bias9 - 1, 8},
		{bias9, 9},
		{math.MaxUint64, 9},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.size, SizeUint(tt.v), "SizeUint(%d)", tt.v)
	}
}

func TestUint_wireBytes(t *testing.T) {
	tests := []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x00}},
		{129, []byte{0x80, 0x01}},
		{16511, []byte{0xbf, 0xff}},
		{16512, []byte{0xc0, 0x00, 0x00}},
		{bias5, []byte{0xf0, 0, 0, 0, 0}},
		{bias8, []byte{0xfe, 0, 0, 0, 0, 0, 0, 0}},
		{bias9, []byte{0xff, 0, 0, 0, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, AppendUint(nil, tt.v), "AppendUint(%d)", tt.v)
	}
}

func TestUint_truncated(t *testing.T) {
	_, _, err := Uint(nil)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	b := AppendUint(nil, bias6)
	for i := 1; i < len(b); i++ {
		_, _, err := Uint(b[:i])
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	}
}

func TestInt_roundtrip(t *testing.T) {
	vals := []int64{
		0, 1, -1, 63, -64, 64, -65, 1000, -1000,
		math.MaxInt32, math.MinInt32,
		math.MaxInt64, math.MinInt64, math.MaxInt64 - 1, math.MinInt64 + 1,
	}
	for _, u := range classBoundaries() {
		vals = append(vals, int64(u>>1), -int64(u>>1))
	}
	for _, v := range vals {
		b := AppendInt(nil, v)
		assert.Len(t, b, SizeInt(v))
		got, n, err := Int(b)
		require.NoError(t, err)
		assert.Equal(t, len(b), n)
		assert.Equalf(t, v, got, "roundtrip of %d", v)
	}
}

func TestZigZag(t *testing.T) {
	assert.Equal(t, uint64(0), ZigZag(0))
	assert.Equal(t, uint64(1), ZigZag(-1))
	assert.Equal(t, uint64(2), ZigZag(1))
	assert.Equal(t, uint64(3), ZigZag(-2))
	assert.Equal(t, uint64(math.MaxUint64), ZigZag(math.MinInt64))
	assert.Equal(t, uint64(math.MaxUint64-1), ZigZag(math.MaxInt64))

	// Odd values decode with the sign bit forced on
	assert.Equal(t, int64(-1), UnZigZag(1))
	assert.Equal(t, int64(math.MinInt64), UnZigZag(math.MaxUint64))
}

func BenchmarkAppendUint(b *testing.B) {
	buf := make([]byte, 0, MaxLen)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf = AppendUint(buf[:0], uint64(i)*7919)
	}
}
