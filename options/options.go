// Package options implements the canonical encoding of small string maps
// that are exchanged during the snapshot handshake and attached to snapshot
// headers.
//
// Wire format: varint count, then count times {varint keyLen, key,
// varint valueLen, value}. Entries are written in key order, but decoders
// must not depend on that.
package options

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/PowerDNS/replstream/varint"
)

const (
	// MaxEntries is the maximum number of entries accepted when decoding
	MaxEntries = 1 << 16
	// MaxStringLength is the maximum length of a key or value accepted when
	// decoding
	MaxStringLength = 1 << 20
)

var (
	// ErrTruncated is returned when the input ends before a declared length
	ErrTruncated = errors.Wrap(io.ErrUnexpectedEOF, "truncated options")
	// ErrTooManyEntries is returned when the declared count exceeds MaxEntries
	ErrTooManyEntries = errors.New("too many option entries")
	// ErrStringTooLong is returned when a key or value exceeds MaxStringLength
	ErrStringTooLong = errors.New("option string too long")
)

// Map holds string options. A nil Map is valid and empty.
type Map map[string]string

// Reader is the subset of the stream decoder needed to decode a Map
type Reader interface {
	ReadVarUint() (uint64, error)
	ReadFull(p []byte) error
}

// Keys returns the keys in sorted order
func (m Map) Keys() []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

// Clone returns a copy of the map. The copy of a nil Map is an empty Map.
func (m Map) Clone() Map {
	c := make(Map, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// String returns the entries as sorted k=v pairs, for logging
func (m Map) String() string {
	var sb strings.Builder
	for i, k := range m.Keys() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		_, _ = fmt.Fprintf(&sb, "%s=%q", k, m[k])
	}
	return sb.String()
}

// Size returns the encoded size in bytes
func (m Map) Size() int {
	n := varint.SizeUint(uint64(len(m)))
	for k, v := range m {
		n += varint.SizeUint(uint64(len(k))) + len(k)
		n += varint.SizeUint(uint64(len(v))) + len(v)
	}
	return n
}

// Encode returns the encoded map
func Encode(m Map) []byte {
	return AppendEncode(make([]byte, 0, m.Size()), m)
}

// AppendEncode appends the encoded map to b
func AppendEncode(b []byte, m Map) []byte {
	b = varint.AppendUint(b, uint64(len(m)))
	for _, k := range m.Keys() {
		v := m[k]
		b = varint.AppendUint(b, uint64(len(k)))
		b = append(b, k...)
		b = varint.AppendUint(b, uint64(len(v)))
		b = append(b, v...)
	}
	return b
}

// Decode decodes a map from the start of b and returns the number of bytes
// consumed.
func Decode(b []byte) (Map, int, error) {
	count, offset, err := varint.Uint(b)
	if err != nil {
		return nil, 0, ErrTruncated
	}
	if count > MaxEntries {
		return nil, 0, errors.Wrapf(ErrTooManyEntries, "count %d", count)
	}
	m := make(Map, count)
	for i := uint64(0); i < count; i++ {
		key, n, err := decodeString(b[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n
		val, n, err := decodeString(b[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n
		m[key] = val
	}
	return m, offset, nil
}

// ReadFrom decodes a map from a stream
func ReadFrom(r Reader) (Map, error) {
	count, err := r.ReadVarUint()
	if err != nil {
		return nil, err
	}
	if count > MaxEntries {
		return nil, errors.Wrapf(ErrTooManyEntries, "count %d", count)
	}
	m := make(Map, count)
	for i := uint64(0); i < count; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, err
		}
		val, err := readString(r)
		if err != nil {
			return nil, err
		}
		m[key] = val
	}
	return m, nil
}

// readString checks the declared length before allocating for it
func readString(r Reader) (string, error) {
	size, err := r.ReadVarUint()
	if err != nil {
		return "", err
	}
	if size > MaxStringLength {
		return "", errors.Wrapf(ErrStringTooLong, "length %d", size)
	}
	b := make([]byte, size)
	if err := r.ReadFull(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeString(b []byte) (s string, n int, err error) {
	size, n, err := varint.Uint(b)
	if err != nil {
		return "", 0, ErrTruncated
	}
	if size > MaxStringLength {
		return "", 0, errors.Wrapf(ErrStringTooLong, "length %d", size)
	}
	if uint64(len(b)-n) < size {
		return "", 0, ErrTruncated
	}
	end := n + int(size)
	return string(b[n:end]), end, nil
}
