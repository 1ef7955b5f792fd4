// Package datain implements the buffered decoder for the replication
// operation stream.
//
// A Decoder is used by a single consumer at a time. Value chunks handed to a
// Visitor by ForwardValueChunks are backed by pooled buffers and may be
// processed and released by another goroutine.
package datain

import (
	"encoding/binary"
	"io"
	"math"
	"slices"

	"github.com/pkg/errors"

	"github.com/PowerDNS/replstream/utils/bufpool"
	"github.com/PowerDNS/replstream/varint"
)

const (
	// DefaultBufferSize is the default window size
	DefaultBufferSize = 64 << 10
	// MinBufferSize is the smallest allowed window, it must fit any
	// fixed width or variable width integer.
	MinBufferSize = 16
	// MaxBytesLength is the maximum length of a length prefixed byte string
	MaxBytesLength = math.MaxInt32

	// maxEmptyReads limits the number of (0, nil) reads we tolerate from the
	// source before giving up with io.ErrNoProgress.
	maxEmptyReads = 100
)

var (
	// ErrTruncated is returned when the source ended before the requested
	// number of bytes was available.
	ErrTruncated = errors.Wrap(io.ErrUnexpectedEOF, "truncated stream")
	// ErrTooLarge is returned for a byte string length that cannot be valid
	ErrTooLarge = errors.New("length prefixed value too large")
)

// Options configures a Decoder
type Options struct {
	// BufferSize is the window capacity, defaults to DefaultBufferSize
	BufferSize int
	// Pool supplies the chunk buffers for ForwardValueChunks. If nil, the
	// Decoder creates a private one on first use.
	Pool *bufpool.Pool
}

// New creates a Decoder reading from r. The pos is the stream position of
// the first byte that will be read from r.
func New(pos uint64, r io.Reader, opt Options) *Decoder {
	size := opt.BufferSize
	if size == 0 {
		size = DefaultBufferSize
	}
	if size < MinBufferSize {
		size = MinBufferSize
	}
	return &Decoder{
		r:    r,
		buf:  make([]byte, size),
		pos:  pos,
		pool: opt.Pool,
	}
}

// Decoder is a buffered reader with support for the integer encodings used
// in the replication stream.
type Decoder struct {
	r   io.Reader
	err error // read error to return on the next doRead

	// Window, bytes in buf[start:end] have been read from r but not consumed
	buf   []byte
	start int
	end   int

	pos  uint64
	pool *bufpool.Pool
}

// Position returns the stream position of the next byte to be consumed.
func (d *Decoder) Position() uint64 {
	return d.pos
}

// Buffered returns the number of bytes in the window that have not been
// consumed yet.
func (d *Decoder) Buffered() int {
	return d.end - d.start
}

// Size returns the window capacity.
func (d *Decoder) Size() int {
	return len(d.buf)
}

// ReadByte implements io.ByteReader. It returns io.EOF at the end of the
// stream.
func (d *Decoder) ReadByte() (byte, error) {
	if d.start < d.end {
		b := d.buf[d.start]
		d.start++
		d.pos++
		return b, nil
	}
	n, err := d.doRead(d.buf)
	if err != nil {
		return 0, err
	}
	d.start = 1
	d.end = n
	d.pos++
	return d.buf[0], nil
}

// Read implements io.Reader. Like most readers, it can return fewer bytes
// than requested, callers that need an exact amount should use ReadFull.
func (d *Decoder) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	avail := d.end - d.start
	switch {
	case avail >= len(p):
		n := copy(p, d.buf[d.start:d.start+len(p)])
		d.start += n
		d.pos += uint64(n)
		return n, nil
	case avail > 0:
		n := copy(p, d.buf[d.start:d.end])
		d.start = 0
		d.end = 0
		d.pos += uint64(n)
		return n, nil
	case len(p) >= len(d.buf):
		// Large read on an empty window, skip the copy
		n, err := d.doRead(p)
		d.pos += uint64(n)
		return n, err
	default:
		n, err := d.doRead(d.buf)
		if err != nil {
			return 0, err
		}
		fill := copy(p, d.buf[:n])
		d.start = fill
		d.end = n
		d.pos += uint64(fill)
		return fill, nil
	}
}

// ReadFull reads exactly len(p) bytes. It returns ErrTruncated if the stream
// ends early.
func (d *Decoder) ReadFull(p []byte) error {
	_, err := io.ReadFull(d, p)
	if err != nil {
		return truncated(err)
	}
	return nil
}

// ReadUint32LE reads a little-endian fixed width uint32.
func (d *Decoder) ReadUint32LE() (uint32, error) {
	start, err := d.require(d.start, 4)
	if err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[start : start+4])
	d.start = start + 4
	d.pos += 4
	return v, nil
}

// ReadUint64LE reads a little-endian fixed width uint64.
func (d *Decoder) ReadUint64LE() (uint64, error) {
	start, err := d.require(d.start, 8)
	if err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.buf[start : start+8])
	d.start = start + 8
	d.pos += 8
	return v, nil
}

// ReadInt32LE reads a little-endian fixed width int32.
func (d *Decoder) ReadInt32LE() (int32, error) {
	v, err := d.ReadUint32LE()
	return int32(v), err
}

// ReadInt64LE reads a little-endian fixed width int64.
func (d *Decoder) ReadInt64LE() (int64, error) {
	v, err := d.ReadUint64LE()
	return int64(v), err
}

// ReadVarUint reads an unsigned prefix varint.
func (d *Decoder) ReadVarUint() (uint64, error) {
	start, err := d.require(d.start, 1)
	if err != nil {
		return 0, err
	}
	n := varint.Length(d.buf[start])
	if n > 1 {
		if start, err = d.require(start, n); err != nil {
			return 0, err
		}
	}
	v := varint.Parse(d.buf[start : start+n])
	d.start = start + n
	d.pos += uint64(n)
	return v, nil
}

// ReadVarInt reads a signed prefix varint.
func (d *Decoder) ReadVarInt() (int64, error) {
	v, err := d.ReadVarUint()
	if err != nil {
		return 0, err
	}
	return varint.UnZigZag(v), nil
}

// ReadBytes reads a byte string prefixed with a variable length.
func (d *Decoder) ReadBytes() ([]byte, error) {
	n, err := d.ReadVarUint()
	if err != nil {
		return nil, err
	}
	if n > MaxBytesLength {
		return nil, errors.Wrapf(ErrTooLarge, "length %d", n)
	}
	// Start at one window and at most double per step, so that a bogus
	// length from the peer only costs memory for the bytes that arrive.
	size := int(n)
	b := make([]byte, 0, min(size, len(d.buf)))
	for len(b) < size {
		step := min(size-len(b), max(len(b), len(d.buf)))
		b = slices.Grow(b, step)
		if err := d.ReadFull(b[len(b) : len(b)+step]); err != nil {
			return nil, err
		}
		b = b[:len(b)+step]
	}
	return b, nil
}

// ReadString reads a string prefixed with a variable length.
func (d *Decoder) ReadString() (string, error) {
	b, err := d.ReadBytes()
	return string(b), err
}

// Close closes the source if it implements io.Closer.
func (d *Decoder) Close() error {
	if c, ok := d.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// require ensures that at least amount bytes are available in the window
// starting at start, and returns the (possibly moved) start offset.
// The window is compacted if the tail does not have enough room left.
func (d *Decoder) require(start, amount int) (int, error) {
	avail := d.end - start
	if amount -= avail; amount <= 0 {
		return start, nil
	}

	if len(d.buf)-d.end < amount {
		copy(d.buf, d.buf[start:d.end])
		d.start = 0
		start = 0
		d.end = avail
	}

	for {
		n, err := d.doRead(d.buf[d.end:])
		if err != nil {
			return start, truncated(err)
		}
		d.end += n
		if amount -= n; amount <= 0 {
			return start, nil
		}
	}
}

// doRead reads from the source. It only returns a nil error if at least one
// byte was read. A read error that comes with data is kept for the next call.
func (d *Decoder) doRead(p []byte) (int, error) {
	if err := d.err; err != nil {
		d.err = nil
		return 0, err
	}
	for i := 0; i < maxEmptyReads; i++ {
		n, err := d.r.Read(p)
		if n > 0 {
			d.err = err
			return n, nil
		}
		if err != nil {
			return 0, err
		}
	}
	return 0, io.ErrNoProgress
}

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncated
	}
	return errors.Wrap(err, "read")
}
