package datain

import (
	"github.com/PowerDNS/replstream/utils/bufpool"
)

// Visitor receives the chunks of a large value as they are decoded.
//
// The buf slice is backed by the buffer owned by h. The visitor takes over
// ownership: it MUST call h.Release() exactly once when done with buf, and
// MUST NOT touch buf afterwards. It is fine to do so from another goroutine.
type Visitor interface {
	OnValueChunk(recordID, txnID, pos uint64, h *bufpool.Handle, buf []byte) error
}

// VisitorFunc adapts a function to the Visitor interface
type VisitorFunc func(recordID, txnID, pos uint64, h *bufpool.Handle, buf []byte) error

// OnValueChunk implements Visitor
func (f VisitorFunc) OnValueChunk(recordID, txnID, pos uint64, h *bufpool.Handle, buf []byte) error {
	return f(recordID, txnID, pos, h, buf)
}

// ForwardValueChunks transfers the next amount bytes of the stream to the
// visitor, in chunks of at most the window size. The pos is the position
// within the value of the first byte, and increases with every chunk.
//
// Buffered bytes are drained from the window first, the rest is read from
// the source directly into the chunk buffers.
func (d *Decoder) ForwardValueChunks(v Visitor, recordID, txnID, pos uint64, amount int) error {
	if amount <= 0 {
		return nil
	}
	if d.pool == nil {
		d.pool = bufpool.New("", bufpool.DefaultMaxIdle)
	}

	for {
		h := d.chunkBuffer(amount)
		chunk := h.Bytes()

		var off int
		if avail := d.end - d.start; amount < avail {
			// Partially drain the window
			off = copy(chunk, d.buf[d.start:d.start+amount])
			d.start += off
		} else {
			off = copy(chunk, d.buf[d.start:d.end])
			d.start = 0
			d.end = 0
		}
		d.pos += uint64(off)
		amount -= off

		for {
			rem := min(amount, len(chunk)-off)
			if rem <= 0 {
				break
			}
			n, err := d.doRead(chunk[off : off+rem])
			if err != nil {
				h.Release()
				return truncated(err)
			}
			d.pos += uint64(n)
			off += n
			amount -= n
		}

		if err := v.OnValueChunk(recordID, txnID, pos, h, chunk[:off]); err != nil {
			return err
		}
		if amount <= 0 {
			return nil
		}
		pos += uint64(off)
	}
}

// chunkBuffer returns a pooled buffer that is either large enough for the
// remaining amount or as large as the window. Smaller pooled buffers are
// discarded in favour of a bigger one.
func (d *Decoder) chunkBuffer(amount int) *bufpool.Handle {
	for {
		h := d.pool.TryAcquire()
		if h == nil {
			return d.pool.NewHandle(make([]byte, min(amount, len(d.buf))))
		}
		if n := len(h.Bytes()); amount <= n || n >= len(d.buf) {
			return h
		}
		h.Discard()
	}
}
