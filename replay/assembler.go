// Package replay contains visitors that consume the value chunks forwarded
// by a datain.Decoder.
package replay

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/PowerDNS/replstream/datain"
	"github.com/PowerDNS/replstream/utils/bufpool"
)

// ErrGap is returned when a chunk does not start where the previous chunk
// of the same value ended.
var ErrGap = errors.New("gap between value chunks")

var (
	_ datain.Visitor = (*Assembler)(nil)
	_ datain.Visitor = (*AsyncApplier)(nil)
)

// ValueID identifies a value in the stream
type ValueID struct {
	RecordID uint64
	TxnID    uint64
}

type partial struct {
	next uint64
	data []byte
}

// Assembler copies chunks into complete values. Handles are released as
// soon as the chunk is copied.
type Assembler struct {
	mu     sync.Mutex
	values map[ValueID]*partial
}

// NewAssembler returns an empty Assembler
func NewAssembler() *Assembler {
	return &Assembler{values: make(map[ValueID]*partial)}
}

// OnValueChunk implements datain.Visitor
func (a *Assembler) OnValueChunk(recordID, txnID, pos uint64, h *bufpool.Handle, buf []byte) error {
	defer h.Release()
	id := ValueID{RecordID: recordID, TxnID: txnID}

	a.mu.Lock()
	defer a.mu.Unlock()
	p, exists := a.values[id]
	if !exists {
		p = &partial{next: pos}
		a.values[id] = p
	}
	if pos != p.next {
		return errors.Wrapf(ErrGap, "record %d txn %d: chunk at %d, expected %d",
			recordID, txnID, pos, p.next)
	}
	p.data = append(p.data, buf...)
	p.next += uint64(len(buf))
	return nil
}

// Value returns the bytes assembled so far
func (a *Assembler) Value(id ValueID) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, exists := a.values[id]
	if !exists {
		return nil, false
	}
	return p.data, true
}

// Take returns the value and forgets it
func (a *Assembler) Take(id ValueID) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, exists := a.values[id]
	if !exists {
		return nil, false
	}
	delete(a.values, id)
	return p.data, true
}

// Len returns the number of values being assembled
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.values)
}
