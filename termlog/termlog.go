// Package termlog indexes the terms of a replication log by position.
//
// A term covers the positions from its start up to the start of the next
// term. The last term is open-ended and covers positions up to the highest
// position committed so far.
package termlog

import (
	"fmt"
	"sync"

	rbt "github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
	"github.com/pkg/errors"
)

var (
	// ErrUnknownPosition is returned when no term covers a position
	ErrUnknownPosition = errors.New("unknown term for position")
	// ErrTermOrder is returned when a term is defined out of order
	ErrTermOrder = errors.New("term out of order")
)

// TermLog describes a single term
type TermLog interface {
	// Term returns the term number
	Term() uint64
	// PrevTermAt returns the term that precedes pos. This is the previous
	// term when pos is the start position, otherwise the term itself.
	PrevTermAt(pos uint64) uint64
	StartPosition() uint64
	// EndPosition is exclusive for closed terms, and the highest committed
	// position for the last term.
	EndPosition() uint64
}

// Locator finds the term covering a position
type Locator interface {
	TermLogAt(pos uint64) (TermLog, error)
}

// Term is a TermLog snapshot value
type Term struct {
	Prev  uint64 `yaml:"prev_term" json:"prev_term"`
	Num   uint64 `yaml:"term" json:"term"`
	Start uint64 `yaml:"start" json:"start"`
	End   uint64 `yaml:"end" json:"end"`
}

func (t Term) Term() uint64          { return t.Num }
func (t Term) StartPosition() uint64 { return t.Start }
func (t Term) EndPosition() uint64   { return t.End }

func (t Term) PrevTermAt(pos uint64) uint64 {
	if pos <= t.Start {
		return t.Prev
	}
	return t.Num
}

func (t Term) String() string {
	return fmt.Sprintf("term %d (prev %d) [%d, %d]", t.Num, t.Prev, t.Start, t.End)
}

// UnknownPositionError wraps ErrUnknownPosition with the requested position
func UnknownPositionError(pos uint64) error {
	return errors.Wrapf(ErrUnknownPosition, "position %d", pos)
}

// Log is an in-memory Locator. It is safe for concurrent use.
type Log struct {
	mu        sync.RWMutex
	tree      *rbt.Tree // start position -> *Term
	last      *Term
	committed uint64
}

// New creates an empty Log
func New() *Log {
	return &Log{
		tree: rbt.NewWith(utils.UInt64Comparator),
	}
}

// DefineTerm starts a new term at start. The previous last term is closed
// at start. Terms must be defined with increasing term numbers and start
// positions.
func (l *Log) DefineTerm(prevTerm, term, start uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last != nil {
		if term <= l.last.Num || start < l.last.Start {
			return errors.Wrapf(ErrTermOrder, "term %d at %d after term %d at %d",
				term, start, l.last.Num, l.last.Start)
		}
		if prevTerm != l.last.Num {
			return errors.Wrapf(ErrTermOrder, "prev term %d, expected %d",
				prevTerm, l.last.Num)
		}
		if start == l.last.Start {
			// Empty term is replaced
			l.tree.Remove(start)
		} else {
			l.last.End = start
		}
	}
	t := &Term{Prev: prevTerm, Num: term, Start: start, End: start}
	if l.committed > start {
		t.End = l.committed
	}
	l.tree.Put(start, t)
	l.last = t
	return nil
}

// Commit extends the last term up to pos
func (l *Log) Commit(pos uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos <= l.committed {
		return
	}
	l.committed = pos
	if l.last != nil && pos > l.last.End {
		l.last.End = pos
	}
}

// Committed returns the highest committed position
func (l *Log) Committed() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.committed
}

// TermLogAt returns a copy of the term that covers pos
func (l *Log) TermLogAt(pos uint64) (TermLog, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	node, found := l.tree.Floor(pos)
	if !found {
		return nil, UnknownPositionError(pos)
	}
	t := node.Value.(*Term)
	if t == l.last {
		if pos > t.End {
			return nil, UnknownPositionError(pos)
		}
	} else if pos >= t.End {
		// Cannot happen with contiguous terms, but keep lookups honest
		return nil, UnknownPositionError(pos)
	}
	return *t, nil
}

// Terms returns copies of all terms in position order
func (l *Log) Terms() []Term {
	l.mu.RLock()
	defer l.mu.RUnlock()
	terms := make([]Term, 0, l.tree.Size())
	for _, v := range l.tree.Values() {
		terms = append(terms, *v.(*Term))
	}
	return terms
}
