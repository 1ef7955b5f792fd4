// Package lmdbterms persists the term index in LMDB, so that a member can
// serve snapshots for terms that started before a restart.
package lmdbterms

import (
	"encoding/binary"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/pkg/errors"

	"github.com/PowerDNS/replstream/termlog"
)

// DBI names
const (
	TermsDBIName = "_replstream_terms"
	MetaDBIName  = "_replstream_terms_meta"
)

var keyCommitted = []byte("committed")

// Store is a termlog.Locator backed by an LMDB Env.
// Keys are big endian start positions, values are {prevTerm, term} as
// big endian uint64.
type Store struct {
	env   *lmdb.Env
	terms lmdb.DBI
	meta  lmdb.DBI
}

// Open creates the DBIs if needed
func Open(env *lmdb.Env) (*Store, error) {
	s := &Store{env: env}
	err := env.Update(func(txn *lmdb.Txn) error {
		var err error
		if s.terms, err = txn.OpenDBI(TermsDBIName, lmdb.Create); err != nil {
			return errors.Wrap(err, "open terms dbi")
		}
		if s.meta, err = txn.OpenDBI(MetaDBIName, lmdb.Create); err != nil {
			return errors.Wrap(err, "open meta dbi")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func positionKey(pos uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, pos)
	return b
}

func termValue(prevTerm, term uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], prevTerm)
	binary.BigEndian.PutUint64(b[8:], term)
	return b
}

func decodeEntry(key, val []byte) (termlog.Term, error) {
	if len(key) != 8 || len(val) != 16 {
		return termlog.Term{}, errors.Errorf("corrupt term entry (key %d bytes, value %d bytes)",
			len(key), len(val))
	}
	start := binary.BigEndian.Uint64(key)
	return termlog.Term{
		Prev:  binary.BigEndian.Uint64(val[:8]),
		Num:   binary.BigEndian.Uint64(val[8:]),
		Start: start,
		End:   start,
	}, nil
}

func (s *Store) committed(txn *lmdb.Txn) (uint64, error) {
	val, err := txn.Get(s.meta, keyCommitted)
	if err != nil {
		if lmdb.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if len(val) != 8 {
		return 0, errors.New("corrupt committed position")
	}
	return binary.BigEndian.Uint64(val), nil
}

func (s *Store) lastTerm(txn *lmdb.Txn) (t termlog.Term, ok bool, err error) {
	c, err := txn.OpenCursor(s.terms)
	if err != nil {
		return t, false, errors.Wrap(err, "open cursor")
	}
	defer c.Close()
	key, val, err := c.Get(nil, nil, lmdb.Last)
	if err != nil {
		if lmdb.IsNotFound(err) {
			return t, false, nil
		}
		return t, false, err
	}
	t, err = decodeEntry(key, val)
	return t, err == nil, err
}

// DefineTerm adds a new term, with the same rules as termlog.Log.DefineTerm
func (s *Store) DefineTerm(prevTerm, term, start uint64) error {
	return s.env.Update(func(txn *lmdb.Txn) error {
		last, ok, err := s.lastTerm(txn)
		if err != nil {
			return err
		}
		if ok {
			if term <= last.Num || start < last.Start {
				return errors.Wrapf(termlog.ErrTermOrder, "term %d at %d after term %d at %d",
					term, start, last.Num, last.Start)
			}
			if prevTerm != last.Num {
				return errors.Wrapf(termlog.ErrTermOrder, "prev term %d, expected %d",
					prevTerm, last.Num)
			}
		}
		return txn.Put(s.terms, positionKey(start), termValue(prevTerm, term), 0)
	})
}

// Commit records the highest committed position
func (s *Store) Commit(pos uint64) error {
	return s.env.Update(func(txn *lmdb.Txn) error {
		cur, err := s.committed(txn)
		if err != nil {
			return err
		}
		if pos <= cur {
			return nil
		}
		return txn.Put(s.meta, keyCommitted, positionKey(pos), 0)
	})
}

// TermLogAt implements termlog.Locator
func (s *Store) TermLogAt(pos uint64) (tl termlog.TermLog, err error) {
	err = s.env.View(func(txn *lmdb.Txn) error {
		txn.RawRead = true
		committed, err := s.committed(txn)
		if err != nil {
			return err
		}

		c, err := txn.OpenCursor(s.terms)
		if err != nil {
			return errors.Wrap(err, "open cursor")
		}
		defer c.Close()

		var (
			key, val []byte
			isLast   bool
			end      uint64
		)
		next, _, err := c.Get(positionKey(pos), nil, lmdb.SetRange)
		switch {
		case lmdb.IsNotFound(err):
			// All terms start before pos
			key, val, err = c.Get(nil, nil, lmdb.Last)
			isLast = true
		case err != nil:
			return err
		case binary.BigEndian.Uint64(next) == pos:
			key, val, err = c.Get(nil, nil, lmdb.GetCurrent)
			if err != nil {
				return err
			}
			nextKey, _, nerr := c.Get(nil, nil, lmdb.Next)
			if lmdb.IsNotFound(nerr) {
				isLast = true
			} else if nerr != nil {
				return nerr
			} else {
				end = binary.BigEndian.Uint64(nextKey)
			}
		default:
			end = binary.BigEndian.Uint64(next)
			key, val, err = c.Get(nil, nil, lmdb.Prev)
		}
		if lmdb.IsNotFound(err) {
			return termlog.UnknownPositionError(pos)
		}
		if err != nil {
			return err
		}

		t, err := decodeEntry(key, val)
		if err != nil {
			return err
		}
		if isLast {
			t.End = max(t.Start, committed)
			if pos > t.End {
				return termlog.UnknownPositionError(pos)
			}
		} else {
			t.End = end
		}
		tl = t
		return nil
	})
	return tl, err
}

// Terms returns all terms in position order
func (s *Store) Terms() ([]termlog.Term, error) {
	var terms []termlog.Term
	err := s.env.View(func(txn *lmdb.Txn) error {
		committed, err := s.committed(txn)
		if err != nil {
			return err
		}
		c, err := txn.OpenCursor(s.terms)
		if err != nil {
			return errors.Wrap(err, "open cursor")
		}
		defer c.Close()

		var flag uint = lmdb.First
		for {
			key, val, err := c.Get(nil, nil, flag)
			if err != nil {
				if lmdb.IsNotFound(err) {
					break
				}
				return errors.Wrap(err, "cursor next")
			}
			flag = lmdb.Next
			t, err := decodeEntry(key, val)
			if err != nil {
				return err
			}
			if n := len(terms); n > 0 {
				terms[n-1].End = t.Start
			}
			terms = append(terms, t)
		}
		if n := len(terms); n > 0 {
			terms[n-1].End = max(terms[n-1].Start, committed)
		}
		return nil
	})
	return terms, err
}

// Load returns an in-memory copy of the stored terms
func (s *Store) Load() (*termlog.Log, error) {
	terms, err := s.Terms()
	if err != nil {
		return nil, err
	}
	l := termlog.New()
	for i, t := range terms {
		if err := l.DefineTerm(t.Prev, t.Num, t.Start); err != nil {
			return nil, errors.Wrapf(err, "term %d", i)
		}
		l.Commit(t.End)
	}
	return l, nil
}
