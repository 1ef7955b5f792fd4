package termlog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog(t *testing.T) {
	l := New()
	_, err := l.TermLogAt(0)
	assert.ErrorIs(t, err, ErrUnknownPosition)

	require.NoError(t, l.DefineTerm(0, 1, 0))
	l.Commit(100)
	require.NoError(t, l.DefineTerm(1, 2, 100))
	require.NoError(t, l.DefineTerm(2, 3, 250))
	l.Commit(400)
	assert.Equal(t, uint64(400), l.Committed())

	tests := []struct {
		pos      uint64
		term     uint64
		prevTerm uint64
	}{
		{0, 1, 0},
		{1, 1, 1},
		{99, 1, 1},
		{100, 2, 1},
		{101, 2, 2},
		{249, 2, 2},
		{250, 3, 2},
		{400, 3, 3},
	}
	for _, tc := range tests {
		tl, err := l.TermLogAt(tc.pos)
		require.NoError(t, err, "pos %d", tc.pos)
		assert.Equal(t, tc.term, tl.Term(), "pos %d", tc.pos)
		assert.Equal(t, tc.prevTerm, tl.PrevTermAt(tc.pos), "pos %d", tc.pos)
	}

	_, err = l.TermLogAt(401)
	assert.ErrorIs(t, err, ErrUnknownPosition)

	terms := l.Terms()
	require.Len(t, terms, 3)
	assert.Equal(t, Term{Prev: 0, Num: 1, Start: 0, End: 100}, terms[0])
	assert.Equal(t, Term{Prev: 1, Num: 2, Start: 100, End: 250}, terms[1])
	assert.Equal(t, Term{Prev: 2, Num: 3, Start: 250, End: 400}, terms[2])
}

func TestLog_startAfterZero(t *testing.T) {
	l := New()
	require.NoError(t, l.DefineTerm(4, 5, 1000))
	_, err := l.TermLogAt(999)
	assert.ErrorIs(t, err, ErrUnknownPosition)
	tl, err := l.TermLogAt(1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), tl.Term())
	assert.Equal(t, uint64(4), tl.PrevTermAt(1000))
}

func TestLog_DefineTerm_order(t *testing.T) {
	l := New()
	require.NoError(t, l.DefineTerm(0, 2, 10))
	assert.ErrorIs(t, l.DefineTerm(2, 2, 20), ErrTermOrder)
	assert.ErrorIs(t, l.DefineTerm(2, 3, 5), ErrTermOrder)
	assert.ErrorIs(t, l.DefineTerm(1, 3, 20), ErrTermOrder)

	// An empty term is replaced
	require.NoError(t, l.DefineTerm(2, 3, 10))
	terms := l.Terms()
	require.Len(t, terms, 1)
	assert.Equal(t, uint64(3), terms[0].Num)
}

func TestLog_concurrent(t *testing.T) {
	l := New()
	require.NoError(t, l.DefineTerm(0, 1, 0))
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := uint64(0); p < 1000; p++ {
				l.Commit(p)
				_, _ = l.TermLogAt(p / 2)
			}
		}()
	}
	wg.Wait()
	tl, err := l.TermLogAt(999)
	require.NoError(t, err)
	assert.Equal(t, uint64(999), tl.EndPosition())
}
