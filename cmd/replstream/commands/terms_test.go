package commands

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerDNS/replstream/config"
	"github.com/PowerDNS/replstream/lmdbenv"
	"github.com/PowerDNS/replstream/termlog"
)

func TestOpenTerms_static(t *testing.T) {
	ts, err := openTerms(config.Terms{
		Static: []config.StaticTerm{
			{PrevTerm: 0, Term: 1, Start: 0},
			{PrevTerm: 1, Term: 4, Start: 100},
		},
		Committed: 150,
	})
	require.NoError(t, err)
	defer ts.Close()

	tl, err := ts.TermLogAt(120)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), tl.Term())
	_, err = ts.TermLogAt(151)
	assert.ErrorIs(t, err, termlog.ErrUnknownPosition)

	terms, err := ts.Terms()
	require.NoError(t, err)
	assert.Len(t, terms, 2)
	assert.Error(t, ts.requireLMDB())

	_, err = openTerms(config.Terms{
		Static: []config.StaticTerm{
			{PrevTerm: 0, Term: 2, Start: 0},
			{PrevTerm: 2, Term: 1, Start: 100},
		},
	})
	assert.ErrorIs(t, err, termlog.ErrTermOrder)
}

func TestOpenTerms_lmdb(t *testing.T) {
	c := config.Terms{
		LMDB: config.TermsLMDB{
			Path:    filepath.Join(t.TempDir(), "terms"),
			Options: lmdbenv.Options{Create: true},
		},
	}
	ts, err := openTerms(c)
	require.NoError(t, err)
	require.NoError(t, ts.requireLMDB())
	require.NoError(t, ts.store.DefineTerm(0, 1, 0))
	require.NoError(t, ts.store.DefineTerm(1, 2, 10))
	require.NoError(t, ts.store.Commit(20))
	ts.Close()

	ts, err = openTerms(c)
	require.NoError(t, err)
	defer ts.Close()
	tl, err := ts.TermLogAt(10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tl.Term())
	assert.Equal(t, uint64(1), tl.PrevTermAt(10))
}

func TestParseUints(t *testing.T) {
	v, err := parseUints([]string{"0", "18446744073709551615"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 18446744073709551615}, v)
	_, err = parseUints([]string{"-1"})
	assert.Error(t, err)
}
