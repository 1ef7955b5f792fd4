package stats

import (
	"testing"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerDNS/replstream/lmdbenv"
)

func TestCollector(t *testing.T) {
	err := lmdbenv.TestEnv(func(env *lmdb.Env) error {
		names := []string{"bar", "foo"}
		err := env.Update(func(txn *lmdb.Txn) error {
			for _, name := range names {
				dbi, err := txn.CreateDBI(name)
				if err != nil {
					return err
				}
				if err := txn.Put(dbi, []byte("k"), []byte("v"), 0); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		dbis, err := ReadDBIStats(env)
		require.NoError(t, err)
		require.Len(t, dbis, 2)
		assert.Equal(t, "bar", dbis[0].Name)
		assert.Equal(t, uint64(1), dbis[0].Stat.Entries)
		assert.NotZero(t, dbis[0].Used)

		c := NewCollector()
		c.AddTarget("test", env)
		ch := make(chan prometheus.Metric, 100)
		c.Collect(ch)
		close(ch)
		n := 0
		for range ch {
			n++
		}
		assert.Equal(t, 3+3*len(names), n)

		c.RemoveTarget("test")
		ch = make(chan prometheus.Metric, 100)
		c.Collect(ch)
		close(ch)
		assert.Len(t, ch, 0)
		return nil
	})
	require.NoError(t, err)
}
