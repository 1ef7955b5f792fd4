package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerDNS/replstream/membership"
)

const testYAML = `
instance: node-1
listen: ":7000"
group:
  name: main
  version: 4
  token: 1234
  members:
    - id: 1
      address: "10.0.0.1:7000"
    - id: 2
      address: "10.0.0.2:7000"
      role: standby
terms:
  static:
    - {prev_term: 0, term: 1, start: 0}
    - {prev_term: 1, term: 2, start: 5000}
  committed: 8000
storage:
  type: memory
transfer:
  window_size: 128KB
  io_timeout: 30s
http:
  address: "127.0.0.1:8500"
log:
  level: debug
`

func TestConfig_LoadYAML(t *testing.T) {
	c := Default()
	require.NoError(t, c.LoadYAML([]byte(testYAML), false))
	require.NoError(t, c.Check())

	assert.Equal(t, "node-1", c.Instance)
	assert.Equal(t, "main", c.Group.Name)
	assert.Len(t, c.Terms.Static, 2)
	assert.Equal(t, uint64(8000), c.Terms.Committed)
	assert.Equal(t, 128*datasize.KB, c.Transfer.WindowSize)
	assert.Equal(t, 30*time.Second, c.Transfer.IOTimeout)
	// Untouched defaults
	assert.Equal(t, DefaultMaxConcurrentSends, c.Transfer.MaxConcurrentSends)
	assert.Equal(t, "human", c.Log.Format)
	assert.Equal(t, "debug", c.Log.Level)

	g, err := c.Group.Membership()
	require.NoError(t, err)
	assert.Equal(t, &membership.Group{
		Version: 4,
		Token:   1234,
		Members: []membership.Member{
			{ID: 1, Address: "10.0.0.1:7000", Role: membership.RoleNormal},
			{ID: 2, Address: "10.0.0.2:7000", Role: membership.RoleStandby},
		},
	}, g)

	assert.Contains(t, c.String(), "name: main")
}

func TestConfig_LoadYAML_strict(t *testing.T) {
	c := Default()
	err := c.LoadYAML([]byte("unknown_key: 1\n"), false)
	assert.Error(t, err)
}

func TestConfig_LoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	fpath := filepath.Join(dir, "replstream.yaml")
	require.NoError(t, os.WriteFile(fpath, []byte("group:\n  name: ${TEST_GROUP_NAME}\n"), 0644))
	t.Setenv("TEST_GROUP_NAME", "from-env")

	c := Default()
	require.NoError(t, c.LoadYAMLFile(fpath, true))
	assert.Equal(t, "from-env", c.Group.Name)
	assert.NoError(t, c.Check())

	err := c.LoadYAMLFile(filepath.Join(dir, "missing.yaml"), true)
	assert.ErrorContains(t, err, "open yaml file")
}

func TestConfig_Check(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Group.Name = "main"
		return c
	}
	assert.NoError(t, valid().Check())

	tests := []struct {
		name   string
		modify func(c *Config)
		errStr string
	}{
		{"no-group", func(c *Config) { c.Group.Name = "" }, "group.name"},
		{"bad-role", func(c *Config) {
			c.Group.Members = []Member{{ID: 1, Address: "a:1", Role: "boss"}}
		}, "unknown role"},
		{"duplicate-member", func(c *Config) {
			c.Group.Members = []Member{{ID: 1, Address: "a:1"}, {ID: 1, Address: "b:1"}}
		}, "duplicate member id"},
		{"terms-both", func(c *Config) {
			c.Terms.Static = []StaticTerm{{Term: 1}}
			c.Terms.LMDB.Path = "/tmp/x"
		}, "mutually exclusive"},
		{"file-mask", func(c *Config) { c.Terms.LMDB.Options.FileMask = 644 }, "file_mask"},
		{"listen", func(c *Config) { c.Listen = "nope" }, "address"},
		{"window", func(c *Config) { c.Transfer.WindowSize = 8 }, "window_size"},
		{"sends", func(c *Config) { c.Transfer.MaxConcurrentSends = 0 }, "max_concurrent_sends"},
		{"cache", func(c *Config) { c.Transfer.SnapshotCacheSize = 0 }, "snapshot_cache_size"},
		{"io-timeout-zero", func(c *Config) { c.Transfer.IOTimeout = 0 }, "io_timeout"},
		{"io-timeout-negative", func(c *Config) { c.Transfer.IOTimeout = -time.Second }, "io_timeout"},
		{"cleanup-keep", func(c *Config) {
			c.Cleanup.Enabled = true
			c.Cleanup.Keep = 0
		}, "cleanup.keep"},
		{"log", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(&c)
			assert.ErrorContains(t, c.Check(), tt.errStr)
		})
	}
}
