// Package config implements the YAML config file parser
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/PowerDNS/replstream/config/logger"
	"github.com/PowerDNS/replstream/lmdbenv"
	"github.com/PowerDNS/replstream/membership"
	"github.com/PowerDNS/replstream/status/healthtracker"
)

const (
	DefaultWindowSize         = 64 * datasize.KB
	DefaultMaxIdleBuffers     = 16
	DefaultMaxConcurrentSends = 4
	DefaultIOTimeout          = time.Minute
	DefaultSnapshotCacheSize  = 2
)

// Config is the config root object
type Config struct {
	// Instance name, defaults to the hostname
	Instance string        `yaml:"instance"`
	Listen   string        `yaml:"listen"` // Snapshot server address like ":7000"
	Group    Group         `yaml:"group"`
	Terms    Terms         `yaml:"terms"`
	Storage  Storage       `yaml:"storage"`
	Transfer Transfer      `yaml:"transfer"`
	Cleanup  Cleanup       `yaml:"cleanup"`
	HTTP     HTTP          `yaml:"http"`
	Health   Health        `yaml:"health"`
	Log      logger.Config `yaml:"log"`

	// Set to current version by main
	Version string `yaml:"-"`
}

// Group configures the replication group and its membership descriptor
type Group struct {
	Name    string   `yaml:"name"`
	Version uint64   `yaml:"version"`
	Token   uint64   `yaml:"token"`
	Members []Member `yaml:"members"`
}

type Member struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
	Role    string `yaml:"role"` // Defaults to "normal"
}

// Membership converts the config into a membership descriptor
func (g Group) Membership() (*membership.Group, error) {
	mg := &membership.Group{
		Version: g.Version,
		Token:   g.Token,
	}
	for _, m := range g.Members {
		role := membership.RoleNormal
		if m.Role != "" {
			var err error
			if role, err = membership.ParseRole(m.Role); err != nil {
				return nil, fmt.Errorf("group.members: id %d: %v", m.ID, err)
			}
		}
		mg.Members = append(mg.Members, membership.Member{
			ID:      m.ID,
			Address: m.Address,
			Role:    role,
		})
	}
	if err := mg.Validate(); err != nil {
		return nil, err
	}
	return mg, nil
}

// Terms configures where the term index comes from: either an LMDB
// database, or a static list.
type Terms struct {
	Static    []StaticTerm `yaml:"static"`
	Committed uint64       `yaml:"committed"` // for static terms
	LMDB      TermsLMDB    `yaml:"lmdb"`
}

type StaticTerm struct {
	PrevTerm uint64 `yaml:"prev_term"`
	Term     uint64 `yaml:"term"`
	Start    uint64 `yaml:"start"`
}

// TermsLMDB configures the LMDB database holding the persisted term index
type TermsLMDB struct {
	Path    string          `yaml:"path"` // Path to directory holding data.mdb, or mdb file if NoSubdir
	Options lmdbenv.Options `yaml:"options"`
}

type Storage struct {
	Type    string                 `yaml:"type"`
	Options map[string]interface{} `yaml:"options"` // backend specific
}

// Transfer configures snapshot transfers
type Transfer struct {
	// WindowSize is the decoder window, which is also the maximum chunk size
	WindowSize         datasize.ByteSize `yaml:"window_size"`
	MaxIdleBuffers     int               `yaml:"max_idle_buffers"`
	MaxConcurrentSends int               `yaml:"max_concurrent_sends"`
	// IOTimeout bounds the handshake reads and every payload write
	IOTimeout time.Duration `yaml:"io_timeout"`
	// SnapshotCacheSize is the number of uncompressed snapshots kept in memory
	SnapshotCacheSize int `yaml:"snapshot_cache_size"`
}

// Cleanup configures the removal of old snapshots from storage
type Cleanup struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	// MustKeepInterval protects snapshots that appeared recently, because
	// a receiver may still be downloading them.
	MustKeepInterval time.Duration `yaml:"must_keep_interval"`
	// Keep is the number of newest snapshots kept per group
	Keep int `yaml:"keep"`
}

// HTTP configures the HTTP server with Prometheus metrics and status page
type HTTP struct {
	Address string `yaml:"address"` // Address like ":8000"
}

// Health configures the healthz thresholds for failing activities
type Health struct {
	Send healthtracker.HealthConfig `yaml:"send"`
}

// Check validates a Config instance
func (c Config) Check() error {
	if err := c.Log.Check(); err != nil {
		return err
	}
	if c.Group.Name == "" {
		return fmt.Errorf("group.name: not configured")
	}
	if _, err := c.Group.Membership(); err != nil {
		return err
	}
	if len(c.Terms.Static) > 0 && c.Terms.LMDB.Path != "" {
		return fmt.Errorf("terms: static and lmdb are mutually exclusive")
	}
	if c.Terms.LMDB.Options.FileMask > 0777 { // decimal 511
		return fmt.Errorf("terms.lmdb.options.file_mask: too large value, possible use of decimal (%d) instead of octal (%#o)",
			c.Terms.LMDB.Options.FileMask, c.Terms.LMDB.Options.FileMask)
	}
	if c.Terms.LMDB.Options.DirMask > 0777 { // decimal 511
		return fmt.Errorf("terms.lmdb.options.dir_mask: too large value, possible use of decimal (%d) instead of octal (%#o)",
			c.Terms.LMDB.Options.DirMask, c.Terms.LMDB.Options.DirMask)
	}
	for _, addr := range lo.Compact([]string{c.Listen, c.HTTP.Address}) {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("address %q: %v", addr, err)
		}
	}
	if c.Transfer.WindowSize < 16 {
		return fmt.Errorf("transfer.window_size: too small")
	}
	if c.Transfer.WindowSize > datasize.GB {
		return fmt.Errorf("transfer.window_size: too large")
	}
	if c.Transfer.MaxConcurrentSends < 1 {
		return fmt.Errorf("transfer.max_concurrent_sends: must be at least 1")
	}
	if c.Transfer.MaxIdleBuffers < 0 {
		return fmt.Errorf("transfer.max_idle_buffers: cannot be negative")
	}
	if c.Transfer.IOTimeout <= 0 {
		return fmt.Errorf("transfer.io_timeout: must be positive")
	}
	if c.Transfer.SnapshotCacheSize < 1 {
		return fmt.Errorf("transfer.snapshot_cache_size: must be at least 1")
	}
	if c.Cleanup.Enabled {
		if c.Cleanup.Interval < time.Second {
			return fmt.Errorf("cleanup.interval: too short interval")
		}
		if c.Cleanup.Keep < 1 {
			return fmt.Errorf("cleanup.keep: must keep at least 1 snapshot")
		}
	}
	return nil
}

// String returns the config as a YAML string
func (c Config) String() string {
	y, err := yaml.Marshal(c)
	if err != nil {
		logrus.Panicf("YAML marshal of config failed: %v", err) // Should never happen
	}
	return string(y)
}

// LoadYAML loads config from YAML. Any set value overwrites any existing value,
// but omitted keys are untouched.
func (c *Config) LoadYAML(yamlContents []byte, expandEnv bool) error {
	if expandEnv {
		yamlContents = []byte(os.ExpandEnv(string(yamlContents)))
	}
	return yaml.UnmarshalStrict(yamlContents, c)
}

// LoadYAMLFile loads config from a YAML file. Any set value overwrites any existing value,
// but omitted keys are untouched.
func (c *Config) LoadYAMLFile(fpath string, expandEnv bool) error {
	contents, err := os.ReadFile(fpath)
	if err != nil {
		return errors.Wrap(err, "open yaml file")
	}
	return c.LoadYAML(contents, expandEnv)
}

// Default returns a Config with default settings
func Default() Config {
	return Config{
		Log: logger.DefaultConfig,
		Transfer: Transfer{
			WindowSize:         DefaultWindowSize,
			MaxIdleBuffers:     DefaultMaxIdleBuffers,
			MaxConcurrentSends: DefaultMaxConcurrentSends,
			IOTimeout:          DefaultIOTimeout,
			SnapshotCacheSize:  DefaultSnapshotCacheSize,
		},
		Cleanup: Cleanup{
			Interval:         5 * time.Minute,
			MustKeepInterval: 10 * time.Minute,
			Keep:             3,
		},
		Health: Health{
			Send: healthtracker.HealthConfig{
				EvaluationInterval: 5 * time.Second,
				WarnSequence:       3,
				ErrorSequence:      10,
				WarnDuration:       5 * time.Minute,
				ErrorDuration:      30 * time.Minute,
			},
		},
	}
}
