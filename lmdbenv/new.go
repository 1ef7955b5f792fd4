// Package lmdbenv opens the LMDB environments used to persist the term index.
package lmdbenv

import (
	"os"
	"path/filepath"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
)

const (
	DefaultDirMask  = 0775
	DefaultFileMask = 0664
	DefaultMapSize  = 64 * datasize.MB
	DefaultMaxDBs   = 8
)

// Options configure NewWithOptions. They double as the yaml config of the
// term index.
type Options struct {
	DirMask  os.FileMode       `yaml:"dir_mask"`
	FileMask os.FileMode       `yaml:"file_mask"`
	MapSize  datasize.ByteSize `yaml:"map_size"` // only applied when creating
	MaxDBs   int               `yaml:"max_dbs"`
	NoSubdir bool              `yaml:"no_subdir"`
	Create   bool              `yaml:"create"`
	EnvFlags uint              `yaml:"-"`
}

// WithDefaults fills in the zero fields
func (o Options) WithDefaults() Options {
	o.DirMask = or(o.DirMask, DefaultDirMask)
	o.FileMask = or(o.FileMask, DefaultFileMask)
	o.MaxDBs = or(o.MaxDBs, DefaultMaxDBs)
	return o
}

func (o Options) flags() uint {
	f := o.EnvFlags
	if o.Create {
		f |= lmdb.Create
	}
	if o.NoSubdir {
		f |= lmdb.NoSubdir
	}
	return f
}

// NewWithOptions opens the LMDB environment at path. The caller must close it.
func NewWithOptions(path string, opt Options) (env *lmdb.Env, err error) {
	opt = opt.WithDefaults()
	flags := opt.flags()

	mapSize := opt.MapSize
	if flags&lmdb.Create != 0 {
		dir := path
		if flags&lmdb.NoSubdir != 0 {
			dir = filepath.Dir(path)
		}
		if err := os.MkdirAll(dir, opt.DirMask); err != nil {
			return nil, errors.Wrapf(err, "lmdb env: create %s", dir)
		}
		mapSize = or(mapSize, DefaultMapSize)
	}

	env, err = lmdb.NewEnv()
	if err != nil {
		return nil, errors.Wrap(err, "lmdb env: new")
	}
	defer func() {
		if err != nil {
			_ = env.Close()
			env = nil
		}
	}()

	// A zero map size keeps the size recorded in an existing file
	if err = env.SetMapSize(int64(mapSize)); err != nil {
		return nil, errors.Wrap(err, "lmdb env: set map size")
	}
	if err = env.SetMaxDBs(opt.MaxDBs); err != nil {
		return nil, errors.Wrap(err, "lmdb env: set max dbs")
	}
	if err = env.Open(path, flags, opt.FileMask); err != nil {
		return nil, errors.Wrapf(err, "lmdb env: open %s", path)
	}
	return env, nil
}

func or[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
