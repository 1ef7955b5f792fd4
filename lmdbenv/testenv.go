package lmdbenv

import (
	"os"
	"path/filepath"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/pkg/errors"
)

// TestEnv runs f against an LMDB environment in a fresh temporary directory,
// which is removed afterwards. Errors from f are returned unwrapped.
func TestEnv(f func(env *lmdb.Env) error) error {
	dir, err := os.MkdirTemp("", "replstream-lmdb-")
	if err != nil {
		return errors.Wrap(err, "test env: tempdir")
	}
	defer func() { _ = os.RemoveAll(dir) }()

	env, err := NewWithOptions(filepath.Join(dir, "env"), Options{Create: true})
	if err != nil {
		return errors.Wrap(err, "test env")
	}
	defer func() { _ = env.Close() }()
	return f(env)
}
