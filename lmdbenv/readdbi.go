package lmdbenv

import (
	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/pkg/errors"
)

// ReadDBINames lists the named databases in the environment by walking the
// keys of the root database.
func ReadDBINames(txn *lmdb.Txn) ([]string, error) {
	root, err := txn.OpenRoot(0)
	if err != nil {
		return nil, errors.Wrap(err, "open root dbi")
	}
	c, err := txn.OpenCursor(root)
	if err != nil {
		return nil, errors.Wrap(err, "open cursor")
	}
	defer c.Close()

	var names []string
	for op := uint(lmdb.First); ; op = lmdb.Next {
		key, _, err := c.Get(nil, nil, op)
		switch {
		case lmdb.IsNotFound(err):
			return names, nil
		case err != nil:
			return nil, errors.Wrap(err, "cursor get")
		}
		names = append(names, string(key))
	}
}
