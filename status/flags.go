package status

import (
	"fmt"
	"strings"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/samber/lo"
)

// Persistent DBI flags without a constant in the Go bindings
const (
	lmdbIntegerKey uint = 0x08
	lmdbIntegerDup uint = 0x20
)

type flagName struct {
	flag uint
	name string
}

var dbiFlagNames = []flagName{
	{lmdb.ReverseKey, "REVERSEKEY"},
	{lmdb.DupSort, "DUPSORT"},
	{lmdbIntegerKey, "INTEGERKEY"},
	{lmdb.DupFixed, "DUPFIXED"},
	{lmdbIntegerDup, "INTEGERDUP"},
	{lmdb.ReverseDup, "REVERSEDUP"},
}

// displayFlags formats DBI flags like "DUPSORT,DUPFIXED"
func displayFlags(fl uint) string {
	set := lo.Filter(dbiFlagNames, func(fn flagName, _ int) bool {
		return fl&fn.flag != 0
	})
	names := lo.Map(set, func(fn flagName, _ int) string {
		return fn.name
	})
	var known uint
	for _, fn := range dbiFlagNames {
		known |= fn.flag
	}
	if unknown := fl &^ known; unknown != 0 {
		names = append(names, fmt.Sprintf("%#02x", unknown))
	}
	return strings.Join(names, ",")
}
