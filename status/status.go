package status

import (
	"context"
	"sync"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/PowerDNS/simpleblob"
	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/replstream/lmdbenv/stats"
	"github.com/PowerDNS/replstream/server"
	"github.com/PowerDNS/replstream/snapshot"
	"github.com/PowerDNS/replstream/termlog"
	"github.com/PowerDNS/replstream/utils/topics"
)

// TermsFunc returns the currently known terms
type TermsFunc func() ([]termlog.Term, error)

type info struct {
	mu     sync.Mutex
	envs   []namedEnv
	st     simpleblob.Interface
	terms  TermsFunc
	events *topics.Topic[server.Event]
}

type namedEnv struct {
	name string
	env  *lmdb.Env
}

type DBInfo struct {
	Name     string
	Info     *lmdb.EnvInfo
	DBIStats []DBIStat
	Used     datasize.ByteSize
	Err      error
}

type DBIStat struct {
	Name         string
	Entries      uint64
	Used         datasize.ByteSize
	FlagsDisplay string
}

var gi info

func (i *info) Snapshots(ctx context.Context, group string) ([]snapshot.NameInfo, error) {
	i.mu.Lock()
	st := i.st
	i.mu.Unlock()
	if st == nil {
		return nil, errors.New("no storage registered with status page")
	}
	return snapshot.List(ctx, st, group, logrus.StandardLogger())
}

func (i *info) Terms() ([]termlog.Term, error) {
	i.mu.Lock()
	f := i.terms
	i.mu.Unlock()
	if f == nil {
		return nil, errors.New("no terms registered with status page")
	}
	return f()
}

func (i *info) LastEvent() (server.Event, bool) {
	i.mu.Lock()
	t := i.events
	i.mu.Unlock()
	if t == nil {
		return server.Event{}, false
	}
	return t.Last()
}

func (i *info) DBInfo() []DBInfo {
	i.mu.Lock()
	defer i.mu.Unlock()
	return lo.Map(i.envs, func(ne namedEnv, _ int) DBInfo {
		return envInfo(ne)
	})
}

func envInfo(ne namedEnv) (info DBInfo) {
	info.Name = ne.name
	if info.Info, info.Err = ne.env.Info(); info.Err != nil {
		return info
	}
	dbis, err := stats.ReadDBIStats(ne.env)
	info.Err = err
	for _, ds := range dbis {
		info.DBIStats = append(info.DBIStats, DBIStat{
			Name:         ds.Name,
			Entries:      ds.Stat.Entries,
			Used:         datasize.ByteSize(ds.Used),
			FlagsDisplay: displayFlags(ds.Flags),
		})
		info.Used += datasize.ByteSize(ds.Used)
	}
	return info
}

// AddLMDBEnv registers an LMDB Env with the status page
func AddLMDBEnv(name string, env *lmdb.Env) {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	gi.envs = append(gi.envs, namedEnv{name: name, env: env})
}

// RemoveLMDBEnv unregisters an LMDB Env, which must happen before it is closed
func RemoveLMDBEnv(name string) {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	gi.envs = lo.Reject(gi.envs, func(ne namedEnv, _ int) bool {
		return ne.name == name
	})
}

// SetStorage sets the snapshot storage listed on the status page
func SetStorage(st simpleblob.Interface) {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	gi.st = st
}

// SetTerms sets the source of the term table on the status page
func SetTerms(f TermsFunc) {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	gi.terms = f
}

// SetEvents sets the topic from which the last send is shown
func SetEvents(t *topics.Topic[server.Event]) {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	gi.events = t
}
