// Package stats exposes LMDB environment statistics to Prometheus
package stats

import (
	"sync"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/replstream/lmdbenv"
)

// PageUsageBytes estimates bytes of map size used based on used pages
func PageUsageBytes(s *lmdb.Stat) uint64 {
	return uint64(s.PSize) * (s.BranchPages + s.LeafPages + s.OverflowPages)
}

// DBIStat describes a single named database in an env
type DBIStat struct {
	Name  string
	Flags uint
	Stat  *lmdb.Stat
	Used  uint64
}

// ReadDBIStats returns the stats of every named database in the env
func ReadDBIStats(env *lmdb.Env) (res []DBIStat, err error) {
	err = env.View(func(txn *lmdb.Txn) error {
		names, err := lmdbenv.ReadDBINames(txn)
		if err != nil {
			return errors.Wrap(err, "read dbi names")
		}
		for _, name := range names {
			dbi, err := txn.OpenDBI(name, 0)
			if err != nil {
				return errors.Wrapf(err, "open dbi %s", name)
			}
			fl, err := txn.Flags(dbi)
			if err != nil {
				return err
			}
			st, err := txn.Stat(dbi)
			if err != nil {
				return err
			}
			res = append(res, DBIStat{
				Name:  name,
				Flags: fl,
				Stat:  st,
				Used:  PageUsageBytes(st),
			})
		}
		return nil
	})
	return res, err
}

// Collector implements an LMDB stats collector for Prometheus.
// It must be registered before it collects anything.
type Collector struct {
	mu      sync.Mutex
	targets map[string]*lmdb.Env
}

func NewCollector() *Collector {
	return &Collector{
		targets: make(map[string]*lmdb.Env),
	}
}

// AddTarget adds an env to collect under the given name
func (c *Collector) AddTarget(name string, env *lmdb.Env) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[name] = env
}

// RemoveTarget stops collecting an env, typically right before it is closed
func (c *Collector) RemoveTarget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.targets, name)
}

// Describe is part of the prometheus.Collector interface
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- envMapSizeDesc
	ch <- envReadersDesc
	ch <- envLastTxnIDDesc
	ch <- statUsageBytesDesc
	ch <- statEntriesDesc
	ch <- statDepthDesc
}

// Collect is part of the prometheus.Collector interface
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	targets := make(map[string]*lmdb.Env, len(c.targets))
	for name, env := range c.targets {
		targets[name] = env
	}
	c.mu.Unlock()
	for name, env := range targets {
		if err := collect(ch, name, env); err != nil {
			logrus.WithError(err).WithField("lmdb", name).Warn("LMDB stats collection failed")
		}
	}
}

func collect(ch chan<- prometheus.Metric, name string, env *lmdb.Env) error {
	info, err := env.Info()
	if err != nil {
		return errors.Wrap(err, "env info")
	}
	ch <- prometheus.MustNewConstMetric(envMapSizeDesc, prometheus.GaugeValue,
		float64(info.MapSize), name)
	ch <- prometheus.MustNewConstMetric(envReadersDesc, prometheus.GaugeValue,
		float64(info.NumReaders), name)
	ch <- prometheus.MustNewConstMetric(envLastTxnIDDesc, prometheus.GaugeValue,
		float64(info.LastTxnID), name)

	dbis, err := ReadDBIStats(env)
	if err != nil {
		return err
	}
	for _, ds := range dbis {
		ch <- prometheus.MustNewConstMetric(statUsageBytesDesc, prometheus.GaugeValue,
			float64(ds.Used), name, ds.Name)
		ch <- prometheus.MustNewConstMetric(statEntriesDesc, prometheus.GaugeValue,
			float64(ds.Stat.Entries), name, ds.Name)
		ch <- prometheus.MustNewConstMetric(statDepthDesc, prometheus.GaugeValue,
			float64(ds.Stat.Depth), name, ds.Name)
	}
	return nil
}

var (
	envMapSizeDesc = prometheus.NewDesc(
		"lmdb_mapsize_bytes",
		"Configured LMDB map size",
		[]string{"lmdb"},
		nil,
	)
	envReadersDesc = prometheus.NewDesc(
		"lmdb_env_readers_current",
		"Current number of LMDB readers",
		[]string{"lmdb"},
		nil,
	)
	envLastTxnIDDesc = prometheus.NewDesc(
		"lmdb_env_last_txn_id",
		"Last LMDB transaction ID",
		[]string{"lmdb"},
		nil,
	)
	statUsageBytesDesc = prometheus.NewDesc(
		"lmdb_db_usage_bytes",
		"Bytes of map size used by a database, based on page counts",
		[]string{"lmdb", "db"},
		nil,
	)
	statEntriesDesc = prometheus.NewDesc(
		"lmdb_stat_entries",
		"Number of entries in a database",
		[]string{"lmdb", "db"},
		nil,
	)
	statDepthDesc = prometheus.NewDesc(
		"lmdb_stat_depth",
		"B-tree depth of a database",
		[]string{"lmdb", "db"},
		nil,
	)
)
