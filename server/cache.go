package server

import (
	"context"

	"github.com/PowerDNS/simpleblob"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/replstream/snapshot"
	"github.com/PowerDNS/replstream/utils"
)

// cache keeps the uncompressed payloads of recently served snapshots
type cache struct {
	st    simpleblob.Interface
	group string
	l     logrus.FieldLogger
	lru   *lru.Cache

	// loadMu makes concurrent requests for a new snapshot wait for a
	// single download
	loadMu utils.MonitoredMutex
}

func newCache(st simpleblob.Interface, group string, size int, l logrus.FieldLogger) (*cache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot cache")
	}
	return &cache{
		st:    st,
		group: group,
		l:     l,
		lru:   c,
		loadMu: utils.MonitoredMutex{
			Logger: l,
			Name:   "snapshot-cache",
		},
	}, nil
}

// Latest returns the newest stored snapshot of the group and its payload
func (c *cache) Latest(ctx context.Context) (snapshot.NameInfo, []byte, error) {
	ni, err := snapshot.Latest(ctx, c.st, c.group, c.l)
	if err != nil {
		return ni, nil, err
	}
	payload, err := c.Get(ctx, ni.FullName)
	return ni, payload, err
}

// Get returns the payload of a stored snapshot
func (c *cache) Get(ctx context.Context, name string) ([]byte, error) {
	if v, ok := c.lru.Get(name); ok {
		metricCacheLoads.WithLabelValues("hit").Inc()
		return v.([]byte), nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if v, ok := c.lru.Get(name); ok {
		metricCacheLoads.WithLabelValues("hit").Inc()
		return v.([]byte), nil
	}
	metricCacheLoads.WithLabelValues("miss").Inc()

	payload, err := snapshot.Load(ctx, c.st, name)
	if err != nil {
		return nil, err
	}
	c.lru.Add(name, payload)
	c.l.WithField("snapshot", name).WithField("size", len(payload)).Debug("Loaded snapshot")
	return payload, nil
}

// Len returns the number of cached payloads
func (c *cache) Len() int {
	return c.lru.Len()
}
