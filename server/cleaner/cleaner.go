// Package cleaner removes superseded snapshots of a group from storage
package cleaner

import (
	"context"
	"time"

	"github.com/PowerDNS/simpleblob"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/replstream/config"
	"github.com/PowerDNS/replstream/snapshot"
	"github.com/PowerDNS/replstream/utils"
)

func New(group string, st simpleblob.Interface, cc config.Cleanup, logger logrus.FieldLogger) *Worker {
	return &Worker{
		st:            st,
		group:         group,
		l:             logger.WithField("component", "cleaner"),
		conf:          cc,
		snapFirstSeen: make(map[string]time.Time),
	}
}

// Worker periodically removes the oldest snapshots of a group, keeping the
// newest Cleanup.Keep ones. It cleans snapshots of all instances.
type Worker struct {
	st            simpleblob.Interface
	group         string
	l             logrus.FieldLogger
	conf          config.Cleanup
	snapFirstSeen map[string]time.Time
}

func (w *Worker) Run(ctx context.Context) error {
	if !w.conf.Enabled {
		<-ctx.Done()
		return context.Canceled
	}
	for {
		if _, err := w.RunOnce(ctx, time.Now()); err != nil {
			w.l.WithError(err).Warn("Clean run failed")
		}
		if err := utils.SleepContextPerturb(ctx, w.conf.Interval); err != nil {
			return err
		}
	}
}

// RunOnce performs a single cleaning pass and returns the number of
// snapshots it removed. It must not be called concurrently.
func (w *Worker) RunOnce(ctx context.Context, now time.Time) (cleaned int, err error) {
	if !w.conf.Enabled {
		return 0, nil
	}
	metricRuns.WithLabelValues(w.group).Inc()
	snapshots, err := snapshot.List(ctx, w.st, w.group, w.l)
	if err != nil {
		metricRunsFailed.WithLabelValues(w.group).Inc()
		return 0, err
	}
	nTotal := len(snapshots)

	seen := make(map[string]bool, nTotal)
	for _, ni := range snapshots {
		seen[ni.FullName] = true
	}
	for name := range w.snapFirstSeen {
		if !seen[name] {
			delete(w.snapFirstSeen, name)
		}
	}

	// List returns oldest first, so everything before the last Keep entries
	// has been superseded.
	var candidates []snapshot.NameInfo
	if nTotal > w.conf.Keep {
		candidates = snapshots[:nTotal-w.conf.Keep]
	}
	for _, ni := range snapshots {
		if _, exists := w.snapFirstSeen[ni.FullName]; !exists {
			w.snapFirstSeen[ni.FullName] = now
		}
	}

	// A receiver may still be downloading a snapshot we only just saw appear,
	// regardless of its timestamp.
	candidates = lo.Filter(candidates, func(ni snapshot.NameInfo, _ int) bool {
		return now.Sub(w.snapFirstSeen[ni.FullName]) > w.conf.MustKeepInterval
	})

	nError := 0
	for _, ni := range candidates {
		l := w.l.WithField("snapshot", ni.FullName)
		l.Debug("Cleaning old snapshot")
		metricDeleteCalls.WithLabelValues(w.group).Inc()
		if err := w.st.Delete(ctx, ni.FullName); err != nil {
			l.WithError(err).Warn("Could not delete old snapshot")
			metricDeleteFailed.WithLabelValues(w.group).Inc()
			nError++
			continue
		}
		delete(w.snapFirstSeen, ni.FullName)
		cleaned++
	}

	w.l.WithFields(logrus.Fields{
		"cleaned": cleaned,
		"failed":  nError,
		"total":   nTotal,
	}).Debug("Cleaning stats")
	return cleaned, nil
}
