package snapshot

import (
	"context"
	"sort"
	"time"

	"github.com/PowerDNS/simpleblob"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// ErrNoSnapshot is returned when a group has no stored snapshots
var ErrNoSnapshot = errors.New("no snapshot available")

// List returns the snapshots stored for a group, oldest first. Blobs with
// names that do not parse are skipped.
func List(ctx context.Context, st simpleblob.Interface, group string, l logrus.FieldLogger) ([]NameInfo, error) {
	ls, err := st.List(ctx, Prefix(group))
	metricListCalls.Inc()
	if err != nil {
		metricListFailed.Inc()
		return nil, err
	}
	var snapshots []NameInfo
	for _, name := range ls.Names() {
		ni, err := ParseName(name)
		if err != nil {
			l.WithError(err).WithField("filename", name).
				Debug("Skipping invalid filename")
			continue
		}
		if ni.GroupName != group {
			continue // group name with "__" in it
		}
		snapshots = append(snapshots, ni)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[j].Newer(snapshots[i])
	})
	return snapshots, nil
}

// Latest returns the newest snapshot of a group
func Latest(ctx context.Context, st simpleblob.Interface, group string, l logrus.FieldLogger) (NameInfo, error) {
	snapshots, err := List(ctx, st, group, l)
	if err != nil {
		return NameInfo{}, err
	}
	if len(snapshots) == 0 {
		return NameInfo{}, errors.Wrapf(ErrNoSnapshot, "group %q", group)
	}
	return lo.MaxBy(snapshots, func(a, b NameInfo) bool {
		return a.Newer(b)
	}), nil
}

// Load loads and uncompresses a stored snapshot
func Load(ctx context.Context, st simpleblob.Interface, name string) ([]byte, error) {
	data, err := st.Load(ctx, name)
	metricLoadCalls.Inc()
	if err != nil {
		metricLoadFailed.Inc()
		return nil, errors.Wrapf(err, "load %s", name)
	}
	payload, err := LoadData(data)
	if err != nil {
		metricLoadFailed.Inc()
		return nil, errors.Wrapf(err, "uncompress %s", name)
	}
	return payload, nil
}

// Store compresses and stores a snapshot payload, and returns its name
func Store(ctx context.Context, st simpleblob.Interface, group, instanceID string, position uint64, payload []byte) (NameInfo, DumpDataStats, error) {
	data, stat, err := DumpData(payload)
	if err != nil {
		return NameInfo{}, stat, err
	}
	name := Name(group, instanceID, time.Now(), position)
	metricStoreCalls.Inc()
	if err := st.Store(ctx, name, data); err != nil {
		metricStoreFailed.Inc()
		return NameInfo{}, stat, errors.Wrapf(err, "store %s", name)
	}
	metricStoreBytes.Add(float64(len(data)))
	ni, err := ParseName(name)
	return ni, stat, err
}
