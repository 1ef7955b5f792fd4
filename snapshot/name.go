package snapshot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// Extension of stored snapshots
	Extension = "snap.gz"

	sep = "__"
	// secondsLayout is followed by a dash and nine digits of nanoseconds
	secondsLayout = "20060102-150405"
	// positionDigits pads positions, so that names sort by position
	positionDigits = 20
)

// ErrInvalidName is returned by ParseName for names of other blobs
var ErrInvalidName = errors.New("not a snapshot name")

// Timestamp formats ts in UTC like 20220102-030405-012345678
func Timestamp(ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s-%09d", ts.Format(secondsLayout), ts.Nanosecond())
}

func parseTimestamp(s string) (time.Time, error) {
	secs, nanos, ok := strings.Cut(s[min(len(s), len(secondsLayout)):], "-")
	if !ok || secs != "" || len(nanos) != 9 {
		return time.Time{}, errors.Errorf("bad timestamp %q", s)
	}
	ts, err := time.Parse(secondsLayout, s[:len(secondsLayout)])
	if err != nil {
		return time.Time{}, err
	}
	ns, err := strconv.ParseUint(nanos, 10, 32)
	if err != nil {
		return time.Time{}, errors.Errorf("bad timestamp %q", s)
	}
	return ts.Add(time.Duration(ns)), nil
}

// Prefix returns the name prefix of all snapshots of a group
func Prefix(group string) string {
	return group + sep
}

// Name returns the storage name of a snapshot of a group at a log position
func Name(group, instanceID string, ts time.Time, position uint64) string {
	return strings.Join([]string{
		group,
		instanceID,
		Timestamp(ts),
		fmt.Sprintf("%0*d.%s", positionDigits, position, Extension),
	}, sep)
}

// ParseName parses a name created by Name. Fields after the position are
// ignored.
func ParseName(name string) (NameInfo, error) {
	base, ok := strings.CutSuffix(name, "."+Extension)
	if !ok || strings.Contains(base, ".") {
		return NameInfo{}, errors.Wrapf(ErrInvalidName, "%s: extension", name)
	}
	p := strings.Split(base, sep)
	if len(p) < 4 {
		return NameInfo{}, errors.Wrapf(ErrInvalidName, "%s: too few fields", name)
	}
	ts, err := parseTimestamp(p[2])
	if err != nil {
		return NameInfo{}, errors.Wrapf(ErrInvalidName, "%s: %v", name, err)
	}
	pos, err := strconv.ParseUint(p[3], 10, 64)
	if err != nil {
		return NameInfo{}, errors.Wrapf(ErrInvalidName, "%s: position %q", name, p[3])
	}
	return NameInfo{
		FullName:   name,
		GroupName:  p[0],
		InstanceID: p[1],
		Timestamp:  ts,
		Position:   pos,
	}, nil
}

// NameInfo describes a parsed snapshot name
type NameInfo struct {
	FullName   string
	GroupName  string
	InstanceID string
	Timestamp  time.Time
	Position   uint64
}

// Newer reports if ni is a better snapshot to serve than other: a higher
// position, or a more recent one for the same position.
func (ni NameInfo) Newer(other NameInfo) bool {
	if ni.Position != other.Position {
		return ni.Position > other.Position
	}
	return ni.Timestamp.After(other.Timestamp)
}
