package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseName(t *testing.T) {
	ts := time.Date(2022, 1, 2, 3, 4, 5, 12345678, time.UTC)
	tests := []struct {
		testName string
		name     string
		want     NameInfo
		wantErr  bool
	}{
		{
			"roundtrip",
			Name("main", "inst1", ts, 4096),
			NameInfo{
				FullName:   "main__inst1__20220102-030405-012345678__00000000000000004096.snap.gz",
				GroupName:  "main",
				InstanceID: "inst1",
				Timestamp:  ts,
				Position:   4096,
			},
			false,
		},
		{
			"extra-fields",
			"main__inst1__20220102-030405-012345678__12__extra.snap.gz",
			NameInfo{
				FullName:   "main__inst1__20220102-030405-012345678__12__extra.snap.gz",
				GroupName:  "main",
				InstanceID: "inst1",
				Timestamp:  ts,
				Position:   12,
			},
			false,
		},
		{
			"invalid",
			"invalid",
			NameInfo{},
			true,
		},
		{
			"invalid-ext",
			"main__inst1__20220102-030405-012345678__12.pb.gz",
			NameInfo{},
			true,
		},
		{
			"too-few-fields",
			"main__inst1__20220102-030405-012345678.snap.gz",
			NameInfo{},
			true,
		},
		{
			"invalid-ts",
			"main__inst1__20220102-030405-012__12.snap.gz",
			NameInfo{},
			true,
		},
		{
			"invalid-position",
			"main__inst1__20220102-030405-012345678__-1.snap.gz",
			NameInfo{},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.testName, func(t *testing.T) {
			got, err := ParseName(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidName)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2022, 1, 2, 3, 4, 5, 7, time.FixedZone("x", 3600))
	assert.Equal(t, "20220102-020405-000000007", Timestamp(ts))
	got, err := parseTimestamp(Timestamp(ts))
	assert.NoError(t, err)
	assert.True(t, ts.Equal(got))

	for _, bad := range []string{"", "20220102", "20220102-020405", "20220102-020405-1234567890", "20220102-020405-abcdefghi"} {
		_, err := parseTimestamp(bad)
		assert.Error(t, err, bad)
	}
}

func TestName_sortsByPosition(t *testing.T) {
	ts := time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)
	a := Name("g", "i", ts, 999)
	b := Name("g", "i", ts, 1000)
	assert.Less(t, a, b)
}

func TestNameInfo_Newer(t *testing.T) {
	t0 := time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)
	t1 := t0.Add(time.Second)
	assert.True(t, NameInfo{Position: 2, Timestamp: t0}.Newer(NameInfo{Position: 1, Timestamp: t1}))
	assert.True(t, NameInfo{Position: 1, Timestamp: t1}.Newer(NameInfo{Position: 1, Timestamp: t0}))
	assert.False(t, NameInfo{Position: 1, Timestamp: t0}.Newer(NameInfo{Position: 1, Timestamp: t0}))
}
