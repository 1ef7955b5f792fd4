package membership

import (
	"bytes"
	"testing"

	"github.com/CrowdStrike/csproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerDNS/replstream/datain"
)

func makeTestGroup() Group {
	return Group{
		Version: 7,
		Token:   0xdeadbeef,
		Members: []Member{
			{ID: 1, Address: "10.0.0.1:7000"},
			{ID: 2, Address: "10.0.0.2:7000", Role: RoleStandby},
			{ID: 300, Address: "[2001:db8::1]:7000", Role: RoleRestoring},
		},
	}
}

func TestGroup_Marshal(t *testing.T) {
	var empty Group
	assert.Equal(t, 0, len(empty.Marshal()))

	orig := makeTestGroup()
	pb := orig.Marshal()
	assert.Len(t, pb, orig.Size())

	var loaded Group
	require.NoError(t, loaded.Unmarshal(pb))
	assert.Equal(t, orig, loaded)
}

func TestGroup_Unmarshal_unknownFields(t *testing.T) {
	orig := makeTestGroup()
	pb := orig.Marshal()

	extra := make([]byte, 32)
	n := csproto.EncodeTag(extra, 15, csproto.WireTypeLengthDelimited)
	n += csproto.EncodeVarint(extra[n:], 3)
	n += copy(extra[n:], "foo")
	pb = append(pb, extra[:n]...)

	var loaded Group
	require.NoError(t, loaded.Unmarshal(pb))
	assert.Equal(t, orig, loaded)
}

func TestGroup_Unmarshal_wrongWireType(t *testing.T) {
	b := make([]byte, 16)
	n := csproto.EncodeTag(b, FieldGroupVersion, csproto.WireTypeLengthDelimited)
	n += csproto.EncodeVarint(b[n:], 1)
	b[n] = 'x'
	n++

	var g Group
	err := g.Unmarshal(b[:n])
	assert.ErrorAs(t, err, &ErrUnexpectedWireType{})
}

func TestGroup_WriteTo(t *testing.T) {
	orig := makeTestGroup()
	var buf bytes.Buffer
	n, err := orig.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	// Followed by other data on the same stream
	buf.WriteString("tail")

	d := datain.New(0, &buf, datain.Options{BufferSize: 16})
	loaded, err := ReadFrom(d)
	require.NoError(t, err)
	assert.Equal(t, &orig, loaded)
	assert.Equal(t, uint64(n), d.Position())

	tail := make([]byte, 4)
	require.NoError(t, d.ReadFull(tail))
	assert.Equal(t, "tail", string(tail))
}

func TestReadFrom_truncated(t *testing.T) {
	orig := makeTestGroup()
	var buf bytes.Buffer
	_, err := orig.WriteTo(&buf)
	require.NoError(t, err)

	d := datain.New(0, bytes.NewReader(buf.Bytes()[:buf.Len()-1]), datain.Options{})
	_, err = ReadFrom(d)
	assert.ErrorIs(t, err, datain.ErrTruncated)
}

func TestGroup_Validate(t *testing.T) {
	g := makeTestGroup()
	assert.NoError(t, g.Validate())

	g.Members = append(g.Members, Member{ID: 2, Address: "x:1"})
	assert.ErrorContains(t, g.Validate(), "duplicate member id 2")

	g = makeTestGroup()
	g.Members[0].Address = ""
	assert.ErrorContains(t, g.Validate(), "member 1 has no address")

	m, ok := g.Member(300)
	assert.True(t, ok)
	assert.Equal(t, RoleRestoring, m.Role)
	_, ok = g.Member(4)
	assert.False(t, ok)
}

func TestRole(t *testing.T) {
	for r := RoleNormal; r <= RoleRestoring; r++ {
		parsed, err := ParseRole(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, parsed)
	}
	_, err := ParseRole("leader")
	assert.Error(t, err)
	assert.Equal(t, "role(9)", Role(9).String())
}
