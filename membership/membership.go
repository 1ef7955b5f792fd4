// Package membership describes the members of a replication group. The
// descriptor is sent along with every snapshot, so that a restoring member
// knows the group it is joining.
package membership

import (
	"fmt"
	"io"

	"github.com/CrowdStrike/csproto"
	"github.com/pkg/errors"

	"github.com/PowerDNS/replstream/datain"
	"github.com/PowerDNS/replstream/varint"
)

// Protobuf field numbers
const (
	FieldGroupVersion = 1
	FieldGroupToken   = 2
	FieldGroupMembers = 3

	FieldMemberID      = 1
	FieldMemberAddress = 2
	FieldMemberRole    = 3
)

// tagSize is the encoded size of a tag with field number < 16
const tagSize = 1

// Role is the role of a member within the group
type Role uint32

const (
	RoleNormal Role = iota
	RoleStandby
	RoleObserver
	RoleRestoring
)

func (r Role) String() string {
	switch r {
	case RoleNormal:
		return "normal"
	case RoleStandby:
		return "standby"
	case RoleObserver:
		return "observer"
	case RoleRestoring:
		return "restoring"
	default:
		return fmt.Sprintf("role(%d)", uint32(r))
	}
}

// ParseRole parses the String representation of a Role
func ParseRole(s string) (Role, error) {
	for r := RoleNormal; r <= RoleRestoring; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role: %q", s)
}

// Member is a single group member
type Member struct {
	ID      uint64
	Address string
	Role    Role
}

// Group is the membership descriptor of a replication group
type Group struct {
	Version uint64
	Token   uint64
	Members []Member
}

// Member returns the member with given ID, if present
func (g *Group) Member(id uint64) (Member, bool) {
	for _, m := range g.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// Validate checks that member IDs are unique and addresses are set
func (g *Group) Validate() error {
	seen := make(map[uint64]struct{}, len(g.Members))
	for _, m := range g.Members {
		if _, exists := seen[m.ID]; exists {
			return fmt.Errorf("membership: duplicate member id %d", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Address == "" {
			return fmt.Errorf("membership: member %d has no address", m.ID)
		}
	}
	return nil
}

func (m *Member) size() int {
	var n int
	if m.ID > 0 {
		n += tagSize + csproto.SizeOfVarint(m.ID)
	}
	if m.Address != "" {
		n += tagSize + csproto.SizeOfVarint(uint64(len(m.Address))) + len(m.Address)
	}
	if m.Role > 0 {
		n += tagSize + csproto.SizeOfVarint(uint64(m.Role))
	}
	return n
}

// Size returns the size of the protobuf encoding
func (g *Group) Size() int {
	var n int
	if g.Version > 0 {
		n += tagSize + csproto.SizeOfVarint(g.Version)
	}
	if g.Token > 0 {
		n += tagSize + csproto.SizeOfVarint(g.Token)
	}
	for i := range g.Members {
		ms := g.Members[i].size()
		n += tagSize + csproto.SizeOfVarint(uint64(ms)) + ms
	}
	return n
}

// Marshal returns the protobuf encoding of the descriptor
func (g *Group) Marshal() []byte {
	b := make([]byte, g.Size())
	offset := 0
	if g.Version > 0 {
		offset += csproto.EncodeTag(b[offset:], FieldGroupVersion, csproto.WireTypeVarint)
		offset += csproto.EncodeVarint(b[offset:], g.Version)
	}
	if g.Token > 0 {
		offset += csproto.EncodeTag(b[offset:], FieldGroupToken, csproto.WireTypeVarint)
		offset += csproto.EncodeVarint(b[offset:], g.Token)
	}
	for i := range g.Members {
		m := &g.Members[i]
		offset += csproto.EncodeTag(b[offset:], FieldGroupMembers, csproto.WireTypeLengthDelimited)
		offset += csproto.EncodeVarint(b[offset:], uint64(m.size()))
		if m.ID > 0 {
			offset += csproto.EncodeTag(b[offset:], FieldMemberID, csproto.WireTypeVarint)
			offset += csproto.EncodeVarint(b[offset:], m.ID)
		}
		if m.Address != "" {
			offset += csproto.EncodeTag(b[offset:], FieldMemberAddress, csproto.WireTypeLengthDelimited)
			offset += csproto.EncodeVarint(b[offset:], uint64(len(m.Address)))
			offset += copy(b[offset:], m.Address)
		}
		if m.Role > 0 {
			offset += csproto.EncodeTag(b[offset:], FieldMemberRole, csproto.WireTypeVarint)
			offset += csproto.EncodeVarint(b[offset:], uint64(m.Role))
		}
	}
	return b[:offset]
}

// Unmarshal decodes the protobuf encoding into g, replacing its contents
func (g *Group) Unmarshal(data []byte) error {
	*g = Group{}
	d := csproto.NewDecoder(data)
	d.SetMode(csproto.DecoderModeFast)
	for d.More() {
		tag, wireType, err := d.DecodeTag()
		if err != nil {
			return err
		}
		switch tag {
		case FieldGroupVersion:
			if g.Version, err = getUInt64(d, tag, wireType); err != nil {
				return err
			}
		case FieldGroupToken:
			if g.Token, err = getUInt64(d, tag, wireType); err != nil {
				return err
			}
		case FieldGroupMembers:
			if err := expectWT(tag, wireType, csproto.WireTypeLengthDelimited); err != nil {
				return err
			}
			mb, err := d.DecodeBytes()
			if err != nil {
				return err
			}
			var m Member
			if err := m.unmarshal(mb); err != nil {
				return errors.Wrap(err, "member")
			}
			g.Members = append(g.Members, m)
		default:
			if _, err := d.Skip(tag, wireType); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Member) unmarshal(data []byte) error {
	d := csproto.NewDecoder(data)
	d.SetMode(csproto.DecoderModeFast)
	for d.More() {
		tag, wireType, err := d.DecodeTag()
		if err != nil {
			return err
		}
		switch tag {
		case FieldMemberID:
			if m.ID, err = getUInt64(d, tag, wireType); err != nil {
				return err
			}
		case FieldMemberAddress:
			if err := expectWT(tag, wireType, csproto.WireTypeLengthDelimited); err != nil {
				return err
			}
			if m.Address, err = d.DecodeString(); err != nil {
				return err
			}
		case FieldMemberRole:
			v, err := getUInt64(d, tag, wireType)
			if err != nil {
				return err
			}
			m.Role = Role(v)
		default:
			if _, err := d.Skip(tag, wireType); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteTo writes the descriptor as a varint length framed blob
func (g *Group) WriteTo(w io.Writer) (int64, error) {
	pb := g.Marshal()
	b := make([]byte, 0, varint.SizeUint(uint64(len(pb)))+len(pb))
	b = varint.AppendUint(b, uint64(len(pb)))
	b = append(b, pb...)
	n, err := w.Write(b)
	return int64(n), err
}

// ReadFrom reads a descriptor written by WriteTo
func ReadFrom(d *datain.Decoder) (*Group, error) {
	pb, err := d.ReadBytes()
	if err != nil {
		return nil, errors.Wrap(err, "read membership")
	}
	g := new(Group)
	if err := g.Unmarshal(pb); err != nil {
		return nil, errors.Wrap(err, "decode membership")
	}
	return g, nil
}

// ErrUnexpectedWireType is returned for fields with the wrong wire type
type ErrUnexpectedWireType struct {
	Tag         int
	WireType    csproto.WireType
	ExpWireType csproto.WireType
}

func (e ErrUnexpectedWireType) Error() string {
	return fmt.Sprintf("unexpected wiretype for tag %d: got %v, expected %v",
		e.Tag, e.WireType, e.ExpWireType)
}

func expectWT(tag int, got, exp csproto.WireType) error {
	if got != exp {
		return ErrUnexpectedWireType{
			Tag:         tag,
			WireType:    got,
			ExpWireType: exp,
		}
	}
	return nil
}

func getUInt64(d *csproto.Decoder, tag int, wireType csproto.WireType) (uint64, error) {
	if err := expectWT(tag, wireType, csproto.WireTypeVarint); err != nil {
		return 0, err
	}
	return d.DecodeUInt64()
}
