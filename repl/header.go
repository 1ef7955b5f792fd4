package repl

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/PowerDNS/replstream/datain"
	"github.com/PowerDNS/replstream/options"
)

// EncodingVersion is the only handshake and header encoding version
const EncodingVersion uint32 = 0

// fixedHeaderSize is the size of the header before the options
const fixedHeaderSize = 4 + 4*8

// Header precedes the membership descriptor and the payload of a snapshot
type Header struct {
	EncodingVersion uint32
	// Length is the number of payload bytes following the membership descriptor
	Length   uint64
	PrevTerm uint64
	Term     uint64
	Position uint64
	Options  options.Map
}

// AppendTo appends the encoded header to b
func (h *Header) AppendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, h.EncodingVersion)
	b = binary.LittleEndian.AppendUint64(b, h.Length)
	b = binary.LittleEndian.AppendUint64(b, h.PrevTerm)
	b = binary.LittleEndian.AppendUint64(b, h.Term)
	b = binary.LittleEndian.AppendUint64(b, h.Position)
	return options.AppendEncode(b, h.Options)
}

// Size returns the encoded size of the header
func (h *Header) Size() int {
	return fixedHeaderSize + h.Options.Size()
}

// ReadHeader reads a header written by AppendTo
func ReadHeader(d *datain.Decoder) (*Header, error) {
	var (
		h   Header
		err error
	)
	if h.EncodingVersion, err = d.ReadUint32LE(); err != nil {
		return nil, errors.Wrap(err, "header: encoding version")
	}
	if h.EncodingVersion != EncodingVersion {
		return nil, UnsupportedEncodingError{Version: h.EncodingVersion}
	}
	fields := []*uint64{&h.Length, &h.PrevTerm, &h.Term, &h.Position}
	for _, f := range fields {
		if *f, err = d.ReadUint64LE(); err != nil {
			return nil, errors.Wrap(err, "header")
		}
	}
	if h.Options, err = options.ReadFrom(d); err != nil {
		return nil, errors.Wrap(err, "header: options")
	}
	return &h, nil
}

// appendHandshake appends the handshake a receiver sends on connect
func appendHandshake(b []byte, opts options.Map) []byte {
	b = binary.LittleEndian.AppendUint32(b, EncodingVersion)
	return options.AppendEncode(b, opts)
}
