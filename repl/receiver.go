package repl

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/replstream/datain"
	"github.com/PowerDNS/replstream/membership"
	"github.com/PowerDNS/replstream/options"
	"github.com/PowerDNS/replstream/utils/bufpool"
)

// maxForward limits the amount passed to a single ForwardValueChunks call
const maxForward = 1 << 30

// Receiver requests snapshots from a sender
type Receiver struct {
	// IOTimeout applies to the handshake and header
	IOTimeout time.Duration
	// BufferSize is the decoder window size, see datain.Options
	BufferSize int
	// Pool supplies the chunk buffers for Snapshot.Forward, optional
	Pool   *bufpool.Pool
	Logger logrus.FieldLogger
}

// Snapshot is an incoming snapshot. Read returns the payload, and fails with
// datain.ErrTruncated if the sender disconnects early.
type Snapshot struct {
	Header *Header
	Group  *membership.Group

	conn      net.Conn
	d         *datain.Decoder
	remaining uint64
	stop      func() bool
}

// RequestSnapshot sends the handshake over conn and reads the header and
// membership descriptor. Cancelling ctx closes the connection. The caller
// must Close the returned Snapshot. On error the connection is closed.
func (r Receiver) RequestSnapshot(ctx context.Context, conn net.Conn, opts options.Map) (*Snapshot, error) {
	l := r.Logger
	if l == nil {
		l = logrus.StandardLogger()
	}
	l = l.WithField("sender", conn.RemoteAddr().String())

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	fail := func(err error) (*Snapshot, error) {
		stop()
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	if r.IOTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(r.IOTimeout)); err != nil {
			return fail(errors.Wrap(err, "set deadline"))
		}
	}
	if _, err := conn.Write(appendHandshake(nil, opts)); err != nil {
		return fail(errors.Wrap(err, "write handshake"))
	}

	d := datain.New(0, conn, datain.Options{BufferSize: r.BufferSize, Pool: r.Pool})
	h, err := ReadHeader(d)
	if err != nil {
		return fail(err)
	}
	g, err := membership.ReadFrom(d)
	if err != nil {
		return fail(err)
	}
	if r.IOTimeout > 0 {
		if err := conn.SetDeadline(time.Time{}); err != nil {
			return fail(errors.Wrap(err, "clear deadline"))
		}
	}
	l.WithFields(logrus.Fields{
		"length":   h.Length,
		"position": h.Position,
		"term":     h.Term,
		"members":  len(g.Members),
	}).Info("Snapshot receive started")

	return &Snapshot{
		Header:    h,
		Group:     g,
		conn:      conn,
		d:         d,
		remaining: h.Length,
		stop:      stop,
	}, nil
}

// Remaining returns the number of payload bytes not read yet
func (s *Snapshot) Remaining() uint64 {
	return s.remaining
}

func (s *Snapshot) Read(p []byte) (int, error) {
	if s.remaining == 0 {
		return 0, io.EOF
	}
	if uint64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.d.Read(p)
	s.remaining -= uint64(n)
	metricBytesReceived.Add(float64(n))
	if err == io.EOF {
		if s.remaining > 0 {
			return n, datain.ErrTruncated
		}
		if n > 0 {
			err = nil
		}
	}
	return n, err
}

// Forward passes the remaining payload to v in chunks, without copying it
// into a single buffer first. Chunks carry the snapshot position as record
// ID, the term as txn ID and their offset in the payload as position.
// The Snapshot cannot be read after Forward failed.
func (s *Snapshot) Forward(v datain.Visitor) error {
	for s.remaining > 0 {
		n := int(min(s.remaining, maxForward))
		offset := s.Header.Length - s.remaining
		err := s.d.ForwardValueChunks(v, s.Header.Position, s.Header.Term, offset, n)
		if err != nil {
			return err
		}
		s.remaining -= uint64(n)
		metricBytesReceived.Add(float64(n))
	}
	return nil
}

// Close closes the connection
func (s *Snapshot) Close() error {
	s.stop()
	return s.d.Close()
}
