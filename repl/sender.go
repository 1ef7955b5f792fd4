// Package repl implements the snapshot transfer protocol between a member
// that serves a snapshot and a receiver that restores from it.
//
// On connect the receiver sends a handshake: a little endian uint32 encoding
// version followed by an options map. The sender answers with a Header, the
// length framed membership descriptor of the group, and Header.Length bytes
// of raw snapshot payload.
package repl

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/PowerDNS/replstream/datain"
	"github.com/PowerDNS/replstream/options"
	"github.com/PowerDNS/replstream/termlog"
)

// handshakeBufferSize is the decoder window used for the handshake. The
// receiver sends nothing after the handshake until it gets a response, so
// the decoder cannot read past it.
const handshakeBufferSize = 512

// GroupWriter writes a length framed membership descriptor.
// *membership.Group implements it.
type GroupWriter interface {
	WriteTo(w io.Writer) (int64, error)
}

// State of a Sender
type State int

const (
	StateNotStarted State = iota
	StateSending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateSending:
		return "sending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink receives the raw snapshot payload. Writes go straight to the
// connection.
type Sink interface {
	io.Writer
	Flush() error
	io.Closer
}

// SenderOption configures a Sender
type SenderOption func(s *Sender)

// WithLogger sets the logger, which defaults to the logrus standard logger
func WithLogger(l logrus.FieldLogger) SenderOption {
	return func(s *Sender) {
		s.l = l
	}
}

// WithIOTimeout sets a deadline for the handshake and for every write
func WithIOTimeout(d time.Duration) SenderOption {
	return func(s *Sender) {
		s.ioTimeout = d
	}
}

// Sender serves a single snapshot over an accepted connection
type Sender struct {
	conn      net.Conn
	group     GroupWriter
	terms     termlog.Locator
	opts      options.Map
	ioTimeout time.Duration
	l         logrus.FieldLogger

	began     atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	sent      atomic.Uint64
}

// NewSender reads the handshake from conn. On failure the connection is
// closed.
func NewSender(conn net.Conn, group GroupWriter, terms termlog.Locator, opts ...SenderOption) (*Sender, error) {
	s := &Sender{
		conn:  conn,
		group: group,
		terms: terms,
		l:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.l = s.l.WithField("receiver", conn.RemoteAddr().String())

	if err := s.handshake(); err != nil {
		_ = s.Close()
		var uee UnsupportedEncodingError
		switch {
		case errors.As(err, &uee):
			metricHandshakes.WithLabelValues("unsupported").Inc()
		case errors.Is(err, ErrDisconnected):
			metricHandshakes.WithLabelValues("disconnected").Inc()
		default:
			metricHandshakes.WithLabelValues("error").Inc()
		}
		s.l.WithError(err).Debug("Handshake failed")
		return nil, err
	}
	metricHandshakes.WithLabelValues("ok").Inc()
	s.l.WithField("options", s.opts.String()).Debug("Handshake completed")
	return s, nil
}

func (s *Sender) handshake() error {
	if s.ioTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.ioTimeout)); err != nil {
			return errors.Wrap(err, "set read deadline")
		}
	}
	d := datain.New(0, s.conn, datain.Options{BufferSize: handshakeBufferSize})
	version, err := d.ReadUint32LE()
	if err != nil {
		return handshakeError(err)
	}
	if version != EncodingVersion {
		return UnsupportedEncodingError{Version: version}
	}
	s.opts, err = options.ReadFrom(d)
	if err != nil {
		return handshakeError(err)
	}
	if s.ioTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
			return errors.Wrap(err, "clear read deadline")
		}
	}
	return nil
}

func handshakeError(err error) error {
	if errors.Is(err, datain.ErrTruncated) || errors.Is(err, io.EOF) {
		return errors.Wrap(ErrDisconnected, err.Error())
	}
	return errors.Wrap(err, "handshake")
}

// ReceiverAddress returns the remote address of the receiver
func (s *Sender) ReceiverAddress() net.Addr {
	return s.conn.RemoteAddr()
}

// Options returns the options sent by the receiver
func (s *Sender) Options() options.Map {
	return s.opts
}

// State returns the current state
func (s *Sender) State() State {
	switch {
	case s.closed.Load():
		return StateClosed
	case s.began.Load():
		return StateSending
	default:
		return StateNotStarted
	}
}

// BytesSent returns the number of bytes written so far, including the header
func (s *Sender) BytesSent() uint64 {
	return s.sent.Load()
}

// Begin writes the header for a snapshot of length bytes at position and
// returns the Sink for the payload. It can only succeed once. On any other
// error the connection is closed.
func (s *Sender) Begin(length, position uint64, opts options.Map) (Sink, error) {
	if !s.began.CompareAndSwap(false, true) {
		return nil, ErrAlreadyBegan
	}
	if err := s.writeHeader(length, position, opts); err != nil {
		metricSendsFailed.Inc()
		_ = s.Close()
		s.l.WithError(err).WithField("position", position).Warn("Snapshot send failed")
		return nil, err
	}
	metricSendsBegun.Inc()
	return sink{s}, nil
}

func (s *Sender) writeHeader(length, position uint64, opts options.Map) error {
	if s.closed.Load() {
		return ErrClosed
	}
	tl, err := s.terms.TermLogAt(position)
	if err != nil {
		return err
	}
	h := Header{
		EncodingVersion: EncodingVersion,
		Length:          length,
		PrevTerm:        tl.PrevTermAt(position),
		Term:            tl.Term(),
		Position:        position,
		Options:         opts,
	}
	buf := bytes.NewBuffer(h.AppendTo(make([]byte, 0, h.Size())))
	if _, err := s.group.WriteTo(buf); err != nil {
		return errors.Wrap(err, "membership")
	}
	if _, err := s.write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "write header")
	}
	s.l.WithFields(logrus.Fields{
		"length":   length,
		"position": position,
		"term":     h.Term,
		"prevTerm": h.PrevTerm,
	}).Info("Snapshot send started")
	return nil
}

func (s *Sender) write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if s.ioTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.ioTimeout)); err != nil {
			return 0, s.ioError(err)
		}
	}
	n, err := s.conn.Write(p)
	s.sent.Add(uint64(n))
	metricBytesSent.Add(float64(n))
	if err != nil {
		return n, s.ioError(err)
	}
	return n, nil
}

func (s *Sender) ioError(err error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return err
}

// Close closes the connection. It can be called concurrently with a write in
// progress to abort the transfer.
func (s *Sender) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

type sink struct {
	s *Sender
}

func (k sink) Write(p []byte) (int, error) {
	return k.s.write(p)
}

// Flush has nothing to flush, writes are not buffered
func (k sink) Flush() error {
	if k.s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (k sink) Close() error {
	return k.s.Close()
}
