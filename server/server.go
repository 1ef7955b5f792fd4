// Package server serves the newest stored snapshot of a group to members
// that connect to restore from it.
package server

import (
	"context"
	"net"
	"time"

	"github.com/PowerDNS/simpleblob"
	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/PowerDNS/replstream/config"
	"github.com/PowerDNS/replstream/membership"
	"github.com/PowerDNS/replstream/options"
	"github.com/PowerDNS/replstream/repl"
	"github.com/PowerDNS/replstream/termlog"
	"github.com/PowerDNS/replstream/utils"
	"github.com/PowerDNS/replstream/utils/climit"
	"github.com/PowerDNS/replstream/utils/topics"
)

// Handshake and header option names
const (
	OptionGroup    = "group"
	OptionName     = "name"
	OptionInstance = "instance"
)

// ErrGroupMismatch is returned when a receiver asks for a different group
var ErrGroupMismatch = errors.New("receiver requested another group")

func New(conf config.Config, st simpleblob.Interface, group *membership.Group, terms termlog.Locator, logger logrus.FieldLogger) (*Server, error) {
	l := logger.WithField("component", "server")
	c, err := newCache(st, conf.Group.Name, conf.Transfer.SnapshotCacheSize, l)
	if err != nil {
		return nil, err
	}
	chunkSize := int(conf.Transfer.WindowSize.Bytes())
	if chunkSize <= 0 {
		chunkSize = int(config.DefaultWindowSize.Bytes())
	}
	return &Server{
		conf:      conf,
		group:     group,
		terms:     terms,
		l:         l,
		cache:     c,
		limit:     climit.New(conf.Group.Name, "sends", conf.Transfer.MaxConcurrentSends, l),
		events:    topics.New[Event](),
		chunkSize: chunkSize,
	}, nil
}

// Server accepts connections from receivers and sends them a snapshot
type Server struct {
	conf      config.Config
	group     *membership.Group
	terms     termlog.Locator
	l         logrus.FieldLogger
	cache     *cache
	limit     *climit.ConcurrencyLimit
	events    *topics.Topic[Event]
	chunkSize int
}

// Events returns the topic that receives an Event for every handled request
func (s *Server) Events() *topics.Topic[Event] {
	return s.events
}

// ListenAndServe listens on the configured address and calls Serve
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.conf.Listen)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections until the context is canceled, and then waits
// for running sends to stop. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.l.WithField("address", ln.Addr().String()).Info("Snapshot server listening")
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	eg.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if utils.IsCanceled(ctx) {
					return ctx.Err()
				}
				return errors.Wrap(err, "accept")
			}
			metricConnections.Inc()
			eg.Go(func() error {
				s.Handle(ctx, conn)
				return nil
			})
		}
	})
	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		s.l.Info("Snapshot server stopped")
	}
	return err
}

// Handle serves a single connection and closes it. Failures are logged and
// published as an Event, never returned.
func (s *Server) Handle(ctx context.Context, conn net.Conn) {
	t0 := time.Now()
	ev := Event{
		Time:   t0,
		Remote: conn.RemoteAddr().String(),
	}
	l := s.l.WithField("remote", ev.Remote)
	err := s.handle(ctx, conn, &ev)
	ev.Duration = time.Since(t0)
	ev.Err = err

	result := "ok"
	switch {
	case err == nil:
		metricSendSeconds.Observe(ev.Duration.Seconds())
		l.WithFields(logrus.Fields{
			"snapshot":  ev.Snapshot,
			"position":  ev.Position,
			"size":      datasize.ByteSize(ev.Bytes).HumanReadable(),
			"time_send": ev.Duration.Round(time.Millisecond),
			"rate":      utils.TransferRate(ev.Bytes, ev.Duration),
		}).Info("Sent snapshot")
	case errors.Is(err, repl.ErrDisconnected):
		result = "disconnected"
		l.WithError(err).Debug("Receiver went away during handshake")
	case errors.Is(err, ErrGroupMismatch):
		result = "rejected"
		l.WithError(err).Warn("Rejected snapshot request")
	case utils.IsCanceled(ctx):
		result = "canceled"
		l.WithError(err).Info("Snapshot send canceled")
	default:
		result = "error"
		l.WithError(err).Warn("Snapshot send failed")
	}
	metricSends.WithLabelValues(result).Inc()
	if missed := s.events.TryPublish(ev); missed > 0 {
		metricEventsMissed.Add(float64(missed))
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn, ev *Event) error {
	// Closing the connection on shutdown unblocks the handshake reads as
	// well as pending payload writes.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	sender, err := repl.NewSender(conn, s.group, s.terms,
		repl.WithLogger(s.l),
		repl.WithIOTimeout(s.conf.Transfer.IOTimeout))
	if err != nil {
		return err // connection already closed
	}
	defer func() {
		_ = sender.Close()
	}()

	opts := sender.Options()
	if g, ok := opts[OptionGroup]; ok && g != s.conf.Group.Name {
		return errors.Wrapf(ErrGroupMismatch, "%q", g)
	}

	if s.limit.Available() == 0 {
		s.l.WithField("remote", ev.Remote).Info("All send slots in use, waiting")
	}
	token, err := s.limit.AcquireContext(ctx)
	if err != nil {
		return err
	}
	defer token.Release()
	metricActiveSends.Inc()
	defer metricActiveSends.Dec()

	ni, payload, err := s.cache.Latest(ctx)
	if err != nil {
		return err
	}
	ev.Snapshot = ni.FullName
	ev.Position = ni.Position

	sink, err := sender.Begin(uint64(len(payload)), ni.Position, options.Map{
		OptionGroup:    ni.GroupName,
		OptionName:     ni.FullName,
		OptionInstance: ni.InstanceID,
	})
	if err != nil {
		return err
	}
	for p := payload; len(p) > 0; {
		n := min(len(p), s.chunkSize)
		if _, err := sink.Write(p[:n]); err != nil {
			return errors.Wrap(err, "send payload")
		}
		p = p[n:]
		ev.Bytes += uint64(n)
	}
	if err := sink.Flush(); err != nil {
		return err
	}
	return sink.Close()
}
