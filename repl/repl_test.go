package repl

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerDNS/replstream/datain"
	"github.com/PowerDNS/replstream/membership"
	"github.com/PowerDNS/replstream/options"
	"github.com/PowerDNS/replstream/termlog"
	"github.com/PowerDNS/replstream/utils/bufpool"
)

func testGroup() *membership.Group {
	return &membership.Group{
		Version: 3,
		Token:   42,
		Members: []membership.Member{
			{ID: 1, Address: "a:7000"},
			{ID: 2, Address: "b:7000", Role: membership.RoleRestoring},
		},
	}
}

func testTerms(t *testing.T) *termlog.Log {
	l := termlog.New()
	require.NoError(t, l.DefineTerm(0, 1, 0))
	require.NoError(t, l.DefineTerm(1, 2, 50))
	require.NoError(t, l.DefineTerm(2, 3, 100))
	l.Commit(200)
	return l
}

type result struct {
	snap    *Snapshot
	payload []byte
	err     error
}

// receive requests a snapshot in the background and reads all of its payload
func receive(conn net.Conn, opts options.Map) <-chan result {
	ch := make(chan result, 1)
	go func() {
		snap, err := Receiver{IOTimeout: 5 * time.Second}.RequestSnapshot(context.Background(), conn, opts)
		if err != nil {
			ch <- result{err: err}
			return
		}
		payload, err := io.ReadAll(snap)
		_ = snap.Close()
		ch <- result{snap: snap, payload: payload, err: err}
	}()
	return ch
}

func newSender(t *testing.T, conn net.Conn, terms termlog.Locator) (*Sender, error) {
	logger, _ := test.NewNullLogger()
	return NewSender(conn, testGroup(), terms, WithLogger(logger), WithIOTimeout(5*time.Second))
}

func TestSender_endToEnd(t *testing.T) {
	client, server := net.Pipe()
	reqOpts := options.Map{"group": "main", "instance": "b"}
	ch := receive(client, reqOpts)

	s, err := newSender(t, server, testTerms(t))
	require.NoError(t, err)
	assert.Equal(t, reqOpts, s.Options())
	assert.Equal(t, client.LocalAddr(), s.ReceiverAddress())
	assert.Equal(t, StateNotStarted, s.State())

	sink, err := s.Begin(5, 100, options.Map{"format": "raw"})
	require.NoError(t, err)
	assert.Equal(t, StateSending, s.State())

	_, err = sink.Write([]byte("hel"))
	require.NoError(t, err)
	_, err = sink.Write([]byte("lo"))
	require.NoError(t, err)
	require.NoError(t, sink.Flush())

	res := <-ch
	require.NoError(t, res.err)
	h := res.snap.Header
	assert.Equal(t, EncodingVersion, h.EncodingVersion)
	assert.Equal(t, uint64(5), h.Length)
	assert.Equal(t, uint64(3), h.Term)
	assert.Equal(t, uint64(2), h.PrevTerm)
	assert.Equal(t, uint64(100), h.Position)
	assert.Equal(t, options.Map{"format": "raw"}, h.Options)
	assert.Equal(t, testGroup(), res.snap.Group)
	assert.Equal(t, "hello", string(res.payload))
	assert.Equal(t, uint64(0), res.snap.Remaining())

	require.NoError(t, sink.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, uint64(h.Size())+groupFrameSize(t)+5, s.BytesSent())
}

func groupFrameSize(t *testing.T) uint64 {
	var buf bytes.Buffer
	n, err := testGroup().WriteTo(&buf)
	require.NoError(t, err)
	return uint64(n)
}

func TestSender_Begin_twice(t *testing.T) {
	client, server := net.Pipe()
	ch := receive(client, nil)

	s, err := newSender(t, server, testTerms(t))
	require.NoError(t, err)
	assert.Empty(t, s.Options())

	sink, err := s.Begin(3, 120, nil)
	require.NoError(t, err)

	sink2, err := s.Begin(3, 60, options.Map{"x": "y"})
	assert.ErrorIs(t, err, ErrAlreadyBegan)
	assert.Nil(t, sink2)
	assert.Equal(t, StateSending, s.State())

	_, err = sink.Write([]byte("abc"))
	require.NoError(t, err)

	res := <-ch
	require.NoError(t, res.err)
	assert.Equal(t, uint64(120), res.snap.Header.Position)
	assert.Equal(t, uint64(3), res.snap.Header.Term)
	assert.Equal(t, uint64(3), res.snap.Header.PrevTerm)
	assert.Empty(t, res.snap.Header.Options)
	assert.Equal(t, "abc", string(res.payload))
	require.NoError(t, s.Close())
}

func TestSender_Begin_concurrent(t *testing.T) {
	client, server := net.Pipe()
	ch := receive(client, nil)

	s, err := newSender(t, server, testTerms(t))
	require.NoError(t, err)

	const n = 16
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		sinks = make([]Sink, n)
		errs  = make([]error, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			sinks[i], errs[i] = s.Begin(3, 120, nil)
		}()
	}
	close(start)
	wg.Wait()

	var sink Sink
	for i := range n {
		if errs[i] == nil {
			require.Nil(t, sink, "more than one Begin succeeded")
			require.NotNil(t, sinks[i])
			sink = sinks[i]
			continue
		}
		assert.ErrorIs(t, errs[i], ErrAlreadyBegan)
		assert.Nil(t, sinks[i])
	}
	require.NotNil(t, sink)
	assert.Equal(t, StateSending, s.State())

	_, err = sink.Write([]byte("abc"))
	require.NoError(t, err)
	res := <-ch
	require.NoError(t, res.err)
	assert.Equal(t, "abc", string(res.payload))
	require.NoError(t, s.Close())
}

func TestSender_Begin_unknownPosition(t *testing.T) {
	client, server := net.Pipe()
	ch := receive(client, nil)

	s, err := newSender(t, server, testTerms(t))
	require.NoError(t, err)

	sink, err := s.Begin(1000, 5000, nil)
	assert.ErrorIs(t, err, termlog.ErrUnknownPosition)
	assert.Nil(t, sink)
	assert.Equal(t, StateClosed, s.State())

	// The connection was closed without a header
	res := <-ch
	assert.ErrorIs(t, res.err, datain.ErrTruncated)

	_, err = s.Begin(1000, 100, nil)
	assert.ErrorIs(t, err, ErrAlreadyBegan)
}

func TestNewSender_disconnected(t *testing.T) {
	client, server := net.Pipe()
	go func() {
		_, _ = client.Write([]byte{0, 0})
		_ = client.Close()
	}()
	s, err := newSender(t, server, testTerms(t))
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrDisconnected)

	// Disconnect in the options map
	client, server = net.Pipe()
	go func() {
		_, _ = client.Write([]byte{0, 0, 0, 0, 2, 1, 'a'})
		_ = client.Close()
	}()
	_, err = newSender(t, server, testTerms(t))
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestNewSender_unsupportedEncoding(t *testing.T) {
	client, server := net.Pipe()
	go func() {
		b := binary.LittleEndian.AppendUint32(nil, 1)
		_, _ = client.Write(options.AppendEncode(b, nil))
	}()
	s, err := newSender(t, server, testTerms(t))
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
	var uee UnsupportedEncodingError
	require.ErrorAs(t, err, &uee)
	assert.Equal(t, uint32(1), uee.Version)

	// Connection was closed
	_, err = client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewSender_timeout(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = client.Close() }()
	logger, _ := test.NewNullLogger()
	_, err := NewSender(server, testGroup(), testTerms(t),
		WithLogger(logger), WithIOTimeout(20*time.Millisecond))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.NotErrorIs(t, err, ErrDisconnected)
}

func TestSender_Close_abortsWrite(t *testing.T) {
	client, server := net.Pipe()
	hdr := make(chan *Header, 1)
	go func() {
		snap, err := Receiver{}.RequestSnapshot(context.Background(), client, nil)
		if err != nil {
			hdr <- nil
			return
		}
		hdr <- snap.Header
		// Stop reading the payload
	}()

	s, err := newSender(t, server, testTerms(t))
	require.NoError(t, err)
	sink, err := s.Begin(1<<20, 150, nil)
	require.NoError(t, err)
	require.NotNil(t, <-hdr)

	writeErr := make(chan error, 1)
	go func() {
		_, err := sink.Write(make([]byte, 1<<20))
		writeErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, <-writeErr, ErrClosed)
	assert.NoError(t, s.Close())
	assert.ErrorIs(t, sink.Flush(), ErrClosed)
	_, err = sink.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReceiver_truncatedPayload(t *testing.T) {
	client, server := net.Pipe()
	ch := receive(client, nil)

	s, err := newSender(t, server, testTerms(t))
	require.NoError(t, err)
	sink, err := s.Begin(10, 100, nil)
	require.NoError(t, err)
	_, err = sink.Write([]byte("1234"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	res := <-ch
	assert.ErrorIs(t, res.err, datain.ErrTruncated)
	assert.Equal(t, "1234", string(res.payload))
}

func TestSnapshot_Forward(t *testing.T) {
	client, server := net.Pipe()
	payload := bytes.Repeat([]byte("0123456789"), 10)

	go func() {
		s, err := newSender(t, server, testTerms(t))
		if err != nil {
			return
		}
		defer func() {
			_ = s.Close()
		}()
		sink, err := s.Begin(uint64(len(payload)), 150, nil)
		if err != nil {
			return
		}
		_, _ = sink.Write(payload)
	}()

	pool := bufpool.New("test-forward", 4)
	r := Receiver{IOTimeout: 5 * time.Second, BufferSize: 32, Pool: pool}
	snap, err := r.RequestSnapshot(context.Background(), client, nil)
	require.NoError(t, err)
	defer func() {
		_ = snap.Close()
	}()

	var (
		got     []byte
		offsets []uint64
	)
	err = snap.Forward(datain.VisitorFunc(func(recordID, txnID, pos uint64, h *bufpool.Handle, buf []byte) error {
		assert.Equal(t, uint64(150), recordID)
		assert.Equal(t, uint64(3), txnID)
		assert.LessOrEqual(t, len(buf), 32)
		offsets = append(offsets, pos)
		got = append(got, buf...)
		h.Release()
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, uint64(0), offsets[0])
	assert.Greater(t, len(offsets), 3)
	assert.Equal(t, uint64(0), snap.Remaining())
	assert.Greater(t, pool.Idle(), 0)
}

func TestReceiver_contextCancel(t *testing.T) {
	client, server := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	terms := testTerms(t)

	go func() {
		// Reads the handshake, but never begins
		_, _ = newSender(t, server, terms)
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Receiver{}.RequestSnapshot(ctx, client, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHeader(t *testing.T) {
	h := Header{
		Length:   1 << 40,
		PrevTerm: 7,
		Term:     8,
		Position: 123456789,
		Options:  options.Map{"a": "b"},
	}
	b := h.AppendTo(nil)
	assert.Len(t, b, h.Size())
	assert.Equal(t, []byte{0, 0, 0, 0}, b[:4])
	assert.Equal(t, uint64(1<<40), binary.LittleEndian.Uint64(b[4:12]))

	d := datain.New(0, bytes.NewReader(b), datain.Options{})
	loaded, err := ReadHeader(d)
	require.NoError(t, err)
	assert.Equal(t, &h, loaded)

	binary.LittleEndian.PutUint32(b, 2)
	_, err = ReadHeader(datain.New(0, bytes.NewReader(b), datain.Options{}))
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)

	_, err = ReadHeader(datain.New(0, bytes.NewReader(b[:20]), datain.Options{}))
	assert.Error(t, err)
}
