package replay

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/PowerDNS/replstream/utils/bufpool"
)

// ApplyFunc applies a chunk. The data must not be retained after return.
type ApplyFunc func(recordID, txnID, pos uint64, data []byte) error

type queuedChunk struct {
	recordID, txnID, pos uint64
	h                    *bufpool.Handle
	buf                  []byte
}

// AsyncApplier passes chunks to a worker goroutine, which releases the
// buffer handle after applying. The decoder can continue reading while
// chunks are applied.
type AsyncApplier struct {
	ctx   context.Context
	queue chan queuedChunk
	eg    *errgroup.Group
	apply ApplyFunc
	l     logrus.FieldLogger
}

// NewAsyncApplier starts the worker. Close must be called to stop it.
func NewAsyncApplier(ctx context.Context, l logrus.FieldLogger, queueSize int, apply ApplyFunc) *AsyncApplier {
	eg, ctx := errgroup.WithContext(ctx)
	a := &AsyncApplier{
		ctx:   ctx,
		queue: make(chan queuedChunk, queueSize),
		eg:    eg,
		apply: apply,
		l:     l.WithField("component", "applier"),
	}
	eg.Go(a.run)
	return a
}

func (a *AsyncApplier) run() error {
	for c := range a.queue {
		err := a.apply(c.recordID, c.txnID, c.pos, c.buf)
		c.h.Release()
		if err != nil {
			a.l.WithError(err).WithField("record", c.recordID).Error("Apply failed")
			return err
		}
	}
	return nil
}

// OnValueChunk implements datain.Visitor. It blocks while the queue is full.
// After a failed apply it returns the context error. It must not be called
// after Close.
func (a *AsyncApplier) OnValueChunk(recordID, txnID, pos uint64, h *bufpool.Handle, buf []byte) error {
	c := queuedChunk{recordID: recordID, txnID: txnID, pos: pos, h: h, buf: buf}
	select {
	case a.queue <- c:
		return nil
	case <-a.ctx.Done():
		h.Release()
		return context.Cause(a.ctx)
	}
}

// Close waits for all queued chunks to be applied and returns the first
// apply error.
func (a *AsyncApplier) Close() error {
	close(a.queue)
	err := a.eg.Wait()
	// Chunks left after a failure
	for c := range a.queue {
		c.h.Release()
	}
	return err
}
