package ingest

import (
	"context"
	"errors"
	"sync"
)

// ErrWriterClosed is returned for mutations submitted after Close
var ErrWriterClosed = errors.New("ledger writer closed")

const defaultQueueSize = 64

// Writer funnels ledger mutations through one goroutine so that at most
// one write transaction is open at a time. Submitters block while the
// queue is full.
type Writer struct {
	queue  chan writeOp
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type writeOp struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
}

// NewWriter starts a writer with a queue of the given size (0 = 64)
func NewWriter(queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	w := &Writer{
		queue: make(chan writeOp, queueSize),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for op := range w.queue {
		if err := op.ctx.Err(); err != nil {
			op.result <- err
			continue
		}
		op.result <- op.fn(op.ctx)
	}
}

// Do queues fn and waits for its result. Once queued, fn runs even if ctx
// is canceled meanwhile, with ctx passed through so the transaction sees
// the cancellation.
func (w *Writer) Do(ctx context.Context, fn func(context.Context) error) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWriterClosed
	}

	op := writeOp{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case w.queue <- op:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}

	return <-op.result
}

// Close stops accepting mutations, drains the queue and waits for the
// writer goroutine to exit
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}
