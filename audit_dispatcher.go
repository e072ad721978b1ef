package eduauth

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher decouples event producers from the configured sink with
// a buffered queue and a single delivery goroutine. Producers never wait
// on the sink in DropIfFull mode; without it they block until the queue
// accepts the event or their context is cancelled.
type auditDispatcher struct {
	cfg     AuditConfig
	sink    AuditSink
	queue   chan AuditEvent
	stop    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	closed  atomic.Bool
	once    sync.Once
}

// newAuditDispatcher returns nil when audit is disabled; callers treat a
// nil dispatcher as a no-op.
func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan AuditEvent, cfg.BufferSize),
		stop:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.deliver()

	return d
}

func (d *auditDispatcher) deliver() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain flushes whatever is still queued at close time so no accepted
// event is lost.
func (d *auditDispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// Emit enqueues an event for asynchronous delivery. After Close, or when
// the queue is full in DropIfFull mode, the event is counted as dropped
// rather than delivered.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// Close stops accepting events, flushes the queue, and waits for the
// delivery goroutine to exit. Safe to call more than once.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the queue was
// full or the dispatcher was closed.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
