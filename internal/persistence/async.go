package persistence

import (
	"context"
	"log/slog"
)

// DefaultQueueSize bounds the async writer's backlog. Chosen to absorb a
// burst of device/connection churn (e.g. a ping sweep completing) without
// growing unbounded.
const DefaultQueueSize = 1024

type jobKind int

const (
	jobSaveDevice jobKind = iota
	jobDeleteDevice
	jobSaveConnection
)

type job struct {
	kind jobKind
	dev  DeviceRecord
	conn ConnectionRecord
}

// AsyncSink wraps an underlying Sink with a bounded channel and a single
// writer goroutine. Save/Delete never block the caller: when the queue is
// full, the oldest queued job is dropped and logged (spec §9 "Fire-and-
// forget persistence... on overflow, drop oldest and log").
type AsyncSink struct {
	underlying Sink
	log        *slog.Logger
	queue      chan job
	done       chan struct{}
}

// NewAsyncSink starts the writer goroutine and returns the wrapper. Call
// Close to drain and stop it.
func NewAsyncSink(underlying Sink, queueSize int, log *slog.Logger) *AsyncSink {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	a := &AsyncSink{
		underlying: underlying,
		log:        log,
		queue:      make(chan job, queueSize),
		done:       make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for j := range a.queue {
		switch j.kind {
		case jobSaveDevice:
			a.underlying.SaveDevice(context.Background(), j.dev)
		case jobDeleteDevice:
			a.underlying.DeleteDevice(context.Background(), j.dev)
		case jobSaveConnection:
			a.underlying.SaveConnection(context.Background(), j.conn)
		}
	}
}

// enqueue drops the oldest pending job and logs when the queue is full,
// then enqueues j. It never blocks.
func (a *AsyncSink) enqueue(j job) {
	select {
	case a.queue <- j:
		return
	default:
	}
	select {
	case dropped := <-a.queue:
		a.log.Warn("persistence queue full, dropping oldest job", "dropped_kind", dropped.kind)
	default:
	}
	select {
	case a.queue <- j:
	default:
		a.log.Warn("persistence queue still full after drop, discarding job", "kind", j.kind)
	}
}

func (a *AsyncSink) SaveDevice(_ context.Context, d DeviceRecord) {
	a.enqueue(job{kind: jobSaveDevice, dev: d})
}

func (a *AsyncSink) DeleteDevice(_ context.Context, d DeviceRecord) {
	a.enqueue(job{kind: jobDeleteDevice, dev: d})
}

func (a *AsyncSink) SaveConnection(_ context.Context, c ConnectionRecord) {
	a.enqueue(job{kind: jobSaveConnection, conn: c})
}

// LoadDevices is a startup-only synchronous call; it bypasses the queue
// and delegates directly to the underlying sink.
func (a *AsyncSink) LoadDevices(ctx context.Context) ([]DeviceRecord, error) {
	return a.underlying.LoadDevices(ctx)
}

// Close stops accepting new jobs and waits for the writer goroutine to
// drain the queue.
func (a *AsyncSink) Close() {
	close(a.queue)
	<-a.done
}
