package mqttconn

import (
	"sync"
	"sync/atomic"
)

// defaultDispatchQueueSize bounds the per-client task queue.
const defaultDispatchQueueSize = 1024

// dispatcher is the bounded single-consumer task queue shared by all
// connections of a client. Every handler invocation runs on its one
// goroutine, strictly serialized. The dispatcher is reference-counted: the
// client holds one reference and each connection holds one until Close, so
// the dispatch context outlives the last connection even if the client
// handle is closed first.
type dispatcher struct {
	tasks  chan func()
	stop   chan struct{}
	done   chan struct{}
	refs   atomic.Int32
	once   sync.Once
	logger Logger

	dropped atomic.Uint64
}

func newDispatcher(queueSize int, logger Logger) *dispatcher {
	if queueSize <= 0 {
		queueSize = defaultDispatchQueueSize
	}
	d := &dispatcher{
		tasks:  make(chan func(), queueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	d.refs.Store(1)

	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)

	for {
		select {
		case <-d.stop:
			// Drain tasks enqueued before the last release so pending
			// completions are still delivered.
			for {
				select {
				case task := <-d.tasks:
					task()
				default:
					return
				}
			}
		case task := <-d.tasks:
			task()
		}
	}
}

// enqueue submits a task for serialized execution. It never blocks: when
// the queue is full or the dispatcher has shut down, the task is dropped
// and false is returned.
func (d *dispatcher) enqueue(task func()) bool {
	select {
	case <-d.stop:
		return false
	default:
	}

	select {
	case d.tasks <- task:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Error("dispatch queue overflow, event dropped", LogFields{
			"dropped_total": d.dropped.Load(),
		})
		return false
	}
}

// retain adds a reference for a new connection.
func (d *dispatcher) retain() {
	d.refs.Add(1)
}

// release drops a reference; the last release stops the goroutine after
// draining the queue.
func (d *dispatcher) release() {
	if d.refs.Add(-1) == 0 {
		d.once.Do(func() {
			close(d.stop)
		})
	}
}

// wait blocks until the dispatch goroutine has exited.
func (d *dispatcher) wait() {
	<-d.done
}
