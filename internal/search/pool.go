package search

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"linefind/internal/logging"
)

// Result is the outcome of one membership query. Elapsed covers only the
// Contains call or corpus scan on the worker, measured with the monotonic
// clock; queueing and socket I/O are excluded.
type Result struct {
	Matched bool
	Elapsed time.Duration
	Err     error
}

// ErrPoolClosed is returned for work submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// PanicError reports a recovered worker panic. The connection that
// submitted the work receives a search failure; the pool is preserved.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("worker panic: %v", e.Value) }

// Pool runs CPU-bound membership checks on a fixed number of workers,
// isolating them from the connection goroutines. The queue is unbounded:
// the server never drops requests. Overload is observable instead, via
// QueueDepth in every query record and a throttled warning once the depth
// passes the soft limit.
type Pool struct {
	logger      *slog.Logger
	parallelism int
	softLimit   int64
	warnEvery   rate.Sometimes

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*job
	closed bool

	workers   sync.WaitGroup
	depth     atomic.Int64
	submitted atomic.Uint64
	completed atomic.Uint64
	panics    atomic.Uint64
}

type job struct {
	fn  func() Result
	out chan Result
}

// NewPool starts parallelism workers. Zero or negative parallelism means
// one worker per hardware core.
func NewPool(parallelism int, logger *slog.Logger) *Pool {
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	p := &Pool{
		logger:      logging.Default(logger).With("component", "pool"),
		parallelism: parallelism,
		softLimit:   int64(4 * parallelism),
		warnEvery:   rate.Sometimes{Interval: 10 * time.Second},
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < parallelism; i++ {
		p.workers.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues fn and returns a channel that will receive exactly one
// Result. Submit never blocks and never drops work.
func (p *Pool) Submit(fn func() Result) <-chan Result {
	out := make(chan Result, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		out <- Result{Err: ErrPoolClosed}
		return out
	}
	p.queue = append(p.queue, &job{fn: fn, out: out})
	depth := int64(len(p.queue))
	p.depth.Store(depth)
	p.mu.Unlock()

	p.submitted.Add(1)
	p.cond.Signal()

	if depth > p.softLimit {
		p.warnEvery.Do(func() {
			p.logger.Warn("queue depth above soft limit",
				"queue_depth", depth, "soft_limit", p.softLimit)
		})
	}
	return out
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		j := p.queue[0]
		p.queue = p.queue[1:]
		p.depth.Store(int64(len(p.queue)))
		p.mu.Unlock()

		j.out <- p.run(j.fn)
		p.completed.Add(1)
	}
}

// run executes fn, converting a panic into a PanicError result so one
// poisoned query cannot take the worker down.
func (p *Pool) run(fn func() Result) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("recovered worker panic", "panic", r)
			res = Result{Err: &PanicError{Value: r}}
		}
	}()
	return fn()
}

// Close stops accepting work, drains the queue, and joins the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cond.Broadcast()
	p.workers.Wait()
}

// QueueDepth is the number of tasks waiting for a worker.
func (p *Pool) QueueDepth() int64 { return p.depth.Load() }

// Stats is a point-in-time snapshot for the periodic stats sweep.
type Stats struct {
	Parallelism int
	QueueDepth  int64
	Submitted   uint64
	Completed   uint64
	Panics      uint64
}

func (p *Pool) Stats() Stats {
	return Stats{
		Parallelism: p.parallelism,
		QueueDepth:  p.depth.Load(),
		Submitted:   p.submitted.Load(),
		Completed:   p.completed.Load(),
		Panics:      p.panics.Load(),
	}
}
