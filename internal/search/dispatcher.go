package search

import (
	"context"
	"errors"
	"time"

	"linefind/internal/corpus"
	"linefind/internal/index"
)

// Mode is the operating mode fixed at startup. Exactly one of a prebuilt
// index or a reread scanner exists for the lifetime of the process.
type Mode string

const (
	ModePreloaded Mode = "preloaded"
	ModeReread    Mode = "reread"
)

// Dispatcher bridges connection goroutines and the worker pool. It holds
// either the shared immutable index (preloaded mode) or the resolved scan
// function plus corpus path (reread mode).
type Dispatcher struct {
	pool       *Pool
	mode       Mode
	index      index.Index
	scan       ScanFunc
	corpusPath string
	algorithm  string
}

// NewPreloaded builds a dispatcher that answers from idx.
func NewPreloaded(pool *Pool, idx index.Index) *Dispatcher {
	return &Dispatcher{
		pool:      pool,
		mode:      ModePreloaded,
		index:     idx,
		algorithm: idx.Algorithm(),
	}
}

// NewReread builds a dispatcher that re-reads the corpus at path on every
// query using the named algorithm's scan function.
func NewReread(pool *Pool, scan ScanFunc, path, algorithm string) *Dispatcher {
	return &Dispatcher{
		pool:       pool,
		mode:       ModeReread,
		scan:       scan,
		corpusPath: path,
		algorithm:  algorithm,
	}
}

func (d *Dispatcher) Mode() Mode        { return d.mode }
func (d *Dispatcher) Algorithm() string { return d.algorithm }
func (d *Dispatcher) Pool() *Pool       { return d.pool }

// Index returns the prebuilt index, or nil in reread mode. The supervisor
// uses it to release OS resources on shutdown.
func (d *Dispatcher) Index() index.Index { return d.index }

// Search submits the query to the pool and blocks for the result. The
// returned depth is the queue depth observed at submit time, for the query
// record. A client disconnecting does not cancel in-flight work: the scan
// runs under a context detached from the connection's.
func (d *Dispatcher) Search(ctx context.Context, query []byte) (Result, int64) {
	depth := d.pool.QueueDepth()
	scanCtx := context.WithoutCancel(ctx)

	out := d.pool.Submit(func() Result {
		start := time.Now()
		if d.mode == ModePreloaded {
			matched := d.index.Contains(query)
			return Result{Matched: matched, Elapsed: time.Since(start)}
		}
		matched, err := d.scan(scanCtx, d.corpusPath, query)
		return Result{Matched: matched, Elapsed: time.Since(start), Err: err}
	})
	return <-out, depth
}

// ErrKind classifies a search failure for the query record's err_kind
// field. Empty for success.
func ErrKind(err error) string {
	var panicErr *PanicError
	var corpusErr *corpus.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &panicErr):
		return "panic"
	case errors.Is(err, ErrPoolClosed):
		return "shutdown"
	case errors.As(err, &corpusErr):
		return "reread_io"
	}
	return "search"
}
