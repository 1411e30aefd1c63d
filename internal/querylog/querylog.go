// Package querylog emits one machine-parseable record per completed query.
//
// Records are logfmt lines with a fixed field order so post-hoc benchmark
// aggregation can split on whitespace:
//
//	ts=... peer=... mode=... algorithm=... query_len=... matched=...
//	elapsed_ns=... queue_depth=... [err_kind=...]
//
// Every field value is whitespace-free. Writes never block the connection
// handler while the buffer has room; at capacity the handoff degrades to a
// blocking send so records are neither lost nor reordered. Records are
// ordered by completion time, not receipt.
package querylog

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"

	"linefind/internal/logging"
)

const (
	queueCap   = 1024
	maxLogSize = 10 * 1024 * 1024
	maxBackups = 5
)

// Record is one completed query.
type Record struct {
	Time       time.Time
	Peer       string
	Mode       string
	Algorithm  string
	QueryLen   int
	Matched    bool
	Elapsed    time.Duration
	QueueDepth int64
	ErrKind    string // empty on success
}

// appendLine formats the record in the fixed field order.
func (r Record) appendLine(b []byte) []byte {
	b = append(b, "ts="...)
	b = r.Time.UTC().AppendFormat(b, time.RFC3339Nano)
	b = append(b, " peer="...)
	b = append(b, r.Peer...)
	b = append(b, " mode="...)
	b = append(b, r.Mode...)
	b = append(b, " algorithm="...)
	b = append(b, slug(r.Algorithm)...)
	b = append(b, " query_len="...)
	b = strconv.AppendInt(b, int64(r.QueryLen), 10)
	b = append(b, " matched="...)
	b = strconv.AppendBool(b, r.Matched)
	b = append(b, " elapsed_ns="...)
	b = strconv.AppendInt(b, r.Elapsed.Nanoseconds(), 10)
	b = append(b, " queue_depth="...)
	b = strconv.AppendInt(b, r.QueueDepth, 10)
	if r.ErrKind != "" {
		b = append(b, " err_kind="...)
		b = append(b, r.ErrKind...)
	}
	return append(b, '\n')
}

// slug lowercases an algorithm display name and joins words with dashes so
// the field stays whitespace-free ("Shell Grep" -> "shell-grep").
func slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

// Logger buffers records in a bounded channel drained by a background
// writer goroutine.
type Logger struct {
	logger *slog.Logger
	w      *rotatingFile

	ch   chan Record
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// Open creates (or appends to) the query log at path and starts the
// writer. A comment header stamps the session name and pid so benchmark
// runs can be told apart in an appended file.
func Open(path string, logger *slog.Logger) (*Logger, error) {
	w, err := openRotating(path, maxLogSize, maxBackups)
	if err != nil {
		return nil, err
	}

	header := fmt.Sprintf("# session=%s pid=%d started=%s\n",
		petname.Generate(2, "-"), os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := w.Write([]byte(header)); err != nil {
		_ = w.Close()
		return nil, err
	}

	l := &Logger{
		logger: logging.Default(logger).With("component", "querylog"),
		w:      w,
		ch:     make(chan Record, queueCap),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.writeLoop()
	return l, nil
}

// Log hands a record to the writer. Non-blocking while the buffer has
// room; blocks at capacity rather than dropping.
func (l *Logger) Log(r Record) {
	select {
	case l.ch <- r:
	case <-l.done:
		// Writer already stopped. The supervisor closes the query log
		// only after handlers have drained, so this is a late record
		// from an abandoned connection; surface it in the server log.
		l.logger.Warn("query record after close", "peer", r.Peer)
	}
}

func (l *Logger) writeLoop() {
	defer close(l.done)
	for {
		select {
		case r := <-l.ch:
			l.write(r)
		case <-l.quit:
			for {
				select {
				case r := <-l.ch:
					l.write(r)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(r Record) {
	if err := l.w.Write(r.appendLine(nil)); err != nil {
		l.logger.Error("write query record", "error", err)
	}
}

// Close drains buffered records, flushes, and closes the file.
func (l *Logger) Close() error {
	l.once.Do(func() { close(l.quit) })
	<-l.done
	return l.w.Close()
}
