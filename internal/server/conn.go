package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/muesli/cancelreader"

	"linefind/internal/corpus"
	"linefind/internal/querylog"
	"linefind/internal/search"
)

// Wire responses. ASCII, LF-terminated, exactly one per connection.
var (
	respExists   = []byte("STRING EXISTS\n")
	respNotFound = []byte("STRING NOT FOUND\n")
	respError    = []byte("ERROR\n")
)

// conn handles one accepted socket: frame one query, dispatch, write one
// response, close. No persistent connections, no pipelining.
type conn struct {
	id        uuid.UUID
	nc        net.Conn
	srv       *Server
	logger    *slog.Logger
	responded atomic.Bool
}

func (s *Server) newConn(nc net.Conn) *conn {
	id := uuid.New()
	return &conn{
		id:     id,
		nc:     nc,
		srv:    s,
		logger: s.logger.With("conn", id.String(), "remote", nc.RemoteAddr().String()),
	}
}

func (c *conn) serve(ctx context.Context) {
	defer c.nc.Close()
	c.logger.Debug("connection accepted")

	raw, ok := c.readQuery(ctx)
	if !ok {
		return
	}
	query := corpus.NormalizeQuery(raw)

	res, depth := c.srv.dispatcher.Search(ctx, query)

	resp := respNotFound
	errKind := ""
	switch {
	case res.Err != nil:
		resp = respError
		errKind = search.ErrKind(res.Err)
		c.logger.Warn("search failed", "error", res.Err)
	case res.Matched:
		resp = respExists
	}
	c.respond(resp)

	if c.srv.qlog != nil {
		c.srv.qlog.Log(querylog.Record{
			Time:       time.Now(),
			Peer:       c.nc.RemoteAddr().String(),
			Mode:       string(c.srv.dispatcher.Mode()),
			Algorithm:  c.srv.dispatcher.Algorithm(),
			QueryLen:   len(query),
			Matched:    res.Matched,
			Elapsed:    res.Elapsed,
			QueueDepth: depth,
			ErrKind:    errKind,
		})
	}
	c.logger.Debug("query handled",
		"query_len", len(query), "matched", res.Matched, "elapsed", res.Elapsed)
}

// readQuery reads until the first '\n' or until the 1024-byte frame limit
// is hit. EOF after at least one byte terminates the query like a newline
// would; EOF on an empty buffer, an oversize frame, a TLS handshake
// failure, or the inactivity timeout all close the connection without a
// response.
func (c *conn) readQuery(ctx context.Context) ([]byte, bool) {
	reader, err := cancelreader.NewReader(c.nc)
	if err != nil {
		c.logger.Warn("failed to create cancel reader", "error", err)
		return nil, false
	}
	stop := context.AfterFunc(ctx, func() { reader.Cancel() })
	defer stop()

	buf := make([]byte, 0, corpus.MaxQueryLen)
	chunk := make([]byte, corpus.MaxQueryLen)

	for {
		_ = c.nc.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))
		n, err := reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if i := bytes.IndexByte(buf, '\n'); i >= 0 {
				if i+1 > corpus.MaxQueryLen {
					c.logger.Debug("terminator beyond frame limit")
					return nil, false
				}
				return buf[:i+1], true
			}
			if len(buf) >= corpus.MaxQueryLen {
				c.logger.Debug("request exceeds frame limit", "bytes", len(buf))
				return nil, false
			}
		}

		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, io.EOF):
			if len(buf) > 0 {
				return buf, true
			}
			c.logger.Debug("client closed before sending a query")
			return nil, false
		case errors.Is(err, cancelreader.ErrCanceled):
			c.logger.Debug("read cancelled by shutdown")
			return nil, false
		default:
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.logger.Debug("inactivity timeout")
				return nil, false
			}
			c.logger.Debug("read failed", "error", err)
			return nil, false
		}
	}
}

// respond writes the single response, once. The drain path may race a
// normal completion here; whoever swaps first wins.
func (c *conn) respond(resp []byte) {
	if !c.responded.CompareAndSwap(false, true) {
		return
	}
	_ = c.nc.SetWriteDeadline(time.Now().Add(c.srv.idleTimeout))
	if _, err := c.nc.Write(resp); err != nil {
		c.logger.Debug("write response failed", "error", err)
	}
}

// abort abandons the connection with an ERROR response. Called when the
// drain grace expires.
func (c *conn) abort() {
	c.respond(respError)
	_ = c.nc.Close()
}
