// Package server owns the listening socket, the connection handlers, and
// the drain sequence.
//
// Lifecycle: Init -> Binding -> Serving -> Draining -> Stopped. The accept
// loop runs until the supervising context is cancelled (signal or fatal
// error); existing handlers then get a grace window to finish before the
// stragglers are abandoned with an ERROR response.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"linefind/internal/logging"
	"linefind/internal/querylog"
	"linefind/internal/search"
)

// State is the supervisor state machine.
type State int32

const (
	StateInit State = iota
	StateBinding
	StateServing
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateBinding:
		return "binding"
	case StateServing:
		return "serving"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// BindError reports a failure to bind the listening socket.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return fmt.Sprintf("bind %s: %v", e.Addr, e.Err) }
func (e *BindError) Unwrap() error { return e.Err }

const (
	// DefaultDrainGrace is how long existing handlers get to finish
	// after shutdown is requested.
	DefaultDrainGrace = 5 * time.Second

	// DefaultIdleTimeout bounds per-connection socket inactivity. It
	// cancels only socket I/O, never in-flight worker work.
	DefaultIdleTimeout = 10 * time.Second

	// maxAcceptFailures is how many consecutive accept errors count as a
	// dead listener.
	maxAcceptFailures = 100
)

// Options configures a Server.
type Options struct {
	// Addr is the host:port to bind.
	Addr string

	// TLS wraps the listener when non-nil.
	TLS *tls.Config

	// Dispatcher routes queries to the worker pool.
	Dispatcher *search.Dispatcher

	// QueryLog receives one record per completed query.
	QueryLog *querylog.Logger

	Logger      *slog.Logger
	DrainGrace  time.Duration
	IdleTimeout time.Duration
}

// Server accepts connections and spawns one handler per socket.
// Concurrency is intentionally unbounded; backpressure lives at the OS
// listen queue and at the worker pool.
type Server struct {
	logger      *slog.Logger
	addr        string
	tlsConf     *tls.Config
	dispatcher  *search.Dispatcher
	qlog        *querylog.Logger
	drainGrace  time.Duration
	idleTimeout time.Duration

	state      atomic.Int32
	ln         net.Listener
	acceptWarn rate.Sometimes

	mu     sync.Mutex
	active map[*conn]struct{}
	wg     sync.WaitGroup

	sched gocron.Scheduler
}

// New creates a Server in the Init state.
func New(opts Options) *Server {
	if opts.DrainGrace <= 0 {
		opts.DrainGrace = DefaultDrainGrace
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Server{
		logger:      logging.Default(opts.Logger).With("component", "server"),
		addr:        opts.Addr,
		tlsConf:     opts.TLS,
		dispatcher:  opts.Dispatcher,
		qlog:        opts.QueryLog,
		drainGrace:  opts.DrainGrace,
		idleTimeout: opts.IdleTimeout,
		acceptWarn:  rate.Sometimes{Interval: time.Second},
		active:      make(map[*conn]struct{}),
	}
}

// State returns the current supervisor state.
func (s *Server) State() State { return State(s.state.Load()) }

func (s *Server) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug("state transition", "state", st.String())
}

// Listen binds the TCP socket with SO_REUSEADDR and, when configured,
// wraps it in TLS. Per-connection handshake failures surface later as
// read errors and drop that connection silently.
func (s *Server) Listen(ctx context.Context) error {
	s.setState(StateBinding)

	lc := net.ListenConfig{Control: controlReuseAddr}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return &BindError{Addr: s.addr, Err: err}
	}
	if s.tlsConf != nil {
		ln = tls.NewListener(ln, s.tlsConf)
	}
	s.ln = ln
	s.logger.Info("listening", "addr", ln.Addr().String(), "tls", s.tlsConf != nil)
	return nil
}

// Addr returns the bound address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled, then drains.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("server: Serve before Listen")
	}

	s.startStatsJob()
	s.setState(StateServing)

	// Handlers live on their own context: shutdown must not cancel
	// in-flight reads until the drain grace expires.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	consecutiveFailures := 0
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			consecutiveFailures++
			if consecutiveFailures >= maxAcceptFailures {
				// Listener is gone (e.g. reset); treat as fatal and
				// shut down instead of spinning.
				s.logger.Error("listener failing persistently, shutting down",
					"error", err)
				break
			}
			s.acceptWarn.Do(func() {
				s.logger.Warn("accept failed", "error", err)
			})
			continue
		}
		consecutiveFailures = 0

		c := s.newConn(nc)
		s.mu.Lock()
		s.active[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.active, c)
				s.mu.Unlock()
			}()
			c.serve(connCtx)
		}()
	}

	s.drain(connCancel)
	return nil
}

// drain waits out the grace window, then abandons the stragglers with an
// ERROR response, joins the handlers, and closes the pool.
func (s *Server) drain(connCancel context.CancelFunc) {
	s.setState(StateDraining)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.drainGrace):
		s.mu.Lock()
		stragglers := make([]*conn, 0, len(s.active))
		for c := range s.active {
			stragglers = append(stragglers, c)
		}
		s.mu.Unlock()

		s.logger.Warn("drain grace expired, abandoning connections",
			"count", len(stragglers))
		connCancel()
		for _, c := range stragglers {
			c.abort()
		}
		<-done
	}

	if s.sched != nil {
		if err := s.sched.Shutdown(); err != nil {
			s.logger.Warn("scheduler shutdown", "error", err)
		}
	}
	s.dispatcher.Pool().Close()
	s.setState(StateStopped)
	s.logger.Info("server stopped")
}

// startStatsJob schedules a periodic pool stats report so overload shows
// up in the server log, not just per-record queue_depth fields.
func (s *Server) startStatsJob() {
	sched, err := gocron.NewScheduler()
	if err != nil {
		s.logger.Warn("stats scheduler unavailable", "error", err)
		return
	}
	_, err = sched.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			st := s.dispatcher.Pool().Stats()
			s.mu.Lock()
			activeConns := len(s.active)
			s.mu.Unlock()
			s.logger.Info("pool stats",
				"queue_depth", st.QueueDepth,
				"submitted", st.Submitted,
				"completed", st.Completed,
				"panics", st.Panics,
				"active_conns", activeConns)
		}),
		gocron.WithName("pool-stats"),
	)
	if err != nil {
		s.logger.Warn("stats job", "error", err)
		return
	}
	sched.Start()
	s.sched = sched
}

// controlReuseAddr sets SO_REUSEADDR on the listening socket before bind.
func controlReuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return serr
}
