package server

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"filedrop/internal/config"
	"filedrop/internal/errors"
	"filedrop/internal/filesystem"
	"filedrop/internal/network"
	"filedrop/internal/progress"
	"filedrop/internal/protocol"
)

// ErrServerClosed is returned by Serve after Shutdown has been called
var ErrServerClosed = stderrors.New("server closed")

// Accept backoff bounds for temporary listener errors
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Stats is a snapshot of the server counters
type Stats struct {
	Accepted  int64
	Rejected  int64
	Completed int64
	Failed    int64
}

// Server accepts upload connections and runs them on a bounded worker pool
type Server struct {
	cfg    *config.Config
	log    *slog.Logger
	limits protocol.Limits
	root   string
	sink   progress.Sink

	// createFile opens a new destination; it must fail if path exists
	createFile func(path string) (*os.File, error)

	listener  net.Listener
	pool      *Pool
	scheduler *progress.Scheduler

	mu     sync.Mutex
	active map[net.Conn]struct{}

	inShutdown   atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error

	accepted  atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// Option customizes a Server
type Option func(*Server)

// WithSink replaces the default log sink for progress observations
func WithSink(sink progress.Sink) Option {
	return func(s *Server) {
		s.sink = sink
	}
}

// New prepares a server for cfg. The uploads root is created here so that a
// misconfigured directory fails before anything listens.
func New(cfg *config.Config, log *slog.Logger, opts ...Option) (*Server, error) {
	if err := filesystem.EnsureDirectoryExists(cfg.UploadDir); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(cfg.UploadDir)
	if err != nil {
		return nil, errors.NewFileSystemError("resolve_root", cfg.UploadDir, err)
	}

	s := &Server{
		cfg:    cfg,
		log:    log,
		limits: cfg.Limits(),
		root:   root,
		sink:   progress.LogSink{Log: log},
		active: make(map[net.Conn]struct{}),

		createFile: filesystem.CreateExclusive,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.scheduler = progress.NewScheduler(cfg.ReporterWorkers, log)
	s.pool = NewPool(cfg.Workers, cfg.QueueSize, s.handleConnection)
	return s, nil
}

// Listen binds the configured address. The kernel's default backlog applies.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return errors.NewNetworkError("listen", s.cfg.ListenAddress, err)
	}
	s.listener = ln

	s.log.Info("Server ready to accept connections",
		"address", ln.Addr().String(),
		"upload_dir", s.root,
		"workers", s.cfg.Workers,
		"queue", s.cfg.QueueSize)
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until the listener is closed. The acceptor does
// no protocol or file I/O; each connection is either admitted to the pool or
// closed on the spot.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if stderrors.As(err, &ne) && ne.Temporary() { //nolint:staticcheck
				delay = nextAcceptDelay(delay)
				s.log.Warn("Accept failed, retrying", "error", err, "delay", delay)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			return errors.NewNetworkError("accept", s.listener.Addr().String(), err)
		}
		delay = 0

		s.admit(conn)
	}
}

func nextAcceptDelay(delay time.Duration) time.Duration {
	if delay == 0 {
		return minAcceptDelay
	}
	return min(delay*2, maxAcceptDelay)
}

func (s *Server) admit(raw net.Conn) {
	s.accepted.Add(1)

	if err := network.OptimizeTCPConnection(raw); err != nil {
		s.log.Warn("Failed to optimize TCP connection", "error", err)
	}
	conn := network.WithIdleTimeout(raw, s.cfg.ReadTimeout)

	s.track(conn)
	if !s.pool.TrySubmit(conn) {
		s.rejected.Add(1)
		s.untrack(conn)
		conn.Close()
		s.log.Warn("Worker pool saturated, connection rejected", "client", raw.RemoteAddr().String())
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.active[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.active, conn)
	s.mu.Unlock()
}

func (s *Server) activeConns() []net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Keys(s.active)
}

// Shutdown stops accepting, lets admitted connections finish until ctx is
// done, then closes whatever is still open and waits for those handlers to
// clean up. It returns ctx's error when connections had to be forced.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.inShutdown.Store(true)
		s.log.Info("Shutting down server", "active", len(s.activeConns()))

		if s.listener != nil {
			s.listener.Close()
		}
		s.pool.Close()

		if err := s.pool.Wait(ctx); err != nil {
			conns := s.activeConns()
			s.log.Warn("Grace period expired, closing active connections", "count", len(conns))
			for _, conn := range conns {
				conn.Close()
			}
			s.pool.Wait(context.Background())
			s.shutdownErr = err
		}

		s.scheduler.Stop()

		stats := s.Stats()
		s.log.Info("Server stopped",
			"accepted", stats.Accepted,
			"rejected", stats.Rejected,
			"completed", stats.Completed,
			"failed", stats.Failed)
	})
	return s.shutdownErr
}

// ListenAndServe serves until ctx is cancelled and then shuts down within the
// configured grace period
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.Serve(gctx); !stderrors.Is(err, ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Stats returns the current counters
func (s *Server) Stats() Stats {
	return Stats{
		Accepted:  s.accepted.Load(),
		Rejected:  s.rejected.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
	}
}
