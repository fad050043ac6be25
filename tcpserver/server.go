// Package tcpserver accepts TCP clients and runs one receive, frame, dispatch
// and send loop per connection on top of a fixed pool of I/O contexts.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/gemcarry/idgenerator"
	"github.com/cyberinferno/gemcarry/iopool"
	"github.com/cyberinferno/gemcarry/logger"
	"github.com/cyberinferno/gemcarry/metrics"
	"github.com/cyberinferno/gemcarry/router"
	"github.com/cyberinferno/gemcarry/safemap"
)

const acceptRetryDelay = 5 * time.Millisecond

var (
	// ErrServerRunning is returned by Start on a server that is already listening.
	ErrServerRunning = errors.New("tcpserver: server already running")

	// ErrAccumulationOverflow closes a connection whose receive buffer filled
	// up without yielding a complete message.
	ErrAccumulationOverflow = errors.New("tcpserver: message exceeds receive buffer")

	// ErrConnectionClosed is returned by writes on a closed connection.
	ErrConnectionClosed = errors.New("tcpserver: connection closed")
)

// Options configures a Server.
type Options struct {
	// Name is used in log lines.
	Name string

	// Addr is the listen address, e.g. "0.0.0.0:1025".
	Addr string

	// WriteTimeout bounds every socket write. Zero disables it.
	WriteTimeout time.Duration

	// IdleTimeout closes connections that send nothing for this long. Zero
	// disables it.
	IdleTimeout time.Duration
}

// Stats is a point-in-time view of the server's resources.
type Stats struct {
	Connected    int64
	PoolFree     int
	PoolInUse    int
	PoolCapacity int
	Uptime       time.Duration
}

// Server is a TCP server that accepts connections and runs each one on its
// own goroutine. Connections are stored by id and can be looked up while
// they are open. Admission is gated by the IoContext pool only: when the
// pool is empty the new socket is closed straight away.
type Server struct {
	opts    Options
	log     logger.Logger
	pool    *iopool.Pool
	router  *router.Router
	metrics *metrics.Metrics

	mu       sync.Mutex
	listener net.Listener
	started  time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	conns     *safemap.SafeMap[uint32, *Connection]
	ids       *idgenerator.IdGenerator
	running   atomic.Bool
	connected atomic.Int64
}

// New creates a Server. Nothing is bound until Start.
//
// Parameters:
//   - opts: Listen address, name and socket timeouts
//   - pool: IoContext pool bounding concurrent connections
//   - r: Router every inbound payload is dispatched to
//   - log: Logger for server and connection events
//   - m: Collectors to update; may be nil
//
// Returns:
//   - A new, stopped Server
func New(opts Options, pool *iopool.Pool, r *router.Router, log logger.Logger, m *metrics.Metrics) *Server {
	if opts.Name == "" {
		opts.Name = "gemcarry"
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Server{
		opts:    opts,
		log:     log,
		pool:    pool,
		router:  r,
		metrics: m,
		conns:   safemap.NewSafeMap[uint32, *Connection](),
		ids:     idgenerator.NewIdGenerator(0),
	}
}

// Start binds Addr and runs the accept loop in a goroutine.
//
// Returns:
//   - ErrServerRunning if the server is already started
//   - An error if listening on Addr fails
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return ErrServerRunning
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		s.log.Error(fmt.Sprintf("%s server failed to start", s.opts.Name), logger.Err(err))
		return fmt.Errorf("server %s failed to start: %w", s.opts.Name, err)
	}

	s.listener = ln
	s.started = time.Now()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running.Store(true)

	s.log.Info(fmt.Sprintf("%s server started", s.opts.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})

	s.wg.Add(1)
	go s.acceptLoop(ln)

	return nil
}

// Stop closes the listener and every open connection, then waits for all
// connection goroutines to release their resources. Safe to call when the
// server is not running.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		s.log.Info(fmt.Sprintf("%s server not running", s.opts.Name))
		return
	}

	s.running.Store(false)
	_ = s.listener.Close()
	s.cancel()

	s.conns.Range(func(_ uint32, c *Connection) bool {
		_ = c.Close()
		return true
	})
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info(fmt.Sprintf("%s server stopped", s.opts.Name))
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// ConnectedCount returns the number of open connections.
func (s *Server) ConnectedCount() int64 {
	return s.connected.Load()
}

// GetConnection returns the open connection with the given id.
//
// Parameters:
//   - id: The connection id to look up
//
// Returns:
//   - The connection and true if found, or nil and false otherwise
func (s *Server) GetConnection(id uint32) (*Connection, bool) {
	return s.conns.Get(id)
}

// Stats reports connection and pool usage.
func (s *Server) Stats() Stats {
	st := Stats{
		Connected:    s.connected.Load(),
		PoolFree:     s.pool.Free(),
		PoolInUse:    s.pool.InUse(),
		PoolCapacity: s.pool.Capacity(),
	}

	s.mu.Lock()
	if s.running.Load() {
		st.Uptime = time.Since(s.started)
	}
	s.mu.Unlock()

	return st
}

// acceptLoop hands every accepted socket to its own goroutine and goes
// straight back to Accept. It exits when the listener is closed.
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.log.Error(fmt.Sprintf("%s server accept error", s.opts.Name), logger.Err(err))
			time.Sleep(acceptRetryDelay)
			continue
		}

		s.wg.Add(1)
		go s.handle(nc)
	}
}

// handle sets up one accepted socket and runs its connection loop.
func (s *Server) handle(nc net.Conn) {
	defer s.wg.Done()

	ioc, err := s.pool.Acquire()
	if err != nil {
		_ = nc.Close()
		s.metrics.ConnectionRejected()
		s.log.Warn("connection rejected",
			logger.Field{Key: logger.KeyRemoteAddr, Value: nc.RemoteAddr().String()},
			logger.Err(err),
		)
		return
	}

	ioc.SetLastOp(iopool.OpAccept)
	c := newConnection(s.ids.Id(), nc, ioc, s)
	ioc.Bind(c)

	s.conns.Store(c.id, c)
	n := s.connected.Add(1)
	s.metrics.ConnectionOpened()
	s.metrics.SetPoolInUse(s.pool.InUse())
	c.log.Info("client connected", logger.Field{Key: "connected", Value: n})

	defer c.teardown()

	// Stop may have ranged over the map before this connection was stored.
	if !s.running.Load() {
		_ = c.Close()
		return
	}

	c.serve(s.ctx)
}
