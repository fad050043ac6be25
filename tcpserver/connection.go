package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/gemcarry/iopool"
	"github.com/cyberinferno/gemcarry/logger"
	"github.com/cyberinferno/gemcarry/message"
	"github.com/cyberinferno/gemcarry/metrics"
	"github.com/cyberinferno/gemcarry/router"
)

// Connection is one accepted client. Its receive loop reads into the slab
// region of its IoContext, extracts every complete frame and dispatches them
// one at a time before reading again. Writes may come from any goroutine and
// are serialized.
type Connection struct {
	id     uint32
	conn   net.Conn
	ioc    *iopool.IoContext
	server *Server
	log    logger.Logger

	// filled is the number of buffered bytes not yet forming a frame. Only
	// the receive loop touches it.
	filled int

	identity atomic.Pointer[string]

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func newConnection(id uint32, nc net.Conn, ioc *iopool.IoContext, s *Server) *Connection {
	return &Connection{
		id:     id,
		conn:   nc,
		ioc:    ioc,
		server: s,
		log: s.log.With(
			logger.ConnID(id),
			logger.Field{Key: logger.KeyRemoteAddr, Value: nc.RemoteAddr().String()},
		),
		done: make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Connection) ID() uint32 {
	return c.id
}

// RemoteAddr returns the client address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Identity returns the account id recorded by a successful login.
func (c *Connection) Identity() (string, bool) {
	id := c.identity.Load()
	if id == nil {
		return "", false
	}

	return *id, true
}

// SetIdentity records the logged in account id.
func (c *Connection) SetIdentity(accountID string) {
	c.identity.Store(&accountID)
}

// Send encodes and frames m, then writes it.
//
// Parameters:
//   - m: The message to send
//
// Returns:
//   - An error if encoding or the write fails
func (c *Connection) Send(m message.Message) error {
	frame, err := c.server.router.Codec().EncodeFrame(m)
	if err != nil {
		return fmt.Errorf("tcpserver: encode %s: %w", m.Type(), err)
	}

	return c.write(frame)
}

// Deliver frames an already encoded payload and writes it. payload is copied
// before Deliver returns.
func (c *Connection) Deliver(payload []byte) error {
	frame, err := c.server.router.Codec().Frame(nil, payload)
	if err != nil {
		return fmt.Errorf("tcpserver: frame payload: %w", err)
	}

	return c.write(frame)
}

// Close shuts the socket down. The receive loop then releases the
// connection's resources. Calling Close more than once is a no-op.
//
// Returns:
//   - The error from closing the socket the first time
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})

	return c.closeErr
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// Done is closed once the connection's resources have been released.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrConnectionClosed
	}

	if wt := c.server.opts.WriteTimeout; wt > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wt))
	}

	n, err := c.conn.Write(frame)
	c.server.metrics.BytesSent(n)
	if err != nil {
		c.server.metrics.ProtocolError(metrics.ReasonWrite)
		// The receive loop notices the closed socket and tears down.
		_ = c.conn.Close()
		return fmt.Errorf("tcpserver: write to connection %d: %w", c.id, err)
	}

	return nil
}

// serve runs the connect hook and then the receive loop until the socket
// fails, the peer disconnects or a protocol error occurs.
func (c *Connection) serve(ctx context.Context) {
	defer c.Close()

	if err := c.server.router.Connected(ctx, c); err != nil {
		c.server.metrics.ProtocolError(metrics.ReasonHandshake)
		c.log.Warn("connection setup failed", logger.Err(err))
		return
	}

	for {
		if err := c.receive(ctx); err != nil {
			c.logExit(err)
			return
		}
	}
}

// receive performs one read and dispatches every frame it completes.
func (c *Connection) receive(ctx context.Context) error {
	buf := c.ioc.Buffer()
	if c.filled == len(buf) {
		c.server.metrics.ProtocolError(metrics.ReasonOverflow)
		return ErrAccumulationOverflow
	}

	if it := c.server.opts.IdleTimeout; it > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(it))
	}

	c.ioc.SetLastOp(iopool.OpReceive)
	n, err := c.conn.Read(buf[c.filled:])
	if n > 0 {
		c.server.metrics.BytesReceived(n)
		c.filled += n
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return io.EOF
	}

	frames, rest, err := c.server.router.Codec().Framer().Extract(buf[:c.filled])
	if err != nil {
		c.server.metrics.ProtocolError(metrics.ReasonFrame)
		return err
	}

	for _, f := range frames {
		if err := c.server.router.Dispatch(ctx, c, f); err != nil {
			return err
		}
		if c.closed.Load() {
			return ErrConnectionClosed
		}
	}

	// Frames alias buf, so the tail moves down only once they are dispatched.
	c.filled = copy(buf, rest)
	return nil
}

func (c *Connection) logExit(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, ErrConnectionClosed):
		c.log.Debug("receive loop finished", logger.Err(err))
	case errors.Is(err, router.ErrDecode), errors.Is(err, ErrAccumulationOverflow):
		c.log.Warn("protocol error, closing connection", logger.Err(err))
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			c.log.Info("idle timeout, closing connection")
			return
		}
		c.log.Warn("connection error", logger.Err(err))
	}
}

// teardown runs once on the receive goroutine after the loop exits: the
// player leaves its game session and the IoContext returns to the pool.
func (c *Connection) teardown() {
	_ = c.Close()
	c.server.router.Disconnected(c)

	if err := c.server.pool.Release(c.ioc); err != nil {
		c.log.Error("failed to release io context", logger.Err(err))
	}

	c.server.conns.Delete(c.id)
	n := c.server.connected.Add(-1)
	c.server.metrics.ConnectionClosed()
	c.server.metrics.SetPoolInUse(c.server.pool.InUse())
	c.log.Info("client disconnected", logger.Field{Key: "connected", Value: n})

	close(c.done)
}
