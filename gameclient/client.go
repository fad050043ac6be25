// Package gameclient provides an event-driven TCP client that speaks the game
// protocol. It notifies callers of connection state changes, decoded
// messages and errors via registered handlers, and can reconnect on its own.
package gameclient

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/gemcarry/codec"
	"github.com/cyberinferno/gemcarry/message"
)

// MaxPending bounds the bytes buffered while waiting for a complete frame.
const MaxPending = 4 << 20

var (
	// ErrClientClosed is returned by Connect after Close.
	ErrClientClosed = errors.New("gameclient: client is closed")

	// ErrAlreadyConnected is returned by Connect while a connection is up or
	// being established.
	ErrAlreadyConnected = errors.New("gameclient: already connected or connecting")

	// ErrNotConnected is returned by Send without a live connection.
	ErrNotConnected = errors.New("gameclient: not connected")

	// ErrPendingOverflow is reported when the server sends more than
	// MaxPending bytes without completing a frame.
	ErrPendingOverflow = errors.New("gameclient: incomplete frame too large")
)

// ConnectionState represents the current state of the TCP connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected and not attempting to connect
	Connecting                          // Connection attempt in progress
	Connected                           // Successfully connected
	Reconnecting                        // Waiting to reconnect (AutoReconnect only)
	Closed                              // Closed for good
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The remote address
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the change was caused by an error
}

// MessageEvent carries one decoded server message.
type MessageEvent struct {
	Message   message.Message
	Timestamp time.Time
}

// ErrorEvent is emitted when a read, write, decode or dial error occurs.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

// ConnectionStateHandler is called from its own goroutine on state changes.
type ConnectionStateHandler func(event ConnectionStateEvent)

// MessageHandler is called on the read goroutine, once per message and in the
// order the server sent them. It must not block for long.
type MessageHandler func(event MessageEvent)

// ErrorHandler is called from its own goroutine on errors.
type ErrorHandler func(event ErrorEvent)

// Config holds configuration for the client.
type Config struct {
	// Address is the "host:port" of the server.
	Address string
	// AutoReconnect re-dials after the connection is lost.
	AutoReconnect bool
	// ReconnectInterval is the delay between reconnection attempts.
	ReconnectInterval time.Duration
	// ReadBufferSize is the size of each socket read.
	ReadBufferSize int
	// WriteTimeout bounds a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// ReadTimeout bounds the wait for data; 0 means no timeout.
	ReadTimeout time.Duration
	// ConnectionTimeout bounds dialing.
	ConnectionTimeout time.Duration
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with ReconnectInterval 5s, ReadBufferSize 4096, WriteTimeout 10s,
//     ConnectionTimeout 10s and no read timeout or reconnects
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ReconnectInterval: 5 * time.Second,
		ReadBufferSize:    4096,
		WriteTimeout:      10 * time.Second,
		ConnectionTimeout: 10 * time.Second,
	}
}

// Client is a game protocol client. Register handlers, then call Connect. It
// is safe for concurrent use.
type Client struct {
	config Config
	codec  *codec.Codec
	conn   net.Conn
	state  ConnectionState

	onConnectionState ConnectionStateHandler
	onMessage         MessageHandler
	onError           ErrorHandler

	mu               sync.RWMutex
	writeMu          sync.Mutex
	stopChan         chan struct{}
	reconnectChan    chan struct{}
	wg               sync.WaitGroup
	closed           bool
	reconnecting     bool
	reconnectRunning bool
}

// New creates a client in the Disconnected state.
//
// Parameters:
//   - config: Connection settings, e.g. from DefaultConfig
//   - c: Codec matching the server's framing and compression
//
// Returns:
//   - A new *Client; call Close when done
func New(config Config, c *codec.Codec) *Client {
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = 4096
	}

	return &Client{
		config:        config,
		codec:         c,
		state:         Disconnected,
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
	}
}

// OnConnectionState registers the state change handler, replacing any
// previous one.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnMessage registers the message handler, replacing any previous one.
func (c *Client) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// OnError registers the error handler, replacing any previous one.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the configured address and starts the read loop.
//
// Returns:
//   - ErrClientClosed, ErrAlreadyConnected or the dial error
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	startReconnect := c.config.AutoReconnect && !c.reconnectRunning
	c.reconnectRunning = c.reconnectRunning || startReconnect
	c.mu.Unlock()

	if startReconnect {
		c.wg.Add(1)
		go c.reconnectHandler()
	}

	return c.connect()
}

// Disconnect closes the current connection. Connect may be called again.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Disconnected || c.state == Closed {
		return nil
	}

	return c.disconnect()
}

func (c *Client) disconnect() error {
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.state = Disconnected
	emitConnectionState(c.onConnectionState, c.config.Address, Disconnected, nil)
	return err
}

// Close shuts the client down and waits for its goroutines. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	close(c.stopChan)
	c.wg.Wait()

	c.setState(Closed, nil)

	return nil
}

// Send encodes, frames and writes m.
//
// Parameters:
//   - m: The message to send
//
// Returns:
//   - ErrNotConnected, an encode error or the write error
func (c *Client) Send(m message.Message) error {
	frame, err := c.codec.EncodeFrame(m)
	if err != nil {
		return fmt.Errorf("gameclient: encode %s: %w", m.Type(), err)
	}

	return c.Write(frame)
}

// Write sends raw bytes without encoding or framing them.
func (c *Client) Write(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	if _, err := conn.Write(data); err != nil {
		c.emitError(err)
		c.triggerReconnect()
		return err
	}

	return nil
}

// GetState returns the current connection state.
func (c *Client) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected returns true if the client is in Connected state.
func (c *Client) IsConnected() bool {
	return c.GetState() == Connected
}

func (c *Client) connect() error {
	c.setState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.mu.Unlock()

	c.setState(Connected, nil)

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// readLoop accumulates reads, extracts complete frames and hands each decoded
// message to the message handler in order.
func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	chunk := make([]byte, c.config.ReadBufferSize)
	pending := make([]byte, 0, c.config.ReadBufferSize)
	framer := c.codec.Framer()

	for {
		if c.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}

		n, err := conn.Read(chunk)
		if c.isClosed() {
			return
		}
		if err != nil {
			c.lost(conn, err)
			return
		}

		pending = append(pending, chunk[:n]...)
		frames, rest, err := framer.Extract(pending)
		if err != nil {
			c.lost(conn, err)
			return
		}

		for _, f := range frames {
			m, err := c.codec.DecodePayload(f)
			if err != nil {
				c.emitError(fmt.Errorf("gameclient: decode: %w", err))
				continue
			}
			c.emitMessage(m)
		}

		pending = pending[:copy(pending, rest)]
		if len(pending) > MaxPending {
			c.lost(conn, ErrPendingOverflow)
			return
		}
	}
}

// lost handles the end of a connection that was not closed by the caller.
func (c *Client) lost(conn net.Conn, err error) {
	c.emitError(err)

	c.mu.Lock()
	if c.conn == conn {
		_ = c.disconnect()
	}
	c.mu.Unlock()

	c.triggerReconnect()
}

func (c *Client) reconnectHandler() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case <-c.reconnectChan:
			c.mu.Lock()
			if c.reconnecting {
				c.mu.Unlock()
				continue
			}
			c.reconnecting = true
			if err := c.disconnect(); err != nil {
				c.emitError(err)
			}
			c.mu.Unlock()

			c.setState(Reconnecting, nil)

			select {
			case <-c.stopChan:
				c.setReconnecting(false)
				return
			case <-time.After(c.config.ReconnectInterval):
			}

			if c.isClosed() {
				c.setReconnecting(false)
				return
			}

			err := c.connect()
			c.setReconnecting(false)

			if err != nil {
				c.triggerReconnect()
			}
		}
	}
}

func (c *Client) setReconnecting(v bool) {
	c.mu.Lock()
	c.reconnecting = v
	c.mu.Unlock()
}

func (c *Client) triggerReconnect() {
	if !c.config.AutoReconnect || c.isClosed() {
		return
	}

	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	handler := c.onConnectionState
	c.mu.Unlock()

	emitConnectionState(handler, c.config.Address, state, err)
}

func emitConnectionState(handler ConnectionStateHandler, addr string, state ConnectionState, err error) {
	if handler != nil {
		go handler(ConnectionStateEvent{
			State:     state,
			Address:   addr,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

func (c *Client) emitMessage(m message.Message) {
	c.mu.RLock()
	handler := c.onMessage
	c.mu.RUnlock()

	if handler != nil {
		handler(MessageEvent{Message: m, Timestamp: time.Now()})
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		go handler(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
