// Package router decodes inbound payloads and dispatches them to the handler
// registered for their message type.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cyberinferno/gemcarry/codec"
	"github.com/cyberinferno/gemcarry/logger"
	"github.com/cyberinferno/gemcarry/message"
	"github.com/cyberinferno/gemcarry/metrics"
)

// TracerName identifies the spans started by Dispatch.
const TracerName = "github.com/cyberinferno/gemcarry/router"

// ErrDecode wraps every payload that could not be decoded. The connection that
// sent it must be closed.
var ErrDecode = errors.New("router: undecodable payload")

// Conn is the connection as seen by handlers. Send and Deliver are safe for
// concurrent use; the remaining methods are only called from the
// connection's own dispatch sequence.
type Conn interface {
	// ID returns the connection id.
	ID() uint32

	// Send encodes, frames and writes m.
	Send(m message.Message) error

	// Deliver frames and writes an already encoded payload.
	Deliver(payload []byte) error

	// Identity returns the account id established by login.
	Identity() (string, bool)

	// SetIdentity records the account id after a successful login.
	SetIdentity(accountID string)
}

// HandlerFunc handles one decoded message. raw is the payload m was decoded
// from and is only valid until the handler returns. A returned error closes
// the connection.
type HandlerFunc func(ctx context.Context, c Conn, m message.Message, raw []byte) error

// ConnectFunc runs once a connection is fully set up.
type ConnectFunc func(ctx context.Context, c Conn) error

// DisconnectFunc runs once when a connection closes.
type DisconnectFunc func(c Conn)

// Router is a dispatch table keyed by message type. Handlers are registered
// before the server starts; Dispatch is safe for concurrent use afterwards.
type Router struct {
	codec        *codec.Codec
	handlers     map[message.Type]HandlerFunc
	onConnect    ConnectFunc
	onDisconnect DisconnectFunc
	log          logger.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
}

// New creates a Router with no handlers.
//
// Parameters:
//   - c: Codec used to decode inbound payloads
//   - log: Logger for unhandled types
//   - m: Collectors to update; may be nil
//
// Returns:
//   - A new Router
func New(c *codec.Codec, log logger.Logger, m *metrics.Metrics) *Router {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Router{
		codec:    c,
		handlers: make(map[message.Type]HandlerFunc),
		log:      log,
		metrics:  m,
		tracer:   otel.Tracer(TracerName),
	}
}

// Codec returns the codec the router decodes with.
func (r *Router) Codec() *codec.Codec {
	return r.codec
}

// Handle registers h for t, replacing any previous handler.
func (r *Router) Handle(t message.Type, h HandlerFunc) {
	r.handlers[t] = h
}

// OnConnect sets the hook run by Connected.
func (r *Router) OnConnect(fn ConnectFunc) {
	r.onConnect = fn
}

// OnDisconnect sets the hook run by Disconnected.
func (r *Router) OnDisconnect(fn DisconnectFunc) {
	r.onDisconnect = fn
}

// Connected runs the connect hook for c.
func (r *Router) Connected(ctx context.Context, c Conn) error {
	if r.onConnect == nil {
		return nil
	}

	return r.onConnect(ctx, c)
}

// Disconnected runs the disconnect hook for c.
func (r *Router) Disconnected(c Conn) {
	if r.onDisconnect != nil {
		r.onDisconnect(c)
	}
}

// Dispatch decodes payload and runs its handler inside a span. Messages of a
// type with no handler are logged and dropped.
//
// Parameters:
//   - ctx: Context of the connection
//   - c: The connection the payload arrived on
//   - payload: One complete, unframed payload
//
// Returns:
//   - An error wrapping ErrDecode for undecodable input, or the handler error
func (r *Router) Dispatch(ctx context.Context, c Conn, payload []byte) error {
	m, err := r.codec.DecodePayload(payload)
	if err != nil {
		r.metrics.ProtocolError(metrics.ReasonDecode)
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	t := m.Type()
	ctx, span := r.tracer.Start(ctx, "router.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("msg.type", t.String()),
			attribute.Int64("conn.id", int64(c.ID())),
		),
	)
	defer span.End()

	h, ok := r.handlers[t]
	if !ok {
		r.log.Warn("unhandled message type", logger.ConnID(c.ID()), logger.Field{Key: logger.KeyMsgType, Value: t.String()})
		r.metrics.MessageDispatched("unhandled", 0)
		span.SetStatus(codes.Unset, "unhandled")
		return nil
	}

	start := time.Now()
	err = h(ctx, c, m, payload)
	r.metrics.MessageDispatched(t.String(), time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
