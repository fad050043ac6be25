package router

import (
	"context"
	"errors"

	"github.com/cyberinferno/gemcarry/auth"
	"github.com/cyberinferno/gemcarry/codec"
	"github.com/cyberinferno/gemcarry/gamesession"
	"github.com/cyberinferno/gemcarry/logger"
	"github.com/cyberinferno/gemcarry/message"
	"github.com/cyberinferno/gemcarry/metrics"
)

// Authenticator is the account service consumed by the login and create
// handlers.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, auth.Status)
	CreateUser(ctx context.Context, username, password string) auth.Status
}

// Deps are the collaborators of the game handlers.
type Deps struct {
	Auth     Authenticator
	Sessions *gamesession.Registry
	Log      logger.Logger
	Metrics  *metrics.Metrics
}

type game struct {
	Deps
}

// NewGameRouter returns a Router with the game protocol registered:
//
//	Heartbeat    no-op
//	Login        LoginResponse; success records the account id on the connection
//	CreateUser   CreateUserResponse
//	Chat         raw payload broadcast to the sender's session, sender included
//	JoinSession  no-op for a connection already in a session
//
// Connections are auto-joined to a session on connect and notified with
// SessionJoined; they leave it on disconnect.
func NewGameRouter(c *codec.Codec, deps Deps) *Router {
	if deps.Log == nil {
		deps.Log = logger.NewNopLogger()
	}

	g := &game{Deps: deps}
	r := New(c, deps.Log, deps.Metrics)

	r.Handle(message.TypeHeartbeat, g.heartbeat)
	r.Handle(message.TypeLoginRequest, g.login)
	r.Handle(message.TypeCreateUserRequest, g.createUser)
	r.Handle(message.TypeChat, g.chat)
	r.Handle(message.TypeJoinSession, g.joinSession)
	r.OnConnect(g.connect)
	r.OnDisconnect(g.disconnect)

	return r
}

func (g *game) heartbeat(context.Context, Conn, message.Message, []byte) error {
	return nil
}

func (g *game) login(ctx context.Context, c Conn, m message.Message, _ []byte) error {
	req := m.(*message.LoginRequest)

	accountID, status := g.Auth.Login(ctx, req.Username, req.Password)
	if status.OK() {
		c.SetIdentity(accountID)
		g.Log.Info("player logged in", logger.ConnID(c.ID()), logger.Field{Key: "account_id", Value: accountID})
	}

	return c.Send(&message.LoginResponse{Success: status.OK(), Status: uint32(status)})
}

func (g *game) createUser(ctx context.Context, c Conn, m message.Message, _ []byte) error {
	req := m.(*message.CreateUserRequest)

	status := g.Auth.CreateUser(ctx, req.Username, req.Password)
	return c.Send(&message.CreateUserResponse{Success: status.OK(), Status: uint32(status)})
}

func (g *game) chat(_ context.Context, c Conn, _ message.Message, raw []byte) error {
	n, err := g.Sessions.Broadcast(c, raw)
	if errors.Is(err, gamesession.ErrNotInSession) {
		g.Log.Debug("chat from player outside a session", logger.ConnID(c.ID()))
		return nil
	}

	if err != nil {
		return err
	}

	g.Log.Debug("chat broadcast", logger.ConnID(c.ID()), logger.Field{Key: "recipients", Value: n})
	return nil
}

func (g *game) joinSession(ctx context.Context, c Conn, _ message.Message, _ []byte) error {
	if _, ok := g.Sessions.SessionOf(c.ID()); ok {
		return nil
	}

	return g.connect(ctx, c)
}

func (g *game) connect(_ context.Context, c Conn) error {
	s, err := g.Sessions.Join(c)
	if err != nil {
		return err
	}

	g.Log.Info("player joined game session", logger.ConnID(c.ID()), logger.SessionID(s.ID()))
	return c.Send(&message.SessionJoined{SessionID: s.ID(), Players: uint32(s.Size())})
}

func (g *game) disconnect(c Conn) {
	if s, ok := g.Sessions.Leave(c); ok {
		g.Log.Debug("player left game session", logger.ConnID(c.ID()), logger.SessionID(s.ID()))
	}
}
