package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/gemcarry/auth"
	"github.com/cyberinferno/gemcarry/codec"
	"github.com/cyberinferno/gemcarry/framing"
	"github.com/cyberinferno/gemcarry/gamesession"
	"github.com/cyberinferno/gemcarry/logger"
	"github.com/cyberinferno/gemcarry/message"
	"github.com/cyberinferno/gemcarry/metrics"
)

type fakeConn struct {
	id    uint32
	codec *codec.Codec

	mu        sync.Mutex
	sent      []message.Message
	delivered [][]byte
	identity  string
	sendErr   error
}

func (c *fakeConn) ID() uint32 { return c.id }

func (c *fakeConn) Send(m message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *fakeConn) Deliver(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Identity() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity, c.identity != ""
}

func (c *fakeConn) SetIdentity(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = id
}

func (c *fakeConn) sentMessages() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.Message(nil), c.sent...)
}

func (c *fakeConn) deliveredMessages(t *testing.T) []message.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]message.Message, 0, len(c.delivered))
	for _, p := range c.delivered {
		m, err := c.codec.DecodePayload(p)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func newTestCodec(t *testing.T) *codec.Codec {
	t.Helper()
	c, err := codec.New(framing.NewLengthPrefixFramer(0), -1)
	require.NoError(t, err)
	return c
}

func encode(t *testing.T, c *codec.Codec, m message.Message) []byte {
	t.Helper()
	p, err := c.EncodePayload(m)
	require.NoError(t, err)
	return p
}

func TestRouter_Dispatch(t *testing.T) {
	c := newTestCodec(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := New(c, logger.NewNopLogger(), m)

	var got []message.Message
	r.Handle(message.TypeChat, func(_ context.Context, _ Conn, msg message.Message, raw []byte) error {
		got = append(got, msg)
		assert.NotEmpty(t, raw)
		return nil
	})

	conn := &fakeConn{id: 1, codec: c}
	require.NoError(t, r.Dispatch(context.Background(), conn, encode(t, c, &message.Chat{Sender: "a", Text: "hi"})))
	require.Len(t, got, 1)
	assert.Equal(t, &message.Chat{Sender: "a", Text: "hi"}, got[0])

	t.Run("unhandled type is ignored", func(t *testing.T) {
		require.NoError(t, r.Dispatch(context.Background(), conn, encode(t, c, &message.Heartbeat{})))
		require.NoError(t, r.Dispatch(context.Background(), conn, encode(t, c, &message.Unknown{Tag: 99})))
	})

	t.Run("garbage is a decode error", func(t *testing.T) {
		err := r.Dispatch(context.Background(), conn, []byte{0xff, 0x00, 0x13})
		assert.ErrorIs(t, err, ErrDecode)

		n, gerr := testutil.GatherAndCount(reg, "gemcarry_protocol_errors_total")
		require.NoError(t, gerr)
		assert.Equal(t, 1, n)
	})

	t.Run("handler error is returned", func(t *testing.T) {
		boom := errors.New("write failed")
		r.Handle(message.TypeJoinSession, func(context.Context, Conn, message.Message, []byte) error { return boom })
		assert.ErrorIs(t, r.Dispatch(context.Background(), conn, encode(t, c, &message.JoinSession{})), boom)
	})

	n, err := testutil.GatherAndCount(reg, "gemcarry_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "chat, unhandled and join_session series")
}

func TestRouter_Hooks(t *testing.T) {
	r := New(newTestCodec(t), nil, nil)
	conn := &fakeConn{id: 1}

	require.NoError(t, r.Connected(context.Background(), conn))
	assert.NotPanics(t, func() { r.Disconnected(conn) })

	var connected, disconnected bool
	r.OnConnect(func(context.Context, Conn) error { connected = true; return nil })
	r.OnDisconnect(func(Conn) { disconnected = true })

	require.NoError(t, r.Connected(context.Background(), conn))
	r.Disconnected(conn)
	assert.True(t, connected)
	assert.True(t, disconnected)
}

type fakeAuth struct {
	loginStatus  auth.Status
	createStatus auth.Status
	calls        []string
}

func (f *fakeAuth) Login(_ context.Context, u, p string) (string, auth.Status) {
	f.calls = append(f.calls, "login:"+u+":"+p)
	if f.loginStatus.OK() {
		return "acct-" + u, auth.Success
	}
	return "", f.loginStatus
}

func (f *fakeAuth) CreateUser(_ context.Context, u, p string) auth.Status {
	f.calls = append(f.calls, "create:"+u+":"+p)
	return f.createStatus
}

func newGame(t *testing.T, a Authenticator, capacity int) (*Router, *gamesession.Registry, *codec.Codec) {
	t.Helper()
	c := newTestCodec(t)
	reg := gamesession.NewRegistry(capacity, logger.NewNopLogger(), nil)
	return NewGameRouter(c, Deps{Auth: a, Sessions: reg}), reg, c
}

func TestGameRouter_ConnectJoinsSession(t *testing.T) {
	r, reg, c := newGame(t, &fakeAuth{}, 10)
	conn := &fakeConn{id: 7, codec: c}

	require.NoError(t, r.Connected(context.Background(), conn))

	s, ok := reg.SessionOf(7)
	require.True(t, ok)
	require.Len(t, conn.sentMessages(), 1)
	assert.Equal(t, &message.SessionJoined{SessionID: s.ID(), Players: 1}, conn.sentMessages()[0])

	t.Run("explicit join is a no-op", func(t *testing.T) {
		require.NoError(t, r.Dispatch(context.Background(), conn, encode(t, c, &message.JoinSession{})))
		assert.Len(t, conn.sentMessages(), 1)
		cur, _ := reg.SessionOf(7)
		assert.Same(t, s, cur)
	})

	r.Disconnected(conn)
	_, ok = reg.SessionOf(7)
	assert.False(t, ok)
	assert.Zero(t, s.Size())

	t.Run("explicit join after leaving rejoins", func(t *testing.T) {
		require.NoError(t, r.Dispatch(context.Background(), conn, encode(t, c, &message.JoinSession{})))
		_, ok := reg.SessionOf(7)
		assert.True(t, ok)
	})
}

func TestGameRouter_Login(t *testing.T) {
	a := &fakeAuth{loginStatus: auth.Success}
	r, _, c := newGame(t, a, 10)
	conn := &fakeConn{id: 1, codec: c}

	require.NoError(t, r.Dispatch(context.Background(), conn, encode(t, c, &message.LoginRequest{Username: "alice", Password: "pw1"})))
	assert.Equal(t, []string{"login:alice:pw1"}, a.calls)
	assert.Equal(t, []message.Message{&message.LoginResponse{Success: true, Status: uint32(auth.Success)}}, conn.sentMessages())

	id, ok := conn.Identity()
	assert.True(t, ok)
	assert.Equal(t, "acct-alice", id)

	t.Run("failure leaves the connection anonymous", func(t *testing.T) {
		a.loginStatus = auth.InvalidCredentials
		other := &fakeConn{id: 2, codec: c}
		require.NoError(t, r.Dispatch(context.Background(), other, encode(t, c, &message.LoginRequest{Username: "bob", Password: "x"})))
		assert.Equal(t, []message.Message{&message.LoginResponse{Success: false, Status: uint32(auth.InvalidCredentials)}}, other.sentMessages())
		_, ok := other.Identity()
		assert.False(t, ok)
	})

	t.Run("send failure closes", func(t *testing.T) {
		broken := &fakeConn{id: 3, codec: c, sendErr: errors.New("reset")}
		err := r.Dispatch(context.Background(), broken, encode(t, c, &message.LoginRequest{Username: "x", Password: "y"}))
		assert.ErrorContains(t, err, "reset")
	})
}

func TestGameRouter_CreateUser(t *testing.T) {
	for _, status := range []auth.Status{auth.Success, auth.AlreadyExists, auth.StoreUnavailable} {
		t.Run(status.String(), func(t *testing.T) {
			r, reg, c := newGame(t, &fakeAuth{createStatus: status}, 10)
			conn := &fakeConn{id: 1, codec: c}

			require.NoError(t, r.Dispatch(context.Background(), conn, encode(t, c, &message.CreateUserRequest{Username: "alice", Password: "pw1"})))
			assert.Equal(t, []message.Message{&message.CreateUserResponse{Success: status.OK(), Status: uint32(status)}}, conn.sentMessages())
			assert.Zero(t, reg.Len(), "account creation does not touch the session registry")
		})
	}
}

func TestGameRouter_ChatFanOut(t *testing.T) {
	r, _, c := newGame(t, &fakeAuth{}, 2)
	a := &fakeConn{id: 1, codec: c}
	b := &fakeConn{id: 2, codec: c}
	outsider := &fakeConn{id: 3, codec: c}

	for _, conn := range []*fakeConn{a, b, outsider} {
		require.NoError(t, r.Connected(context.Background(), conn))
	}

	chat := &message.Chat{Sender: "alice", Text: "hi"}
	require.NoError(t, r.Dispatch(context.Background(), a, encode(t, c, chat)))

	assert.Equal(t, []message.Message{chat}, a.deliveredMessages(t))
	assert.Equal(t, []message.Message{chat}, b.deliveredMessages(t))
	assert.Empty(t, outsider.deliveredMessages(t))

	t.Run("chat outside a session is dropped", func(t *testing.T) {
		r.Disconnected(outsider)
		require.NoError(t, r.Dispatch(context.Background(), outsider, encode(t, c, chat)))
		assert.Empty(t, outsider.deliveredMessages(t))
	})
}
