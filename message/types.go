package message

import "google.golang.org/protobuf/encoding/protowire"

// Heartbeat is a liveness probe. It carries no fields and expects no reply.
type Heartbeat struct{}

func (*Heartbeat) Type() Type { return TypeHeartbeat }

func (*Heartbeat) appendBody(b []byte) []byte { return b }

func (*Heartbeat) parseBody(b []byte) error {
	return walk(b, func(protowire.Number, protowire.Type, []byte) int { return 0 })
}

// LoginRequest asks the server to authenticate the connection.
type LoginRequest struct {
	Username string
	Password string
}

func (*LoginRequest) Type() Type { return TypeLoginRequest }

func (m *LoginRequest) appendBody(b []byte) []byte {
	b = appendString(b, 1, m.Username)
	return appendString(b, 2, m.Password)
}

func (m *LoginRequest) parseBody(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch num {
		case 1:
			return consumeString(typ, v, &m.Username)
		case 2:
			return consumeString(typ, v, &m.Password)
		}
		return 0
	})
}

// LoginResponse answers a LoginRequest. Status carries the auth status code.
type LoginResponse struct {
	Success bool
	Status  uint32
}

func (*LoginResponse) Type() Type { return TypeLoginResponse }

func (m *LoginResponse) appendBody(b []byte) []byte {
	b = appendVarint(b, 1, protowire.EncodeBool(m.Success))
	return appendVarint(b, 2, uint64(m.Status))
}

func (m *LoginResponse) parseBody(b []byte) error {
	return parseResult(b, &m.Success, &m.Status)
}

// CreateUserRequest asks the server to register a new account.
type CreateUserRequest struct {
	Username string
	Password string
}

func (*CreateUserRequest) Type() Type { return TypeCreateUserRequest }

func (m *CreateUserRequest) appendBody(b []byte) []byte {
	b = appendString(b, 1, m.Username)
	return appendString(b, 2, m.Password)
}

func (m *CreateUserRequest) parseBody(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch num {
		case 1:
			return consumeString(typ, v, &m.Username)
		case 2:
			return consumeString(typ, v, &m.Password)
		}
		return 0
	})
}

// CreateUserResponse answers a CreateUserRequest.
type CreateUserResponse struct {
	Success bool
	Status  uint32
}

func (*CreateUserResponse) Type() Type { return TypeCreateUserResponse }

func (m *CreateUserResponse) appendBody(b []byte) []byte {
	b = appendVarint(b, 1, protowire.EncodeBool(m.Success))
	return appendVarint(b, 2, uint64(m.Status))
}

func (m *CreateUserResponse) parseBody(b []byte) error {
	return parseResult(b, &m.Success, &m.Status)
}

// Chat is a text message broadcast to everyone in the sender's game session.
type Chat struct {
	Sender string
	Text   string
}

func (*Chat) Type() Type { return TypeChat }

func (m *Chat) appendBody(b []byte) []byte {
	b = appendString(b, 1, m.Sender)
	return appendString(b, 2, m.Text)
}

func (m *Chat) parseBody(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch num {
		case 1:
			return consumeString(typ, v, &m.Sender)
		case 2:
			return consumeString(typ, v, &m.Text)
		}
		return 0
	})
}

// JoinSession is an explicit matchmaking request.
type JoinSession struct{}

func (*JoinSession) Type() Type { return TypeJoinSession }

func (*JoinSession) appendBody(b []byte) []byte { return b }

func (*JoinSession) parseBody(b []byte) error {
	return walk(b, func(protowire.Number, protowire.Type, []byte) int { return 0 })
}

// SessionJoined notifies a client of the game session it was placed in.
type SessionJoined struct {
	SessionID uint32
	Players   uint32
}

func (*SessionJoined) Type() Type { return TypeSessionJoined }

func (m *SessionJoined) appendBody(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.SessionID))
	return appendVarint(b, 2, uint64(m.Players))
}

func (m *SessionJoined) parseBody(b []byte) error {
	var id, players uint64
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch num {
		case 1:
			return consumeVarint(typ, v, &id)
		case 2:
			return consumeVarint(typ, v, &players)
		}
		return 0
	})
	m.SessionID, m.Players = uint32(id), uint32(players)
	return err
}

// Unknown holds an envelope whose type tag is not known to this package.
type Unknown struct {
	Tag  Type
	Body []byte
}

func (m *Unknown) Type() Type { return m.Tag }

func (m *Unknown) appendBody(b []byte) []byte { return append(b, m.Body...) }

func (m *Unknown) parseBody(b []byte) error {
	m.Body = append(m.Body[:0], b...)
	return nil
}

func parseResult(b []byte, success *bool, status *uint32) error {
	var ok, code uint64
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch num {
		case 1:
			return consumeVarint(typ, v, &ok)
		case 2:
			return consumeVarint(typ, v, &code)
		}
		return 0
	})
	*success = protowire.DecodeBool(ok)
	*status = uint32(code)
	return err
}
