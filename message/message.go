// Package message defines the game protocol messages and their binary
// encoding. Every message travels inside an envelope carrying a protocol
// version and a message-type tag, encoded in protobuf wire format so that
// unknown fields can be skipped by older peers.
package message

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Version is the envelope version written by Marshal and required by Unmarshal.
const Version = 1

// Type is the message-type tag carried in every envelope.
type Type uint32

const (
	TypeHeartbeat          Type = 1
	TypeLoginRequest       Type = 2
	TypeLoginResponse      Type = 3
	TypeCreateUserRequest  Type = 4
	TypeCreateUserResponse Type = 5
	TypeChat               Type = 6
	TypeJoinSession        Type = 7
	TypeSessionJoined      Type = 8
)

var typeNames = map[Type]string{
	TypeHeartbeat:          "heartbeat",
	TypeLoginRequest:       "login_request",
	TypeLoginResponse:      "login_response",
	TypeCreateUserRequest:  "create_user_request",
	TypeCreateUserResponse: "create_user_response",
	TypeChat:               "chat",
	TypeJoinSession:        "join_session",
	TypeSessionJoined:      "session_joined",
}

// String returns the snake_case name of the type, or "unknown_<n>".
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("unknown_%d", uint32(t))
}

var (
	// ErrMalformed is returned when bytes cannot be parsed as an envelope or body.
	ErrMalformed = errors.New("message: malformed")

	// ErrUnsupportedVersion is returned for an envelope version other than Version.
	ErrUnsupportedVersion = errors.New("message: unsupported version")
)

const (
	envVersion protowire.Number = 1
	envType    protowire.Number = 2
	envBody    protowire.Number = 3
)

// Message is implemented by every protocol message.
type Message interface {
	// Type returns the envelope tag for the message.
	Type() Type

	appendBody(b []byte) []byte
	parseBody(b []byte) error
}

var constructors = map[Type]func() Message{
	TypeHeartbeat:          func() Message { return &Heartbeat{} },
	TypeLoginRequest:       func() Message { return &LoginRequest{} },
	TypeLoginResponse:      func() Message { return &LoginResponse{} },
	TypeCreateUserRequest:  func() Message { return &CreateUserRequest{} },
	TypeCreateUserResponse: func() Message { return &CreateUserResponse{} },
	TypeChat:               func() Message { return &Chat{} },
	TypeJoinSession:        func() Message { return &JoinSession{} },
	TypeSessionJoined:      func() Message { return &SessionJoined{} },
}

// Marshal encodes m inside a versioned envelope.
//
// Parameters:
//   - m: The message to encode
//
// Returns:
//   - The encoded envelope
//   - An error if m is nil
func Marshal(m Message) ([]byte, error) {
	return AppendMarshal(nil, m)
}

// AppendMarshal appends the encoded envelope of m to dst.
func AppendMarshal(dst []byte, m Message) ([]byte, error) {
	if m == nil {
		return dst, fmt.Errorf("%w: nil message", ErrMalformed)
	}

	dst = protowire.AppendTag(dst, envVersion, protowire.VarintType)
	dst = protowire.AppendVarint(dst, Version)
	dst = protowire.AppendTag(dst, envType, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(m.Type()))
	dst = protowire.AppendTag(dst, envBody, protowire.BytesType)
	body := m.appendBody(nil)
	return protowire.AppendBytes(dst, body), nil
}

// Unmarshal decodes an envelope. A well-formed envelope with a type tag this
// package does not know decodes to *Unknown rather than an error.
//
// Parameters:
//   - b: The encoded envelope
//
// Returns:
//   - The decoded message
//   - ErrMalformed or ErrUnsupportedVersion on failure
func Unmarshal(b []byte) (Message, error) {
	var (
		version uint64
		tag     uint64
		hasType bool
		body    []byte
	)

	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch {
		case num == envVersion && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			version = x
			return n
		case num == envType && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			tag, hasType = x, true
			return n
		case num == envBody && typ == protowire.BytesType:
			x, n := protowire.ConsumeBytes(v)
			body = x
			return n
		}
		return 0
	})
	if err != nil {
		return nil, err
	}

	if version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	if !hasType || tag > uint64(^uint32(0)) {
		return nil, fmt.Errorf("%w: missing or invalid type tag", ErrMalformed)
	}

	t := Type(tag)
	ctor, ok := constructors[t]
	if !ok {
		return &Unknown{Tag: t, Body: append([]byte(nil), body...)}, nil
	}

	m := ctor()
	if err := m.parseBody(body); err != nil {
		return nil, fmt.Errorf("%s: %w", t, err)
	}

	return m, nil
}

// walk iterates the fields of b. visit returns the number of value bytes it
// consumed, 0 to have the field skipped, or a negative protowire error code.
func walk(b []byte, visit func(num protowire.Number, typ protowire.Type, v []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed(n)
		}
		b = b[n:]

		m := visit(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return malformed(m)
		}
		b = b[m:]
	}

	return nil
}

func malformed(code int) error {
	return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(code))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}

	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func consumeString(typ protowire.Type, v []byte, dst *string) int {
	if typ != protowire.BytesType {
		return 0
	}

	s, n := protowire.ConsumeString(v)
	if n >= 0 {
		*dst = s
	}
	return n
}

func consumeVarint(typ protowire.Type, v []byte, dst *uint64) int {
	if typ != protowire.VarintType {
		return 0
	}

	x, n := protowire.ConsumeVarint(v)
	if n >= 0 {
		*dst = x
	}
	return n
}
