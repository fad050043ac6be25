package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/gemcarry/message"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    message.Message
		quit    bool
		wantErr bool
	}{
		{line: "", want: nil},
		{line: "quit", quit: true},
		{line: "EXIT", quit: true},
		{line: "login alice pw1", want: &message.LoginRequest{Username: "alice", Password: "pw1"}},
		{line: "create bob pw", want: &message.CreateUserRequest{Username: "bob", Password: "pw"}},
		{line: "login alice", wantErr: true},
		{line: "join", want: &message.JoinSession{}},
		{line: "ping", want: &message.Heartbeat{}},
		{line: "chat", wantErr: true},
		{line: "dance", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			m, quit, err := parseCommand(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.quit, quit)
			assert.Equal(t, tt.want, m)
		})
	}
}

func TestParseCommand_ChatKeepsSpacing(t *testing.T) {
	m, _, err := parseCommand("  chat hello   there ")
	require.NoError(t, err)
	chat, ok := m.(*message.Chat)
	require.True(t, ok)
	assert.Equal(t, "hello   there", chat.Text)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "joined session 3 (2 players)", describe(&message.SessionJoined{SessionID: 3, Players: 2}))
	assert.Equal(t, "login success=true status=0", describe(&message.LoginResponse{Success: true}))
	assert.Equal(t, "create success=false status=1", describe(&message.CreateUserResponse{Status: 1}))
	assert.Contains(t, describe(&message.Chat{Sender: "a", Text: "hi"}), "a: hi")
	assert.Equal(t, message.TypeHeartbeat.String(), describe(&message.Heartbeat{}))
}
