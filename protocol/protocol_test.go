package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/chatrelay/wire"
)

func decodeOne(t *testing.T, m Message) wire.Object {
	t.Helper()

	frame, err := wire.Encode(m)
	require.NoError(t, err)

	frames, err := wire.NewDecoder(0).Feed(frame)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.NoError(t, frames[0].Err)
	return frames[0].Object
}

func TestRoundTrip_clientMessages(t *testing.T) {
	for _, m := range []Message{
		Login{Username: "alice"},
		Chat{Text: "hello everyone"},
		Chat{Text: "psst", Recipient: To("bob")},
		Chat{Text: "to nobody in particular", Recipient: To("")},
	} {
		got, err := ParseClient(decodeOne(t, m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestRoundTrip_serverMessages(t *testing.T) {
	for _, m := range []Message{
		LoginResult{Success: true, Users: []string{}},
		LoginResult{Success: true, Users: []string{"alice", "bob"}},
		LoginResult{Success: false, Reason: ReasonDuplicateUsername},
		NewUser{Username: "carol"},
		UserDisconnected{Username: "dave"},
		Delivered{Sender: "alice", Text: "hi"},
	} {
		got, err := ParseServer(decodeOne(t, m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestMarshalJSON_wireShapes(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"login", Login{Username: "alice"}, `{"type":"login","username":"alice"}`},
		{"login success with nil users", LoginResult{Success: true}, `{"type":"login","success":true,"users":[]}`},
		{"login failure", LoginResult{Reason: ReasonDuplicateUsername}, `{"type":"login","success":false,"reason":"duplicate username"}`},
		{"new user", NewUser{Username: "bob"}, `{"type":"new user","username":"bob"}`},
		{"user disconnected", UserDisconnected{Username: "bob"}, `{"type":"user disconnected","username":"bob"}`},
		{"broadcast chat", Chat{Text: "hi"}, `{"type":"message","text":"hi"}`},
		{"direct chat", Chat{Text: "hi", Recipient: To("bob")}, `{"type":"message","text":"hi","recipient":"bob"}`},
		{"delivered", Delivered{Sender: "alice", Text: "hi"}, `{"type":"message","sender":"alice","text":"hi"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))
		})
	}
}

func TestParseClient(t *testing.T) {
	t.Run("type tag matches case-insensitively", func(t *testing.T) {
		m, err := ParseClient(wire.Object{"type": "LOGIN", "username": "alice"})
		require.NoError(t, err)
		assert.Equal(t, Login{Username: "alice"}, m)

		m, err = ParseClient(wire.Object{"type": "Message", "text": "x"})
		require.NoError(t, err)
		assert.Equal(t, KindChat, m.Kind())
	})

	t.Run("non-string recipient is treated as absent", func(t *testing.T) {
		m, err := ParseClient(wire.Object{"type": "message", "text": "x", "recipient": nil})
		require.NoError(t, err)
		assert.Nil(t, m.(Chat).Recipient)

		m, err = ParseClient(wire.Object{"type": "message", "text": "x", "recipient": 7.0})
		require.NoError(t, err)
		assert.Nil(t, m.(Chat).Recipient)
	})

	t.Run("invalid objects", func(t *testing.T) {
		tests := []struct {
			name string
			obj  wire.Object
			want error
		}{
			{"missing type", wire.Object{"username": "alice"}, ErrMissingType},
			{"non-string type", wire.Object{"type": 1.0}, ErrMissingType},
			{"unknown type", wire.Object{"type": "shout"}, ErrUnknownType},
			{"server-only type", wire.Object{"type": "new user", "username": "x"}, ErrUnknownType},
			{"login without username", wire.Object{"type": "login"}, ErrMissingField},
			{"login with numeric username", wire.Object{"type": "login", "username": 3.0}, ErrMissingField},
			{"message without text", wire.Object{"type": "message", "recipient": "bob"}, ErrMissingField},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				m, err := ParseClient(tt.obj)
				assert.ErrorIs(t, err, tt.want)
				assert.Nil(t, m)
			})
		}
	})
}

func TestParseServer(t *testing.T) {
	t.Run("login result without success is invalid", func(t *testing.T) {
		_, err := ParseServer(wire.Object{"type": "login", "users": []any{}})
		assert.ErrorIs(t, err, ErrMissingField)
	})

	t.Run("login result with non-string user is invalid", func(t *testing.T) {
		_, err := ParseServer(wire.Object{"type": "login", "success": true, "users": []any{"a", 1.0}})
		assert.ErrorIs(t, err, ErrMissingField)
	})

	t.Run("delivered message needs sender", func(t *testing.T) {
		_, err := ParseServer(wire.Object{"type": "message", "text": "hi"})
		assert.ErrorIs(t, err, ErrMissingField)
	})

	t.Run("client-only login request is not a login result", func(t *testing.T) {
		_, err := ParseServer(wire.Object{"type": "login", "username": "alice"})
		assert.ErrorIs(t, err, ErrMissingField)
	})
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "loginResult", KindLoginResult.String())
	assert.Equal(t, "chat", KindChat.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
