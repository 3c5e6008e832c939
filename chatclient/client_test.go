package chatclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/protocol"
	"github.com/cyberinferno/chatrelay/tcpserver"
	"github.com/cyberinferno/chatrelay/wire"
)

type event struct {
	name string
	arg  any
}

type recorder struct {
	events chan event
}

func record(c *Client) *recorder {
	r := &recorder{events: make(chan event, 64)}
	c.OnConnected(func() { r.events <- event{name: "connected"} })
	c.OnLoggedIn(func(users []string) { r.events <- event{"loggedIn", users} })
	c.OnLoginFailed(func(reason string) { r.events <- event{"loginFailed", reason} })
	c.OnMessageReceived(func(sender, text string) { r.events <- event{"message", sender + ": " + text} })
	c.OnUserListChanged(func(users []string) { r.events <- event{"users", users} })
	c.OnDisconnected(func() { r.events <- event{name: "disconnected"} })
	c.OnTransportError(func(err TransportError) { r.events <- event{"transportError", err.Kind} })
	return r
}

func (r *recorder) next(t *testing.T) event {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("no event")
		return event{}
	}
}

func (r *recorder) expect(t *testing.T, name string, arg any) {
	t.Helper()
	e := r.next(t)
	assert.Equal(t, name, e.name)
	assert.Equal(t, arg, e.arg)
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-r.events:
		t.Fatalf("unexpected event %s %v", e.name, e.arg)
	case <-time.After(150 * time.Millisecond):
	}
}

func startServer(t *testing.T) (*tcpserver.TCPServer, string, int) {
	t.Helper()

	s := tcpserver.NewTCPServer("relay", "127.0.0.1:0", logger.NewNopLogger(), nil)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	host, portText, err := net.SplitHostPort(s.ListenAddr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)
	return s, host, port
}

func newClient(t *testing.T) (*Client, *recorder) {
	t.Helper()
	c := New(DefaultConfig())
	r := record(c)
	t.Cleanup(func() { _ = c.Close() })
	return c, r
}

func loggedIn(t *testing.T, host string, port int, name string, others []string) (*Client, *recorder) {
	t.Helper()
	c, r := newClient(t)
	require.NoError(t, c.Connect(host, port))
	r.expect(t, "connected", nil)
	require.NoError(t, c.Login(name))
	r.expect(t, "loggedIn", others)
	r.expect(t, "users", others)
	return c, r
}

func TestClient_chat(t *testing.T) {
	_, host, port := startServer(t)

	alice, ar := loggedIn(t, host, port, "alice", []string{})
	assert.True(t, alice.IsLoggedIn())
	assert.Equal(t, "alice", alice.UserName())

	bob, br := loggedIn(t, host, port, "bob", []string{"alice"})
	ar.expect(t, "users", []string{"bob"})
	assert.Equal(t, []string{"bob"}, alice.Users())

	t.Run("broadcast", func(t *testing.T) {
		require.True(t, alice.SendMessage("hello"))
		br.expect(t, "message", "alice: hello")
		ar.expectNone(t)
	})

	t.Run("direct", func(t *testing.T) {
		require.True(t, bob.SelectRecipient("alice"))
		assert.Equal(t, "alice", bob.Recipient())
		require.True(t, bob.SendMessage("psst"))
		ar.expect(t, "message", "bob: psst")
		bob.ClearRecipient()
		assert.Equal(t, "", bob.Recipient())
	})

	t.Run("unknown recipient is refused locally", func(t *testing.T) {
		assert.False(t, alice.SelectRecipient("nobody"))
		assert.Equal(t, "", alice.Recipient())
	})

	t.Run("blank text is not sent", func(t *testing.T) {
		assert.False(t, alice.SendMessage("   "))
		br.expectNone(t)
	})

	t.Run("peer leaving updates the list and clears the selection", func(t *testing.T) {
		require.True(t, alice.SelectRecipient("bob"))
		bob.Disconnect()
		br.expect(t, "disconnected", nil)
		ar.expect(t, "users", []string{})
		assert.Equal(t, "", alice.Recipient())
		assert.Equal(t, Disconnected, bob.GetState())
		assert.False(t, bob.IsLoggedIn())
	})
}

func TestClient_loginFailed(t *testing.T) {
	_, host, port := startServer(t)
	loggedIn(t, host, port, "carol", []string{})

	c, r := newClient(t)
	require.NoError(t, c.Connect(host, port))
	r.expect(t, "connected", nil)
	require.NoError(t, c.Login("CAROL"))
	r.expect(t, "loginFailed", "duplicate username")
	assert.False(t, c.IsLoggedIn())
	assert.False(t, c.SendMessage("hi"))

	require.NoError(t, c.Login("carol2"))
	r.expect(t, "loggedIn", []string{"carol"})
}

func TestClient_Connect_refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c, r := newClient(t)
	err = c.Connect("127.0.0.1", port)
	require.Error(t, err)
	r.expect(t, "transportError", Refused)
	r.expectNone(t)
	assert.Equal(t, Disconnected, c.GetState())
}

func TestClient_Connect_twice(t *testing.T) {
	_, host, port := startServer(t)
	c, r := newClient(t)

	require.NoError(t, c.Connect(host, port))
	r.expect(t, "connected", nil)
	assert.ErrorIs(t, c.Connect(host, port), ErrAlreadyConnected)
}

func TestClient_serverStopIsTransportErrorThenDisconnected(t *testing.T) {
	s, host, port := startServer(t)
	c, r := loggedIn(t, host, port, "dave", []string{})

	s.Stop()

	e := r.next(t)
	assert.Equal(t, "transportError", e.name)
	assert.Equal(t, RemoteClosed, e.arg)
	r.expect(t, "disconnected", nil)
	assert.Equal(t, Disconnected, c.GetState())
}

// stalledServer answers the first login and then never reads again.
func stalledServer(t *testing.T) (string, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		t.Cleanup(func() { _ = conn.Close() })

		decoder := wire.NewDecoder(0)
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if frames, _ := decoder.Feed(buf[:n]); len(frames) > 0 {
				break
			}
		}

		reply, _ := wire.Encode(protocol.LoginResult{Success: true, Users: []string{}})
		_, _ = conn.Write(reply)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestClient_partialWriteTimeoutDisconnects(t *testing.T) {
	host, port := stalledServer(t)

	config := DefaultConfig()
	config.WriteTimeout = 100 * time.Millisecond
	c := New(config)
	r := record(c)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Connect(host, port))
	r.expect(t, "connected", nil)
	require.NoError(t, c.Login("frank"))
	r.expect(t, "loggedIn", []string{})
	r.expect(t, "users", []string{})

	assert.False(t, c.SendMessage(strings.Repeat("x", 12<<20)))
	r.expect(t, "transportError", Timeout)
	r.expect(t, "disconnected", nil)
	r.expectNone(t)

	assert.Equal(t, Disconnected, c.GetState())
	assert.False(t, c.IsLoggedIn())
	assert.False(t, c.SendMessage("hi"))
}

func TestClient_notConnected(t *testing.T) {
	c, _ := newClient(t)

	assert.ErrorIs(t, c.Login("x"), ErrNotConnected)
	assert.False(t, c.SendMessage("x"))
	c.Disconnect()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.GetState())
	assert.ErrorIs(t, c.Connect("127.0.0.1", 1), ErrClosed)
}

func TestClassify(t *testing.T) {
	opErr := func(err error) error {
		return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", err)}
	}

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, Unknown},
		{"refused", opErr(syscall.ECONNREFUSED), Refused},
		{"dns", &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{Err: "no such host", Name: "nowhere", IsNotFound: true}}, HostNotFound},
		{"deadline", fmt.Errorf("write: %w", os.ErrDeadlineExceeded), Timeout},
		{"permission", opErr(syscall.EACCES), Permission},
		{"resource", opErr(syscall.EMFILE), Resource},
		{"eof", io.EOF, RemoteClosed},
		{"reset", opErr(syscall.ECONNRESET), RemoteClosed},
		{"unreachable", opErr(syscall.ENETUNREACH), Network},
		{"other", errors.New("boom"), Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorKind_Message(t *testing.T) {
	for k := Unknown; k <= Network; k++ {
		assert.NotEmpty(t, k.Message(), k.String())
	}
	assert.Equal(t, "The host refused the connection", Refused.Message())

	te := TransportError{Kind: Refused, Err: syscall.ECONNREFUSED}
	assert.ErrorIs(t, te, syscall.ECONNREFUSED)
	assert.Contains(t, te.Error(), "The host refused the connection")
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Unknown", ConnectionState(42).String())
}
