package main

import (
	"bytes"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/tcpserver"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startServer(t *testing.T) (string, int) {
	t.Helper()
	s := tcpserver.NewTCPServer("relay", "127.0.0.1:0", logger.NewNopLogger(), nil)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	host, portText, err := net.SplitHostPort(s.ListenAddr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)
	return host, port
}

func TestRun_requiresName(t *testing.T) {
	err := run("127.0.0.1", 1, "  ", false, strings.NewReader(""), &syncBuffer{})
	assert.ErrorContains(t, err, "display name is required")
}

func TestRun_session(t *testing.T) {
	host, port := startServer(t)

	out := &syncBuffer{}
	input := "/users\n/to nobody\n/all\nhello\n/quit\n"
	require.NoError(t, run(host, port, "alice", false, strings.NewReader(input), out))

	text := out.String()
	assert.Contains(t, text, "* logged in as alice")
	assert.Contains(t, text, "* Can't find user with name nobody")
	assert.Contains(t, text, "* sending to everyone")
}

func TestRun_connectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	err = run("127.0.0.1", port, "alice", false, strings.NewReader(""), &syncBuffer{})
	assert.ErrorContains(t, err, "connect")
}
