// Package chatclient is an event-driven client for the relay. Register
// handlers, then Connect and Login. Every event is delivered in order on a
// single dispatch goroutine, so handlers never run concurrently with each
// other.
package chatclient

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/protocol"
	"github.com/cyberinferno/chatrelay/queue"
	"github.com/cyberinferno/chatrelay/wire"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("chatclient: client is closed")

	// ErrNotConnected is returned by operations that need a connection.
	ErrNotConnected = errors.New("chatclient: not connected")

	// ErrAlreadyConnected is returned by Connect while connected or connecting.
	ErrAlreadyConnected = errors.New("chatclient: already connected or connecting")
)

// ConnectionState represents the current state of the connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Dial in progress
	Connected                           // Connected, possibly logged in
	Closed                              // Client closed, no further use
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
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Config holds client settings.
type Config struct {
	// ConnectionTimeout bounds dialing; 0 means no timeout.
	ConnectionTimeout time.Duration
	// WriteTimeout bounds each frame write; 0 means no timeout.
	WriteTimeout time.Duration
	// ReadBufferSize is the size of each socket read.
	ReadBufferSize int
	// MaxFrameSize bounds inbound frames; 0 selects wire.DefaultMaxFrameSize.
	MaxFrameSize uint32
	// Logger receives diagnostics; nil discards them.
	Logger logger.Logger
}

// DefaultConfig returns a Config with a 10s connect timeout, 10s write
// timeout and 4096 byte reads.
func DefaultConfig() Config {
	return Config{
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadBufferSize:    4096,
	}
}

// Handlers are invoked on the dispatch goroutine.
type (
	ConnectedHandler       func()
	LoggedInHandler        func(users []string)
	LoginFailedHandler     func(reason string)
	MessageReceivedHandler func(sender, text string)
	UserListChangedHandler func(users []string)
	DisconnectedHandler    func()
	TransportErrorHandler  func(err TransportError)
)

// Client is a relay client. It is safe for concurrent use.
type Client struct {
	config Config
	logger logger.Logger

	mu        sync.RWMutex
	conn      net.Conn
	state     ConnectionState
	closing   bool
	pending   string
	userName  string
	loggedIn  bool
	users     []string
	recipient string

	onConnected       ConnectedHandler
	onLoggedIn        LoggedInHandler
	onLoginFailed     LoginFailedHandler
	onMessageReceived MessageReceivedHandler
	onUserListChanged UserListChangedHandler
	onDisconnected    DisconnectedHandler
	onTransportError  TransportErrorHandler

	writeMu    sync.Mutex
	events     *queue.Queue[func()]
	eventsDone chan struct{}
	wg         sync.WaitGroup
}

// New creates a disconnected Client and starts its dispatch goroutine. Call
// Close when done.
//
// Parameters:
//   - config: Client settings, e.g. from DefaultConfig
//
// Returns:
//   - The Client
func New(config Config) *Client {
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = 4096
	}

	l := config.Logger
	if l == nil {
		l = logger.NewNopLogger()
	}

	c := &Client{
		config:     config,
		logger:     l.With(logger.Field{Key: "component", Value: "chatclient"}),
		state:      Disconnected,
		events:     queue.New[func()](16),
		eventsDone: make(chan struct{}),
	}
	go c.dispatch()

	return c
}

// OnConnected registers the handler for a completed connection.
// Repeated calls replace the previous handler; nil clears it.
func (c *Client) OnConnected(h ConnectedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = h
}

// OnLoggedIn registers the handler for an accepted login. It receives the
// users already online.
func (c *Client) OnLoggedIn(h LoggedInHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLoggedIn = h
}

// OnLoginFailed registers the handler for a rejected login.
func (c *Client) OnLoginFailed(h LoginFailedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLoginFailed = h
}

// OnMessageReceived registers the handler for chat messages.
func (c *Client) OnMessageReceived(h MessageReceivedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessageReceived = h
}

// OnUserListChanged registers the handler for roster changes. It receives a
// copy of the full list.
func (c *Client) OnUserListChanged(h UserListChangedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUserListChanged = h
}

// OnDisconnected registers the handler for the end of an established connection.
func (c *Client) OnDisconnected(h DisconnectedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = h
}

// OnTransportError registers the handler for dial, read and write errors.
func (c *Client) OnTransportError(h TransportErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTransportError = h
}

// Connect dials address:port. On failure the transport error handler runs
// and the client stays disconnected and may retry.
//
// Parameters:
//   - address: Host name or IP of the server
//   - port: TCP port of the server
//
// Returns:
//   - nil once connected; ErrClosed, ErrAlreadyConnected or the dial error
func (c *Client) Connect(address string, port int) error {
	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	case Connected, Connecting:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = Connecting
	c.mu.Unlock()

	target := net.JoinHostPort(address, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", target)
	if err != nil {
		c.mu.Lock()
		if c.state == Connecting {
			c.state = Disconnected
		}
		c.mu.Unlock()

		c.logger.Warn("connect failed", logger.Field{Key: "addr", Value: target}, logger.Field{Key: "error", Value: err})
		c.emitTransportError(err)
		return err
	}

	c.mu.Lock()
	if c.state != Connecting {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = Connected
	c.closing = false
	c.mu.Unlock()

	c.logger.Info("connected", logger.Field{Key: "addr", Value: target})
	c.emitConnected()

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// Login asks the server for username. The outcome arrives as a logged in or
// login failed event.
//
// Returns:
//   - ErrNotConnected if there is no connection, or a write error
func (c *Client) Login(username string) error {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending = username
	c.mu.Unlock()

	return c.write(protocol.Login{Username: username})
}

// SendMessage sends text to the selected recipient, or to everyone when none
// is selected.
//
// Returns:
//   - true if the message was written; false when text is blank, the client
//     is not logged in, or the write failed
func (c *Client) SendMessage(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	c.mu.RLock()
	ready := c.state == Connected && c.loggedIn
	recipient := c.recipient
	c.mu.RUnlock()

	if !ready {
		return false
	}

	msg := protocol.Chat{Text: text}
	if recipient != "" {
		msg.Recipient = protocol.To(recipient)
	}

	return c.write(msg) == nil
}

// SelectRecipient directs later messages to name.
//
// Returns:
//   - false if name is not a known online user; the selection is unchanged
func (c *Client) SelectRecipient(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !slices.Contains(c.users, name) {
		return false
	}

	c.recipient = name
	return true
}

// ClearRecipient directs later messages to everyone.
func (c *Client) ClearRecipient() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recipient = ""
}

// Recipient returns the selected recipient, or "" for everyone.
func (c *Client) Recipient() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recipient
}

// Users returns a copy of the other users online.
func (c *Client) Users() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.users)
}

// UserName returns the accepted login name, or "" when not logged in.
func (c *Client) UserName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userName
}

// IsLoggedIn reports whether the server accepted a login on this connection.
func (c *Client) IsLoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggedIn
}

// GetState returns the current connection state.
func (c *Client) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Disconnect closes the connection; the disconnected event follows. Connect
// may be called again afterwards. Safe to call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		c.closing = true
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	c.wg.Wait()
}

// Close disconnects, delivers every pending event and stops the dispatch
// goroutine. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.Disconnect()

	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()

	c.events.Close()
	<-c.eventsDone
	return nil
}

func (c *Client) write(msg protocol.Message) error {
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}

		defer func() {
			_ = conn.SetWriteDeadline(time.Time{})
		}()
	}

	if n, err := conn.Write(frame); err != nil {
		c.logger.Warn("write failed", logger.Field{Key: "error", Value: err}, logger.Field{Key: "written", Value: n})
		// A partly written frame leaves the peer mid-frame; only a frame
		// that never started can be retried on the same stream.
		if n == 0 && Classify(err) == Timeout {
			c.emitTransportError(err)
			return err
		}

		c.fail(conn, err)
		return err
	}

	c.logger.Debug("frame sent", logger.Field{Key: "json", Value: string(frame[wire.HeaderSize:])})
	return nil
}

// fail closes conn after a fatal write error; the read loop reports it.
func (c *Client) fail(conn net.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn && !c.closing {
		c.conn = nil
		c.mu.Unlock()
		c.emitTransportError(err)
		_ = conn.Close()
		return
	}
	c.mu.Unlock()
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	decoder := wire.NewDecoder(c.config.MaxFrameSize)
	buf := make([]byte, c.config.ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			frames, ferr := decoder.Feed(buf[:n])
			for _, f := range frames {
				c.handleFrame(f)
			}

			if ferr != nil {
				err = ferr
			}
		}

		if err != nil {
			c.finish(conn, err)
			return
		}
	}
}

// finish ends the connection after the read loop stopped. A local Disconnect
// emits only the disconnected event; any other cause emits the transport
// error first unless a failed write already reported it.
func (c *Client) finish(conn net.Conn, err error) {
	_ = conn.Close()

	c.mu.Lock()
	local := c.closing
	reported := c.conn != conn
	c.conn = nil
	c.closing = false
	c.loggedIn = false
	c.userName = ""
	c.users = nil
	c.recipient = ""
	if c.state == Connected {
		c.state = Disconnected
	}
	c.mu.Unlock()

	if !local && !reported {
		c.logger.Warn("connection lost", logger.Field{Key: "error", Value: err})
		c.emitTransportError(err)
	}

	c.logger.Info("disconnected")
	c.emit(func(c *Client) func() {
		if h := c.onDisconnected; h != nil {
			return h
		}
		return nil
	})
}

func (c *Client) handleFrame(f wire.Frame) {
	if f.Err != nil {
		c.logger.Debug("dropping malformed frame", logger.Field{Key: "error", Value: f.Err})
		return
	}

	c.logger.Debug("frame received", logger.Field{Key: "json", Value: string(f.Raw)})

	msg, err := protocol.ParseServer(f.Object)
	if err != nil {
		c.logger.Debug("dropping invalid message", logger.Field{Key: "error", Value: err})
		return
	}

	switch m := msg.(type) {
	case protocol.LoginResult:
		c.handleLoginResult(m)
	case protocol.NewUser:
		c.mu.Lock()
		if !slices.Contains(c.users, m.Username) {
			c.users = append(c.users, m.Username)
		}
		users := slices.Clone(c.users)
		c.mu.Unlock()
		c.emitUserList(users)
	case protocol.UserDisconnected:
		c.mu.Lock()
		c.users = slices.DeleteFunc(c.users, func(u string) bool { return u == m.Username })
		if c.recipient == m.Username {
			c.recipient = ""
		}
		users := slices.Clone(c.users)
		c.mu.Unlock()
		c.emitUserList(users)
	case protocol.Delivered:
		c.emit(func(c *Client) func() {
			if h := c.onMessageReceived; h != nil {
				return func() { h(m.Sender, m.Text) }
			}
			return nil
		})
	}
}

func (c *Client) handleLoginResult(m protocol.LoginResult) {
	if !m.Success {
		c.emit(func(c *Client) func() {
			if h := c.onLoginFailed; h != nil {
				return func() { h(m.Reason) }
			}
			return nil
		})
		return
	}

	c.mu.Lock()
	if c.loggedIn {
		c.mu.Unlock()
		return
	}
	c.loggedIn = true
	c.userName = c.pending
	c.users = slices.Clone(m.Users)
	if c.users == nil {
		c.users = []string{}
	}
	users := slices.Clone(c.users)
	c.mu.Unlock()

	c.emit(func(c *Client) func() {
		if h := c.onLoggedIn; h != nil {
			return func() { h(slices.Clone(users)) }
		}
		return nil
	})
	c.emitUserList(users)
}

func (c *Client) emitConnected() {
	c.emit(func(c *Client) func() {
		if h := c.onConnected; h != nil {
			return h
		}
		return nil
	})
}

func (c *Client) emitUserList(users []string) {
	c.emit(func(c *Client) func() {
		if h := c.onUserListChanged; h != nil {
			return func() { h(users) }
		}
		return nil
	})
}

func (c *Client) emitTransportError(err error) {
	te := TransportError{Kind: Classify(err), Err: err}
	c.emit(func(c *Client) func() {
		if h := c.onTransportError; h != nil {
			return func() { h(te) }
		}
		return nil
	})
}

// emit binds the current handler under the read lock and queues the call.
func (c *Client) emit(bind func(c *Client) func()) {
	c.mu.RLock()
	call := bind(c)
	c.mu.RUnlock()

	if call != nil {
		c.events.Push(call)
	}
}

func (c *Client) dispatch() {
	defer close(c.eventsDone)

	for {
		call, ok := c.events.Pop()
		if !ok {
			return
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("event handler panicked", logger.Field{Key: "panic", Value: fmt.Sprint(r)})
				}
			}()
			call()
		}()
	}
}
