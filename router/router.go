// Package router runs the per-connection protocol state machine: login,
// broadcast and direct chat, and departure notices. Every call for a given
// connection must come from that connection's lane.
package router

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/metrics"
	"github.com/cyberinferno/chatrelay/protocol"
	"github.com/cyberinferno/chatrelay/registry"
	"github.com/cyberinferno/chatrelay/safemap"
	"github.com/cyberinferno/chatrelay/wire"
)

// Conn is the router's view of a connection.
type Conn interface {
	ID() uuid.UUID
	LaneID() int
	// Post queues msg for delivery without blocking.
	Post(msg protocol.Message) bool
	SetUserName(name string)
}

// State is a connection's position in the protocol.
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Closed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// Router routes decoded frames between logged in connections.
type Router struct {
	sessions *registry.Registry[Conn]
	states   *safemap.SafeMap[uuid.UUID, State]
	logger   logger.Logger
	metrics  *metrics.Metrics
}

// New creates a Router with an empty session registry.
//
// Parameters:
//   - l: Logger; roster changes are logged at info
//   - m: Metrics sink, may be nil
//
// Returns:
//   - The Router
func New(l logger.Logger, m *metrics.Metrics) *Router {
	if l == nil {
		l = logger.NewNopLogger()
	}

	return &Router{
		sessions: registry.New[Conn](),
		states:   safemap.NewSafeMap[uuid.UUID, State](),
		logger:   l.With(logger.Field{Key: "component", Value: "router"}),
		metrics:  m,
	}
}

// Attach starts tracking conn in the Unauthenticated state.
func (r *Router) Attach(conn Conn) {
	r.states.Store(conn.ID(), Unauthenticated)
}

// State returns the protocol state of connection id. Unknown and finished
// connections are Closed.
func (r *Router) State(id uuid.UUID) State {
	if st, ok := r.states.Load(id); ok {
		return st
	}

	return Closed
}

// Users returns the logged in names in login order.
func (r *Router) Users() []string {
	return r.sessions.Snapshot()
}

// HandleFrame processes one decoded frame from conn. Frames that are not valid
// messages, or not valid in the current state, are dropped.
//
// Parameters:
//   - conn: The sending connection
//   - obj: The decoded frame
func (r *Router) HandleFrame(conn Conn, obj wire.Object) {
	st := r.State(conn.ID())
	if st == Closed {
		return
	}

	msg, err := protocol.ParseClient(obj)
	if err != nil {
		r.metrics.FrameInvalid(metrics.ReasonProtocol)
		r.logger.Debug("dropping invalid message", r.connField(conn), logger.Field{Key: "error", Value: err})
		return
	}

	switch m := msg.(type) {
	case protocol.Login:
		if st != Unauthenticated {
			r.logger.Debug("ignoring repeated login", r.connField(conn))
			return
		}

		r.login(conn, m)
	case protocol.Chat:
		if st != Authenticated {
			r.logger.Debug("ignoring message before login", r.connField(conn))
			return
		}

		r.chat(conn, m)
	}
}

// HandleClose ends conn's session, telling the remaining users if it was
// logged in. Calling it again is a no-op.
//
// Parameters:
//   - conn: The closed connection
//   - err: The transport error that ended it, or nil
func (r *Router) HandleClose(conn Conn, err error) {
	if _, ok := r.states.LoadAndDelete(conn.ID()); !ok {
		return
	}

	s, ok := r.sessions.UnregisterFunc(conn.ID(), func(s registry.Session[Conn], remaining []registry.Session[Conn]) {
		r.metrics.SessionsActive(len(remaining))

		notice := protocol.UserDisconnected{Username: s.Name}
		for _, peer := range remaining {
			peer.Conn.Post(notice)
		}
	})
	if !ok {
		return
	}

	fields := []logger.Field{r.connField(conn), {Key: "user", Value: s.Name}}
	if err != nil {
		fields = append(fields, logger.Field{Key: "error", Value: err})
	}
	r.logger.Info("user left", fields...)
	r.logRoster()
}

func (r *Router) login(conn Conn, m protocol.Login) {
	s, err := r.sessions.TryRegisterFunc(m.Username, conn, func(s registry.Session[Conn], peers []registry.Session[Conn]) {
		conn.SetUserName(s.Name)
		r.metrics.SessionsActive(len(peers) + 1)

		users := make([]string, 0, len(peers))
		for _, p := range peers {
			users = append(users, p.Name)
		}
		conn.Post(protocol.LoginResult{Success: true, Users: users})

		notice := protocol.NewUser{Username: s.Name}
		for _, p := range peers {
			p.Conn.Post(notice)
		}
	})
	switch {
	case errors.Is(err, registry.ErrEmptyName):
		r.logger.Debug("dropping login with empty name", r.connField(conn))
		return
	case errors.Is(err, registry.ErrDuplicateName):
		r.metrics.Login(metrics.ResultDuplicate)
		r.logger.Info("login rejected, name taken", r.connField(conn), logger.Field{Key: "user", Value: strings.TrimSpace(m.Username)})
		conn.Post(protocol.LoginResult{Success: false, Reason: protocol.ReasonDuplicateUsername})
		return
	case err != nil:
		r.logger.Error("login failed", r.connField(conn), logger.Field{Key: "error", Value: err})
		return
	}

	r.states.Store(conn.ID(), Authenticated)
	r.metrics.Login(metrics.ResultAccepted)

	r.logger.Info("user logged in", r.connField(conn), logger.Field{Key: "user", Value: s.Name})
	r.logRoster()
}

func (r *Router) chat(conn Conn, m protocol.Chat) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		r.logger.Debug("dropping empty message", r.connField(conn))
		return
	}

	sender, ok := r.sessions.Lookup(conn.ID())
	if !ok {
		return
	}

	out := protocol.Delivered{Sender: sender.Name, Text: text}
	if m.Recipient == nil {
		for _, peer := range r.sessions.Others(conn.ID()) {
			peer.Conn.Post(out)
		}
		r.metrics.MessageRouted(metrics.ModeBroadcast)
		return
	}

	target, ok := r.sessions.FindByName(*m.Recipient)
	if !ok {
		r.metrics.MessageRouted(metrics.ModeDropped)
		r.logger.Debug("dropping message for unknown user", r.connField(conn), logger.Field{Key: "recipient", Value: *m.Recipient})
		return
	}

	target.Conn.Post(out)
	r.metrics.MessageRouted(metrics.ModeUnicast)
}

func (r *Router) logRoster() {
	r.logger.Info("users list updated", logger.Field{Key: "users", Value: r.sessions.Snapshot()})
}

func (r *Router) connField(conn Conn) logger.Field {
	return logger.Field{Key: "conn_id", Value: conn.ID().String()}
}
