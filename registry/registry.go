// Package registry maps display names to logged in connections. Names are
// unique under Unicode case folding; the first registration wins.
package registry

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

var (
	// ErrEmptyName is returned for a name that is empty after trimming.
	ErrEmptyName = errors.New("registry: empty name")

	// ErrDuplicateName is returned when the folded name is already taken.
	ErrDuplicateName = errors.New("registry: duplicate name")
)

// Handle is the connection side of a session.
type Handle interface {
	ID() uuid.UUID
	LaneID() int
}

// Session binds a display name to a connection.
type Session[C Handle] struct {
	Name   string
	Conn   C
	LaneID int
}

// Registry is a concurrent, insertion-ordered set of sessions keyed by
// connection ID. Reads share the lock; register and unregister are exclusive.
type Registry[C Handle] struct {
	mu     sync.RWMutex
	order  []uuid.UUID
	byID   map[uuid.UUID]Session[C]
	folded map[string]uuid.UUID
	caser  cases.Caser
}

// New creates an empty Registry.
func New[C Handle]() *Registry[C] {
	return &Registry[C]{
		byID:   make(map[uuid.UUID]Session[C]),
		folded: make(map[string]uuid.UUID),
		caser:  cases.Fold(),
	}
}

// TryRegister claims name for conn.
//
// Parameters:
//   - name: The requested display name; surrounding whitespace is removed
//   - conn: The connection logging in
//
// Returns:
//   - The new session
//   - The sessions registered before it, in insertion order, captured under
//     the same lock so the caller's roster and notifications agree
//   - ErrEmptyName or ErrDuplicateName on rejection
func (r *Registry[C]) TryRegister(name string, conn C) (Session[C], []Session[C], error) {
	var peers []Session[C]
	s, err := r.TryRegisterFunc(name, conn, func(_ Session[C], p []Session[C]) {
		peers = p
	})

	return s, peers, err
}

// TryRegisterFunc is TryRegister with commit run under the write lock right
// after the session is added. Notifications queued from commit are therefore
// ordered against every other registry change. commit must not block or call
// back into the registry.
func (r *Registry[C]) TryRegisterFunc(name string, conn C, commit func(s Session[C], peers []Session[C])) (Session[C], error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session[C]{}, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Caser keeps state between calls and is not safe for concurrent use.
	key := r.caser.String(name)
	if _, taken := r.folded[key]; taken {
		return Session[C]{}, ErrDuplicateName
	}

	id := conn.ID()
	if _, exists := r.byID[id]; exists {
		return Session[C]{}, ErrDuplicateName
	}

	peers := make([]Session[C], 0, len(r.order))
	for _, other := range r.order {
		peers = append(peers, r.byID[other])
	}

	s := Session[C]{Name: name, Conn: conn, LaneID: conn.LaneID()}
	r.byID[id] = s
	r.folded[key] = id
	r.order = append(r.order, id)

	if commit != nil {
		commit(s, peers)
	}

	return s, nil
}

// Unregister removes the session of connection id. Calling it again is a no-op.
//
// Returns:
//   - The removed session and true, or false if none existed
func (r *Registry[C]) Unregister(id uuid.UUID) (Session[C], bool) {
	return r.UnregisterFunc(id, nil)
}

// UnregisterFunc is Unregister with commit run under the write lock after the
// removal, receiving the remaining sessions. The same restrictions as for
// TryRegisterFunc apply.
func (r *Registry[C]) UnregisterFunc(id uuid.UUID, commit func(s Session[C], remaining []Session[C])) (Session[C], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return Session[C]{}, false
	}

	delete(r.byID, id)
	delete(r.folded, r.caser.String(s.Name))
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if commit != nil {
		remaining := make([]Session[C], 0, len(r.order))
		for _, other := range r.order {
			remaining = append(remaining, r.byID[other])
		}
		commit(s, remaining)
	}

	return s, true
}

// Snapshot returns the registered names in insertion order.
func (r *Registry[C]) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, id := range r.order {
		names = append(names, r.byID[id].Name)
	}

	return names
}

// FindByName returns the session whose name equals name exactly.
func (r *Registry[C]) FindByName(name string) (Session[C], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if s := r.byID[id]; s.Name == name {
			return s, true
		}
	}

	return Session[C]{}, false
}

// Lookup returns the session of connection id.
func (r *Registry[C]) Lookup(id uuid.UUID) (Session[C], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	return s, ok
}

// Others returns every session except the one of connection id, in insertion order.
func (r *Registry[C]) Others(id uuid.UUID) []Session[C] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	others := make([]Session[C], 0, len(r.order))
	for _, other := range r.order {
		if other != id {
			others = append(others, r.byID[other])
		}
	}

	return others
}

// Len returns the number of sessions.
func (r *Registry[C]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
