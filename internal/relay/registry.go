package relay

import (
	"sync"
	"time"

	"relay-service/internal/models"
)

type binding struct {
	identity *models.Identity
	joinedAt time.Time
}

// Registry tracks every live connection and the identity bound to it, if
// any. Access is mutex-serialized: register and unregister arrive from
// different connection goroutines. The registry is constructed explicitly
// and injected, never a package singleton.
type Registry struct {
	mu     sync.RWMutex
	conns  map[*Conn]*binding
	byUser map[string]map[*Conn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[*Conn]*binding),
		byUser: make(map[string]map[*Conn]struct{}),
	}
}

// Add starts tracking a connection at socket-open, before any identity is
// known.
func (r *Registry) Add(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn]; !ok {
		r.conns[conn] = &binding{joinedAt: time.Now()}
	}
}

// Register binds an identity to a connection. Rebinding (a rename, or an
// identify that adds a userId) mutates the existing entry. Two connections
// bound to the same userId coexist; the registry does not reconcile them.
func (r *Registry) Register(conn *Conn, identity models.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.conns[conn]
	if !ok {
		b = &binding{joinedAt: time.Now()}
		r.conns[conn] = b
	}

	if b.identity != nil && b.identity.UserID != "" && b.identity.UserID != identity.UserID {
		r.dropUserIndex(b.identity.UserID, conn)
	}
	b.identity = &models.Identity{UserID: identity.UserID, Username: identity.Username}

	if identity.UserID != "" {
		if r.byUser[identity.UserID] == nil {
			r.byUser[identity.UserID] = make(map[*Conn]struct{})
		}
		r.byUser[identity.UserID][conn] = struct{}{}
	}
}

// Unregister removes a connection. It is idempotent: unknown connections
// are ignored. The identity that was bound, if any, is returned so the
// caller can emit the leave notifications.
func (r *Registry) Unregister(conn *Conn) (models.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.conns[conn]
	if !ok {
		return models.Identity{}, false
	}
	delete(r.conns, conn)

	if b.identity == nil {
		return models.Identity{}, false
	}
	if b.identity.UserID != "" {
		r.dropUserIndex(b.identity.UserID, conn)
	}
	return *b.identity, true
}

func (r *Registry) dropUserIndex(userID string, conn *Conn) {
	if set, ok := r.byUser[userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// Snapshot rebuilds the presence list from scratch: every identified
// connection, in no particular order.
func (r *Registry) Snapshot() []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Participant, 0, len(r.conns))
	for _, b := range r.conns {
		if b.identity == nil {
			continue
		}
		out = append(out, models.Participant{
			UserID:   b.identity.UserID,
			Username: b.identity.Username,
			JoinedAt: b.joinedAt.UnixMilli(),
		})
	}
	return out
}

// FindByUserID returns every connection currently bound to the user.
// Direct delivery fans out to all of them.
func (r *Registry) FindByUserID(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	out := make([]*Conn, 0, len(set))
	for conn := range set {
		out = append(out, conn)
	}
	return out
}

// Connections returns every tracked connection, identified or not.
// Broadcasts reach unidentified connections too.
func (r *Registry) Connections() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Conn, 0, len(r.conns))
	for conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

// Identity returns the identity bound to a connection, if any.
func (r *Registry) Identity(conn *Conn) (models.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.conns[conn]
	if !ok || b.identity == nil {
		return models.Identity{}, false
	}
	return *b.identity, true
}
