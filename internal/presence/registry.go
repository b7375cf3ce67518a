// Package presence tracks which identities hold a live connection on this
// instance and mirrors them into the shared online set.
package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"chatrelay/backend/internal/apperr"
	"chatrelay/backend/internal/metrics"
	"chatrelay/backend/internal/models"

	"github.com/rs/zerolog/log"
)

// Conn is one live transport session.
type Conn interface {
	Handle() string
	// Deliver queues evt for the peer. It reports false when the connection is
	// gone or saturated; callers treat that as a silent drop.
	Deliver(evt models.Outbound) bool
}

// Store is the slice of storage.Storage the registry needs.
type Store interface {
	SetSessionHandle(ctx context.Context, userID uint, handle string) (bool, error)
	ClearSessionHandle(ctx context.Context, userID uint, handle string) error
	AddOnline(ctx context.Context, userID uint) error
	RemoveOnline(ctx context.Context, userID uint) error
	OnlineMembers(ctx context.Context) ([]uint, error)
}

// Registry owns the identity to connection mapping. One identity maps to at
// most one connection; a later Register for the same identity wins.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
	users map[uint]Conn
	store Store
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		conns: make(map[string]Conn),
		users: make(map[uint]Conn),
		store: store,
	}
}

// Attach records a connection that has not registered an identity yet.
func (r *Registry) Attach(c Conn) {
	r.mu.Lock()
	r.conns[c.Handle()] = c
	r.mu.Unlock()
}

// Register binds userID to c and announces the new online set. The mapping is
// kept even when the shared set cannot be updated; that case returns an
// ErrPresenceStoreUnavailable error.
func (r *Registry) Register(ctx context.Context, userID uint, c Conn) error {
	if userID == 0 {
		return apperr.Validation("user_id is required")
	}
	ok, err := r.store.SetSessionHandle(ctx, userID, c.Handle())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %w: user %d", apperr.ErrPersistenceUnavailable, apperr.ErrNotFound, userID)
	}

	r.mu.Lock()
	var released []uint
	for id, owner := range r.users {
		// a connection holds one identity
		if id != userID && owner.Handle() == c.Handle() {
			delete(r.users, id)
			released = append(released, id)
		}
	}
	r.conns[c.Handle()] = c
	r.users[userID] = c
	metrics.OnlineUsers.Set(float64(len(r.users)))
	r.mu.Unlock()

	for _, id := range released {
		if err := r.store.ClearSessionHandle(ctx, id, c.Handle()); err != nil {
			log.Warn().Err(err).Uint("user_id", id).Msg("session handle not cleared on rebind")
		}
		if err := r.releaseOnline(ctx, id); err != nil {
			log.Warn().Err(err).Uint("user_id", id).Msg("online set not updated on rebind")
		}
	}

	storeErr := r.store.AddOnline(ctx, userID)
	if storeErr != nil {
		log.Warn().Err(storeErr).Uint("user_id", userID).Msg("online set not updated on register")
	}
	r.BroadcastOnline(ctx)
	return storeErr
}

// Unregister drops c. When c still owns an identity, that identity leaves the
// online set and the remaining connections are told; it returns the identity
// and whether one was removed. A handle that owns nothing is a no-op.
func (r *Registry) Unregister(ctx context.Context, c Conn) (uint, bool, error) {
	handle := c.Handle()

	r.mu.Lock()
	delete(r.conns, handle)
	var userID uint
	var found bool
	for id, owner := range r.users {
		if owner.Handle() == handle {
			userID, found = id, true
			delete(r.users, id)
			break
		}
	}
	metrics.OnlineUsers.Set(float64(len(r.users)))
	r.mu.Unlock()

	if !found {
		return 0, false, nil
	}

	if err := r.store.ClearSessionHandle(ctx, userID, handle); err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Str("handle", handle).Msg("session handle not cleared")
	}
	storeErr := r.releaseOnline(ctx, userID)
	if storeErr != nil {
		log.Warn().Err(storeErr).Uint("user_id", userID).Msg("online set not updated on unregister")
	}
	r.BroadcastOnline(ctx)
	return userID, true, storeErr
}

// releaseOnline removes userID from the shared online set. A Register for the
// same identity may land between the local removal and this call; the
// identity is then put back so the set matches the live mapping.
func (r *Registry) releaseOnline(ctx context.Context, userID uint) error {
	if err := r.store.RemoveOnline(ctx, userID); err != nil {
		return err
	}
	r.mu.RLock()
	_, live := r.users[userID]
	r.mu.RUnlock()
	if !live {
		return nil
	}
	log.Debug().Uint("user_id", userID).Msg("identity re-registered during release, restoring online entry")
	return r.store.AddOnline(ctx, userID)
}

// Lookup returns the local connection of userID.
func (r *Registry) Lookup(userID uint) (Conn, bool) {
	r.mu.RLock()
	c, ok := r.users[userID]
	r.mu.RUnlock()
	return c, ok
}

// Connections returns every live local connection, registered or not.
func (r *Registry) Connections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// LocalUsers returns the identities registered on this instance, ascending.
func (r *Registry) LocalUsers() []uint {
	r.mu.RLock()
	ids := make([]uint, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OnlineUsers reads the shared set, falling back to the local view when it is
// unreachable.
func (r *Registry) OnlineUsers(ctx context.Context) []uint {
	ids, err := r.store.OnlineMembers(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("falling back to local online users")
		return r.LocalUsers()
	}
	return ids
}

// Broadcast pushes evt to every live local connection and returns how many
// accepted it.
func (r *Registry) Broadcast(evt models.Outbound) int {
	n := 0
	for _, c := range r.Connections() {
		if c.Deliver(evt) {
			n++
		}
	}
	return n
}

// BroadcastOnline pushes the current online set to every live connection.
func (r *Registry) BroadcastOnline(ctx context.Context) {
	r.Broadcast(models.NewOutbound(models.EventOnlineUsers, models.OnlineUsers{Users: r.OnlineUsers(ctx)}))
}
