// Package rooms resolves the conversation a message belongs to.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"chatrelay/backend/internal/apperr"
	"chatrelay/backend/internal/models"

	"github.com/rs/zerolog/log"
)

// Store is the slice of storage.Storage the resolver needs.
type Store interface {
	CountUsers(ctx context.Context, ids []uint) (int64, error)
	FindPrivateRoom(ctx context.Context, a, b uint) (*models.ChatRoom, error)
	CreatePrivateRoom(ctx context.Context, a, b uint) (*models.ChatRoom, error)
	CreateGroupRoom(ctx context.Context, name string, creator uint, members []uint) (*models.ChatRoom, error)
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

// Resolver maps user pairs to private rooms and creates group rooms.
// Private resolution is serialised per unordered pair on this instance; the
// unique pair key in the datastore covers concurrent instances.
type Resolver struct {
	store Store

	mu    sync.Mutex
	pairs map[string]*pairLock
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, pairs: make(map[string]*pairLock)}
}

func (r *Resolver) lockPair(key string) func() {
	r.mu.Lock()
	l, ok := r.pairs[key]
	if !ok {
		l = &pairLock{}
		r.pairs[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.pairs, key)
		}
		r.mu.Unlock()
	}
}

// ResolvePrivate returns the private room of {a, b}, creating it on first use.
// (a, b) and (b, a) always yield the same room.
func (r *Resolver) ResolvePrivate(ctx context.Context, a, b uint) (uint, error) {
	if a == 0 || b == 0 {
		return 0, apperr.Validation("both user ids are required")
	}
	lo, hi := models.NormalizePair(a, b)
	unlock := r.lockPair(models.PairKey(lo, hi))
	defer unlock()

	room, err := r.store.FindPrivateRoom(ctx, lo, hi)
	if err != nil {
		return 0, err
	}
	if room != nil {
		return room.ID, nil
	}

	if err := r.requireUsers(ctx, dedupe([]uint{lo, hi})); err != nil {
		return 0, err
	}
	room, err = r.store.CreatePrivateRoom(ctx, lo, hi)
	if errors.Is(err, apperr.ErrConflict) {
		// lost a race the store could not settle in one transaction
		room, err = r.store.FindPrivateRoom(ctx, lo, hi)
		if err == nil && room == nil {
			err = apperr.Persistence("resolve private room", fmt.Errorf("pair %s vanished after conflict", models.PairKey(lo, hi)))
		}
	}
	if err != nil {
		return 0, err
	}
	log.Debug().Uint("room_id", room.ID).Uint("user_a", lo).Uint("user_b", hi).Msg("private room resolved")
	return room.ID, nil
}

// CreateGroup creates a group room holding members. Duplicates coalesce and
// the creator must be listed among the members.
func (r *Resolver) CreateGroup(ctx context.Context, name string, creator uint, members []uint) (uint, error) {
	if creator == 0 {
		return 0, apperr.Validation("created_by is required")
	}
	ids := dedupe(members)
	if len(ids) == 0 {
		return 0, apperr.ErrInvalidGroupMembership
	}
	if !contains(ids, creator) {
		return 0, apperr.Validation("creator %d must be a member", creator)
	}
	for _, id := range ids {
		if id == 0 {
			return 0, apperr.Validation("user ids must be positive")
		}
	}
	if err := r.requireUsers(ctx, ids); err != nil {
		return 0, err
	}
	room, err := r.store.CreateGroupRoom(ctx, name, creator, ids)
	if err != nil {
		return 0, err
	}
	log.Info().Uint("room_id", room.ID).Uint("created_by", creator).Int("members", len(ids)).Msg("group created")
	return room.ID, nil
}

func (r *Resolver) requireUsers(ctx context.Context, ids []uint) error {
	n, err := r.store.CountUsers(ctx, ids)
	if err != nil {
		return err
	}
	if n != int64(len(ids)) {
		return apperr.NotFound("one or more of users %v", ids)
	}
	return nil
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func contains(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
