package storage

import (
	"context"
	"sort"
	"strconv"

	"chatrelay/backend/internal/apperr"

	"github.com/rs/zerolog/log"
)

// AddOnline adds the user to the shared online set.
func (s *Service) AddOnline(ctx context.Context, userID uint) error {
	if err := s.Redis.SAdd(ctx, OnlineUsersKey, userID).Err(); err != nil {
		return apperr.PresenceStore("add online user", err)
	}
	return nil
}

// RemoveOnline removes the user from the shared online set.
func (s *Service) RemoveOnline(ctx context.Context, userID uint) error {
	if err := s.Redis.SRem(ctx, OnlineUsersKey, userID).Err(); err != nil {
		return apperr.PresenceStore("remove online user", err)
	}
	return nil
}

// OnlineMembers returns the shared online set in ascending order.
func (s *Service) OnlineMembers(ctx context.Context) ([]uint, error) {
	raw, err := s.Redis.SMembers(ctx, OnlineUsersKey).Result()
	if err != nil {
		return nil, apperr.PresenceStore("list online users", err)
	}
	ids := make([]uint, 0, len(raw))
	for _, m := range raw {
		v, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			log.Warn().Str("member", m).Msg("skipping malformed online set member")
			continue
		}
		ids = append(ids, uint(v))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// PublishPresenceChange tells other instances the online set changed.
func (s *Service) PublishPresenceChange(ctx context.Context, origin string) error {
	if err := s.Redis.Publish(ctx, PresenceChannel, origin).Err(); err != nil {
		return apperr.PresenceStore("publish presence change", err)
	}
	return nil
}

// SubscribePresence streams the origin ids published on PresenceChannel until
// ctx ends or the returned close func is called.
func (s *Service) SubscribePresence(ctx context.Context) (<-chan string, func() error) {
	pubsub := s.Redis.Subscribe(ctx, PresenceChannel)
	out := make(chan string)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, pubsub.Close
}
