// Package status advances per-recipient delivery state and answers unread
// queries.
package status

import (
	"context"
	"sort"

	"chatrelay/backend/internal/apperr"
	"chatrelay/backend/internal/models"

	"github.com/rs/zerolog/log"
)

type Store interface {
	AdvanceStatus(ctx context.Context, messageID, userID uint, to models.DeliveryStatus) (bool, error)
	ListUnread(ctx context.Context, userID uint) ([]models.Message, error)
}

// Tracker moves status rows forward only. Regressions and unknown
// (message, user) pairs are ignored.
type Tracker struct {
	store Store
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

func (t *Tracker) MarkDelivered(ctx context.Context, messageID, userID uint) error {
	return t.advance(ctx, messageID, userID, models.StatusDelivered)
}

func (t *Tracker) MarkRead(ctx context.Context, messageID, userID uint) error {
	return t.advance(ctx, messageID, userID, models.StatusRead)
}

func (t *Tracker) advance(ctx context.Context, messageID, userID uint, to models.DeliveryStatus) error {
	if messageID == 0 || userID == 0 {
		return apperr.Validation("message_id and user_id are required")
	}
	changed, err := t.store.AdvanceStatus(ctx, messageID, userID, to)
	if err != nil {
		return err
	}
	if !changed {
		log.Debug().Uint("message_id", messageID).Uint("user_id", userID).Str("to", string(to)).Msg("status unchanged")
	}
	return nil
}

// FetchUnread returns the messages userID has not read, oldest first.
func (t *Tracker) FetchUnread(ctx context.Context, userID uint) ([]models.Message, error) {
	if userID == 0 {
		return nil, apperr.Validation("user_id is required")
	}
	msgs, err := t.store.ListUnread(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}
