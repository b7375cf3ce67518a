package storage

import (
	"context"
	"time"

	"chatrelay/backend/internal/apperr"
	"chatrelay/backend/internal/models"
)

// AdvanceStatus moves a status row forward to "to". Rows already at or past
// "to", and pairs that were never seeded, are left untouched; the boolean
// reports whether a row changed.
func (s *Service) AdvanceStatus(ctx context.Context, messageID, userID uint, to models.DeliveryStatus) (bool, error) {
	preds := to.Predecessors()
	if len(preds) == 0 {
		return false, nil
	}
	from := make([]string, len(preds))
	for i, p := range preds {
		from[i] = string(p)
	}
	res := s.DB.WithContext(ctx).Model(&models.MessageStatus{}).
		Where("message_id = ? AND user_id = ? AND status IN ?", messageID, userID, from).
		Updates(map[string]any{"status": string(to), "updated_at": time.Now()})
	if res.Error != nil {
		return false, apperr.Persistence("advance status", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListUnread returns every message the user holds a non-read status row for,
// oldest first.
func (s *Service) ListUnread(ctx context.Context, userID uint) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Joins("JOIN message_status ms ON ms.message_id = messages.id").
		Where("ms.user_id = ? AND ms.status <> ?", userID, string(models.StatusRead)).
		Order("messages.created_at ASC, messages.id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, apperr.Persistence("list unread", err)
	}
	return msgs, nil
}
