package storage

import (
	"context"
	"errors"

	"chatrelay/backend/internal/apperr"
	"chatrelay/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveMessage persists msg, bumps the room's last_message_at and seeds a
// "sent" status row for every other participant, all in one transaction.
// It returns the recipients that received a status row.
func (s *Service) SaveMessage(ctx context.Context, msg *models.Message) ([]uint, error) {
	msg.Type = msg.Type.OrDefault()
	var recipients []uint
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.ChatRoom{}).
			Where("id = ?", msg.RoomID).
			Update("last_message_at", msg.CreatedAt).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.RoomParticipant{}).
			Where("room_id = ? AND user_id <> ?", msg.RoomID, msg.SenderID).
			Order("user_id").
			Pluck("user_id", &recipients).Error; err != nil {
			return err
		}
		if len(recipients) == 0 {
			return nil
		}
		rows := make([]models.MessageStatus, 0, len(recipients))
		for _, uid := range recipients {
			rows = append(rows, models.MessageStatus{
				MessageID: msg.ID,
				UserID:    uid,
				Status:    models.StatusSent,
				UpdatedAt: msg.CreatedAt,
			})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if err != nil {
		return nil, apperr.Persistence("save message", err)
	}
	return recipients, nil
}

// ListRoomMessages pages backwards from beforeID (0 = newest) and returns the
// page in ascending creation order.
func (s *Service) ListRoomMessages(ctx context.Context, roomID uint, limit int, beforeID uint) ([]models.Message, error) {
	q := s.DB.WithContext(ctx).Where("room_id = ?", roomID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []models.Message
	if err := q.Order("created_at desc, id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, apperr.Persistence("list room messages", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SoftDeleteMessage flags a message as deleted if senderID wrote it.
func (s *Service) SoftDeleteMessage(ctx context.Context, messageID, senderID uint) (*models.Message, error) {
	var msg models.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND sender_id = ?", messageID, senderID).Take(&msg).Error; err != nil {
			return err
		}
		msg.IsDeleted = true
		return tx.Model(&msg).Update("is_deleted", true).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("message %d of user %d", messageID, senderID)
	}
	if err != nil {
		return nil, apperr.Persistence("delete message", err)
	}
	return &msg, nil
}
