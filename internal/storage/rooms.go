package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatrelay/backend/internal/apperr"
	"chatrelay/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FindPrivateRoom returns the non-group room both users participate in, or
// nil when there is none. The broadcast room never matches.
func (s *Service) FindPrivateRoom(ctx context.Context, a, b uint) (*models.ChatRoom, error) {
	lo, hi := models.NormalizePair(a, b)
	var room models.ChatRoom
	q := s.DB.WithContext(ctx)
	if lo == hi {
		// a self-conversation shares its only participant with every other
		// room of that user, so only the pair key identifies it
		q = q.Where("chat_rooms.pair_key = ?", models.PairKey(lo, hi))
	}
	err := q.
		Joins("JOIN room_participants rp1 ON rp1.room_id = chat_rooms.id AND rp1.user_id = ?", lo).
		Joins("JOIN room_participants rp2 ON rp2.room_id = chat_rooms.id AND rp2.user_id = ?", hi).
		Where("chat_rooms.id <> ? AND chat_rooms.is_group = ?", models.BroadcastRoomID, false).
		Order("chat_rooms.id").
		Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("find private room", err)
	}
	return &room, nil
}

// CreatePrivateRoom creates the room of a pair or returns the one a
// concurrent caller created first. The unique pair_key turns the insert into
// a no-op for the loser, which then reads the winner's row.
func (s *Service) CreatePrivateRoom(ctx context.Context, a, b uint) (*models.ChatRoom, error) {
	lo, hi := models.NormalizePair(a, b)
	key := models.PairKey(lo, hi)
	var room models.ChatRoom
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidate := models.ChatRoom{CreatedBy: lo, IsGroup: false, PairKey: &key}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pair_key"}},
			DoNothing: true,
		}).Create(&candidate).Error; err != nil {
			return err
		}
		if err := tx.Where("pair_key = ?", key).Take(&room).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrConflict
			}
			return err
		}
		participants := []models.RoomParticipant{{RoomID: room.ID, UserID: lo}}
		if hi != lo {
			participants = append(participants, models.RoomParticipant{RoomID: room.ID, UserID: hi})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&participants).Error
	})
	if errors.Is(err, apperr.ErrConflict) {
		return nil, fmt.Errorf("%w: pair %s not readable after insert", apperr.ErrConflict, key)
	}
	if err != nil {
		return nil, apperr.Persistence("create private room", err)
	}
	return &room, nil
}

// CreateGroupRoom inserts a group room and its members in one transaction.
func (s *Service) CreateGroupRoom(ctx context.Context, name string, creator uint, members []uint) (*models.ChatRoom, error) {
	room := models.ChatRoom{CreatedBy: creator, IsGroup: true}
	if name = strings.TrimSpace(name); name != "" {
		room.Name = &name
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		participants := make([]models.RoomParticipant, 0, len(members))
		for _, id := range members {
			participants = append(participants, models.RoomParticipant{RoomID: room.ID, UserID: id})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&participants).Error
	})
	if err != nil {
		return nil, apperr.Persistence("create group room", err)
	}
	return &room, nil
}

func (s *Service) GetRoom(ctx context.Context, roomID uint) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.DB.WithContext(ctx).Where("id = ?", roomID).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("room %d", roomID)
	}
	if err != nil {
		return nil, apperr.Persistence("get room", err)
	}
	return &room, nil
}

func (s *Service) ListParticipants(ctx context.Context, roomID uint) ([]uint, error) {
	var ids []uint
	err := s.DB.WithContext(ctx).Model(&models.RoomParticipant{}).
		Where("room_id = ?", roomID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, apperr.Persistence("list participants", err)
	}
	return ids, nil
}

func (s *Service) IsParticipant(ctx context.Context, roomID, userID uint) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.RoomParticipant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&n).Error
	if err != nil {
		return false, apperr.Persistence("check participant", err)
	}
	return n > 0, nil
}
