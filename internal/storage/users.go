package storage

import (
	"context"

	"chatrelay/backend/internal/apperr"
	"chatrelay/backend/internal/models"

	"github.com/lib/pq"
)

// SetSessionHandle records the live connection handle of a user. It reports
// false when no such user exists.
func (s *Service) SetSessionHandle(ctx context.Context, userID uint, handle string) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("session_handle", handle)
	if res.Error != nil {
		return false, apperr.Persistence("set session handle", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ClearSessionHandle resets the handle only if it still belongs to this
// connection, so a superseded connection never clears a newer one.
func (s *Service) ClearSessionHandle(ctx context.Context, userID uint, handle string) error {
	err := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND session_handle = ?", userID, handle).
		Update("session_handle", nil).Error
	if err != nil {
		return apperr.Persistence("clear session handle", err)
	}
	return nil
}

// CountUsers returns how many of the given identities exist.
func (s *Service) CountUsers(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = int64(id)
	}
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ANY(?)", pq.Array(keys)).
		Count(&n).Error
	if err != nil {
		return 0, apperr.Persistence("count users", err)
	}
	return n, nil
}
