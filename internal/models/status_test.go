package models_test

import (
	"testing"

	"chatrelay/backend/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryStatus_Ordering(t *testing.T) {
	assert.Less(t, models.StatusSent.Rank(), models.StatusDelivered.Rank())
	assert.Less(t, models.StatusDelivered.Rank(), models.StatusRead.Rank())
	assert.False(t, models.DeliveryStatus("seen").Valid())
}

func TestDeliveryStatus_Predecessors(t *testing.T) {
	assert.Empty(t, models.StatusSent.Predecessors())
	assert.Equal(t, []models.DeliveryStatus{models.StatusSent}, models.StatusDelivered.Predecessors())
	assert.Equal(t, []models.DeliveryStatus{models.StatusSent, models.StatusDelivered}, models.StatusRead.Predecessors())
}

func TestPairKey_IsSymmetric(t *testing.T) {
	assert.Equal(t, "3:7", models.PairKey(3, 7))
	assert.Equal(t, models.PairKey(3, 7), models.PairKey(7, 3))

	lo, hi := models.NormalizePair(9, 2)
	assert.Equal(t, uint(2), lo)
	assert.Equal(t, uint(9), hi)
}

// TestModelTableNames pins the table names the relational schema uses.
func TestModelTableNames(t *testing.T) {
	assert.Equal(t, "users", models.User{}.TableName())
	assert.Equal(t, "chat_rooms", models.ChatRoom{}.TableName())
	assert.Equal(t, "room_participants", models.RoomParticipant{}.TableName())
	assert.Equal(t, "messages", models.Message{}.TableName())
	assert.Equal(t, "attachments", models.Attachment{}.TableName())
	assert.Equal(t, "message_status", models.MessageStatus{}.TableName())
}
