package models

import (
	"strconv"
	"time"
)

const (
	// BroadcastRoomID is the reserved room every "all" message is stored in.
	BroadcastRoomID uint = 0
	// BroadcastOwnerID is the seeded admin user that owns the broadcast room.
	BroadcastOwnerID uint = 1
)

// ChatRoom is a conversation scope: a private pair, a group, or the broadcast room.
type ChatRoom struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	Name      *string `gorm:"size:255" json:"name,omitempty"`
	CreatedBy uint    `gorm:"not null" json:"created_by"`
	IsGroup   bool    `gorm:"not null;default:false" json:"is_group"`
	// PairKey is set on private rooms only; the unique index makes
	// create-or-fetch of a pair idempotent across instances.
	PairKey       *string    `gorm:"size:64;uniqueIndex" json:"-"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (ChatRoom) TableName() string { return "chat_rooms" }

// NormalizePair orders two identities so (a, b) and (b, a) resolve alike.
func NormalizePair(a, b uint) (uint, uint) {
	if a > b {
		return b, a
	}
	return a, b
}

// PairKey returns the canonical key of the unordered pair {a, b}.
func PairKey(a, b uint) string {
	lo, hi := NormalizePair(a, b)
	return strconv.FormatUint(uint64(lo), 10) + ":" + strconv.FormatUint(uint64(hi), 10)
}

// RoomParticipant is a (room, user) membership pair.
type RoomParticipant struct {
	RoomID   uint      `gorm:"primaryKey;autoIncrement:false" json:"room_id"`
	UserID   uint      `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

func (RoomParticipant) TableName() string { return "room_participants" }
