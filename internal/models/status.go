package models

import "time"

// DeliveryStatus is the per-recipient state of a message. Values are ordered
// sent < delivered < read and a row only ever moves forward.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// Rank is the position of s in the ordering; 0 for unknown values.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

func (s DeliveryStatus) Valid() bool { return s.Rank() > 0 }

// Predecessors lists the statuses a row may hold to advance to s.
func (s DeliveryStatus) Predecessors() []DeliveryStatus {
	var out []DeliveryStatus
	for _, p := range []DeliveryStatus{StatusSent, StatusDelivered, StatusRead} {
		if p.Rank() < s.Rank() {
			out = append(out, p)
		}
	}
	return out
}

// MessageStatus is one row per (message, recipient).
type MessageStatus struct {
	MessageID uint           `gorm:"primaryKey;autoIncrement:false" json:"message_id"`
	UserID    uint           `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	Status    DeliveryStatus `gorm:"size:16;not null;default:sent" json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (MessageStatus) TableName() string { return "message_status" }
