package models

import "time"

// MessageKind tags the payload of a message. The core passes it through
// without interpreting it.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVideo MessageKind = "video"
	KindAudio MessageKind = "audio"
	KindFile  MessageKind = "file"
)

// OrDefault returns KindText for an empty kind.
func (k MessageKind) OrDefault() MessageKind {
	if k == "" {
		return KindText
	}
	return k
}

// Message is a persisted chat message. Only IsDeleted and IsEdited change
// after insert.
type Message struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	RoomID    uint        `gorm:"not null;index:idx_messages_room" json:"room_id"`
	SenderID  uint        `gorm:"not null;index:idx_messages_sender" json:"sender_id"`
	Body      string      `gorm:"column:message;type:text" json:"message"`
	Type      MessageKind `gorm:"size:16;not null;default:text" json:"type"`
	IsDeleted bool        `gorm:"not null;default:false" json:"is_deleted"`
	IsEdited  bool        `gorm:"not null;default:false" json:"is_edited"`
	CreatedAt time.Time   `gorm:"index:idx_messages_created_at" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// Attachment belongs to one message. No chat event produces attachments yet;
// the table is part of the persisted model.
type Attachment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MessageID  uint      `gorm:"not null;index" json:"message_id"`
	FileURL    string    `gorm:"size:512;not null" json:"file_url"`
	MimeType   string    `gorm:"size:50" json:"mime_type"`
	FileSize   int       `json:"file_size"`
	UploadedAt time.Time `gorm:"autoCreateTime" json:"uploaded_at"`
}

func (Attachment) TableName() string { return "attachments" }
