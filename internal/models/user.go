package models

import "time"

// User is owned by the authentication side of the system; the chat core only
// reads it to reconcile identities and records the live session handle.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"size:255;uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	Email        string     `gorm:"size:50;uniqueIndex;not null" json:"email"`
	Gender       string     `gorm:"size:16;not null;default:other" json:"gender"`
	DOB          *time.Time `gorm:"type:date" json:"dob,omitempty"`
	// SessionHandle is the handle of the connection the user last registered on.
	SessionHandle *string   `gorm:"size:255" json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }
