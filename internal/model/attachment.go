package model

import "time"

// Attachment is a binary file bound to one task. Filepath holds the content
// store key, never a path chosen by the client.
type Attachment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TaskID     uint      `gorm:"not null;index" json:"-"`
	Filename   string    `gorm:"size:255;not null" json:"filename"`
	Filepath   string    `gorm:"size:255;not null;uniqueIndex" json:"filepath"`
	Filetype   string    `gorm:"size:255" json:"filetype"`
	Size       int64     `json:"-"`
	UploadedAt time.Time `json:"uploaded_at"`
}
