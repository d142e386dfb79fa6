package model

import "time"

// Subscriber is a Telegram chat that receives periodic task summaries.
type Subscriber struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	ChatID     int64
	FirstName  string
	Username   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
