package model

import "time"

// Category says whether a task is a piece of work or a knowledge entry.
type Category string

const (
	CategoryKnowledge Category = "knowledge"
	CategoryWork      Category = "work"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryKnowledge, CategoryWork:
		return true
	}
	return false
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusPaused     Status = "paused"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusPaused:
		return true
	}
	return false
}

// Priority orders tasks for the reader; it has no scheduling meaning.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// Rank returns a sort key where higher means more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Task is a tracked unit of work or knowledge.
type Task struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	Title       string       `gorm:"size:255;not null" json:"title"`
	Description string       `gorm:"type:text" json:"description"`
	Type        Category     `gorm:"size:50;not null;default:knowledge" json:"type"`
	Status      Status       `gorm:"size:50;not null;default:pending;index" json:"status"`
	Priority    Priority     `gorm:"size:50;not null;default:normal" json:"priority"`
	Tags        string       `gorm:"size:255" json:"tags"` // comma separated, kept verbatim
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at"`
	Attachments []Attachment `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE" json:"attachments"`
}
