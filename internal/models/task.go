package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

const (
	TitleMaxLength       = 60
	DescriptionMaxLength = 1000
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority reports whether s names one of the supported priorities.
func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(s); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, true
	}
	return "", false
}

func (p Priority) Valid() bool {
	_, ok := ParsePriority(string(p))
	return ok
}

// Task is the persisted to-do item. OwnerID is fixed at creation.
type Task struct {
	ID          uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	Title       string     `json:"title" gorm:"size:60;not null"`
	Description string     `json:"description" gorm:"size:1000;not null"`
	Completed   bool       `json:"completed" gorm:"not null;default:false"`
	Priority    Priority   `json:"priority" gorm:"size:10;not null;default:'medium'"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	OwnerID     string     `json:"ownerId" gorm:"not null;index:idx_tasks_owner_created,priority:1"`
	CreatedAt   time.Time  `json:"createdAt" gorm:"index:idx_tasks_owner_created,priority:2"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (Task) TableName() string {
	return "tasks"
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		t.ID = id
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	return nil
}

// TaskFilter narrows a listing. Nil fields match everything.
type TaskFilter struct {
	Priority  *Priority
	Completed *bool
}

func (f TaskFilter) IsEmpty() bool {
	return f.Priority == nil && f.Completed == nil
}

func (f TaskFilter) Matches(t Task) bool {
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}
	return true
}
