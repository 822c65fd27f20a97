package notes

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrNoteNotFound indicates the note does not exist or is invisible to the
	// caller. Invisibility is intentionally indistinguishable from absence.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrForbidden indicates the caller lacks access for a mutating operation.
	ErrForbidden = errors.New("notes: access denied")
	// ErrInvalidTitle indicates the note title is empty or exceeds storage bounds.
	ErrInvalidTitle = errors.New("notes: invalid title")
)

// Note is the top-level document owning a forest of blocks.
type Note struct {
	ID        string         `gorm:"column:id;primaryKey;size:190;not null"`
	UserID    string         `gorm:"column:user_id;size:190;not null;index:idx_notes_user"`
	Title     string         `gorm:"column:title;size:320;not null"`
	Icon      string         `gorm:"column:icon;size:64"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// NotePatch carries the mutable fields of a note update. Nil fields are left
// untouched.
type NotePatch struct {
	Title *string
	Icon  *string
}
