package blocks

import (
	"errors"
	"time"
)

var (
	// ErrBlockNotFound indicates a referenced block does not exist.
	ErrBlockNotFound = errors.New("blocks: block not found")
	// ErrInvalidBlock indicates a block payload is missing required fields.
	ErrInvalidBlock = errors.New("blocks: invalid block")
	// ErrPersistenceConflict indicates an atomic write failed and was rolled back.
	ErrPersistenceConflict = errors.New("blocks: persistence conflict")
)

// Block is a single persisted content unit belonging to a note. Blocks are
// ordered by Position within their (NoteID, ParentID) sibling group and nest
// through ParentID, forming a forest per note.
type Block struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	NoteID    string    `gorm:"column:note_id;size:190;not null;index:idx_blocks_note"`
	ParentID  *string   `gorm:"column:parent_id;size:190;index:idx_blocks_parent"`
	Type      string    `gorm:"column:type;size:64;not null"`
	Content   string    `gorm:"column:content;type:text;not null"`
	Props     string    `gorm:"column:props;type:text"`
	Position  int       `gorm:"column:position;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Block) TableName() string {
	return "blocks"
}

// PositionUpdate carries the new sort key and parent for one block during a
// reorder batch.
type PositionUpdate struct {
	ID       string  `json:"id"`
	Position int     `json:"position"`
	ParentID *string `json:"parent_id"`
}

// ParentKey returns the grouping key for a nullable parent reference.
func ParentKey(parentID *string) string {
	if parentID == nil {
		return ""
	}
	return *parentID
}
