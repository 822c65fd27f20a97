package blocks

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// IDProvider issues identifiers for blocks created without one.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies required by the block store.
type StoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
}

// Store owns the canonical ordered and nested block records for each note.
// Every mutating call runs inside a single transaction so partial application
// is never observable by other readers.
type Store struct {
	db         *gorm.DB
	idProvider IDProvider
}

// NewStore constructs the block store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	return &Store{db: cfg.Database, idProvider: cfg.IDProvider}, nil
}

// FindByNote returns all blocks of a note ordered by position ascending.
func (s *Store) FindByNote(ctx context.Context, noteID string) ([]Block, error) {
	var list []Block
	err := s.db.WithContext(ctx).
		Where("note_id = ?", noteID).
		Order("position ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceConflict, err)
	}
	return list, nil
}

// NoteOf resolves the owning note for a block id.
func (s *Store) NoteOf(ctx context.Context, blockID string) (string, error) {
	var block Block
	err := s.db.WithContext(ctx).Select("note_id").Where("id = ?", blockID).Take(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrBlockNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistenceConflict, err)
	}
	return block.NoteID, nil
}

// CreateMany persists the batch atomically, assigning identifiers to blocks
// that lack one, and returns the persisted records. Clients may propose ids;
// the store is authoritative once persisted.
func (s *Store) CreateMany(ctx context.Context, incoming []Block) ([]Block, error) {
	if len(incoming) == 0 {
		return nil, nil
	}
	persisted := make([]Block, len(incoming))
	copy(persisted, incoming)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for index := range persisted {
			if persisted[index].NoteID == "" || persisted[index].Type == "" {
				return fmt.Errorf("%w: note_id and type are required", ErrInvalidBlock)
			}
			if persisted[index].ID == "" {
				id, err := s.idProvider.NewID()
				if err != nil {
					return err
				}
				persisted[index].ID = id
			}
		}
		return tx.Create(&persisted).Error
	})
	if err != nil {
		if errors.Is(err, ErrInvalidBlock) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistenceConflict, err)
	}
	return persisted, nil
}

// UpdateMany overwrites type, content, props, position, and parent for every
// block in the batch inside one transaction. A missing block aborts the whole
// batch.
func (s *Store) UpdateMany(ctx context.Context, incoming []Block) ([]Block, error) {
	if len(incoming) == 0 {
		return nil, nil
	}
	persisted := make([]Block, 0, len(incoming))

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, block := range incoming {
			if block.ID == "" {
				return fmt.Errorf("%w: id is required", ErrInvalidBlock)
			}
			var existing Block
			err := tx.Where("id = ?", block.ID).Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrBlockNotFound, block.ID)
			}
			if err != nil {
				return err
			}
			existing.Type = block.Type
			existing.Content = block.Content
			existing.Props = block.Props
			existing.Position = block.Position
			existing.ParentID = block.ParentID
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			persisted = append(persisted, existing)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBlockNotFound) || errors.Is(err, ErrInvalidBlock) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistenceConflict, err)
	}
	return persisted, nil
}

// DeleteMany removes the listed blocks and every descendant reachable through
// parent references, in one transaction. Ids already removed by a prior
// cascade are skipped, not errors.
func (s *Store) DeleteMany(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var removed []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		frontier := ids
		seen := make(map[string]bool, len(ids))
		for len(frontier) > 0 {
			var existing []Block
			if err := tx.Select("id").Where("id IN ?", frontier).Find(&existing).Error; err != nil {
				return err
			}
			present := make([]string, 0, len(existing))
			for _, block := range existing {
				if !seen[block.ID] {
					seen[block.ID] = true
					present = append(present, block.ID)
				}
			}
			if len(present) == 0 {
				break
			}
			removed = append(removed, present...)

			var children []Block
			if err := tx.Select("id").Where("parent_id IN ?", present).Find(&children).Error; err != nil {
				return err
			}
			next := make([]string, 0, len(children))
			for _, child := range children {
				if !seen[child.ID] {
					next = append(next, child.ID)
				}
			}
			frontier = next
		}
		if len(removed) == 0 {
			return nil
		}
		return tx.Where("id IN ?", removed).Delete(&Block{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceConflict, err)
	}
	return removed, nil
}

// SetPositions persists new (position, parent_id) pairs for every listed
// block in one transaction.
func (s *Store) SetPositions(ctx context.Context, updates []PositionUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, update := range updates {
			if update.ID == "" {
				return fmt.Errorf("%w: id is required", ErrInvalidBlock)
			}
			result := tx.Model(&Block{}).Where("id = ?", update.ID).Updates(map[string]interface{}{
				"position":  update.Position,
				"parent_id": update.ParentID,
			})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", ErrBlockNotFound, update.ID)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBlockNotFound) || errors.Is(err, ErrInvalidBlock) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPersistenceConflict, err)
	}
	return nil
}

// DeleteByNote removes every block belonging to a note. Used when the owning
// note itself is deleted.
func (s *Store) DeleteByNote(ctx context.Context, noteID string) error {
	err := s.db.WithContext(ctx).Where("note_id = ?", noteID).Delete(&Block{}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceConflict, err)
	}
	return nil
}
