package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pagecraft/pagecraft/backend/internal/blocks"
)

const maxTitleLength = 320

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingBlockStore = errors.New("block store is required")
)

// IDProvider issues unique identifiers for new notes.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for note management.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	BlockStore *blocks.Store
	Logger     *zap.Logger
}

// Service manages note metadata and the ownership policy consulted by the
// collaboration layer.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	blockStore *blocks.Store
	logger     *zap.Logger
}

// NewService constructs the notes service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	if cfg.BlockStore == nil {
		return nil, errMissingBlockStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		blockStore: cfg.BlockStore,
		logger:     logger,
	}, nil
}

// Create persists a new note owned by the user.
func (s *Service) Create(ctx context.Context, userID, title, icon string) (Note, error) {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > maxTitleLength {
		return Note{}, ErrInvalidTitle
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return Note{}, err
	}
	note := Note{ID: id, UserID: userID, Title: title, Icon: icon}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		return Note{}, err
	}
	s.logger.Info("note created", zap.String("note_id", note.ID), zap.String("user_id", userID))
	return note, nil
}

// List returns all live notes owned by the user, most recently updated first.
func (s *Service) List(ctx context.Context, userID string) ([]Note, error) {
	var list []Note
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Get returns one note visible to the user.
func (s *Service) Get(ctx context.Context, noteID, userID string) (Note, error) {
	note, err := s.load(ctx, noteID)
	if err != nil {
		return Note{}, err
	}
	if note.UserID != userID {
		return Note{}, ErrNoteNotFound
	}
	return note, nil
}

// Update applies a patch to a note owned by the user.
func (s *Service) Update(ctx context.Context, noteID, userID string, patch NotePatch) (Note, error) {
	note, err := s.Get(ctx, noteID, userID)
	if err != nil {
		return Note{}, err
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" || len(title) > maxTitleLength {
			return Note{}, ErrInvalidTitle
		}
		note.Title = title
	}
	if patch.Icon != nil {
		note.Icon = *patch.Icon
	}
	if err := s.db.WithContext(ctx).Save(&note).Error; err != nil {
		return Note{}, err
	}
	return note, nil
}

// Remove soft-deletes a note and hard-deletes its block forest.
func (s *Service) Remove(ctx context.Context, noteID, userID string) error {
	if _, err := s.Get(ctx, noteID, userID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("id = ?", noteID).Delete(&Note{}).Error; err != nil {
		return err
	}
	if err := s.blockStore.DeleteByNote(ctx, noteID); err != nil {
		return err
	}
	s.logger.Info("note removed", zap.String("note_id", noteID), zap.String("user_id", userID))
	return nil
}

// CanAccess re-validates that the user may read and mutate the note's blocks.
// Consulted on room join and on every mutating batch; room membership alone is
// never sufficient authority.
func (s *Service) CanAccess(ctx context.Context, noteID, userID string) error {
	note, err := s.load(ctx, noteID)
	if err != nil {
		return err
	}
	if note.UserID != userID {
		return fmt.Errorf("%w: note %s", ErrForbidden, noteID)
	}
	return nil
}

func (s *Service) load(ctx context.Context, noteID string) (Note, error) {
	var note Note
	err := s.db.WithContext(ctx).Where("id = ?", noteID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, ErrNoteNotFound
	}
	if err != nil {
		return Note{}, err
	}
	return note, nil
}
