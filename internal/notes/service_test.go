package notes

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/pagecraft/pagecraft/backend/internal/blocks"
)

func newTestService(t *testing.T) (*Service, *blocks.Store) {
	t.Helper()

	dsn := fmt.Sprintf("file:notes_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Note{}, &blocks.Block{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := blocks.NewStore(blocks.StoreConfig{Database: db, IDProvider: blocks.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to construct block store: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: blocks.NewUUIDProvider(),
		BlockStore: store,
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}
	return service, store
}

func TestCreateAndGetNote(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	note, err := service.Create(ctx, "user-1", "My note", "📄")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if note.ID == "" {
		t.Fatalf("expected note id to be assigned")
	}

	loaded, err := service.Get(ctx, note.ID, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Title != "My note" {
		t.Fatalf("unexpected title %s", loaded.Title)
	}
}

func TestGetHidesOtherUsersNotes(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	note, err := service.Create(ctx, "user-1", "Private", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := service.Get(ctx, note.ID, "user-2"); !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("foreign note must look absent, got %v", err)
	}
}

func TestCanAccessDistinguishesOwnership(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	note, err := service.Create(ctx, "user-1", "Shared doc", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := service.CanAccess(ctx, note.ID, "user-1"); err != nil {
		t.Fatalf("owner must have access, got %v", err)
	}
	if err := service.CanAccess(ctx, note.ID, "user-2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := service.CanAccess(ctx, "missing", "user-1"); !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdatePatchesFields(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	note, err := service.Create(ctx, "user-1", "Old title", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	title := "New title"
	updated, err := service.Update(ctx, note.ID, "user-1", NotePatch{Title: &title})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Title != "New title" {
		t.Fatalf("unexpected title %s", updated.Title)
	}

	empty := "   "
	if _, err := service.Update(ctx, note.ID, "user-1", NotePatch{Title: &empty}); !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("expected invalid title, got %v", err)
	}
}

func TestRemoveDeletesNoteAndBlocks(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	note, err := service.Create(ctx, "user-1", "Doomed", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.CreateMany(ctx, []blocks.Block{
		{ID: "b-1", NoteID: note.ID, Type: "paragraph", Content: `[]`, Position: 0},
	}); err != nil {
		t.Fatalf("failed to seed block: %v", err)
	}

	if err := service.Remove(ctx, note.ID, "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.Get(ctx, note.ID, "user-1"); !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("expected note gone, got %v", err)
	}
	remaining, err := store.FindByNote(ctx, note.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected blocks removed with note, got %d", len(remaining))
	}
}
