package users

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("user-%d", p.next), nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:users_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db, IDProvider: &sequenceIDProvider{}})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	return service
}

func TestRegisterAndAuthenticate(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	user, err := service.Register(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if user.ID == "" {
		t.Fatalf("expected user id to be assigned")
	}
	if user.PasswordHash == "correct horse" {
		t.Fatalf("password must be stored hashed")
	}

	authed, err := service.Authenticate(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("unexpected authenticate error: %v", err)
	}
	if authed.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, authed.ID)
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.Register(ctx, "alice", "correct horse"); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if _, err := service.Register(ctx, "alice", "battery staple"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected username taken error, got %v", err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.Register(ctx, "   ", "correct horse"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected invalid username error, got %v", err)
	}
	if _, err := service.Register(ctx, "bob", "short"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected invalid password error, got %v", err)
	}
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.Register(ctx, "alice", "correct horse"); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if _, err := service.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := service.Authenticate(ctx, "nobody", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}
