package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/pagecraft/pagecraft/backend/internal/auth"
)

var (
	// ErrUsernameTaken indicates the requested username is already registered.
	ErrUsernameTaken = errors.New("users: username already taken")
	// ErrInvalidCredentials indicates the username or password did not match.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrInvalidUsername indicates the username is empty or exceeds storage bounds.
	ErrInvalidUsername = errors.New("users: invalid username")
	// ErrInvalidPassword indicates the password does not meet the minimum length.
	ErrInvalidPassword = errors.New("users: invalid password")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

const (
	maxUsernameLength = 190
	minPasswordLength = 8
)

// IDProvider issues unique identifiers for new users.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
}

// Service manages registration and credential checks for user accounts.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
}

// NewService constructs the users service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	return &Service{db: cfg.Database, idProvider: cfg.IDProvider}, nil
}

// Register creates a new account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, username, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > maxUsernameLength {
		return User{}, ErrInvalidUsername
	}
	if len(password) < minPasswordLength {
		return User{}, fmt.Errorf("%w: at least %d characters required", ErrInvalidPassword, minPasswordLength)
	}

	var existing User
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&existing).Error
	if err == nil {
		return User{}, ErrUsernameTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return User{}, err
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           id,
		Username:     username,
		PasswordHash: hash,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, err
	}
	return user, nil
}

// Authenticate verifies a username/password pair and returns the account.
// A missing user and a wrong password are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}
