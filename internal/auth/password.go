package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordMismatch indicates the supplied password does not match the stored hash.
var ErrPasswordMismatch = errors.New("auth: password mismatch")

// HashPassword derives a bcrypt hash from the plaintext password.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword checks the plaintext password against a stored bcrypt hash.
func ComparePassword(hash, plaintext string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)); err != nil {
		return ErrPasswordMismatch
	}
	return nil
}
