package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 72 * time.Hour

var (
	errMissingSigningSecret = errors.New("auth: signing secret must be provided")
	errMissingSubjectClaim  = errors.New("auth: subject claim must be provided")
	// ErrInvalidToken indicates the supplied session token failed validation.
	ErrInvalidToken = errors.New("auth: invalid session token")
	// ErrExpiredToken indicates the supplied session token is past its expiry.
	ErrExpiredToken = errors.New("auth: session token expired")
)

// SessionClaims is the JWT payload carried by Pagecraft session tokens.
type SessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the session token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs and validates HS256 session tokens for authenticated users.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        cfg.Issuer,
		tokenTTL:      ttl,
		clock:         clock,
	}
}

// IssueSessionToken produces a signed JWT and its expiry (seconds) for the user.
func (i *TokenIssuer) IssueSessionToken(userID, username string) (string, int64, error) {
	if len(i.signingSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if strings.TrimSpace(userID) == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.tokenTTL)

	claims := SessionClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the session JWT is well formed and returns its claims.
func (i *TokenIssuer) ValidateToken(tokenString string) (SessionClaims, error) {
	if len(i.signingSecret) == 0 {
		return SessionClaims{}, errMissingSigningSecret
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return SessionClaims{}, errMissingSubjectClaim
	}
	return *claims, nil
}
