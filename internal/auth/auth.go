// Package auth is the identity subsystem: it registers accounts with
// bcrypt-hashed passwords and issues/validates the signed bearer tokens
// that resolve a request to a user ID. The rest of the system only ever
// sees that resolved ID.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"chatmeter/internal/ledger"
	"chatmeter/pkg/models"
)

const (
	// AccessTokenLifetime is how long an access token stays valid.
	AccessTokenLifetime = time.Hour

	// RefreshTokenLifetime is how long a refresh token stays valid.
	RefreshTokenLifetime = 30 * 24 * time.Hour
)

var (
	// ErrTokenExpired is returned when a bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrInvalidToken is returned when a bearer token is invalid for any
	// other reason.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrInvalidCredentials is returned for unknown usernames and wrong
	// passwords alike, so login failures leak nothing.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrMissingFields is returned when username or password is empty.
	ErrMissingFields = errors.New("auth: username and password are required")
)

// UserStore is the account storage the identity subsystem needs.
type UserStore interface {
	Create(ctx context.Context, username, passwordHash string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

// Service handles registration, login, and bearer-token validation.
type Service struct {
	users  UserStore
	secret []byte
}

// NewService creates an identity service signing tokens with secret.
func NewService(users UserStore, secret string) *Service {
	return &Service{users: users, secret: []byte(secret)}
}

// TokenClaims are the JWT claims carried by both access and refresh tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
	UserID    int64  `json:"user_id"`
	TokenType string `json:"token_type"`
}

// Register creates a new account with the default token balance.
func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, ErrMissingFields
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	return s.users.Create(ctx, username, string(hash))
}

// Login verifies the credentials and issues an access/refresh token pair.
func (s *Service) Login(ctx context.Context, username, password string) (*models.TokenPair, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	access, err := s.issueToken(user.ID, "access", AccessTokenLifetime)
	if err != nil {
		return nil, err
	}
	refresh, err := s.issueToken(user.ID, "refresh", RefreshTokenLifetime)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{Access: access, Refresh: refresh}, nil
}

// issueToken signs a JWT of the given type for userID.
func (s *Service) issueToken(userID int64, tokenType string, lifetime time.Duration) (string, error) {
	now := time.Now()

	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		UserID:    userID,
		TokenType: tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateAccess parses an access token and returns the user ID it resolves
// to. Refresh tokens are rejected here; they never grant API access.
func (s *Service) ValidateAccess(tokenString string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrTokenExpired
		}
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid || claims.TokenType != "access" {
		return 0, ErrInvalidToken
	}

	return claims.UserID, nil
}
