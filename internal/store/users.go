package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"chatmeter/internal/ledger"
	"chatmeter/pkg/models"
)

// Users is the account repository.
type Users struct {
	db *gorm.DB
}

// NewUsers returns a user repository over the given database.
func NewUsers(db *gorm.DB) *Users {
	return &Users{db: db}
}

// Create registers a new account with the default token balance. The
// password arrives already hashed; this layer never sees plaintext.
func (r *Users) Create(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{
		Username:     username,
		PasswordHash: passwordHash,
		Tokens:       models.DefaultTokenBalance,
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return user, nil
}

// FindByUsername looks up an account by its unique username.
func (r *Users) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// isUniqueViolation detects a username collision. GORM translates the error
// for some dialects; the sqlite driver reports it in the message.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
