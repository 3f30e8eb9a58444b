// Package store implements the database-backed repositories: user accounts,
// the token ledger, and the chat log, all on a single GORM/sqlite database.
package store

import (
	"errors"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"chatmeter/pkg/models"
)

// ErrUsernameTaken is returned when registering a username that already
// exists.
var ErrUsernameTaken = errors.New("store: username already taken")

// Open opens (or creates) the sqlite database at path and migrates the
// schema.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// sqlite allows a single writer; one connection avoids lock errors
	// under concurrent debits.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.User{}, &models.ChatRecord{}); err != nil {
		return nil, err
	}
	return db, nil
}
