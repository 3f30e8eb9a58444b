package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"chatmeter/internal/ledger"
	"chatmeter/pkg/models"
)

// Ledger is the database-backed token ledger. Debits rely on a conditional
// UPDATE (tokens >= amount) so the check and the subtraction are a single
// atomic statement; two racing debits can never jointly overdraw a balance.
type Ledger struct {
	db *gorm.DB
}

// NewLedger returns a ledger over the given database.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

var _ ledger.Ledger = (*Ledger)(nil)

// GetBalance returns the user's current token balance.
func (l *Ledger) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return balanceOf(l.db.WithContext(ctx), userID)
}

func balanceOf(db *gorm.DB, userID int64) (int64, error) {
	var balance int64
	err := db.Model(&models.User{}).
		Select("tokens").
		Where("id = ?", userID).
		Take(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ledger.ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// TryDebit atomically subtracts amount when the balance covers it. The
// update and the balance read share one transaction: if either statement
// fails the whole debit rolls back, so an error return always means the
// balance is untouched.
func (l *Ledger) TryDebit(ctx context.Context, userID int64, amount int64) (bool, int64, error) {
	if amount <= 0 {
		return false, 0, ledger.ErrInvalidAmount
	}

	var (
		ok      bool
		balance int64
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND tokens >= ?", userID, amount).
			UpdateColumn("tokens", gorm.Expr("tokens - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		ok = res.RowsAffected == 1

		// A missing row and short funds both leave RowsAffected at zero;
		// the read tells them apart.
		var err error
		balance, err = balanceOf(tx, userID)
		return err
	})
	if err != nil {
		return false, 0, err
	}
	return ok, balance, nil
}

// Credit adds amount to the user's balance and returns the new balance.
// Like TryDebit, the update only commits together with the balance read.
func (l *Ledger) Credit(ctx context.Context, userID int64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	var balance int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ?", userID).
			UpdateColumn("tokens", gorm.Expr("tokens + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ledger.ErrUserNotFound
		}

		var err error
		balance, err = balanceOf(tx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}
