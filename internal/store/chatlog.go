package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"chatmeter/internal/chat"
	"chatmeter/pkg/models"
)

// ChatLog is the database-backed append-only exchange log.
type ChatLog struct {
	db *gorm.DB
}

// NewChatLog returns a chat log over the given database.
func NewChatLog(db *gorm.DB) *ChatLog {
	return &ChatLog{db: db}
}

var _ chat.Log = (*ChatLog)(nil)

// Append stores the record with a persistence-time timestamp and returns
// its ID.
func (l *ChatLog) Append(ctx context.Context, record *models.ChatRecord) (int64, error) {
	record.Timestamp = time.Now()
	if err := l.db.WithContext(ctx).Create(record).Error; err != nil {
		return 0, fmt.Errorf("%w: %v", chat.ErrStoreUnavailable, err)
	}
	return record.ID, nil
}

// ListByUser returns the user's records ordered by timestamp ascending.
func (l *ChatLog) ListByUser(ctx context.Context, userID int64) ([]models.ChatRecord, error) {
	var records []models.ChatRecord
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrStoreUnavailable, err)
	}
	return records, nil
}

// CountSince returns how many exchanges were recorded at or after the given
// time. The periodic usage summary job reads this.
func (l *ChatLog) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).
		Model(&models.ChatRecord{}).
		Where("timestamp >= ?", since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("%w: %v", chat.ErrStoreUnavailable, err)
	}
	return count, nil
}
