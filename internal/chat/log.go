package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"chatmeter/pkg/models"
)

// ErrStoreUnavailable is returned when the chat log's backing store cannot
// be reached.
var ErrStoreUnavailable = errors.New("chat: log store unavailable")

// Log is the append-only store of past exchanges. Records are immutable
// once appended.
type Log interface {
	// Append stores the record, assigns its timestamp, and returns the
	// record ID.
	Append(ctx context.Context, record *models.ChatRecord) (int64, error)

	// ListByUser returns the user's records ordered by timestamp ascending.
	ListByUser(ctx context.Context, userID int64) ([]models.ChatRecord, error)
}

// MemoryLog keeps records in memory. Used in tests and as a fallback when
// no database is configured.
type MemoryLog struct {
	mu      sync.Mutex
	nextID  int64
	records []models.ChatRecord
}

// NewMemoryLog returns an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{nextID: 1}
}

// Append stores a copy of the record.
func (l *MemoryLog) Append(_ context.Context, record *models.ChatRecord) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record.ID = l.nextID
	record.Timestamp = time.Now()
	l.nextID++
	l.records = append(l.records, *record)
	return record.ID, nil
}

// ListByUser returns the user's records ascending by timestamp.
func (l *MemoryLog) ListByUser(_ context.Context, userID int64) ([]models.ChatRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.ChatRecord
	for _, r := range l.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
