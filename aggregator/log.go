package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EncryptedMetricRecord is one submitted run: the transport strings of the
// encrypted distance and time. The aggregator never sees the plaintexts.
type EncryptedMetricRecord struct {
	ID          uuid.UUID
	Distance    string
	Time        string
	SubmittedAt time.Time
}

// RecordLog is the append-only storage of submitted records. Records are
// never updated or removed, and Scan returns them in append order.
// Implementations must be safe for concurrent use.
type RecordLog interface {
	Append(ctx context.Context, rec EncryptedMetricRecord) error
	Scan(ctx context.Context) ([]EncryptedMetricRecord, error)
	Len(ctx context.Context) (int, error)
}

// BindingStore is implemented by logs that can also persist the public key
// the aggregator is bound to, so that a restarted aggregator folds stored
// records under the same key. SaveBinding returns ErrAlreadyBound when a
// different key is already stored.
type BindingStore interface {
	SaveBinding(ctx context.Context, publicKey string) error
	LoadBinding(ctx context.Context) (publicKey string, ok bool, err error)
}

// MemoryLog is an in-process RecordLog. Its content does not survive a
// restart.
type MemoryLog struct {
	mu      sync.RWMutex
	records []EncryptedMetricRecord
}

// NewMemoryLog returns an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append adds rec at the end of the log.
func (l *MemoryLog) Append(ctx context.Context, rec EncryptedMetricRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
	return nil
}

// Scan returns a copy of the records appended so far. Later appends are not
// visible in the returned slice.
func (l *MemoryLog) Scan(ctx context.Context) ([]EncryptedMetricRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	snapshot := make([]EncryptedMetricRecord, len(l.records))
	copy(snapshot, l.records)
	return snapshot, nil
}

// Len returns the number of records.
func (l *MemoryLog) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records), nil
}
