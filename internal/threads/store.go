package threads

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/mailops/pkg/models"
)

var (
	// ErrNotFound is returned when no thread exists for a key.
	ErrNotFound = errors.New("thread not found")

	// ErrDuplicateKey is returned when a new thread collides with an existing key.
	ErrDuplicateKey = errors.New("thread key already exists")

	// ErrVersionConflict is returned when a thread changed between load and commit.
	ErrVersionConflict = errors.New("thread was modified concurrently")
)

// Store persists conversation threads and their exchange records.
type Store interface {
	// LoadByKey returns the thread with the exact key, or ErrNotFound.
	LoadByKey(ctx context.Context, threadKey string) (*models.ConversationThread, error)

	// ListRecords returns a thread's exchange records ordered by creation time.
	ListRecords(ctx context.Context, threadID string) ([]models.ExchangeRecord, error)

	// Commit atomically persists the batch's thread upsert and records.
	Commit(ctx context.Context, batch *Batch) error

	Close() error
}

// NewThread returns an uncommitted thread with an empty history.
func NewThread(threadKey string, now time.Time) *models.ConversationThread {
	return &models.ConversationThread{
		ID:        newID(),
		ThreadKey: threadKey,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// Batch stages mutations to a single thread until Commit.
type Batch struct {
	thread  *models.ConversationThread
	history []byte
	records []models.ExchangeRecord
	now     time.Time
}

// NewBatch starts staging changes against thread, stamping records with
// the current time.
func NewBatch(thread *models.ConversationThread) *Batch {
	return NewBatchAt(thread, time.Now())
}

// NewBatchAt is NewBatch with an explicit timestamp for staged records.
func NewBatchAt(thread *models.ConversationThread, now time.Time) *Batch {
	return &Batch{thread: thread, now: now.UTC()}
}

// Thread returns the thread the batch applies to.
func (b *Batch) Thread() *models.ConversationThread {
	return b.thread
}

// UpdateHistory stages a replacement for the thread's encoded history.
func (b *Batch) UpdateHistory(history []byte) {
	b.history = append([]byte(nil), history...)
}

// AppendExchangeRecords stages records for the thread. Missing ids,
// thread ids and timestamps are filled in.
func (b *Batch) AppendExchangeRecords(records ...models.ExchangeRecord) {
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = newID()
		}
		if rec.ThreadID == "" && b.thread != nil {
			rec.ThreadID = b.thread.ID
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = b.now
		}
		b.records = append(b.records, rec)
	}
}

// Records returns the staged records.
func (b *Batch) Records() []models.ExchangeRecord {
	return b.records
}

// History returns the staged history, or the thread's current one when unchanged.
func (b *Batch) History() []byte {
	if b.history != nil {
		return b.history
	}
	if b.thread != nil {
		return b.thread.History
	}
	return nil
}

// applied updates the in-memory thread after a successful commit.
func (b *Batch) applied(now time.Time) {
	b.thread.History = b.History()
	b.thread.Version++
	b.thread.UpdatedAt = now
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
