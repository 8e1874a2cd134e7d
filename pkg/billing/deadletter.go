package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeadLetter records an event whose business processing failed after
// it had already been acknowledged to the payment processor. The
// provider will not retry, so these records are the only way the
// failure stays observable and replayable.
type DeadLetter struct {
	ID         string
	Event      Event
	Reason     string
	OccurredAt time.Time
}

// DeadLetterStore holds failed events for operator inspection and replay.
type DeadLetterStore interface {
	Add(ctx context.Context, dl *DeadLetter) error
	List(ctx context.Context, limit int) ([]*DeadLetter, error)
	Remove(ctx context.Context, id string) error
}

// MemoryDeadLetterStore is a process-local DeadLetterStore.
type MemoryDeadLetterStore struct {
	mu      sync.RWMutex
	letters map[string]*DeadLetter
}

// NewMemoryDeadLetterStore creates an empty in-memory store.
func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{letters: make(map[string]*DeadLetter)}
}

func (s *MemoryDeadLetterStore) Add(ctx context.Context, dl *DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	if dl.OccurredAt.IsZero() {
		dl.OccurredAt = time.Now().UTC()
	}
	s.letters[dl.ID] = dl
	deadLettersRecorded.Inc()
	return nil
}

func (s *MemoryDeadLetterStore) List(ctx context.Context, limit int) ([]*DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	letters := make([]*DeadLetter, 0, min(limit, len(s.letters)))
	for _, dl := range s.letters {
		if len(letters) >= limit {
			break
		}
		letters = append(letters, dl)
	}
	return letters, nil
}

func (s *MemoryDeadLetterStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.letters, id)
	return nil
}
