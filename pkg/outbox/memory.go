package outbox

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps rows in process. Callers that need the append to be atomic
// with their own state change must hold their lock while calling Append.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	events []*memoryRow
	now    func() time.Time
}

type memoryRow struct {
	ev         Event
	relayID    string
	leaseUntil time.Time
	notBefore  time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Append(ev Event) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	ev.ID = s.nextID
	ev.Status = StatusPending
	ev.CreatedAt = s.now().UTC()
	s.events = append(s.events, &memoryRow{ev: ev})
	return ev
}

// Events returns a snapshot of every row in insertion order.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, 0, len(s.events))
	for _, row := range s.events {
		out = append(out, row.ev)
	}
	return out
}

func (s *MemoryStore) LockBatch(_ context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []Event
	for _, row := range s.events {
		if len(out) == batchSize {
			break
		}
		expired := row.ev.Status == StatusInProgress && row.leaseUntil.Before(now)
		due := row.ev.Status == StatusPending && !row.notBefore.After(now)
		if !due && !expired {
			continue
		}
		row.ev.Status = StatusInProgress
		row.relayID = relayID
		row.leaseUntil = now.Add(lease)
		out = append(out, row.ev)
	}
	return out, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if row := s.find(id); row != nil {
			row.ev.Status = StatusSent
		}
	}
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id int64, errMsg string, maxAttempts int, retryIn time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.find(id)
	if row == nil {
		return false, nil
	}
	row.ev.RetryCount++
	msg := errMsg
	row.ev.LastError = &msg
	row.relayID = ""
	if maxAttempts > 0 && row.ev.RetryCount >= maxAttempts {
		row.ev.Status = StatusDead
		return true, nil
	}
	row.ev.Status = StatusPending
	row.notBefore = s.now().Add(retryIn)
	return false, nil
}

func (s *MemoryStore) ExtendLease(_ context.Context, relayID string, ids []int64, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if row := s.find(id); row != nil && row.relayID == relayID {
			row.leaseUntil = s.now().Add(lease)
		}
	}
	return nil
}

func (s *MemoryStore) find(id int64) *memoryRow {
	for _, row := range s.events {
		if row.ev.ID == id {
			return row
		}
	}
	return nil
}
