package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for single-instance runs and tests. Expired
// records linger until CleanupExpired or a new reservation of the same key.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// live returns the unexpired record for key, if any. Callers hold s.mu.
func (s *MemoryStore) live(id string, now time.Time) (Record, bool) {
	record, ok := s.records[id]
	if !ok || !now.Before(record.ExpiresAt) {
		return Record{}, false
	}
	return record, true
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now, ttl = now.UTC(), ttlOrDefault(ttl)
	id := storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.live(id, now)
	switch {
	case !ok:
		record = Record{Key: key, Fingerprint: fingerprint, Status: StatusPending, CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(ttl)}
		s.records[id] = record
		return Reservation{State: ReservationStateNew, Record: record}, nil
	case record.Fingerprint != fingerprint:
		return Reservation{}, ErrFingerprintMismatch
	case record.Status == StatusCompleted:
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	default:
		return Reservation{State: ReservationStatePending, Record: record}, nil
	}
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl = now.UTC(), ttlOrDefault(ttl)
	id := storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[id]
	if ok && existing.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.records[id] = completedRecord(existing, key, fingerprint, resp, now, ttl)
	return nil
}

// Release forgets a pending reservation owned by fingerprint.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	id := storageKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[id].Fingerprint == fingerprint {
		delete(s.records, id)
	}
	return nil
}

// CleanupExpired drops at most limit expired records and reports how many went.
// limit <= 0 means no cap.
func (s *MemoryStore) CleanupExpired(now time.Time, limit int) int {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id := range s.records {
		if limit > 0 && removed == limit {
			break
		}
		if _, ok := s.live(id, now); !ok {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
