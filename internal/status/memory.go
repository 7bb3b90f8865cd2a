package status

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brunohmelo/docpipe-back/internal/domain"
)

type memoryEntry struct {
	record    domain.JobStatusRecord
	expiresAt time.Time
}

// MemoryStore keeps records in a TTL'd map for local development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
	}
}

func (s *MemoryStore) Set(_ context.Context, record domain.JobStatusRecord) error {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *domain.JobStatusRecord
	if entry, ok := s.entries[record.JobID]; ok && now.Before(entry.expiresAt) {
		current := entry.record
		existing = &current
	}

	prepared, skip := prepareWrite(existing, record, now)
	if skip {
		return nil
	}
	s.entries[record.JobID] = memoryEntry{
		record:    prepared,
		expiresAt: now.Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (domain.JobStatusRecord, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[jobID]
	s.mu.RUnlock()

	if !ok {
		return domain.JobStatusRecord{}, false, nil
	}
	if time.Now().UTC().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, jobID)
		s.mu.Unlock()
		return domain.JobStatusRecord{}, false, nil
	}
	return entry.record, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, jobID)
	return nil
}

func (s *MemoryStore) List(_ context.Context, namespaceFilter string) ([]domain.JobStatusRecord, error) {
	now := time.Now().UTC()

	s.mu.RLock()
	records := make([]domain.JobStatusRecord, 0, len(s.entries))
	for _, entry := range s.entries {
		if now.After(entry.expiresAt) {
			continue
		}
		if namespaceFilter != "" && entry.record.Namespace != namespaceFilter {
			continue
		}
		records = append(records, entry.record)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	return records, nil
}
