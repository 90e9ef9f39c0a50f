package apikeys

import (
	"context"
	"sync"
	"time"

	"github.com/spoolworks/mediaspool/internal/jobs"
)

// MemoryStore is a mutex-guarded in-process Store for tests and the
// database-less mode.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*Record)}
}

func (s *MemoryStore) InsertKey(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[r.ID] = cloneRecord(r)
	return nil
}

func (s *MemoryStore) GetKey(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.keys[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return cloneRecord(r), nil
}

func (s *MemoryStore) ListKeys(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.keys))
	for _, r := range s.keys {
		out = append(out, cloneRecord(r))
	}
	return out, nil
}

func (s *MemoryStore) UpdateKey(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[r.ID]; !ok {
		return jobs.ErrNotFound
	}
	s.keys[r.ID] = cloneRecord(r)
	return nil
}

func (s *MemoryStore) TouchKey(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.keys[id]
	if !ok {
		return jobs.ErrNotFound
	}
	used := at
	r.LastUsedAt = &used
	return nil
}

func cloneRecord(r *Record) *Record {
	out := *r
	out.Scopes = append([]string(nil), r.Scopes...)
	if r.ExpiresAt != nil {
		exp := *r.ExpiresAt
		out.ExpiresAt = &exp
	}
	if r.LastUsedAt != nil {
		used := *r.LastUsedAt
		out.LastUsedAt = &used
	}
	return &out
}
