package storage

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu    sync.RWMutex
	kv    map[string][]byte
	audit []AuditEntry
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &memoryStore{kv: map[string][]byte{}}
}

func (s *memoryStore) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[storeKey(ns, key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *memoryStore) Set(_ context.Context, ns, key string, val []byte) error {
	s.mu.Lock()
	s.kv[storeKey(ns, key)] = append([]byte(nil), val...)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Delete(_ context.Context, ns, key string) error {
	s.mu.Lock()
	delete(s.kv, storeKey(ns, key))
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	// keep the tail only; this is a debugging aid, not a log
	if len(s.audit) >= 1000 {
		s.audit = append(s.audit[:0], s.audit[len(s.audit)-999:]...)
	}
	s.audit = append(s.audit, e)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error { return nil }
