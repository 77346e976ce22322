package storage

import (
	"context"
	"sync"
	"time"

	"sebastian/internal/alarm"
)

// memoryStore backs driver "none": alarms live only for the process lifetime
// and audit entries are discarded.
type memoryStore struct {
	mu     sync.Mutex
	alarms []alarm.Alarm
	dedup  map[string]time.Time
}

func newMemory() *memoryStore {
	return &memoryStore{dedup: map[string]time.Time{}}
}

func (s *memoryStore) Load(context.Context) ([]alarm.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alarm.Alarm(nil), s.alarms...), nil
}

func (s *memoryStore) Save(_ context.Context, alarms []alarm.Alarm) error {
	s.mu.Lock()
	s.alarms = append(s.alarms[:0:0], alarms...)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) AppendAudit(context.Context, AuditEntry) error { return ErrDisabled }

func (s *memoryStore) PutDedup(_ context.Context, key string, until time.Time) error {
	s.mu.Lock()
	s.dedup[key] = until
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.dedup[key]
	return u, ok, nil
}

func (s *memoryStore) Close() error { return nil }
