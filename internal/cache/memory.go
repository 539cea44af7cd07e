package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used by tests and single-node
// development runs. Counter semantics mirror Redis: Increment treats the
// stored value as a decimal integer string.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Tests use it to roll counter
// windows without sleeping.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) key(namespace, key string) string {
	return namespace + ":" + key
}

func (s *MemoryStore) live(k string) ([]byte, bool) {
	entry, ok := s.entries[k]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		delete(s.entries, k)
		return nil, false
	}
	return entry.data, true
}

func (s *MemoryStore) Get(ctx context.Context, namespace, key string, dest interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.live(s.key(namespace, key))
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (s *MemoryStore) Set(ctx context.Context, namespace, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[s.key(namespace, key)] = memoryEntry{
		data:      data,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, s.key(namespace, key))
	return nil
}

func (s *MemoryStore) Increment(ctx context.Context, namespace, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.key(namespace, key)
	var count int64
	if data, ok := s.live(k); ok {
		count, _ = strconv.ParseInt(string(data), 10, 64)
	}
	count++

	entry := s.entries[k]
	entry.data = []byte(strconv.FormatInt(count, 10))
	if entry.expiresAt.IsZero() {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	s.entries[k] = entry
	return count, nil
}

func (s *MemoryStore) Expire(ctx context.Context, namespace, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.key(namespace, key)
	entry, ok := s.entries[k]
	if !ok {
		return nil
	}
	entry.expiresAt = s.now().Add(ttl)
	s.entries[k] = entry
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := namespace + ":"
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
	return nil
}

func (s *MemoryStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]memoryEntry)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
