package database

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryHashStore is an in-process implementation of the session store's
// persistence contract. It backs tests and single-node development runs
// where no redis is available; nothing written to it survives a restart.
type MemoryHashStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string

	// Failure, when set, is returned by every operation. Tests use it to
	// simulate a transient IO outage.
	Failure error
}

// NewMemoryHashStore constructs an empty in-memory store.
func NewMemoryHashStore() *MemoryHashStore {
	return &MemoryHashStore{hashes: make(map[string]map[string]string)}
}

func (s *MemoryHashStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Failure != nil {
		return nil, s.Failure
	}
	copied := make(map[string]string, len(s.hashes[key]))
	for name, value := range s.hashes[key] {
		copied[name] = value
	}
	return copied, nil
}

func (s *MemoryHashStore) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Failure != nil {
		return s.Failure
	}
	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string, len(fields))
		s.hashes[key] = hash
	}
	for name, value := range fields {
		hash[name] = value
	}
	return nil
}

func (s *MemoryHashStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	results := make([]map[string]string, 0, len(keys))
	for _, key := range keys {
		fields, err := s.HGetAll(ctx, key)
		if err != nil {
			return nil, err
		}
		results = append(results, fields)
	}
	return results, nil
}

func (s *MemoryHashStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Failure != nil {
		return s.Failure
	}
	for _, key := range keys {
		delete(s.hashes, key)
	}
	return nil
}

func (s *MemoryHashStore) Exists(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Failure != nil {
		return 0, s.Failure
	}
	var count int64
	for _, key := range keys {
		if _, ok := s.hashes[key]; ok {
			count++
		}
	}
	return count, nil
}

// Keys matches the trailing-wildcard patterns the session store uses for
// its prefix scans.
func (s *MemoryHashStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Failure != nil {
		return nil, s.Failure
	}
	prefix := strings.TrimSuffix(pattern, "*")
	matches := make([]string, 0)
	for key := range s.hashes {
		if strings.HasPrefix(key, prefix) {
			matches = append(matches, key)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// SetField overwrites one hash field directly, bypassing the store API.
// Tests use it to plant corrupt persisted state.
func (s *MemoryHashStore) SetField(key, field, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	hash[field] = value
}
