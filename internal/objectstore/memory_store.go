package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	base    string
	objects map[string]Object
}

func NewMemoryStore(publicBase string) *MemoryStore {
	return &MemoryStore{base: publicBase, objects: make(map[string]Object)}
}

func (s *MemoryStore) Put(_ context.Context, obj Object) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	obj.Key = normalizeKey(obj.Key)
	if obj.Key == "" {
		return fmt.Errorf("key is required")
	}
	obj.Content = bytes.Clone(obj.Content)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Key] = obj
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[normalizeKey(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(obj.Content), nil
}

// Object returns the stored object including its headers.
func (s *MemoryStore) Object(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[normalizeKey(key)]
	return obj, ok
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = normalizeKey(prefix)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) DeleteByPrefix(_ context.Context, prefix string) (int, error) {
	prefix = normalizeKey(prefix)
	if prefix == "" {
		return 0, fmt.Errorf("prefix is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			delete(s.objects, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) URL(key string) string {
	return publicURL(s.base, normalizeKey(key))
}
