package sourcefile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]map[string]File
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string]map[string]File)}
}

func (s *MemoryStore) List(_ context.Context, appID string) ([]File, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, fmt.Errorf("app_id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]File, 0, len(s.files[appID]))
	for _, f := range s.files[appID] {
		out = append(out, cloneFile(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, appID, path string) (File, error) {
	if s == nil {
		return File{}, fmt.Errorf("store is nil")
	}
	appID = strings.TrimSpace(appID)
	path = NormalizePath(path)
	if appID == "" {
		return File{}, fmt.Errorf("app_id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[appID][path]
	if !ok {
		return File{}, ErrNotFound
	}
	return cloneFile(f), nil
}

func (s *MemoryStore) Put(_ context.Context, file File) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	file, err := normalizeFile(file)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byPath, ok := s.files[file.AppID]
	if !ok {
		byPath = make(map[string]File)
		s.files[file.AppID] = byPath
	}
	byPath[file.Path] = cloneFile(file)
	return nil
}
