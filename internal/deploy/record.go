package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var ErrNoRecord = errors.New("deployment record not found")

const StatusComplete = "complete"

// Record is the finalize step's output: where an app environment is served.
type Record struct {
	AppID        string
	Environment  string
	DeploymentID string
	ScriptName   string
	URL          string
	SubdomainURL string
	Routes       []string
	DeployedAt   time.Time
	Status       string
}

type RecordStore interface {
	Save(ctx context.Context, rec Record) error
	Latest(ctx context.Context, appID, env string) (Record, error)
	Delete(ctx context.Context, appID, env string) error
}

func recordKey(appID, env string) (string, error) {
	appID, env = strings.TrimSpace(appID), strings.TrimSpace(env)
	if appID == "" {
		return "", fmt.Errorf("app_id is required")
	}
	if env == "" {
		return "", fmt.Errorf("environment is required")
	}
	return appID + "\x00" + env, nil
}

type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]Record)}
}

func (s *MemoryRecordStore) Save(_ context.Context, rec Record) error {
	key, err := recordKey(rec.AppID, rec.Environment)
	if err != nil {
		return err
	}
	rec.Routes = append([]string(nil), rec.Routes...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec
	return nil
}

func (s *MemoryRecordStore) Latest(_ context.Context, appID, env string) (Record, error) {
	key, err := recordKey(appID, env)
	if err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNoRecord
	}
	rec.Routes = append([]string(nil), rec.Routes...)
	return rec, nil
}

func (s *MemoryRecordStore) Delete(_ context.Context, appID, env string) error {
	key, err := recordKey(appID, env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
