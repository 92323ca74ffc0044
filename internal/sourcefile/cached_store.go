package sourcefile

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheEntries = 256

// CachedStore keeps whole-app file listings in an LRU in front of a slower
// origin. Writes go through to the origin and drop the app's entry, so the
// next List always observes the write. A listing read from the origin is
// only cached if no write for that app completed while it was in flight.
type CachedStore struct {
	origin Store
	byApp  *lru.Cache[string, []File]

	mu  sync.Mutex
	gen map[string]uint64
}

func NewCachedStore(origin Store, entries int) (*CachedStore, error) {
	if entries <= 0 {
		entries = defaultCacheEntries
	}
	cache, err := lru.New[string, []File](entries)
	if err != nil {
		return nil, err
	}
	return &CachedStore{origin: origin, byApp: cache, gen: map[string]uint64{}}, nil
}

func (s *CachedStore) List(ctx context.Context, appID string) ([]File, error) {
	if cached, ok := s.byApp.Get(appID); ok {
		return cloneFiles(cached), nil
	}
	s.mu.Lock()
	before := s.gen[appID]
	s.mu.Unlock()
	files, err := s.origin.List(ctx, appID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.gen[appID] == before {
		s.byApp.Add(appID, cloneFiles(files))
	}
	s.mu.Unlock()
	return files, nil
}

func (s *CachedStore) Get(ctx context.Context, appID, path string) (File, error) {
	if cached, ok := s.byApp.Get(appID); ok {
		want := NormalizePath(path)
		for _, f := range cached {
			if f.Path == want {
				return cloneFile(f), nil
			}
		}
		return File{}, ErrNotFound
	}
	return s.origin.Get(ctx, appID, path)
}

func (s *CachedStore) Put(ctx context.Context, file File) error {
	if err := s.origin.Put(ctx, file); err != nil {
		return err
	}
	s.Invalidate(strings.TrimSpace(file.AppID))
	return nil
}

// Invalidate drops the cached listing for appID.
func (s *CachedStore) Invalidate(appID string) {
	s.mu.Lock()
	s.gen[appID]++
	s.byApp.Remove(appID)
	s.mu.Unlock()
}

func cloneFiles(in []File) []File {
	out := make([]File, len(in))
	for i, f := range in {
		out[i] = cloneFile(f)
	}
	return out
}
