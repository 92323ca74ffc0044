// Package objectstore holds offloaded static assets behind a small
// bucket-oriented interface.
package objectstore

import (
	"context"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("object not found")

type Object struct {
	Key          string
	Content      []byte
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// Store is implemented by S3Store and MemoryStore.
type Store interface {
	Put(ctx context.Context, obj Object) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	URL(key string) string
}

func normalizeKey(key string) string {
	return strings.TrimLeft(strings.TrimSpace(key), "/")
}

func publicURL(base, key string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "/" + key
	}
	return base + "/" + key
}
