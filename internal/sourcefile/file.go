package sourcefile

import (
	"context"
	"errors"
	"path"
	"strings"
)

// Kind is the declared content kind of a source file.
type Kind string

const (
	KindScript        Kind = "script"
	KindStylesheet    Kind = "stylesheet"
	KindMarkup        Kind = "markup"
	KindConfiguration Kind = "configuration"
	KindAsset         Kind = "asset"
	KindOther         Kind = "other"
)

// File is one application source file. Path is unique within an app.
type File struct {
	AppID   string
	Path    string
	Content []byte
	Kind    Kind
}

func (f File) Text() string { return string(f.Content) }

// Store is the file-storage collaborator the pipeline consumes.
type Store interface {
	List(ctx context.Context, appID string) ([]File, error)
	Get(ctx context.Context, appID, path string) (File, error)
	Put(ctx context.Context, file File) error
}

var ErrNotFound = errors.New("source file not found")

// Find looks a file up by exact path, then by path suffix in either
// direction.
func Find(ctx context.Context, s Store, appID, filePath string) (File, error) {
	want := NormalizePath(filePath)
	if want == "" {
		return File{}, ErrNotFound
	}
	f, err := s.Get(ctx, appID, want)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return File{}, err
	}
	files, err := s.List(ctx, appID)
	if err != nil {
		return File{}, err
	}
	for _, candidate := range files {
		if strings.HasSuffix(candidate.Path, "/"+want) || path.Base(candidate.Path) == want {
			return candidate, nil
		}
	}
	// Tool output may carry absolute workspace paths.
	for _, candidate := range files {
		if strings.HasSuffix(want, "/"+candidate.Path) {
			return candidate, nil
		}
	}
	return File{}, ErrNotFound
}

// NormalizePath strips whitespace, leading "./" and "/" and cleans the path.
func NormalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// KindForPath derives the content kind from a file extension.
func KindForPath(p string) Kind {
	base := strings.ToLower(path.Base(p))
	switch base {
	case "package.json", "tsconfig.json", ".npmrc", "vite.config.ts", "vite.config.js",
		"tailwind.config.js", "tailwind.config.ts", "postcss.config.js", "wrangler.toml":
		return KindConfiguration
	}
	switch strings.ToLower(path.Ext(base)) {
	case ".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs":
		return KindScript
	case ".css", ".scss", ".sass", ".less":
		return KindStylesheet
	case ".html", ".htm", ".svg", ".xml", ".md":
		return KindMarkup
	case ".json", ".yaml", ".yml", ".toml":
		return KindConfiguration
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".avif", ".ico",
		".woff", ".woff2", ".ttf", ".otf", ".eot", ".mp3", ".mp4", ".wav", ".webm", ".ogg":
		return KindAsset
	default:
		return KindOther
	}
}

func normalizeFile(f File) (File, error) {
	f.AppID = strings.TrimSpace(f.AppID)
	f.Path = NormalizePath(f.Path)
	if f.AppID == "" {
		return File{}, errors.New("app_id is required")
	}
	if f.Path == "" {
		return File{}, errors.New("path is required")
	}
	if f.Kind == "" {
		f.Kind = KindForPath(f.Path)
	}
	if f.Content == nil {
		f.Content = []byte{}
	}
	return f, nil
}

func cloneFile(f File) File {
	f.Content = append([]byte(nil), f.Content...)
	return f
}
