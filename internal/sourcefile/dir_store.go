package sourcefile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/todddickerson/overskill-sub011/internal/safeio"
)

// DirStore keeps each app's files under <root>/<appID>/.
type DirStore struct {
	absRoot string
}

func NewDirStore(root string) (*DirStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("sourcefile: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	return &DirStore{absRoot: abs}, nil
}

func (s *DirStore) Root() string { return s.absRoot }

func (s *DirStore) List(_ context.Context, appID string) ([]File, error) {
	dir, err := s.appDir(appID)
	if err != nil {
		return nil, err
	}
	var files []File
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return walkErr
		}
		if d.IsDir() {
			if name := d.Name(); p != dir && (name == "node_modules" || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		files = append(files, File{AppID: appID, Path: rel, Content: content, Kind: KindForPath(rel)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (s *DirStore) Get(_ context.Context, appID, path string) (File, error) {
	full, rel, err := s.resolve(appID, path)
	if err != nil {
		return File{}, err
	}
	content, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, err
	}
	return File{AppID: strings.TrimSpace(appID), Path: rel, Content: content, Kind: KindForPath(rel)}, nil
}

func (s *DirStore) Put(_ context.Context, file File) error {
	file, err := normalizeFile(file)
	if err != nil {
		return err
	}
	full, _, err := s.resolve(file.AppID, file.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	// Readers never observe a partially written file.
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, file.Content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, full)
}

func (s *DirStore) appDir(appID string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("store is nil")
	}
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return "", fmt.Errorf("app_id is required")
	}
	if strings.ContainsAny(appID, `/\`) || appID == "." || appID == ".." {
		return "", fmt.Errorf("invalid app_id %q", appID)
	}
	return filepath.Join(s.absRoot, appID), nil
}

func (s *DirStore) resolve(appID, path string) (string, string, error) {
	dir, err := s.appDir(appID)
	if err != nil {
		return "", "", err
	}
	rel := NormalizePath(path)
	if rel == "" {
		return "", "", fmt.Errorf("path is required")
	}
	full := filepath.Join(dir, filepath.FromSlash(rel))
	if !safeio.Within(full, dir) {
		return "", "", fmt.Errorf("sourcefile: path outside app root: %s", path)
	}
	return full, rel, nil
}
