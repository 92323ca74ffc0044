package sourcefile

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Change is delivered to a watch callback for every written file.
type Change struct {
	AppID   string
	Path    string
	Content []byte
	At      time.Time
}

// Watch invokes onChange whenever a file under the app's directory is
// created or written. It blocks until ctx is done or the watcher fails.
func (s *DirStore) Watch(ctx context.Context, appID string, log *zap.Logger, onChange func(Change)) error {
	if log == nil {
		log = zap.NewNop()
	}
	dir, err := s.appDir(appID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addTree(w, dir); err != nil {
		return err
	}
	log.Debug("watching app directory", zap.String("app_id", appID), zap.String("dir", dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("file watcher error", zap.String("app_id", appID), zap.Error(err))
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if err := addTree(w, ev.Name); err != nil {
					log.Warn("watch new directory", zap.String("dir", ev.Name), zap.Error(err))
				}
				continue
			}
			if strings.HasSuffix(ev.Name, ".tmp") {
				continue
			}
			rel, err := filepath.Rel(dir, ev.Name)
			if err != nil {
				continue
			}
			content, err := os.ReadFile(ev.Name)
			if err != nil {
				continue
			}
			onChange(Change{
				AppID:   appID,
				Path:    filepath.ToSlash(rel),
				Content: content,
				At:      time.Now(),
			})
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && (d.Name() == "node_modules" || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
