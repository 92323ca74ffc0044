package toolchain

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/todddickerson/overskill-sub011/internal/safeio"
	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
)

// Workspace is a private temporary directory owned by one build sequence.
type Workspace struct {
	fs        *safeio.SafeFS
	closeOnce sync.Once
	closeErr  error
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// NewWorkspace creates a fresh directory under root (the system temp dir
// when root is empty).
func NewWorkspace(root, appID string) (*Workspace, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, err
		}
	}
	name := unsafeName.ReplaceAllString(appID, "_")
	dir, err := os.MkdirTemp(root, "build-"+name+"-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	sfs, err := safeio.NewSafeFS(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &Workspace{fs: sfs}, nil
}

func (w *Workspace) Dir() string { return w.fs.Root() }

// Materialize writes files into the workspace, replacing existing content.
// Paths that would escape the workspace are rejected.
func (w *Workspace) Materialize(files []sourcefile.File) error {
	for _, f := range files {
		rel := sourcefile.NormalizePath(f.Path)
		if rel == "" {
			continue
		}
		if err := w.fs.SafeWriteFile(rel, f.Content, 0o644); err != nil {
			return fmt.Errorf("materialize %s: %w", f.Path, err)
		}
	}
	return nil
}

func outputRoot(outputDir string) (string, error) {
	root := path.Clean(strings.Trim(sourcefile.NormalizePath(outputDir), "/"))
	if root == "" || root == "." {
		return "", errors.New("output directory is required")
	}
	return root, nil
}

// ClearOutput removes the build output directory so a run only ever
// collects what it produced itself.
func (w *Workspace) ClearOutput(outputDir string) error {
	root, err := outputRoot(outputDir)
	if err != nil {
		return err
	}
	if err := w.fs.SafeRemoveAll(root); err != nil {
		return fmt.Errorf("clear %s: %w", outputDir, err)
	}
	return nil
}

// Collect reads every file under the build output directory, in path
// order, with paths relative to that directory.
func (w *Workspace) Collect(outputDir string) ([]sourcefile.File, error) {
	root, err := outputRoot(outputDir)
	if err != nil {
		return nil, err
	}
	info, err := w.fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("build produced no %s directory: %w", outputDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", outputDir)
	}

	var files []sourcefile.File
	err = fs.WalkDir(w.fs, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		content, err := fs.ReadFile(w.fs, p)
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(p, root+"/")
		files = append(files, sourcefile.File{Path: rel, Content: content, Kind: sourcefile.KindForPath(rel)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Close removes the workspace. It is safe to call more than once.
func (w *Workspace) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = os.RemoveAll(w.fs.Root())
	})
	return w.closeErr
}
