package safeio

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestSafeFSAllowsAbsoluteUnderRoot(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fs, err := NewSafeFS(dir)
	if err != nil {
		t.Fatalf("NewSafeFS: %v", err)
	}
	if _, err := fs.SafeReadFile(p); err != nil {
		t.Fatalf("SafeReadFile absolute: %v", err)
	}
}

func TestSafeWriteFileCreatesParents(t *testing.T) {
	sfs, err := NewSafeFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewSafeFS: %v", err)
	}
	if err := sfs.SafeWriteFile("src/components/Button.tsx", []byte("x"), 0o644); err != nil {
		t.Fatalf("SafeWriteFile: %v", err)
	}
	got, err := sfs.SafeReadFile("src/components/Button.tsx")
	if err != nil || string(got) != "x" {
		t.Fatalf("read back = %q, %v", got, err)
	}
}

func TestSafeWriteFileRejectsTraversal(t *testing.T) {
	sfs, err := NewSafeFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewSafeFS: %v", err)
	}
	for _, p := range []string{"../escape.txt", "a/../../escape.txt", "/etc/passwd", "."} {
		if err := sfs.SafeWriteFile(p, []byte("x"), 0o644); err == nil {
			t.Fatalf("SafeWriteFile(%q) succeeded", p)
		}
	}
}

func TestSafeWriteFileRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlink: %v", err)
	}
	sfs, err := NewSafeFS(root)
	if err != nil {
		t.Fatalf("NewSafeFS: %v", err)
	}
	if err := sfs.SafeWriteFile("link/x.txt", []byte("x"), 0o644); err == nil {
		t.Fatalf("write through symlink escaped root")
	}
	if _, err := os.Stat(filepath.Join(outside, "x.txt")); !os.IsNotExist(err) {
		t.Fatalf("file written outside root")
	}
}

func TestSafeRemoveAllStaysUnderRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "keep.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sfs, err := NewSafeFS(root)
	if err != nil {
		t.Fatalf("NewSafeFS: %v", err)
	}
	if err := sfs.SafeWriteFile("dist/assets/a.js", []byte("x"), 0o644); err != nil {
		t.Fatalf("SafeWriteFile: %v", err)
	}
	if err := sfs.SafeRemoveAll("dist"); err != nil {
		t.Fatalf("SafeRemoveAll: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "dist")); !os.IsNotExist(err) {
		t.Fatalf("dist still present: %v", err)
	}
	if err := sfs.SafeRemoveAll("missing/deeper"); err != nil {
		t.Fatalf("SafeRemoveAll missing: %v", err)
	}
	for _, p := range []string{".", "../" + filepath.Base(outside), outside} {
		if err := sfs.SafeRemoveAll(p); err == nil {
			t.Fatalf("SafeRemoveAll(%q) succeeded", p)
		}
	}
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlink: %v", err)
	}
	if err := sfs.SafeRemoveAll("link/keep.txt"); err == nil {
		t.Fatalf("remove through symlink escaped root")
	}
	if _, err := os.Stat(filepath.Join(outside, "keep.txt")); err != nil {
		t.Fatalf("file outside root removed: %v", err)
	}
}

func TestSafeFSWalksAsFS(t *testing.T) {
	sfs, err := NewSafeFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewSafeFS: %v", err)
	}
	for _, p := range []string{"dist/index.html", "dist/assets/app.js"} {
		if err := sfs.SafeWriteFile(p, []byte(p), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	var seen []string
	err = fs.WalkDir(sfs, "dist", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			seen = append(seen, p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir: %v", err)
	}
	if len(seen) != 2 || seen[0] != "dist/assets/app.js" || seen[1] != "dist/index.html" {
		t.Fatalf("walked %v", seen)
	}
}

func TestWithin(t *testing.T) {
	if !Within("/a/b/c", "/a/b") || !Within("/a/b", "/a/b") {
		t.Fatalf("expected inside")
	}
	if Within("/a/bc", "/a/b") || Within("/a", "/a/b") {
		t.Fatalf("expected outside")
	}
}
