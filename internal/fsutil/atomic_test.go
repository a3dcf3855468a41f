package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic_ReplacesContent(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "nested", "state.yaml")
	if err := WriteFileAtomic(p, []byte("one\n"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(p, []byte("two\n"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}
	got, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "two\n" {
		t.Fatalf("unexpected content: %q", string(got))
	}
	entries, err := os.ReadDir(filepath.Dir(p))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no staging files left behind, got %d entries", len(entries))
	}
}

func TestWriteFileAtomic_Permissions(t *testing.T) {
	p := filepath.Join(t.TempDir(), "secret.cue")
	if err := WriteFileAtomic(p, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	fi, err := os.Stat(p)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm()&0o077 != 0 {
		t.Fatalf("expected private file, got %v", fi.Mode().Perm())
	}
}

func TestReadFileIfExists(t *testing.T) {
	p := filepath.Join(t.TempDir(), "missing")
	b, ok, err := ReadFileIfExists(p)
	if err != nil || ok || b != nil {
		t.Fatalf("expected clean miss, got %q %v %v", b, ok, err)
	}
}
