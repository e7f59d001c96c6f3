package objstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	content := []byte("hello, chronolog\n")
	h, err := s.Put(content)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("Get returned %q, want %q", got, content)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	content := []byte("dedup me")
	h1, err := s.Put(content)
	if err != nil {
		t.Fatalf("Put (1): %v", err)
	}
	h2, err := s.Put(content)
	if err != nil {
		t.Fatalf("Put (2): %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ across repeated Put: %s != %s", h1, h2)
	}

	count := 0
	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walking store root: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one object file on disk, found %d", count)
	}
}

func TestGetUnknownHash(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = s.Get(HashBytes([]byte("never stored")))
	if err == nil {
		t.Fatal("expected error for unknown hash, got nil")
	}
}

func TestEmptyContentHasCanonicalHash(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h, err := s.Put(nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if string(h) != emptySHA256 {
		t.Errorf("empty blob hash = %s, want %s", h, emptySHA256)
	}
	got, err := s.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected zero-length content, got %d bytes", len(got))
	}
}

func TestSweepTempOnOpen(t *testing.T) {
	root := t.TempDir()
	tmpDir := filepath.Join(root, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	leftover := filepath.Join(tmpDir, "deadbeef.tmp")
	if err := os.WriteFile(leftover, []byte("partial"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Open(root); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Errorf("expected leftover .tmp file to be swept, stat err = %v", err)
	}
}

func TestDeleteThenHas(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h, err := s.Put([]byte("transient"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !s.Has(h) {
		t.Fatal("expected Has to report true after Put")
	}
	if err := s.Delete(h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Has(h) {
		t.Fatal("expected Has to report false after Delete")
	}
}
