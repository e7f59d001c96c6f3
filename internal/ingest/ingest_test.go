package ingest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chronolog/chronolog/internal/metadb"
	"github.com/chronolog/chronolog/internal/objstore"
)

func newTestWorker(t *testing.T, opts ...Option) (*Worker, *metadb.DB, *objstore.Store, string) {
	t.Helper()
	ctx := context.Background()

	root := t.TempDir()
	db, err := metadb.Open(ctx, filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("metadb.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := objstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("objstore.Open: %v", err)
	}

	err = db.Write(ctx, func(tx *sql.Tx) error {
		if _, err := metadb.CreateBranch(ctx, tx, "main", 0, time.Now()); err != nil {
			return err
		}
		return metadb.SetHeadBranch(ctx, tx, "main")
	})
	if err != nil {
		t.Fatalf("seeding branch: %v", err)
	}

	w := New(root, store, db, nil, nil, opts...)
	return w, db, store, root
}

func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	abs := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestIngestRecordsFirstVersion(t *testing.T) {
	ctx := context.Background()
	w, db, _, root := newTestWorker(t)
	writeFile(t, root, "a.txt", "hello")

	hash, err := w.IngestAnnotated(ctx, "a.txt", "")
	if err != nil {
		t.Fatalf("IngestAnnotated: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected a non-empty version hash for a new file")
	}

	var v metadb.Version
	err = db.Read(ctx, func(q metadb.Queryer) error {
		var err error
		v, err = metadb.GetVersion(ctx, q, hash)
		return err
	})
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v.FilePath != "a.txt" {
		t.Errorf("FilePath = %q, want a.txt", v.FilePath)
	}
}

func TestIngestSkipsUnchangedContent(t *testing.T) {
	ctx := context.Background()
	w, _, _, root := newTestWorker(t)
	writeFile(t, root, "a.txt", "hello")

	first, err := w.IngestAnnotated(ctx, "a.txt", "")
	if err != nil {
		t.Fatalf("first IngestAnnotated: %v", err)
	}
	if first == "" {
		t.Fatalf("expected first ingest to record a version")
	}

	// Re-ingest the same content without any edit: must be a no-op.
	second, err := w.IngestAnnotated(ctx, "a.txt", "")
	if err != nil {
		t.Fatalf("second IngestAnnotated: %v", err)
	}
	if second != "" {
		t.Errorf("expected no-op ingest to return an empty hash, got %q", second)
	}
}

func TestAnnotatedIngestRecordsUnchangedContent(t *testing.T) {
	ctx := context.Background()
	w, db, _, root := newTestWorker(t)
	writeFile(t, root, "a.txt", "hello")

	first, err := w.IngestAnnotated(ctx, "a.txt", "")
	if err != nil {
		t.Fatalf("first IngestAnnotated: %v", err)
	}

	// A checkout that restores the bytes already at head still appends a
	// version, so the revert stays visible in the log.
	second, err := w.IngestAnnotated(ctx, "a.txt", "checkout: restored from "+first[:8])
	if err != nil {
		t.Fatalf("annotated IngestAnnotated: %v", err)
	}
	if second == "" || second == first {
		t.Fatalf("expected a distinct annotated version, got %q (first was %q)", second, first)
	}

	var v metadb.Version
	err = db.Read(ctx, func(q metadb.Queryer) error {
		var err error
		v, err = metadb.GetVersion(ctx, q, second)
		return err
	})
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v.ParentVersionHash != first {
		t.Errorf("ParentVersionHash = %q, want %q", v.ParentVersionHash, first)
	}

	var firstV metadb.Version
	err = db.Read(ctx, func(q metadb.Queryer) error {
		var err error
		firstV, err = metadb.GetVersion(ctx, q, first)
		return err
	})
	if err != nil {
		t.Fatalf("GetVersion(first): %v", err)
	}
	if v.BlobHash != firstV.BlobHash {
		t.Errorf("annotated re-record changed BlobHash: %q vs %q", v.BlobHash, firstV.BlobHash)
	}
}

func TestIngestSkipsDeleteOfAlreadyAbsentPath(t *testing.T) {
	ctx := context.Background()
	w, _, _, _ := newTestWorker(t)

	// a.txt was never written and never ingested: deleting it is a no-op.
	hash, err := w.IngestAnnotated(ctx, "a.txt", "")
	if err != nil {
		t.Fatalf("IngestAnnotated: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash for delete-of-absent path, got %q", hash)
	}
}

func TestIngestRecordsAnnotation(t *testing.T) {
	ctx := context.Background()
	w, db, _, root := newTestWorker(t)
	writeFile(t, root, "a.txt", "hello")

	hash, err := w.IngestAnnotated(ctx, "a.txt", "reverted to abc123")
	if err != nil {
		t.Fatalf("IngestAnnotated: %v", err)
	}

	var v metadb.Version
	err = db.Read(ctx, func(q metadb.Queryer) error {
		var err error
		v, err = metadb.GetVersion(ctx, q, hash)
		return err
	})
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v.Annotation != "reverted to abc123" {
		t.Errorf("Annotation = %q, want %q", v.Annotation, "reverted to abc123")
	}
}

func TestIngestWrapperDropsAnnotationlessHash(t *testing.T) {
	ctx := context.Background()
	w, _, _, root := newTestWorker(t)
	writeFile(t, root, "a.txt", "hello")

	if err := w.Ingest(ctx, "a.txt"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
}

func TestIngestRejectsBinaryWhenForbidden(t *testing.T) {
	ctx := context.Background()
	w, _, _, root := newTestWorker(t, WithBinaryAllowed(false))
	writeFile(t, root, "a.bin", "binary\x00content")

	_, err := w.IngestAnnotated(ctx, "a.bin", "")
	if err == nil {
		t.Fatalf("expected ErrBinaryForbidden, got nil")
	}
}

func TestIngestAllowsBinaryByDefault(t *testing.T) {
	ctx := context.Background()
	w, _, _, root := newTestWorker(t)
	writeFile(t, root, "a.bin", "binary\x00content")

	hash, err := w.IngestAnnotated(ctx, "a.bin", "")
	if err != nil {
		t.Fatalf("IngestAnnotated: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected binary content to be recorded by default")
	}
}

func TestIngestRecordsSecondVersionWithParent(t *testing.T) {
	ctx := context.Background()
	w, db, _, root := newTestWorker(t)
	writeFile(t, root, "a.txt", "one")
	first, err := w.IngestAnnotated(ctx, "a.txt", "")
	if err != nil {
		t.Fatalf("first IngestAnnotated: %v", err)
	}

	writeFile(t, root, "a.txt", "two")
	second, err := w.IngestAnnotated(ctx, "a.txt", "")
	if err != nil {
		t.Fatalf("second IngestAnnotated: %v", err)
	}
	if second == "" || second == first {
		t.Fatalf("expected a distinct new version hash, got %q (first was %q)", second, first)
	}

	var v metadb.Version
	err = db.Read(ctx, func(q metadb.Queryer) error {
		var err error
		v, err = metadb.GetVersion(ctx, q, second)
		return err
	})
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v.ParentVersionHash != first {
		t.Errorf("ParentVersionHash = %q, want %q", v.ParentVersionHash, first)
	}
}
