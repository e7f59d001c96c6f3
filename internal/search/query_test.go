package search

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/chronolog/chronolog/internal/metadb"
)

func openTestDB(t *testing.T) *metadb.DB {
	t.Helper()
	db, err := metadb.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("metadb.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedVersion inserts a version row (on branch 1, which the caller must have
// created) and indexes content's tokens against it, mirroring what
// internal/ingest does within one transaction.
func seedVersion(t *testing.T, db *metadb.DB, hash, parent, path, content string, ts time.Time) {
	t.Helper()
	ctx := context.Background()
	err := db.Write(ctx, func(tx *sql.Tx) error {
		if err := metadb.InsertVersion(ctx, tx, metadb.Version{
			VersionHash:       hash,
			FilePath:          path,
			BlobHash:          hash, // content-identity not exercised here; any stand-in hash works
			Timestamp:         ts,
			ParentVersionHash: parent,
			BranchID:          1,
		}); err != nil {
			return err
		}
		return metadb.InsertSearchTerms(ctx, tx, Tokenize(hash, path, []byte(content)))
	})
	if err != nil {
		t.Fatalf("seedVersion(%s): %v", hash, err)
	}
}

func setupBranch(t *testing.T, db *metadb.DB) {
	t.Helper()
	ctx := context.Background()
	err := db.Write(ctx, func(tx *sql.Tx) error {
		_, err := metadb.CreateBranch(ctx, tx, "main", 0, time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("seeding branch: %v", err)
	}
}

func TestQueryPlainSubstring(t *testing.T) {
	db := openTestDB(t)
	setupBranch(t, db)
	seedVersion(t, db, "v1", "", "a.txt", "the quick brown fox", time.Now())
	seedVersion(t, db, "v2", "", "b.txt", "a slow red fox", time.Now())

	hits, err := Query(context.Background(), db, "fox", Options{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits for 'fox', got %d: %+v", len(hits), hits)
	}
}

func TestQueryWholeWordExcludesSubstringMatch(t *testing.T) {
	db := openTestDB(t)
	setupBranch(t, db)
	seedVersion(t, db, "v1", "", "a.txt", "catfish swim near the cat", time.Now())

	hits, err := Query(context.Background(), db, "cat", Options{WholeWord: true})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected exactly 1 whole-word hit for 'cat', got %d: %+v", len(hits), hits)
	}
}

func TestQueryCaseSensitivity(t *testing.T) {
	db := openTestDB(t)
	setupBranch(t, db)
	seedVersion(t, db, "v1", "", "a.txt", "Hello hello", time.Now())

	hits, err := Query(context.Background(), db, "Hello", Options{WholeWord: true, CaseSens: true})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].Token != "Hello" {
		t.Fatalf("case-sensitive whole-word query = %+v, want only the cased token", hits)
	}

	hits, err = Query(context.Background(), db, "HELLO", Options{WholeWord: true})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("case-insensitive whole-word query = %+v, want both case variants", hits)
	}
}

func TestQueryRegex(t *testing.T) {
	db := openTestDB(t)
	setupBranch(t, db)
	seedVersion(t, db, "v1", "", "a.txt", "version1 version2 other", time.Now())

	hits, err := Query(context.Background(), db, `^version\d$`, Options{Regex: true})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 regex hits, got %d: %+v", len(hits), hits)
	}
}

func TestQueryFileGlobFilters(t *testing.T) {
	db := openTestDB(t)
	setupBranch(t, db)
	seedVersion(t, db, "v1", "", "src/main.go", "token", time.Now())
	seedVersion(t, db, "v2", "", "docs/readme.md", "token", time.Now())

	hits, err := Query(context.Background(), db, "token", Options{FileGlob: "src/*.go"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].FilePath != "src/main.go" {
		t.Fatalf("expected exactly the src/main.go hit, got %+v", hits)
	}
}

func TestQueryMaxResultsCaps(t *testing.T) {
	db := openTestDB(t)
	setupBranch(t, db)
	seedVersion(t, db, "v1", "", "a.txt", "shared", time.Now())
	seedVersion(t, db, "v2", "", "b.txt", "shared", time.Now())
	seedVersion(t, db, "v3", "", "c.txt", "shared", time.Now())

	hits, err := Query(context.Background(), db, "shared", Options{MaxResults: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected MaxResults to cap at 2, got %d", len(hits))
	}
}

func TestQueryChangeAddedOnlyReportsNewOccurrence(t *testing.T) {
	db := openTestDB(t)
	setupBranch(t, db)
	base := time.Now().Add(-time.Hour)
	seedVersion(t, db, "v1", "", "a.txt", "alpha", base)
	seedVersion(t, db, "v2", "v1", "a.txt", "alpha beta", base.Add(time.Minute))

	hits, err := Query(context.Background(), db, "beta", Options{Change: ChangeAdded})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].VersionHash != "v2" {
		t.Fatalf("expected 'beta' reported as added only at v2, got %+v", hits)
	}

	// 'alpha' exists in both v1 and v2: it was not newly added at v2, and
	// v1 (its true introduction) has no parent so it counts as added there.
	hits, err = Query(context.Background(), db, "alpha", Options{Change: ChangeAdded})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].VersionHash != "v1" {
		t.Fatalf("expected 'alpha' reported as added only at v1, got %+v", hits)
	}
}

func TestQueryChangeRemovedFindsDroppedTerm(t *testing.T) {
	db := openTestDB(t)
	setupBranch(t, db)
	base := time.Now().Add(-time.Hour)
	seedVersion(t, db, "v1", "", "a.txt", "alpha beta", base)
	seedVersion(t, db, "v2", "v1", "a.txt", "alpha", base.Add(time.Minute))

	hits, err := Query(context.Background(), db, "beta", Options{Change: ChangeRemoved})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].VersionHash != "v2" {
		t.Fatalf("expected 'beta' reported as removed at v2, got %+v", hits)
	}
}

func TestQueryWithinWindowExcludesOlderHits(t *testing.T) {
	db := openTestDB(t)
	setupBranch(t, db)
	now := time.Now()
	seedVersion(t, db, "v1", "", "old.txt", "marker", now.Add(-48*time.Hour))
	seedVersion(t, db, "v2", "", "new.txt", "marker", now)

	hits, err := Query(context.Background(), db, "marker", Options{Within: 24 * time.Hour})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].FilePath != "new.txt" {
		t.Fatalf("expected only the recent hit within the window, got %+v", hits)
	}
}

func TestQueryRecencyOrdersNewestFirst(t *testing.T) {
	db := openTestDB(t)
	setupBranch(t, db)
	now := time.Now()
	seedVersion(t, db, "v1", "", "old.txt", "marker", now.Add(-time.Hour))
	seedVersion(t, db, "v2", "", "new.txt", "marker", now)

	hits, err := Query(context.Background(), db, "marker", Options{Recency: true})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 || hits[0].FilePath != "new.txt" {
		t.Fatalf("expected newest hit first, got %+v", hits)
	}
}
