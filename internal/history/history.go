// Package history answers questions about a file's recorded past: its
// version log, the content of any one version, the line diff between two
// versions, and restoring a version's content back onto disk.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chronolog/chronolog/internal/diffengine"
	"github.com/chronolog/chronolog/internal/metadb"
	"github.com/chronolog/chronolog/internal/objstore"
)

// Log returns up to limit versions of path on branchID, most recent first.
// A limit of 0 means unbounded.
func Log(ctx context.Context, db *metadb.DB, branchID int64, path string, limit int) ([]metadb.Version, error) {
	var out []metadb.Version
	err := db.Read(ctx, func(q metadb.Queryer) error {
		var err error
		out, err = metadb.LogVersions(ctx, q, branchID, path, limit)
		return err
	})
	return out, err
}

// Show returns the content recorded for versionHash. A version whose
// BlobHash is empty represents a deletion and returns nil content.
func Show(ctx context.Context, db *metadb.DB, store *objstore.Store, versionHash string) (metadb.Version, []byte, error) {
	var v metadb.Version
	err := db.Read(ctx, func(q metadb.Queryer) error {
		var err error
		v, err = metadb.GetVersion(ctx, q, versionHash)
		return err
	})
	if err != nil {
		return metadb.Version{}, nil, fmt.Errorf("history: resolving version: %w", err)
	}
	if v.BlobHash == "" {
		return v, nil, nil
	}
	content, err := store.Get(objstore.Hash(v.BlobHash))
	if err != nil {
		return metadb.Version{}, nil, fmt.Errorf("history: reading blob for version %s: %w", versionHash, err)
	}
	return v, content, nil
}

// Diff computes the unified line diff between two recorded versions.
func Diff(ctx context.Context, db *metadb.DB, store *objstore.Store, fromHash, toHash string, contextLines int) (diffengine.Diff, error) {
	_, fromContent, err := Show(ctx, db, store, fromHash)
	if err != nil {
		return diffengine.Diff{}, err
	}
	_, toContent, err := Show(ctx, db, store, toHash)
	if err != nil {
		return diffengine.Diff{}, err
	}
	return diffengine.Compute(fromContent, toContent, contextLines), nil
}

// Checkout writes versionHash's content to its recorded path beneath root,
// overwriting whatever is there. Directories are created as needed. A
// deletion version (empty BlobHash) removes the file instead.
func Checkout(ctx context.Context, db *metadb.DB, store *objstore.Store, root, versionHash string) error {
	v, content, err := Show(ctx, db, store, versionHash)
	if err != nil {
		return err
	}

	absPath := filepath.Join(root, filepath.FromSlash(v.FilePath))
	if v.BlobHash == "" {
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("history: removing %s for checkout: %w", v.FilePath, err)
		}
		return nil
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("history: creating parent directory for %s: %w", v.FilePath, err)
	}

	tmp, err := os.CreateTemp(dir, ".chronolog-checkout-*")
	if err != nil {
		return fmt.Errorf("history: creating temp file for %s: %w", v.FilePath, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("history: writing %s for checkout: %w", v.FilePath, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("history: setting permissions for %s: %w", v.FilePath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("history: syncing %s for checkout: %w", v.FilePath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("history: closing %s for checkout: %w", v.FilePath, err)
	}
	if err := os.Rename(tmpPath, absPath); err != nil {
		return fmt.Errorf("history: renaming into place for %s: %w", v.FilePath, err)
	}
	return nil
}
