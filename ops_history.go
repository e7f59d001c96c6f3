package chronolog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chronolog/chronolog/internal/diffengine"
	"github.com/chronolog/chronolog/internal/history"
	"github.com/chronolog/chronolog/internal/metadb"
	"github.com/chronolog/chronolog/internal/objstore"
)

// LogEntry is one reverse-chronological entry in a path's version history.
type LogEntry struct {
	VersionHash string
	ShortHash   string
	Timestamp   int64 // unix seconds
	Size        int
	Annotation  string
}

// Log walks path's FileHead backward via parent_version_hash on the
// currently checked-out branch, yielding up to limit entries (0 = all),
// newest first. A path with no recorded history yields an empty slice, not
// an error.
func (h *Handle) Log(ctx context.Context, path string, limit int) ([]LogEntry, error) {
	b, err := h.refs.Head(ctx)
	if err != nil {
		return nil, dbErr("resolving HEAD", err)
	}
	versions, err := history.Log(ctx, h.db, b.BranchID, path, limit)
	if err != nil {
		return nil, dbErr("reading log", err)
	}

	out := make([]LogEntry, len(versions))
	for i, v := range versions {
		size := -1
		if v.BlobHash != "" {
			if content, getErr := h.store.Get(objstore.Hash(v.BlobHash)); getErr == nil {
				size = len(content)
			}
		}
		out[i] = LogEntry{
			VersionHash: v.VersionHash,
			ShortHash:   shortHash(v.VersionHash),
			Timestamp:   v.Timestamp.Unix(),
			Size:        size,
			Annotation:  v.Annotation,
		}
	}
	return out, nil
}

// shortHash returns the conventional abbreviated form of a full hash (its
// first shortHashLen hex characters), mirroring gitcore's Hash.Short() notion
// of abbreviation. Lookups accept any unambiguous prefix of at least 4 hex
// characters; that minimum is fixed, not configurable.
func shortHash(full string) string {
	if len(full) <= shortHashLen {
		return full
	}
	return full[:shortHashLen]
}

const shortHashLen = 8

// Show resolves hashOrPrefix (a full hash or an unambiguous ≥4-hex prefix,
// optionally a tag name) and returns the content recorded for that version.
// It returns ErrUserInput wrapping metadb.ErrAmbiguousHash if the prefix
// matches more than one version, and ErrUserInput wrapping metadb.ErrNotFound
// if it matches none.
func (h *Handle) Show(ctx context.Context, hashOrPrefix string) ([]byte, error) {
	full, err := h.resolveRef(ctx, hashOrPrefix)
	if err != nil {
		return nil, err
	}
	_, content, err := history.Show(ctx, h.db, h.store, full)
	if err != nil {
		return nil, dbErr("reading version content", err)
	}
	return content, nil
}

// resolveRef resolves ref as a tag name, then as a (possibly abbreviated)
// version hash, translating metadb's ambiguous/not-found sentinels into
// ErrUserInput per spec.md's show/checkout result kinds.
func (h *Handle) resolveRef(ctx context.Context, ref string) (string, error) {
	hash, err := h.refs.Resolve(ctx, ref)
	if err != nil {
		if errors.Is(err, metadb.ErrAmbiguousHash) {
			return "", userInputErr(fmt.Sprintf("hash prefix %q is ambiguous", ref), err)
		}
		if errors.Is(err, metadb.ErrNotFound) {
			return "", userInputErr(fmt.Sprintf("unknown hash or tag %q", ref), err)
		}
		return "", dbErr("resolving reference", err)
	}
	return hash, nil
}

// Diff computes the unified line diff between two resolved refs (hashes, tag
// names, or prefixes). An empty toRef diffs fromRef against the working
// tree's current content at that version's path. Binary content is
// represented by a Diff whose IsBinary field is set rather than an error —
// a binary comparison is a valid (if unhelpful) answer, not a failure.
func (h *Handle) Diff(ctx context.Context, fromRef, toRef string, contextLines int) (diffengine.Diff, error) {
	fromHash, err := h.resolveRef(ctx, fromRef)
	if err != nil {
		return diffengine.Diff{}, err
	}

	if toRef == "" {
		v, fromContent, err := history.Show(ctx, h.db, h.store, fromHash)
		if err != nil {
			return diffengine.Diff{}, dbErr("reading version content", err)
		}
		current, err := os.ReadFile(filepath.Join(h.root, filepath.FromSlash(v.FilePath))) //nolint:gosec // G304: path comes from the version's own recorded file path
		if err != nil && !os.IsNotExist(err) {
			return diffengine.Diff{}, ioErr("reading working-tree file", err)
		}
		return diffengine.Compute(fromContent, current, contextLines), nil
	}

	toHash, err := h.resolveRef(ctx, toRef)
	if err != nil {
		return diffengine.Diff{}, err
	}
	d, err := history.Diff(ctx, h.db, h.store, fromHash, toHash, contextLines)
	if err != nil {
		return diffengine.Diff{}, dbErr("computing diff", err)
	}
	return d, nil
}

// DiffText renders Diff's result in standard unified-diff text form — the
// string shape the outer CLI layer prints, with the two refs as labels.
func (h *Handle) DiffText(ctx context.Context, fromRef, toRef string, contextLines int) (string, error) {
	d, err := h.Diff(ctx, fromRef, toRef, contextLines)
	if err != nil {
		return "", err
	}
	toLabel := toRef
	if toLabel == "" {
		toLabel = "current"
	}
	return diffengine.Format(d, fromRef, toLabel), nil
}

// Checkout restores hashOrPrefix's content to its recorded path in the
// working tree (atomically — a crash mid-write never leaves a partially
// written file), then records the restored content through the ordinary
// ingest pipeline with an annotation noting the source hash, so the revert
// itself becomes a new version rather than a silent rewrite. It returns the
// new version_hash.
func (h *Handle) Checkout(ctx context.Context, hashOrPrefix string) (string, error) {
	full, err := h.resolveRef(ctx, hashOrPrefix)
	if err != nil {
		return "", err
	}

	if err := history.Checkout(ctx, h.db, h.store, h.root, full); err != nil {
		return "", ioErr("writing checkout content", err)
	}

	v, _, err := history.Show(ctx, h.db, h.store, full)
	if err != nil {
		return "", dbErr("re-reading checked-out version", err)
	}

	w := h.newIngestWorker(nil)
	annotation := fmt.Sprintf("checkout: restored from %s", shortHash(full))
	newHash, err := w.IngestAnnotated(ctx, v.FilePath, annotation)
	if err != nil {
		return "", dbErr("recording checkout as a new version", err)
	}
	return newHash, nil
}
