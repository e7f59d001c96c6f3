// Package ingest turns a changed path on disk into a recorded version:
// read the file, hash its content, skip if nothing actually changed, store
// the blob, and write the version/file_head/search rows in one transaction.
// A single worker goroutine drains the watcher's event queue — ingest order
// matches change order, and the worker never races itself over one file.
package ingest

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chronolog/chronolog/internal/diffengine"
	"github.com/chronolog/chronolog/internal/metadb"
	"github.com/chronolog/chronolog/internal/objstore"
	"github.com/chronolog/chronolog/internal/search"
)

// maxReadRetries bounds how many times ingestOne re-reads a file whose size
// changed mid-read before giving up, so a file under active, continuous
// write doesn't stall the single ingest worker indefinitely.
const maxReadRetries = 5

// ErrSizeUnstable is returned when a file's size kept changing across every
// read retry.
var ErrSizeUnstable = errors.New("ingest: file size did not stabilize")

// ErrBinaryForbidden is returned when a path is classified binary (a null
// byte in its first 8KiB) and the worker's policy forbids recording binary
// content.
var ErrBinaryForbidden = errors.New("ingest: binary content forbidden by policy")

// CommitEvent is published after a version is successfully recorded, for
// any in-process subscriber (the daemon's own change feed) that wants to
// react without polling metadb.
type CommitEvent struct {
	FilePath    string
	VersionHash string
	BranchID    int64
	Timestamp   time.Time
	Deleted     bool
}

// Worker drains a channel of repository-relative paths and records a
// version for each.
type Worker struct {
	root        string
	store       *objstore.Store
	db          *metadb.DB
	log         *slog.Logger
	events      chan<- CommitEvent
	allowBinary bool
}

// Option configures a Worker.
type Option func(*Worker)

// WithBinaryAllowed controls whether Ingest records binary content (a null
// byte in the first 8KiB) or skips it with ErrBinaryForbidden. Defaults to
// allowed, since spec.md leaves the policy caller-configurable rather than
// fixing it.
func WithBinaryAllowed(allowed bool) Option { return func(w *Worker) { w.allowBinary = allowed } }

// New returns a Worker rooted at root, persisting blobs to store and
// metadata to db. events, if non-nil, receives a CommitEvent after each
// successful ingest; sends are non-blocking so a slow or absent subscriber
// never stalls ingest.
func New(root string, store *objstore.Store, db *metadb.DB, events chan<- CommitEvent, log *slog.Logger, opts ...Option) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{root: root, store: store, db: db, log: log, events: events, allowBinary: true}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run drains paths until ctx is canceled or paths is closed, calling done
// for each path just before ingesting it, so the watcher clears its
// coalescing state and a change that lands during that ingest is queued for
// one more pass.
func (w *Worker) Run(ctx context.Context, paths <-chan string, done func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case relPath, ok := <-paths:
			if !ok {
				return
			}
			if done != nil {
				done(relPath)
			}
			if err := w.Ingest(ctx, relPath); err != nil {
				w.log.Warn("ingest failed", "path", relPath, "err", err)
			}
		}
	}
}

// Ingest records a single version of relPath against the currently checked
// out branch. It is a no-op if the file's content hash matches the
// existing file_head (nothing to record).
func (w *Worker) Ingest(ctx context.Context, relPath string) error {
	_, err := w.IngestAnnotated(ctx, relPath, "")
	return err
}

// IngestAnnotated behaves like Ingest but stamps the new version with
// annotation — used by checkout to note the source hash a restored version
// came from. An annotated save is always recorded, even when the restored
// bytes match the current file head: the revert itself belongs in history.
// An unannotated save returns the empty string when it was a no-op (content
// unchanged, or an already-absent path deleted again).
func (w *Worker) IngestAnnotated(ctx context.Context, relPath, annotation string) (string, error) {
	absPath := filepath.Join(w.root, filepath.FromSlash(relPath))

	content, deleted, err := readStable(absPath)
	if err != nil {
		return "", fmt.Errorf("ingest: reading %s: %w", relPath, err)
	}

	if !deleted && !w.allowBinary && diffengine.IsBinary(content) {
		return "", fmt.Errorf("%w: %s", ErrBinaryForbidden, relPath)
	}

	var blobHash string
	if !deleted {
		h := objstore.HashBytes(content)
		blobHash = string(h)
	}

	var branchID int64
	var parentVersion string
	var priorBlobHash string
	err = w.db.Read(ctx, func(q metadb.Queryer) error {
		name, err := metadb.GetHeadBranch(ctx, q)
		if err != nil {
			return fmt.Errorf("reading head branch: %w", err)
		}
		branch, err := metadb.GetBranchByName(ctx, q, name)
		if err != nil {
			return fmt.Errorf("resolving head branch: %w", err)
		}
		branchID = branch.BranchID

		head, err := metadb.GetFileHead(ctx, q, branchID, relPath)
		if err == nil {
			parentVersion = head.VersionHash
			if v, vErr := metadb.GetVersion(ctx, q, head.VersionHash); vErr == nil {
				priorBlobHash = v.BlobHash
			}
		} else if err != metadb.ErrNotFound {
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if deleted && priorBlobHash == "" {
		return "", nil // already absent, nothing to record
	}
	if !deleted && blobHash == priorBlobHash && annotation == "" {
		return "", nil // content unchanged since last recorded version
	}

	if !deleted {
		if _, err := w.store.Put(content); err != nil {
			return "", fmt.Errorf("ingest: storing blob for %s: %w", relPath, err)
		}
	}

	now := time.Now().UTC()
	versionHash := computeVersionHash(relPath, blobHash, parentVersion, branchID, now)

	var terms []metadb.SearchTerm
	if !deleted && !diffengine.IsBinary(content) {
		terms = search.Tokenize(versionHash, relPath, content)
	}

	err = w.db.Write(ctx, func(tx *sql.Tx) error {
		if err := metadb.InsertVersion(ctx, tx, metadb.Version{
			VersionHash:       versionHash,
			FilePath:          relPath,
			BlobHash:          blobHash,
			Timestamp:         now,
			ParentVersionHash: parentVersion,
			BranchID:          branchID,
			Annotation:        annotation,
		}); err != nil {
			return fmt.Errorf("inserting version: %w", err)
		}
		if len(terms) > 0 {
			if err := metadb.InsertSearchTerms(ctx, tx, terms); err != nil {
				return fmt.Errorf("indexing version: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	w.publish(CommitEvent{FilePath: relPath, VersionHash: versionHash, BranchID: branchID, Timestamp: now, Deleted: deleted})
	return versionHash, nil
}

func (w *Worker) publish(ev CommitEvent) {
	if w.events == nil {
		return
	}
	select {
	case w.events <- ev:
	default:
		w.log.Debug("dropping commit event, subscriber channel full", "path", ev.FilePath)
	}
}

// readStable reads path's full content, retrying if its size changes
// between the initial stat and the completed read — evidence a writer is
// still appending. It reports deleted=true if the path no longer exists.
func readStable(path string) (content []byte, deleted bool, err error) {
	for attempt := 0; attempt < maxReadRetries; attempt++ {
		before, statErr := os.Stat(path)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				return nil, true, nil
			}
			return nil, false, statErr
		}

		data, readErr := os.ReadFile(path) //nolint:gosec // G304: path is derived from the watched working tree root
		if readErr != nil {
			if os.IsNotExist(readErr) {
				return nil, true, nil
			}
			return nil, false, readErr
		}

		after, statErr := os.Stat(path)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				return nil, true, nil
			}
			return nil, false, statErr
		}

		if before.Size() == after.Size() && int64(len(data)) == after.Size() {
			return data, false, nil
		}
	}
	return nil, false, ErrSizeUnstable
}

func computeVersionHash(path, blobHash, parent string, branchID int64, ts time.Time) string {
	h := sha256.New()
	io.WriteString(h, path)     //nolint:errcheck // hash.Hash.Write never errors
	io.WriteString(h, "\x00")   //nolint:errcheck
	io.WriteString(h, blobHash) //nolint:errcheck
	io.WriteString(h, "\x00")   //nolint:errcheck
	io.WriteString(h, parent)   //nolint:errcheck
	io.WriteString(h, "\x00")   //nolint:errcheck
	fmt.Fprintf(h, "%d\x00%d", branchID, ts.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}
