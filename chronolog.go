// Package chronolog is the stable in-process API boundary for the
// repository engine: a CLI, TUI, or web front-end opens a Handle and drives
// every operation (log/show/diff/checkout, branch and tag management,
// search, merge, daemon lifecycle) through its exported methods, never by
// reaching into internal/objstore, internal/metadb, or any other internal
// package directly.
package chronolog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chronolog/chronolog/internal/ignore"
	"github.com/chronolog/chronolog/internal/ingest"
	"github.com/chronolog/chronolog/internal/metadb"
	"github.com/chronolog/chronolog/internal/objstore"
	"github.com/chronolog/chronolog/internal/refs"
)

// metadataDirName, historyDBName, etc. name the files and directories
// spec.md's on-disk layout fixes beneath the repository root.
const (
	metadataDirName = ".chronolog"
	objectsDirName  = "objects"
	historyDBName   = "history.db"
	configFileName  = "config.json"
	pidFileName     = "daemon.pid"
	headFileName    = "HEAD"
	ignoreFileName  = ".chronologignore"
)

// Handle is an open repository: the explicit, caller-held object spec.md §9
// requires in place of any hidden global state. Every operation is a method
// on Handle (or on one of the managers it exposes), and Close releases the
// underlying database connection (the object store holds no open handles).
type Handle struct {
	root   string
	db     *metadb.DB
	store  *objstore.Store
	filter *ignore.Filter
	refs   *refs.Manager
	log    *slog.Logger
	cfg    Config

	// daemon holds the running watcher/ingest pair, nil when no daemon is
	// active in this process. Starting one from the same Handle that also
	// issues queries is supported; daemon_start from an external process
	// is coordinated through daemon.pid's flock instead (see daemon.go).
	daemon *daemonState
}

// Root returns the repository's working-tree root.
func (h *Handle) Root() string { return h.root }

// Config returns the repository's currently loaded configuration.
func (h *Handle) Config() Config { return h.cfg }

func metaDir(root string) string { return filepath.Join(root, metadataDirName) }

// Init creates a new repository rooted at root: the .chronolog state
// directory, an empty object store, a freshly migrated metadata database,
// and a default "main" branch checked out as HEAD. It returns ErrState
// wrapping an already-initialized diagnostic if root already has a
// .chronolog directory, matching spec.md's init/AlreadyInitialized result.
func Init(ctx context.Context, root string) (*Handle, error) {
	dir := metaDir(root)
	if _, err := os.Stat(dir); err == nil {
		return nil, stateErr(fmt.Sprintf("%s is already a chronolog repository", root), nil)
	} else if !os.IsNotExist(err) {
		return nil, ioErr("checking for existing repository", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ioErr("creating repository directory", err)
	}

	h, err := open(ctx, root)
	if err != nil {
		return nil, err
	}
	if err := h.refs.Bootstrap(ctx); err != nil {
		return nil, dbErr("bootstrapping default branch", err)
	}
	if err := h.writeHeadFile(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Open opens an existing repository rooted at root. It returns ErrState
// wrapping a NotARepository diagnostic if root has no .chronolog
// directory, and ErrState wrapping metadb.ErrSchemaTooNew if the database's
// recorded schema is ahead of what this binary's embedded migrations
// understand.
func Open(ctx context.Context, root string) (*Handle, error) {
	dir := metaDir(root)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, stateErr(fmt.Sprintf("%s is not a chronolog repository", root), nil)
		}
		return nil, ioErr("checking repository directory", err)
	}
	h, err := open(ctx, root)
	if err != nil {
		return nil, err
	}
	// Re-sync the plain-text HEAD mirror: if a crash landed between a branch
	// switch's database commit and its file write, the database wins here.
	if err := h.writeHeadFile(ctx); err != nil {
		h.db.Close() //nolint:errcheck // best-effort cleanup on construction failure
		return nil, err
	}
	return h, nil
}

func open(ctx context.Context, root string) (*Handle, error) {
	dir := metaDir(root)

	cfg, err := loadConfig(filepath.Join(dir, configFileName))
	if err != nil {
		return nil, err
	}

	db, err := metadb.Open(ctx, filepath.Join(dir, historyDBName))
	if err != nil {
		return nil, dbErr("opening metadata store", err)
	}

	store, err := objstore.Open(filepath.Join(dir, objectsDirName))
	if err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup on construction failure
		return nil, ioErr("opening object store", err)
	}
	if _, err := store.Quarantine(); err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup on construction failure
		return nil, ioErr("quarantining corrupt objects", err)
	}

	ignorePath := filepath.Join(root, ignoreFileName)
	filter, err := ignore.NewFilter(ignorePath)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, ioErr("loading ignore rules", err)
	}

	h := &Handle{
		root:   root,
		db:     db,
		store:  store,
		filter: filter,
		refs:   refs.New(db),
		log:    newLogger(cfg),
		cfg:    cfg,
	}
	return h, nil
}

// Close releases the repository's database connection. It is safe to call
// once after the Handle is no longer needed; a running daemon (DaemonStart)
// must be stopped first.
func (h *Handle) Close() error {
	if h.daemon != nil {
		return stateErr("close called with daemon still running; call DaemonStop first", nil)
	}
	if err := h.db.Close(); err != nil {
		return ioErr("closing metadata store", err)
	}
	return nil
}

// writeHeadFile mirrors the currently checked-out branch name to
// .chronolog/HEAD, the plain-text pointer spec.md's on-disk layout names
// (single line, branch name). The metadata database's meta table — written
// transactionally by internal/refs — remains the authoritative source HEAD
// reads consult; this file exists so external tooling (or a human) can see
// the current branch without opening history.db, exactly as a git
// repository's own HEAD file does for a reader that never touches its
// object database.
func (h *Handle) writeHeadFile(ctx context.Context) error {
	b, err := h.refs.Head(ctx)
	if err != nil {
		return dbErr("resolving HEAD for mirror file", err)
	}
	path := filepath.Join(metaDir(h.root), headFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.Name+"\n"), 0o644); err != nil {
		return ioErr("writing HEAD file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return ioErr("renaming HEAD file into place", err)
	}
	return nil
}

// newIngestWorker builds an ingest.Worker wired to this Handle's store, db,
// and configured binary policy — shared by DaemonStart's watch loop and by
// Checkout's record-the-revert step, so both paths apply the same policy.
func (h *Handle) newIngestWorker(events chan<- ingest.CommitEvent) *ingest.Worker {
	return ingest.New(h.root, h.store, h.db, events, h.log, ingest.WithBinaryAllowed(h.cfg.AllowBinary))
}
