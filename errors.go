package chronolog

import (
	"errors"
	"fmt"

	"github.com/chronolog/chronolog/internal/metadb"
)

// The error kinds the outer layer (CLI/TUI/web) is expected to branch on.
// Every operation returns either nil or an error that wraps exactly one of
// these sentinels, checkable with errors.Is.
var (
	// ErrUserInput covers an unknown/ambiguous hash, a missing path, a
	// malformed glob/regex, an invalid branch/tag name, or an attempt to
	// delete the HEAD branch.
	ErrUserInput = errors.New("chronolog: invalid input")
	// ErrState covers "not a repository", "already a repository", schema
	// too new, or a corrupted blob detected on read.
	ErrState = errors.New("chronolog: repository state error")
	// ErrIO covers file read/write, permission, no-space, and watcher
	// registration failures.
	ErrIO = errors.New("chronolog: I/O error")
	// ErrMergeConflict is returned by Merge under the auto policy when a
	// true conflict remains; it is not an error under the manual policy,
	// where the caller receives marked-up content instead.
	ErrMergeConflict = errors.New("chronolog: merge conflict")
	// ErrTransient covers a locked metadata store or an interrupted read;
	// callers may retry with bounded backoff.
	ErrTransient = errors.New("chronolog: transient error")
)

// wrapped pairs one of the sentinels above with a human-readable message and
// an optional underlying cause, following the %w wrapping idiom used
// throughout the ingest/metadb/objstore layers this package composes.
type wrapped struct {
	kind error
	msg  string
	err  error
}

func (w *wrapped) Error() string {
	if w.err != nil {
		return fmt.Sprintf("%s: %v", w.msg, w.err)
	}
	return w.msg
}

func (w *wrapped) Unwrap() []error {
	if w.err != nil {
		return []error{w.kind, w.err}
	}
	return []error{w.kind}
}

func userInputErr(msg string, err error) error {
	return &wrapped{kind: ErrUserInput, msg: msg, err: err}
}
func stateErr(msg string, err error) error { return &wrapped{kind: ErrState, msg: msg, err: err} }
func ioErr(msg string, err error) error    { return &wrapped{kind: ErrIO, msg: msg, err: err} }
func transientErr(msg string, err error) error {
	return &wrapped{kind: ErrTransient, msg: msg, err: err}
}

// dbErr classifies a metadata-store failure: a locked database is transient
// (the caller may retry with bounded backoff), anything else is a
// repository-state error.
func dbErr(msg string, err error) error {
	if errors.Is(err, metadb.ErrBusy) {
		return transientErr(msg, err)
	}
	return stateErr(msg, err)
}
