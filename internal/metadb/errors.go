package metadb

import "errors"

// ErrNotFound is returned when a lookup by hash, path, branch, or tag name
// matches nothing.
var ErrNotFound = errors.New("metadb: not found")

// ErrAmbiguousHash is returned by ResolveVersionHash when a short-hash
// prefix matches more than one version.
var ErrAmbiguousHash = errors.New("metadb: ambiguous hash prefix")

// ErrAlreadyExists is returned when creating a branch or tag whose name is
// already taken.
var ErrAlreadyExists = errors.New("metadb: already exists")

// ErrIsHead is returned when deleting the branch currently checked out.
var ErrIsHead = errors.New("metadb: cannot delete the current branch")
