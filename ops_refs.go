package chronolog

import (
	"context"
	"errors"

	"github.com/chronolog/chronolog/internal/metadb"
)

// Branch is the caller-facing view of a branch row.
type Branch struct {
	Name          string
	ParentBranch  string
	CreatedAtUnix int64
	IsHead        bool
}

// Tag is the caller-facing view of a tag row.
type Tag struct {
	Name        string
	VersionHash string
	CreatedAt   int64
	Description string
}

// BranchCreate creates a new branch forking from the named source branch,
// or from HEAD when from is empty. It returns ErrUserInput wrapping
// metadb.ErrAlreadyExists if name is taken, and ErrUserInput wrapping
// metadb.ErrNotFound if from names no branch.
func (h *Handle) BranchCreate(ctx context.Context, name, from string) error {
	if err := h.refs.CreateBranch(ctx, name, from); err != nil {
		if errors.Is(err, metadb.ErrAlreadyExists) {
			return userInputErr("branch "+name+" already exists", err)
		}
		if errors.Is(err, metadb.ErrNotFound) {
			return userInputErr("branch "+from+" does not exist", err)
		}
		return dbErr("creating branch", err)
	}
	return nil
}

// BranchList returns every branch, marking the one currently checked out.
func (h *Handle) BranchList(ctx context.Context) ([]Branch, error) {
	all, err := h.refs.ListBranches(ctx)
	if err != nil {
		return nil, dbErr("listing branches", err)
	}
	head, err := h.refs.Head(ctx)
	if err != nil {
		return nil, dbErr("resolving HEAD", err)
	}

	byID := make(map[int64]string, len(all))
	for _, b := range all {
		byID[b.BranchID] = b.Name
	}

	out := make([]Branch, len(all))
	for i, b := range all {
		parent := ""
		if b.ParentBranchID != 0 {
			parent = byID[b.ParentBranchID]
		}
		out[i] = Branch{
			Name:          b.Name,
			ParentBranch:  parent,
			CreatedAtUnix: b.CreatedAt.Unix(),
			IsHead:        b.Name == head.Name,
		}
	}
	return out, nil
}

// BranchSwitch moves HEAD to name, then mirrors the change to the
// .chronolog/HEAD file. Switching does not rewrite the working tree; a
// subsequent save begins ingest against the new branch's own file heads,
// per spec.md's explicit design choice that working-tree synchronization is
// a caller-initiated operation (Checkout), not an implicit side effect of
// switching branches.
func (h *Handle) BranchSwitch(ctx context.Context, name string) error {
	if err := h.refs.Switch(ctx, name); err != nil {
		if errors.Is(err, metadb.ErrNotFound) {
			return userInputErr("branch "+name+" does not exist", err)
		}
		return dbErr("switching branch", err)
	}
	return h.writeHeadFile(ctx)
}

// BranchDelete removes a branch. It returns ErrUserInput wrapping
// metadb.ErrIsHead if name is the branch currently checked out.
func (h *Handle) BranchDelete(ctx context.Context, name string) error {
	if err := h.refs.DeleteBranch(ctx, name); err != nil {
		if errors.Is(err, metadb.ErrIsHead) {
			return userInputErr("cannot delete the current branch", err)
		}
		if errors.Is(err, metadb.ErrNotFound) {
			return userInputErr("branch "+name+" does not exist", err)
		}
		return dbErr("deleting branch", err)
	}
	return nil
}

// TagCreate creates a named, immutable pointer to hashOrPrefix.
func (h *Handle) TagCreate(ctx context.Context, name, hashOrPrefix, description string) error {
	full, err := h.resolveRef(ctx, hashOrPrefix)
	if err != nil {
		return err
	}
	if err := h.refs.CreateTag(ctx, name, full, description); err != nil {
		if errors.Is(err, metadb.ErrAlreadyExists) {
			return userInputErr("tag "+name+" already exists", err)
		}
		return dbErr("creating tag", err)
	}
	return nil
}

// TagList returns every tag, ordered by name.
func (h *Handle) TagList(ctx context.Context) ([]Tag, error) {
	all, err := h.refs.ListTags(ctx)
	if err != nil {
		return nil, dbErr("listing tags", err)
	}
	out := make([]Tag, len(all))
	for i, t := range all {
		out[i] = Tag{Name: t.TagName, VersionHash: t.VersionHash, CreatedAt: t.CreatedAt.Unix(), Description: t.Description}
	}
	return out, nil
}

// TagDelete removes a tag by name.
func (h *Handle) TagDelete(ctx context.Context, name string) error {
	if err := h.refs.DeleteTag(ctx, name); err != nil {
		if errors.Is(err, metadb.ErrNotFound) {
			return userInputErr("tag "+name+" does not exist", err)
		}
		return dbErr("deleting tag", err)
	}
	return nil
}
