// Package refs manages branch and tag namespaces and the current HEAD,
// backed by metadb's branches/tags/meta tables rather than loose ref files:
// the repository has exactly one metadata database, so there is no packed-
// refs file to reconcile and no filesystem races to guard against.
package refs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chronolog/chronolog/internal/metadb"
)

// DefaultBranch is the branch created when a repository is first initialized.
const DefaultBranch = "main"

// Manager is the refs façade handed to callers needing branch/tag/HEAD
// operations; it holds no state of its own beyond the database handle.
type Manager struct {
	db *metadb.DB
}

// New returns a ref Manager over db.
func New(db *metadb.DB) *Manager {
	return &Manager{db: db}
}

// Bootstrap creates the default branch and checks it out, if no branch
// exists yet. It is idempotent: calling it on an already-initialized
// repository is a no-op.
func (m *Manager) Bootstrap(ctx context.Context) error {
	var exists bool
	err := m.db.Read(ctx, func(q metadb.Queryer) error {
		_, err := metadb.GetBranchByName(ctx, q, DefaultBranch)
		exists = err == nil
		if err != nil && err != metadb.ErrNotFound {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return m.db.Write(ctx, func(tx *sql.Tx) error {
		if _, err := metadb.CreateBranch(ctx, tx, DefaultBranch, 0, time.Now()); err != nil {
			return fmt.Errorf("refs: bootstrapping default branch: %w", err)
		}
		return metadb.SetHeadBranch(ctx, tx, DefaultBranch)
	})
}

// CreateBranch creates a new branch named name, forking from the named
// source branch, or from the branch currently checked out when from is
// empty. The new branch's file heads start as a copy of the source's, so a
// freshly created branch reports the same content as its source until a
// version is recorded against it. It returns metadb.ErrNotFound if from
// names no branch.
func (m *Manager) CreateBranch(ctx context.Context, name, from string) error {
	return m.db.Write(ctx, func(tx *sql.Tx) error {
		source := from
		if source == "" {
			head, err := metadb.GetHeadBranch(ctx, tx)
			if err != nil {
				return fmt.Errorf("refs: reading current branch: %w", err)
			}
			source = head
		}
		parent, err := metadb.GetBranchByName(ctx, tx, source)
		if err != nil {
			return fmt.Errorf("refs: resolving source branch %q: %w", source, err)
		}
		_, err = metadb.CreateBranch(ctx, tx, name, parent.BranchID, time.Now())
		return err
	})
}

// Switch changes HEAD to point at the named branch. It returns
// metadb.ErrNotFound if the branch doesn't exist.
func (m *Manager) Switch(ctx context.Context, name string) error {
	return m.db.Write(ctx, func(tx *sql.Tx) error {
		if _, err := metadb.GetBranchByName(ctx, tx, name); err != nil {
			return err
		}
		return metadb.SetHeadBranch(ctx, tx, name)
	})
}

// DeleteBranch removes a branch. It refuses to delete the branch currently
// checked out (metadb.ErrIsHead).
func (m *Manager) DeleteBranch(ctx context.Context, name string) error {
	return m.db.Write(ctx, func(tx *sql.Tx) error {
		return metadb.DeleteBranch(ctx, tx, name)
	})
}

// ListBranches returns every branch.
func (m *Manager) ListBranches(ctx context.Context) ([]metadb.Branch, error) {
	var out []metadb.Branch
	err := m.db.Read(ctx, func(q metadb.Queryer) error {
		var err error
		out, err = metadb.ListBranches(ctx, q)
		return err
	})
	return out, err
}

// Head returns the branch row currently checked out.
func (m *Manager) Head(ctx context.Context) (metadb.Branch, error) {
	var b metadb.Branch
	err := m.db.Read(ctx, func(q metadb.Queryer) error {
		name, err := metadb.GetHeadBranch(ctx, q)
		if err != nil {
			return err
		}
		b, err = metadb.GetBranchByName(ctx, q, name)
		return err
	})
	return b, err
}

// CreateTag creates a named, immutable pointer to a version.
func (m *Manager) CreateTag(ctx context.Context, name, versionHash, description string) error {
	return m.db.Write(ctx, func(tx *sql.Tx) error {
		return metadb.CreateTag(ctx, tx, metadb.Tag{
			TagName:     name,
			VersionHash: versionHash,
			CreatedAt:   time.Now(),
			Description: description,
		})
	})
}

// DeleteTag removes a tag by name.
func (m *Manager) DeleteTag(ctx context.Context, name string) error {
	return m.db.Write(ctx, func(tx *sql.Tx) error {
		return metadb.DeleteTag(ctx, tx, name)
	})
}

// ListTags returns every tag, ordered by name.
func (m *Manager) ListTags(ctx context.Context) ([]metadb.Tag, error) {
	var out []metadb.Tag
	err := m.db.Read(ctx, func(q metadb.Queryer) error {
		var err error
		out, err = metadb.ListTags(ctx, q)
		return err
	})
	return out, err
}

// Resolve resolves ref as a tag name, then as a (possibly abbreviated)
// version hash.
func (m *Manager) Resolve(ctx context.Context, ref string) (string, error) {
	var hash string
	err := m.db.Read(ctx, func(q metadb.Queryer) error {
		var err error
		hash, err = metadb.ResolveTagOrHash(ctx, q, ref)
		return err
	})
	return hash, err
}
