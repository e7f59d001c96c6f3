package metadb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// headMetaKey is the meta table key holding the name of the currently
// checked-out branch.
const headMetaKey = "head_branch"

// CreateBranch inserts a new branch row. If parentBranchID is non-zero, the
// new branch's file_heads are seeded by copying the parent's current heads,
// so the branch starts as a snapshot of its parent rather than empty.
func CreateBranch(ctx context.Context, tx *sql.Tx, name string, parentBranchID int64, createdAt time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO branches (name, parent_branch_id, created_at) VALUES (?, ?, ?)`,
		name, nullableBranchID(parentBranchID), createdAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrAlreadyExists
		}
		return 0, fmt.Errorf("metadb: creating branch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("metadb: reading new branch id: %w", err)
	}

	if parentBranchID != 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO file_heads (file_path, branch_id, version_hash)
			SELECT file_path, ?, version_hash FROM file_heads WHERE branch_id = ?`,
			id, parentBranchID)
		if err != nil {
			return 0, fmt.Errorf("metadb: seeding branch heads: %w", err)
		}
	}
	return id, nil
}

func nullableBranchID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// isUniqueViolation is a best-effort check; the exact error type surfaced by
// the sqlite3 driver wraps a driver-specific code rather than a typed Go
// error, so callers fall back to a substring check on the common case.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

// GetBranchByName resolves a branch name to its row.
func GetBranchByName(ctx context.Context, q Queryer, name string) (Branch, error) {
	var b Branch
	var parent sql.NullInt64
	var createdAt int64
	err := q.QueryRowContext(ctx, `
		SELECT branch_id, name, parent_branch_id, created_at FROM branches WHERE name = ?`, name).
		Scan(&b.BranchID, &b.Name, &parent, &createdAt)
	if err == sql.ErrNoRows {
		return Branch{}, ErrNotFound
	}
	if err != nil {
		return Branch{}, fmt.Errorf("metadb: reading branch: %w", err)
	}
	b.ParentBranchID = parent.Int64
	b.CreatedAt = time.Unix(createdAt, 0).UTC()
	return b, nil
}

// ListBranches returns all branches ordered by creation time.
func ListBranches(ctx context.Context, q Queryer) ([]Branch, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT branch_id, name, parent_branch_id, created_at FROM branches ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("metadb: listing branches: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only scan

	var out []Branch
	for rows.Next() {
		var b Branch
		var parent sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&b.BranchID, &b.Name, &parent, &createdAt); err != nil {
			return nil, fmt.Errorf("metadb: scanning branch row: %w", err)
		}
		b.ParentBranchID = parent.Int64
		b.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBranch removes a branch and its file_heads. It refuses to delete the
// branch currently checked out.
func DeleteBranch(ctx context.Context, tx *sql.Tx, name string) error {
	var head string
	err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, headMetaKey).Scan(&head)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("metadb: reading head branch: %w", err)
	}
	if head == name {
		return ErrIsHead
	}

	var branchID int64
	err = tx.QueryRowContext(ctx, `SELECT branch_id FROM branches WHERE name = ?`, name).Scan(&branchID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("metadb: resolving branch for deletion: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_heads WHERE branch_id = ?`, branchID); err != nil {
		return fmt.Errorf("metadb: cleaning up branch heads: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM branches WHERE branch_id = ?`, branchID); err != nil {
		return fmt.Errorf("metadb: deleting branch: %w", err)
	}
	return nil
}

// SetHeadBranch records name as the currently checked-out branch.
func SetHeadBranch(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, headMetaKey, name)
	if err != nil {
		return fmt.Errorf("metadb: setting head branch: %w", err)
	}
	return nil
}

// GetHeadBranch returns the name of the currently checked-out branch.
func GetHeadBranch(ctx context.Context, q Queryer) (string, error) {
	var name string
	err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, headMetaKey).Scan(&name)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("metadb: reading head branch: %w", err)
	}
	return name, nil
}
