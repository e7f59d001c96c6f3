package metadb

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertVersion records a new version row and advances file_heads for its
// (file_path, branch_id) pair to point at it. Callers run this inside a
// DB.Write transaction alongside any other statements (blob writes happen
// separately in objstore, which tolerates the orphan blob a rolled-back
// version would otherwise leave behind).
func InsertVersion(ctx context.Context, tx *sql.Tx, v Version) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO versions (version_hash, file_path, blob_hash, timestamp, parent_version_hash, branch_id, annotation)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.VersionHash, v.FilePath, v.BlobHash, v.Timestamp.Unix(), nullableString(v.ParentVersionHash), v.BranchID, nullableString(v.Annotation))
	if err != nil {
		return fmt.Errorf("metadb: inserting version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO file_heads (file_path, branch_id, version_hash)
		VALUES (?, ?, ?)
		ON CONFLICT (file_path, branch_id) DO UPDATE SET version_hash = excluded.version_hash`,
		v.FilePath, v.BranchID, v.VersionHash)
	if err != nil {
		return fmt.Errorf("metadb: updating file head: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetFileHead returns the current head version for path on branchID.
func GetFileHead(ctx context.Context, q Queryer, branchID int64, path string) (FileHead, error) {
	var fh FileHead
	fh.FilePath = path
	fh.BranchID = branchID
	err := q.QueryRowContext(ctx, `
		SELECT version_hash FROM file_heads WHERE file_path = ? AND branch_id = ?`,
		path, branchID).Scan(&fh.VersionHash)
	if err == sql.ErrNoRows {
		return FileHead{}, ErrNotFound
	}
	if err != nil {
		return FileHead{}, fmt.Errorf("metadb: reading file head: %w", err)
	}
	return fh, nil
}

// GetVersion fetches a single version by its full hash.
func GetVersion(ctx context.Context, q Queryer, hash string) (Version, error) {
	return scanVersion(q.QueryRowContext(ctx, `
		SELECT version_hash, file_path, blob_hash, timestamp, parent_version_hash, branch_id, annotation
		FROM versions WHERE version_hash = ?`, hash))
}

func scanVersion(row *sql.Row) (Version, error) {
	var v Version
	var ts int64
	var parent, annotation sql.NullString
	if err := row.Scan(&v.VersionHash, &v.FilePath, &v.BlobHash, &ts, &parent, &v.BranchID, &annotation); err != nil {
		if err == sql.ErrNoRows {
			return Version{}, ErrNotFound
		}
		return Version{}, fmt.Errorf("metadb: scanning version: %w", err)
	}
	v.Timestamp = time.Unix(ts, 0).UTC()
	v.ParentVersionHash = parent.String
	v.Annotation = annotation.String
	return v, nil
}

// LogVersions returns up to limit versions of path on branchID, most recent
// first, by walking backward from the branch's FileHead via
// parent_version_hash. The walk deliberately crosses branch boundaries: a
// branch forked from another inherits its source's history above the fork
// point, because the inherited FileHead's parent chain leads straight into
// the source branch's versions. A limit of 0 means unbounded. A path with
// no FileHead on the branch yields an empty slice.
func LogVersions(ctx context.Context, q Queryer, branchID int64, path string, limit int) ([]Version, error) {
	head, err := GetFileHead(ctx, q, branchID, path)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Version
	seen := make(map[string]bool) // guards against a corrupted parent cycle
	next := head.VersionHash
	for next != "" && !seen[next] {
		if limit > 0 && len(out) >= limit {
			break
		}
		seen[next] = true
		v, err := GetVersion(ctx, q, next)
		if err == ErrNotFound {
			break // dangling parent pointer; surface what we have
		}
		if err != nil {
			return nil, fmt.Errorf("metadb: walking log chain: %w", err)
		}
		out = append(out, v)
		next = v.ParentVersionHash
	}
	return out, nil
}

// AllVersions returns every recorded version in timestamp order, used by
// reindex_all's full sweep of the search index and by GC's liveness scan.
func AllVersions(ctx context.Context, q Queryer) ([]Version, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT version_hash, file_path, blob_hash, timestamp, parent_version_hash, branch_id, annotation
		FROM versions ORDER BY timestamp ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("metadb: listing all versions: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only scan

	var out []Version
	for rows.Next() {
		var v Version
		var ts int64
		var parent, annotation sql.NullString
		if err := rows.Scan(&v.VersionHash, &v.FilePath, &v.BlobHash, &ts, &parent, &v.BranchID, &annotation); err != nil {
			return nil, fmt.Errorf("metadb: scanning version row: %w", err)
		}
		v.Timestamp = time.Unix(ts, 0).UTC()
		v.ParentVersionHash = parent.String
		v.Annotation = annotation.String
		out = append(out, v)
	}
	return out, rows.Err()
}

// ChildVersions returns every version whose parent_version_hash is
// versionHash, used by search's change-queries to walk forward from a
// version that had a term to whichever version first dropped it.
func ChildVersions(ctx context.Context, q Queryer, versionHash string) ([]Version, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT version_hash, file_path, blob_hash, timestamp, parent_version_hash, branch_id, annotation
		FROM versions WHERE parent_version_hash = ?`, versionHash)
	if err != nil {
		return nil, fmt.Errorf("metadb: querying child versions: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only scan

	var out []Version
	for rows.Next() {
		var v Version
		var ts int64
		var parent, annotation sql.NullString
		if err := rows.Scan(&v.VersionHash, &v.FilePath, &v.BlobHash, &ts, &parent, &v.BranchID, &annotation); err != nil {
			return nil, fmt.Errorf("metadb: scanning child version row: %w", err)
		}
		v.Timestamp = time.Unix(ts, 0).UTC()
		v.ParentVersionHash = parent.String
		v.Annotation = annotation.String
		out = append(out, v)
	}
	return out, rows.Err()
}

// ResolveVersionHash resolves a hash prefix of at least 4 hex characters to
// its unique full version_hash. It returns ErrAmbiguousHash if more than one
// version matches, and ErrNotFound if none do.
func ResolveVersionHash(ctx context.Context, q Queryer, prefix string) (string, error) {
	if len(prefix) < 4 {
		return "", fmt.Errorf("metadb: hash prefix %q shorter than minimum of 4 characters", prefix)
	}
	for _, r := range prefix {
		if !isHexDigit(r) {
			return "", ErrNotFound
		}
	}
	rows, err := q.QueryContext(ctx, `
		SELECT version_hash FROM versions WHERE version_hash LIKE ? || '%' LIMIT 2`, prefix)
	if err != nil {
		return "", fmt.Errorf("metadb: resolving hash prefix: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only scan

	var matches []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return "", fmt.Errorf("metadb: scanning hash match: %w", err)
		}
		matches = append(matches, h)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(matches) {
	case 0:
		return "", ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return "", ErrAmbiguousHash
	}
}

func isHexDigit(r rune) bool {
	return r >= '0' && r <= '9' || r >= 'a' && r <= 'f'
}
