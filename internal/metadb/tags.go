package metadb

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateTag inserts an immutable name-to-version pointer.
func CreateTag(ctx context.Context, tx *sql.Tx, t Tag) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tags (tag_name, version_hash, created_at, description) VALUES (?, ?, ?, ?)`,
		t.TagName, t.VersionHash, t.CreatedAt.Unix(), nullableString(t.Description))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("metadb: creating tag: %w", err)
	}
	return nil
}

// DeleteTag removes a tag by name.
func DeleteTag(ctx context.Context, tx *sql.Tx, name string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE tag_name = ?`, name)
	if err != nil {
		return fmt.Errorf("metadb: deleting tag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("metadb: confirming tag deletion: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTag resolves a tag name to its row.
func GetTag(ctx context.Context, q Queryer, name string) (Tag, error) {
	var t Tag
	var createdAt int64
	var description sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT tag_name, version_hash, created_at, description FROM tags WHERE tag_name = ?`, name).
		Scan(&t.TagName, &t.VersionHash, &createdAt, &description)
	if err == sql.ErrNoRows {
		return Tag{}, ErrNotFound
	}
	if err != nil {
		return Tag{}, fmt.Errorf("metadb: reading tag: %w", err)
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.Description = description.String
	return t, nil
}

// ListTags returns all tags ordered by name.
func ListTags(ctx context.Context, q Queryer) ([]Tag, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT tag_name, version_hash, created_at, description FROM tags ORDER BY tag_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("metadb: listing tags: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only scan

	var out []Tag
	for rows.Next() {
		var t Tag
		var createdAt int64
		var description sql.NullString
		if err := rows.Scan(&t.TagName, &t.VersionHash, &createdAt, &description); err != nil {
			return nil, fmt.Errorf("metadb: scanning tag row: %w", err)
		}
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		t.Description = description.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// ResolveTagOrHash resolves ref to a full version hash: first as a tag name,
// then as a (possibly abbreviated) version hash.
func ResolveTagOrHash(ctx context.Context, q Queryer, ref string) (string, error) {
	if t, err := GetTag(ctx, q, ref); err == nil {
		return t.VersionHash, nil
	} else if err != ErrNotFound {
		return "", err
	}
	return ResolveVersionHash(ctx, q, ref)
}
