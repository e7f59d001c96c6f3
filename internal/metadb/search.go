package metadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SearchTerm is one token occurrence recorded for a version: the token text
// plus the 0-based word positions at which it appears in the file, so a hit
// can be reported with context.
type SearchTerm struct {
	VersionHash string
	FilePath    string
	Token       string
	Positions   []int
}

// InsertSearchTerms records the tokenized contents of one version. Callers
// clear any prior terms for that version_hash first (RemoveSearchTermsForVersion
// for one version; ReindexAll clears the whole index with
// ClearAllSearchTerms); a freshly ingested version has none yet.
func InsertSearchTerms(ctx context.Context, tx *sql.Tx, terms []SearchTerm) error {
	if len(terms) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO search_terms (version_hash, file_path, token, positions) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("metadb: preparing search term insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // best-effort cleanup of prepared statement

	for _, t := range terms {
		positions, err := json.Marshal(t.Positions)
		if err != nil {
			return fmt.Errorf("metadb: encoding positions for token %q: %w", t.Token, err)
		}
		if _, err := stmt.ExecContext(ctx, t.VersionHash, t.FilePath, t.Token, string(positions)); err != nil {
			return fmt.Errorf("metadb: inserting search term: %w", err)
		}
	}
	return nil
}

// RemoveSearchTermsForVersion deletes all indexed tokens for version_hash,
// so a single version can be re-indexed; the full reindex sweep uses
// ClearAllSearchTerms instead.
func RemoveSearchTermsForVersion(ctx context.Context, tx *sql.Tx, versionHash string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM search_terms WHERE version_hash = ?`, versionHash)
	if err != nil {
		return fmt.Errorf("metadb: clearing search terms: %w", err)
	}
	return nil
}

// ClearAllSearchTerms truncates the search index ahead of a full reindex_all
// pass.
func ClearAllSearchTerms(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM search_terms`); err != nil {
		return fmt.Errorf("metadb: clearing search index: %w", err)
	}
	return nil
}

// QueryTokenExact returns every (version_hash, file_path, positions) row
// whose token exactly matches token, byte for byte.
func QueryTokenExact(ctx context.Context, q Queryer, token string) ([]SearchTerm, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT version_hash, file_path, token, positions FROM search_terms WHERE token = ?`, token)
	if err != nil {
		return nil, fmt.Errorf("metadb: querying search terms: %w", err)
	}
	return scanSearchTerms(rows)
}

// QueryTokenExactFold matches token case-insensitively (SQLite's ASCII-only
// lower folding), for whole-word queries running without case sensitivity.
func QueryTokenExactFold(ctx context.Context, q Queryer, token string) ([]SearchTerm, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT version_hash, file_path, token, positions FROM search_terms WHERE lower(token) = lower(?)`, token)
	if err != nil {
		return nil, fmt.Errorf("metadb: querying search terms: %w", err)
	}
	return scanSearchTerms(rows)
}

// QueryTokenLike returns every search term row whose token matches a SQL
// LIKE pattern, used for glob-style queries translated to '%'/'_' wildcards
// (with literal '%'/'_' characters escaped by the caller using '\').
func QueryTokenLike(ctx context.Context, q Queryer, likePattern string) ([]SearchTerm, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT version_hash, file_path, token, positions FROM search_terms WHERE token LIKE ? ESCAPE '\'`, likePattern)
	if err != nil {
		return nil, fmt.Errorf("metadb: querying search terms: %w", err)
	}
	return scanSearchTerms(rows)
}

// AllTokensForVersion returns every token indexed for a given version, used
// by change-queries to test whether a parent or child version still holds a
// term.
func AllTokensForVersion(ctx context.Context, q Queryer, versionHash string) ([]SearchTerm, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT version_hash, file_path, token, positions FROM search_terms WHERE version_hash = ?`, versionHash)
	if err != nil {
		return nil, fmt.Errorf("metadb: querying search terms: %w", err)
	}
	return scanSearchTerms(rows)
}

// AllTokens returns the full search index, used by regex queries that must
// scan every indexed version rather than a single one.
func AllTokens(ctx context.Context, q Queryer) ([]SearchTerm, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT version_hash, file_path, token, positions FROM search_terms`)
	if err != nil {
		return nil, fmt.Errorf("metadb: querying search index: %w", err)
	}
	return scanSearchTerms(rows)
}

func scanSearchTerms(rows *sql.Rows) ([]SearchTerm, error) {
	defer rows.Close() //nolint:errcheck // read-only scan

	var out []SearchTerm
	for rows.Next() {
		var t SearchTerm
		var positions string
		if err := rows.Scan(&t.VersionHash, &t.FilePath, &t.Token, &positions); err != nil {
			return nil, fmt.Errorf("metadb: scanning search term row: %w", err)
		}
		if err := json.Unmarshal([]byte(positions), &t.Positions); err != nil {
			return nil, fmt.Errorf("metadb: decoding positions: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
