package metadb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chronolog/chronolog/internal/ignore"
)

// SaveIgnoreSnapshot replaces the persisted ignore-rule snapshot with the
// filter's currently compiled rules. Only the latest rule set is kept; it is
// not linked to the versions recorded while it was active.
func SaveIgnoreSnapshot(ctx context.Context, tx *sql.Tx, rules []ignore.CompiledRule, takenAt time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM ignore_rules_snapshot`); err != nil {
		return fmt.Errorf("metadb: clearing ignore snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ignore_rules_snapshot (position, pattern, negated, dir_only, anchored, taken_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("metadb: preparing ignore snapshot insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // best-effort cleanup of prepared statement

	for i, r := range rules {
		if _, err := stmt.ExecContext(ctx, i, r.Pattern, r.Negated, r.DirOnly, r.Anchored, takenAt.Unix()); err != nil {
			return fmt.Errorf("metadb: inserting ignore snapshot row: %w", err)
		}
	}
	return nil
}

// LoadIgnoreSnapshot returns the most recently saved ignore-rule snapshot,
// ordered the way the rules were originally compiled.
func LoadIgnoreSnapshot(ctx context.Context, q Queryer) ([]IgnoreRuleSnapshot, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT position, pattern, negated, dir_only, anchored, taken_at
		FROM ignore_rules_snapshot ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("metadb: loading ignore snapshot: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only scan

	var out []IgnoreRuleSnapshot
	for rows.Next() {
		var s IgnoreRuleSnapshot
		var takenAt int64
		if err := rows.Scan(&s.Position, &s.Pattern, &s.Negated, &s.DirOnly, &s.Anchored, &takenAt); err != nil {
			return nil, fmt.Errorf("metadb: scanning ignore snapshot row: %w", err)
		}
		s.TakenAt = time.Unix(takenAt, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
