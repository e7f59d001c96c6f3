package search

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/chronolog/chronolog/internal/metadb"
)

// ChangeKind selects whether Query reports every match or only versions that
// introduced or removed the term relative to their parent version.
type ChangeKind int

const (
	ChangeAny ChangeKind = iota
	ChangeAdded
	ChangeRemoved
)

// Options configures a query.
type Options struct {
	Regex      bool          // interpret Term as a regular expression
	WholeWord  bool          // match whole tokens only; otherwise Term matches as a substring of a token
	Glob       bool          // interpret Term as a glob pattern ('*' and '?')
	CaseSens   bool          // preserve case instead of folding Term and tokens to lowercase
	Recency    bool          // sort hits newest-first instead of by file path
	Within     time.Duration // if non-zero, restrict hits to versions recorded within this long before the newest matching version
	FileGlob   string        // if non-empty, restrict hits to file paths matching this glob
	MaxResults int           // if non-zero, cap the number of returned hits
	Change     ChangeKind    // restrict to added/removed occurrences
}

// Hit is one matched occurrence of a query term.
type Hit struct {
	VersionHash string
	FilePath    string
	Token       string
	Positions   []int
}

// Query runs term against the search index under opts.
func Query(ctx context.Context, db *metadb.DB, term string, opts Options) ([]Hit, error) {
	var rows []metadb.SearchTerm
	var err error

	switch {
	case opts.Regex:
		pattern := term
		if !opts.CaseSens {
			pattern = "(?i)" + pattern
		}
		re, reErr := regexp.Compile(pattern)
		if reErr != nil {
			return nil, fmt.Errorf("search: invalid regex %q: %w", term, reErr)
		}
		err = db.Read(ctx, func(q metadb.Queryer) error {
			all, qErr := metadb.AllTokens(ctx, q)
			if qErr != nil {
				return qErr
			}
			for _, r := range all {
				if re.MatchString(r.Token) {
					rows = append(rows, r)
				}
			}
			return nil
		})

	case opts.Glob:
		if _, matchErr := path.Match(term, ""); matchErr != nil {
			return nil, fmt.Errorf("search: invalid glob %q: %w", term, matchErr)
		}
		// SQLite LIKE is already case-insensitive for ASCII, so the SQL
		// pattern only narrows candidates; the authoritative (and
		// case-honoring) match runs in Go below.
		err = db.Read(ctx, func(q metadb.Queryer) error {
			rows, err = metadb.QueryTokenLike(ctx, q, globToLike(term))
			return err
		})
		if err == nil {
			rows = filterRows(rows, func(tok string) bool {
				if opts.CaseSens {
					ok, _ := path.Match(term, tok)
					return ok
				}
				ok, _ := path.Match(strings.ToLower(term), strings.ToLower(tok))
				return ok
			})
		}

	case opts.WholeWord:
		err = db.Read(ctx, func(q metadb.Queryer) error {
			if opts.CaseSens {
				rows, err = metadb.QueryTokenExact(ctx, q, term)
			} else {
				rows, err = metadb.QueryTokenExactFold(ctx, q, term)
			}
			return err
		})

	default:
		// Plain substring query: the token may contain term anywhere, not
		// just match it exactly. The LIKE scan narrows candidates
		// case-insensitively; the Go filter applies the requested case
		// sensitivity.
		like := "%" + escapeLike(term) + "%"
		err = db.Read(ctx, func(q metadb.Queryer) error {
			rows, err = metadb.QueryTokenLike(ctx, q, like)
			return err
		})
		if err == nil {
			rows = filterRows(rows, func(tok string) bool {
				if opts.CaseSens {
					return strings.Contains(tok, term)
				}
				return strings.Contains(strings.ToLower(tok), strings.ToLower(term))
			})
		}
	}
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, Hit{VersionHash: r.VersionHash, FilePath: r.FilePath, Token: r.Token, Positions: r.Positions})
	}

	if opts.FileGlob != "" {
		hits = filterByFileGlob(hits, opts.FileGlob)
	}

	switch opts.Change {
	case ChangeAdded:
		hits, err = filterAdded(ctx, db, hits, term)
		if err != nil {
			return nil, err
		}
	case ChangeRemoved:
		hits, err = findRemoved(ctx, db, hits, term)
		if err != nil {
			return nil, err
		}
	}

	if opts.Within > 0 {
		hits, err = filterWithin(ctx, db, hits, opts.Within)
		if err != nil {
			return nil, err
		}
	}

	if opts.Recency {
		hits, err = sortByRecency(ctx, db, hits)
		if err != nil {
			return nil, err
		}
		return capResults(hits, opts.MaxResults), nil
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].FilePath < hits[j].FilePath })
	return capResults(hits, opts.MaxResults), nil
}

// filterRows keeps only candidate rows whose token passes keep.
func filterRows(rows []metadb.SearchTerm, keep func(string) bool) []metadb.SearchTerm {
	out := rows[:0:0]
	for _, r := range rows {
		if keep(r.Token) {
			out = append(out, r)
		}
	}
	return out
}

// capResults truncates hits to max entries. max <= 0 means unbounded.
func capResults(hits []Hit, max int) []Hit {
	if max > 0 && len(hits) > max {
		return hits[:max]
	}
	return hits
}

// filterByFileGlob keeps only hits whose FilePath matches glob (standard
// '*'/'?'/'[...]' shell-glob semantics against the whole relative path).
func filterByFileGlob(hits []Hit, glob string) []Hit {
	out := hits[:0:0]
	for _, h := range hits {
		if ok, _ := filepath.Match(glob, h.FilePath); ok {
			out = append(out, h)
		}
	}
	return out
}

// filterWithin keeps only hits whose version was recorded within the last
// window before the newest version among hits (the "recency window"
// spec.md's search options describe), rather than wall-clock now, so a
// query replayed against frozen test fixtures behaves the same as one run
// live.
func filterWithin(ctx context.Context, db *metadb.DB, hits []Hit, window time.Duration) ([]Hit, error) {
	if len(hits) == 0 {
		return hits, nil
	}
	stamps := make(map[string]time.Time, len(hits))
	var newest time.Time
	for _, h := range hits {
		if _, ok := stamps[h.VersionHash]; ok {
			continue
		}
		var v metadb.Version
		err := db.Read(ctx, func(q metadb.Queryer) error {
			var err error
			v, err = metadb.GetVersion(ctx, q, h.VersionHash)
			return err
		})
		if err != nil {
			return nil, err
		}
		stamps[h.VersionHash] = v.Timestamp
		if v.Timestamp.After(newest) {
			newest = v.Timestamp
		}
	}

	cutoff := newest.Add(-window)
	out := hits[:0:0]
	for _, h := range hits {
		if !stamps[h.VersionHash].Before(cutoff) {
			out = append(out, h)
		}
	}
	return out, nil
}

// escapeLike escapes SQL LIKE metacharacters in a literal substring so it can
// be safely wrapped in '%' wildcards.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// filterAdded keeps only hits whose version introduced term: the version
// itself contains it (it's already in hits) but its parent did not.
func filterAdded(ctx context.Context, db *metadb.DB, hits []Hit, term string) ([]Hit, error) {
	var out []Hit
	for _, h := range hits {
		var v metadb.Version
		err := db.Read(ctx, func(q metadb.Queryer) error {
			var err error
			v, err = metadb.GetVersion(ctx, q, h.VersionHash)
			return err
		})
		if err != nil {
			return nil, err
		}
		if v.ParentVersionHash == "" {
			out = append(out, h)
			continue
		}
		hadTerm, err := versionHasToken(ctx, db, v.ParentVersionHash, term)
		if err != nil {
			return nil, err
		}
		if !hadTerm {
			out = append(out, h)
		}
	}
	return out, nil
}

// findRemoved reports the children of every version matched in hits (hits
// holds versions that HAD term) whose own tokens no longer contain it —
// the version a caller searching "--removed" actually wants reported.
func findRemoved(ctx context.Context, db *metadb.DB, hadTermHits []Hit, term string) ([]Hit, error) {
	var out []Hit
	seen := make(map[string]bool)
	for _, h := range hadTermHits {
		var children []metadb.Version
		err := db.Read(ctx, func(q metadb.Queryer) error {
			var err error
			children, err = metadb.ChildVersions(ctx, q, h.VersionHash)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if seen[c.VersionHash] {
				continue
			}
			stillHas, err := versionHasToken(ctx, db, c.VersionHash, term)
			if err != nil {
				return nil, err
			}
			if !stillHas {
				seen[c.VersionHash] = true
				out = append(out, Hit{VersionHash: c.VersionHash, FilePath: c.FilePath, Token: term})
			}
		}
	}
	return out, nil
}

func versionHasToken(ctx context.Context, db *metadb.DB, versionHash, term string) (bool, error) {
	var found bool
	err := db.Read(ctx, func(q metadb.Queryer) error {
		terms, err := metadb.AllTokensForVersion(ctx, q, versionHash)
		if err != nil {
			return err
		}
		for _, t := range terms {
			if strings.EqualFold(t.Token, term) {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func sortByRecency(ctx context.Context, db *metadb.DB, hits []Hit) ([]Hit, error) {
	type stamped struct {
		hit Hit
		ts  int64
	}
	stampedHits := make([]stamped, 0, len(hits))
	for _, h := range hits {
		var v metadb.Version
		err := db.Read(ctx, func(q metadb.Queryer) error {
			var err error
			v, err = metadb.GetVersion(ctx, q, h.VersionHash)
			return err
		})
		if err != nil {
			return nil, err
		}
		stampedHits = append(stampedHits, stamped{hit: h, ts: v.Timestamp.Unix()})
	}
	sort.Slice(stampedHits, func(i, j int) bool { return stampedHits[i].ts > stampedHits[j].ts })

	out := make([]Hit, len(stampedHits))
	for i, s := range stampedHits {
		out[i] = s.hit
	}
	return out, nil
}

// globToLike translates a '*'/'?' glob into a SQL LIKE pattern, escaping
// any literal '%' or '_' the glob didn't intend as wildcards.
func globToLike(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
