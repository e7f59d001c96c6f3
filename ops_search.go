package chronolog

import (
	"context"
	"time"

	"github.com/chronolog/chronolog/internal/search"
)

// SearchOptions mirrors internal/search.Options at the facade boundary, so
// callers never need to import an internal package to build a query.
type SearchOptions struct {
	Regex      bool
	WholeWord  bool
	Glob       bool
	CaseSens   bool
	Recency    bool
	Within     time.Duration
	FileGlob   string
	MaxResults int
	// Change selects "added", "removed", or "" (any) for change-queries.
	Change string
}

// SearchHit is one matched occurrence of a query term.
type SearchHit struct {
	VersionHash string
	FilePath    string
	Token       string
	Positions   []int
}

// Search runs term against the full-text index under opts.
func (h *Handle) Search(ctx context.Context, term string, opts SearchOptions) ([]SearchHit, error) {
	kind := search.ChangeAny
	switch opts.Change {
	case "added":
		kind = search.ChangeAdded
	case "removed":
		kind = search.ChangeRemoved
	case "", "any":
	default:
		return nil, userInputErr("unknown change-query kind "+opts.Change, nil)
	}

	hits, err := search.Query(ctx, h.db, term, search.Options{
		Regex:      opts.Regex,
		WholeWord:  opts.WholeWord,
		Glob:       opts.Glob,
		CaseSens:   opts.CaseSens,
		Recency:    opts.Recency,
		Within:     opts.Within,
		FileGlob:   opts.FileGlob,
		MaxResults: opts.MaxResults,
		Change:     kind,
	})
	if err != nil {
		return nil, userInputErr("running search query", err)
	}

	out := make([]SearchHit, len(hits))
	for i, hit := range hits {
		out[i] = SearchHit{VersionHash: hit.VersionHash, FilePath: hit.FilePath, Token: hit.Token, Positions: hit.Positions}
	}
	return out, nil
}

// Reindex clears and rebuilds the full-text search index from every stored
// version's blob content, reporting progress on stderr when interactive,
// and returns the final number of indexed term rows.
func (h *Handle) Reindex(ctx context.Context) (int, error) {
	n, err := search.ReindexAll(ctx, h.db, h.store)
	if err != nil {
		return 0, dbErr("reindexing search terms", err)
	}
	return n, nil
}
