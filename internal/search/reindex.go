package search

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/chronolog/chronolog/internal/diffengine"
	"github.com/chronolog/chronolog/internal/metadb"
	"github.com/chronolog/chronolog/internal/objstore"
)

// ReindexAll clears the search index and rebuilds it from every stored
// version's blob content, reporting progress through a pterm progress bar
// when stderr is interactive (pterm itself falls silent otherwise) and
// returning the final number of distinct search-term rows written.
func ReindexAll(ctx context.Context, db *metadb.DB, store *objstore.Store) (int, error) {
	var versions []metadb.Version
	err := db.Read(ctx, func(q metadb.Queryer) error {
		var err error
		versions, err = metadb.AllVersions(ctx, q)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("search: listing versions to reindex: %w", err)
	}

	bar, _ := pterm.DefaultProgressbar.
		WithTotal(len(versions)).
		WithTitle("reindexing search terms").
		Start()

	termCount := 0
	err = db.Write(ctx, func(tx *sql.Tx) error {
		if err := metadb.ClearAllSearchTerms(ctx, tx); err != nil {
			return err
		}
		for _, v := range versions {
			if v.BlobHash != "" {
				content, getErr := store.Get(objstore.Hash(v.BlobHash))
				if getErr == nil && !diffengine.IsBinary(content) {
					terms := Tokenize(v.VersionHash, v.FilePath, content)
					if insertErr := metadb.InsertSearchTerms(ctx, tx, terms); insertErr != nil {
						return insertErr
					}
					termCount += len(terms)
				}
			}
			bar.Increment()
		}
		return nil
	})
	if _, stopErr := bar.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	if err != nil {
		return 0, err
	}
	return termCount, nil
}
