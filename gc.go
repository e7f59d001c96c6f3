package chronolog

import (
	"context"

	"github.com/chronolog/chronolog/internal/metadb"
	"github.com/chronolog/chronolog/internal/objstore"
)

// GC deletes every blob in the object store that no live version
// references, implementing spec.md's Blob lifecycle invariant
// ("garbage-collectable when no live version references it... delete only
// by GC and only after the caller has proven no live reference exists"). It
// returns the number of blobs removed.
func (h *Handle) GC(ctx context.Context) (int, error) {
	var versions []metadb.Version
	err := h.db.Read(ctx, func(q metadb.Queryer) error {
		var err error
		versions, err = metadb.AllVersions(ctx, q)
		return err
	})
	if err != nil {
		return 0, dbErr("listing versions for GC", err)
	}

	live := make(map[objstore.Hash]bool, len(versions))
	for _, v := range versions {
		if v.BlobHash != "" {
			live[objstore.Hash(v.BlobHash)] = true
		}
	}

	all, err := h.store.All()
	if err != nil {
		return 0, ioErr("listing stored objects for GC", err)
	}

	removed := 0
	for _, hash := range all {
		if live[hash] {
			continue
		}
		if err := h.store.Delete(hash); err != nil {
			return removed, ioErr("deleting unreferenced object", err)
		}
		removed++
	}
	return removed, nil
}
