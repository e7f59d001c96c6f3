package chronolog

import (
	"context"

	"github.com/chronolog/chronolog/internal/diffengine"
	"github.com/chronolog/chronolog/internal/merge"
)

// MergePolicy selects how a conflicting region is resolved when rendering a
// three-way merge.
type MergePolicy int

const (
	// MergeManual leaves conflicts marked with <<<<<<</=======/>>>>>>> for
	// the caller to resolve by hand. Not an error.
	MergeManual MergePolicy = iota
	// MergeAuto accepts non-overlapping changes from both sides and
	// returns ErrMergeConflict if any true conflict (both sides touched
	// the same base lines differently) remains.
	MergeAuto
	// MergeOurs resolves every conflict region in favor of ours.
	MergeOurs
	// MergeTheirs resolves every conflict region in favor of theirs.
	MergeTheirs
)

// MergeResult is the outcome of a three-way merge: the rendered content and
// whether any conflict remains unresolved in it.
type MergeResult struct {
	Content     string
	HasConflict bool
}

// Merge performs a three-way merge of baseRef against oursRef and
// theirsRef (any of: full hash, tag name, unambiguous prefix), resolving
// conflicts per policy. Under MergeAuto, a true conflict returns
// ErrMergeConflict rather than marked-up content; under every other
// policy, a conflict is resolved or marked but never an error.
func (h *Handle) Merge(ctx context.Context, baseRef, oursRef, theirsRef string, policy MergePolicy) (MergeResult, error) {
	baseContent, err := h.Show(ctx, baseRef)
	if err != nil {
		return MergeResult{}, err
	}
	oursContent, err := h.Show(ctx, oursRef)
	if err != nil {
		return MergeResult{}, err
	}
	theirsContent, err := h.Show(ctx, theirsRef)
	if err != nil {
		return MergeResult{}, err
	}

	if diffengine.IsBinary(baseContent) || diffengine.IsBinary(oursContent) || diffengine.IsBinary(theirsContent) {
		return MergeResult{}, userInputErr("cannot three-way merge binary content", nil)
	}

	res := merge.Compute(baseContent, oursContent, theirsContent)

	internalPolicy := merge.PolicyManual
	switch policy {
	case MergeAuto:
		internalPolicy = merge.PolicyAuto
	case MergeOurs:
		internalPolicy = merge.PolicyOurs
	case MergeTheirs:
		internalPolicy = merge.PolicyTheirs
	}

	content, ok := merge.Render(res, internalPolicy, "ours", "theirs")
	if policy == MergeAuto && !ok {
		return MergeResult{}, ErrMergeConflict
	}
	return MergeResult{Content: content, HasConflict: !ok}, nil
}
