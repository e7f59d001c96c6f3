// Package merge performs a diff3-style three-way line merge between a base
// version and two divergent sides, classifying each region of the file as
// unchanged, changed by one side, or in conflict, and renders the result
// either as merged content or as text with inline conflict markers.
package merge

import (
	"sort"
	"strings"

	"github.com/chronolog/chronolog/internal/diffengine"
)

// RegionType classifies one contiguous span of a three-way merge result.
type RegionType int

const (
	RegionContext RegionType = iota
	RegionOurs
	RegionTheirs
	RegionConflict
)

// Region is one classified span of the merge, in base-line order.
type Region struct {
	Type        RegionType
	BaseStart   int // 1-based
	BaseLines   []string
	OursLines   []string
	TheirsLines []string
}

// Policy selects how a Conflict region is resolved when rendering.
type Policy int

const (
	// PolicyManual leaves conflicts marked for the caller to resolve by hand.
	PolicyManual Policy = iota
	// PolicyAuto accepts non-overlapping changes from both sides and only
	// marks true conflicts (both sides touched the same base lines
	// differently).
	PolicyAuto
	// PolicyOurs resolves every conflict region in favor of ours.
	PolicyOurs
	// PolicyTheirs resolves every conflict region in favor of theirs.
	PolicyTheirs
)

// Result is the outcome of a three-way merge.
type Result struct {
	Regions     []Region
	HasConflict bool
}

// editBlock is a contiguous span of base lines replaced by one side's edits,
// the unit mergeWalk interleaves between ours and theirs.
type editBlock struct {
	baseStart int
	baseEnd   int
	newLines  []string
}

// Compute performs a three-way merge of baseContent against oursContent and
// theirsContent. Binary input is rejected by the caller before this is
// reached; Compute assumes text content already decoded.
func Compute(baseContent, oursContent, theirsContent []byte) Result {
	baseLines := diffengine.SplitLines(baseContent)
	oursLines := diffengine.SplitLines(oursContent)
	theirsLines := diffengine.SplitLines(theirsContent)

	editsOurs := diffengine.ComputeEdits(baseLines, oursLines)
	editsTheirs := diffengine.ComputeEdits(baseLines, theirsLines)

	blocksOurs := editsToBlocks(editsOurs, oursLines)
	blocksTheirs := editsToBlocks(editsTheirs, theirsLines)

	regions := mergeWalk(baseLines, blocksOurs, blocksTheirs)

	hasConflict := false
	for _, r := range regions {
		if r.Type == RegionConflict {
			hasConflict = true
			break
		}
	}
	return Result{Regions: regions, HasConflict: hasConflict}
}

func editsToBlocks(edits []diffengine.Edit, newLines []string) []editBlock {
	var blocks []editBlock
	i := 0
	for i < len(edits) {
		if edits[i].Type == diffengine.EditKeep {
			i++
			continue
		}

		block := editBlock{baseStart: -1, baseEnd: -1}
		for i < len(edits) && edits[i].Type != diffengine.EditKeep {
			switch edits[i].Type {
			case diffengine.EditDelete:
				if block.baseStart == -1 {
					block.baseStart = edits[i].OldLine
				}
				block.baseEnd = edits[i].OldLine + 1
			case diffengine.EditInsert:
				if edits[i].NewLine < len(newLines) {
					block.newLines = append(block.newLines, newLines[edits[i].NewLine])
				}
			}
			i++
		}

		if block.baseStart == -1 {
			if i < len(edits) {
				block.baseStart = edits[i].OldLine
			} else {
				// Insertions after the last base line anchor at the end of base.
				block.baseStart = 0
				for _, e := range edits {
					if e.Type != diffengine.EditInsert {
						block.baseStart++
					}
				}
			}
			block.baseEnd = block.baseStart
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// mergeWalk interleaves ours/theirs edit blocks over the base lines,
// diff3-style: non-overlapping blocks apply cleanly, overlapping blocks with
// identical replacement content merge cleanly, and overlapping blocks that
// differ become a conflict region.
func mergeWalk(baseLines []string, blocksOurs, blocksTheirs []editBlock) []Region {
	var regions []Region

	sort.Slice(blocksOurs, func(i, j int) bool { return blocksOurs[i].baseStart < blocksOurs[j].baseStart })
	sort.Slice(blocksTheirs, func(i, j int) bool { return blocksTheirs[i].baseStart < blocksTheirs[j].baseStart })

	idxOurs, idxTheirs, basePos := 0, 0, 0

	appendContext := func(from, to int) {
		if from >= to {
			return
		}
		regions = append(regions, Region{Type: RegionContext, BaseStart: from + 1, BaseLines: copyRange(baseLines, from, to)})
	}

	for idxOurs < len(blocksOurs) || idxTheirs < len(blocksTheirs) {
		var nextOurs, nextTheirs *editBlock
		if idxOurs < len(blocksOurs) {
			nextOurs = &blocksOurs[idxOurs]
		}
		if idxTheirs < len(blocksTheirs) {
			nextTheirs = &blocksTheirs[idxTheirs]
		}

		switch {
		case nextOurs != nil && nextTheirs != nil && blocksOverlap(*nextOurs, *nextTheirs):
			overlapStart := min(nextOurs.baseStart, nextTheirs.baseStart)
			appendContext(basePos, overlapStart)
			basePos = overlapStart

			overlapEnd := max(nextOurs.baseEnd, nextTheirs.baseEnd)

			combinedOurs := append([]string{}, blocksOurs[idxOurs].newLines...)
			oursStart, oursEnd := blocksOurs[idxOurs].baseStart, blocksOurs[idxOurs].baseEnd
			idxOurs++
			for idxOurs < len(blocksOurs) && blockTouches(blocksOurs[idxOurs], overlapEnd) {
				combinedOurs = append(combinedOurs, blocksOurs[idxOurs].newLines...)
				overlapEnd = max(overlapEnd, blocksOurs[idxOurs].baseEnd)
				oursEnd = blocksOurs[idxOurs].baseEnd
				idxOurs++
			}

			combinedTheirs := append([]string{}, blocksTheirs[idxTheirs].newLines...)
			theirsStart, theirsEnd := blocksTheirs[idxTheirs].baseStart, blocksTheirs[idxTheirs].baseEnd
			idxTheirs++
			for idxTheirs < len(blocksTheirs) && blockTouches(blocksTheirs[idxTheirs], overlapEnd) {
				combinedTheirs = append(combinedTheirs, blocksTheirs[idxTheirs].newLines...)
				overlapEnd = max(overlapEnd, blocksTheirs[idxTheirs].baseEnd)
				theirsEnd = blocksTheirs[idxTheirs].baseEnd
				idxTheirs++
			}

			if stringSlicesEqual(combinedOurs, combinedTheirs) && oursStart == theirsStart && oursEnd == theirsEnd {
				regions = append(regions, Region{Type: RegionOurs, BaseStart: basePos + 1, BaseLines: copyRange(baseLines, basePos, overlapEnd), OursLines: combinedOurs})
			} else {
				regions = append(regions, Region{Type: RegionConflict, BaseStart: basePos + 1, BaseLines: copyRange(baseLines, basePos, overlapEnd), OursLines: combinedOurs, TheirsLines: combinedTheirs})
			}
			basePos = overlapEnd

		case nextOurs != nil && (nextTheirs == nil || nextOurs.baseStart <= nextTheirs.baseStart):
			appendContext(basePos, nextOurs.baseStart)
			basePos = nextOurs.baseStart
			regions = append(regions, Region{Type: RegionOurs, BaseStart: basePos + 1, BaseLines: copyRange(baseLines, basePos, nextOurs.baseEnd), OursLines: nextOurs.newLines})
			basePos = nextOurs.baseEnd
			idxOurs++

		default:
			appendContext(basePos, nextTheirs.baseStart)
			basePos = nextTheirs.baseStart
			regions = append(regions, Region{Type: RegionTheirs, BaseStart: basePos + 1, BaseLines: copyRange(baseLines, basePos, nextTheirs.baseEnd), TheirsLines: nextTheirs.newLines})
			basePos = nextTheirs.baseEnd
			idxTheirs++
		}
	}

	appendContext(basePos, len(baseLines))
	return regions
}

func blocksOverlap(a, b editBlock) bool {
	return a.baseStart < b.baseEnd && b.baseStart < a.baseEnd ||
		(a.baseStart == a.baseEnd && a.baseStart >= b.baseStart && a.baseStart <= b.baseEnd) ||
		(b.baseStart == b.baseEnd && b.baseStart >= a.baseStart && b.baseStart <= a.baseEnd)
}

func blockTouches(b editBlock, overlapEnd int) bool {
	return b.baseStart < overlapEnd || (b.baseStart == b.baseEnd && b.baseStart <= overlapEnd)
}

func copyRange(lines []string, from, to int) []string {
	if from >= to || from >= len(lines) {
		return nil
	}
	if to > len(lines) {
		to = len(lines)
	}
	out := make([]string, to-from)
	copy(out, lines[from:to])
	return out
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Render resolves every region per policy and returns the merged content. A
// conflict resolved under PolicyManual is rendered with <<<<<<</=======/>>>>>>>
// markers; it reports ok=false if any conflict remained (PolicyManual, or
// PolicyAuto with at least one true conflict).
func Render(res Result, policy Policy, oursLabel, theirsLabel string) (content string, ok bool) {
	var b strings.Builder
	clean := true

	for _, r := range res.Regions {
		switch r.Type {
		case RegionContext:
			writeLines(&b, r.BaseLines)
		case RegionOurs:
			writeLines(&b, r.OursLines)
		case RegionTheirs:
			writeLines(&b, r.TheirsLines)
		case RegionConflict:
			switch policy {
			case PolicyOurs:
				writeLines(&b, r.OursLines)
			case PolicyTheirs:
				writeLines(&b, r.TheirsLines)
			default:
				clean = false
				b.WriteString("<<<<<<< " + oursLabel + "\n")
				writeLines(&b, r.OursLines)
				b.WriteString("=======\n")
				writeLines(&b, r.TheirsLines)
				b.WriteString(">>>>>>> " + theirsLabel + "\n")
			}
		}
	}
	return b.String(), clean
}

func writeLines(b *strings.Builder, lines []string) {
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
}
