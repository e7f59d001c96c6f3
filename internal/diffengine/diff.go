package diffengine

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// MaxDiffSize is the largest single blob Compute will diff before
	// reporting Truncated instead of computing hunks.
	MaxDiffSize = 2 * 1024 * 1024

	// DefaultContextLines is the context depth used when a caller doesn't
	// specify one.
	DefaultContextLines = 3
)

// IsBinary reports whether content looks binary, using the same heuristic
// git uses: a null byte anywhere in the first 8KiB.
func IsBinary(content []byte) bool {
	limit := len(content)
	if limit > 8192 {
		limit = 8192
	}
	return bytes.IndexByte(content[:limit], 0) != -1
}

// DecodeLossy returns content as valid UTF-8 text, substituting the Unicode
// replacement character for any invalid byte sequence. Non-UTF-8 text that
// slipped past the binary check (no null byte, e.g. latin-1) still diffs
// and merges line by line instead of failing to decode.
func DecodeLossy(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	return strings.ToValidUTF8(string(content), string(utf8.RuneError))
}

// SplitLines decodes content lossily and splits it into lines without the
// trailing terminator, so a file ending in "\n" doesn't produce a spurious
// empty final line.
func SplitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	lines := strings.Split(DecodeLossy(content), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Compute returns the unified line diff between oldContent and newContent.
// Binary content (detected via IsBinary) and oversized content (over
// MaxDiffSize) short-circuit to Diff.IsBinary / Diff.Truncated without
// computing hunks.
func Compute(oldContent, newContent []byte, contextLines int) Diff {
	if len(oldContent) > MaxDiffSize || len(newContent) > MaxDiffSize {
		return Diff{Truncated: true}
	}
	if IsBinary(oldContent) || IsBinary(newContent) {
		return Diff{IsBinary: true}
	}

	oldLines := SplitLines(oldContent)
	newLines := SplitLines(newContent)

	edits := ComputeEdits(oldLines, newLines)
	if len(edits) == 0 {
		return Diff{}
	}
	return Diff{Hunks: buildHunks(oldLines, newLines, edits, contextLines)}
}

func buildHunks(oldLines, newLines []string, edits []Edit, context int) []Hunk {
	var hunks []Hunk
	var current *Hunk
	lastChangeIdx := -1

	flush := func() {
		finalize(current)
		hunks = append(hunks, *current)
		current = nil
		lastChangeIdx = -1
	}

	for i, e := range edits {
		isChange := e.Type != EditKeep

		if isChange && current == nil {
			current = &Hunk{}
			start := i - context
			if start < 0 {
				start = 0
			}
			for j := start; j < i; j++ {
				if edits[j].Type == EditKeep {
					current.Lines = append(current.Lines, Line{
						Type: LineContext, Content: oldLines[edits[j].OldLine],
						OldLine: edits[j].OldLine + 1, NewLine: edits[j].NewLine + 1,
					})
				}
			}
			if len(current.Lines) > 0 {
				current.OldStart = current.Lines[0].OldLine
				current.NewStart = current.Lines[0].NewLine
			} else {
				switch e.Type {
				case EditDelete:
					current.OldStart = e.OldLine + 1
					if len(newLines) > 0 {
						current.NewStart = 1
					}
				case EditInsert:
					current.NewStart = e.NewLine + 1
					if len(oldLines) > 0 {
						current.OldStart = 1
					}
				}
			}
		}
		if isChange {
			lastChangeIdx = i
		}
		if current == nil {
			continue
		}

		switch e.Type {
		case EditKeep:
			if lastChangeIdx >= 0 && i-lastChangeIdx > context*2 {
				// The 2*context keeps since the last change are already in the hunk; keep the first context.
				current.Lines = current.Lines[:len(current.Lines)-context]
				flush()
			} else {
				current.Lines = append(current.Lines, Line{
					Type: LineContext, Content: oldLines[e.OldLine],
					OldLine: e.OldLine + 1, NewLine: e.NewLine + 1,
				})
			}
		case EditDelete:
			current.Lines = append(current.Lines, Line{
				Type: LineDeletion, Content: oldLines[e.OldLine], OldLine: e.OldLine + 1,
			})
		case EditInsert:
			current.Lines = append(current.Lines, Line{
				Type: LineAddition, Content: newLines[e.NewLine], NewLine: e.NewLine + 1,
			})
		}
	}

	if current != nil {
		if extra := len(edits) - 1 - lastChangeIdx - context; extra > 0 {
			current.Lines = current.Lines[:len(current.Lines)-extra]
		}
		finalize(current)
		hunks = append(hunks, *current)
	}

	return hunks
}

func finalize(h *Hunk) {
	for _, l := range h.Lines {
		if l.Type == LineContext || l.Type == LineDeletion {
			h.OldLines++
		}
		if l.Type == LineContext || l.Type == LineAddition {
			h.NewLines++
		}
	}
}

// Format renders a Diff in standard unified-diff text form, headed by the
// given old/new labels (typically the file path and a revision marker).
func Format(d Diff, oldLabel, newLabel string) string {
	if d.IsBinary {
		return "Binary files differ\n"
	}
	if d.Truncated {
		return "diff truncated: file exceeds size limit\n"
	}
	if len(d.Hunks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("--- " + oldLabel + "\n")
	b.WriteString("+++ " + newLabel + "\n")
	for _, h := range d.Hunks {
		b.WriteString(formatHunkHeader(h))
		for _, l := range h.Lines {
			switch l.Type {
			case LineContext:
				b.WriteString(" " + l.Content + "\n")
			case LineDeletion:
				b.WriteString("-" + l.Content + "\n")
			case LineAddition:
				b.WriteString("+" + l.Content + "\n")
			}
		}
	}
	return b.String()
}

func formatHunkHeader(h Hunk) string {
	return "@@ -" + strconv.Itoa(h.OldStart) + "," + strconv.Itoa(h.OldLines) +
		" +" + strconv.Itoa(h.NewStart) + "," + strconv.Itoa(h.NewLines) + " @@\n"
}
