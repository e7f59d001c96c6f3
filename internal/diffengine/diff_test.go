package diffengine

import (
	"strings"
	"testing"
)

func TestComputeNoChanges(t *testing.T) {
	content := []byte("a\nb\nc\n")
	d := Compute(content, content, DefaultContextLines)
	if len(d.Hunks) != 0 {
		t.Errorf("expected no hunks for identical content, got %d", len(d.Hunks))
	}
}

func TestComputeSingleLineChange(t *testing.T) {
	old := []byte("a\nb\nc\n")
	newC := []byte("a\nx\nc\n")
	d := Compute(old, newC, DefaultContextLines)
	if len(d.Hunks) != 1 {
		t.Fatalf("expected 1 hunk, got %d", len(d.Hunks))
	}
	var adds, dels int
	for _, l := range d.Hunks[0].Lines {
		switch l.Type {
		case LineAddition:
			adds++
		case LineDeletion:
			dels++
		}
	}
	if adds != 1 || dels != 1 {
		t.Errorf("expected 1 addition and 1 deletion, got %d/%d", adds, dels)
	}
}

func TestComputeBinaryDetection(t *testing.T) {
	old := []byte("text")
	newC := []byte("bin\x00ary")
	d := Compute(old, newC, DefaultContextLines)
	if !d.IsBinary {
		t.Error("expected binary content to be detected")
	}
}

func TestComputeTruncatesOversizedContent(t *testing.T) {
	huge := make([]byte, MaxDiffSize+1)
	d := Compute(huge, []byte("small"), DefaultContextLines)
	if !d.Truncated {
		t.Error("expected oversized content to be reported as truncated")
	}
}

func TestFormatRendersUnifiedHeaders(t *testing.T) {
	old := []byte("a\nb\n")
	newC := []byte("a\nc\n")
	d := Compute(old, newC, DefaultContextLines)
	out := Format(d, "old/path", "new/path")
	if !strings.Contains(out, "--- old/path") || !strings.Contains(out, "+++ new/path") {
		t.Errorf("expected unified diff headers, got:\n%s", out)
	}
	if !strings.Contains(out, "@@ ") {
		t.Errorf("expected a hunk header, got:\n%s", out)
	}
}

func TestSplitLinesDropsTrailingEmpty(t *testing.T) {
	lines := SplitLines([]byte("a\nb\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
}

func TestSplitLinesEmptyContent(t *testing.T) {
	if lines := SplitLines(nil); lines != nil {
		t.Errorf("expected nil for empty content, got %v", lines)
	}
}

func TestDecodeLossyReplacesInvalidBytes(t *testing.T) {
	// 0xFF is not valid UTF-8 anywhere, and carries no null byte so it
	// passes the binary check.
	content := []byte("caf\xff\nplain\n")
	if IsBinary(content) {
		t.Fatal("sanity check: content must not classify as binary")
	}

	decoded := DecodeLossy(content)
	if !strings.Contains(decoded, "�") {
		t.Errorf("expected invalid bytes replaced with U+FFFD, got %q", decoded)
	}

	d := Compute(content, []byte("caf\xff\nchanged\n"), DefaultContextLines)
	if d.IsBinary || len(d.Hunks) != 1 {
		t.Fatalf("expected a 1-hunk line diff over lossily decoded content, got %+v", d)
	}
}
