package search

import "testing"

func TestTokenizeSplitsAndKeepsCase(t *testing.T) {
	terms := Tokenize("v1", "a.txt", []byte("Hello, World! Hello again."))

	byToken := make(map[string][]int)
	for _, term := range terms {
		byToken[term.Token] = term.Positions
	}

	if _, ok := byToken["Hello"]; !ok {
		t.Fatalf("expected token 'Hello' with its original case, got %v", byToken)
	}
	if len(byToken["Hello"]) != 2 {
		t.Errorf("expected 'Hello' to occur twice, got %d", len(byToken["Hello"]))
	}
	if _, ok := byToken["World"]; !ok {
		t.Errorf("expected token 'World', got %v", byToken)
	}
	if _, ok := byToken["hello"]; ok {
		t.Error("tokens must not be folded at index time")
	}
}

func TestTokenizeEmptyContent(t *testing.T) {
	if terms := Tokenize("v1", "a.txt", nil); len(terms) != 0 {
		t.Errorf("expected no terms for empty content, got %d", len(terms))
	}
}

func TestGlobToLikeTranslatesWildcards(t *testing.T) {
	got := globToLike("foo*bar?baz")
	want := "foo%bar_baz"
	if got != want {
		t.Errorf("globToLike(%q) = %q, want %q", "foo*bar?baz", got, want)
	}
}

func TestGlobToLikeEscapesLiteralWildcardChars(t *testing.T) {
	got := globToLike("100%_done")
	want := `100\%\_done`
	if got != want {
		t.Errorf("globToLike(%q) = %q, want %q", "100%_done", got, want)
	}
}
