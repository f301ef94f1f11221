package tokenize

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/hazyhaar/argus/change"
	"github.com/hazyhaar/argus/parserpool"
)

func TestSegments_Lossless(t *testing.T) {
	// WHAT: Joining segments gives back the input byte for byte.
	// WHY: Diff offsets are computed by walking segment lengths.
	inputs := []string{
		"argus panoptes is the name of the 100-eyed giant.",
		"  leading and trailing  ",
		"émigré—déjà vu!",
		"",
	}
	for _, in := range inputs {
		if got := strings.Join(Segments(in), ""); got != in {
			t.Errorf("Segments(%q) rejoined to %q", in, got)
		}
	}
	want := []string{"is", " ", "the", ", ", "end", "."}
	if got := Segments("is the, end."); !slices.Equal(got, want) {
		t.Errorf("Segments: got %q, want %q", got, want)
	}
}

func TestWordsAndShingles(t *testing.T) {
	words := Words("the 100-eyed giant, in greek")
	if !slices.Equal(words, []string{"the", "100", "eyed", "giant", "in", "greek"}) {
		t.Fatalf("Words: got %q", words)
	}
	sh := Shingles(words, 3)
	if len(sh) != 4 || sh[0] != "the 100 eyed" || sh[3] != "giant in greek" {
		t.Fatalf("Shingles: got %q", sh)
	}
	if got := Shingles([]string{"one", "two"}, 3); !slices.Equal(got, []string{"one two"}) {
		t.Fatalf("short Shingles: got %q", got)
	}
	if Shingles(nil, 3) != nil {
		t.Fatal("empty Shingles should be nil")
	}
}

func TestTokens_Options(t *testing.T) {
	tk := New(DefaultRegistry())
	text := "The Giants were watching the Giant"

	cases := []struct {
		name string
		opts change.TokenOptions
		want []string
	}{
		{"raw", change.TokenOptions{}, []string{"The", "Giants", "were", "watching", "the", "Giant"}},
		{"ignore case", change.TokenOptions{IgnoreCase: true}, []string{"the", "giants", "were", "watching", "giant"}},
		{"stopwords", change.TokenOptions{IgnoreCase: true, Stopwords: true}, []string{"giants", "watching", "giant"}},
		{"stemming", change.TokenOptions{IgnoreCase: true, Stopwords: true, Stemming: true}, []string{"giant", "watch"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := tk.Tokens(text, "en", c.opts); !slices.Equal(got, c.want) {
				t.Fatalf("got %q, want %q", got, c.want)
			}
		})
	}
}

func TestTokens_AccentFolding(t *testing.T) {
	// WHAT: Ignoring case also folds accents.
	// WHY: Subscribers type "deja vu" and expect to catch "Déjà vu".
	tk := New(DefaultRegistry())
	got := tk.Tokens("Déjà VU", "fr", change.TokenOptions{IgnoreCase: true})
	if !slices.Equal(got, []string{"deja", "vu"}) {
		t.Fatalf("got %q", got)
	}
}

func TestTokens_UnknownLanguage(t *testing.T) {
	tk := New(DefaultRegistry())
	got := tk.Tokens("the giants", "xx", change.TokenOptions{IgnoreCase: true, Stopwords: true, Stemming: true})
	if !slices.Equal(got, []string{"the", "giants"}) {
		t.Fatalf("unknown language should skip stopwords and stemming, got %q", got)
	}
}

func TestKeywordBuilder(t *testing.T) {
	pool := NewPool(1, DefaultRegistry())
	b := NewKeywordBuilder(pool)
	opts := change.TokenOptions{IgnoreCase: true, Stopwords: true}

	kw, err := b.Build(context.Background(), "Argus Panoptes", "en", opts)
	if err != nil {
		t.Fatal(err)
	}
	if kw.Input != "Argus Panoptes" || !slices.Equal(kw.Tokens, []string{"argus", "panoptes"}) {
		t.Fatalf("keyword: %+v", kw)
	}

	kw, err = b.Build(context.Background(), "of the", "en", opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(kw.Tokens) != 0 {
		t.Fatalf("stopword-only keyword has tokens %q", kw.Tokens)
	}
	if pool.Available() != 1 {
		t.Fatalf("tokenizer not returned to pool")
	}

	pool.Clear()
	if _, err := b.Build(context.Background(), "x", "en", opts); !errors.Is(err, parserpool.ErrClosed) {
		t.Fatalf("Build after Clear: got %v", err)
	}
}

func TestRegistry_Detect(t *testing.T) {
	r := DefaultRegistry()
	en := "The quick brown fox jumps over the lazy dog while the farmer watches from the old wooden house near the river."
	if got := r.Detect(en); got != "en" {
		t.Fatalf("Detect(english) = %q", got)
	}
	fr := "Le renard brun rapide saute par-dessus le chien paresseux pendant que le fermier regarde depuis la vieille maison."
	if got := r.Detect(fr); got != "fr" {
		t.Fatalf("Detect(french) = %q", got)
	}
	if got := r.Detect("   "); got != "" {
		t.Fatalf("Detect(blank) = %q", got)
	}
	if _, ok := r.Lookup("EN"); !ok {
		t.Fatal("Lookup should be case-insensitive")
	}
}
