// Package tokenize turns text into significant tokens: word splitting,
// case and accent folding, stopword removal and stemming. A Tokenizer keeps
// reusable transform state and must not be shared between goroutines; the
// Pool type serializes access to a fixed set of them.
package tokenize

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/hazyhaar/argus/change"
	"github.com/hazyhaar/argus/parserpool"
)

// Tokenizer is not safe for concurrent use.
type Tokenizer struct {
	langs  *Registry
	unmark transform.Transformer
	seen   map[string]struct{}
}

// New returns a Tokenizer backed by langs.
func New(langs *Registry) *Tokenizer {
	return &Tokenizer{
		langs:  langs,
		unmark: transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		seen:   make(map[string]struct{}),
	}
}

// Tokens returns the significant tokens of text, in order of first
// appearance and without duplicates.
func (t *Tokenizer) Tokens(text, lang string, opts change.TokenOptions) []string {
	l, _ := t.langs.Lookup(lang)
	clear(t.seen)

	var out []string
	for _, w := range Words(text) {
		lower := strings.ToLower(w)
		if opts.Stopwords && l != nil {
			if _, stop := l.Stopwords[lower]; stop {
				continue
			}
		}
		tok := w
		if opts.IgnoreCase {
			tok = t.fold(lower)
		}
		if opts.Stemming && l != nil && l.Stem != nil {
			tok = l.Stem(tok)
		}
		if tok == "" {
			continue
		}
		if _, dup := t.seen[tok]; dup {
			continue
		}
		t.seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

func (t *Tokenizer) fold(s string) string {
	out, _, err := transform.String(t.unmark, s)
	if err != nil {
		return s
	}
	return out
}

// Pool is a bounded pool of tokenizers.
type Pool = parserpool.Pool[*Tokenizer]

// NewPool builds size tokenizers sharing langs.
func NewPool(size int, langs *Registry) *Pool {
	return parserpool.New(size, func() *Tokenizer { return New(langs) })
}

// KeywordBuilder reduces subscriber phrases to keywords using pooled
// tokenizers.
type KeywordBuilder struct {
	pool *Pool
}

// NewKeywordBuilder returns a builder borrowing from pool.
func NewKeywordBuilder(pool *Pool) *KeywordBuilder {
	return &KeywordBuilder{pool: pool}
}

// Build tokenizes input for the given document language. A phrase made
// only of stopwords yields a keyword without tokens, which never matches.
func (b *KeywordBuilder) Build(ctx context.Context, input, lang string, opts change.TokenOptions) (change.Keyword, error) {
	kw := change.Keyword{Input: input}
	err := b.pool.With(ctx, func(t *Tokenizer) error {
		kw.Tokens = t.Tokens(input, lang, opts)
		return nil
	})
	if err != nil {
		return change.Keyword{}, err
	}
	return kw, nil
}
