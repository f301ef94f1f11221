// Package match tests keyword sets against diff events. Each event's
// tokens go into a one-shot Bloom filter; keywords whose tokens all pass
// the filter are confirmed against the exact token set before a match is
// reported with a context snippet.
package match

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/argus/change"
	"github.com/hazyhaar/argus/tokenize"
)

// Config tunes the matcher.
type Config struct {
	// FalsePositiveRate sizes the per-event Bloom filters. Default: 0.01.
	FalsePositiveRate float64
	// Parallelism bounds concurrent events. Default: tokenizer pool size.
	Parallelism int
}

// Matcher is safe for concurrent use.
type Matcher struct {
	pool *tokenize.Pool
	cfg  Config
}

// New returns a Matcher borrowing tokenizers from pool.
func New(pool *tokenize.Pool, cfg Config) *Matcher {
	if cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		cfg.FalsePositiveRate = 0.01
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = max(pool.Available(), 1)
	}
	return &Matcher{pool: pool, cfg: cfg}
}

// Request is one matching evaluation.
type Request struct {
	Oldest, Latest *change.Snapshot
	Events         []change.Event
	Keywords       []change.Keyword
	Filter         change.EventFilter
	Options        change.TokenOptions
	SnippetOffset  int
}

// Match returns the confirmed matches of req, ordered by event kind,
// keyword and matched text. A pool interruption aborts the whole call.
func (m *Matcher) Match(ctx context.Context, req Request) ([]change.Match, error) {
	var found sync.Map
	lang := ""
	if req.Latest != nil {
		lang = req.Latest.Language
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Parallelism)
	for _, ev := range req.Events {
		if !req.Filter.Allows(ev.Kind) {
			continue
		}
		owner := req.Latest
		if ev.Kind == change.Deleted {
			owner = req.Oldest
		}
		g.Go(func() error {
			source := ev.Text
			if owner != nil {
				if s := change.Slice(owner.Original, ev.Start, ev.End); s != "" {
					source = s
				}
			}
			var tokens []string
			err := m.pool.With(gctx, func(t *tokenize.Tokenizer) error {
				tokens = t.Tokens(source, lang, req.Options)
				return nil
			})
			if err != nil {
				return fmt.Errorf("match: tokenize: %w", err)
			}
			for _, kw := range matchEvent(tokens, req.Keywords, m.cfg.FalsePositiveRate) {
				mt := change.Match{
					Event:       ev.Kind,
					Keyword:     kw.Input,
					MatchedText: ev.Text,
					Snippet:     snippet(owner, ev, req.SnippetOffset),
				}
				found.LoadOrStore(mt.Key(), mt)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []change.Match
	found.Range(func(_, v any) bool {
		out = append(out, v.(change.Match))
		return true
	})
	slices.SortFunc(out, func(a, b change.Match) int {
		return cmp.Or(
			cmp.Compare(a.Event, b.Event),
			cmp.Compare(a.Keyword, b.Keyword),
			cmp.Compare(a.MatchedText, b.MatchedText),
		)
	})
	return out, nil
}

// matchEvent returns the keywords whose every token is among tokens.
// Keywords without tokens never match.
func matchEvent(tokens []string, keywords []change.Keyword, fpRate float64) []change.Keyword {
	if len(tokens) == 0 {
		return nil
	}
	filter := bloom.NewWithEstimates(uint(len(tokens)), fpRate)
	exact := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		filter.AddString(tok)
		exact[tok] = struct{}{}
	}

	var out []change.Keyword
	for _, kw := range keywords {
		if len(kw.Tokens) == 0 || !mightContainAll(filter, kw.Tokens) {
			continue
		}
		if containsAll(exact, kw.Tokens) {
			out = append(out, kw)
		}
	}
	return out
}

func mightContainAll(f *bloom.BloomFilter, tokens []string) bool {
	for _, tok := range tokens {
		if !f.TestString(tok) {
			return false
		}
	}
	return true
}

func containsAll(set map[string]struct{}, tokens []string) bool {
	for _, tok := range tokens {
		if _, ok := set[tok]; !ok {
			return false
		}
	}
	return true
}

// snippet pads the event span with offset runes of the owner's original
// text on each side, clamped to its bounds.
func snippet(owner *change.Snapshot, ev change.Event, offset int) string {
	if owner == nil {
		return ev.Text
	}
	offset = max(offset, 0)
	s := change.Slice(owner.Original, ev.Start-offset, ev.End+offset)
	if s == "" {
		return ev.Text
	}
	return s
}
