// Package detect computes the change events between two snapshots of a
// document. A similarity prefilter skips the diff for near duplicates;
// otherwise a token-level Myers diff with semantic cleanup runs over the
// normalized texts.
package detect

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/hazyhaar/argus/change"
	"github.com/hazyhaar/argus/similarity"
	"github.com/hazyhaar/argus/tokenize"
)

// Detector is immutable and safe for concurrent use.
type Detector struct {
	pre *similarity.Prefilter
}

// New returns a Detector using pre as its near-duplicate filter.
func New(pre *similarity.Prefilter) *Detector {
	return &Detector{pre: pre}
}

// Result carries the events and how they were obtained.
type Result struct {
	Events  []change.Event
	Verdict similarity.Verdict
	Diffed  bool // false when the prefilter short-circuited
}

// Detect compares old with cur.
func (d *Detector) Detect(old, cur *change.Snapshot) Result {
	v := d.pre.Compare(old, cur)
	if v.Similar {
		return Result{Verdict: v}
	}
	return Result{Events: Diff(old.Text, cur.Text), Verdict: v, Diffed: true}
}

// Diff returns the inserted and deleted spans between two texts.
// Deletions carry offsets into oldText, insertions into newText.
func Diff(oldText, newText string) []change.Event {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0

	var diffs []diffmatchpatch.Diff
	enc := newTokenEncoder()
	r1, ok1 := enc.encode(tokenize.Segments(oldText))
	r2, ok2 := enc.encode(tokenize.Segments(newText))
	if ok1 && ok2 {
		diffs = dmp.DiffMainRunes(r1, r2, false)
		for i := range diffs {
			diffs[i].Text = enc.decode(diffs[i].Text)
		}
	} else {
		diffs = dmp.DiffMain(oldText, newText, false)
	}
	diffs = dmp.DiffCleanupSemantic(diffs)

	var events []change.Event
	oldPos, newPos := 0, 0
	for _, df := range diffs {
		n := utf8.RuneCountInString(df.Text)
		switch df.Type {
		case diffmatchpatch.DiffEqual:
			oldPos += n
			newPos += n
		case diffmatchpatch.DiffDelete:
			if ev, ok := event(change.Deleted, df.Text, oldPos); ok {
				events = append(events, ev)
			}
			oldPos += n
		case diffmatchpatch.DiffInsert:
			if ev, ok := event(change.Inserted, df.Text, newPos); ok {
				events = append(events, ev)
			}
			newPos += n
		}
	}
	return events
}

// event trims surrounding spaces from a chunk starting at rune offset pos
// and drops whitespace-only and single-symbol chunks.
func event(kind change.EventKind, text string, pos int) (change.Event, bool) {
	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
	lead := utf8.RuneCountInString(text) - utf8.RuneCountInString(trimmed)
	trimmed = strings.TrimRightFunc(trimmed, unicode.IsSpace)
	n := utf8.RuneCountInString(trimmed)
	if n == 0 {
		return change.Event{}, false
	}
	if n == 1 {
		r, _ := utf8.DecodeRuneInString(trimmed)
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return change.Event{}, false
		}
	}
	start := pos + lead
	return change.Event{Kind: kind, Text: trimmed, Start: start, End: start + n}, true
}

// tokenEncoder maps each distinct segment to one rune so the diff runs at
// token granularity. Runes start at U+E000, above the surrogate block.
type tokenEncoder struct {
	index  map[string]rune
	tokens []string
}

const (
	firstTokenRune = 0xE000
	maxTokens      = utf8.MaxRune - firstTokenRune + 1
)

func newTokenEncoder() *tokenEncoder {
	return &tokenEncoder{index: make(map[string]rune)}
}

func (e *tokenEncoder) encode(segs []string) ([]rune, bool) {
	out := make([]rune, len(segs))
	for i, s := range segs {
		r, ok := e.index[s]
		if !ok {
			if len(e.tokens) >= maxTokens {
				return nil, false
			}
			r = rune(firstTokenRune + len(e.tokens))
			e.index[s] = r
			e.tokens = append(e.tokens, s)
		}
		out[i] = r
	}
	return out, true
}

func (e *tokenEncoder) decode(s string) string {
	var b strings.Builder
	for _, r := range s {
		b.WriteString(e.tokens[r-firstTokenRune])
	}
	return b.String()
}
