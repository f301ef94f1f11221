package detect

import (
	"fmt"
	"strings"
	"testing"

	"github.com/hazyhaar/argus/change"
	"github.com/hazyhaar/argus/similarity"
	"github.com/hazyhaar/argus/tokenize"
)

func snap(p *similarity.Prefilter, original string) *change.Snapshot {
	text := change.Fold(original)
	sh := tokenize.Shingles(tokenize.Words(text), 3)
	return &change.Snapshot{Original: original, Text: text, Shingles: sh, ShingleLength: 3, Signature: p.Signature(sh)}
}

const argus = "Argus Panoptes is the name of the 100-eyed giant in Greek mythology."

func TestDetect_SameSnapshot(t *testing.T) {
	// WHAT: detect(S, S) is empty and never reaches the diff.
	p := similarity.New(similarity.Config{})
	d := New(p)
	s := snap(p, argus)

	res := d.Detect(s, s)
	if len(res.Events) != 0 {
		t.Fatalf("events: %+v", res.Events)
	}
	if res.Diffed {
		t.Fatal("identical snapshots reached the full diff")
	}
	if res.Verdict.Similarity != 1 {
		t.Fatalf("similarity = %v, want 1", res.Verdict.Similarity)
	}
}

func TestDetect_NearDuplicateSkipsDiff(t *testing.T) {
	// WHAT: Snapshots with Jaccard >= 0.95 yield no events and no diff run.
	// WHY: Most re-fetches change nothing or only trivial churn.
	p := similarity.New(similarity.Config{})
	d := New(p)
	words := make([]string, 3000)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	a := snap(p, strings.Join(words, " "))
	words[1500] = "banner"
	b := snap(p, strings.Join(words, " "))

	res := d.Detect(a, b)
	if res.Diffed || len(res.Events) != 0 {
		t.Fatalf("near duplicate diffed: %+v", res)
	}
	if res.Verdict.Similarity < 0.95 {
		t.Fatalf("similarity = %v", res.Verdict.Similarity)
	}
}

func TestDetect_ArgusDeletion(t *testing.T) {
	p := similarity.New(similarity.Config{})
	d := New(p)
	old := snap(p, argus)
	cur := snap(p, "is the of the 100-eyed giant in Greek mythology.")

	res := d.Detect(old, cur)
	if !res.Diffed {
		t.Fatal("expected full diff")
	}
	var deleted []change.Event
	for _, ev := range res.Events {
		if ev.Kind != change.Deleted {
			t.Fatalf("unexpected insertion: %+v", ev)
		}
		deleted = append(deleted, ev)
	}
	if len(deleted) != 2 {
		t.Fatalf("deleted events: %+v", deleted)
	}
	first := deleted[0]
	if first.Text != "argus panoptes" {
		t.Fatalf("first deletion text = %q", first.Text)
	}
	if got := change.Slice(old.Original, first.Start, first.End); got != "Argus Panoptes" {
		t.Fatalf("offsets point at %q in original", got)
	}
	if deleted[1].Text != "name" {
		t.Fatalf("second deletion text = %q", deleted[1].Text)
	}
}

func TestDiff_InsertOffsetsInNewText(t *testing.T) {
	oldText := "the giant sleeps"
	newText := "the hundred eyed giant sleeps"
	events := Diff(oldText, newText)
	if len(events) != 1 {
		t.Fatalf("events: %+v", events)
	}
	ev := events[0]
	if ev.Kind != change.Inserted || ev.Text != "hundred eyed" {
		t.Fatalf("event: %+v", ev)
	}
	if got := change.Slice(newText, ev.Start, ev.End); got != "hundred eyed" {
		t.Fatalf("offsets point at %q", got)
	}
}

func TestDiff_DropsNoise(t *testing.T) {
	// WHAT: Whitespace-only and single punctuation changes produce no events.
	events := Diff("hello world.", "hello  world!")
	for _, ev := range events {
		t.Errorf("noise event kept: %+v", ev)
	}
}

func TestDiff_Deterministic(t *testing.T) {
	a := strings.Repeat("alpha beta gamma delta ", 200)
	b := strings.Replace(a, "gamma", "omega", 37)
	first := Diff(a, b)
	for range 5 {
		again := Diff(a, b)
		if len(again) != len(first) {
			t.Fatalf("event count changed: %d vs %d", len(again), len(first))
		}
		for i := range first {
			if again[i] != first[i] {
				t.Fatalf("event %d changed: %+v vs %+v", i, again[i], first[i])
			}
		}
	}
}

func TestDiff_Unicode(t *testing.T) {
	oldText := "le géant aux cent yeux"
	newText := "le géant aux mille yeux"
	events := Diff(oldText, newText)
	if len(events) != 2 {
		t.Fatalf("events: %+v", events)
	}
	for _, ev := range events {
		src := oldText
		if ev.Kind == change.Inserted {
			src = newText
		}
		if got := change.Slice(src, ev.Start, ev.End); got != ev.Text {
			t.Fatalf("offsets of %+v point at %q", ev, got)
		}
	}
}
