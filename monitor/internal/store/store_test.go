package store

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/argus/change"
	"github.com/hazyhaar/argus/dbopen"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

var doc = change.Document{URL: "https://example.com/page", ContentType: "text/html"}

func snapAt(text string, at time.Time) *change.Snapshot {
	return &change.Snapshot{
		URL: doc.URL, ContentType: doc.ContentType, CapturedAt: at,
		Original: text, Text: change.Fold(text), Language: "en",
		Shingles: []string{"a b c"}, ShingleLength: 3,
		Signature: []uint64{1, 1 << 63, 42},
		ETag: `W/"` + text + `"`, LastModified: at.UTC().Format(http.TimeFormat),
	}
}

func TestSnapshots_KeepsTwoGenerations(t *testing.T) {
	// WHAT: A third Add evicts the oldest snapshot of the document.
	// WHY: Only the (oldest, latest) pair is ever compared.
	s := NewSnapshots(openTestDB(t))
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	oldest, latest, err := s.Pair(ctx, doc)
	if err != nil || oldest != nil || latest != nil {
		t.Fatalf("empty Pair: %v %v %v", oldest, latest, err)
	}

	for i, text := range []string{"one", "two", "three"} {
		if err := s.Add(ctx, snapAt(text, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Add %s: %v", text, err)
		}
	}
	oldest, latest, err = s.Pair(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	if oldest.Original != "two" || latest.Original != "three" {
		t.Fatalf("pair = (%q, %q), want (two, three)", oldest.Original, latest.Original)
	}
	var n int
	s.DB.Get(&n, `SELECT COUNT(*) FROM snapshots`)
	if n != 2 {
		t.Fatalf("stored snapshots = %d, want 2", n)
	}
	if !slices.Equal(latest.Signature, []uint64{1, 1 << 63, 42}) {
		t.Fatalf("signature round trip: %v", latest.Signature)
	}
	if !latest.CapturedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("captured_at = %v", latest.CapturedAt)
	}
	if latest.ETag != `W/"three"` || latest.LastModified != base.Add(2*time.Minute).UTC().Format(http.TimeFormat) {
		t.Fatalf("validators = %q %q", latest.ETag, latest.LastModified)
	}
}

func TestSnapshots_SinglePair(t *testing.T) {
	s := NewSnapshots(openTestDB(t))
	ctx := context.Background()
	if err := s.Add(ctx, snapAt("only", time.Now())); err != nil {
		t.Fatal(err)
	}
	oldest, latest, err := s.Pair(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	if oldest.ID != latest.ID {
		t.Fatalf("single snapshot pair differs: %s vs %s", oldest.ID, latest.ID)
	}

	if err := s.Remove(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Latest(ctx, doc); got != nil {
		t.Fatalf("snapshot left after Remove: %+v", got)
	}
}

func TestDiffs_PutReplaces(t *testing.T) {
	d := NewDiffs(openTestDB(t))
	ctx := context.Background()

	first := []change.Event{
		{Kind: change.Deleted, Text: "argus panoptes", Start: 0, End: 14},
		{Kind: change.Inserted, Text: "hera", Start: 3, End: 7},
	}
	if err := d.Put(ctx, doc, first); err != nil {
		t.Fatal(err)
	}
	second := []change.Event{{Kind: change.Inserted, Text: "io", Start: 9, End: 11}}
	if err := d.Put(ctx, doc, second); err != nil {
		t.Fatal(err)
	}
	got, err := d.Get(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, second) {
		t.Fatalf("diffs = %+v, want %+v", got, second)
	}

	if err := d.Clear(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if got, _ := d.Get(ctx, doc); len(got) != 0 {
		t.Fatalf("diffs after Clear: %+v", got)
	}
}

func TestSessions(t *testing.T) {
	s := NewSessions(openTestDB(t))
	ctx := context.Background()
	client := change.Client{URL: "https://hooks.example.com/a", ContentType: "application/json"}

	tok, err := s.CreateOrGet(ctx, client)
	if err != nil {
		t.Fatal(err)
	}
	again, err := s.CreateOrGet(ctx, client)
	if err != nil {
		t.Fatal(err)
	}
	if tok == "" || tok != again {
		t.Fatalf("tokens %q and %q differ", tok, again)
	}
	if ok, _ := s.Validate(ctx, client, tok); !ok {
		t.Fatal("valid token rejected")
	}
	if ok, _ := s.Validate(ctx, client, tok+"x"); ok {
		t.Fatal("wrong token accepted")
	}
	other := change.Client{URL: client.URL, ContentType: "text/plain"}
	if ok, _ := s.Validate(ctx, other, tok); ok {
		t.Fatal("token accepted for another client")
	}
}

func TestSessions_ConcurrentFirstUse(t *testing.T) {
	// WHAT: Concurrent first uses by one client all succeed with the same token.
	// WHY: Two watches created at once for a new webhook must not fail on the session key.
	db, err := dbopen.Open(filepath.Join(t.TempDir(), "sessions.db"), dbopen.WithSchema(Schema))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s := NewSessions(db)
	client := change.Client{URL: "https://hooks.example.com/burst", ContentType: "application/json"}

	const n = 8
	tokens := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = s.CreateOrGet(context.Background(), client)
		}()
	}
	wg.Wait()
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if tokens[i] == "" || tokens[i] != tokens[0] {
			t.Fatalf("tokens differ: %q", tokens)
		}
	}
}

func TestSubscriptions(t *testing.T) {
	s := NewSubscriptions(openTestDB(t))
	ctx := context.Background()
	client := change.Client{URL: "https://hooks.example.com/a", ContentType: "application/json"}

	sub := &Subscription{
		Document:      doc,
		Client:        client,
		Keywords:      []string{"argus panoptes", "io"},
		Filter:        change.EventFilter{IgnoreAdded: true},
		Options:       change.TokenOptions{IgnoreCase: true, Stemming: true},
		SnippetOffset: 40,
		Interval:      5 * time.Minute,
		Language:      "fr",
	}
	if err := s.Insert(ctx, sub); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, &Subscription{Document: doc, Client: client, Keywords: []string{"x"}, Interval: time.Minute}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate insert: got %v", err)
	}

	got, err := s.Get(ctx, doc, client)
	if err != nil || got == nil {
		t.Fatalf("Get: %v %v", got, err)
	}
	if got.ID != sub.ID || !slices.Equal(got.Keywords, sub.Keywords) || got.Filter != sub.Filter ||
		got.Options != sub.Options || got.Interval != sub.Interval || got.SnippetOffset != 40 || got.Language != "fr" {
		t.Fatalf("round trip: %+v", got)
	}

	list, err := s.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List: %d %v", len(list), err)
	}

	ok, err := s.Delete(ctx, doc, client)
	if err != nil || !ok {
		t.Fatalf("Delete: %v %v", ok, err)
	}
	ok, _ = s.Delete(ctx, doc, client)
	if ok {
		t.Fatal("second Delete reported a row")
	}
	if got, _ := s.Get(ctx, doc, client); got != nil {
		t.Fatalf("Get after Delete: %+v", got)
	}
}
