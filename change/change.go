// Package change holds the plain data types shared by the detection and
// matching pipeline: snapshots, diff events, keywords and matches.
package change

import (
	"fmt"
	"strings"
	"time"
)

// Document identifies one watched resource.
type Document struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

func (d Document) String() string { return d.URL + " (" + d.ContentType + ")" }

// Client identifies one delivery target.
type Client struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

func (c Client) String() string { return c.URL + " (" + c.ContentType + ")" }

// Snapshot is one captured copy of a document. It is never mutated after
// the builder returns it.
//
// Text is a rune-for-rune fold of Original (lowercase, any space as ' '),
// so a rune offset into Text is also a rune offset into Original.
//
// ETag and LastModified are the HTTP validators the copy was served with.
// They become the conditional request of the next capture only once the
// snapshot is stored.
type Snapshot struct {
	ID            string
	URL           string
	ContentType   string
	CapturedAt    time.Time
	Language      string
	Original      string
	Text          string
	Shingles      []string
	ShingleLength int
	Signature     []uint64
	Hash          string
	ETag          string
	LastModified  string
}

// Document returns the identity of the snapshot's document.
func (s *Snapshot) Document() Document {
	return Document{URL: s.URL, ContentType: s.ContentType}
}

// EventKind is the direction of a diff event.
type EventKind string

const (
	Inserted EventKind = "inserted"
	Deleted  EventKind = "deleted"
)

// ParseEventKind parses the stored form of an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	switch EventKind(s) {
	case Inserted, Deleted:
		return EventKind(s), nil
	}
	return "", fmt.Errorf("change: unknown event kind %q", s)
}

// Event is one contiguous span that differs between two snapshots. Start
// and End are rune offsets into the text of the owning snapshot: the
// latest one for insertions, the oldest one for deletions.
type Event struct {
	Kind  EventKind `json:"event"`
	Text  string    `json:"text"`
	Start int       `json:"start"`
	End   int       `json:"end"`
}

// Keyword is a subscriber phrase reduced to its significant tokens.
// Input is the identity.
type Keyword struct {
	Input  string
	Tokens []string
}

// Match is a confirmed keyword occurrence in one diff event.
type Match struct {
	Event       EventKind `json:"event"`
	Keyword     string    `json:"keyword"`
	MatchedText string    `json:"matched_text"`
	Snippet     string    `json:"snippet"`
}

// Key is the identity of a match; two matches with the same key collapse.
func (m Match) Key() string {
	return string(m.Event) + "\x00" + m.Keyword + "\x00" + m.MatchedText
}

// EventFilter selects which event kinds a subscription cares about.
type EventFilter struct {
	IgnoreAdded   bool `json:"ignore_added"`
	IgnoreRemoved bool `json:"ignore_removed"`
}

// Allows reports whether events of kind k pass the filter.
func (f EventFilter) Allows(k EventKind) bool {
	switch k {
	case Inserted:
		return !f.IgnoreAdded
	case Deleted:
		return !f.IgnoreRemoved
	}
	return false
}

// TokenOptions configures tokenization of keywords and diff text.
type TokenOptions struct {
	Stopwords  bool `json:"stopwords"`
	Stemming   bool `json:"stemming"`
	IgnoreCase bool `json:"ignore_case"`
}

// Fold returns the normalized text of s: every rune lowercased and every
// Unicode space mapped to ' '. The result has the same rune count as s.
func Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteRune(foldRune(r))
	}
	return b.String()
}
