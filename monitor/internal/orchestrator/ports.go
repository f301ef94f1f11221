package orchestrator

import (
	"context"
	"errors"

	"github.com/hazyhaar/argus/change"
)

var (
	// ErrConflict rejects a second subscription for the same document and
	// client pair.
	ErrConflict = errors.New("orchestrator: subscription already exists")
	// ErrFetch marks a snapshot build that failed to retrieve the document.
	// Consecutive failures retire the document.
	ErrFetch = errors.New("orchestrator: fetch failed")
	// ErrUnchanged is returned by a SnapshotBuilder that knows the document
	// did not change since the last build. It counts as a success.
	ErrUnchanged = errors.New("orchestrator: document unchanged")
	// ErrClosed is returned by operations on a closed orchestrator.
	ErrClosed = errors.New("orchestrator: closed")
)

// DocumentStore keeps the two newest snapshots of each document.
type DocumentStore interface {
	// Pair returns the oldest and latest stored snapshots, both nil when
	// none is stored. With a single snapshot both results are that one.
	Pair(ctx context.Context, doc change.Document) (oldest, latest *change.Snapshot, err error)
	// Add stores s, evicting the oldest when a third one arrives.
	Add(ctx context.Context, s *change.Snapshot) error
	Remove(ctx context.Context, doc change.Document) error
}

// DiffStore keeps the current diff set of each document.
type DiffStore interface {
	// Put replaces the stored events of doc.
	Put(ctx context.Context, doc change.Document, events []change.Event) error
	Get(ctx context.Context, doc change.Document) ([]change.Event, error)
	Clear(ctx context.Context, doc change.Document) error
}

// SessionStore issues one token per client.
type SessionStore interface {
	CreateOrGet(ctx context.Context, client change.Client) (string, error)
	Validate(ctx context.Context, client change.Client, token string) (bool, error)
}

// SnapshotBuilder fetches a document and derives a snapshot. prev is the
// latest stored snapshot of doc, nil before the baseline; its validators
// make the fetch conditional. A non-empty language hint overrides
// detection.
type SnapshotBuilder interface {
	Build(ctx context.Context, doc change.Document, prev *change.Snapshot, langHint string) (*change.Snapshot, error)
}

// KeywordBuilder reduces a subscriber phrase to a keyword for a language.
type KeywordBuilder interface {
	Build(ctx context.Context, input, lang string, opts change.TokenOptions) (change.Keyword, error)
}

// Notifier delivers outcomes to clients. Errors are logged by the caller
// and never retried within a cycle.
type Notifier interface {
	NotifyMatch(ctx context.Context, docURL string, client change.Client, matches []change.Match) error
	NotifyTimeout(ctx context.Context, docURL string, client change.Client) error
}
