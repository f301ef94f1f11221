// Package snapshot turns a fetched document into a change.Snapshot:
// readable text, language, shingles and similarity signature.
package snapshot

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/juju/clock"
	"golang.org/x/crypto/blake2b"

	"github.com/hazyhaar/argus/change"
	"github.com/hazyhaar/argus/extract"
	"github.com/hazyhaar/argus/idgen"
	"github.com/hazyhaar/argus/monitor/internal/fetch"
	"github.com/hazyhaar/argus/monitor/internal/orchestrator"
	"github.com/hazyhaar/argus/similarity"
	"github.com/hazyhaar/argus/tokenize"
)

// Fetcher retrieves raw document bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url, accept, etag, lastMod string) (*fetch.Result, error)
}

// Renderer returns the DOM of a page after its scripts ran.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// Config wires a Builder. Fetcher and Prefilter are required.
type Config struct {
	Fetcher   Fetcher
	Renderer  Renderer // optional, used for script-only HTML pages
	Readers   *extract.Registry
	Languages *tokenize.Registry
	Prefilter *similarity.Prefilter
	// ShingleLength is k, the number of words per shingle. Default 3.
	ShingleLength int
	Clock         clock.Clock
	NewID         idgen.Generator
	Logger        *slog.Logger
}

func (c *Config) defaults() {
	if c.Readers == nil {
		c.Readers = extract.DefaultRegistry()
	}
	if c.Languages == nil {
		c.Languages = tokenize.DefaultRegistry()
	}
	if c.ShingleLength <= 0 {
		c.ShingleLength = 3
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.NewID == nil {
		c.NewID = idgen.Default
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Builder implements orchestrator.SnapshotBuilder.
type Builder struct {
	cfg Config
}

// New returns a Builder.
func New(cfg Config) (*Builder, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("snapshot: fetcher is required")
	}
	if cfg.Prefilter == nil {
		return nil, errors.New("snapshot: prefilter is required")
	}
	cfg.defaults()
	return &Builder{cfg: cfg}, nil
}

// Build fetches doc and derives a snapshot from it. The fetch is
// conditional on the validators of prev. A 304, or a body whose text hashes
// like prev, yields orchestrator.ErrUnchanged; transport failures wrap
// orchestrator.ErrFetch. A non-empty langHint overrides language
// detection.
func (b *Builder) Build(ctx context.Context, doc change.Document, prev *change.Snapshot, langHint string) (*change.Snapshot, error) {
	var etag, lastMod string
	if prev != nil {
		etag, lastMod = prev.ETag, prev.LastModified
	}
	res, err := b.cfg.Fetcher.Fetch(ctx, doc.URL, doc.ContentType, etag, lastMod)
	if errors.Is(err, fetch.ErrNotModified) && prev != nil {
		return nil, orchestrator.ErrUnchanged
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", orchestrator.ErrFetch, err)
	}

	ct := doc.ContentType
	if ct == "" {
		ct = res.ContentType
	}
	body := res.Body
	if b.cfg.Renderer != nil && isHTML(ct) && extract.ScriptShell(body) {
		rendered, err := b.cfg.Renderer.Render(ctx, doc.URL)
		if err != nil {
			b.cfg.Logger.Warn("snapshot: browser render failed, using raw HTML", "url", doc.URL, "error", err)
		} else {
			body = rendered
		}
	}

	original, err := b.cfg.Readers.Text(ct, body, doc.URL)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %s: %w", doc.URL, err)
	}
	snap := b.FromText(doc, original, langHint)
	if prev != nil && prev.Hash == snap.Hash {
		return nil, orchestrator.ErrUnchanged
	}
	snap.ETag, snap.LastModified = res.ETag, res.LastModified
	return snap, nil
}

// FromText builds a snapshot of doc from already extracted text.
func (b *Builder) FromText(doc change.Document, original, langHint string) *change.Snapshot {
	text := change.Fold(original)
	lang := strings.ToLower(langHint)
	if lang == "" {
		lang = b.cfg.Languages.Detect(original)
	}
	shingles := tokenize.Shingles(tokenize.Words(text), b.cfg.ShingleLength)
	sum := blake2b.Sum256([]byte(original))

	return &change.Snapshot{
		ID:            b.cfg.NewID(),
		URL:           doc.URL,
		ContentType:   doc.ContentType,
		CapturedAt:    b.cfg.Clock.Now().UTC(),
		Language:      lang,
		Original:      original,
		Text:          text,
		Shingles:      shingles,
		ShingleLength: b.cfg.ShingleLength,
		Signature:     b.cfg.Prefilter.Signature(shingles),
		Hash:          hex.EncodeToString(sum[:]),
	}
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml")
}
