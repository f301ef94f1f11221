// Package notify delivers match and timeout notifications to subscribers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/argus/change"
)

// Status values of a Payload.
const (
	StatusMatch   = "match"
	StatusTimeout = "timeout"
)

// SessionHeader carries the subscriber's session token on every delivery.
const SessionHeader = "X-Argus-Session"

// Diff is one reported match.
type Diff struct {
	Event   change.EventKind `json:"event"`
	Keyword string           `json:"keyword"`
	Snippet string           `json:"snippet"`
}

// Payload is the JSON body POSTed to a client.
type Payload struct {
	Status string `json:"status"`
	URL    string `json:"url"`
	Diffs  []Diff `json:"diffs"`
}

// TokenSource returns the session token of a client.
type TokenSource interface {
	CreateOrGet(ctx context.Context, client change.Client) (string, error)
}

// Webhook POSTs payloads to client URLs. A delivery is one attempt: a 2xx
// answer is success, anything else an error for the caller to log.
type Webhook struct {
	client   *http.Client
	tokens   TokenSource
	validate func(string) error
	logger   *slog.Logger
}

// Option configures a Webhook.
type Option func(*Webhook)

// WithTimeout sets the per-delivery HTTP timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(w *Webhook) {
		if d > 0 {
			w.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Webhook) { w.client = c }
}

// WithSessions attaches the client's session token to each delivery.
func WithSessions(ts TokenSource) Option {
	return func(w *Webhook) { w.tokens = ts }
}

// WithURLValidator rejects client URLs before dialing.
func WithURLValidator(fn func(string) error) Option {
	return func(w *Webhook) { w.validate = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook notifier.
func NewWebhook(opts ...Option) *Webhook {
	w := &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// NotifyMatch reports matches found in docURL.
func (w *Webhook) NotifyMatch(ctx context.Context, docURL string, client change.Client, matches []change.Match) error {
	diffs := make([]Diff, 0, len(matches))
	for _, m := range matches {
		diffs = append(diffs, Diff{Event: m.Event, Keyword: m.Keyword, Snippet: m.Snippet})
	}
	return w.post(ctx, client, Payload{Status: StatusMatch, URL: docURL, Diffs: diffs})
}

// NotifyTimeout reports that docURL stopped being watched after repeated
// fetch failures.
func (w *Webhook) NotifyTimeout(ctx context.Context, docURL string, client change.Client) error {
	return w.post(ctx, client, Payload{Status: StatusTimeout, URL: docURL, Diffs: []Diff{}})
}

func (w *Webhook) post(ctx context.Context, client change.Client, p Payload) error {
	if w.validate != nil {
		if err := w.validate(client.URL); err != nil {
			return fmt.Errorf("notify: %s: %w", client.URL, err)
		}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: new request: %w", err)
	}
	ct := client.ContentType
	if ct == "" {
		ct = "application/json"
	}
	req.Header.Set("Content-Type", ct)
	if w.tokens != nil {
		tok, err := w.tokens.CreateOrGet(ctx, client)
		if err != nil {
			return fmt.Errorf("notify: session: %w", err)
		}
		req.Header.Set(SessionHeader, tok)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post %s: %w", client.URL, err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: %s: status %d", client.URL, resp.StatusCode)
	}
	w.logger.Debug("notify: delivered", "client", client.URL, "status", p.Status, "diffs", len(p.Diffs))
	return nil
}

// Func adapts two functions to the notifier interface, for in-process
// subscribers.
type Func struct {
	Match   func(ctx context.Context, docURL string, client change.Client, matches []change.Match) error
	Timeout func(ctx context.Context, docURL string, client change.Client) error
}

func (f Func) NotifyMatch(ctx context.Context, docURL string, client change.Client, matches []change.Match) error {
	if f.Match == nil {
		return nil
	}
	return f.Match(ctx, docURL, client, matches)
}

func (f Func) NotifyTimeout(ctx context.Context, docURL string, client change.Client) error {
	if f.Timeout == nil {
		return nil
	}
	return f.Timeout(ctx, docURL, client)
}
