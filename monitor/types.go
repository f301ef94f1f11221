package monitor

import (
	"time"

	"github.com/hazyhaar/argus/change"
)

// WatchKey identifies one subscription: a client watching a document.
type WatchKey struct {
	DocumentURL         string `json:"document_url"`
	DocumentContentType string `json:"document_content_type,omitempty"`
	ClientURL           string `json:"client_url"`
	ClientContentType   string `json:"client_content_type,omitempty"`
}

// WatchRequest is the input of CreateWatch. Content types default to
// text/html for documents and application/json for clients.
type WatchRequest struct {
	WatchKey
	Keywords      []string `json:"keywords"`
	IgnoreAdded   bool     `json:"ignore_added,omitempty"`
	IgnoreRemoved bool     `json:"ignore_removed,omitempty"`
	Stopwords     bool     `json:"stopwords,omitempty"`
	Stemming      bool     `json:"stemming,omitempty"`
	IgnoreCase    bool     `json:"ignore_case,omitempty"`
	// SnippetOffset is the context kept on each side of a match, in runes.
	// Zero uses the configured default.
	SnippetOffset int `json:"snippet_offset,omitempty"`
	// IntervalSeconds is the polling interval. Zero uses the configured
	// default; values below the configured minimum are raised to it.
	IntervalSeconds int64 `json:"interval_seconds,omitempty"`
	// Language forces the language of the document (ISO 639-1).
	Language string `json:"language,omitempty"`
}

// SessionRequest asks whether a token belongs to a client.
type SessionRequest struct {
	ClientURL         string `json:"client_url"`
	ClientContentType string `json:"client_content_type,omitempty"`
	Token             string `json:"token"`
}

// Watch is an active subscription as reported by ListWatches.
type Watch struct {
	ID              string             `json:"id,omitempty"`
	Document        change.Document    `json:"document"`
	Client          change.Client      `json:"client"`
	Keywords        []string           `json:"keywords"`
	Filter          change.EventFilter `json:"filter"`
	IntervalSeconds int64              `json:"interval_seconds"`
	Dirty           bool               `json:"dirty"`
	Failures        int                `json:"failures"`
	CreatedAt       time.Time          `json:"created_at"`
}

const (
	defaultDocumentType = "text/html"
	defaultClientType   = "application/json"
)

func (k WatchKey) document() change.Document {
	ct := k.DocumentContentType
	if ct == "" {
		ct = defaultDocumentType
	}
	return change.Document{URL: k.DocumentURL, ContentType: ct}
}

func (k WatchKey) client() change.Client {
	ct := k.ClientContentType
	if ct == "" {
		ct = defaultClientType
	}
	return change.Client{URL: k.ClientURL, ContentType: ct}
}
