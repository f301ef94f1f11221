package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hazyhaar/argus/change"
	"github.com/hazyhaar/argus/dbopen"
	"github.com/hazyhaar/argus/idgen"
)

// ErrDuplicate is returned when a subscription for the same document and
// client already exists.
var ErrDuplicate = errors.New("store: duplicate subscription")

// Subscription is the persisted form of a watch request.
type Subscription struct {
	ID            string
	Document      change.Document
	Client        change.Client
	Keywords      []string
	Filter        change.EventFilter
	Options       change.TokenOptions
	SnippetOffset int
	Interval      time.Duration
	// Language overrides detection of the document language when set.
	Language  string
	CreatedAt time.Time
}

type subscriptionRow struct {
	ID                string `db:"id"`
	DocURL            string `db:"doc_url"`
	DocContentType    string `db:"doc_content_type"`
	ClientURL         string `db:"client_url"`
	ClientContentType string `db:"client_content_type"`
	KeywordsJSON      string `db:"keywords_json"`
	IgnoreAdded       bool   `db:"ignore_added"`
	IgnoreRemoved     bool   `db:"ignore_removed"`
	Stopwords         bool   `db:"stopwords"`
	Stemming          bool   `db:"stemming"`
	IgnoreCase        bool   `db:"ignore_case"`
	SnippetOffset     int    `db:"snippet_offset"`
	Language          string `db:"language"`
	IntervalMS        int64  `db:"interval_ms"`
	CreatedAt         int64  `db:"created_at"`
}

// Subscriptions persists watch requests so they survive restarts.
type Subscriptions struct {
	DB    *sqlx.DB
	newID idgen.Generator
}

// NewSubscriptions wraps an opened database that has Schema applied.
func NewSubscriptions(db *sqlx.DB) *Subscriptions {
	return &Subscriptions{DB: db, newID: idgen.Prefixed("sub_", idgen.UUIDv7())}
}

// Insert stores sub, assigning ID and CreatedAt when empty.
func (s *Subscriptions) Insert(ctx context.Context, sub *Subscription) error {
	if sub.ID == "" {
		sub.ID = s.newID()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	kw, err := json.Marshal(sub.Keywords)
	if err != nil {
		return fmt.Errorf("store: encode keywords: %w", err)
	}
	row := subscriptionRow{
		ID:                sub.ID,
		DocURL:            sub.Document.URL,
		DocContentType:    sub.Document.ContentType,
		ClientURL:         sub.Client.URL,
		ClientContentType: sub.Client.ContentType,
		KeywordsJSON:      string(kw),
		IgnoreAdded:       sub.Filter.IgnoreAdded,
		IgnoreRemoved:     sub.Filter.IgnoreRemoved,
		Stopwords:         sub.Options.Stopwords,
		Stemming:          sub.Options.Stemming,
		IgnoreCase:        sub.Options.IgnoreCase,
		SnippetOffset:     sub.SnippetOffset,
		Language:          sub.Language,
		IntervalMS:        sub.Interval.Milliseconds(),
		CreatedAt:         sub.CreatedAt.UnixMilli(),
	}
	_, err = s.DB.NamedExecContext(ctx,
		`INSERT INTO subscriptions (id, doc_url, doc_content_type, client_url, client_content_type,
		keywords_json, ignore_added, ignore_removed, stopwords, stemming, ignore_case,
		snippet_offset, language, interval_ms, created_at)
		VALUES (:id, :doc_url, :doc_content_type, :client_url, :client_content_type,
		:keywords_json, :ignore_added, :ignore_removed, :stopwords, :stemming, :ignore_case,
		:snippet_offset, :language, :interval_ms, :created_at)`, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
		return fmt.Errorf("store: insert subscription: %w", err)
	}
	return nil
}

// Delete removes the subscription of client on doc. It reports whether a
// row existed.
func (s *Subscriptions) Delete(ctx context.Context, doc change.Document, client change.Client) (bool, error) {
	res, err := dbopen.Exec(ctx, s.DB,
		`DELETE FROM subscriptions WHERE doc_url = ? AND doc_content_type = ?
		AND client_url = ? AND client_content_type = ?`,
		doc.URL, doc.ContentType, client.URL, client.ContentType)
	if err != nil {
		return false, fmt.Errorf("store: delete subscription: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteDocument removes every subscription on doc.
func (s *Subscriptions) DeleteDocument(ctx context.Context, doc change.Document) error {
	if _, err := dbopen.Exec(ctx, s.DB,
		`DELETE FROM subscriptions WHERE doc_url = ? AND doc_content_type = ?`,
		doc.URL, doc.ContentType); err != nil {
		return fmt.Errorf("store: delete subscriptions: %w", err)
	}
	return nil
}

// Get returns the subscription of client on doc, or nil.
func (s *Subscriptions) Get(ctx context.Context, doc change.Document, client change.Client) (*Subscription, error) {
	var row subscriptionRow
	err := s.DB.GetContext(ctx, &row,
		`SELECT * FROM subscriptions WHERE doc_url = ? AND doc_content_type = ?
		AND client_url = ? AND client_content_type = ?`,
		doc.URL, doc.ContentType, client.URL, client.ContentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get subscription: %w", err)
	}
	return row.subscription()
}

// List returns every subscription, oldest first.
func (s *Subscriptions) List(ctx context.Context) ([]*Subscription, error) {
	var rows []subscriptionRow
	if err := s.DB.SelectContext(ctx, &rows,
		`SELECT * FROM subscriptions ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("store: list subscriptions: %w", err)
	}
	out := make([]*Subscription, 0, len(rows))
	for i := range rows {
		sub, err := rows[i].subscription()
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func (r *subscriptionRow) subscription() (*Subscription, error) {
	var kw []string
	if err := json.Unmarshal([]byte(r.KeywordsJSON), &kw); err != nil {
		return nil, fmt.Errorf("store: decode keywords of %s: %w", r.ID, err)
	}
	return &Subscription{
		ID:            r.ID,
		Document:      change.Document{URL: r.DocURL, ContentType: r.DocContentType},
		Client:        change.Client{URL: r.ClientURL, ContentType: r.ClientContentType},
		Keywords:      kw,
		Filter:        change.EventFilter{IgnoreAdded: r.IgnoreAdded, IgnoreRemoved: r.IgnoreRemoved},
		Options:       change.TokenOptions{Stopwords: r.Stopwords, Stemming: r.Stemming, IgnoreCase: r.IgnoreCase},
		SnippetOffset: r.SnippetOffset,
		Language:      r.Language,
		Interval:      time.Duration(r.IntervalMS) * time.Millisecond,
		CreatedAt:     time.UnixMilli(r.CreatedAt),
	}, nil
}
