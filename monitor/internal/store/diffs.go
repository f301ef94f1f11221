package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hazyhaar/argus/change"
	"github.com/hazyhaar/argus/dbopen"
)

// Diffs holds the live diff set of each document.
type Diffs struct {
	DB *sqlx.DB
}

// NewDiffs wraps an opened database that has Schema applied.
func NewDiffs(db *sqlx.DB) *Diffs {
	return &Diffs{DB: db}
}

type diffRow struct {
	Seq   int    `db:"seq"`
	Event string `db:"event"`
	Text  string `db:"text"`
	Start int    `db:"start_index"`
	End   int    `db:"end_index"`
}

// Put replaces the diff set of doc in one transaction.
func (d *Diffs) Put(ctx context.Context, doc change.Document, events []change.Event) error {
	return dbopen.RunTx(ctx, d.DB, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM diffs WHERE url = ? AND content_type = ?`, doc.URL, doc.ContentType); err != nil {
			return fmt.Errorf("store: clear diffs: %w", err)
		}
		for i, ev := range events {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO diffs (url, content_type, seq, event, text, start_index, end_index)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				doc.URL, doc.ContentType, i, string(ev.Kind), ev.Text, ev.Start, ev.End); err != nil {
				return fmt.Errorf("store: insert diff: %w", err)
			}
		}
		return nil
	})
}

// Get returns the diff set of doc in detection order.
func (d *Diffs) Get(ctx context.Context, doc change.Document) ([]change.Event, error) {
	var rows []diffRow
	if err := d.DB.SelectContext(ctx, &rows,
		`SELECT seq, event, text, start_index, end_index FROM diffs
		WHERE url = ? AND content_type = ? ORDER BY seq`, doc.URL, doc.ContentType); err != nil {
		return nil, fmt.Errorf("store: select diffs: %w", err)
	}
	events := make([]change.Event, 0, len(rows))
	for _, r := range rows {
		kind, err := change.ParseEventKind(r.Event)
		if err != nil {
			return nil, fmt.Errorf("store: diff %d: %w", r.Seq, err)
		}
		events = append(events, change.Event{Kind: kind, Text: r.Text, Start: r.Start, End: r.End})
	}
	return events, nil
}

// Clear drops the diff set of doc.
func (d *Diffs) Clear(ctx context.Context, doc change.Document) error {
	if _, err := dbopen.Exec(ctx, d.DB,
		`DELETE FROM diffs WHERE url = ? AND content_type = ?`, doc.URL, doc.ContentType); err != nil {
		return fmt.Errorf("store: clear diffs: %w", err)
	}
	return nil
}
