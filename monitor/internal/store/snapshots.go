// Package store persists snapshots, diff sets, client sessions and
// subscriptions in SQLite.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hazyhaar/argus/change"
	"github.com/hazyhaar/argus/dbopen"
	"github.com/hazyhaar/argus/idgen"
)

// Generations is the number of snapshots kept per document.
const Generations = 2

// Snapshots is the document store.
type Snapshots struct {
	DB    *sqlx.DB
	newID idgen.Generator
}

// NewSnapshots wraps an opened database that has Schema applied.
func NewSnapshots(db *sqlx.DB) *Snapshots {
	return &Snapshots{DB: db, newID: idgen.Prefixed("snap_", idgen.UUIDv7())}
}

type snapshotRow struct {
	ID            string `db:"id"`
	URL           string `db:"url"`
	ContentType   string `db:"content_type"`
	CapturedAt    int64  `db:"captured_at"`
	Language      string `db:"language"`
	Original      string `db:"original"`
	Text          string `db:"text"`
	ShingleLength int    `db:"shingle_length"`
	ShinglesJSON  string `db:"shingles_json"`
	Signature     []byte `db:"signature"`
	Hash          string `db:"hash"`
	ETag          string `db:"etag"`
	LastModified  string `db:"last_modified"`
}

// Add stores s and evicts everything but the newest Generations snapshots
// of its document. s.ID is assigned when empty.
func (st *Snapshots) Add(ctx context.Context, s *change.Snapshot) error {
	if s.ID == "" {
		s.ID = st.newID()
	}
	shingles, err := json.Marshal(s.Shingles)
	if err != nil {
		return fmt.Errorf("store: encode shingles: %w", err)
	}
	row := snapshotRow{
		ID:            s.ID,
		URL:           s.URL,
		ContentType:   s.ContentType,
		CapturedAt:    s.CapturedAt.UnixMilli(),
		Language:      s.Language,
		Original:      s.Original,
		Text:          s.Text,
		ShingleLength: s.ShingleLength,
		ShinglesJSON:  string(shingles),
		Signature:     encodeSignature(s.Signature),
		Hash:          s.Hash,
		ETag:          s.ETag,
		LastModified:  s.LastModified,
	}

	return dbopen.RunTx(ctx, st.DB, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO snapshots (id, url, content_type, captured_at, language, original,
			text, shingle_length, shingles_json, signature, hash, etag, last_modified)
			VALUES (:id, :url, :content_type, :captured_at, :language, :original,
			:text, :shingle_length, :shingles_json, :signature, :hash, :etag, :last_modified)`, row); err != nil {
			return fmt.Errorf("store: insert snapshot: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM snapshots WHERE url = ? AND content_type = ? AND id NOT IN (
				SELECT id FROM snapshots WHERE url = ? AND content_type = ?
				ORDER BY captured_at DESC, rowid DESC LIMIT ?)`,
			s.URL, s.ContentType, s.URL, s.ContentType, Generations); err != nil {
			return fmt.Errorf("store: evict snapshots: %w", err)
		}
		return nil
	})
}

// Pair returns the oldest and latest snapshots of doc. With a single
// stored snapshot both results are that snapshot; with none both are nil.
func (st *Snapshots) Pair(ctx context.Context, doc change.Document) (oldest, latest *change.Snapshot, err error) {
	var rows []snapshotRow
	if err := st.DB.SelectContext(ctx, &rows,
		`SELECT id, url, content_type, captured_at, language, original, text,
		shingle_length, shingles_json, signature, hash, etag, last_modified
		FROM snapshots WHERE url = ? AND content_type = ?
		ORDER BY captured_at DESC, rowid DESC LIMIT ?`,
		doc.URL, doc.ContentType, Generations); err != nil {
		return nil, nil, fmt.Errorf("store: select snapshots: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	snaps := make([]*change.Snapshot, len(rows))
	for i := range rows {
		if snaps[i], err = rows[i].snapshot(); err != nil {
			return nil, nil, err
		}
	}
	return snaps[len(snaps)-1], snaps[0], nil
}

// Latest returns the newest snapshot of doc, or nil.
func (st *Snapshots) Latest(ctx context.Context, doc change.Document) (*change.Snapshot, error) {
	_, latest, err := st.Pair(ctx, doc)
	return latest, err
}

// Remove deletes every snapshot of doc.
func (st *Snapshots) Remove(ctx context.Context, doc change.Document) error {
	_, err := dbopen.Exec(ctx, st.DB,
		`DELETE FROM snapshots WHERE url = ? AND content_type = ?`, doc.URL, doc.ContentType)
	if err != nil {
		return fmt.Errorf("store: remove snapshots: %w", err)
	}
	return nil
}

func (r *snapshotRow) snapshot() (*change.Snapshot, error) {
	var shingles []string
	if err := json.Unmarshal([]byte(r.ShinglesJSON), &shingles); err != nil {
		return nil, fmt.Errorf("store: decode shingles of %s: %w", r.ID, err)
	}
	return &change.Snapshot{
		ID:            r.ID,
		URL:           r.URL,
		ContentType:   r.ContentType,
		CapturedAt:    time.UnixMilli(r.CapturedAt),
		Language:      r.Language,
		Original:      r.Original,
		Text:          r.Text,
		Shingles:      shingles,
		ShingleLength: r.ShingleLength,
		Signature:     decodeSignature(r.Signature),
		Hash:          r.Hash,
		ETag:          r.ETag,
		LastModified:  r.LastModified,
	}, nil
}

func encodeSignature(sig []uint64) []byte {
	b := make([]byte, 8*len(sig))
	for i, v := range sig {
		binary.LittleEndian.PutUint64(b[8*i:], v)
	}
	return b
}

func decodeSignature(b []byte) []uint64 {
	sig := make([]uint64, len(b)/8)
	for i := range sig {
		sig[i] = binary.LittleEndian.Uint64(b[8*i:])
	}
	return sig
}
