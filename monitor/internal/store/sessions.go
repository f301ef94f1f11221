package store

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hazyhaar/argus/change"
	"github.com/hazyhaar/argus/dbopen"
	"github.com/hazyhaar/argus/idgen"
)

// Sessions issues one stable token per client.
type Sessions struct {
	DB       *sqlx.DB
	newToken idgen.Generator
}

// NewSessions wraps an opened database that has Schema applied.
func NewSessions(db *sqlx.DB) *Sessions {
	return &Sessions{DB: db, newToken: idgen.Token(20)}
}

// CreateOrGet returns the client's token, issuing one on first use.
// Concurrent first uses agree on a single token.
func (s *Sessions) CreateOrGet(ctx context.Context, client change.Client) (string, error) {
	if _, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO sessions (client_url, client_content_type, token, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (client_url, client_content_type) DO NOTHING`,
		client.URL, client.ContentType, s.newToken(), time.Now().UnixMilli()); err != nil {
		return "", fmt.Errorf("store: insert session: %w", err)
	}
	var token string
	if err := s.DB.GetContext(ctx, &token,
		`SELECT token FROM sessions WHERE client_url = ? AND client_content_type = ?`,
		client.URL, client.ContentType); err != nil {
		return "", fmt.Errorf("store: select session: %w", err)
	}
	return token, nil
}

// Validate reports whether token is the client's current token.
func (s *Sessions) Validate(ctx context.Context, client change.Client, token string) (bool, error) {
	var stored string
	err := s.DB.GetContext(ctx, &stored,
		`SELECT token FROM sessions WHERE client_url = ? AND client_content_type = ?`,
		client.URL, client.ContentType)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: select session: %w", err)
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(token)) == 1, nil
}
