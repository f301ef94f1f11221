// Package watch polls a SQLite database for a version token and runs an
// action when it moves. The monitor uses it to pick up subscriptions
// edited by another process.
//
//	w := watch.New(db, watch.Options{Interval: time.Second, Debounce: 200 * time.Millisecond})
//	go w.Run(ctx, svc.Reconcile)
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Querier is the part of *sql.DB and *sqlx.DB a detector needs.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Detector reads a version token. Two different values mean something
// changed in between.
type Detector func(ctx context.Context, db Querier) (int64, error)

// Options tunes a Watcher.
type Options struct {
	// Interval is the polling period. Default: 1s.
	Interval time.Duration
	// Debounce delays the action until no new version was seen for this
	// long. Zero fires on the first poll that sees a change.
	Debounce time.Duration
	// Detector defaults to PragmaDataVersion.
	Detector Detector
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = PragmaDataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats are point-in-time counters.
type Stats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
	Reloads int64 `json:"reloads"`
}

// Watcher runs an action on version changes. Run is meant to be called
// once; the accessors are safe for concurrent use.
type Watcher struct {
	db   Querier
	opts Options

	version atomic.Int64
	mu      sync.Mutex
	bumped  chan struct{} // closed and replaced on every applied version

	checks, changes, errors, reloads atomic.Int64
}

// New creates a Watcher over db.
func New(db Querier, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts, bumped: make(chan struct{})}
}

// Stats returns the counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:  w.checks.Load(),
		Changes: w.changes.Load(),
		Errors:  w.errors.Load(),
		Reloads: w.reloads.Load(),
	}
}

// Version returns the last version the action succeeded for.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Run polls until ctx is done. A failing action leaves the version
// unchanged, so the next poll retries it.
func (w *Watcher) Run(ctx context.Context, action func(context.Context) error) {
	log := w.opts.Logger
	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("watch: initial version", "error", err)
	} else {
		w.apply(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	var debounce *time.Timer
	var fire <-chan time.Time
	pending := int64(-1)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	log.Debug("watch: started", "interval", w.opts.Interval, "debounce", w.opts.Debounce)
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				if ctx.Err() == nil {
					w.errors.Add(1)
					log.Warn("watch: version check", "error", err)
				}
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			w.changes.Add(1)
			pending = cur
			if w.opts.Debounce <= 0 {
				if w.fire(ctx, action, pending) {
					pending = -1
				}
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			fire = debounce.C

		case <-fire:
			fire = nil
			if pending >= 0 && w.fire(ctx, action, pending) {
				pending = -1
			}
		}
	}
}

// WaitForVersion blocks until an action succeeded for a version >= target
// or ctx is done.
func (w *Watcher) WaitForVersion(ctx context.Context, target int64) error {
	for {
		w.mu.Lock()
		ch := w.bumped
		w.mu.Unlock()
		if w.version.Load() >= target {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) fire(ctx context.Context, action func(context.Context) error, v int64) bool {
	start := time.Now()
	if err := action(ctx); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("watch: reload failed", "version", v, "error", err)
		return false
	}
	w.reloads.Add(1)
	w.apply(v)
	w.opts.Logger.Info("watch: reloaded", "version", v, "duration", time.Since(start))
	return true
}

func (w *Watcher) apply(v int64) {
	w.version.Store(v)
	w.mu.Lock()
	close(w.bumped)
	w.bumped = make(chan struct{})
	w.mu.Unlock()
}

// PragmaDataVersion reads PRAGMA data_version, which moves when another
// connection commits to the database file.
func PragmaDataVersion(ctx context.Context, db Querier) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// PragmaUserVersion reads PRAGMA user_version, bumped explicitly by
// writers.
func PragmaUserVersion(ctx context.Context, db Querier) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// TableDetector tracks inserts and deletes on table through its row count
// and highest rowid.
func TableDetector(table string) Detector {
	query := "SELECT COUNT(*) * 4294967296 + COALESCE(MAX(rowid), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db Querier) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
