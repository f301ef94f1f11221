// Package monitor is the argus service: it keeps one orchestrator fed with
// the persisted subscriptions and exposes them over REST and MCP.
//
// Usage:
//
//	svc, err := monitor.New(cfg, monitor.WithLogger(logger))
//	if err != nil { ... }
//	defer svc.Close()
//	if err := svc.Start(ctx); err != nil { ... }
//	http.ListenAndServe(cfg.Listen, svc.Handler())
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hazyhaar/argus/change"
	"github.com/hazyhaar/argus/dbopen"
	"github.com/hazyhaar/argus/detect"
	"github.com/hazyhaar/argus/extract"
	"github.com/hazyhaar/argus/match"
	"github.com/hazyhaar/argus/monitor/internal/fetch"
	"github.com/hazyhaar/argus/monitor/internal/notify"
	"github.com/hazyhaar/argus/monitor/internal/orchestrator"
	"github.com/hazyhaar/argus/monitor/internal/snapshot"
	"github.com/hazyhaar/argus/monitor/internal/store"
	"github.com/hazyhaar/argus/parserpool"
	"github.com/hazyhaar/argus/shield"
	"github.com/hazyhaar/argus/similarity"
	"github.com/hazyhaar/argus/tokenize"
	"github.com/hazyhaar/argus/watch"
)

// Version is reported by /health and the MCP server.
const Version = "1.0.0"

// Schema is every table the service needs.
const Schema = store.Schema + shield.Schema

// Service owns the database, the orchestrator and their surfaces.
type Service struct {
	cfg    Config
	db     *sqlx.DB
	ownDB  bool
	logger *slog.Logger

	subs     *store.Subscriptions
	orch     *orchestrator.Orchestrator
	pool     *tokenize.Pool
	langs    *tokenize.Registry
	fetcher  *fetch.Fetcher
	browser  *fetch.Browser
	stack    []func(http.Handler) http.Handler
	limiter  *shield.RateLimiter
	watcher  *watch.Watcher
	metrics  *prometheus.Registry
	clientOK func(string) error

	// mu serializes subscription writes with reconciliation.
	mu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type options struct {
	db       *sqlx.DB
	logger   *slog.Logger
	registry *orchestrator.Registry
	builder  orchestrator.SnapshotBuilder
	notifier orchestrator.Notifier
	clock    clock.Clock
}

// Option configures a Service.
type Option func(*options)

// WithDB uses an opened database instead of Config.DBPath. Schema must be
// applied. The caller keeps ownership.
func WithDB(db *sqlx.DB) Option { return func(o *options) { o.db = db } }

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithRegistry registers the orchestrator in r under Config.Name.
func WithRegistry(r *orchestrator.Registry) Option { return func(o *options) { o.registry = r } }

// WithBuilder replaces the fetching snapshot builder.
func WithBuilder(b orchestrator.SnapshotBuilder) Option { return func(o *options) { o.builder = b } }

// WithNotifier replaces the webhook notifier.
func WithNotifier(n orchestrator.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithClock sets the clock of job timers and snapshot timestamps.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// New wires a Service. Jobs only run once Start restored them.
func New(cfg Config, opts ...Option) (*Service, error) {
	cfg.defaults()
	o := options{logger: slog.Default(), clock: clock.WallClock}
	for _, fn := range opts {
		fn(&o)
	}
	logger := o.logger

	db, ownDB := o.db, false
	if db == nil {
		var err error
		db, err = dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
		if err != nil {
			return nil, fmt.Errorf("monitor: %w", err)
		}
		ownDB = true
	}

	s := &Service{
		cfg:     cfg,
		db:      db,
		ownDB:   ownDB,
		logger:  logger,
		subs:    store.NewSubscriptions(db),
		langs:   tokenize.DefaultRegistry(),
		fetcher: fetch.New(cfg.Fetch),
		metrics: prometheus.NewRegistry(),
	}
	s.clientOK = fetch.ValidateURL
	if cfg.Fetch.AllowPrivate {
		s.clientOK = func(u string) error { _, err := fetch.CheckScheme(u); return err }
	}
	s.pool = tokenize.NewPool(parserpool.SizeFor(cfg.Workers), s.langs)
	pre := similarity.New(cfg.Similarity.Config)
	sessions := store.NewSessions(db)

	builder := o.builder
	if builder == nil {
		bc := snapshot.Config{
			Fetcher:       s.fetcher,
			Readers:       extract.DefaultRegistry(),
			Languages:     s.langs,
			Prefilter:     pre,
			ShingleLength: cfg.Similarity.ShingleLength,
			Clock:         o.clock,
			Logger:        logger,
		}
		if cfg.Browser.Enabled {
			bcfg := cfg.Browser
			bcfg.Logger = logger
			s.browser = fetch.NewBrowser(bcfg)
			bc.Renderer = s.browser
		}
		b, err := snapshot.New(bc)
		if err != nil {
			s.closeDB()
			return nil, fmt.Errorf("monitor: %w", err)
		}
		builder = b
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = notify.NewWebhook(
			notify.WithTimeout(cfg.Notify.Timeout),
			notify.WithSessions(sessions),
			notify.WithURLValidator(s.clientOK),
			notify.WithLogger(logger),
		)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Name:            cfg.Name,
		Documents:       store.NewSnapshots(db),
		Diffs:           store.NewDiffs(db),
		Sessions:        sessions,
		Builder:         builder,
		Keywords:        tokenize.NewKeywordBuilder(s.pool),
		Notifier:        notifier,
		Detector:        detect.New(pre),
		Matcher:         match.New(s.pool, match.Config{}),
		Workers:         cfg.Workers,
		FaultTolerance:  cfg.FaultTolerance,
		DefaultInterval: cfg.DefaultInterval,
		OnRetire:        s.onRetire,
		Registry:        o.registry,
		Clock:           o.clock,
		Logger:          logger,
	})
	if err != nil {
		s.closeDB()
		return nil, fmt.Errorf("monitor: %w", err)
	}
	s.orch = orch

	s.metrics.MustRegister(
		orch.Metrics(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s.stack, s.limiter = shield.APIStack(db, cfg.MaxBody)
	s.watcher = watch.New(db, watch.Options{
		Interval: cfg.ReloadInterval,
		Detector: subscriptionsVersion,
		Logger:   logger,
	})
	return s, nil
}

// Start restores the persisted subscriptions, then follows edits made to
// the database by other processes until ctx ends or Close is called.
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return errors.New("monitor: already started")
	}
	if err := s.Reconcile(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.watcher.Run(ctx, s.Reconcile)
	}()
	go func() {
		defer s.wg.Done()
		s.limiter.Run(ctx)
	}()
	s.logger.Info("monitor: started", "name", s.cfg.Name, "workers", s.cfg.Workers)
	return nil
}

// Close stops the jobs and background loops and releases resources. Stored
// subscriptions are kept for the next Start.
func (s *Service) Close() error {
	s.runMu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.runMu.Unlock()
	s.wg.Wait()

	err := s.orch.Close()
	s.pool.Clear()
	if s.browser != nil {
		err = errors.Join(err, s.browser.Close())
	}
	return errors.Join(err, s.closeDB())
}

func (s *Service) closeDB() error {
	if !s.ownDB {
		return nil
	}
	return s.db.Close()
}

// Gatherer exposes the service metrics.
func (s *Service) Gatherer() prometheus.Gatherer { return s.metrics }

// CreateWatch validates req, starts its jobs and persists it. The returned
// session carries the token the client will see on every notification.
func (s *Service) CreateWatch(ctx context.Context, req *WatchRequest) (*orchestrator.Session, error) {
	sub, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.orch.CreateJob(ctx, jobRequest(sub))
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalid) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return nil, err
	}
	sub.CreatedAt = sess.CreatedAt
	if err := s.subs.Insert(ctx, sub); err != nil {
		s.orch.CancelJob(context.WithoutCancel(ctx), sub.Document, sub.Client)
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s for %s", ErrConflict, sub.Document, sub.Client)
		}
		return nil, fmt.Errorf("monitor: persist watch: %w", err)
	}
	s.logger.Info("monitor: watch created", "id", sub.ID, "url", sub.Document.URL, "client", sub.Client.URL)
	return sess, nil
}

// CancelWatch stops and forgets the subscription identified by key.
func (s *Service) CancelWatch(ctx context.Context, key *WatchKey) error {
	if key.DocumentURL == "" || key.ClientURL == "" {
		return fmt.Errorf("%w: document_url and client_url are required", ErrInvalidInput)
	}
	doc, client := normalizeKey(*key)

	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled, err := s.orch.CancelJob(ctx, doc, client)
	if err != nil {
		s.logger.Warn("monitor: cancel job", "url", doc.URL, "error", err)
	}
	deleted, derr := s.subs.Delete(ctx, doc, client)
	if derr != nil {
		return fmt.Errorf("monitor: %w", derr)
	}
	if !cancelled && !deleted {
		return fmt.Errorf("%w: %s for %s", ErrNotFound, doc, client)
	}
	s.logger.Info("monitor: watch cancelled", "url", doc.URL, "client", client.URL)
	return nil
}

// ListWatches returns the running subscriptions.
func (s *Service) ListWatches(ctx context.Context) ([]Watch, error) {
	rows, err := s.subs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	ids := make(map[string]string, len(rows))
	for _, r := range rows {
		ids[identity(r.Document, r.Client)] = r.ID
	}
	jobs := s.orch.Jobs()
	out := make([]Watch, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, Watch{
			ID:              ids[identity(j.Document, j.Client)],
			Document:        j.Document,
			Client:          j.Client,
			Keywords:        j.Keywords,
			Filter:          j.Filter,
			IntervalSeconds: int64(j.Interval / time.Second),
			Dirty:           j.Dirty,
			Failures:        j.Failures,
			CreatedAt:       j.CreatedAt,
		})
	}
	return out, nil
}

// ValidateSession reports whether token is the session token of the client.
func (s *Service) ValidateSession(ctx context.Context, req *SessionRequest) (bool, error) {
	if req.ClientURL == "" || req.Token == "" {
		return false, fmt.Errorf("%w: client_url and token are required", ErrInvalidInput)
	}
	_, client := normalizeKey(WatchKey{ClientURL: req.ClientURL, ClientContentType: req.ClientContentType})
	return s.orch.ValidateSession(ctx, client, req.Token)
}

// Reconcile makes the running jobs match the stored subscriptions: rows
// without a job are started, jobs without a row are cancelled.
func (s *Service) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.subs.List(ctx)
	if err != nil {
		return fmt.Errorf("monitor: reconcile: %w", err)
	}
	running := make(map[string]bool)
	for _, j := range s.orch.Jobs() {
		running[identity(j.Document, j.Client)] = true
	}
	stored := make(map[string]bool, len(rows))

	var started, stopped int
	for _, sub := range rows {
		id := identity(sub.Document, sub.Client)
		stored[id] = true
		if running[id] || s.orch.Retiring(sub.Document) {
			continue
		}
		if sub.Interval < s.cfg.MinInterval {
			sub.Interval = s.cfg.MinInterval
		}
		if _, err := s.orch.CreateJob(ctx, jobRequest(sub)); err != nil {
			if errors.Is(err, orchestrator.ErrConflict) {
				continue
			}
			if errors.Is(err, orchestrator.ErrClosed) || ctx.Err() != nil {
				return err
			}
			s.logger.Warn("monitor: restore watch", "id", sub.ID, "url", sub.Document.URL, "error", err)
			continue
		}
		started++
	}
	for _, j := range s.orch.Jobs() {
		if stored[identity(j.Document, j.Client)] {
			continue
		}
		if _, err := s.orch.CancelJob(ctx, j.Document, j.Client); err != nil {
			s.logger.Warn("monitor: drop watch", "url", j.Document.URL, "error", err)
		}
		stopped++
	}
	if started > 0 || stopped > 0 {
		s.logger.Info("monitor: reconciled", "started", started, "stopped", stopped, "stored", len(rows))
	}
	return nil
}

// onRetire drops the rows of a retired document so it is neither restored
// nor recreated by Reconcile. Runs on an orchestrator worker before the
// timeout notifications and must not take s.mu.
func (s *Service) onRetire(doc change.Document, clients []change.Client) {
	if err := s.subs.DeleteDocument(context.Background(), doc); err != nil {
		s.logger.Error("monitor: delete retired watches", "url", doc.URL, "error", err)
	}
	s.logger.Warn("monitor: document retired", "url", doc.URL, "clients", len(clients))
}

func (s *Service) normalize(req *WatchRequest) (*store.Subscription, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidInput)
	}
	doc, client := normalizeKey(req.WatchKey)
	if _, err := fetch.CheckScheme(doc.URL); err != nil {
		return nil, fmt.Errorf("%w: document_url: %w", ErrInvalidInput, err)
	}
	if err := s.clientOK(client.URL); err != nil {
		return nil, fmt.Errorf("%w: client_url: %w", ErrInvalidInput, err)
	}

	var keywords []string
	for _, k := range req.Keywords {
		k = strings.TrimSpace(k)
		if k != "" && !slices.Contains(keywords, k) {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) == 0 {
		return nil, fmt.Errorf("%w: at least one non-empty keyword is required", ErrInvalidInput)
	}

	lang := strings.ToLower(strings.TrimSpace(req.Language))
	if lang != "" {
		if _, ok := s.langs.Lookup(lang); !ok {
			return nil, fmt.Errorf("%w: unsupported language %q (supported: %s)",
				ErrInvalidInput, lang, strings.Join(s.langs.Codes(), ", "))
		}
	}
	if req.SnippetOffset < 0 || req.IntervalSeconds < 0 {
		return nil, fmt.Errorf("%w: snippet_offset and interval_seconds must not be negative", ErrInvalidInput)
	}

	offset := req.SnippetOffset
	if offset == 0 {
		offset = s.cfg.SnippetOffset
	}
	interval := time.Duration(req.IntervalSeconds) * time.Second
	if interval == 0 {
		interval = s.cfg.DefaultInterval
	}
	if interval < s.cfg.MinInterval {
		interval = s.cfg.MinInterval
	}

	return &store.Subscription{
		Document:      doc,
		Client:        client,
		Keywords:      keywords,
		Filter:        change.EventFilter{IgnoreAdded: req.IgnoreAdded, IgnoreRemoved: req.IgnoreRemoved},
		Options:       change.TokenOptions{Stopwords: req.Stopwords, Stemming: req.Stemming, IgnoreCase: req.IgnoreCase},
		SnippetOffset: offset,
		Interval:      interval,
		Language:      lang,
	}, nil
}

// subscriptionsVersion changes with every insert or delete on the
// subscriptions table, whichever connection made it. PRAGMA data_version
// is per connection and cannot be compared across a pool.
func subscriptionsVersion(ctx context.Context, db watch.Querier) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) * 4294967296 + COALESCE(SUM(created_at + rowid), 0) % 4294967296 FROM subscriptions`).Scan(&v)
	return v, err
}

func normalizeKey(k WatchKey) (change.Document, change.Client) {
	k.DocumentURL = strings.TrimSpace(k.DocumentURL)
	k.ClientURL = strings.TrimSpace(k.ClientURL)
	k.DocumentContentType = strings.ToLower(strings.TrimSpace(k.DocumentContentType))
	k.ClientContentType = strings.ToLower(strings.TrimSpace(k.ClientContentType))
	return k.document(), k.client()
}

func jobRequest(sub *store.Subscription) orchestrator.Request {
	return orchestrator.Request{
		Document:      sub.Document,
		Client:        sub.Client,
		Keywords:      sub.Keywords,
		Filter:        sub.Filter,
		Options:       sub.Options,
		SnippetOffset: sub.SnippetOffset,
		Interval:      sub.Interval,
		Language:      sub.Language,
	}
}

func identity(doc change.Document, client change.Client) string {
	return doc.String() + "\x00" + client.String()
}
