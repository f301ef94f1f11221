// Package orchestrator schedules the recurring work of the monitor: one
// detection job per watched document and one matching job per
// subscription. Detection jobs fetch, diff and store; matching jobs turn
// fresh diffs into keyword matches and notify the subscriber.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/hazyhaar/argus/change"
	"github.com/hazyhaar/argus/detect"
	"github.com/hazyhaar/argus/match"
)

// ErrInvalid rejects a malformed job request.
var ErrInvalid = errors.New("orchestrator: invalid request")

// Detector compares two snapshots of a document.
type Detector interface {
	Detect(old, cur *change.Snapshot) detect.Result
}

// Matcher evaluates keywords against diff events.
type Matcher interface {
	Match(ctx context.Context, req match.Request) ([]change.Match, error)
}

// Config wires an Orchestrator. Every port is required.
type Config struct {
	Name string

	Documents DocumentStore
	Diffs     DiffStore
	Sessions  SessionStore
	Builder   SnapshotBuilder
	Keywords  KeywordBuilder
	Notifier  Notifier
	Detector  Detector
	Matcher   Matcher

	// Workers is the number of jobs that run at once. Default 4.
	Workers int
	// FaultTolerance is the number of consecutive failed detections after
	// which a document is retired. Default 5.
	FaultTolerance  int
	DefaultInterval time.Duration

	// OnRetire is called when a document is retired, before its
	// subscribers get their timeout notification and before its storage is
	// deleted. It must not call back into the orchestrator.
	OnRetire func(doc change.Document, clients []change.Client)

	// Registry, when set, receives the orchestrator under Name, closing
	// any instance it replaces.
	Registry *Registry
	Metrics  *Metrics
	Clock    clock.Clock
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.FaultTolerance <= 0 {
		c.FaultTolerance = 5
	}
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = 15 * time.Minute
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(c.Name)
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c *Config) validate() error {
	var missing []string
	for name, set := range map[string]bool{
		"Documents": c.Documents != nil,
		"Diffs":     c.Diffs != nil,
		"Sessions":  c.Sessions != nil,
		"Builder":   c.Builder != nil,
		"Keywords":  c.Keywords != nil,
		"Notifier":  c.Notifier != nil,
		"Detector":  c.Detector != nil,
		"Matcher":   c.Matcher != nil,
	} {
		if !set {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("orchestrator: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Request describes one subscription.
type Request struct {
	Document      change.Document
	Client        change.Client
	Keywords      []string
	Filter        change.EventFilter
	Options       change.TokenOptions
	SnippetOffset int
	Interval      time.Duration
	// Language overrides language detection of the document when set.
	Language string
}

// Session is returned to a new subscriber.
type Session struct {
	Token     string          `json:"token"`
	Document  change.Document `json:"document"`
	Client    change.Client   `json:"client"`
	CreatedAt time.Time       `json:"created_at"`
}

// JobInfo describes one active matching job.
type JobInfo struct {
	Document  change.Document    `json:"document"`
	Client    change.Client      `json:"client"`
	Keywords  []string           `json:"keywords"`
	Filter    change.EventFilter `json:"filter"`
	Interval  time.Duration      `json:"interval"`
	Dirty     bool               `json:"dirty"`
	Failures  int                `json:"failures"`
	CreatedAt time.Time          `json:"created_at"`
}

// Orchestrator runs detection and matching jobs on a fixed pool of
// workers.
type Orchestrator struct {
	cfg     Config
	metrics *Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan *task
	wg     sync.WaitGroup

	mu     sync.Mutex
	docs   map[change.Document]*docState
	closed bool
}

// New validates cfg and starts the workers.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:     cfg,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("orchestrator", cfg.Name),
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(chan *task),
		docs:    make(map[change.Document]*docState),
	}
	for range cfg.Workers {
		o.wg.Add(1)
		go o.work()
	}
	if cfg.Registry != nil {
		cfg.Registry.Put(cfg.Name, o)
	}
	return o, nil
}

// Name returns the orchestrator's registry name.
func (o *Orchestrator) Name() string { return o.cfg.Name }

// Metrics returns the orchestrator's collector.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// CreateJob subscribes req.Client to req.Document. The document's
// detection job is started if needed and shared otherwise. A second
// subscription for the same pair fails with ErrConflict.
func (o *Orchestrator) CreateJob(ctx context.Context, req Request) (*Session, error) {
	if req.Document.URL == "" || req.Client.URL == "" {
		return nil, fmt.Errorf("%w: document and client URLs are required", ErrInvalid)
	}
	if len(req.Keywords) == 0 {
		return nil, fmt.Errorf("%w: at least one keyword is required", ErrInvalid)
	}
	if req.Interval <= 0 {
		req.Interval = o.cfg.DefaultInterval
	}
	req.Keywords = slices.Clone(req.Keywords)

	token, err := o.cfg.Sessions.CreateOrGet(ctx, req.Client)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: session: %w", err)
	}

	o.mu.Lock()
	for {
		if o.closed {
			o.mu.Unlock()
			return nil, ErrClosed
		}
		d := o.docs[req.Document]
		if d == nil || !d.retiring {
			break
		}
		// Wait for the previous incarnation's storage to be torn down.
		done := d.done
		o.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		o.mu.Lock()
	}
	defer o.mu.Unlock()

	d := o.docs[req.Document]
	if d != nil {
		if _, dup := d.subs[req.Client]; dup {
			return nil, fmt.Errorf("%w: %s for %s", ErrConflict, req.Document, req.Client)
		}
	} else {
		d = o.newDoc(req)
		o.docs[req.Document] = d
		o.metrics.documents.Inc()
		o.arm(d.task, 0)
	}

	now := o.cfg.Clock.Now().UTC()
	m := o.newMatch(d, req, now)
	d.subs[req.Client] = m
	d.interval = d.minInterval()
	o.arm(m.task, req.Interval)
	o.metrics.subscriptions.Inc()

	o.logger.Info("orchestrator: job created",
		"url", req.Document.URL, "client", req.Client.URL, "keywords", len(req.Keywords), "interval", req.Interval)
	return &Session{Token: token, Document: req.Document, Client: req.Client, CreatedAt: now}, nil
}

// CancelJob removes the subscription of client to doc and reports whether
// it existed. Removing the last subscription of a document stops its
// detection job and deletes its stored snapshots and diffs.
func (o *Orchestrator) CancelJob(ctx context.Context, doc change.Document, client change.Client) (bool, error) {
	o.mu.Lock()
	d := o.docs[doc]
	if d == nil || d.retiring {
		o.mu.Unlock()
		return false, nil
	}
	m, ok := d.subs[client]
	if !ok {
		o.mu.Unlock()
		return false, nil
	}
	o.removeMatch(d, m)
	last := len(d.subs) == 0
	if last {
		o.beginTeardown(d)
	} else {
		d.interval = d.minInterval()
	}
	o.mu.Unlock()

	o.logger.Info("orchestrator: job cancelled", "url", doc.URL, "client", client.URL, "last", last)
	if last {
		if err := o.finishTeardown(context.WithoutCancel(ctx), d); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Jobs lists the active matching jobs ordered by document and client.
func (o *Orchestrator) Jobs() []JobInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []JobInfo
	for _, d := range o.docs {
		if d.retiring {
			continue
		}
		for _, m := range d.subs {
			out = append(out, JobInfo{
				Document:  d.doc,
				Client:    m.req.Client,
				Keywords:  slices.Clone(m.req.Keywords),
				Filter:    m.req.Filter,
				Interval:  m.req.Interval,
				Dirty:     m.dirty.Load(),
				Failures:  d.failures,
				CreatedAt: m.created,
			})
		}
	}
	slices.SortFunc(out, func(a, b JobInfo) int {
		if c := strings.Compare(a.Document.String(), b.Document.String()); c != 0 {
			return c
		}
		return strings.Compare(a.Client.String(), b.Client.String())
	})
	return out
}

// Retiring reports whether doc is being retired. Its subscriptions are no
// longer listed by Jobs and CreateJob waits until the teardown finished.
func (o *Orchestrator) Retiring(doc change.Document) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	d := o.docs[doc]
	return d != nil && d.retiring
}

// ValidateSession checks a client's session token.
func (o *Orchestrator) ValidateSession(ctx context.Context, client change.Client, token string) (bool, error) {
	return o.cfg.Sessions.Validate(ctx, client, token)
}

// Close stops every job and waits for running ones to return. Stored
// snapshots and diffs are kept.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	for _, d := range o.docs {
		d.task.stop()
		for _, m := range d.subs {
			m.task.stop()
		}
	}
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	if o.cfg.Registry != nil {
		o.cfg.Registry.forget(o.cfg.Name, o)
	}
	o.logger.Info("orchestrator: closed")
	return nil
}

// beginTeardown detaches d from scheduling and cancels its running jobs.
// Caller holds o.mu.
func (o *Orchestrator) beginTeardown(d *docState) []*matchState {
	d.retiring = true
	d.task.stop()
	subs := make([]*matchState, 0, len(d.subs))
	for _, m := range d.subs {
		subs = append(subs, m)
	}
	for _, m := range subs {
		o.removeMatch(d, m)
	}
	d.cancel()
	o.metrics.documents.Dec()
	return subs
}

// finishTeardown deletes d's stored state and forgets it.
func (o *Orchestrator) finishTeardown(ctx context.Context, d *docState) error {
	d.commit.Lock()
	errDiffs := o.cfg.Diffs.Clear(ctx, d.doc)
	errDocs := o.cfg.Documents.Remove(ctx, d.doc)
	d.commit.Unlock()

	o.mu.Lock()
	if o.docs[d.doc] == d {
		delete(o.docs, d.doc)
	}
	close(d.done)
	o.mu.Unlock()

	if err := errors.Join(errDiffs, errDocs); err != nil {
		o.logger.Error("orchestrator: teardown storage", "url", d.doc.URL, "error", err)
		return fmt.Errorf("orchestrator: teardown %s: %w", d.doc.URL, err)
	}
	return nil
}

// removeMatch unschedules m. Caller holds o.mu.
func (o *Orchestrator) removeMatch(d *docState, m *matchState) {
	delete(d.subs, m.req.Client)
	m.task.stop()
	m.cancel()
	o.metrics.subscriptions.Dec()
}
