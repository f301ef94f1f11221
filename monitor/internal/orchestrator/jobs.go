package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/argus/change"
	"github.com/hazyhaar/argus/match"
)

// errStore marks storage failures. They are logged but do not count
// toward retirement.
var errStore = errors.New("orchestrator: storage")

type taskState int

const (
	taskIdle taskState = iota
	taskArmed
	taskQueued
	taskRunning
)

// task is one recurring job. All fields are guarded by Orchestrator.mu.
// A task is armed, queued or running at most once, so it never overlaps
// itself.
type task struct {
	run   func()
	every func() time.Duration

	timer   interface{ Stop() bool }
	gen     uint64
	state   taskState
	kick    bool
	removed bool
}

func (t *task) stop() {
	t.removed = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

type docState struct {
	doc      change.Document
	langHint string

	// commit orders detection writes against matching reads.
	commit sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	task   *task

	// unpublished is set while the latest stored snapshot has no stored
	// diff set. Only the detection task touches it.
	unpublished bool

	// Guarded by Orchestrator.mu.
	interval time.Duration
	failures int
	subs     map[change.Client]*matchState
	retiring bool
	done     chan struct{}
}

func (d *docState) minInterval() time.Duration {
	var shortest time.Duration
	for _, m := range d.subs {
		if shortest == 0 || m.req.Interval < shortest {
			shortest = m.req.Interval
		}
	}
	return shortest
}

type matchState struct {
	doc     *docState
	req     Request
	created time.Time
	dirty   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	task   *task
}

func (o *Orchestrator) newDoc(req Request) *docState {
	ctx, cancel := context.WithCancel(o.ctx)
	d := &docState{
		doc:      req.Document,
		langHint: req.Language,
		ctx:      ctx,
		cancel:   cancel,
		interval: req.Interval,
		subs:     make(map[change.Client]*matchState),
		done:     make(chan struct{}),
	}
	d.task = &task{
		run:   func() { o.detectCycle(d) },
		every: func() time.Duration { return d.interval },
	}
	return d
}

func (o *Orchestrator) newMatch(d *docState, req Request, now time.Time) *matchState {
	ctx, cancel := context.WithCancel(d.ctx)
	m := &matchState{doc: d, req: req, created: now, ctx: ctx, cancel: cancel}
	m.task = &task{
		run:   func() { o.matchCycle(m) },
		every: func() time.Duration { return m.req.Interval },
	}
	return m
}

// arm schedules t to be queued after delay. Caller holds o.mu.
func (o *Orchestrator) arm(t *task, delay time.Duration) {
	if t.removed || o.closed {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.state = taskArmed
	t.timer = o.cfg.Clock.AfterFunc(delay, func() { o.fire(t, gen) })
}

// kick makes t run as soon as possible. Caller holds o.mu.
func (o *Orchestrator) kick(t *task) {
	switch t.state {
	case taskArmed:
		o.arm(t, 0)
	case taskRunning:
		t.kick = true
	}
}

func (o *Orchestrator) fire(t *task, gen uint64) {
	o.mu.Lock()
	if o.closed || t.removed || t.gen != gen || t.state != taskArmed {
		o.mu.Unlock()
		return
	}
	t.state = taskQueued
	o.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()

	select {
	case o.tasks <- t:
	case <-o.ctx.Done():
	}
}

func (o *Orchestrator) work() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case t := <-o.tasks:
			o.execute(t)
		}
	}
}

func (o *Orchestrator) execute(t *task) {
	o.mu.Lock()
	if t.removed {
		o.mu.Unlock()
		return
	}
	t.state = taskRunning
	o.mu.Unlock()

	t.run()

	o.mu.Lock()
	defer o.mu.Unlock()
	t.state = taskIdle
	next := t.every()
	if t.kick {
		t.kick = false
		next = 0
	}
	o.arm(t, next)
}

// protect runs fn, turning a panic into an error.
func (o *Orchestrator) protect(job, url string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.metrics.panics.Inc()
			o.logger.Error("orchestrator: job panicked",
				"job", job, "url", url, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("orchestrator: %s panicked: %v", job, r)
		}
	}()
	return fn()
}

func (o *Orchestrator) detectCycle(d *docState) {
	err := o.protect("detection", d.doc.URL, func() error { return o.detectOnce(d.ctx, d) })
	if err == nil {
		o.mu.Lock()
		d.failures = 0
		o.mu.Unlock()
		return
	}
	if d.ctx.Err() != nil {
		return
	}
	if errors.Is(err, errStore) {
		o.logger.Error("orchestrator: detection storage", "url", d.doc.URL, "error", err)
		return
	}

	o.metrics.detections.WithLabelValues("failed").Inc()
	o.mu.Lock()
	if d.retiring {
		o.mu.Unlock()
		return
	}
	d.failures++
	failures := d.failures
	var subs []*matchState
	if failures >= o.cfg.FaultTolerance {
		subs = o.beginTeardown(d)
	}
	o.mu.Unlock()

	o.logger.Warn("orchestrator: detection failed", "url", d.doc.URL, "failures", failures, "error", err)
	if failures >= o.cfg.FaultTolerance {
		o.retire(d, subs)
	}
}

// detectOnce builds a fresh snapshot against the latest stored one and,
// when they differ, publishes the snapshot, the new diff set and the dirty
// flags under the commit lock. Only this job writes the snapshots of d, so
// latest stays current while the build runs.
func (o *Orchestrator) detectOnce(ctx context.Context, d *docState) error {
	oldest, latest, err := o.cfg.Documents.Pair(ctx, d.doc)
	if err != nil {
		return fmt.Errorf("%w: pair: %w", errStore, err)
	}
	if d.unpublished && latest != nil {
		res := o.cfg.Detector.Detect(oldest, latest)
		d.commit.Lock()
		err := o.publish(ctx, d, res.Events)
		d.commit.Unlock()
		if err != nil {
			return err
		}
	}

	snap, err := o.cfg.Builder.Build(ctx, d.doc, latest, d.langHint)
	if errors.Is(err, ErrUnchanged) {
		o.metrics.detections.WithLabelValues("unchanged").Inc()
		return nil
	}
	if err != nil {
		return err
	}

	d.commit.Lock()
	defer d.commit.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	if latest == nil {
		if err := o.cfg.Documents.Add(ctx, snap); err != nil {
			return fmt.Errorf("%w: add: %w", errStore, err)
		}
		o.metrics.detections.WithLabelValues("baseline").Inc()
		o.logger.Debug("orchestrator: baseline stored", "url", d.doc.URL, "language", snap.Language)
		return nil
	}

	res := o.cfg.Detector.Detect(latest, snap)
	if len(res.Events) == 0 {
		outcome := "unchanged"
		if !res.Diffed {
			outcome = "similar"
		}
		o.metrics.detections.WithLabelValues(outcome).Inc()
		return nil
	}

	if err := o.cfg.Documents.Add(ctx, snap); err != nil {
		return fmt.Errorf("%w: add: %w", errStore, err)
	}
	// The stored snapshot now carries the new validators: until its diff
	// set is stored too, the next cycle recomputes it from the pair.
	d.unpublished = true
	if err := o.publish(ctx, d, res.Events); err != nil {
		return err
	}
	o.metrics.detections.WithLabelValues("changed").Inc()
	o.logger.Info("orchestrator: changes detected",
		"url", d.doc.URL, "events", len(res.Events), "similarity", res.Verdict.Similarity)
	return nil
}

// publish stores events as the diff set of d and marks every subscription
// dirty. Caller holds d.commit.
func (o *Orchestrator) publish(ctx context.Context, d *docState, events []change.Event) error {
	if len(events) == 0 {
		d.unpublished = false
		return nil
	}
	if err := o.cfg.Diffs.Put(ctx, d.doc, events); err != nil {
		return fmt.Errorf("%w: put diffs: %w", errStore, err)
	}
	d.unpublished = false
	o.metrics.diffEvents.Add(float64(len(events)))

	o.mu.Lock()
	for _, m := range d.subs {
		m.dirty.Store(true)
		o.kick(m.task)
	}
	o.mu.Unlock()
	return nil
}

// retire runs OnRetire, notifies every subscriber of d with a timeout,
// then deletes the document's state. d was detached by beginTeardown.
func (o *Orchestrator) retire(d *docState, subs []*matchState) {
	ctx := context.WithoutCancel(o.ctx)
	clients := make([]change.Client, len(subs))
	for i, m := range subs {
		clients[i] = m.req.Client
	}
	if o.cfg.OnRetire != nil {
		o.cfg.OnRetire(d.doc, clients)
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for _, client := range clients {
		g.Go(func() error {
			err := o.cfg.Notifier.NotifyTimeout(ctx, d.doc.URL, client)
			o.metrics.notified("timeout", err)
			if err != nil {
				o.logger.Warn("orchestrator: timeout notification failed",
					"url", d.doc.URL, "client", client.URL, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	o.finishTeardown(ctx, d)
	o.metrics.retirements.Inc()
	o.logger.Warn("orchestrator: document retired", "url", d.doc.URL, "subscribers", len(subs))
}

func (o *Orchestrator) matchCycle(m *matchState) {
	err := o.protect("matching", m.doc.doc.URL, func() error { return o.matchOnce(m.ctx, m) })
	if err != nil && m.ctx.Err() == nil {
		o.logger.Warn("orchestrator: matching failed",
			"url", m.doc.doc.URL, "client", m.req.Client.URL, "error", err)
	}
}

// matchOnce consumes the dirty flag. Any error before delivery restores
// it so the next run retries the same diff set.
func (o *Orchestrator) matchOnce(ctx context.Context, m *matchState) (err error) {
	if !m.dirty.Load() {
		return nil
	}
	d := m.doc

	d.commit.RLock()
	if !m.dirty.CompareAndSwap(true, false) {
		d.commit.RUnlock()
		return nil
	}
	defer func() {
		if err != nil {
			m.dirty.Store(true)
		}
	}()
	events, err := o.cfg.Diffs.Get(ctx, d.doc)
	if err != nil {
		d.commit.RUnlock()
		return fmt.Errorf("orchestrator: load diffs: %w", err)
	}
	oldest, latest, err := o.cfg.Documents.Pair(ctx, d.doc)
	d.commit.RUnlock()
	if err != nil {
		return fmt.Errorf("orchestrator: load snapshots: %w", err)
	}
	if len(events) == 0 || latest == nil {
		return nil
	}

	keywords := make([]change.Keyword, 0, len(m.req.Keywords))
	for _, input := range m.req.Keywords {
		kw, err := o.cfg.Keywords.Build(ctx, input, latest.Language, m.req.Options)
		if err != nil {
			return fmt.Errorf("orchestrator: keyword %q: %w", input, err)
		}
		keywords = append(keywords, kw)
	}

	matches, err := o.cfg.Matcher.Match(ctx, match.Request{
		Oldest:        oldest,
		Latest:        latest,
		Events:        events,
		Keywords:      keywords,
		Filter:        m.req.Filter,
		Options:       m.req.Options,
		SnippetOffset: m.req.SnippetOffset,
	})
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}
	o.metrics.matches.Add(float64(len(matches)))

	nerr := o.cfg.Notifier.NotifyMatch(ctx, d.doc.URL, m.req.Client, matches)
	o.metrics.notified("match", nerr)
	if nerr != nil {
		o.logger.Warn("orchestrator: match notification failed",
			"url", d.doc.URL, "client", m.req.Client.URL, "matches", len(matches), "error", nerr)
		return nil
	}
	o.logger.Info("orchestrator: matches delivered",
		"url", d.doc.URL, "client", m.req.Client.URL, "matches", len(matches))
	return nil
}

func (o *Orchestrator) lookup(doc change.Document, client change.Client) *matchState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if d := o.docs[doc]; d != nil {
		return d.subs[client]
	}
	return nil
}
