// Package reconciler turns stream envelopes into ordered, idempotent graph mutations.
package reconciler

import (
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Steake/GodelOS-sub005/application/ports"
	"github.com/Steake/GodelOS-sub005/domain/cognitive"
	"github.com/Steake/GodelOS-sub005/domain/graph"
	"github.com/Steake/GodelOS-sub005/domain/messages"
	"github.com/Steake/GodelOS-sub005/infrastructure/config"
	"github.com/Steake/GodelOS-sub005/infrastructure/observability"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

// Message outcomes recorded in metrics
const (
	outcomeApplied   = "applied"
	outcomeBuffered  = "buffered"
	outcomeDuplicate = "duplicate"
	outcomeDropped   = "dropped"
	outcomeIgnored   = "ignored"
)

// topicState tracks ordering for one topic
type topicState struct {
	name        string
	lastApplied int64
	buffer      map[int64]messages.Envelope
	// bufferedAt is when the oldest pending message started waiting
	bufferedAt time.Time

	resyncPending bool
	resyncAt      time.Time
}

func (t *topicState) oldestBuffered() int64 {
	var oldest int64
	for seq := range t.buffer {
		if oldest == 0 || seq < oldest {
			oldest = seq
		}
	}
	return oldest
}

// TopicStatus summarises the ordering state of one topic
type TopicStatus struct {
	Topic         string `json:"topic"`
	LastApplied   int64  `json:"lastApplied"`
	Buffered      int    `json:"buffered"`
	ResyncPending bool   `json:"resyncPending"`
}

type subscriber struct{ fn func(ChangeSet) }

// Reconciler applies envelopes to the graph model and the cognitive snapshot.
// It is not safe for concurrent use; the engine drives it from its event loop.
type Reconciler struct {
	model    *graph.Model
	snapshot *cognitive.Snapshot
	resync   ports.Resyncer
	progress ports.ProgressObserver
	logger   *zap.Logger
	metrics  *observability.Collector
	now      func() time.Time

	windowSize    int
	window        time.Duration
	resyncTimeout time.Duration
	limiter       *rate.Limiter

	topics      map[string]*topicState
	connected   bool
	dispatch    map[messages.Type]applyFunc
	subscribers []*subscriber
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithResyncer sets the channel used for resync requests
func WithResyncer(r ports.Resyncer) Option {
	return func(rc *Reconciler) { rc.resync = r }
}

// WithProgressObserver forwards job-progress messages
func WithProgressObserver(o ports.ProgressObserver) Option {
	return func(rc *Reconciler) { rc.progress = o }
}

// WithMetrics records reconciler metrics
func WithMetrics(c *observability.Collector) Option {
	return func(rc *Reconciler) { rc.metrics = c }
}

// WithClock replaces the clock used for arrival times
func WithClock(now func() time.Time) Option {
	return func(rc *Reconciler) { rc.now = now }
}

// New creates a reconciler writing into model and snapshot
func New(model *graph.Model, snapshot *cognitive.Snapshot, cfg config.Reconciler, logger *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		model:         model,
		snapshot:      snapshot,
		logger:        logger.Named("reconciler"),
		now:           time.Now,
		windowSize:    cfg.WindowSize,
		window:        cfg.Window(),
		resyncTimeout: cfg.ResyncTimeout(),
		limiter:       rate.NewLimiter(rate.Limit(cfg.ResyncRatePerSec), cfg.ResyncBurst),
		topics:        make(map[string]*topicState),
		connected:     true,
	}
	r.dispatch = defaultDispatch()
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetResyncer replaces the resync channel, used when a new session is opened
func (r *Reconciler) SetResyncer(rs ports.Resyncer) {
	r.resync = rs
}

// Subscribe registers fn for every non-empty change set. The returned function unsubscribes.
func (r *Reconciler) Subscribe(fn func(ChangeSet)) func() {
	s := &subscriber{fn: fn}
	r.subscribers = append(r.subscribers, s)
	return func() {
		for i, existing := range r.subscribers {
			if existing == s {
				r.subscribers = append(r.subscribers[:i:i], r.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Ingest processes one envelope and notifies subscribers of its effect.
// The returned error describes a dropped message; the pipeline continues regardless.
func (r *Reconciler) Ingest(env messages.Envelope) error {
	var c changes
	err := r.ingest(env, &c)
	r.notify(c.build())
	return err
}

// IngestBatch processes envelopes in order and notifies once
func (r *Reconciler) IngestBatch(envs []messages.Envelope) error {
	var (
		c    changes
		errs []error
	)
	for _, env := range envs {
		if err := r.ingest(env, &c); err != nil {
			errs = append(errs, err)
		}
	}
	r.notify(c.build())
	return errors.Join(errs...)
}

func (r *Reconciler) ingest(env messages.Envelope, c *changes) error {
	if env.Type == messages.TypeHeartbeat {
		r.metrics.RecordMessage(string(env.Type), outcomeIgnored)
		return nil
	}
	if !env.Sequenced() {
		return r.apply(env, c)
	}

	ts := r.topic(env.Topic)

	// A snapshot never moves a topic backwards. While a resync is pending one
	// at the applied seq is still authoritative.
	if env.Type == messages.TypeSnapshotFull && (env.Seq > ts.lastApplied || (ts.resyncPending && env.Seq == ts.lastApplied)) {
		return r.applySnapshot(ts, env, c)
	}

	switch {
	case env.Seq <= ts.lastApplied:
		r.metrics.RecordMessage(string(env.Type), outcomeDuplicate)
		return nil

	case env.Seq == ts.lastApplied+1:
		err := r.apply(env, c)
		ts.lastApplied = env.Seq
		r.drain(ts, c)
		return err

	default:
		if _, dup := ts.buffer[env.Seq]; dup {
			r.metrics.RecordMessage(string(env.Type), outcomeDuplicate)
			return nil
		}
		if len(ts.buffer) == 0 {
			ts.bufferedAt = r.now()
		}
		ts.buffer[env.Seq] = env
		r.metrics.RecordMessage(string(env.Type), outcomeBuffered)
		if len(ts.buffer) >= r.windowSize {
			return r.raiseGap(ts, r.now())
		}
		return nil
	}
}

// applySnapshot applies a snapshot-full out of band: it is authoritative for
// its topic, completes a pending resync and discards everything it covers
func (r *Reconciler) applySnapshot(ts *topicState, env messages.Envelope, c *changes) error {
	err := r.apply(env, c)
	ts.lastApplied = env.Seq
	for seq := range ts.buffer {
		if seq <= env.Seq {
			delete(ts.buffer, seq)
		}
	}
	if ts.resyncPending {
		r.logger.Info("Resync completed", zap.String("topic", ts.name), zap.Int64("seq", env.Seq))
	}
	ts.resyncPending = false
	ts.bufferedAt = r.now()
	r.drain(ts, c)
	return err
}

// drain applies buffered messages that have become contiguous
func (r *Reconciler) drain(ts *topicState, c *changes) {
	for {
		next, ok := ts.buffer[ts.lastApplied+1]
		if !ok {
			break
		}
		delete(ts.buffer, next.Seq)
		if err := r.apply(next, c); err != nil {
			r.logger.Warn("Dropped buffered message", zap.Error(err))
		}
		ts.lastApplied = next.Seq
		ts.bufferedAt = r.now()
	}
}

// apply runs the dispatch entry for env and records the outcome
func (r *Reconciler) apply(env messages.Envelope, c *changes) error {
	fn, ok := r.dispatch[env.Type]
	if !ok {
		r.metrics.RecordMessage(string(env.Type), outcomeDropped)
		err := pkgerrors.NewProtocolError("unknown message type").WithDetail("type", string(env.Type))
		r.logger.Warn("Dropped message", zap.Error(err), zap.String("topic", env.Topic), zap.Int64("seq", env.Seq))
		return err
	}
	if err := fn(r, env, c); err != nil {
		r.metrics.RecordMessage(string(env.Type), outcomeDropped)
		r.logger.Warn("Dropped message",
			zap.Error(err),
			zap.String("type", string(env.Type)),
			zap.String("topic", env.Topic),
			zap.Int64("seq", env.Seq),
		)
		return err
	}
	r.metrics.RecordMessage(string(env.Type), outcomeApplied)
	return nil
}

// Tick expires reorder windows and resync timeouts. Windows do not expire
// while disconnected.
func (r *Reconciler) Tick(now time.Time) error {
	if !r.connected {
		return nil
	}
	var errs []error
	for _, name := range r.topicNames() {
		ts := r.topics[name]
		if ts.resyncPending {
			if now.Sub(ts.resyncAt) >= r.resyncTimeout {
				r.logger.Warn("Resync timed out", zap.String("topic", name), zap.Duration("timeout", r.resyncTimeout))
				ts.resyncPending = false
				ts.bufferedAt = now
				if err := r.requestResync(ts, now); err != nil {
					errs = append(errs, err)
				}
			}
			continue
		}
		if len(ts.buffer) > 0 && now.Sub(ts.bufferedAt) >= r.window {
			errs = append(errs, r.raiseGap(ts, now))
		}
	}
	return errors.Join(errs...)
}

// raiseGap reports a gap that outlived the window and requests one resync
func (r *Reconciler) raiseGap(ts *topicState, now time.Time) error {
	gap := &pkgerrors.SequenceGapError{
		Topic:    ts.name,
		Expected: ts.lastApplied + 1,
		Buffered: len(ts.buffer),
		Oldest:   ts.oldestBuffered(),
		Waited:   now.Sub(ts.bufferedAt),
	}
	if ts.resyncPending {
		return gap
	}
	r.metrics.IncSequenceGap(ts.name)
	r.logger.Warn("Sequence gap", zap.Error(gap))
	if err := r.requestResync(ts, now); err != nil {
		return errors.Join(gap, err)
	}
	return gap
}

// requestResync marks the topic pending and asks for a snapshot. A failed or
// rate limited request is retried when the resync timeout elapses.
func (r *Reconciler) requestResync(ts *topicState, now time.Time) error {
	ts.resyncPending = true
	ts.resyncAt = now
	if r.resync == nil {
		return nil
	}
	if !r.limiter.AllowN(now, 1) {
		r.logger.Warn("Resync request rate limited", zap.String("topic", ts.name))
		return nil
	}
	r.metrics.IncResync(ts.name)
	if err := r.resync.RequestResync(ts.name, ts.lastApplied); err != nil {
		r.logger.Warn("Resync request failed", zap.String("topic", ts.name), zap.Error(err))
		return err
	}
	return nil
}

// Bootstrap requests a snapshot-full for every topic on cold start
func (r *Reconciler) Bootstrap(topics []string) error {
	now := r.now()
	var errs []error
	for _, name := range topics {
		ts := r.topic(name)
		ts.resyncPending = true
		ts.resyncAt = now
		if r.resync == nil {
			continue
		}
		r.metrics.IncResync(name)
		if err := r.resync.RequestResync(name, ts.lastApplied); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetConnectionState pauses window expiry while disconnected. On reconnect
// the windows restart and pending resyncs are re-sent.
func (r *Reconciler) SetConnectionState(connected bool) {
	if r.connected == connected {
		return
	}
	r.connected = connected
	if !connected {
		return
	}
	now := r.now()
	for _, name := range r.topicNames() {
		ts := r.topics[name]
		ts.bufferedAt = now
		if ts.resyncPending {
			r.requestResync(ts, now)
		}
	}
}

// Topics returns the ordering status of every known topic
func (r *Reconciler) Topics() []TopicStatus {
	out := make([]TopicStatus, 0, len(r.topics))
	for _, name := range r.topicNames() {
		ts := r.topics[name]
		out = append(out, TopicStatus{
			Topic:         name,
			LastApplied:   ts.lastApplied,
			Buffered:      len(ts.buffer),
			ResyncPending: ts.resyncPending,
		})
	}
	return out
}

func (r *Reconciler) topic(name string) *topicState {
	ts, ok := r.topics[name]
	if !ok {
		ts = &topicState{name: name, buffer: make(map[int64]messages.Envelope)}
		r.topics[name] = ts
	}
	return ts
}

func (r *Reconciler) topicNames() []string {
	names := make([]string, 0, len(r.topics))
	for name := range r.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Reconciler) notify(cs ChangeSet) {
	r.metrics.SetGraphSize(r.model.NodeCount(), r.model.EdgeCount())
	if cs.Empty() {
		return
	}
	subs := append([]*subscriber(nil), r.subscribers...)
	for _, s := range subs {
		s.fn(cs)
	}
}
