// Package engine hosts the live graph: it owns the event loop and wires the
// stream session, reconciler, graph model, layout simulation and views.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/application/jobs"
	"github.com/Steake/GodelOS-sub005/application/reconciler"
	"github.com/Steake/GodelOS-sub005/domain/cognitive"
	"github.com/Steake/GodelOS-sub005/domain/core/entities"
	"github.com/Steake/GodelOS-sub005/domain/graph"
	"github.com/Steake/GodelOS-sub005/domain/layout"
	"github.com/Steake/GodelOS-sub005/domain/messages"
	"github.com/Steake/GodelOS-sub005/infrastructure/config"
	"github.com/Steake/GodelOS-sub005/infrastructure/observability"
	"github.com/Steake/GodelOS-sub005/infrastructure/stream"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
	"github.com/Steake/GodelOS-sub005/pkg/eventloop"
)

// reconcileInterval is how often reorder windows and resync timeouts are checked
const reconcileInterval = 100 * time.Millisecond

// Viewer is a projection kept in step with the graph. *render.Scene implements it.
// Every method is called on the loop.
type Viewer interface {
	MarkNodes(ids ...string)
	MarkEdges(keys ...entities.EdgeKey)
	RemoveNodes(ids ...string)
	RemoveEdges(keys ...entities.EdgeKey)
	Invalidate()
	SetDepth(depth bool)
	SetColorMode(mode layout.ColorMode)
}

type statusSubscriber struct{ fn func(Status) }

// Engine is the injectable store behind every view. Graph state is confined
// to the loop; use Call or Interact to read or change it from elsewhere.
type Engine struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Collector
	streams *stream.Manager
	tracker *jobs.Tracker

	loop     *eventloop.Loop
	model    *graph.Model
	snapshot *cognitive.Snapshot
	sim      *layout.Simulation
	rec      *reconciler.Reconciler

	// Confined to the loop
	views        []Viewer
	session      *stream.Session
	conn         stream.StateChange
	connectedAt  time.Time
	bootstrapped bool
	frameTimer   *eventloop.Timer
	tickTimer    *eventloop.Timer
	frames       uint64
	components   graph.ComponentStats
	componentsAt uint64
	lastError    string

	inMu      sync.Mutex
	inbox     []messages.Envelope
	scheduled bool

	subMu sync.Mutex
	subs  []*statusSubscriber

	lifeMu   sync.Mutex
	started  bool
	disposed bool
}

// Option configures an Engine
type Option func(*Engine)

// WithMetrics records pipeline metrics
func WithMetrics(c *observability.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithStreams connects the engine to the backend on Init
func WithStreams(m *stream.Manager) Option {
	return func(e *Engine) { e.streams = m }
}

// WithImportTracker routes pushed job-progress messages to the tracker
func WithImportTracker(t *jobs.Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// New builds an engine and starts its loop. Nothing touches the network until Init.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		logger:   logger.Named("engine"),
		model:    graph.NewModel(),
		snapshot: cognitive.NewSnapshot(),
		conn:     stream.StateChange{To: stream.Disconnected},
	}
	for _, opt := range opts {
		opt(e)
	}

	simOpts := []layout.SimOption{layout.WithParams(cfg.Layout.Params())}
	if cfg.Layout.Seed != 0 {
		simOpts = append(simOpts, layout.WithSeed(cfg.Layout.Seed))
	}
	e.sim = layout.NewSimulation(cfg.Layout.Options, simOpts...)

	recOpts := []reconciler.Option{reconciler.WithMetrics(e.metrics)}
	if e.tracker != nil {
		recOpts = append(recOpts, reconciler.WithProgressObserver(e.tracker))
	}
	e.rec = reconciler.New(e.model, e.snapshot, cfg.Reconciler, logger, recOpts...)
	e.rec.Subscribe(e.onChanges)

	e.loop = eventloop.New(logger)
	return e
}

// Init starts the frame and reconcile timers and, when a stream manager is
// configured, opens the session. Calling Init twice is a no-op.
func (e *Engine) Init(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.disposed {
		return pkgerrors.NewInternalError("engine already disposed")
	}
	if e.started {
		return nil
	}

	var connectErr error
	err := e.loop.Call(ctx, func() {
		e.tickTimer = e.loop.Every(reconcileInterval, e.reconcileTick)
		e.scheduleFrames()
		if e.streams == nil {
			return
		}
		// The session is opened on the loop so that its first state change
		// is handled after e.session is set.
		e.rec.SetConnectionState(false)
		e.session, connectErr = e.streams.Connect(ctx, e.cfg.Stream.Endpoint, e.cfg.Stream.Topics,
			stream.WithMessageHandler(messages.TopicAll, e.enqueue),
			stream.WithStateHandler(func(ch stream.StateChange) {
				e.loop.Post(func() { e.onState(ch) })
			}),
		)
		if connectErr == nil {
			e.rec.SetResyncer(e.session)
		}
	})
	if err != nil {
		return err
	}
	if connectErr != nil {
		return connectErr
	}
	e.started = true

	if e.streams == nil {
		e.logger.Info("Engine started without a stream")
	} else {
		e.logger.Info("Engine started",
			zap.String("endpoint", e.cfg.Stream.Endpoint),
			zap.Strings("topics", e.cfg.Stream.Topics),
		)
	}
	return nil
}

// Dispose closes the session, cancels every timer and stops the loop.
// No engine callback runs after Dispose returns.
func (e *Engine) Dispose() {
	e.lifeMu.Lock()
	if e.disposed {
		e.lifeMu.Unlock()
		return
	}
	e.disposed = true
	e.lifeMu.Unlock()

	var session *stream.Session
	e.loop.Call(context.Background(), func() {
		session = e.session
		e.session = nil
	})
	if session != nil {
		session.Close()
	}
	e.loop.Close()
	e.logger.Info("Engine disposed")
}

// Done is closed once the engine loop has stopped
func (e *Engine) Done() <-chan struct{} {
	return e.loop.Done()
}

// Call runs fn on the loop and waits for it
func (e *Engine) Call(ctx context.Context, fn func()) error {
	return e.loop.Call(ctx, fn)
}

// Interact runs a gesture on the loop, then pushes any moved positions to the
// views and restarts frames if the simulation was woken
func (e *Engine) Interact(ctx context.Context, fn func() error) error {
	var err error
	if callErr := e.loop.Call(ctx, func() {
		err = fn()
		e.syncPositions()
		e.scheduleFrames()
		e.publish()
	}); callErr != nil {
		return callErr
	}
	return err
}

// Attach adds a view. Call it before Init or from the loop.
func (e *Engine) Attach(v Viewer) {
	opts := e.sim.Options()
	v.SetDepth(opts.Mode == layout.ModeForce3D)
	v.SetColorMode(opts.ColorMode)
	v.Invalidate()
	e.views = append(e.views, v)
}

// Model is the graph model. Only touch it on the loop.
func (e *Engine) Model() *graph.Model { return e.model }

// Simulation is the layout simulation. Only touch it on the loop.
func (e *Engine) Simulation() *layout.Simulation { return e.sim }

// Snapshot is the cognitive snapshot. Only touch it on the loop.
func (e *Engine) Snapshot() *cognitive.Snapshot { return e.snapshot }

// Reconciler is the ordering state machine. Only touch it on the loop.
func (e *Engine) Reconciler() *reconciler.Reconciler { return e.rec }

// Imports returns the import tracker, which may be nil
func (e *Engine) Imports() *jobs.Tracker { return e.tracker }

// Ingest feeds envelopes as if they had arrived on the stream
func (e *Engine) Ingest(ctx context.Context, envs ...messages.Envelope) error {
	var err error
	if callErr := e.loop.Call(ctx, func() { err = e.rec.IngestBatch(envs) }); callErr != nil {
		return callErr
	}
	return err
}

// enqueue runs on the session's read goroutine. Bursts are coalesced into one
// batch per loop turn.
func (e *Engine) enqueue(env messages.Envelope) {
	e.inMu.Lock()
	e.inbox = append(e.inbox, env)
	schedule := !e.scheduled
	e.scheduled = true
	e.inMu.Unlock()

	if schedule {
		e.loop.Post(e.drainInbox)
	}
}

func (e *Engine) drainInbox() {
	e.inMu.Lock()
	batch := e.inbox
	e.inbox = nil
	e.scheduled = false
	e.inMu.Unlock()

	if err := e.rec.IngestBatch(batch); err != nil {
		e.logger.Debug("Batch contained rejected messages", zap.Int("size", len(batch)), zap.Error(err))
	}
}

func (e *Engine) onState(ch stream.StateChange) {
	e.conn = ch
	if ch.Err != nil {
		e.lastError = ch.Err.Error()
	}
	connected := ch.To == stream.Connected
	e.rec.SetConnectionState(connected)

	switch ch.To {
	case stream.Connected:
		e.connectedAt = time.Now()
		if !e.bootstrapped {
			e.bootstrapped = true
			if err := e.rec.Bootstrap(e.cfg.Stream.Topics); err != nil {
				e.logger.Warn("Initial snapshot request failed", zap.Error(err))
			}
		}
		e.logger.Info("Stream connected", zap.Int("attempt", ch.Attempt))
	case stream.Reconnecting:
		e.logger.Warn("Stream lost, reconnecting",
			zap.Duration("delay", ch.Delay),
			zap.Int("attempt", ch.Attempt),
			zap.Error(ch.Err),
		)
	}
	e.publish()
}

func (e *Engine) reconcileTick() {
	if err := e.rec.Tick(time.Now()); err != nil {
		e.logger.Debug("Reconcile tick reported problems", zap.Error(err))
	}
}

// onChanges keeps the simulation and views in step with the graph model
func (e *Engine) onChanges(cs reconciler.ChangeSet) {
	for _, k := range cs.RemovedEdges {
		e.sim.RemoveLink(k.String())
	}
	for _, id := range cs.RemovedNodes {
		e.sim.RemoveBody(id)
	}
	for _, id := range cs.Nodes {
		if !e.sim.AddBody(id, e.model.Neighbors(id)...) {
			e.sim.Reheat(id)
		}
	}
	for _, k := range cs.Edges {
		if edge, ok := e.model.Edge(k); ok {
			e.sim.UpsertLink(k.String(), k.Source, k.Target, edge.Weight)
		}
	}

	for _, v := range e.views {
		if cs.Reset {
			v.Invalidate()
		}
		v.RemoveEdges(cs.RemovedEdges...)
		v.RemoveNodes(cs.RemovedNodes...)
		v.MarkNodes(cs.Nodes...)
		v.MarkEdges(cs.Edges...)
	}
	e.scheduleFrames()
	e.publish()
}

// RemoveNode deletes a node on behalf of the user. It must run on the loop.
func (e *Engine) RemoveNode(id string) error {
	edges, ok := e.model.RemoveNode(id)
	if !ok {
		return pkgerrors.NewNotFoundError("node " + id)
	}
	for _, k := range edges {
		e.sim.RemoveLink(k.String())
	}
	e.sim.RemoveBody(id)
	for _, v := range e.views {
		v.RemoveEdges(edges...)
		v.RemoveNodes(id)
	}
	e.metrics.SetGraphSize(e.model.NodeCount(), e.model.EdgeCount())
	e.scheduleFrames()
	return nil
}

// scheduleFrames starts the frame timer while the simulation has work to do
func (e *Engine) scheduleFrames() {
	if !e.sim.Active() {
		return
	}
	if e.frameTimer != nil && !e.frameTimer.Stopped() {
		return
	}
	e.frameTimer = e.loop.Every(e.cfg.Layout.TickInterval(), e.frame)
}

func (e *Engine) frame() {
	start := time.Now()
	res := e.sim.Step(e.cfg.Layout.FrameBudget())
	e.metrics.ObserveStep(time.Since(start), res.Alpha, len(res.Errors))
	for _, simErr := range res.Errors {
		e.logger.Warn("Simulation body reset", zap.Error(simErr))
	}
	e.syncPositions()
	e.frames++

	if !e.sim.Active() {
		e.frameTimer.Stop()
		e.logger.Debug("Layout settled", zap.Uint64("ticks", e.sim.Ticks()))
	}
	e.publish()
}

// syncPositions copies moved bodies into the model and flags them in the views
func (e *Engine) syncPositions() {
	moved := e.sim.DrainMoved()
	if len(moved) == 0 {
		return
	}
	for _, id := range moved {
		if b, ok := e.sim.Body(id); ok {
			e.model.SetKinematics(id, b.Position, b.Velocity)
		}
	}
	for _, v := range e.views {
		v.MarkNodes(moved...)
	}
}

// Settle runs ticks synchronously until the layout cools or maxTicks is reached
func (e *Engine) Settle(ctx context.Context, maxTicks int) (int, error) {
	ticks := 0
	err := e.loop.Call(ctx, func() {
		for e.sim.Active() && ticks < maxTicks {
			res := e.sim.Tick()
			for _, simErr := range res.Errors {
				e.logger.Warn("Simulation body reset", zap.Error(simErr))
			}
			ticks++
		}
		e.syncPositions()
		e.publish()
	})
	return ticks, err
}

// SetLayoutOptions validates and applies layout options. Positions and graph
// data are kept across mode switches.
func (e *Engine) SetLayoutOptions(ctx context.Context, opts layout.Options) error {
	var err error
	if callErr := e.loop.Call(ctx, func() { err = e.setLayout(opts) }); callErr != nil {
		return callErr
	}
	return err
}

func (e *Engine) setLayout(opts layout.Options) error {
	if err := e.sim.SetOptions(opts); err != nil {
		return err
	}
	for _, v := range e.views {
		v.SetDepth(opts.Mode == layout.ModeForce3D)
		v.SetColorMode(opts.ColorMode)
	}
	e.syncPositions()
	e.scheduleFrames()
	e.publish()
	e.logger.Info("Layout options applied",
		zap.String("mode", string(opts.Mode)),
		zap.String("color_mode", string(opts.ColorMode)),
		zap.Float64("link_strength", opts.LinkStrength),
		zap.Float64("charge_strength", opts.ChargeStrength),
	)
	return nil
}

// ApplyConfig applies a reloaded configuration. Layout options take effect
// immediately; stream settings need a restart.
func (e *Engine) ApplyConfig(next *config.Config) {
	e.loop.Post(func() {
		if next.Stream.Endpoint != e.cfg.Stream.Endpoint {
			e.logger.Info("Stream endpoint changed; restart to reconnect",
				zap.String("endpoint", next.Stream.Endpoint))
		}
		if next.Layout.Options == e.sim.Options() {
			return
		}
		if err := e.setLayout(next.Layout.Options); err != nil {
			e.logger.Error("Reloaded layout options rejected", zap.Error(err))
		}
	})
}

// WatchConfig applies every configuration the watcher reloads
func (e *Engine) WatchConfig(w *config.Watcher) {
	w.OnChange(e.ApplyConfig)
}
