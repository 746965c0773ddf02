// Package jobs tracks knowledge import jobs from submission to a terminal status.
package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/application/ports"
	"github.com/Steake/GodelOS-sub005/domain/imports"
	"github.com/Steake/GodelOS-sub005/domain/messages"
	"github.com/Steake/GodelOS-sub005/infrastructure/config"
	"github.com/Steake/GodelOS-sub005/infrastructure/observability"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

type entry struct {
	job            *imports.Job
	cancelDeadline time.Time
}

type subscriber struct{ fn func(imports.Job) }

// Tracker submits imports and polls each one until it reaches a terminal status.
// It is safe for concurrent use; subscribers run on the poll goroutines.
type Tracker struct {
	api     ports.ImportAPI
	cfg     config.Import
	logger  *zap.Logger
	metrics *observability.Collector
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	jobs        map[string]*entry
	order       []string
	subscribers []*subscriber
}

// Option configures a Tracker
type Option func(*Tracker)

// WithMetrics records job metrics
func WithMetrics(c *observability.Collector) Option {
	return func(t *Tracker) { t.metrics = c }
}

// WithClock replaces the clock used for timestamps and cancel deadlines
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker on top of the import API
func NewTracker(api ports.ImportAPI, cfg config.Import, logger *zap.Logger, opts ...Option) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		api:    api,
		cfg:    cfg,
		logger: logger.Named("jobs"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subscribe registers fn for every job change. The returned function unsubscribes.
func (t *Tracker) Subscribe(fn func(imports.Job)) func() {
	s := &subscriber{fn: fn}
	t.mu.Lock()
	t.subscribers = append(t.subscribers, s)
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, existing := range t.subscribers {
			if existing == s {
				t.subscribers = append(t.subscribers[:i:i], t.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Submit starts an import and begins polling it
func (t *Tracker) Submit(ctx context.Context, source imports.Source) (string, error) {
	if t.ctx.Err() != nil {
		return "", pkgerrors.NewInternalError("tracker closed")
	}
	if err := source.Validate(); err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout())
	defer cancel()
	initial, err := t.api.Submit(reqCtx, source)
	if err != nil {
		return "", pkgerrors.Wrap(err, "submit import")
	}
	if initial.ImportID == "" {
		return "", pkgerrors.NewProtocolError("import response without importId")
	}

	now := t.now()
	job := imports.NewJob(initial.ImportID, source, now)
	if initial.Status != "" {
		job.Apply(initial, now)
	}
	if err := t.adopt(job); err != nil {
		return "", err
	}
	t.logger.Info("Import submitted", zap.String("importId", job.ID), zap.String("source", source.Kind))
	return job.ID, nil
}

// Track follows a job submitted elsewhere, for example by an earlier process
func (t *Tracker) Track(ctx context.Context, id string) error {
	if t.ctx.Err() != nil {
		return pkgerrors.NewInternalError("tracker closed")
	}
	if id == "" {
		return pkgerrors.NewValidationError("import id is required")
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout())
	defer cancel()
	progress, err := t.api.Progress(reqCtx, id)
	if err != nil {
		return pkgerrors.Wrap(err, "fetch import")
	}

	now := t.now()
	job := imports.NewJob(id, imports.Source{}, now)
	if progress.Status != "" {
		job.Apply(progress, now)
	}
	if err := t.adopt(job); err != nil {
		return err
	}
	t.logger.Info("Import tracked", zap.String("importId", id), zap.String("status", string(job.Status)))
	return nil
}

// adopt registers job and starts polling it
func (t *Tracker) adopt(job *imports.Job) error {
	t.mu.Lock()
	if _, exists := t.jobs[job.ID]; exists {
		t.mu.Unlock()
		return pkgerrors.NewValidationError("duplicate import id").WithDetail("importId", job.ID)
	}
	t.jobs[job.ID] = &entry{job: job}
	t.order = append(t.order, job.ID)
	t.mu.Unlock()

	t.metrics.IncJobTransition(string(job.Status))
	t.publish(*job)

	t.wg.Add(1)
	go t.poll(job.ID)
	return nil
}

// poll queries progress every poll interval until the job is terminal, then
// keeps it visible for the retention window
func (t *Tracker) poll(id string) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.PollInterval())
	defer ticker.Stop()

	for !t.terminal(id) {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
		}
		t.pollOnce(id)
	}

	retention := time.NewTimer(t.cfg.Retention())
	defer retention.Stop()
	select {
	case <-t.ctx.Done():
	case <-retention.C:
		t.forget(id)
	}
}

func (t *Tracker) pollOnce(id string) {
	reqCtx, cancel := context.WithTimeout(t.ctx, t.cfg.RequestTimeout())
	progress, err := t.api.Progress(reqCtx, id)
	cancel()
	if t.ctx.Err() != nil {
		return
	}

	now := t.now()
	t.mu.Lock()
	e, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	job := e.job
	changed, advanced := false, false

	if err != nil {
		job.PollFailures++
		t.metrics.IncPollFailure()
		pollErr := pkgerrors.NewJobPollError(id, job.PollFailures, err)
		t.logger.Warn("Import poll failed", zap.Error(pollErr))
		changed = true
		if job.PollFailures > t.cfg.MaxPollFailures {
			advanced = job.Force(imports.StatusLost, pollErr.Error(), now)
		}
	} else {
		if job.PollFailures > 0 {
			job.PollFailures = 0
			changed = true
		}
		c, a := job.Apply(progress, now)
		changed, advanced = changed || c, a
	}

	if !job.Status.Terminal() && job.Cancelling && !now.Before(e.cancelDeadline) {
		advanced = job.Force(imports.StatusCancelled, "", now) || advanced
		changed = true
		t.logger.Warn("Cancel not confirmed in time, marking cancelled", zap.String("importId", id))
	}
	snapshot := *job
	t.mu.Unlock()

	if advanced {
		t.metrics.IncJobTransition(string(snapshot.Status))
		t.logger.Info("Import status changed",
			zap.String("importId", id),
			zap.String("status", string(snapshot.Status)),
			zap.Float64("progress", snapshot.ProgressPercent),
		)
	}
	if changed {
		t.publish(snapshot)
	}
}

// Observe merges a progress report pushed over the stream
func (t *Tracker) Observe(p messages.JobProgressPayload) {
	status, err := imports.ParseStatus(p.Status)
	if err != nil {
		t.logger.Warn("Ignoring job progress", zap.Error(err), zap.String("importId", p.ImportID))
		return
	}

	t.mu.Lock()
	e, ok := t.jobs[p.ImportID]
	if !ok {
		t.mu.Unlock()
		t.logger.Debug("Progress for unknown import", zap.String("importId", p.ImportID))
		return
	}
	changed, advanced := e.job.Apply(imports.Progress{
		ImportID:        p.ImportID,
		Status:          status,
		ProgressPercent: p.ProgressPercent,
		Error:           p.Error,
	}, t.now())
	snapshot := *e.job
	t.mu.Unlock()

	if advanced {
		t.metrics.IncJobTransition(string(snapshot.Status))
	}
	if changed {
		t.publish(snapshot)
	}
}

// Cancel flags the job as cancelling at once and asks the server to stop it.
// Without confirmation the job is marked cancelled after the cancel timeout.
func (t *Tracker) Cancel(ctx context.Context, id string) error {
	t.mu.Lock()
	e, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return pkgerrors.NewNotFoundError("import job").WithDetail("importId", id)
	}
	if e.job.Status.Terminal() {
		t.mu.Unlock()
		return pkgerrors.NewValidationError("import already finished").WithDetail("status", string(e.job.Status))
	}
	if !e.job.Cancelling {
		e.job.Cancelling = true
		e.job.UpdatedAt = t.now()
		e.cancelDeadline = t.now().Add(t.cfg.CancelTimeout())
	}
	snapshot := *e.job
	t.mu.Unlock()

	t.publish(snapshot)

	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout())
	defer cancel()
	if err := t.api.Cancel(reqCtx, id); err != nil {
		t.logger.Warn("Cancel request failed", zap.String("importId", id), zap.Error(err))
		return pkgerrors.Wrap(err, "cancel import")
	}
	return nil
}

// Job returns a copy of one tracked job
func (t *Tracker) Job(id string) (imports.Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[id]
	if !ok {
		return imports.Job{}, false
	}
	return *e.job, true
}

// Jobs returns copies of every tracked job in submission order
func (t *Tracker) Jobs() []imports.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]imports.Job, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.jobs[id].job)
	}
	return out
}

// Close stops every poll loop and waits for them
func (t *Tracker) Close() error {
	t.cancel()
	t.wg.Wait()
	return nil
}

func (t *Tracker) terminal(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[id]
	return !ok || e.job.Status.Terminal()
}

func (t *Tracker) forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *Tracker) publish(job imports.Job) {
	t.mu.Lock()
	subs := append([]*subscriber(nil), t.subscribers...)
	t.mu.Unlock()
	for _, s := range subs {
		s.fn(job)
	}
}
