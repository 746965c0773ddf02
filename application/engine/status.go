package engine

import (
	"context"
	"time"

	"github.com/Steake/GodelOS-sub005/application/reconciler"
	"github.com/Steake/GodelOS-sub005/domain/graph"
	"github.com/Steake/GodelOS-sub005/domain/layout"
	"github.com/Steake/GodelOS-sub005/infrastructure/stream"
)

// Status is the observable state of the engine
type Status struct {
	Connection      stream.State             `json:"connection"`
	SessionID       string                   `json:"sessionId,omitempty"`
	Attempt         int                      `json:"attempt,omitempty"`
	RetryInMs       int64                    `json:"retryInMs,omitempty"`
	ConnectedSince  *time.Time               `json:"connectedSince,omitempty"`
	LastError       string                   `json:"lastError,omitempty"`
	Nodes           int                      `json:"nodes"`
	Edges           int                      `json:"edges"`
	Components      graph.ComponentStats     `json:"components"`
	Categories      []graph.CategoryStat     `json:"categories"`
	Alpha           float64                  `json:"alpha"`
	Active          bool                     `json:"active"`
	Ticks           uint64                   `json:"ticks"`
	Frames          uint64                   `json:"frames"`
	Topics          []reconciler.TopicStatus `json:"topics"`
	Layout          layout.Options           `json:"layout"`
	SnapshotVersion uint64                   `json:"snapshotVersion"`
	ModelVersion    uint64                   `json:"modelVersion"`
	ActiveImports   int                      `json:"activeImports"`
}

// Stale reports whether the view is showing data that may be out of date
func (s Status) Stale() bool {
	return s.Connection != stream.Connected
}

// Status returns a consistent snapshot of the engine state
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.loop.Call(ctx, func() { st = e.status() })
	return st, err
}

// Subscribe registers fn to receive the status after every frame and change.
// fn runs on the loop and must not block.
func (e *Engine) Subscribe(fn func(Status)) func() {
	s := &statusSubscriber{fn: fn}
	e.subMu.Lock()
	e.subs = append(e.subs, s)
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		for i, existing := range e.subs {
			if existing == s {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

func (e *Engine) publish() {
	e.subMu.Lock()
	subs := append([]*statusSubscriber(nil), e.subs...)
	e.subMu.Unlock()
	if len(subs) == 0 {
		return
	}
	st := e.status()
	for _, s := range subs {
		s.fn(st)
	}
}

func (e *Engine) status() Status {
	if v := e.model.Version(); v != e.componentsAt || e.componentsAt == 0 {
		e.components = e.model.Components()
		e.componentsAt = v
	}

	st := Status{
		Connection:      e.conn.To,
		Attempt:         e.conn.Attempt,
		LastError:       e.lastError,
		Nodes:           e.model.NodeCount(),
		Edges:           e.model.EdgeCount(),
		Components:      e.components,
		Categories:      e.model.Categories(),
		Alpha:           e.sim.Alpha(),
		Active:          e.sim.Active(),
		Ticks:           e.sim.Ticks(),
		Frames:          e.frames,
		Topics:          e.rec.Topics(),
		Layout:          e.sim.Options(),
		SnapshotVersion: e.snapshot.Version(),
		ModelVersion:    e.model.Version(),
	}
	if e.session != nil {
		st.SessionID = e.session.ID()
	}
	if e.conn.To == stream.Reconnecting {
		st.RetryInMs = e.conn.Delay.Milliseconds()
	}
	if e.conn.To == stream.Connected && !e.connectedAt.IsZero() {
		since := e.connectedAt
		st.ConnectedSince = &since
	}
	if e.tracker != nil {
		for _, job := range e.tracker.Jobs() {
			if !job.Status.Terminal() {
				st.ActiveImports++
			}
		}
	}
	return st
}
