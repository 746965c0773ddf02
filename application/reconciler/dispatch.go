package reconciler

import (
	"time"

	"github.com/Steake/GodelOS-sub005/domain/core/entities"
	"github.com/Steake/GodelOS-sub005/domain/graph"
	"github.com/Steake/GodelOS-sub005/domain/messages"
)

// applyFunc applies one decoded message type
type applyFunc func(r *Reconciler, env messages.Envelope, c *changes) error

func defaultDispatch() map[messages.Type]applyFunc {
	return map[messages.Type]applyFunc{
		messages.TypeNodeUpsert:    applyNodeUpsert,
		messages.TypeEdgeUpsert:    applyEdgeUpsert,
		messages.TypeNodeRemove:    applyNodeRemove,
		messages.TypeEdgeRemove:    applyEdgeRemove,
		messages.TypeSnapshotFull:  applySnapshotFull,
		messages.TypeSnapshotPatch: applySnapshotPatch,
		messages.TypeJobProgress:   applyJobProgress,
	}
}

// stamp orders writes by message timestamp; unstamped messages use arrival time
func (r *Reconciler) stamp(env messages.Envelope) time.Time {
	if t := env.Time(); !t.IsZero() {
		return t
	}
	return r.now()
}

func applyNodeUpsert(r *Reconciler, env messages.Envelope, c *changes) error {
	p, err := messages.DecodePayload[messages.NodePayload](env)
	if err != nil {
		return err
	}
	changed, err := r.model.UpsertNode(p.NodeUpdate(), r.stamp(env))
	if err != nil {
		return err
	}
	if changed {
		c.node(p.ID)
	}
	return nil
}

func applyEdgeUpsert(r *Reconciler, env messages.Envelope, c *changes) error {
	p, err := messages.DecodePayload[messages.EdgePayload](env)
	if err != nil {
		return err
	}
	u := p.EdgeUpdate()
	changed, err := r.model.UpsertEdge(u, r.stamp(env))
	if err != nil {
		return err
	}
	if changed {
		c.edge(u.Key())
	}
	return nil
}

func applyNodeRemove(r *Reconciler, env messages.Envelope, c *changes) error {
	p, err := messages.DecodePayload[messages.NodeRemovePayload](env)
	if err != nil {
		return err
	}
	if edges, ok := r.model.RemoveNode(p.ID); ok {
		c.removeNode(p.ID, edges)
	}
	return nil
}

func applyEdgeRemove(r *Reconciler, env messages.Envelope, c *changes) error {
	p, err := messages.DecodePayload[messages.EdgeRemovePayload](env)
	if err != nil {
		return err
	}
	key := entities.EdgeKey{Source: p.Source, Target: p.Target, Type: entities.EdgeType(p.Type)}
	if key.Type == "" {
		key.Type = entities.EdgeTypeRelated
	}
	if r.model.RemoveEdge(key) {
		c.removeEdge(key)
	}
	return nil
}

// applySnapshotFull replaces the graph when the snapshot carries one, and the
// cognitive metrics when it carries those. Invalid entries are skipped.
func applySnapshotFull(r *Reconciler, env messages.Envelope, c *changes) error {
	p, err := messages.DecodePayload[messages.SnapshotPayload](env)
	if err != nil {
		return err
	}

	var replaceErr error
	if p.HasGraph() {
		nodes := make([]graph.NodeUpdate, 0, len(p.Nodes))
		for _, n := range p.Nodes {
			nodes = append(nodes, n.NodeUpdate())
		}
		edges := make([]graph.EdgeUpdate, 0, len(p.Edges))
		for _, e := range p.Edges {
			edges = append(edges, e.EdgeUpdate())
		}
		var delta graph.Delta
		delta, replaceErr = r.model.Replace(nodes, edges, r.stamp(env))
		c.delta(delta)
		c.reset = true
	}
	if p.Metrics != nil {
		for _, k := range r.snapshot.Replace(p.Metrics) {
			c.snapshotKeys.add(k)
		}
	}
	return replaceErr
}

func applySnapshotPatch(r *Reconciler, env messages.Envelope, c *changes) error {
	p, err := messages.DecodePayload[messages.PatchPayload](env)
	if err != nil {
		return err
	}
	for _, k := range r.snapshot.Patch(p.Set, p.Delete) {
		c.snapshotKeys.add(k)
	}
	return nil
}

func applyJobProgress(r *Reconciler, env messages.Envelope, c *changes) error {
	p, err := messages.DecodePayload[messages.JobProgressPayload](env)
	if err != nil {
		return err
	}
	if r.progress != nil {
		r.progress.Observe(p)
	}
	c.jobs.add(p.ImportID)
	return nil
}
