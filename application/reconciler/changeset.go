package reconciler

import (
	"github.com/Steake/GodelOS-sub005/domain/core/entities"
	"github.com/Steake/GodelOS-sub005/domain/graph"
)

// ChangeSet lists exactly the ids touched by one ingest call
type ChangeSet struct {
	Nodes        []string
	RemovedNodes []string
	Edges        []entities.EdgeKey
	RemovedEdges []entities.EdgeKey
	SnapshotKeys []string
	Jobs         []string
	// Reset is set when a snapshot-full replaced the graph
	Reset bool
}

// Empty reports whether nothing changed
func (c ChangeSet) Empty() bool {
	return len(c.Nodes) == 0 && len(c.RemovedNodes) == 0 &&
		len(c.Edges) == 0 && len(c.RemovedEdges) == 0 &&
		len(c.SnapshotKeys) == 0 && len(c.Jobs) == 0 && !c.Reset
}

// TouchesNode reports whether id was upserted or removed
func (c ChangeSet) TouchesNode(id string) bool {
	for _, n := range c.Nodes {
		if n == id {
			return true
		}
	}
	for _, n := range c.RemovedNodes {
		if n == id {
			return true
		}
	}
	return false
}

// keyed keeps first-seen order and supports removal
type keyed[K comparable] struct {
	order []K
	in    map[K]bool
}

func (k *keyed[K]) add(v K) {
	if k.in == nil {
		k.in = make(map[K]bool)
	}
	if _, seen := k.in[v]; !seen {
		k.order = append(k.order, v)
	}
	k.in[v] = true
}

func (k *keyed[K]) drop(v K) {
	if k.in[v] {
		k.in[v] = false
	}
}

func (k *keyed[K]) list() []K {
	var out []K
	for _, v := range k.order {
		if k.in[v] {
			out = append(out, v)
		}
	}
	return out
}

// changes accumulates mutations so an upsert followed by a removal of the
// same id within one batch reports only the removal, and vice versa
type changes struct {
	nodes        keyed[string]
	removedNodes keyed[string]
	edges        keyed[entities.EdgeKey]
	removedEdges keyed[entities.EdgeKey]
	snapshotKeys keyed[string]
	jobs         keyed[string]
	reset        bool
}

func (c *changes) node(id string) {
	c.removedNodes.drop(id)
	c.nodes.add(id)
}

func (c *changes) removeNode(id string, edges []entities.EdgeKey) {
	c.nodes.drop(id)
	c.removedNodes.add(id)
	for _, k := range edges {
		c.removeEdge(k)
	}
}

func (c *changes) edge(k entities.EdgeKey) {
	c.removedEdges.drop(k)
	c.edges.add(k)
}

func (c *changes) removeEdge(k entities.EdgeKey) {
	c.edges.drop(k)
	c.removedEdges.add(k)
}

func (c *changes) delta(d graph.Delta) {
	for _, id := range d.RemovedNodes {
		c.removeNode(id, nil)
	}
	for _, k := range d.RemovedEdges {
		c.removeEdge(k)
	}
	for _, id := range d.Nodes {
		c.node(id)
	}
	for _, k := range d.Edges {
		c.edge(k)
	}
}

func (c *changes) build() ChangeSet {
	return ChangeSet{
		Nodes:        c.nodes.list(),
		RemovedNodes: c.removedNodes.list(),
		Edges:        c.edges.list(),
		RemovedEdges: c.removedEdges.list(),
		SnapshotKeys: c.snapshotKeys.list(),
		Jobs:         c.jobs.list(),
		Reset:        c.reset,
	}
}
