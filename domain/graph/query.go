package graph

import (
	"fmt"
	"iter"
	"sort"

	"github.com/Steake/GodelOS-sub005/domain/core/entities"
)

// Node returns a copy of the node with the given id
func (m *Model) Node(id string) (entities.Node, bool) {
	rec, ok := m.nodes[id]
	if !ok {
		return entities.Node{}, false
	}
	return rec.node.Clone(), true
}

// Has reports whether a node exists
func (m *Model) Has(id string) bool {
	_, ok := m.nodes[id]
	return ok
}

// Edge returns the edge with the given key
func (m *Model) Edge(key entities.EdgeKey) (entities.Edge, bool) {
	rec, ok := m.edges[key]
	if !ok {
		return entities.Edge{}, false
	}
	return rec.edge, true
}

// Query returns a lazy sequence of nodes matching pred (nil matches all).
// The sequence may be ranged over any number of times; each pass sees the
// model as it is when the pass runs.
func (m *Model) Query(pred func(entities.Node) bool) iter.Seq[entities.Node] {
	return func(yield func(entities.Node) bool) {
		for i := 0; i < len(m.nodeOrder.items); i++ {
			rec := m.nodes[m.nodeOrder.items[i]]
			if pred != nil && !pred(rec.node) {
				continue
			}
			if !yield(rec.node.Clone()) {
				return
			}
		}
	}
}

// Nodes returns every node
func (m *Model) Nodes() iter.Seq[entities.Node] {
	return m.Query(nil)
}

// Edges returns every edge
func (m *Model) Edges() iter.Seq[entities.Edge] {
	return func(yield func(entities.Edge) bool) {
		for i := 0; i < len(m.edgeOrder.items); i++ {
			if !yield(m.edges[m.edgeOrder.items[i]].edge) {
				return
			}
		}
	}
}

// NodeIDs returns the ids of all nodes
func (m *Model) NodeIDs() []string {
	return m.nodeOrder.snapshot()
}

// ByCategory returns the nodes of one category using the category index
func (m *Model) ByCategory(category string) iter.Seq[entities.Node] {
	return func(yield func(entities.Node) bool) {
		set, ok := m.categories[category]
		if !ok {
			return
		}
		for i := 0; i < len(set.items); i++ {
			if !yield(m.nodes[set.items[i]].node.Clone()) {
				return
			}
		}
	}
}

// CategoryCount returns the number of nodes in a category
func (m *Model) CategoryCount(category string) int {
	if set, ok := m.categories[category]; ok {
		return set.len()
	}
	return 0
}

// Categories returns every category with its node count, sorted by name
func (m *Model) Categories() []CategoryStat {
	out := make([]CategoryStat, 0, len(m.categories))
	for name, set := range m.categories {
		out = append(out, CategoryStat{Name: name, Count: set.len()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CategoryStat is a category with its node count
type CategoryStat struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Degree returns the number of edges incident to id
func (m *Model) Degree(id string) int {
	if rec, ok := m.nodes[id]; ok {
		return rec.incident.len()
	}
	return 0
}

// IncidentEdges returns the keys of the edges touching id
func (m *Model) IncidentEdges(id string) []entities.EdgeKey {
	if rec, ok := m.nodes[id]; ok {
		return rec.incident.snapshot()
	}
	return nil
}

// Neighbors returns the distinct ids adjacent to id
func (m *Model) Neighbors(id string) []string {
	rec, ok := m.nodes[id]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{}, rec.incident.len())
	out := make([]string, 0, rec.incident.len())
	for _, k := range rec.incident.items {
		other := k.Other(id)
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	return out
}

// ComponentStats summarises graph connectivity
type ComponentStats struct {
	Count   int `json:"count"`
	Largest int `json:"largest"`
}

// Components counts connected components
func (m *Model) Components() ComponentStats {
	uf := newUnionFind(m.nodeOrder.len())
	for _, id := range m.nodeOrder.items {
		uf.add(id)
	}
	for _, k := range m.edgeOrder.items {
		uf.union(k.Source, k.Target)
	}
	return ComponentStats{Count: uf.count, Largest: uf.largest()}
}

// Validate checks the structural invariants of the model
func (m *Model) Validate() error {
	if len(m.nodes) != m.nodeOrder.len() {
		return fmt.Errorf("node index size %d does not match order size %d", len(m.nodes), m.nodeOrder.len())
	}
	if len(m.edges) != m.edgeOrder.len() {
		return fmt.Errorf("edge index size %d does not match order size %d", len(m.edges), m.edgeOrder.len())
	}

	indexed := 0
	for category, set := range m.categories {
		for _, id := range set.items {
			rec, ok := m.nodes[id]
			if !ok {
				return fmt.Errorf("category %q indexes missing node %q", category, id)
			}
			if rec.node.Category != category {
				return fmt.Errorf("node %q indexed under %q but has category %q", id, category, rec.node.Category)
			}
		}
		indexed += set.len()
	}
	if indexed != len(m.nodes) {
		return fmt.Errorf("category index holds %d nodes, model holds %d", indexed, len(m.nodes))
	}

	incident := 0
	for id, rec := range m.nodes {
		for _, k := range rec.incident.items {
			if !k.Touches(id) {
				return fmt.Errorf("node %q lists foreign edge %s", id, k)
			}
			if _, ok := m.edges[k]; !ok {
				return fmt.Errorf("node %q lists missing edge %s", id, k)
			}
		}
		incident += rec.incident.len()
	}
	for k := range m.edges {
		if _, ok := m.nodes[k.Source]; !ok {
			return fmt.Errorf("edge %s has dangling source", k)
		}
		if _, ok := m.nodes[k.Target]; !ok {
			return fmt.Errorf("edge %s has dangling target", k)
		}
	}
	if incident != 2*len(m.edges) {
		return fmt.Errorf("adjacency holds %d endpoints for %d edges", incident, len(m.edges))
	}
	return nil
}
