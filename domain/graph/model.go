// Package graph holds the canonical node and edge store.
package graph

import (
	"errors"
	"reflect"
	"time"

	"github.com/Steake/GodelOS-sub005/domain/core/entities"
	"github.com/Steake/GodelOS-sub005/domain/core/valueobjects"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
	"github.com/Steake/GodelOS-sub005/pkg/validation"
)

// Defaults applied to fields a node or edge arrives without
const (
	DefaultImportance = 0.5
	DefaultConfidence = 0.5
	DefaultEdgeWeight = 1.0
)

// NodeUpdate is a partial node. Nil fields are left untouched.
type NodeUpdate struct {
	ID         string `validate:"required"`
	Category   *string
	Label      *string
	Importance *float64 `validate:"omitempty,gte=0,lte=1"`
	Confidence *float64 `validate:"omitempty,gte=0,lte=1"`
	Recency    *time.Time
	Attributes map[string]interface{}
}

// EdgeUpdate upserts an edge. A nil weight keeps the stored weight.
type EdgeUpdate struct {
	Source string `validate:"required"`
	Target string `validate:"required"`
	Type   entities.EdgeType
	Weight *float64 `validate:"omitempty,gte=0"`
}

// Key returns the identity of the edge the update targets
func (u EdgeUpdate) Key() entities.EdgeKey {
	t := u.Type
	if t == "" {
		t = entities.EdgeTypeRelated
	}
	return entities.EdgeKey{Source: u.Source, Target: u.Target, Type: t}
}

// Delta lists the ids touched by a bulk mutation
type Delta struct {
	Nodes        []string
	RemovedNodes []string
	Edges        []entities.EdgeKey
	RemovedEdges []entities.EdgeKey
}

// Empty reports whether nothing changed
func (d Delta) Empty() bool {
	return len(d.Nodes) == 0 && len(d.RemovedNodes) == 0 && len(d.Edges) == 0 && len(d.RemovedEdges) == 0
}

type field int

const (
	fieldCategory field = iota
	fieldLabel
	fieldImportance
	fieldConfidence
	fieldRecency
	fieldAttributes
	numFields
)

type nodeRecord struct {
	node     entities.Node
	stamps   [numFields]time.Time
	incident *orderedSet[entities.EdgeKey]
}

type edgeRecord struct {
	edge  entities.Edge
	stamp time.Time
}

// Model is the canonical node/edge store. It is not safe for concurrent use;
// the engine confines it to the event loop.
type Model struct {
	nodes      map[string]*nodeRecord
	nodeOrder  *orderedSet[string]
	edges      map[entities.EdgeKey]*edgeRecord
	edgeOrder  *orderedSet[entities.EdgeKey]
	categories map[string]*orderedSet[string]
	version    uint64
}

// NewModel creates an empty model
func NewModel() *Model {
	return &Model{
		nodes:      make(map[string]*nodeRecord),
		nodeOrder:  newOrderedSet[string](),
		edges:      make(map[entities.EdgeKey]*edgeRecord),
		edgeOrder:  newOrderedSet[entities.EdgeKey](),
		categories: make(map[string]*orderedSet[string]),
	}
}

// Version increases on every data mutation. Kinematics and pins do not count.
func (m *Model) Version() uint64 {
	return m.version
}

// NodeCount returns the number of nodes
func (m *Model) NodeCount() int {
	return m.nodeOrder.len()
}

// EdgeCount returns the number of edges
func (m *Model) EdgeCount() int {
	return m.edgeOrder.len()
}

// UpsertNode merges u into the node with the same id, creating it when absent.
// Each field is last-writer-wins against the stamp of its previous write.
func (m *Model) UpsertNode(u NodeUpdate, stamp time.Time) (bool, error) {
	if err := validation.Struct(u); err != nil {
		return false, pkgerrors.NewProtocolError("invalid node: " + err.Error())
	}

	rec, exists := m.nodes[u.ID]
	if !exists {
		rec = m.insertNode(u.ID)
	}
	changed := m.merge(rec, u, stamp) || !exists
	if changed {
		m.version++
	}
	return changed, nil
}

func (m *Model) insertNode(id string) *nodeRecord {
	rec := &nodeRecord{
		node: entities.Node{
			ID:         id,
			Category:   entities.DefaultCategory,
			Importance: DefaultImportance,
			Confidence: DefaultConfidence,
		},
		incident: newOrderedSet[entities.EdgeKey](),
	}
	m.nodes[id] = rec
	m.nodeOrder.add(id)
	m.indexCategory(rec.node.Category, id)
	return rec
}

func (m *Model) merge(rec *nodeRecord, u NodeUpdate, stamp time.Time) bool {
	accept := func(f field) bool {
		if stamp.Before(rec.stamps[f]) {
			return false
		}
		rec.stamps[f] = stamp
		return true
	}

	changed := false
	if u.Category != nil && accept(fieldCategory) {
		category := *u.Category
		if category == "" {
			category = entities.DefaultCategory
		}
		if category != rec.node.Category {
			m.unindexCategory(rec.node.Category, rec.node.ID)
			rec.node.Category = category
			m.indexCategory(category, rec.node.ID)
			changed = true
		}
	}
	if u.Label != nil && accept(fieldLabel) && *u.Label != rec.node.Label {
		rec.node.Label = *u.Label
		changed = true
	}
	if u.Importance != nil && accept(fieldImportance) && *u.Importance != rec.node.Importance {
		rec.node.Importance = *u.Importance
		changed = true
	}
	if u.Confidence != nil && accept(fieldConfidence) && *u.Confidence != rec.node.Confidence {
		rec.node.Confidence = *u.Confidence
		changed = true
	}
	if u.Recency != nil && accept(fieldRecency) && !u.Recency.Equal(rec.node.Recency) {
		rec.node.Recency = *u.Recency
		changed = true
	}
	if u.Attributes != nil && accept(fieldAttributes) {
		for k, v := range u.Attributes {
			current, ok := rec.node.Attributes[k]
			switch {
			case v == nil:
				if ok {
					delete(rec.node.Attributes, k)
					changed = true
				}
			case !ok || !reflect.DeepEqual(current, v):
				if rec.node.Attributes == nil {
					rec.node.Attributes = make(map[string]interface{})
				}
				rec.node.Attributes[k] = v
				changed = true
			}
		}
	}
	return changed
}

// UpsertEdge creates or updates an edge. Both endpoints must already exist.
func (m *Model) UpsertEdge(u EdgeUpdate, stamp time.Time) (bool, error) {
	if err := validation.Struct(u); err != nil {
		return false, pkgerrors.NewProtocolError("invalid edge: " + err.Error())
	}
	key := u.Key()
	if u.Source == u.Target {
		return false, pkgerrors.NewProtocolError("self-referencing edge").
			WithDetail("edge", key.String())
	}
	src, ok := m.nodes[u.Source]
	if !ok {
		return false, pkgerrors.NewProtocolError("edge references missing endpoint").
			WithDetail("edge", key.String()).
			WithDetail("missing", u.Source)
	}
	dst, ok := m.nodes[u.Target]
	if !ok {
		return false, pkgerrors.NewProtocolError("edge references missing endpoint").
			WithDetail("edge", key.String()).
			WithDetail("missing", u.Target)
	}

	if rec, exists := m.edges[key]; exists {
		if stamp.Before(rec.stamp) {
			return false, nil
		}
		rec.stamp = stamp
		if u.Weight == nil || *u.Weight == rec.edge.Weight {
			return false, nil
		}
		rec.edge.Weight = *u.Weight
		m.version++
		return true, nil
	}

	weight := DefaultEdgeWeight
	if u.Weight != nil {
		weight = *u.Weight
	}
	m.edges[key] = &edgeRecord{
		edge:  entities.Edge{Source: key.Source, Target: key.Target, Type: key.Type, Weight: weight},
		stamp: stamp,
	}
	m.edgeOrder.add(key)
	src.incident.add(key)
	dst.incident.add(key)
	m.version++
	return true, nil
}

// RemoveNode deletes a node together with its incident edges and returns the removed edge keys
func (m *Model) RemoveNode(id string) ([]entities.EdgeKey, bool) {
	rec, ok := m.nodes[id]
	if !ok {
		return nil, false
	}
	removed := rec.incident.snapshot()
	for _, k := range removed {
		m.dropEdge(k)
	}
	m.unindexCategory(rec.node.Category, id)
	m.nodeOrder.remove(id)
	delete(m.nodes, id)
	m.version++
	return removed, true
}

// RemoveEdge deletes a single edge
func (m *Model) RemoveEdge(key entities.EdgeKey) bool {
	if key.Type == "" {
		key.Type = entities.EdgeTypeRelated
	}
	if _, ok := m.edges[key]; !ok {
		return false
	}
	m.dropEdge(key)
	m.version++
	return true
}

func (m *Model) dropEdge(key entities.EdgeKey) {
	delete(m.edges, key)
	m.edgeOrder.remove(key)
	if rec, ok := m.nodes[key.Source]; ok {
		rec.incident.remove(key)
	}
	if rec, ok := m.nodes[key.Target]; ok {
		rec.incident.remove(key)
	}
}

// Replace makes the model equal to the given snapshot. Nodes that survive keep
// their position, velocity and pin. Invalid entries are skipped and reported
// through the joined error while the rest of the snapshot is applied.
func (m *Model) Replace(nodes []NodeUpdate, edges []EdgeUpdate, stamp time.Time) (Delta, error) {
	var (
		delta Delta
		errs  []error
	)

	valid := make([]NodeUpdate, 0, len(nodes))
	keep := make(map[string]struct{}, len(nodes))
	for _, u := range nodes {
		if err := validation.Struct(u); err != nil {
			errs = append(errs, pkgerrors.NewProtocolError("invalid node: "+err.Error()))
			continue
		}
		valid = append(valid, u)
		keep[u.ID] = struct{}{}
	}

	for _, id := range m.nodeOrder.snapshot() {
		if _, ok := keep[id]; ok {
			continue
		}
		removedEdges, _ := m.RemoveNode(id)
		delta.RemovedNodes = append(delta.RemovedNodes, id)
		delta.RemovedEdges = append(delta.RemovedEdges, removedEdges...)
	}

	seen := make(map[string]struct{}, len(valid))
	for _, u := range valid {
		rec, exists := m.nodes[u.ID]
		if !exists {
			rec = m.insertNode(u.ID)
			m.merge(rec, u, stamp)
			m.version++
			delta.Nodes = append(delta.Nodes, u.ID)
			seen[u.ID] = struct{}{}
			continue
		}
		if _, dup := seen[u.ID]; dup {
			if m.merge(rec, u, stamp) {
				m.version++
			}
			continue
		}
		seen[u.ID] = struct{}{}
		before := rec.node.Clone()
		m.resetFields(rec)
		m.merge(rec, u, stamp)
		if !sameData(before, rec.node) {
			m.version++
			delta.Nodes = append(delta.Nodes, u.ID)
		}
	}

	want := make(map[entities.EdgeKey]struct{}, len(edges))
	for _, e := range edges {
		want[e.Key()] = struct{}{}
	}
	for _, k := range m.edgeOrder.snapshot() {
		if _, ok := want[k]; ok {
			continue
		}
		m.dropEdge(k)
		m.version++
		delta.RemovedEdges = append(delta.RemovedEdges, k)
	}
	for _, e := range edges {
		if e.Weight == nil {
			w := DefaultEdgeWeight
			e.Weight = &w
		}
		if rec, ok := m.edges[e.Key()]; ok {
			rec.stamp = time.Time{}
		}
		changed, err := m.UpsertEdge(e, stamp)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			delta.Edges = append(delta.Edges, e.Key())
		}
	}

	return delta, errors.Join(errs...)
}

func (m *Model) resetFields(rec *nodeRecord) {
	if rec.node.Category != entities.DefaultCategory {
		m.unindexCategory(rec.node.Category, rec.node.ID)
		m.indexCategory(entities.DefaultCategory, rec.node.ID)
	}
	rec.node.Category = entities.DefaultCategory
	rec.node.Label = ""
	rec.node.Importance = DefaultImportance
	rec.node.Confidence = DefaultConfidence
	rec.node.Recency = time.Time{}
	rec.node.Attributes = nil
	rec.stamps = [numFields]time.Time{}
}

func sameData(a, b entities.Node) bool {
	return a.Category == b.Category &&
		a.Label == b.Label &&
		a.Importance == b.Importance &&
		a.Confidence == b.Confidence &&
		a.Recency.Equal(b.Recency) &&
		len(a.Attributes) == len(b.Attributes) &&
		(len(a.Attributes) == 0 || reflect.DeepEqual(a.Attributes, b.Attributes))
}

// SetKinematics writes position and velocity. Reserved for the layout adapter.
func (m *Model) SetKinematics(id string, position, velocity valueobjects.Vector) bool {
	rec, ok := m.nodes[id]
	if !ok {
		return false
	}
	rec.node.Position = position
	rec.node.Velocity = velocity
	return true
}

// SetPinned writes the pin flag. Reserved for the interaction layer.
func (m *Model) SetPinned(id string, pinned bool) bool {
	rec, ok := m.nodes[id]
	if !ok {
		return false
	}
	rec.node.Pinned = pinned
	return true
}

func (m *Model) indexCategory(category, id string) {
	set, ok := m.categories[category]
	if !ok {
		set = newOrderedSet[string]()
		m.categories[category] = set
	}
	set.add(id)
}

func (m *Model) unindexCategory(category, id string) {
	set, ok := m.categories[category]
	if !ok {
		return
	}
	set.remove(id)
	if set.len() == 0 {
		delete(m.categories, category)
	}
}
