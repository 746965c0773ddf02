package render

import (
	"math"
	"sort"

	"github.com/Steake/GodelOS-sub005/domain/core/entities"
	"github.com/Steake/GodelOS-sub005/domain/core/valueobjects"
	"github.com/Steake/GodelOS-sub005/domain/graph"
	"github.com/Steake/GodelOS-sub005/domain/layout"
)

// Bodies exposes simulated positions. *layout.Simulation implements it.
type Bodies interface {
	Body(id string) (layout.BodyState, bool)
}

// NodeGlyph is the projected form of one node
type NodeGlyph struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Category string  `json:"category"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Depth    float64 `json:"depth"`
	Radius   float64 `json:"radius"`
	Color    string  `json:"color"`
	Selected bool    `json:"selected,omitempty"`
	Pinned   bool    `json:"pinned,omitempty"`
	Hidden   bool    `json:"hidden,omitempty"`
}

// EdgeGlyph is the projected form of one edge
type EdgeGlyph struct {
	Key    string  `json:"key"`
	Source string  `json:"source"`
	Target string  `json:"target"`
	Type   string  `json:"type"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
	Width  float64 `json:"width"`
	Hidden bool    `json:"hidden,omitempty"`
}

// Frame carries the glyphs that changed since the previous frame.
// A full frame carries every glyph and replaces whatever the consumer holds.
type Frame struct {
	Seq          uint64      `json:"seq"`
	Full         bool        `json:"full"`
	Nodes        []NodeGlyph `json:"nodes,omitempty"`
	Edges        []EdgeGlyph `json:"edges,omitempty"`
	RemovedNodes []string    `json:"removedNodes,omitempty"`
	RemovedEdges []string    `json:"removedEdges,omitempty"`
}

// Empty reports whether the frame carries no change
func (f Frame) Empty() bool {
	return !f.Full && len(f.Nodes) == 0 && len(f.Edges) == 0 &&
		len(f.RemovedNodes) == 0 && len(f.RemovedEdges) == 0
}

// Scene holds the projected glyphs and tracks which of them are stale.
// It is not safe for concurrent use.
type Scene struct {
	model    *graph.Model
	bodies   Bodies
	palette  *Palette
	viewport Viewport
	radius   float64

	nodes map[string]*NodeGlyph
	edges map[entities.EdgeKey]*EdgeGlyph

	dirtyNodes   map[string]struct{}
	dirtyEdges   map[entities.EdgeKey]struct{}
	removedNodes map[string]struct{}
	removedEdges map[entities.EdgeKey]struct{}
	full         bool
	seq          uint64

	selected string
	filter   func(entities.Node) bool
}

// NewScene creates a scene whose first frame is full
func NewScene(model *graph.Model, bodies Bodies, palette *Palette, viewport Viewport, radius float64) *Scene {
	return &Scene{
		model:        model,
		bodies:       bodies,
		palette:      palette,
		viewport:     viewport,
		radius:       radius,
		nodes:        make(map[string]*NodeGlyph),
		edges:        make(map[entities.EdgeKey]*EdgeGlyph),
		dirtyNodes:   make(map[string]struct{}),
		dirtyEdges:   make(map[entities.EdgeKey]struct{}),
		removedNodes: make(map[string]struct{}),
		removedEdges: make(map[entities.EdgeKey]struct{}),
		full:         true,
	}
}

// MarkNodes flags nodes for re-projection. Their incident edges follow.
func (s *Scene) MarkNodes(ids ...string) {
	for _, id := range ids {
		s.dirtyNodes[id] = struct{}{}
		delete(s.removedNodes, id)
	}
}

// MarkEdges flags edges for re-projection
func (s *Scene) MarkEdges(keys ...entities.EdgeKey) {
	for _, k := range keys {
		s.dirtyEdges[k] = struct{}{}
		delete(s.removedEdges, k)
	}
}

// RemoveNodes drops node glyphs
func (s *Scene) RemoveNodes(ids ...string) {
	for _, id := range ids {
		delete(s.dirtyNodes, id)
		if _, drawn := s.nodes[id]; drawn {
			delete(s.nodes, id)
			s.removedNodes[id] = struct{}{}
		}
		if s.selected == id {
			s.selected = ""
		}
	}
}

// RemoveEdges drops edge glyphs
func (s *Scene) RemoveEdges(keys ...entities.EdgeKey) {
	for _, k := range keys {
		delete(s.dirtyEdges, k)
		if _, drawn := s.edges[k]; drawn {
			delete(s.edges, k)
			s.removedEdges[k] = struct{}{}
		}
	}
}

// Invalidate forces the next frame to be full
func (s *Scene) Invalidate() {
	s.full = true
}

// Dirty reports whether the next frame would carry anything
func (s *Scene) Dirty() bool {
	return s.full || len(s.dirtyNodes) > 0 || len(s.dirtyEdges) > 0 ||
		len(s.removedNodes) > 0 || len(s.removedEdges) > 0
}

// Viewport returns the current viewport
func (s *Scene) Viewport() Viewport {
	return s.viewport
}

// SetViewport replaces the viewport
func (s *Scene) SetViewport(v Viewport) {
	s.viewport = v
	s.full = true
}

// PanBy shifts the view
func (s *Scene) PanBy(dx, dy float64) {
	s.viewport.PanBy(dx, dy)
	s.full = true
}

// ZoomAt zooms around a screen point
func (s *Scene) ZoomAt(factor float64, at Point) {
	s.viewport.ZoomAt(factor, at)
	s.full = true
}

// SetDepth turns perspective projection on or off
func (s *Scene) SetDepth(depth bool) {
	if s.viewport.Depth != depth {
		s.viewport.Depth = depth
		s.full = true
	}
}

// SetColorMode recolors every glyph
func (s *Scene) SetColorMode(mode layout.ColorMode) {
	if s.palette.SetMode(mode) {
		s.full = true
	}
}

// ColorMode returns the active color mode
func (s *Scene) ColorMode() layout.ColorMode {
	return s.palette.Mode()
}

// SetFilter hides the nodes the predicate rejects. A nil predicate shows all.
func (s *Scene) SetFilter(pred func(entities.Node) bool) {
	s.filter = pred
	s.full = true
}

// Selected returns the selected node id, if any
func (s *Scene) Selected() string {
	return s.selected
}

// Select highlights one node. An empty id clears the selection.
func (s *Scene) Select(id string) {
	if s.selected == id {
		return
	}
	if s.selected != "" {
		s.dirtyNodes[s.selected] = struct{}{}
	}
	s.selected = id
	if id != "" {
		s.dirtyNodes[id] = struct{}{}
	}
}

// Position returns the current layout position of a node
func (s *Scene) Position(id string) (valueobjects.Vector, bool) {
	if b, ok := s.bodies.Body(id); ok {
		return b.Position, true
	}
	if n, ok := s.model.Node(id); ok {
		return n.Position, true
	}
	return valueobjects.Vector{}, false
}

// Frame projects everything flagged since the previous call
func (s *Scene) Frame() Frame {
	s.seq++
	if s.full {
		return s.fullFrame()
	}

	f := Frame{Seq: s.seq}
	for id := range s.dirtyNodes {
		for _, k := range s.model.IncidentEdges(id) {
			s.dirtyEdges[k] = struct{}{}
		}
		n, ok := s.model.Node(id)
		if !ok {
			s.RemoveNodes(id)
			continue
		}
		g := s.projectNode(n)
		s.nodes[id] = &g
		f.Nodes = append(f.Nodes, g)
	}
	for k := range s.dirtyEdges {
		e, ok := s.model.Edge(k)
		if !ok {
			s.RemoveEdges(k)
			continue
		}
		g := s.projectEdge(e)
		s.edges[k] = &g
		f.Edges = append(f.Edges, g)
	}
	for id := range s.removedNodes {
		f.RemovedNodes = append(f.RemovedNodes, id)
	}
	for k := range s.removedEdges {
		f.RemovedEdges = append(f.RemovedEdges, k.String())
	}
	s.clearPending()

	sort.Slice(f.Nodes, func(i, j int) bool { return f.Nodes[i].ID < f.Nodes[j].ID })
	sort.Slice(f.Edges, func(i, j int) bool { return f.Edges[i].Key < f.Edges[j].Key })
	sort.Strings(f.RemovedNodes)
	sort.Strings(f.RemovedEdges)
	return f
}

func (s *Scene) fullFrame() Frame {
	if s.selected != "" && !s.model.Has(s.selected) {
		s.selected = ""
	}
	nodes := make(map[string]*NodeGlyph, s.model.NodeCount())
	for n := range s.model.Nodes() {
		g := s.projectNode(n)
		nodes[n.ID] = &g
	}
	s.nodes = nodes

	edges := make(map[entities.EdgeKey]*EdgeGlyph, s.model.EdgeCount())
	for e := range s.model.Edges() {
		g := s.projectEdge(e)
		edges[e.Key()] = &g
	}
	s.edges = edges

	s.full = false
	s.clearPending()
	return Frame{Seq: s.seq, Full: true, Nodes: s.Nodes(), Edges: s.Edges()}
}

func (s *Scene) clearPending() {
	clear(s.dirtyNodes)
	clear(s.dirtyEdges)
	clear(s.removedNodes)
	clear(s.removedEdges)
}

func (s *Scene) projectNode(n entities.Node) NodeGlyph {
	pos, pinned := n.Position, n.Pinned
	if b, ok := s.bodies.Body(n.ID); ok {
		pos, pinned = b.Position, b.Pinned || n.Pinned
	}
	pt, scale, visible := s.viewport.Project(pos)
	return NodeGlyph{
		ID:       n.ID,
		Label:    n.DisplayName(),
		Category: n.Category,
		X:        pt.X,
		Y:        pt.Y,
		Depth:    pos.Z,
		Radius:   math.Max(1, s.radius*(0.75+0.5*n.Importance)*scale),
		Color:    s.palette.Color(n).Hex(),
		Selected: n.ID == s.selected,
		Pinned:   pinned,
		Hidden:   !visible || (s.filter != nil && !s.filter(n)),
	}
}

func (s *Scene) projectEdge(e entities.Edge) EdgeGlyph {
	src, dst := s.endpoint(e.Source), s.endpoint(e.Target)
	return EdgeGlyph{
		Key:    e.Key().String(),
		Source: e.Source,
		Target: e.Target,
		Type:   string(e.Type),
		X1:     src.X,
		Y1:     src.Y,
		X2:     dst.X,
		Y2:     dst.Y,
		Width:  math.Max(0.5, math.Min(4, e.Weight)),
		Hidden: src.Hidden || dst.Hidden,
	}
}

// endpoint uses the node glyph, which Frame refreshes before any edge
func (s *Scene) endpoint(id string) NodeGlyph {
	if g, ok := s.nodes[id]; ok {
		return *g
	}
	if n, ok := s.model.Node(id); ok {
		return s.projectNode(n)
	}
	return NodeGlyph{ID: id, Hidden: true}
}

// Nodes returns every node glyph in paint order, far to near
func (s *Scene) Nodes() []NodeGlyph {
	out := make([]NodeGlyph, 0, len(s.nodes))
	for _, g := range s.nodes {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth > out[j].Depth
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Edges returns every edge glyph ordered by key
func (s *Scene) Edges() []EdgeGlyph {
	out := make([]EdgeGlyph, 0, len(s.edges))
	for _, g := range s.edges {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// HitTest returns the nearest visible node under a screen point
func (s *Scene) HitTest(pt Point) (string, bool) {
	const slop = 2.0
	best, bestDepth, bestDist := "", math.Inf(1), math.Inf(1)
	for id, g := range s.nodes {
		if g.Hidden {
			continue
		}
		d := pt.Distance(Point{X: g.X, Y: g.Y})
		if d > g.Radius+slop {
			continue
		}
		if g.Depth < bestDepth || (g.Depth == bestDepth && d < bestDist) ||
			(g.Depth == bestDepth && d == bestDist && id < best) {
			best, bestDepth, bestDist = id, g.Depth, d
		}
	}
	return best, best != ""
}
