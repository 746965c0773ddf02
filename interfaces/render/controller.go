package render

import (
	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/domain/core/entities"
	"github.com/Steake/GodelOS-sub005/domain/core/valueobjects"
	"github.com/Steake/GodelOS-sub005/domain/graph"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
	"github.com/Steake/GodelOS-sub005/pkg/validation"
)

// clickSlop is how far the pointer may travel, in pixels, and still count as a click
const clickSlop = 4.0

// Physics is the part of the layout engine driven by gestures
type Physics interface {
	Pin(id string) bool
	Unpin(id string) bool
	SetPosition(id string, pos valueobjects.Vector) error
}

// NodeRemover deletes a node everywhere it is held
type NodeRemover interface {
	RemoveNode(id string) error
}

// Phase is the stage of a pointer gesture
type Phase string

const (
	PhaseDown Phase = "down"
	PhaseMove Phase = "move"
	PhaseUp   Phase = "up"
)

// PointerEvent is one pointer sample in screen coordinates
type PointerEvent struct {
	Phase Phase   `json:"phase" validate:"required,oneof=down move up"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// NodeDetail is what a detail panel shows for the selected node
type NodeDetail struct {
	Node      entities.Node `json:"node"`
	Degree    int           `json:"degree"`
	Neighbors []string      `json:"neighbors"`
	Pinned    bool          `json:"pinned"`
}

type gestureKind int

const (
	gestureNone gestureKind = iota
	gestureDrag
	gesturePan
)

type gesture struct {
	kind      gestureKind
	id        string
	start     Point
	last      Point
	travelled bool
	wasPinned bool
}

type selectionListener struct{ fn func(*NodeDetail) }

// Controller turns gestures into layout pins, selection and deletions.
// Selection never writes to the graph model.
type Controller struct {
	model   *graph.Model
	physics Physics
	scene   *Scene
	remover NodeRemover
	logger  *zap.Logger

	gesture   gesture
	listeners []*selectionListener
}

// NewController creates a controller over a scene
func NewController(model *graph.Model, physics Physics, scene *Scene, remover NodeRemover, logger *zap.Logger) *Controller {
	return &Controller{
		model:   model,
		physics: physics,
		scene:   scene,
		remover: remover,
		logger:  logger.Named("render"),
	}
}

// Pointer dispatches one pointer event
func (c *Controller) Pointer(ev PointerEvent) error {
	if err := validation.Struct(ev); err != nil {
		return pkgerrors.NewValidationError("invalid pointer event: " + err.Error())
	}
	pt := Point{X: ev.X, Y: ev.Y}
	switch ev.Phase {
	case PhaseDown:
		c.PointerDown(pt)
		return nil
	case PhaseMove:
		return c.PointerMove(pt)
	default:
		return c.PointerUp(pt)
	}
}

// PointerDown starts dragging the node under the pointer, or panning if there is none
func (c *Controller) PointerDown(pt Point) {
	if id, ok := c.scene.HitTest(pt); ok {
		n, _ := c.model.Node(id)
		c.gesture = gesture{kind: gestureDrag, id: id, start: pt, last: pt, wasPinned: n.Pinned}
		c.pin(id)
		return
	}
	c.gesture = gesture{kind: gesturePan, start: pt, last: pt}
}

// PointerMove drags or pans
func (c *Controller) PointerMove(pt Point) error {
	g := &c.gesture
	if g.kind == gestureNone {
		return nil
	}
	if pt.Distance(g.start) > clickSlop {
		g.travelled = true
	}
	dx, dy := pt.X-g.last.X, pt.Y-g.last.Y
	g.last = pt

	switch g.kind {
	case gestureDrag:
		z := 0.0
		if pos, ok := c.scene.Position(g.id); ok {
			z = pos.Z
		}
		if err := c.physics.SetPosition(g.id, c.scene.Viewport().Unproject(pt, z)); err != nil {
			return err
		}
		c.scene.MarkNodes(g.id)
	case gesturePan:
		if g.travelled {
			c.scene.PanBy(dx, dy)
		}
	}
	return nil
}

// PointerUp ends the gesture. A drag that never travelled toggles selection;
// a pan that never travelled clears it.
func (c *Controller) PointerUp(pt Point) error {
	var err error
	if pt != c.gesture.last {
		err = c.PointerMove(pt)
	}
	g := c.gesture
	c.gesture = gesture{}

	switch g.kind {
	case gestureDrag:
		if !g.wasPinned {
			c.unpin(g.id)
		}
		if !g.travelled {
			c.ToggleSelect(g.id)
		}
	case gesturePan:
		if !g.travelled {
			c.ClearSelection()
		}
	}
	return err
}

// Dragging returns the node being dragged, if any
func (c *Controller) Dragging() (string, bool) {
	return c.gesture.id, c.gesture.kind == gestureDrag
}

// Pin fixes a node in place until Unpin
func (c *Controller) Pin(id string) error {
	if !c.model.Has(id) {
		return pkgerrors.NewNotFoundError("node " + id)
	}
	c.pin(id)
	return nil
}

// Unpin releases a node back into the simulation
func (c *Controller) Unpin(id string) error {
	if !c.model.Has(id) {
		return pkgerrors.NewNotFoundError("node " + id)
	}
	c.unpin(id)
	return nil
}

// TogglePin flips the pin of a node and returns the new state
func (c *Controller) TogglePin(id string) (bool, error) {
	n, ok := c.model.Node(id)
	if !ok {
		return false, pkgerrors.NewNotFoundError("node " + id)
	}
	if n.Pinned {
		c.unpin(id)
		return false, nil
	}
	c.pin(id)
	return true, nil
}

func (c *Controller) pin(id string) {
	c.physics.Pin(id)
	c.model.SetPinned(id, true)
	c.scene.MarkNodes(id)
}

func (c *Controller) unpin(id string) {
	c.physics.Unpin(id)
	c.model.SetPinned(id, false)
	c.scene.MarkNodes(id)
}

// Delete removes a node through the graph writer
func (c *Controller) Delete(id string) error {
	if !c.model.Has(id) {
		return pkgerrors.NewNotFoundError("node " + id)
	}
	if c.gesture.id == id {
		c.gesture = gesture{}
	}
	wasSelected := c.scene.Selected() == id
	if err := c.remover.RemoveNode(id); err != nil {
		return err
	}
	c.logger.Debug("Node deleted by user", zap.String("node_id", id))
	if wasSelected {
		c.scene.Select("")
		c.notify(nil)
	}
	return nil
}

// SetFilter limits which nodes are visible. A nil predicate shows all.
func (c *Controller) SetFilter(pred func(entities.Node) bool) {
	c.scene.SetFilter(pred)
}

// FilterCategories shows only the named categories. No names shows all.
func (c *Controller) FilterCategories(categories ...string) {
	if len(categories) == 0 {
		c.scene.SetFilter(nil)
		return
	}
	allowed := make(map[string]struct{}, len(categories))
	for _, cat := range categories {
		allowed[cat] = struct{}{}
	}
	c.scene.SetFilter(func(n entities.Node) bool {
		_, ok := allowed[n.Category]
		return ok
	})
}

// Select makes id the selected node
func (c *Controller) Select(id string) error {
	detail, ok := c.Detail(id)
	if !ok {
		return pkgerrors.NewNotFoundError("node " + id)
	}
	if c.scene.Selected() == id {
		return nil
	}
	c.scene.Select(id)
	c.notify(&detail)
	return nil
}

// ToggleSelect selects id, or clears the selection if id is already selected
func (c *Controller) ToggleSelect(id string) {
	if c.scene.Selected() == id {
		c.ClearSelection()
		return
	}
	if err := c.Select(id); err != nil {
		c.logger.Debug("Selection target vanished", zap.String("node_id", id))
	}
}

// ClearSelection deselects whatever is selected
func (c *Controller) ClearSelection() {
	if c.scene.Selected() == "" {
		return
	}
	c.scene.Select("")
	c.notify(nil)
}

// Selected returns the detail of the selected node
func (c *Controller) Selected() (NodeDetail, bool) {
	id := c.scene.Selected()
	if id == "" {
		return NodeDetail{}, false
	}
	return c.Detail(id)
}

// Detail describes one node
func (c *Controller) Detail(id string) (NodeDetail, bool) {
	n, ok := c.model.Node(id)
	if !ok {
		return NodeDetail{}, false
	}
	neighbors := c.model.Neighbors(id)
	if neighbors == nil {
		neighbors = []string{}
	}
	return NodeDetail{
		Node:      n,
		Degree:    c.model.Degree(id),
		Neighbors: neighbors,
		Pinned:    n.Pinned,
	}, true
}

// OnSelect registers a listener called with the new selection, or nil when cleared
func (c *Controller) OnSelect(fn func(*NodeDetail)) func() {
	l := &selectionListener{fn: fn}
	c.listeners = append(c.listeners, l)
	return func() {
		for i, existing := range c.listeners {
			if existing == l {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Controller) notify(detail *NodeDetail) {
	for _, l := range append([]*selectionListener(nil), c.listeners...) {
		l.fn(detail)
	}
}
