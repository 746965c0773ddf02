package layout

import (
	"iter"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Steake/GodelOS-sub005/domain/core/valueobjects"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

type body struct {
	id     string
	pos    valueobjects.Vector
	vel    valueobjects.Vector
	heat   float64
	pinned bool
}

type link struct {
	id     string
	source string
	target string
	weight float64
}

// BodyState is a read-only view of one simulated body
type BodyState struct {
	ID       string              `json:"id"`
	Position valueobjects.Vector `json:"position"`
	Velocity valueobjects.Vector `json:"velocity"`
	Heat     float64             `json:"heat"`
	Pinned   bool                `json:"pinned"`
}

// StepResult reports what a call to Step achieved
type StepResult struct {
	Completed bool
	Errors    []*pkgerrors.SimulationError
	Alpha     float64
}

type phase int

const (
	phaseIdle phase = iota
	phaseRepulsion
)

// tickState is the partial progress of the tick in flight
type tickState struct {
	phase  phase
	hot    []bool
	forces []valueobjects.Vector
	tree   *octree
	cursor int
}

// Simulation advances body positions towards a force-directed equilibrium.
// Heat is tracked per body so that a mutation only agitates its neighbourhood.
type Simulation struct {
	opts   Options
	params Params
	rng    *rand.Rand
	now    func() time.Time

	bodies []*body
	index  map[string]int

	links     []*link
	linkIndex map[string]int
	incident  map[string]map[string]struct{}
	degree    map[string]int

	depths        map[string]int
	maxDepth      int
	topologyDirty bool

	placed int
	ticks  uint64
	tick   tickState
	moved  map[string]struct{}
}

// SimOption configures a Simulation
type SimOption func(*Simulation)

// WithSeed makes jitter deterministic
func WithSeed(seed uint64) SimOption {
	return func(s *Simulation) {
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithClock replaces the clock used for frame budgets
func WithClock(now func() time.Time) SimOption {
	return func(s *Simulation) {
		s.now = now
	}
}

// WithParams replaces the numeric constants
func WithParams(p Params) SimOption {
	return func(s *Simulation) {
		s.params = p
	}
}

// NewSimulation creates an empty simulation
func NewSimulation(opts Options, options ...SimOption) *Simulation {
	s := &Simulation{
		opts:      opts,
		params:    DefaultParams(),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:       time.Now,
		index:     make(map[string]int),
		linkIndex: make(map[string]int),
		incident:  make(map[string]map[string]struct{}),
		degree:    make(map[string]int),
		moved:     make(map[string]struct{}),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Options returns the current layout options
func (s *Simulation) Options() Options {
	return s.opts
}

// Params returns the numeric constants
func (s *Simulation) Params() Params {
	return s.params
}

// SetOptions applies new options. Positions are kept across mode switches;
// planar modes flatten z. Every free body is reheated.
func (s *Simulation) SetOptions(o Options) error {
	if err := o.Validate(); err != nil {
		return err
	}
	modeChanged := o.Mode != s.opts.Mode
	layoutChanged := modeChanged || o.LinkStrength != s.opts.LinkStrength || o.ChargeStrength != s.opts.ChargeStrength
	s.opts = o
	if !layoutChanged {
		return nil
	}
	if modeChanged {
		s.topologyDirty = true
		if o.Mode.Planar() {
			for _, b := range s.bodies {
				if b.pos.Z != 0 || b.vel.Z != 0 {
					b.pos.Z, b.vel.Z = 0, 0
					s.moved[b.id] = struct{}{}
				}
			}
		}
	}
	for _, b := range s.bodies {
		if !b.pinned {
			b.heat = math.Max(b.heat, s.params.ReheatAlpha)
		}
	}
	s.invalidate()
	return nil
}

// Len returns the number of bodies
func (s *Simulation) Len() int {
	return len(s.bodies)
}

// Ticks returns the number of completed ticks
func (s *Simulation) Ticks() uint64 {
	return s.ticks
}

// InFlight reports whether a tick has been started but not completed
func (s *Simulation) InFlight() bool {
	return s.tick.phase != phaseIdle
}

// AddBody inserts a body placed near the first known neighbour, or on a
// phyllotaxis spiral around the centre when none is known. New bodies start hot.
func (s *Simulation) AddBody(id string, near ...string) bool {
	if _, ok := s.index[id]; ok {
		return false
	}
	b := &body{id: id, heat: 1, pos: s.initialPosition(near)}
	s.index[id] = len(s.bodies)
	s.bodies = append(s.bodies, b)
	s.moved[id] = struct{}{}
	s.topologyDirty = true
	s.invalidate()
	return true
}

func (s *Simulation) initialPosition(near []string) valueobjects.Vector {
	planar := s.opts.Mode.Planar()
	for _, n := range near {
		i, ok := s.index[n]
		if !ok {
			continue
		}
		r := s.params.LinkDistance / 2
		offset := valueobjects.Vector{X: (s.rng.Float64() - 0.5) * r, Y: (s.rng.Float64() - 0.5) * r}
		if !planar {
			offset.Z = (s.rng.Float64() - 0.5) * r
		}
		return s.bodies[i].pos.Add(offset)
	}

	i := float64(s.placed)
	s.placed++
	radius := s.params.InitialRadius * math.Sqrt(0.5+i)
	angle := i * math.Pi * (3 - math.Sqrt(5))
	pos := valueobjects.Vector{X: radius * math.Cos(angle), Y: radius * math.Sin(angle)}
	if !planar {
		pos.Z = (s.rng.Float64() - 0.5) * radius
	}
	return s.params.Center.Add(pos)
}

// RemoveBody deletes a body and its links, reheating its former neighbours
func (s *Simulation) RemoveBody(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	neighbours := s.neighbours(id)
	for linkID := range s.incident[id] {
		s.dropLink(linkID)
	}
	delete(s.incident, id)
	delete(s.degree, id)

	last := len(s.bodies) - 1
	if i != last {
		s.bodies[i] = s.bodies[last]
		s.index[s.bodies[i].id] = i
	}
	s.bodies[last] = nil
	s.bodies = s.bodies[:last]
	delete(s.index, id)
	delete(s.moved, id)

	s.heatUp(neighbours)
	s.topologyDirty = true
	s.invalidate()
	return true
}

// UpsertLink adds or reweights a spring between two existing bodies.
// Returns false when an endpoint is unknown.
func (s *Simulation) UpsertLink(id, source, target string, weight float64) bool {
	if _, ok := s.index[source]; !ok {
		return false
	}
	if _, ok := s.index[target]; !ok {
		return false
	}
	if i, ok := s.linkIndex[id]; ok {
		if s.links[i].weight != weight {
			s.links[i].weight = weight
			s.Reheat(source, target)
		}
		return true
	}

	s.linkIndex[id] = len(s.links)
	s.links = append(s.links, &link{id: id, source: source, target: target, weight: weight})
	for _, end := range []string{source, target} {
		if s.incident[end] == nil {
			s.incident[end] = make(map[string]struct{})
		}
		s.incident[end][id] = struct{}{}
		s.degree[end]++
	}
	s.topologyDirty = true
	s.Reheat(source, target)
	return true
}

// RemoveLink deletes a spring and reheats its endpoints
func (s *Simulation) RemoveLink(id string) bool {
	i, ok := s.linkIndex[id]
	if !ok {
		return false
	}
	l := s.links[i]
	s.dropLink(id)
	s.topologyDirty = true
	s.Reheat(l.source, l.target)
	return true
}

func (s *Simulation) dropLink(id string) {
	i, ok := s.linkIndex[id]
	if !ok {
		return
	}
	l := s.links[i]
	last := len(s.links) - 1
	if i != last {
		s.links[i] = s.links[last]
		s.linkIndex[s.links[i].id] = i
	}
	s.links[last] = nil
	s.links = s.links[:last]
	delete(s.linkIndex, id)

	for _, end := range []string{l.source, l.target} {
		delete(s.incident[end], id)
		if s.degree[end]--; s.degree[end] <= 0 {
			delete(s.degree, end)
		}
	}
}

func (s *Simulation) neighbours(id string) []string {
	out := make([]string, 0, len(s.incident[id]))
	for linkID := range s.incident[id] {
		l := s.links[s.linkIndex[linkID]]
		if l.source == id {
			out = append(out, l.target)
		} else {
			out = append(out, l.source)
		}
	}
	return out
}

// Reheat raises the heat of the given bodies and their direct neighbours.
// Bodies outside that neighbourhood keep their heat.
func (s *Simulation) Reheat(ids ...string) {
	for _, id := range ids {
		s.heatUp([]string{id})
		s.heatUp(s.neighbours(id))
	}
}

func (s *Simulation) heatUp(ids []string) {
	for _, id := range ids {
		if i, ok := s.index[id]; ok && !s.bodies[i].pinned {
			s.bodies[i].heat = math.Max(s.bodies[i].heat, s.params.ReheatAlpha)
		}
	}
}

// Pin fixes a body at its current position and removes it from force application
func (s *Simulation) Pin(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	b := s.bodies[i]
	b.pinned = true
	b.vel = valueobjects.Vector{}
	b.heat = 0
	s.invalidate()
	return true
}

// Unpin releases a body back into the simulation
func (s *Simulation) Unpin(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.bodies[i].pinned = false
	s.Reheat(id)
	s.invalidate()
	return true
}

// SetPosition moves a body directly. Used for drags of pinned bodies.
func (s *Simulation) SetPosition(id string, pos valueobjects.Vector) error {
	i, ok := s.index[id]
	if !ok {
		return pkgerrors.NewNotFoundError("body " + id)
	}
	if !pos.IsFinite() {
		return pkgerrors.NewValidationError("invalid coordinates: must be finite numbers")
	}
	if s.opts.Mode.Planar() {
		pos.Z = 0
	}
	b := s.bodies[i]
	b.pos = pos
	b.vel = valueobjects.Vector{}
	s.moved[id] = struct{}{}
	if !b.pinned {
		s.Reheat(id)
	}
	s.invalidate()
	return nil
}

// Body returns the state of one body
func (s *Simulation) Body(id string) (BodyState, bool) {
	i, ok := s.index[id]
	if !ok {
		return BodyState{}, false
	}
	return s.bodies[i].state(), true
}

// Bodies yields the state of every body
func (s *Simulation) Bodies() iter.Seq[BodyState] {
	return func(yield func(BodyState) bool) {
		for _, b := range s.bodies {
			if !yield(b.state()) {
				return
			}
		}
	}
}

func (b *body) state() BodyState {
	return BodyState{ID: b.id, Position: b.pos, Velocity: b.vel, Heat: b.heat, Pinned: b.pinned}
}

// DrainMoved returns the ids whose position changed since the last call
func (s *Simulation) DrainMoved() []string {
	if len(s.moved) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.moved))
	for id := range s.moved {
		out = append(out, id)
	}
	clear(s.moved)
	return out
}

// Alpha is the highest heat among free bodies
func (s *Simulation) Alpha() float64 {
	alpha := 0.0
	for _, b := range s.bodies {
		if !b.pinned && b.heat > alpha {
			alpha = b.heat
		}
	}
	return alpha
}

// Active reports whether ticks still have work to do
func (s *Simulation) Active() bool {
	return s.InFlight() || s.Alpha() >= s.params.AlphaMin
}

// invalidate discards a partially computed tick after a mutation
func (s *Simulation) invalidate() {
	s.tick.phase = phaseIdle
	s.tick.tree = nil
}
