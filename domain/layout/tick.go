package layout

import (
	"math"
	"time"

	"github.com/Steake/GodelOS-sub005/domain/core/valueobjects"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

// Tick runs one complete tick regardless of cost
func (s *Simulation) Tick() StepResult {
	return s.step(time.Time{})
}

// Step advances the simulation by at most one tick within budget. Repulsion
// is processed in chunks; when the budget runs out the partial progress is
// kept and the next call resumes it. At least one chunk is processed per call.
func (s *Simulation) Step(budget time.Duration) StepResult {
	return s.step(s.now().Add(budget))
}

func (s *Simulation) step(deadline time.Time) StepResult {
	if s.tick.phase == phaseIdle {
		if s.Alpha() < s.params.AlphaMin {
			return StepResult{}
		}
		s.begin()
	}
	if !s.repulse(deadline) {
		return StepResult{Alpha: s.Alpha()}
	}
	errs := s.finish()
	return StepResult{Completed: true, Errors: errs, Alpha: s.Alpha()}
}

func (s *Simulation) begin() {
	n := len(s.bodies)
	s.tick.hot = resize(s.tick.hot, n)
	s.tick.forces = resize(s.tick.forces, n)
	for i, b := range s.bodies {
		s.tick.hot[i] = !b.pinned && b.heat >= s.params.AlphaMin
		s.tick.forces[i] = valueobjects.Vector{}
	}
	s.tick.cursor = 0
	s.tick.tree = nil
	s.tick.phase = phaseRepulsion

	if !s.chargeEnabled() {
		s.tick.cursor = n
		return
	}
	if n > s.params.BarnesHutThreshold {
		positions := make([]valueobjects.Vector, n)
		for i, b := range s.bodies {
			positions[i] = b.pos
		}
		s.tick.tree = buildOctree(positions)
	}
}

func resize[T any](buf []T, n int) []T {
	if cap(buf) < n {
		return make([]T, n)
	}
	return buf[:n]
}

func (s *Simulation) chargeEnabled() bool {
	return s.opts.Mode != ModeCircular && s.opts.ChargeStrength != 0
}

// repulse computes many-body forces into the force buffer. Positions do not
// change while a tick is in flight, so chunked and unchunked runs agree.
func (s *Simulation) repulse(deadline time.Time) bool {
	n := len(s.bodies)
	chunk := max(1, s.params.ChunkSize)
	for s.tick.cursor < n {
		end := min(n, s.tick.cursor+chunk)
		for i := s.tick.cursor; i < end; i++ {
			if s.tick.hot[i] {
				s.tick.forces[i] = s.chargeOn(i)
			}
		}
		s.tick.cursor = end
		if s.tick.cursor < n && !deadline.IsZero() && !s.now().Before(deadline) {
			return false
		}
	}
	return true
}

func (s *Simulation) chargeOn(i int) valueobjects.Vector {
	b := s.bodies[i]
	strength := s.opts.ChargeStrength
	var f valueobjects.Vector

	if s.tick.tree != nil {
		theta2 := s.params.Theta * s.params.Theta
		s.tick.tree.forEachSource(i, theta2, func(p valueobjects.Vector, mass float64) {
			f = f.Add(s.pairForce(b.pos, p, strength*mass, b.heat))
		})
		return f
	}
	for j, o := range s.bodies {
		if j != i {
			f = f.Add(s.pairForce(b.pos, o.pos, strength, b.heat))
		}
	}
	return f
}

// pairForce is the velocity change on a body at from caused by a charge at to
func (s *Simulation) pairForce(from, to valueobjects.Vector, strength, alpha float64) valueobjects.Vector {
	d := s.jiggled(to.Sub(from))
	l := d.LengthSq()
	if dmin2 := s.params.DistanceMin * s.params.DistanceMin; l < dmin2 {
		l = math.Sqrt(dmin2 * l)
	}
	return d.Scale(strength * alpha / l)
}

func (s *Simulation) jiggled(d valueobjects.Vector) valueobjects.Vector {
	if d.X == 0 {
		d.X = s.jiggle()
	}
	if d.Y == 0 {
		d.Y = s.jiggle()
	}
	if s.opts.Mode.Planar() {
		d.Z = 0
	} else if d.Z == 0 {
		d.Z = s.jiggle()
	}
	return d
}

func (s *Simulation) jiggle() float64 {
	return (s.rng.Float64() - 0.5) * 1e-6
}

func (s *Simulation) finish() []*pkgerrors.SimulationError {
	hot := s.tick.hot
	for i, b := range s.bodies {
		if hot[i] {
			b.vel = b.vel.Add(s.tick.forces[i])
		}
	}

	switch s.opts.Mode {
	case ModeCircular:
		s.applyCircle(hot)
	case ModeHierarchical:
		s.applyLinks(hot)
		s.applyHierarchy(hot)
	default:
		s.applyLinks(hot)
	}
	s.applyCenter(hot)

	errs := s.integrate(hot)
	s.decay(hot)

	s.tick.phase = phaseIdle
	s.tick.tree = nil
	s.ticks++
	return errs
}

// applyLinks pulls linked bodies towards LinkDistance. Strength is scaled by
// weight and normalised by the smaller endpoint degree; the bias moves the
// lower-degree endpoint more.
func (s *Simulation) applyLinks(hot []bool) {
	if s.opts.LinkStrength == 0 {
		return
	}
	for _, l := range s.links {
		si, ti := s.index[l.source], s.index[l.target]
		if !hot[si] && !hot[ti] {
			continue
		}
		src, dst := s.bodies[si], s.bodies[ti]
		ds, dt := float64(s.degree[l.source]), float64(s.degree[l.target])
		strength := s.opts.LinkStrength * l.weight / math.Min(ds, dt)
		bias := ds / (ds + dt)
		alpha := math.Max(src.heat, dst.heat)

		d := s.jiggled(dst.pos.Add(dst.vel).Sub(src.pos.Add(src.vel)))
		dist := d.Length()
		d = d.Scale((dist - s.params.LinkDistance) / dist * alpha * strength)

		if hot[ti] {
			dst.vel = dst.vel.Sub(d.Scale(bias))
		}
		if hot[si] {
			src.vel = src.vel.Add(d.Scale(1 - bias))
		}
	}
}

// applyCenter is the single global pull towards the focal point. Disjoint
// components share it and may overlap.
func (s *Simulation) applyCenter(hot []bool) {
	k := s.params.CenterStrength
	if k == 0 {
		return
	}
	for i, b := range s.bodies {
		if hot[i] {
			b.vel = b.vel.Add(s.params.Center.Sub(b.pos).Scale(k * b.heat))
		}
	}
}

func (s *Simulation) applyHierarchy(hot []bool) {
	s.ensureDepths()
	k := s.params.HierarchyStrength
	offset := float64(s.maxDepth) / 2
	for i, b := range s.bodies {
		if !hot[i] {
			continue
		}
		target := s.params.Center.Y + (float64(s.depths[b.id])-offset)*s.params.LevelGap
		b.vel.Y += (target - b.pos.Y) * k * b.heat
	}
}

func (s *Simulation) applyCircle(hot []bool) {
	n := len(s.bodies)
	if n == 0 {
		return
	}
	radius := math.Max(s.params.LinkDistance, float64(n)*s.params.CircleSpacing/(2*math.Pi))
	k := s.params.CircleStrength
	for i, b := range s.bodies {
		if !hot[i] {
			continue
		}
		angle := 2 * math.Pi * float64(i) / float64(n)
		target := s.params.Center.Add(valueobjects.Vector{X: radius * math.Cos(angle), Y: radius * math.Sin(angle)})
		b.vel = b.vel.Add(target.Sub(b.pos).Scale(k * b.heat))
	}
}

// ensureDepths assigns breadth-first depths along link direction. Bodies
// without incoming links are roots; cycles without a root start at depth 0.
func (s *Simulation) ensureDepths() {
	if !s.topologyDirty && s.depths != nil {
		return
	}
	out := make(map[string][]string, len(s.links))
	indegree := make(map[string]int, len(s.links))
	for _, l := range s.links {
		out[l.source] = append(out[l.source], l.target)
		indegree[l.target]++
	}

	depths := make(map[string]int, len(s.bodies))
	maxDepth := 0
	var queue []string
	drain := func() {
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			for _, next := range out[id] {
				if _, seen := depths[next]; seen {
					continue
				}
				depths[next] = depths[id] + 1
				maxDepth = max(maxDepth, depths[next])
				queue = append(queue, next)
			}
		}
	}
	for _, b := range s.bodies {
		if indegree[b.id] == 0 {
			depths[b.id] = 0
			queue = append(queue, b.id)
		}
	}
	drain()
	for _, b := range s.bodies {
		if _, ok := depths[b.id]; !ok {
			depths[b.id] = 0
			queue = append(queue, b.id)
			drain()
		}
	}

	s.depths = depths
	s.maxDepth = maxDepth
	s.topologyDirty = false
}

// integrate applies damping and moves hot bodies. Non-finite state is
// reported and the body is reset near the centre.
func (s *Simulation) integrate(hot []bool) []*pkgerrors.SimulationError {
	var errs []*pkgerrors.SimulationError
	planar := s.opts.Mode.Planar()
	damping := 1 - s.params.VelocityDecay

	for i, b := range s.bodies {
		if !hot[i] {
			b.vel = valueobjects.Vector{}
			continue
		}
		b.vel = b.vel.Scale(damping)
		next := b.pos.Add(b.vel)
		if planar {
			b.vel.Z, next.Z = 0, 0
		}
		if field, value, bad := nonFinite(next, b.vel); bad {
			errs = append(errs, &pkgerrors.SimulationError{NodeID: b.id, Field: field, Value: value})
			s.reset(b)
			continue
		}
		if next != b.pos {
			b.pos = next
			s.moved[b.id] = struct{}{}
		}
	}
	return errs
}

func nonFinite(pos, vel valueobjects.Vector) (string, float64, bool) {
	checks := []struct {
		field string
		value float64
	}{
		{"position.x", pos.X}, {"position.y", pos.Y}, {"position.z", pos.Z},
		{"velocity.x", vel.X}, {"velocity.y", vel.Y}, {"velocity.z", vel.Z},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) {
			return c.field, c.value, true
		}
	}
	return "", 0, false
}

func (s *Simulation) reset(b *body) {
	j := s.params.ResetJitter
	offset := valueobjects.Vector{X: (s.rng.Float64() - 0.5) * j, Y: (s.rng.Float64() - 0.5) * j}
	if !s.opts.Mode.Planar() {
		offset.Z = (s.rng.Float64() - 0.5) * j
	}
	b.pos = s.params.Center.Add(offset)
	b.vel = valueobjects.Vector{}
	s.moved[b.id] = struct{}{}
}

// decay cools the bodies that took part in the tick
func (s *Simulation) decay(hot []bool) {
	for i, b := range s.bodies {
		if !hot[i] {
			continue
		}
		b.heat -= b.heat * s.params.AlphaDecay
		if b.heat < s.params.AlphaMin {
			b.heat = 0
		}
	}
}
