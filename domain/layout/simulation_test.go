package layout

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Steake/GodelOS-sub005/domain/core/valueobjects"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

func newSim(t *testing.T, mode Mode) *Simulation {
	t.Helper()
	opts := DefaultOptions()
	opts.Mode = mode
	return NewSimulation(opts, WithSeed(7))
}

func settle(t *testing.T, s *Simulation, limit int) int {
	t.Helper()
	ticks := 0
	for s.Active() {
		s.Tick()
		ticks++
		require.LessOrEqual(t, ticks, limit, "simulation did not cool down")
	}
	return ticks
}

func pos(t *testing.T, s *Simulation, id string) valueobjects.Vector {
	t.Helper()
	b, ok := s.Body(id)
	require.True(t, ok, id)
	return b.Position
}

func TestTwoNodeGraphConverges(t *testing.T) {
	s := newSim(t, ModeForce2D)
	require.True(t, s.AddBody("A"))
	require.True(t, s.AddBody("B", "A"))
	require.True(t, s.UpsertLink("A->B#related", "A", "B", 1))
	assert.Equal(t, 1.0, s.Alpha())

	ticks := settle(t, s, 400)
	assert.Greater(t, ticks, 100)
	assert.Less(t, s.Alpha(), 0.001)
	assert.False(t, s.Active())

	a, b := pos(t, s, "A"), pos(t, s, "B")
	assert.True(t, a.IsFinite())
	assert.True(t, b.IsFinite())
	assert.Zero(t, a.Z)
	assert.InDelta(t, 30, a.DistanceTo(b), 15)

	res := s.Tick()
	assert.False(t, res.Completed)
}

func TestPinnedBodyNeverMoves(t *testing.T) {
	s := newSim(t, ModeForce2D)
	for _, id := range []string{"A", "B", "C"} {
		s.AddBody(id)
	}
	s.UpsertLink("ab", "A", "B", 1)
	s.UpsertLink("bc", "B", "C", 1)

	target := valueobjects.Vector{X: 100, Y: -50}
	require.NoError(t, s.SetPosition("B", target))
	require.True(t, s.Pin("B"))

	for i := 0; i < 200; i++ {
		s.Tick()
		assert.Equal(t, target, pos(t, s, "B"))
	}
	b, _ := s.Body("B")
	assert.True(t, b.Pinned)
	assert.Equal(t, valueobjects.Vector{}, b.Velocity)

	require.True(t, s.Unpin("B"))
	s.Tick()
	assert.NotEqual(t, target, pos(t, s, "B"))
}

func TestNonFiniteStateResetsBody(t *testing.T) {
	s := newSim(t, ModeForce2D)
	s.AddBody("A")
	s.AddBody("B")
	s.bodies[s.index["A"]].vel.X = math.NaN()

	res := s.Tick()
	require.True(t, res.Completed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "A", res.Errors[0].NodeID)
	assert.True(t, pkgerrors.IsSimulation(res.Errors[0]))

	a := pos(t, s, "A")
	assert.True(t, a.IsFinite())
	assert.LessOrEqual(t, a.DistanceTo(s.params.Center), s.params.ResetJitter)
	assert.True(t, pos(t, s, "B").IsFinite())
}

func TestSetPositionRejectsNonFinite(t *testing.T) {
	s := newSim(t, ModeForce2D)
	s.AddBody("A")
	err := s.SetPosition("A", valueobjects.Vector{X: math.Inf(1)})
	assert.True(t, pkgerrors.IsValidation(err))
	err = s.SetPosition("ghost", valueobjects.Vector{})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestReheatStaysLocal(t *testing.T) {
	s := newSim(t, ModeForce2D)
	for _, id := range []string{"A", "B", "C", "X", "Y"} {
		s.AddBody(id)
	}
	s.UpsertLink("ab", "A", "B", 1)
	s.UpsertLink("bc", "B", "C", 1)
	s.UpsertLink("xy", "X", "Y", 1)
	settle(t, s, 400)

	far := pos(t, s, "Y")
	s.Reheat("A")

	heat := func(id string) float64 {
		b, _ := s.Body(id)
		return b.Heat
	}
	assert.Equal(t, s.params.ReheatAlpha, heat("A"))
	assert.Equal(t, s.params.ReheatAlpha, heat("B"))
	assert.Zero(t, heat("C"))
	assert.Zero(t, heat("Y"))

	for i := 0; i < 10; i++ {
		s.Tick()
	}
	assert.Equal(t, far, pos(t, s, "Y"))
}

func TestNewBodyPlacedNearNeighbour(t *testing.T) {
	s := newSim(t, ModeForce2D)
	s.AddBody("A")
	require.NoError(t, s.SetPosition("A", valueobjects.Vector{X: 500, Y: 500}))
	s.AddBody("B", "ghost", "A")
	assert.Less(t, pos(t, s, "A").DistanceTo(pos(t, s, "B")), s.params.LinkDistance)
	assert.False(t, s.AddBody("B"))
}

func TestRemoveBodyDropsLinks(t *testing.T) {
	s := newSim(t, ModeForce2D)
	s.AddBody("A")
	s.AddBody("B")
	s.AddBody("C")
	s.UpsertLink("ab", "A", "B", 1)
	s.UpsertLink("bc", "B", "C", 1)
	settle(t, s, 400)

	require.True(t, s.RemoveBody("B"))
	assert.Equal(t, 2, s.Len())
	assert.Empty(t, s.links)
	assert.Empty(t, s.degree)
	assert.False(t, s.UpsertLink("ab", "A", "B", 1))

	b, _ := s.Body("A")
	assert.Equal(t, s.params.ReheatAlpha, b.Heat)
}

func TestModeSwitchKeepsPositions(t *testing.T) {
	s := newSim(t, ModeForce3D)
	for i := 0; i < 8; i++ {
		s.AddBody(fmt.Sprintf("n%d", i))
	}
	for i := 0; i < 20; i++ {
		s.Tick()
	}

	before := map[string]valueobjects.Vector{}
	for b := range s.Bodies() {
		before[b.ID] = b.Position
	}

	opts := s.Options()
	opts.Mode = ModeCircular
	require.NoError(t, s.SetOptions(opts))
	assert.Equal(t, 8, s.Len())
	for b := range s.Bodies() {
		assert.Equal(t, before[b.ID].X, b.Position.X)
		assert.Equal(t, before[b.ID].Y, b.Position.Y)
		assert.Zero(t, b.Position.Z)
	}

	opts.Mode = "grid"
	assert.Error(t, s.SetOptions(opts))
	assert.Equal(t, ModeCircular, s.Options().Mode)
}

func TestCircularModeFormsRing(t *testing.T) {
	s := newSim(t, ModeCircular)
	for i := 0; i < 6; i++ {
		s.AddBody(fmt.Sprintf("n%d", i))
	}
	settle(t, s, 400)

	var radii []float64
	for b := range s.Bodies() {
		radii = append(radii, b.Position.DistanceTo(s.params.Center))
	}
	for _, r := range radii[1:] {
		assert.InEpsilon(t, radii[0], r, 0.05)
	}
}

func TestHierarchyDepths(t *testing.T) {
	s := newSim(t, ModeHierarchical)
	for _, id := range []string{"root", "mid", "leaf", "c1", "c2"} {
		s.AddBody(id)
	}
	s.UpsertLink("1", "root", "mid", 1)
	s.UpsertLink("2", "mid", "leaf", 1)
	s.UpsertLink("3", "c1", "c2", 1)
	s.UpsertLink("4", "c2", "c1", 1)

	s.ensureDepths()
	assert.Equal(t, 0, s.depths["root"])
	assert.Equal(t, 1, s.depths["mid"])
	assert.Equal(t, 2, s.depths["leaf"])
	assert.Equal(t, 0, s.depths["c1"])
	assert.Equal(t, 1, s.depths["c2"])
	assert.Equal(t, 2, s.maxDepth)

	settle(t, s, 400)
	assert.Less(t, pos(t, s, "root").Y, pos(t, s, "leaf").Y)
}

func TestBarnesHutApproximatesExact(t *testing.T) {
	s := newSim(t, ModeForce2D)
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 800; i++ {
		id := fmt.Sprintf("n%d", i)
		s.AddBody(id)
		require.NoError(t, s.SetPosition(id, valueobjects.Vector{X: rng.Float64()*1000 - 500, Y: rng.Float64()*1000 - 500}))
	}

	positions := make([]valueobjects.Vector, s.Len())
	for i, b := range s.bodies {
		positions[i] = b.pos
	}
	tree := buildOctree(positions)

	var errSum, exactSum float64
	for i := 0; i < s.Len(); i += 40 {
		s.tick.tree = nil
		exact := s.chargeOn(i)
		s.tick.tree = tree
		approx := s.chargeOn(i)
		errSum += approx.Sub(exact).Length()
		exactSum += exact.Length()
	}
	s.tick.tree = nil
	assert.Less(t, errSum/exactSum, 0.15)
}

func TestOctreeHandlesCoincidentBodies(t *testing.T) {
	positions := []valueobjects.Vector{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}, {X: -3, Y: 2}}
	tree := buildOctree(positions)
	assert.Equal(t, 4.0, tree.root.mass)

	count := 0.0
	tree.forEachSource(0, 0.81, func(_ valueobjects.Vector, mass float64) { count += mass })
	assert.Equal(t, 3.0, count)
}

func TestChunkedStepMatchesFullTick(t *testing.T) {
	build := func(clock func() time.Time) *Simulation {
		opts := DefaultOptions()
		s := NewSimulation(opts, WithSeed(3), WithClock(clock))
		for i := 0; i < 600; i++ {
			s.AddBody(fmt.Sprintf("n%d", i))
		}
		for i := 1; i < 600; i += 3 {
			s.UpsertLink(fmt.Sprintf("l%d", i), fmt.Sprintf("n%d", i-1), fmt.Sprintf("n%d", i), 1)
		}
		return s
	}

	full := build(time.Now)
	require.True(t, full.Tick().Completed)

	now := time.Unix(0, 0)
	chunked := build(func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	})

	steps := 0
	for {
		steps++
		res := chunked.Step(0)
		if res.Completed {
			break
		}
		assert.True(t, chunked.InFlight())
		require.Less(t, steps, 1000)
	}
	assert.Greater(t, steps, 1)

	for b := range full.Bodies() {
		other, ok := chunked.Body(b.ID)
		require.True(t, ok)
		assert.Equal(t, b.Position, other.Position, b.ID)
	}
}

func TestMutationInvalidatesTickInFlight(t *testing.T) {
	now := time.Unix(0, 0)
	s := NewSimulation(DefaultOptions(), WithSeed(1), WithClock(func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}))
	for i := 0; i < 200; i++ {
		s.AddBody(fmt.Sprintf("n%d", i))
	}
	res := s.Step(0)
	require.False(t, res.Completed)
	require.True(t, s.InFlight())

	s.AddBody("late")
	assert.False(t, s.InFlight())
	assert.True(t, s.Tick().Completed)
}

func TestDrainMoved(t *testing.T) {
	s := newSim(t, ModeForce2D)
	s.AddBody("A")
	s.AddBody("B")
	assert.ElementsMatch(t, []string{"A", "B"}, s.DrainMoved())
	assert.Empty(t, s.DrainMoved())
	s.Tick()
	assert.NotEmpty(t, s.DrainMoved())
}
