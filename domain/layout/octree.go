package layout

import (
	"math"

	"github.com/Steake/GodelOS-sub005/domain/core/valueobjects"
)

const maxTreeDepth = 32

// octant is a cube of space. Leaves hold body indexes; internal nodes hold children.
// Planar layouts put every body on z = 0, which degenerates the tree into a quadtree.
type octant struct {
	origin   valueobjects.Vector
	size     float64
	mass     float64
	sum      valueobjects.Vector
	bodies   []int
	children [8]*octant
	internal bool
}

func (o *octant) centerOfMass() valueobjects.Vector {
	return o.sum.Scale(1 / o.mass)
}

func (o *octant) contains(p valueobjects.Vector) bool {
	return p.X >= o.origin.X && p.X <= o.origin.X+o.size &&
		p.Y >= o.origin.Y && p.Y <= o.origin.Y+o.size &&
		p.Z >= o.origin.Z && p.Z <= o.origin.Z+o.size
}

func (o *octant) childIndex(p valueobjects.Vector) int {
	half := o.size / 2
	i := 0
	if p.X >= o.origin.X+half {
		i |= 1
	}
	if p.Y >= o.origin.Y+half {
		i |= 2
	}
	if p.Z >= o.origin.Z+half {
		i |= 4
	}
	return i
}

func (o *octant) child(i int) *octant {
	if c := o.children[i]; c != nil {
		return c
	}
	half := o.size / 2
	origin := o.origin
	if i&1 != 0 {
		origin.X += half
	}
	if i&2 != 0 {
		origin.Y += half
	}
	if i&4 != 0 {
		origin.Z += half
	}
	c := &octant{origin: origin, size: half}
	o.children[i] = c
	return c
}

// octree is a Barnes-Hut spatial index rebuilt at the start of every tick
type octree struct {
	root      *octant
	positions []valueobjects.Vector
}

func buildOctree(positions []valueobjects.Vector) *octree {
	t := &octree{positions: positions}
	if len(positions) == 0 {
		return t
	}

	lo, hi := positions[0], positions[0]
	for _, p := range positions[1:] {
		lo = valueobjects.Vector{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = valueobjects.Vector{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	size := math.Max(hi.X-lo.X, math.Max(hi.Y-lo.Y, hi.Z-lo.Z))
	if size == 0 {
		size = 1
	}
	// Centre the cube on the bounding box so planar input sits mid-depth.
	mid := lo.Midpoint(hi)
	origin := mid.Sub(valueobjects.Vector{X: size / 2, Y: size / 2, Z: size / 2})
	t.root = &octant{origin: origin, size: size * (1 + 1e-9)}

	for i := range positions {
		t.insert(t.root, i, 0)
	}
	return t
}

func (t *octree) insert(o *octant, i, depth int) {
	p := t.positions[i]
	o.mass++
	o.sum = o.sum.Add(p)

	if o.internal {
		t.insert(o.child(o.childIndex(p)), i, depth+1)
		return
	}
	if len(o.bodies) == 0 || depth >= maxTreeDepth {
		o.bodies = append(o.bodies, i)
		return
	}

	// Split the leaf and push its residents down one level.
	residents := o.bodies
	o.bodies = nil
	o.internal = true
	for _, r := range residents {
		c := o.child(o.childIndex(t.positions[r]))
		c.mass++
		c.sum = c.sum.Add(t.positions[r])
		c.bodies = append(c.bodies, r)
	}
	t.insert(o.child(o.childIndex(p)), i, depth+1)
}

// forEachSource visits the point masses acting on body i: exact bodies when
// near, aggregated octants when size²/distance² < theta².
func (t *octree) forEachSource(i int, theta2 float64, visit func(pos valueobjects.Vector, mass float64)) {
	if t.root == nil {
		return
	}
	p := t.positions[i]
	var walk func(o *octant)
	walk = func(o *octant) {
		if o == nil || o.mass == 0 {
			return
		}
		if !o.internal {
			for _, j := range o.bodies {
				if j != i {
					visit(t.positions[j], 1)
				}
			}
			return
		}
		com := o.centerOfMass()
		l := com.Sub(p).LengthSq()
		if l > 0 && o.size*o.size/l < theta2 && !o.contains(p) {
			visit(com, o.mass)
			return
		}
		for _, c := range o.children {
			walk(c)
		}
	}
	walk(t.root)
}
