/*
package rod defines the sylinder record owned by the particle
container, the trimmed near-field record shipped between ranks, and the
ASCII snapshot format.
*/
package rod

import (
	"github.com/sylsim/sylsim/geom"
)

// Rod is a spherocylinder. Exactly one rank holds the authoritative
// copy; every other copy is a read-only shadow invalidated at step
// boundaries.
type Rod struct {
	Gid         int  // globally unique, never reused
	GlobalIndex int  // contiguous across ranks, rebuilt each step
	Group       int  // user tag carried through snapshots
	Rank        int  // owning rank
	IsImmovable bool // zero drag-inverse: pinned against all forces

	Pos         geom.Vec
	Orientation geom.Quat // body z-axis is the long axis

	Length, LengthCollision float64
	Radius, RadiusCollision float64
	ColBuf                  float64 // collision buffer ratio

	// velocity accumulators, partitioned by origin
	Vel, Omega           geom.Vec // totals
	VelNonB, OmegaNonB   geom.Vec
	VelBrown, OmegaBrown geom.Vec
	VelCol, OmegaCol     geom.Vec
	VelBi, OmegaBi       geom.Vec

	// force accumulators, partitioned by origin
	Force, Torque         geom.Vec
	ForceNonB, TorqueNonB geom.Vec
	ForceCol, TorqueCol   geom.Vec
	ForceBi, TorqueBi     geom.Vec
}

// Clear zeros all force and velocity accumulators.
func (r *Rod) Clear() {
	z := geom.Vec{}
	r.Vel, r.Omega = z, z
	r.VelNonB, r.OmegaNonB = z, z
	r.VelBrown, r.OmegaBrown = z, z
	r.VelCol, r.OmegaCol = z, z
	r.VelBi, r.OmegaBi = z, z
	r.Force, r.Torque = z, z
	r.ForceNonB, r.TorqueNonB = z, z
	r.ForceCol, r.TorqueCol = z, z
	r.ForceBi, r.TorqueBi = z, z
}

// Direction returns the lab-frame long axis.
func (r *Rod) Direction() geom.Vec { return r.Orientation.Director() }

// IsSphere reports whether the rod is treated as a sphere (shorter than
// its diameter), using collision geometry when col is set.
func (r *Rod) IsSphere(col bool) bool {
	if col {
		return r.LengthCollision < 2*r.RadiusCollision
	}
	return r.Length < 2*r.Radius
}

// Ends returns the minus and plus end points of the centerline.
func (r *Rod) Ends() (minus, plus geom.Vec) {
	d := r.Direction().Scale(0.5 * r.Length)
	return r.Pos.Sub(d), r.Pos.Add(d)
}

// StepEuler advances position and orientation by one explicit step of
// the total velocity. The orientation update is the small-angle
// exponential map of omega*dt, renormalised.
func (r *Rod) StepEuler(dt float64) {
	r.Pos = r.Pos.Add(r.Vel.Scale(dt))
	r.Orientation = geom.QuatFromScaledAxis(r.Omega.Scale(dt)).
		Mul(r.Orientation).Normalized()
}

// Wrap applies periodic wrapping of the center into [lo, hi) on the
// periodic axes.
func (r *Rod) Wrap(lo, hi geom.Vec, pbc [3]bool) {
	for k := 0; k < 3; k++ {
		if !pbc[k] {
			continue
		}
		l := hi[k] - lo[k]
		for r.Pos[k] < lo[k] {
			r.Pos[k] += l
		}
		for r.Pos[k] >= hi[k] {
			r.Pos[k] -= l
		}
	}
}

// Near is the bit-identical record every rank sees for a rod inside its
// search halo.
type Near struct {
	Gid         int
	GlobalIndex int
	Rank        int

	Pos         geom.Vec
	Direction   geom.Vec
	Orientation geom.Quat

	Length, LengthCollision float64
	Radius, RadiusCollision float64
	ColBuf                  float64
}

// Near builds the shipped record from the full rod.
func (r *Rod) Near() Near {
	return Near{
		Gid:             r.Gid,
		GlobalIndex:     r.GlobalIndex,
		Rank:            r.Rank,
		Pos:             r.Pos,
		Direction:       r.Direction(),
		Orientation:     r.Orientation,
		Length:          r.Length,
		LengthCollision: r.LengthCollision,
		Radius:          r.Radius,
		RadiusCollision: r.RadiusCollision,
		ColBuf:          r.ColBuf,
	}
}

// Coord is the neighbor-search center accessor.
func (n *Near) Coord() geom.Vec { return n.Pos }

// SearchRad is the neighbor-search ball: the collision spherocylinder
// inflated by twice the collision buffer.
func (n *Near) SearchRad() float64 {
	return 0.5*n.LengthCollision + n.RadiusCollision*(1+2*n.ColBuf)
}

// Minus returns the minus end of the centerline at the physical length
// (not the collision length).
func (n *Near) Minus() geom.Vec {
	return n.Pos.Sub(n.Direction.Scale(0.5 * n.Length))
}

// Plus returns the plus end of the centerline at the physical length
// (not the collision length).
func (n *Near) Plus() geom.Vec {
	return n.Pos.Add(n.Direction.Scale(0.5 * n.Length))
}
