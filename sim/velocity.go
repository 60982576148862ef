package sim

import (
	"math"

	"github.com/sylsim/sylsim/geom"
)

// CalcVelocityBrown draws the Brownian translational and rotational
// velocities: anisotropic Gaussian noise with the random-finite-
// difference drift of Delong (JCP 2015), and isotropic rotational noise
// against the regularised rotation drag.
func (s *System) CalcVelocityBrown() {
	mu := s.cfg.Viscosity
	dt := s.cfg.Dt
	kBT := s.cfg.KBT
	delta := dt * 0.1
	kBTfactor := math.Sqrt(2 * kBT / dt)

	s.parallelFor(len(s.rods), func(tid, i int) {
		r := &s.rods[i]
		para, perp, rot := geom.DragCoeff(r.Length, r.Radius, mu)
		paraInv, perpInv, rotInv := 1/para, 1/perp, 1/rot
		if r.IsImmovable {
			paraInv, perpInv, rotInv = 0, 0, 0
		}

		q := r.Direction()

		wPos := geom.Vec{s.rng.N01(tid), s.rng.N01(tid), s.rng.N01(tid)}
		wRot := geom.Vec{s.rng.N01(tid), s.rng.N01(tid), s.rng.N01(tid)}
		wRfdPos := geom.Vec{s.rng.N01(tid), s.rng.N01(tid), s.rng.N01(tid)}
		wRfdRot := geom.Vec{s.rng.N01(tid), s.rng.N01(tid), s.rng.N01(tid)}

		// N^{1/2} in closed form: N is paraInv along q, perpInv normal
		// to it
		vel := mobApply(q, math.Sqrt(paraInv), math.Sqrt(perpInv), wPos).
			Scale(kBTfactor)

		// RFD drift: (N(q_rotated) - N(q)) applied to an independent
		// draw
		qRfd := geom.QuatFromScaledAxis(wRfdRot.Scale(delta)).
			Mul(r.Orientation).Normalized().Director()
		drift := mobApply(qRfd, paraInv, perpInv, wRfdPos).
			Sub(mobApply(q, paraInv, perpInv, wRfdPos)).
			Scale(kBT / delta)

		r.VelBrown = vel.Add(drift)
		r.OmegaBrown = wRot.Scale(math.Sqrt(rotInv) * kBTfactor)
	})
}

// mobApply evaluates (a q q^T + b (I - q q^T)) w.
func mobApply(q geom.Vec, a, b float64, w geom.Vec) geom.Vec {
	qw := q.Dot(w)
	return q.Scale((a - b) * qw).Add(w.Scale(b))
}

// CalcVelocityNonCon assembles the velocity the constraint solver sees
// as already known: the mobility applied to the external forces, the
// externally prescribed velocities, and the Brownian draw. Monolayer
// runs zero vz, omega_x and omega_y in every part.
func (s *System) CalcVelocityNonCon() {
	s.parallelFor(len(s.rods), func(_, i int) {
		r := &s.rods[i]
		v := s.mob.Blocks[i].ApplyTrans(r.ForceNonB).Add(r.VelNonB)
		w := s.mob.Blocks[i].ApplyRot(r.TorqueNonB).Add(r.OmegaNonB)

		if s.cfg.Monolayer {
			v[2] = 0
			w[0], w[1] = 0, 0
			r.VelBrown[2] = 0
			r.OmegaBrown[0], r.OmegaBrown[1] = 0, 0
		}
		r.VelNonB, r.OmegaNonB = v, w

		o := 6 * i
		s.velKnown[o+0] = v[0] + r.VelBrown[0]
		s.velKnown[o+1] = v[1] + r.VelBrown[1]
		s.velKnown[o+2] = v[2] + r.VelBrown[2]
		s.velKnown[o+3] = w[0] + r.OmegaBrown[0]
		s.velKnown[o+4] = w[1] + r.OmegaBrown[1]
		s.velKnown[o+5] = w[2] + r.OmegaBrown[2]
	})
}
