package sim

import (
	"fmt"

	"github.com/sylsim/sylsim/constraint"
	"github.com/sylsim/sylsim/geom"
)

// ResolveConstraints collects the full constraint set for this step,
// solves for the multipliers, and writes the resulting constraint
// forces and velocities back onto the rods. Collective.
func (s *System) ResolveConstraints() error {
	s.log.Debug("collect collisions")
	if err := s.CollectPairCollision(); err != nil {
		return err
	}
	s.CollectBoundaryCollision()

	s.log.Debug("collect links")
	if err := s.CollectPinLink(); err != nil {
		return err
	}
	if err := s.CollectExtendLink(); err != nil {
		return err
	}
	if err := s.CollectBendLink(); err != nil {
		return err
	}
	if err := s.CollectTriBendLink(); err != nil {
		return err
	}

	blocks, nUni := s.coll.Concat()
	s.blocks, s.nUni = blocks, nUni
	s.metrics.Constraints.Set(float64(len(blocks)))

	op, err := constraint.NewOperator(s.c, s.mob, s.cfg.Dt, blocks, nUni,
		s.localIdx, s.ownerOf)
	if err != nil {
		s.log.Error("constraint operator setup failed", "err", err)
		return fmt.Errorf("%w: %v", ErrConsistency, err)
	}

	q := make([]float64, len(blocks))
	if err := op.GatherKnown(s.localIdx, s.velKnown, q); err != nil {
		return fmt.Errorf("%w: %v", ErrConsistency, err)
	}
	invDt := 1 / s.cfg.Dt
	gamma := make([]float64, len(blocks))
	for i := range blocks {
		q[i] += blocks[i].Delta0 * invDt
		gamma[i] = blocks[i].Gamma
	}

	solver := constraint.NewSolver(s.c, op, s.localIdx, s.cfg.ConResTol, s.cfg.ConMaxIte)
	stats, err := solver.Solve(gamma, q, constraint.SolverChoice(s.cfg.ConSolverChoice))
	if err != nil {
		// every rank logs before the driver aborts
		s.log.Error("constraint solve failed",
			"err", err, "residual", stats.Residual,
			"iterations", stats.Iterations, "blocks", len(blocks))
		return fmt.Errorf("%w: %v", ErrNumeric, err)
	}
	s.log.Debug("constraints solved",
		"solver", stats.Choice.String(), "iterations", stats.Iterations,
		"residual", stats.Residual, "uni", nUni, "bi", len(blocks)-nUni)
	s.gamma = gamma
	s.metrics.SolverIterations.Add(float64(stats.Iterations))

	return s.writebackConstraints(op, gamma)
}

// ownerOf resolves the owning rank of a rod referenced by a local
// block but owned elsewhere.
func (s *System) ownerOf(gid int) int {
	if r, ok := s.nearOwner[gid]; ok {
		return r
	}
	return -1
}

// writebackConstraints stores the per-rod constraint forces and
// velocities, split into unilateral and bilateral parts.
func (s *System) writebackConstraints(op *constraint.Operator, gamma []float64) error {
	fU, vU, fB, vB, err := op.Writeback(s.localIdx, gamma)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConsistency, err)
	}
	s.parallelFor(len(s.rods), func(_, i int) {
		r := &s.rods[i]
		o := 6 * i
		r.ForceCol = geom.Vec{fU[o], fU[o+1], fU[o+2]}
		r.TorqueCol = geom.Vec{fU[o+3], fU[o+4], fU[o+5]}
		r.VelCol = geom.Vec{vU[o], vU[o+1], vU[o+2]}
		r.OmegaCol = geom.Vec{vU[o+3], vU[o+4], vU[o+5]}
		r.ForceBi = geom.Vec{fB[o], fB[o+1], fB[o+2]}
		r.TorqueBi = geom.Vec{fB[o+3], fB[o+4], fB[o+5]}
		r.VelBi = geom.Vec{vB[o], vB[o+1], vB[o+2]}
		r.OmegaBi = geom.Vec{vB[o+3], vB[o+4], vB[o+5]}
	})
	return nil
}
