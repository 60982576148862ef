package constraint

import (
	"errors"
	"fmt"
	"math"

	"github.com/sylsim/sylsim/comm"
)

// SolverChoice selects the bound-projected iterative kernel.
type SolverChoice int

const (
	BBPGD SolverChoice = iota // Barzilai-Borwein projected gradient descent
	APGD                      // accelerated projected gradient descent

	numSolverChoices
)

func (sc SolverChoice) String() string {
	switch sc {
	case BBPGD:
		return "BBPGD"
	case APGD:
		return "APGD"
	}
	return fmt.Sprintf("SolverChoice(%d)", int(sc))
}

// ErrNotConverged reports that every solver choice ran out of
// iterations.
var ErrNotConverged = errors.New("constraint: solver failed to converge")

// Stats describes one solve.
type Stats struct {
	Choice     SolverChoice
	Iterations int
	Residual   float64
	Converged  bool
}

// Solver drives the bound-projected minimisation of
// 1/2 gamma^T Mc gamma + q^T gamma with gammaU >= 0. All inner
// products are global, so every rank iterates in lockstep.
type Solver struct {
	c        *comm.Comm
	op       *Operator
	localIdx map[int]int
	Tol      float64
	MaxIte   int
}

// NewSolver wires a solver to an operator.
func NewSolver(c *comm.Comm, op *Operator, localIdx map[int]int, tol float64, maxIte int) *Solver {
	return &Solver{c: c, op: op, localIdx: localIdx, Tol: tol, MaxIte: maxIte}
}

// dot is the global inner product of the distributed block vectors.
func (s *Solver) dot(x, y []float64) float64 {
	local := 0.0
	for i := range x {
		local += x[i] * y[i]
	}
	return comm.AllReduceScalar(s.c, local, comm.OpSum)
}

// normInf is the global max-norm.
func (s *Solver) normInf(x []float64) float64 {
	local := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > local {
			local = a
		}
	}
	return comm.AllReduceScalar(s.c, local, comm.OpMax)
}

// project clamps the unilateral rows at zero; bilateral rows are free.
func (s *Solver) project(x []float64) {
	for i := 0; i < s.op.NumUni(); i++ {
		if x[i] < 0 {
			x[i] = 0
		}
	}
}

// residual is the max-norm of the projected gradient at gamma.
func (s *Solver) residual(gamma, grad, scratch []float64) float64 {
	for i := range gamma {
		scratch[i] = gamma[i] - grad[i]
	}
	s.project(scratch)
	for i := range gamma {
		scratch[i] = gamma[i] - scratch[i]
	}
	return s.normInf(scratch)
}

// Solve minimises from the initial guess in gamma, writing the solution
// back in place. It tries the requested choice first and falls through
// the remaining kernels on non-convergence before reporting ErrNotConverged.
func (s *Solver) Solve(gamma []float64, q []float64, choice SolverChoice) (Stats, error) {
	var last Stats
	for k := 0; k < int(numSolverChoices); k++ {
		sc := SolverChoice((int(choice) + k) % int(numSolverChoices))
		var stats Stats
		var err error
		switch sc {
		case BBPGD:
			stats, err = s.bbpgd(gamma, q)
		case APGD:
			stats, err = s.apgd(gamma, q)
		}
		if err != nil {
			return stats, err
		}
		if stats.Converged {
			return stats, nil
		}
		last = stats
	}
	return last, fmt.Errorf("%w: residual %g after %d iterations",
		ErrNotConverged, last.Residual, last.Iterations)
}

// bbpgd is projected gradient descent with Barzilai-Borwein step sizes.
func (s *Solver) bbpgd(gamma, q []float64) (Stats, error) {
	n := len(gamma)
	g := make([]float64, n)
	gNew := make([]float64, n)
	x := append([]float64(nil), gamma...)
	xNew := make([]float64, n)
	scratch := make([]float64, n)

	s.project(x)
	if err := s.op.Apply(s.localIdx, x, g); err != nil {
		return Stats{Choice: BBPGD}, err
	}
	for i := range g {
		g[i] += q[i]
	}

	res := s.residual(x, g, scratch)
	if res < s.Tol {
		copy(gamma, x)
		return Stats{Choice: BBPGD, Residual: res, Converged: true}, nil
	}

	// initial step: 1/|g|_inf keeps the first move order one
	alpha := 1.0
	if gn := s.normInf(g); gn > 0 {
		alpha = 1.0 / gn
	}

	for ite := 1; ite <= s.MaxIte; ite++ {
		for i := range x {
			xNew[i] = x[i] - alpha*g[i]
		}
		s.project(xNew)

		if err := s.op.Apply(s.localIdx, xNew, gNew); err != nil {
			return Stats{Choice: BBPGD, Iterations: ite}, err
		}
		for i := range gNew {
			gNew[i] += q[i]
		}

		res = s.residual(xNew, gNew, scratch)
		if res < s.Tol {
			copy(gamma, xNew)
			return Stats{Choice: BBPGD, Iterations: ite, Residual: res, Converged: true}, nil
		}

		// BB1 step from s = dx, y = dg; alternate with BB2 for
		// stability on stiff spectra
		var ss, sy, yy float64
		for i := range x {
			ds := xNew[i] - x[i]
			dy := gNew[i] - g[i]
			ss += ds * ds
			sy += ds * dy
			yy += dy * dy
		}
		sums := comm.AllReduce(s.c, []float64{ss, sy, yy}, comm.OpSum)
		ss, sy, yy = sums[0], sums[1], sums[2]
		if sy > 0 {
			if ite%2 == 0 {
				alpha = ss / sy
			} else {
				alpha = sy / yy
			}
		}

		copy(x, xNew)
		copy(g, gNew)
	}
	copy(gamma, x)
	return Stats{Choice: BBPGD, Iterations: s.MaxIte, Residual: res}, nil
}

// apgd is Nesterov-accelerated projected gradient with backtracking on
// the Lipschitz estimate.
func (s *Solver) apgd(gamma, q []float64) (Stats, error) {
	n := len(gamma)
	x := append([]float64(nil), gamma...)
	s.project(x)
	y := append([]float64(nil), x...)
	xNew := make([]float64, n)
	g := make([]float64, n)
	ax := make([]float64, n)
	scratch := make([]float64, n)

	// crude Lipschitz seed from one operator application
	if err := s.op.Apply(s.localIdx, y, ax); err != nil {
		return Stats{Choice: APGD}, err
	}
	L := 1.0
	if yn := s.dot(y, y); yn > 0 {
		L = math.Max(1e-8, math.Sqrt(s.dot(ax, ax)/yn))
	}
	theta := 1.0

	res := math.Inf(1)
	for ite := 1; ite <= s.MaxIte; ite++ {
		if err := s.op.Apply(s.localIdx, y, g); err != nil {
			return Stats{Choice: APGD, Iterations: ite}, err
		}
		for i := range g {
			g[i] += q[i]
		}

		// backtrack until the quadratic model majorises
		fy := 0.5*s.dot(y, g) + 0.5*s.dot(y, q)
		for bt := 0; bt < 50; bt++ {
			for i := range y {
				xNew[i] = y[i] - g[i]/L
			}
			s.project(xNew)
			if err := s.op.Apply(s.localIdx, xNew, ax); err != nil {
				return Stats{Choice: APGD, Iterations: ite}, err
			}
			fx := 0.5*s.dot(xNew, ax) + s.dot(xNew, q)
			var gd, dd float64
			for i := range y {
				d := xNew[i] - y[i]
				gd += g[i] * d
				dd += d * d
			}
			sums := comm.AllReduce(s.c, []float64{gd, dd}, comm.OpSum)
			if fx <= fy+sums[0]+0.5*L*sums[1]+1e-14 {
				break
			}
			L *= 2
		}

		for i := range ax {
			ax[i] += q[i]
		}
		res = s.residual(xNew, ax, scratch)
		if res < s.Tol {
			copy(gamma, xNew)
			return Stats{Choice: APGD, Iterations: ite, Residual: res, Converged: true}, nil
		}

		thetaNew := 0.5 * (-theta*theta + theta*math.Sqrt(theta*theta+4))
		beta := theta * (1 - theta) / (theta*theta + thetaNew)
		for i := range y {
			y[i] = xNew[i] + beta*(xNew[i]-x[i])
		}
		theta = thetaNew
		copy(x, xNew)
	}
	copy(gamma, x)
	return Stats{Choice: APGD, Iterations: s.MaxIte, Residual: res}, nil
}
