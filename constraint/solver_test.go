package constraint

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sylsim/sylsim/comm"
	"github.com/sylsim/sylsim/geom"
)

// singleContact builds one unilateral block between two unit-mobility
// spheres approaching head on along x.
func singleContact(delta0 float64) (*Mobility, []Block, map[int]int) {
	mob := NewMobility(2)
	mob.Blocks[0] = geom.NewMobBlock(geom.Vec{1, 0, 0}, 1, 1, 1, false)
	mob.Blocks[1] = geom.NewMobBlock(geom.Vec{1, 0, 0}, 1, 1, 1, false)
	localIdx := map[int]int{0: 0, 1: 1}

	n := geom.Vec{1, 0, 0} // from I into J
	b := NewPairBlock(delta0, 0, 0, 1, 0, 1,
		n.Neg(), // force on I pushes it away from J
		geom.Vec{-0.05, 0, 0}, geom.Vec{0.05, 0, 0},
		geom.Vec{-0.6, 0, 0}, geom.Vec{0.6, 0, 0},
		false, false, 0)
	return mob, []Block{b}, localIdx
}

func TestSolveSingleContact(t *testing.T) {
	const (
		dt     = 0.1
		delta0 = -0.02
	)
	for _, choice := range []SolverChoice{BBPGD, APGD} {
		mob, blocks, localIdx := singleContact(delta0)
		op, err := NewOperator(comm.Self(), mob, dt, blocks, 1, localIdx,
			func(int) int { return -1 })
		require.NoError(t, err)
		s := NewSolver(comm.Self(), op, localIdx, 1e-10, 500)

		// q = delta0/dt with no known velocity; Mc = |F_I|^2 + |F_J|^2 = 2
		q := []float64{delta0 / dt}
		gamma := []float64{0}
		stats, err := s.Solve(gamma, q, choice)
		require.NoError(t, err, choice.String())
		require.True(t, stats.Converged)
		require.InDelta(t, -delta0/dt/2, gamma[0], 1e-8, choice.String())

		// complementarity: gamma * (q + Mc gamma) ~ 0
		out := make([]float64, 1)
		require.NoError(t, op.Apply(localIdx, gamma, out))
		require.InDelta(t, 0, gamma[0]*(q[0]+out[0]), 1e-8)
	}
}

func TestSolveSeparatedContactStaysZero(t *testing.T) {
	// positive gap: the multiplier must remain zero
	mob, blocks, localIdx := singleContact(0.05)
	op, err := NewOperator(comm.Self(), mob, 0.1, blocks, 1, localIdx,
		func(int) int { return -1 })
	require.NoError(t, err)
	s := NewSolver(comm.Self(), op, localIdx, 1e-10, 200)

	gamma := []float64{0}
	stats, err := s.Solve(gamma, []float64{0.05 / 0.1}, BBPGD)
	require.NoError(t, err)
	require.True(t, stats.Converged)
	require.Equal(t, 0.0, gamma[0])
}

func TestSolveRandomComplementarity(t *testing.T) {
	gen := rand.New(rand.NewSource(23))
	mob, blocks, nUni, localIdx := randomSetup(gen, 6, 18)
	op, err := NewOperator(comm.Self(), mob, 0.05, blocks, nUni, localIdx,
		func(int) int { return -1 })
	require.NoError(t, err)
	s := NewSolver(comm.Self(), op, localIdx, 1e-8, 5000)

	n := op.NumCon()
	q := make([]float64, n)
	gamma := make([]float64, n)
	for i := range q {
		q[i] = gen.NormFloat64()
		gamma[i] = blocks[i].Gamma
	}
	stats, err := s.Solve(gamma, q, BBPGD)
	require.NoError(t, err)
	require.True(t, stats.Converged)

	out := make([]float64, n)
	require.NoError(t, op.Apply(localIdx, gamma, out))
	for i := 0; i < nUni; i++ {
		require.GreaterOrEqual(t, gamma[i], 0.0)
		// gamma >= 0, grad >= -tol, complementary slackness
		require.InDelta(t, 0, gamma[i]*(q[i]+out[i]), 1e-5, "row %d", i)
	}
	for i := nUni; i < n; i++ {
		// bilateral rows are solved to stationarity
		require.InDelta(t, 0, q[i]+out[i], 1e-5, "bi row %d", i)
	}
}

func TestSolveRetryLadder(t *testing.T) {
	// one iteration is never enough: Solve must fall through the retry
	// ladder and report ErrNotConverged with diagnostics
	mob, blocks, localIdx := singleContact(-0.5)
	op, err := NewOperator(comm.Self(), mob, 0.1, blocks, 1, localIdx,
		func(int) int { return -1 })
	require.NoError(t, err)
	s := NewSolver(comm.Self(), op, localIdx, 0, 1)

	gamma := []float64{0}
	_, err = s.Solve(gamma, []float64{-5}, BBPGD)
	require.ErrorIs(t, err, ErrNotConverged)
}

func TestSolveDistributed(t *testing.T) {
	// the same contact solved on two ranks, one rod each
	const dt = 0.1
	err := comm.Run(2, func(c *comm.Comm) error {
		mob := NewMobility(1)
		mob.Blocks[0] = geom.NewMobBlock(geom.Vec{1, 0, 0}, 1, 1, 1, false)
		localIdx := map[int]int{c.Rank(): 0}
		owner := func(gid int) int { return gid }

		var blocks []Block
		nUni := 0
		if c.Rank() == 0 {
			n := geom.Vec{1, 0, 0}
			blocks = []Block{NewPairBlock(-0.02, 0, 0, 1, 0, 1,
				n.Neg(), geom.Vec{-0.05, 0, 0}, geom.Vec{0.05, 0, 0},
				geom.Vec{-0.6, 0, 0}, geom.Vec{0.6, 0, 0}, false, false, 0)}
			nUni = 1
		}
		op, err := NewOperator(c, mob, dt, blocks, nUni, localIdx, owner)
		if err != nil {
			return err
		}
		s := NewSolver(c, op, localIdx, 1e-10, 500)

		q := make([]float64, len(blocks))
		gamma := make([]float64, len(blocks))
		if c.Rank() == 0 {
			q[0] = -0.02 / dt
		}
		stats, err := s.Solve(gamma, q, BBPGD)
		if err != nil {
			return err
		}
		require.True(t, stats.Converged)
		if c.Rank() == 0 {
			require.InDelta(t, 0.02/dt/2, gamma[0], 1e-8)
		}
		return nil
	})
	require.NoError(t, err)
}
