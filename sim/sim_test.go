package sim

import (
	"io"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sylsim/sylsim/comm"
	"github.com/sylsim/sylsim/config"
	"github.com/sylsim/sylsim/constraint"
	"github.com/sylsim/sylsim/geom"
	"github.com/sylsim/sylsim/logging"
	"github.com/sylsim/sylsim/rngpool"
	"github.com/sylsim/sylsim/rod"
)

// baseCfg returns a valid config for a 10^3 box; tests adjust fields
// before Check.
func baseCfg() *config.Config {
	return &config.Config{
		LogLevel:                 "error",
		SimBoxLow:                [3]float64{0, 0, 0},
		SimBoxHigh:               [3]float64{10, 10, 10},
		Viscosity:                1,
		KBT:                      0,
		SylinderNumber:           0,
		SylinderLength:           1,
		SylinderDiameter:         0.2,
		SylinderDiameterColRatio: 1,
		SylinderLengthColRatio:   1,
		SylinderColBuf:           0.3,
		SylinderLengthSigma:      -1,
		EndLinkKappa:             100,
		BendingLinkKappa:         [3]float64{100, 100, 100},
		InitOrient:               [3]float64{2, 2, 2},
		InitPreSteps:             0,
		Dt:                       0.1,
		TimeTotal:                1,
		TimeSnap:                 100, // tests only snapshot at step 0
		ConResTol:                1e-9,
		ConMaxIte:                5000,
		ConSolverChoice:          0,
	}
}

// chdirTemp runs the rest of the test from a scratch directory so
// snapshot output stays out of the tree.
func chdirTemp(t *testing.T) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

// newTestSystem wires a System directly, bypassing file IO and
// pre-steps.
func newTestSystem(t *testing.T, cfg *config.Config, c *comm.Comm, rods []rod.Rod) *System {
	t.Helper()
	require.NoError(t, cfg.Check())
	s := &System{
		cfg:      cfg,
		c:        c,
		log:      logging.NewWriter(io.Discard, "error"),
		RunID:    "test",
		links:    rod.NewLinkMaps(),
		nThreads: 2,
		metrics:  NewMetrics(nil),
	}
	s.rng = rngpool.New(42+uint64(c.Rank()), s.nThreads)
	s.coll = constraint.NewCollector(s.nThreads)
	s.initSearches()
	s.rods = rods
	return s
}

// alongX returns a rod pointing along +x.
func alongX(gid int, center geom.Vec, length, radius float64) rod.Rod {
	return rod.Rod{
		Gid:             gid,
		Pos:             center,
		Orientation:     geom.QuatFromTwoVectors(geom.Vec{0, 0, 1}, geom.Vec{1, 0, 0}),
		Length:          length,
		LengthCollision: length,
		Radius:          radius,
		RadiusCollision: radius,
	}
}

func TestPairBlockInvariants(t *testing.T) {
	gen := rand.New(rand.NewSource(31))
	var rods []rod.Rod
	for i := 0; i < 40; i++ {
		center := geom.Vec{gen.Float64() * 4, gen.Float64() * 4, gen.Float64() * 4}
		r := alongX(i, center, 0.5+gen.Float64(), 0.1)
		r.Orientation = geom.QuatFromTwoVectors(geom.Vec{0, 0, 1},
			geom.Vec{gen.NormFloat64(), gen.NormFloat64(), gen.NormFloat64()})
		rods = append(rods, r)
	}
	s := newTestSystem(t, baseCfg(), comm.Self(), rods)
	require.NoError(t, s.PrepareStep())
	require.NoError(t, s.CollectPairCollision())

	blocks, nUni := s.coll.Concat()
	require.Equal(t, len(blocks), nUni)
	for _, b := range blocks {
		require.Less(t, b.GidI, b.GidJ)
		require.False(t, b.Bilateral)
		// unscaledForceJ = -unscaledForceI
		require.InDelta(t, 0.0, b.ForceI.Add(b.ForceJ).Norm(), 1e-14)
		// delta0 below the collision buffer
		require.Less(t, b.Delta0, s.cfg.SylinderColBuf*0.1+1e-14)
		// torque = lever x force about each center
		rI := s.rods[s.localIdx[b.GidI]]
		wantTI := b.LabI.Sub(rI.Pos).Cross(b.ForceI)
		require.InDelta(t, 0.0, wantTI.Sub(b.TorqueI).Norm(), 1e-10)
		// stress is symmetric
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				require.InDelta(t, b.Stress[3*i+j], b.Stress[3*j+i], 1e-14)
			}
		}
		require.GreaterOrEqual(t, b.Gamma, 0.0)
	}
}

func TestPBCImageIdempotent(t *testing.T) {
	cfg := baseCfg()
	cfg.SimBoxPBC = [3]bool{true, true, true}
	s := newTestSystem(t, cfg, comm.Self(), nil)

	gen := rand.New(rand.NewSource(37))
	for i := 0; i < 200; i++ {
		x := gen.Float64()*30 - 10
		trg := gen.Float64() * 10
		once, err := s.pbcImage(x, trg, 0)
		require.NoError(t, err)
		twice, err := s.pbcImage(once, trg, 0)
		require.NoError(t, err)
		require.Equal(t, once, twice)
	}
}

func TestFullStepMultiRank(t *testing.T) {
	chdirTemp(t)
	gen := rand.New(rand.NewSource(41))
	var all []rod.Rod
	for i := 0; i < 60; i++ {
		center := geom.Vec{gen.Float64() * 10, gen.Float64() * 10, gen.Float64() * 10}
		all = append(all, alongX(i, center, 1, 0.1))
	}

	err := comm.Run(2, func(c *comm.Comm) error {
		cfg := baseCfg()
		cfg.SimBoxPBC = [3]bool{true, false, false}
		var mine []rod.Rod
		for i, r := range all {
			if i%2 == c.Rank() {
				mine = append(mine, r)
			}
		}
		s := newTestSystem(t, cfg, c, mine)

		for step := 0; step < 3; step++ {
			if err := s.PrepareStep(); err != nil {
				return err
			}
			if err := s.RunStep(); err != nil {
				return err
			}
			// solved unilateral multipliers are non-negative
			for i := 0; i < s.nUni; i++ {
				require.GreaterOrEqual(t, s.gamma[i], 0.0)
			}
		}
		total := s.NGlobal()
		require.Equal(t, len(all), total)
		return nil
	})
	require.NoError(t, err)
}

func TestAddNewRodsAndLinks(t *testing.T) {
	err := comm.Run(2, func(c *comm.Comm) error {
		cfg := baseCfg()
		var mine []rod.Rod
		mine = append(mine, alongX(c.Rank(), geom.Vec{1 + float64(c.Rank()), 5, 5}, 1, 0.1))
		s := newTestSystem(t, cfg, c, mine)

		gids := s.AddNewRods([]rod.Rod{
			alongX(0, geom.Vec{5, 5, 5}, 1, 0.1),
		})
		require.Len(t, gids, 1)
		require.Greater(t, gids[0], 1)

		// gids unique across ranks
		allGids := comm.AllGather(c, gids)
		require.NotEqual(t, allGids[0], allGids[1])

		var links []rod.Link
		if c.Rank() == 0 {
			links = []rod.Link{{Prev: 0, Next: 1}}
		}
		s.AddNewLinks(rod.PinLink, links)
		// maps identical on every rank
		require.Equal(t, []int{1}, s.links.Pin[0])
		require.Equal(t, []int{0}, s.links.PinReverse[1])
		return nil
	})
	require.NoError(t, err)
}
