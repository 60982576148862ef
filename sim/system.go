/*
package sim drives the simulation: per-step domain maintenance,
velocity assembly, constraint collection and resolution, and the Euler
update, over rods distributed across the ranks of a communicator.

The phase order inside a step is fixed: prepare, known velocities,
constraint collection, solve, write-back, integrate. Iteration order
over local rods inside a phase is unspecified; all accumulation is
associative and commutative.
*/
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/sylsim/sylsim/comm"
	"github.com/sylsim/sylsim/config"
	"github.com/sylsim/sylsim/constraint"
	"github.com/sylsim/sylsim/directory"
	"github.com/sylsim/sylsim/geom"
	"github.com/sylsim/sylsim/neighbor"
	"github.com/sylsim/sylsim/rngpool"
	"github.com/sylsim/sylsim/rod"
)

// Error taxonomy. Configuration errors surface as config.ErrConfig.
var (
	ErrConsistency = errors.New("sim: inconsistent distributed state")
	ErrNumeric     = errors.New("sim: numeric failure")
	ErrIO          = errors.New("sim: io failure")
)

const decomposeEvery = 50 // steps between domain re-decompositions

// System owns this rank's rods and all per-rank solver state.
type System struct {
	cfg *config.Config
	c   *comm.Comm
	log *slog.Logger

	RunID string

	rods  []rod.Rod
	links *rod.LinkMaps

	rng      *rngpool.Pool
	nThreads int

	exch    *neighbor.Search[rod.Rod]  // ownership exchange
	near    *neighbor.Search[rod.Near] // pair finding
	dir     *directory.Directory[rod.Near]
	coll    *constraint.Collector
	mob     *constraint.Mobility
	metrics *Metrics

	localIdx  map[int]int // gid -> local rod slot
	nearOwner map[int]int // gid -> owning rank, refreshed per step

	velKnown []float64 // 6 per rod: Brownian + non-Brownian

	// last resolved constraint set, kept for stress and snapshots
	blocks []constraint.Block
	nUni   int
	gamma  []float64

	stepCount   int
	snapID      int
	restartSeed uint64
}

// New builds a System on the communicator from a validated config and
// an optional initial .dat file (empty path: draw from config).
func New(cfg *config.Config, c *comm.Comm, log *slog.Logger, posFile string) (*System, error) {
	s := &System{
		cfg:      cfg,
		c:        c,
		log:      log.With("rank", c.Rank()),
		RunID:    uuid.NewString(),
		links:    rod.NewLinkMaps(),
		nThreads: runtime.GOMAXPROCS(0),
		metrics:  NewMetrics(nil),
	}
	s.restartSeed = cfg.RngSeed
	s.rng = rngpool.New(cfg.RngSeed+uint64(c.Rank()), s.nThreads)
	s.coll = constraint.NewCollector(s.nThreads)
	s.initSearches()

	if c.Rank() == 0 {
		cfg.Dump(func(format string, args ...any) {
			s.log.Info(fmt.Sprintf(format, args...))
		})
	}

	if err := s.initRods(posFile); err != nil {
		return nil, err
	}

	// distribute rank 0's initial set
	s.c.Barrier()
	if err := s.DecomposeDomain(); err != nil {
		return nil, err
	}
	s.CalcVolFrac()

	if !cfg.SylinderFixed {
		s.log.Warn("initial collision resolution begin", "preSteps", cfg.InitPreSteps)
		for i := 0; i < cfg.InitPreSteps; i++ {
			if err := s.preStep(); err != nil {
				return nil, err
			}
		}
		s.log.Warn("initial collision resolution end")
	}

	s.log.Warn("system initialized", "localRods", len(s.rods), "run", s.RunID)
	return s, nil
}

func (s *System) initSearches() {
	s.exch = neighbor.New(s.c,
		func(r *rod.Rod) geom.Vec { return r.Pos },
		func(r *rod.Rod) float64 { return 0.5*r.LengthCollision + r.RadiusCollision },
	)
	s.near = neighbor.New(s.c,
		func(n *rod.Near) geom.Vec { return n.Pos },
		func(n *rod.Near) float64 { return n.SearchRad() },
	)
	s.dir = directory.New[rod.Near](s.c)
	for k, l := range s.cfg.PeriodLengths() {
		if l > 0 {
			s.exch.SetPeriod(k, l)
			s.near.SetPeriod(k, l)
		}
	}
}

// preStep is one constraint-resolution-only step with no Brownian
// motion and no output, used to relax the initial configuration.
func (s *System) preStep() error {
	if err := s.PrepareStep(); err != nil {
		return err
	}
	s.CalcVelocityNonCon()
	if err := s.ResolveConstraints(); err != nil {
		return err
	}
	s.SumForceVelocity()
	s.StepEuler()
	return nil
}

// Rods exposes the local rods.
func (s *System) Rods() []rod.Rod { return s.rods }

// Links exposes the global link maps.
func (s *System) Links() *rod.LinkMaps { return s.links }

// StepCount returns the number of completed steps.
func (s *System) StepCount() int { return s.stepCount }

// SnapID returns the id of the next snapshot.
func (s *System) SnapID() int { return s.snapID }

// Metrics returns the run counters.
func (s *System) Metrics() *Metrics { return s.metrics }

// parallelFor runs fn(tid, i) over [0, n) on the worker pool with an
// implicit join. Each thread sees a contiguous index range.
func (s *System) parallelFor(n int, fn func(tid, i int)) {
	nt := s.nThreads
	if nt > n {
		nt = n
	}
	if nt <= 1 {
		for i := 0; i < n; i++ {
			fn(0, i)
		}
		return
	}
	var wg sync.WaitGroup
	chunk := (n + nt - 1) / nt
	for t := 0; t < nt; t++ {
		lo, hi := t*chunk, (t+1)*chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(tid, lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				fn(tid, i)
			}
		}(t, lo, hi)
	}
	wg.Wait()
}

// ApplyBoxBC wraps rod centers into the periodic box.
func (s *System) ApplyBoxBC() {
	lo := geom.Vec(s.cfg.SimBoxLow)
	hi := geom.Vec(s.cfg.SimBoxHigh)
	s.parallelFor(len(s.rods), func(_, i int) {
		s.rods[i].Wrap(lo, hi, s.cfg.SimBoxPBC)
	})
}

// DecomposeDomain repartitions rods into fresh Morton intervals.
func (s *System) DecomposeDomain() error {
	s.ApplyBoxBC()
	rods, err := s.exch.Partition(s.rods)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConsistency, err)
	}
	s.rods = rods
	s.updateRank()
	return nil
}

// ExchangeRods moves rods to the ranks owning their current position
// under the decomposition of the last DecomposeDomain.
func (s *System) ExchangeRods() error {
	rods, err := s.exch.Exchange(s.rods)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConsistency, err)
	}
	s.rods = rods
	s.updateRank()
	return nil
}

func (s *System) updateRank() {
	r := s.c.Rank()
	for i := range s.rods {
		s.rods[i].Rank = r
	}
}

// PrepareStep runs the per-step domain maintenance: wrap, exchange,
// clear accumulators, refresh collision geometry, rebuild the global
// index, the data directory and the mobility operator. Between
// PrepareStep and the end of RunStep rods must not be added, removed,
// or moved.
func (s *System) PrepareStep() error {
	s.ApplyBoxBC()

	if s.stepCount%decomposeEvery == 0 {
		if err := s.DecomposeDomain(); err != nil {
			return err
		}
	}
	if err := s.ExchangeRods(); err != nil {
		return err
	}

	rank := s.c.Rank()
	s.parallelFor(len(s.rods), func(_, i int) {
		r := &s.rods[i]
		r.Clear()
		r.RadiusCollision = r.Radius * s.cfg.SylinderDiameterColRatio
		r.LengthCollision = r.Length * s.cfg.SylinderLengthColRatio
		r.ColBuf = s.cfg.SylinderColBuf
		r.Rank = rank
	})

	if s.cfg.Monolayer {
		monoZ := 0.5 * (s.cfg.SimBoxHigh[2] + s.cfg.SimBoxLow[2])
		s.parallelFor(len(s.rods), func(_, i int) {
			r := &s.rods[i]
			r.Pos[2] = monoZ
			d := r.Direction()
			d[2] = 0
			if d.Norm() < 1e-12 {
				d = geom.Vec{1, 0, 0}
			}
			r.Orientation = geom.QuatFromTwoVectors(geom.Vec{0, 0, 1}, d)
		})
	}

	s.updateMaps()
	s.buildDirectory()
	s.calcMobility()

	s.coll.Clear()
	s.velKnown = resize(s.velKnown, 6*len(s.rods))
	s.blocks, s.gamma, s.nUni = nil, nil, 0
	return nil
}

// updateMaps rebuilds the contiguous globalIndex across ranks and the
// gid -> slot map.
func (s *System) updateMaps() {
	base := comm.ScanSum(s.c, len(s.rods))
	s.localIdx = make(map[int]int, len(s.rods))
	for i := range s.rods {
		s.rods[i].GlobalIndex = base + i
		s.localIdx[s.rods[i].Gid] = i
	}
}

// buildDirectory publishes this rank's near records.
func (s *System) buildDirectory() {
	gids := make([]int, len(s.rods))
	recs := make([]rod.Near, len(s.rods))
	s.parallelFor(len(s.rods), func(_, i int) {
		gids[i] = s.rods[i].Gid
		recs[i] = s.rods[i].Near()
	})
	s.dir.Build(gids, recs)
	s.nearOwner = make(map[int]int)
}

// calcMobility assembles the block-diagonal drag-inverse operator.
func (s *System) calcMobility() {
	s.mob = constraint.NewMobility(len(s.rods))
	mu := s.cfg.Viscosity
	s.parallelFor(len(s.rods), func(_, i int) {
		r := &s.rods[i]
		para, perp, rot := geom.DragCoeff(r.Length, r.Radius, mu)
		s.mob.Blocks[i] = geom.NewMobBlock(r.Direction(), para, perp, rot, r.IsImmovable)
	})
}

// NLocal returns the number of locally owned rods.
func (s *System) NLocal() int { return len(s.rods) }

// NGlobal is a collective returning the global rod count.
func (s *System) NGlobal() int {
	return comm.AllReduceScalar(s.c, len(s.rods), comm.OpSum)
}

// MaxGid is a collective returning the local and global maximum gid.
func (s *System) MaxGid() (local, global int) {
	local = -1
	for i := range s.rods {
		if s.rods[i].Gid > local {
			local = s.rods[i].Gid
		}
	}
	global = comm.AllReduceScalar(s.c, local, comm.OpMax)
	return local, global
}

// RunStep resolves constraints against the known velocities and
// advances the configuration by one step. PrepareStep must have run
// first; external forces and velocities go onto the rods in between.
func (s *System) RunStep() error {
	s.log.Info("step", "count", s.stepCount)

	if s.cfg.KBT > 0 {
		s.CalcVelocityBrown()
	}
	s.CalcVelocityNonCon()

	if err := s.ResolveConstraints(); err != nil {
		return err
	}
	s.SumForceVelocity()

	if s.stepCount%s.cfg.SnapEvery() == 0 {
		// write before moving so the data matches the geometry it was
		// solved for
		if err := s.WriteResult(); err != nil {
			return err
		}
	}

	s.StepEuler()
	s.stepCount++
	s.metrics.Steps.Inc()
	return nil
}

// StepEuler integrates positions and orientations by the summed
// velocities.
func (s *System) StepEuler() {
	if s.cfg.SylinderFixed {
		return
	}
	dt := s.cfg.Dt
	s.parallelFor(len(s.rods), func(_, i int) {
		s.rods[i].StepEuler(dt)
	})
}

// SumForceVelocity folds the per-origin accumulators into the totals.
func (s *System) SumForceVelocity() {
	s.parallelFor(len(s.rods), func(_, i int) {
		r := &s.rods[i]
		r.Vel = r.VelNonB.Add(r.VelBrown).Add(r.VelCol).Add(r.VelBi)
		r.Omega = r.OmegaNonB.Add(r.OmegaBrown).Add(r.OmegaCol).Add(r.OmegaBi)
		r.Force = r.ForceNonB.Add(r.ForceCol).Add(r.ForceBi)
		r.Torque = r.TorqueNonB.Add(r.TorqueCol).Add(r.TorqueBi)
	})
}

func resize(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	s = s[:n]
	for i := range s {
		s[i] = 0
	}
	return s
}
