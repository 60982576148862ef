/*
package neighbor finds all short-range interaction pairs between
objects distributed over the ranks of a communicator, including pairs
through periodic images.

Objects are binned on a uniform grid sized by the largest interaction
ball, ordered by the Morton key of their cell, and partitioned into
contiguous key intervals, one interval per rank. Sources whose ball can
reach another rank's interval (under any allowed periodic shift) are
shipped there as ghosts. Pairs are then enumerated locally with the
exact Euclidean ball-ball predicate, so the grid only ever over-
approximates.

Pair order is unspecified. Both (i,j) and (j,i) are emitted; self pairs
(same original object, zero shift) are suppressed.
*/
package neighbor

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/sylsim/sylsim/comm"
	"github.com/sylsim/sylsim/geom"
)

// ErrPeriodMismatch reports ranks disagreeing about the period setting.
var ErrPeriodMismatch = errors.New("neighbor: period settings differ across ranks")

// Pair is one candidate interaction. Trg indexes the locally owned
// target list, Src the local source list (owned + ghosts). Shift is the
// lattice translation already applied to the source ball when the pair
// was detected; add it to the source's stored coordinates before any
// geometry.
type Pair struct {
	Trg, Src int
	Shift    geom.Vec
}

// origRef identifies an object on its original decomposition.
type origRef struct {
	Rank, Idx int
}

// Search is a reusable neighbor search over objects of type T.
type Search[T any] struct {
	c     *comm.Comm
	coord func(*T) geom.Vec
	rad   func(*T) float64

	period [3]float64 // 0 means non-periodic

	// tree geometry of the latest Setup
	origin  geom.Vec
	cellW   [3]float64
	nCell   [3]int
	periodQ [3]float64

	splitters []uint64 // rank r owns keys in [splitters[r], splitters[r+1])

	trgs    []T
	trgOrig []origRef
	srcs    []srcEntry[T]
	pairs   []Pair
}

type srcEntry[T any] struct {
	Obj   T
	Shift geom.Vec
	Orig  origRef
}

// New returns a Search using the given coordinate and radius accessors.
func New[T any](c *comm.Comm, coord func(*T) geom.Vec, rad func(*T) float64) *Search[T] {
	return &Search[T]{c: c, coord: coord, rad: rad}
}

// SetPeriod declares axis d periodic with the given length. Zero
// disables periodicity. All ranks must agree; Setup checks.
func (s *Search[T]) SetPeriod(d int, length float64) {
	s.period[d] = length
}

// Pairs returns the pair list of the latest Setup.
func (s *Search[T]) Pairs() []Pair { return s.pairs }

// Trg returns a locally owned target.
func (s *Search[T]) Trg(i int) *T { return &s.trgs[i] }

// NumTrg returns the number of locally owned targets.
func (s *Search[T]) NumTrg() int { return len(s.trgs) }

// Src returns a local source copy (owned or ghost).
func (s *Search[T]) Src(i int) *T { return &s.srcs[i].Obj }

// checkPeriods verifies every rank agrees on the period settings.
func (s *Search[T]) checkPeriods() error {
	local := s.period[:]
	lo := comm.AllReduce(s.c, local, comm.OpMin)
	hi := comm.AllReduce(s.c, local, comm.OpMax)
	for k := 0; k < 3; k++ {
		if lo[k] != hi[k] {
			return fmt.Errorf("%w: axis %d in [%g, %g]", ErrPeriodMismatch, k, lo[k], hi[k])
		}
	}
	return nil
}

// buildGrid sizes the uniform grid from the global bounding box and the
// largest ball, and quantises the periodic shifts onto it.
func (s *Search[T]) buildGrid(objs []T) {
	lo := []float64{math.Inf(1), math.Inf(1), math.Inf(1), 0}
	hi := []float64{math.Inf(-1), math.Inf(-1), math.Inf(-1), 0}
	for i := range objs {
		p := s.coord(&objs[i])
		r := s.rad(&objs[i])
		for k := 0; k < 3; k++ {
			lo[k] = math.Min(lo[k], p[k])
			hi[k] = math.Max(hi[k], p[k])
		}
		hi[3] = math.Max(hi[3], 2*r)
	}
	lo = comm.AllReduce(s.c, lo, comm.OpMin)
	hi = comm.AllReduce(s.c, hi, comm.OpMax)

	h := hi[3]
	if h <= 0 {
		h = 1
	}
	for k := 0; k < 3; k++ {
		if math.IsInf(lo[k], 1) {
			// no objects anywhere
			lo[k], hi[k] = 0, 0
		}
		s.origin[k] = lo[k]
		ext := hi[k] - lo[k]
		if s.period[k] > 0 {
			ext = math.Max(ext, s.period[k])
		}
		if ext <= 0 {
			ext = h
		}
		n := int(ext / h)
		if n < 1 {
			n = 1
		}
		if n > 1<<mortonBits-2 {
			n = 1<<mortonBits - 2
		}
		s.nCell[k] = n
		s.cellW[k] = ext / float64(n)

		// quantise the period onto the grid so Morton arithmetic on
		// shifted images stays exact
		if s.period[k] > 0 {
			cells := math.Floor(s.period[k] / ext * float64(n))
			s.periodQ[k] = cells / float64(n) * ext
		} else {
			s.periodQ[k] = 0
		}
	}
}

// cellOf returns the clamped cell coordinates of a point.
func (s *Search[T]) cellOf(p geom.Vec) [3]int {
	var c [3]int
	for k := 0; k < 3; k++ {
		c[k] = clampInt(int(math.Floor((p[k]-s.origin[k])/s.cellW[k])), 0, s.nCell[k]-1)
	}
	return c
}

func (s *Search[T]) keyOf(p geom.Vec) uint64 {
	c := s.cellOf(p)
	return mortonKey(uint64(c[0]), uint64(c[1]), uint64(c[2]))
}

// computeSplitters sample-sorts the keys so each rank owns a contiguous
// Morton interval of roughly equal population.
func (s *Search[T]) computeSplitters(keys []uint64) {
	sorted := append([]uint64(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	const perRank = 32
	var sample []uint64
	if len(sorted) > 0 {
		stride := len(sorted)/perRank + 1
		for i := 0; i < len(sorted); i += stride {
			sample = append(sample, sorted[i])
		}
	}
	all := comm.AllGather(s.c, sample)
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	size := s.c.Size()
	s.splitters = make([]uint64, size+1)
	s.splitters[0] = 0
	s.splitters[size] = math.MaxUint64
	for r := 1; r < size; r++ {
		if len(all) == 0 {
			s.splitters[r] = 0
			continue
		}
		s.splitters[r] = all[len(all)*r/size]
	}
}

// ownerOfKey returns the rank whose interval contains key.
func (s *Search[T]) ownerOfKey(key uint64) int {
	r := sort.Search(len(s.splitters)-1, func(i int) bool { return s.splitters[i+1] > key })
	if r >= s.c.Size() {
		r = s.c.Size() - 1
	}
	return r
}

func clampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
