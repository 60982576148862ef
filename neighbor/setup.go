package neighbor

import (
	"math"

	"github.com/sylsim/sylsim/comm"
	"github.com/sylsim/sylsim/geom"
)

type shipped[T any] struct {
	Obj   T
	Shift geom.Vec
	Orig  origRef
}

// Setup is a collective that repartitions targets into Morton
// intervals, ships every source (with its periodic shift) to each rank
// it can reach, and enumerates the interaction pairs. Targets of the
// returned pairs are always locally owned.
func (s *Search[T]) Setup(src, trg []T) error {
	if err := s.checkPeriods(); err != nil {
		return err
	}

	union := make([]T, 0, len(src)+len(trg))
	union = append(union, src...)
	union = append(union, trg...)
	s.buildGrid(union)

	trgKeys := make([]uint64, len(trg))
	for i := range trg {
		trgKeys[i] = s.keyOf(s.coord(&trg[i]))
	}
	s.computeSplitters(trgKeys)

	s.routeTargets(trg, trgKeys)
	s.routeSources(src)
	s.enumeratePairs()
	return nil
}

// routeTargets sends each target to the rank owning its key and sorts
// the received set by key.
func (s *Search[T]) routeTargets(trg []T, keys []uint64) {
	size := s.c.Size()
	send := make([][]shipped[T], size)
	for i := range trg {
		o := s.ownerOfKey(keys[i])
		send[o] = append(send[o], shipped[T]{trg[i], geom.Vec{}, origRef{s.c.Rank(), i}})
	}
	recv := comm.AllToAll(s.c, send)

	s.trgs = s.trgs[:0]
	s.trgOrig = s.trgOrig[:0]
	for _, part := range recv {
		for _, sh := range part {
			s.trgs = append(s.trgs, sh.Obj)
			s.trgOrig = append(s.trgOrig, sh.Orig)
		}
	}
}

// shiftCombos enumerates the lattice translations to test: the
// quantised period times {-1, 0, +1} along each periodic axis.
func (s *Search[T]) shiftCombos() []geom.Vec {
	combos := []geom.Vec{{}}
	for k := 0; k < 3; k++ {
		if s.periodQ[k] == 0 {
			continue
		}
		var next []geom.Vec
		for _, c := range combos {
			for _, m := range [3]float64{-1, 0, 1} {
				cc := c
				cc[k] = m * s.periodQ[k]
				next = append(next, cc)
			}
		}
		combos = next
	}
	return combos
}

// routeSources ships one copy of each (source, shift) to every rank
// whose target interval the shifted ball can reach.
func (s *Search[T]) routeSources(src []T) {
	size := s.c.Size()
	send := make([][]shipped[T], size)
	combos := s.shiftCombos()
	seen := make([]bool, size)

	for i := range src {
		p := s.coord(&src[i])
		r := s.rad(&src[i])
		for _, shift := range combos {
			ps := p.Add(shift)
			cmin, cmax := s.coverCells(ps, r, 1)
			for d := range seen {
				seen[d] = false
			}
			for x := cmin[0]; x <= cmax[0]; x++ {
				for y := cmin[1]; y <= cmax[1]; y++ {
					for z := cmin[2]; z <= cmax[2]; z++ {
						o := s.ownerOfKey(mortonKey(uint64(x), uint64(y), uint64(z)))
						if !seen[o] {
							seen[o] = true
							send[o] = append(send[o],
								shipped[T]{src[i], shift, origRef{s.c.Rank(), i}})
						}
					}
				}
			}
		}
	}

	recv := comm.AllToAll(s.c, send)
	s.srcs = s.srcs[:0]
	for _, part := range recv {
		for _, sh := range part {
			s.srcs = append(s.srcs, srcEntry[T]{sh.Obj, sh.Shift, sh.Orig})
		}
	}
}

// coverCells returns the clamped cell range touched by a ball, expanded
// by pad cells on every side.
func (s *Search[T]) coverCells(p geom.Vec, r float64, pad int) (cmin, cmax [3]int) {
	for k := 0; k < 3; k++ {
		lo := int(math.Floor((p[k] - r - s.origin[k]) / s.cellW[k]))
		hi := int(math.Floor((p[k] + r - s.origin[k]) / s.cellW[k]))
		cmin[k] = clampInt(lo-pad, 0, s.nCell[k]-1)
		cmax[k] = clampInt(hi+pad, 0, s.nCell[k]-1)
	}
	return cmin, cmax
}

// enumeratePairs tests every local source copy against the targets in
// its neighborhood with the exact ball-ball predicate.
func (s *Search[T]) enumeratePairs() {
	cells := map[[3]int][]int{}
	for i := range s.trgs {
		c := s.cellOf(s.coord(&s.trgs[i]))
		cells[c] = append(cells[c], i)
	}

	s.pairs = s.pairs[:0]
	for j := range s.srcs {
		e := &s.srcs[j]
		ps := s.coord(&e.Obj).Add(e.Shift)
		rs := s.rad(&e.Obj)
		cmin, cmax := s.coverCells(ps, rs, 1)
		zeroShift := e.Shift == (geom.Vec{})
		for x := cmin[0]; x <= cmax[0]; x++ {
			for y := cmin[1]; y <= cmax[1]; y++ {
				for z := cmin[2]; z <= cmax[2]; z++ {
					for _, t := range cells[[3]int{x, y, z}] {
						if zeroShift && s.trgOrig[t] == e.Orig {
							continue // self pair
						}
						pt := s.coord(&s.trgs[t])
						rt := s.rad(&s.trgs[t])
						d := pt.Sub(ps)
						reach := rt + rs
						if d.Dot(d) <= reach*reach {
							s.pairs = append(s.pairs, Pair{Trg: t, Src: j, Shift: e.Shift})
						}
					}
				}
			}
		}
	}
}

// Partition is a collective that redistributes objs into contiguous
// Morton intervals and returns this rank's new set. The resulting
// splitters stay in effect for Exchange until the next Partition.
func (s *Search[T]) Partition(objs []T) ([]T, error) {
	if err := s.checkPeriods(); err != nil {
		return nil, err
	}
	s.buildGrid(objs)
	keys := make([]uint64, len(objs))
	for i := range objs {
		keys[i] = s.keyOf(s.coord(&objs[i]))
	}
	s.computeSplitters(keys)
	return s.route(objs, keys), nil
}

// Exchange routes objs by the splitters of the latest Partition. Before
// any Partition it degenerates to one.
func (s *Search[T]) Exchange(objs []T) ([]T, error) {
	if s.splitters == nil {
		return s.Partition(objs)
	}
	keys := make([]uint64, len(objs))
	for i := range objs {
		keys[i] = s.keyOf(s.coord(&objs[i]))
	}
	return s.route(objs, keys), nil
}

func (s *Search[T]) route(objs []T, keys []uint64) []T {
	send := make([][]T, s.c.Size())
	for i := range objs {
		o := s.ownerOfKey(keys[i])
		send[o] = append(send[o], objs[i])
	}
	recv := comm.AllToAll(s.c, send)
	var out []T
	for _, part := range recv {
		out = append(out, part...)
	}
	return out
}
