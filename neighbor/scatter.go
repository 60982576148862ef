package neighbor

import (
	"github.com/sylsim/sylsim/comm"
)

// ForwardScatterSrc maps a per-source array on the original
// decomposition onto the local source list (owned + ghosts) of the
// latest Setup. Collective.
func ForwardScatterSrc[T, V any](s *Search[T], in []V) []V {
	return forwardScatter(s, in, srcRefs(s))
}

// ForwardScatterTrg maps a per-target array on the original
// decomposition onto the local target list of the latest Setup.
// Collective.
func ForwardScatterTrg[T, V any](s *Search[T], in []V) []V {
	return forwardScatter(s, in, s.trgOrig)
}

// ReverseScatterTrg returns per-target values to the original
// decomposition, combining duplicates with the supplied function. nOrig
// is the length of this rank's original target list; unset entries keep
// the zero value of V. Collective.
func ReverseScatterTrg[T, V any](s *Search[T], in []V, nOrig int, combine func(a, b V) V) []V {
	type payload struct {
		Idx int
		Val V
	}
	size := s.c.Size()
	send := make([][]payload, size)
	for j, ref := range s.trgOrig {
		send[ref.Rank] = append(send[ref.Rank], payload{ref.Idx, in[j]})
	}
	recv := comm.AllToAll(s.c, send)

	out := make([]V, nOrig)
	set := make([]bool, nOrig)
	for _, part := range recv {
		for _, p := range part {
			if set[p.Idx] {
				out[p.Idx] = combine(out[p.Idx], p.Val)
			} else {
				out[p.Idx] = p.Val
				set[p.Idx] = true
			}
		}
	}
	return out
}

func srcRefs[T any](s *Search[T]) []origRef {
	refs := make([]origRef, len(s.srcs))
	for i := range s.srcs {
		refs[i] = s.srcs[i].Orig
	}
	return refs
}

func forwardScatter[T, V any](s *Search[T], in []V, refs []origRef) []V {
	size := s.c.Size()
	reqIdx := make([][]int, size)
	reqPos := make([][]int, size)
	for j, ref := range refs {
		reqIdx[ref.Rank] = append(reqIdx[ref.Rank], ref.Idx)
		reqPos[ref.Rank] = append(reqPos[ref.Rank], j)
	}

	queries := comm.AllToAll(s.c, reqIdx)
	reply := make([][]V, size)
	for src, qs := range queries {
		reply[src] = make([]V, len(qs))
		for i, idx := range qs {
			reply[src][i] = in[idx]
		}
	}
	answers := comm.AllToAll(s.c, reply)

	out := make([]V, len(refs))
	for r := 0; r < size; r++ {
		for i, v := range answers[r] {
			out[reqPos[r][i]] = v
		}
	}
	return out
}
