package neighbor

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sylsim/sylsim/comm"
	"github.com/sylsim/sylsim/geom"
)

type ball struct {
	ID  int
	Pos geom.Vec
	R   float64
}

func ballCoord(b *ball) geom.Vec { return b.Pos }
func ballRad(b *ball) float64    { return b.R }

// brutePairs enumerates (trg, src, shift) triples by direct O(n^2)
// search over all periodic images.
func brutePairs(balls []ball, period [3]float64) map[string]bool {
	shifts := []geom.Vec{{}}
	for k := 0; k < 3; k++ {
		if period[k] == 0 {
			continue
		}
		var next []geom.Vec
		for _, s := range shifts {
			for _, m := range []float64{-1, 0, 1} {
				ss := s
				ss[k] = m * period[k]
				next = append(next, ss)
			}
		}
		shifts = next
	}

	out := map[string]bool{}
	for i := range balls {
		for j := range balls {
			for _, s := range shifts {
				if i == j && s == (geom.Vec{}) {
					continue
				}
				d := balls[i].Pos.Sub(balls[j].Pos.Add(s))
				reach := balls[i].R + balls[j].R
				if d.Dot(d) <= reach*reach {
					out[pairKey(balls[i].ID, balls[j].ID, s)] = true
				}
			}
		}
	}
	return out
}

func pairKey(trg, src int, shift geom.Vec) string {
	return fmt.Sprintf("%d-%d-%.0f,%.0f,%.0f", trg, src, shift[0], shift[1], shift[2])
}

func randomBalls(n int, gen *rand.Rand) []ball {
	balls := make([]ball, n)
	for i := range balls {
		balls[i] = ball{
			ID:  i,
			Pos: geom.Vec{gen.Float64() * 10, gen.Float64() * 10, gen.Float64() * 10},
			R:   0.2 + 0.3*gen.Float64(),
		}
	}
	return balls
}

func collectPairs(s *Search[ball]) []string {
	var keys []string
	for _, p := range s.Pairs() {
		keys = append(keys, pairKey(s.Trg(p.Trg).ID, s.Src(p.Src).ID, p.Shift))
	}
	return keys
}

func TestSetupSerialOpen(t *testing.T) {
	gen := rand.New(rand.NewSource(1))
	balls := randomBalls(200, gen)

	s := New(comm.Self(), ballCoord, ballRad)
	require.NoError(t, s.Setup(balls, balls))

	got := map[string]bool{}
	for _, k := range collectPairs(s) {
		require.False(t, got[k], "duplicate pair %s", k)
		got[k] = true
	}
	want := brutePairs(balls, [3]float64{})
	require.Equal(t, want, got)
}

func TestSetupSerialPeriodic(t *testing.T) {
	gen := rand.New(rand.NewSource(2))
	balls := randomBalls(150, gen)

	s := New(comm.Self(), ballCoord, ballRad)
	s.SetPeriod(0, 10)
	s.SetPeriod(2, 10)
	require.NoError(t, s.Setup(balls, balls))

	got := map[string]bool{}
	for _, k := range collectPairs(s) {
		got[k] = true
	}
	want := brutePairs(balls, [3]float64{10, 0, 10})
	require.Equal(t, want, got)
}

func TestSetupDistributed(t *testing.T) {
	gen := rand.New(rand.NewSource(3))
	all := randomBalls(160, gen)

	const size = 4
	err := comm.Run(size, func(c *comm.Comm) error {
		// block-distribute the balls
		per := len(all) / size
		local := all[c.Rank()*per : (c.Rank()+1)*per]

		s := New(c, ballCoord, ballRad)
		s.SetPeriod(1, 10)
		if err := s.Setup(local, local); err != nil {
			return err
		}

		// no duplicates within a rank
		seen := map[string]bool{}
		for _, k := range collectPairs(s) {
			if seen[k] {
				return fmt.Errorf("rank %d: duplicate pair %s", c.Rank(), k)
			}
			seen[k] = true
		}

		keys := comm.AllGather(c, collectPairs(s))
		got := map[string]bool{}
		for _, k := range keys {
			if got[k] {
				return fmt.Errorf("pair %s owned by two ranks", k)
			}
			got[k] = true
		}
		want := brutePairs(all, [3]float64{0, 10, 0})
		require.Equal(t, want, got, "rank %d", c.Rank())
		return nil
	})
	require.NoError(t, err)
}

func TestPeriodMismatchFatal(t *testing.T) {
	err := comm.Run(2, func(c *comm.Comm) error {
		s := New(c, ballCoord, ballRad)
		if c.Rank() == 0 {
			s.SetPeriod(0, 10)
		}
		return s.Setup(nil, nil)
	})
	require.ErrorIs(t, err, ErrPeriodMismatch)
}

func TestPartitionKeepsAll(t *testing.T) {
	gen := rand.New(rand.NewSource(4))
	all := randomBalls(100, gen)

	err := comm.Run(4, func(c *comm.Comm) error {
		per := len(all) / c.Size()
		local := append([]ball(nil), all[c.Rank()*per:(c.Rank()+1)*per]...)

		s := New(c, ballCoord, ballRad)
		mine, err := s.Partition(local)
		if err != nil {
			return err
		}
		var ids []int
		for _, b := range mine {
			ids = append(ids, b.ID)
		}
		global := comm.AllGather(c, ids)
		require.Len(t, global, len(all))
		sort.Ints(global)
		for i, id := range global {
			require.Equal(t, i, id)
		}

		// a second Exchange with unchanged positions is stable
		again, err := s.Exchange(mine)
		if err != nil {
			return err
		}
		require.Len(t, again, len(mine))
		return nil
	})
	require.NoError(t, err)
}

func TestForwardReverseScatter(t *testing.T) {
	gen := rand.New(rand.NewSource(5))
	all := randomBalls(80, gen)

	err := comm.Run(2, func(c *comm.Comm) error {
		per := len(all) / c.Size()
		local := all[c.Rank()*per : (c.Rank()+1)*per]

		s := New(c, ballCoord, ballRad)
		if err := s.Setup(local, local); err != nil {
			return err
		}

		// forward: ship each ball's ID, must match the stored object
		ids := make([]int, len(local))
		for i := range local {
			ids[i] = local[i].ID
		}
		fwdSrc := ForwardScatterSrc(s, ids)
		for j := range fwdSrc {
			require.Equal(t, s.Src(j).ID, fwdSrc[j])
		}
		fwdTrg := ForwardScatterTrg(s, ids)
		for j := range fwdTrg {
			require.Equal(t, s.Trg(j).ID, fwdTrg[j])
		}

		// reverse: ones from the sorted side sum to one per original
		ones := make([]float64, s.NumTrg())
		for i := range ones {
			ones[i] = 1
		}
		back := ReverseScatterTrg(s, ones, len(local), func(a, b float64) float64 { return a + b })
		for i, v := range back {
			require.Equal(t, 1.0, v, "target %d", i)
		}
		return nil
	})
	require.NoError(t, err)
}
