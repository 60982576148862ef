package comm

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelf(t *testing.T) {
	c := Self()
	require.Equal(t, 0, c.Rank())
	require.Equal(t, 1, c.Size())
	require.Equal(t, []int{3, 1, 2}, AllGather(c, []int{3, 1, 2}))
	require.Equal(t, 5.0, AllReduceScalar(c, 5.0, OpSum))
}

func TestAllGather(t *testing.T) {
	err := Run(4, func(c *Comm) error {
		local := []int{c.Rank() * 10, c.Rank()*10 + 1}
		all := AllGather(c, local)
		require.Equal(t, []int{0, 1, 10, 11, 20, 21, 30, 31}, all)
		return nil
	})
	require.NoError(t, err)
}

func TestAllToAll(t *testing.T) {
	const size = 3
	err := Run(size, func(c *Comm) error {
		send := make([][]int, size)
		for dst := 0; dst < size; dst++ {
			send[dst] = []int{c.Rank()*100 + dst}
		}
		recv := AllToAll(c, send)
		for src := 0; src < size; src++ {
			require.Equal(t, []int{src*100 + c.Rank()}, recv[src])
		}
		return nil
	})
	require.NoError(t, err)
}

func TestAllReduce(t *testing.T) {
	err := Run(4, func(c *Comm) error {
		sum := AllReduce(c, []float64{float64(c.Rank()), 1}, OpSum)
		require.Equal(t, []float64{6, 4}, sum)
		max := AllReduceScalar(c, c.Rank(), OpMax)
		require.Equal(t, 3, max)
		min := AllReduceScalar(c, float64(c.Rank())-1.5, OpMin)
		require.Equal(t, -1.5, min)
		return nil
	})
	require.NoError(t, err)
}

func TestBroadcastAndScan(t *testing.T) {
	err := Run(3, func(c *Comm) error {
		var data []string
		if c.Rank() == 1 {
			data = []string{"a", "b"}
		}
		got := Broadcast(c, 1, data)
		require.Equal(t, []string{"a", "b"}, got)

		off := ScanSum(c, 2)
		require.Equal(t, 2*c.Rank(), off)
		return nil
	})
	require.NoError(t, err)
}

func TestRepeatedCollectives(t *testing.T) {
	// slot reuse across many rounds must not corrupt data
	err := Run(4, func(c *Comm) error {
		for round := 0; round < 50; round++ {
			all := AllGather(c, []int{c.Rank() + round})
			sorted := append([]int(nil), all...)
			sort.Ints(sorted)
			require.Equal(t, []int{round, round + 1, round + 2, round + 3}, sorted)
		}
		return nil
	})
	require.NoError(t, err)
}
