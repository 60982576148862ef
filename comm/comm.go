/*
package comm provides the communicator handle shared by every
distributed component. Ranks are goroutines inside one process; every
collective suspends the calling rank until all peers participate.

The handle is passed explicitly down the call tree. There is no
process-wide communicator state.
*/
package comm

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group is the shared state of one communicator: publication slots and
// a cyclic barrier. Create one Group, then hand each rank its Comm.
type Group struct {
	size int
	pub  []any
	bar  *barrier
}

// NewGroup returns the shared state for a communicator of the given
// size.
func NewGroup(size int) *Group {
	if size < 1 {
		panic(fmt.Sprintf("comm: invalid group size %d", size))
	}
	return &Group{
		size: size,
		pub:  make([]any, size),
		bar:  newBarrier(size),
	}
}

// Comm is one rank's handle on a Group.
type Comm struct {
	rank int
	g    *Group
}

// Comm returns the handle for the given rank.
func (g *Group) Comm(rank int) *Comm {
	if rank < 0 || rank >= g.size {
		panic(fmt.Sprintf("comm: rank %d out of range [0,%d)", rank, g.size))
	}
	return &Comm{rank: rank, g: g}
}

// Self returns a size-1 communicator. All collectives on it return
// immediately.
func Self() *Comm { return NewGroup(1).Comm(0) }

// Rank returns this rank's index.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks.
func (c *Comm) Size() int { return c.g.size }

// Barrier suspends until every rank has entered.
func (c *Comm) Barrier() {
	if c.g.size == 1 {
		return
	}
	c.g.bar.wait()
}

// exchange publishes v and returns every rank's publication in rank
// order. The slots are fenced on both sides so they can be reused by
// the next collective.
func (c *Comm) exchange(v any) []any {
	if c.g.size == 1 {
		return []any{v}
	}
	c.g.pub[c.rank] = v
	c.g.bar.wait()
	all := make([]any, c.g.size)
	copy(all, c.g.pub)
	c.g.bar.wait()
	return all
}

// Run spawns one goroutine per rank over a fresh Group and waits for
// all of them. The first error cancels nothing mid-collective (ranks
// run to completion) but is returned.
func Run(size int, fn func(c *Comm) error) error {
	g := NewGroup(size)
	var eg errgroup.Group
	for r := 0; r < size; r++ {
		c := g.Comm(r)
		eg.Go(func() error { return fn(c) })
	}
	return eg.Wait()
}

// barrier is a reusable cyclic barrier.
type barrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	size  int
	count int
	gen   int
}

func newBarrier(size int) *barrier {
	b := &barrier{size: size}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	gen := b.gen
	b.count++
	if b.count == b.size {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}
