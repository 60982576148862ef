/*
package directory implements a distributed gid -> record lookup. Each
rank contributes the records it owns; lookups for arbitrary gids are
routed to the rank computed from the key hash, regardless of which rank
asked.

Build and Find are collective: every rank must call them together.
*/
package directory

import (
	"errors"
	"fmt"

	"github.com/sylsim/sylsim/comm"
)

// ErrNotFound reports a query for a gid no rank contributed. The caller
// is responsible for asking only for live gids.
var ErrNotFound = errors.New("directory: gid not found")

// Directory resolves gids to records of type T across ranks.
type Directory[T any] struct {
	c     *comm.Comm
	index map[int]T
}

// New returns an empty directory over the given communicator.
func New[T any](c *comm.Comm) *Directory[T] {
	return &Directory[T]{c: c, index: map[int]T{}}
}

type keyed[T any] struct {
	Gid int
	Rec T
}

type answer[T any] struct {
	Rec T
	OK  bool
}

// owner computes which rank indexes a gid.
func (d *Directory[T]) owner(gid int) int {
	h := uint64(gid) * 0x9e3779b97f4a7c15
	return int(h % uint64(d.c.Size()))
}

// Build is a collective that replaces the directory contents with the
// union of every rank's (gid, record) contributions. gids must be
// globally unique.
func (d *Directory[T]) Build(gids []int, recs []T) {
	if len(gids) != len(recs) {
		panic(fmt.Sprintf("directory: %d gids but %d records", len(gids), len(recs)))
	}
	send := make([][]keyed[T], d.c.Size())
	for i, gid := range gids {
		o := d.owner(gid)
		send[o] = append(send[o], keyed[T]{gid, recs[i]})
	}
	recv := comm.AllToAll(d.c, send)

	d.index = make(map[int]T, len(gids))
	for _, part := range recv {
		for _, kv := range part {
			d.index[kv.Gid] = kv.Rec
		}
	}
}

// Find is a collective that returns the record for each queried gid, in
// query order. Ranks may pass different (including empty) query lists.
// A query for an unknown gid returns ErrNotFound on the querying rank
// after the collective completes, so no rank is left suspended.
func (d *Directory[T]) Find(gidToFind []int) ([]T, error) {
	size := d.c.Size()
	send := make([][]int, size)
	// remember where each answer goes
	srcPos := make([][]int, size)
	for i, gid := range gidToFind {
		o := d.owner(gid)
		send[o] = append(send[o], gid)
		srcPos[o] = append(srcPos[o], i)
	}

	queries := comm.AllToAll(d.c, send)

	reply := make([][]answer[T], size)
	for src, qs := range queries {
		reply[src] = make([]answer[T], len(qs))
		for i, gid := range qs {
			rec, ok := d.index[gid]
			reply[src][i] = answer[T]{rec, ok}
		}
	}

	answers := comm.AllToAll(d.c, reply)

	out := make([]T, len(gidToFind))
	var err error
	for o := 0; o < size; o++ {
		for i, ans := range answers[o] {
			if !ans.OK {
				err = fmt.Errorf("%w: gid %d", ErrNotFound, send[o][i])
				continue
			}
			out[srcPos[o][i]] = ans.Rec
		}
	}
	return out, err
}
