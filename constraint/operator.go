package constraint

import (
	"fmt"

	"github.com/sylsim/sylsim/comm"
	"github.com/sylsim/sylsim/geom"
)

// Operator applies the block constraint matrix
//
//	[Du^T M Du        Du^T M Db          ]
//	[Db^T M Du        Db^T M Db + K^{-1} ]
//
// to a rank-local slice of the block multiplier vector [gammaU; gammaB]
// without ever assembling it. Rod rows referenced by local blocks but
// owned elsewhere are ghost slots; their force contributions are
// reduced to the owner and their velocities fetched back each apply, so
// Apply is collective.
type Operator struct {
	c   *comm.Comm
	mob *Mobility
	dt  float64

	blocks []Block
	nUni   int

	rows [][3]int // per block: row slot of I, J, K; -1 when absent

	nLocal     int
	ghostGid   []int
	ghostOwner []int

	fu, fb, vu, vb []float64
}

// NewOperator indexes the blocks against the local rod map. localIdx
// maps gid to local rod index for rods this rank owns; owner returns
// the owning rank of any other gid referenced by a block (a negative
// return is a consistency error).
func NewOperator(c *comm.Comm, mob *Mobility, dt float64,
	blocks []Block, nUni int,
	localIdx map[int]int, owner func(gid int) int) (*Operator, error) {

	op := &Operator{
		c: c, mob: mob, dt: dt,
		blocks: blocks, nUni: nUni,
		rows:   make([][3]int, len(blocks)),
		nLocal: mob.N(),
	}

	ghostIdx := map[int]int{}
	slot := func(gid int) (int, error) {
		if i, ok := localIdx[gid]; ok {
			return i, nil
		}
		if g, ok := ghostIdx[gid]; ok {
			return op.nLocal + g, nil
		}
		r := owner(gid)
		if r < 0 {
			return 0, fmt.Errorf("constraint: no owner known for gid %d", gid)
		}
		g := len(op.ghostGid)
		ghostIdx[gid] = g
		op.ghostGid = append(op.ghostGid, gid)
		op.ghostOwner = append(op.ghostOwner, r)
		return op.nLocal + g, nil
	}

	for i := range blocks {
		b := &blocks[i]
		op.rows[i] = [3]int{-1, -1, -1}
		var err error
		if op.rows[i][0], err = slot(b.GidI); err != nil {
			return nil, err
		}
		if !b.OneSide && b.GidJ != InvalidGid {
			if op.rows[i][1], err = slot(b.GidJ); err != nil {
				return nil, err
			}
		}
		if b.GidK != InvalidGid {
			if op.rows[i][2], err = slot(b.GidK); err != nil {
				return nil, err
			}
		}
	}

	n := 6 * (op.nLocal + len(op.ghostGid))
	op.fu = make([]float64, n)
	op.fb = make([]float64, n)
	op.vu = make([]float64, n)
	op.vb = make([]float64, n)
	return op, nil
}

// NumCon returns the local number of constraint rows.
func (op *Operator) NumCon() int { return len(op.blocks) }

// NumUni returns the local number of unilateral rows.
func (op *Operator) NumUni() int { return op.nUni }

func addRow(dst []float64, row int, f, t geom.Vec, s float64) {
	o := 6 * row
	dst[o] += s * f[0]
	dst[o+1] += s * f[1]
	dst[o+2] += s * f[2]
	dst[o+3] += s * t[0]
	dst[o+4] += s * t[1]
	dst[o+5] += s * t[2]
}

// scatter writes D gamma into the two force columns.
func (op *Operator) scatter(gamma []float64) {
	for i := range op.fu {
		op.fu[i] = 0
		op.fb[i] = 0
	}
	for i := range op.blocks {
		b := &op.blocks[i]
		dst := op.fu
		if i >= op.nUni {
			dst = op.fb
		}
		g := gamma[i]
		if r := op.rows[i][0]; r >= 0 {
			addRow(dst, r, b.ForceI, b.TorqueI, g)
		}
		if r := op.rows[i][1]; r >= 0 {
			addRow(dst, r, b.ForceJ, b.TorqueJ, g)
		}
		if r := op.rows[i][2]; r >= 0 {
			addRow(dst, r, b.ForceK, b.TorqueK, g)
		}
	}
}

type ghostMsg struct {
	Gid  int
	Vals [12]float64
}

// reduceGhosts sums ghost-row force contributions into the owners'
// local rows. Collective.
func (op *Operator) reduceGhosts(localIdx map[int]int) error {
	send := make([][]ghostMsg, op.c.Size())
	for g, gid := range op.ghostGid {
		o := 6 * (op.nLocal + g)
		var m ghostMsg
		m.Gid = gid
		copy(m.Vals[0:6], op.fu[o:o+6])
		copy(m.Vals[6:12], op.fb[o:o+6])
		send[op.ghostOwner[g]] = append(send[op.ghostOwner[g]], m)
	}
	recv := comm.AllToAll(op.c, send)
	for _, part := range recv {
		for _, m := range part {
			i, ok := localIdx[m.Gid]
			if !ok {
				return fmt.Errorf("constraint: ghost reduce for gid %d not owned here", m.Gid)
			}
			o := 6 * i
			for k := 0; k < 6; k++ {
				op.fu[o+k] += m.Vals[k]
				op.fb[o+k] += m.Vals[6+k]
			}
		}
	}
	return nil
}

// fetchGhosts fills ghost velocity rows from the owners. Collective.
func (op *Operator) fetchGhosts(localIdx map[int]int) error {
	send := make([][]int, op.c.Size())
	pos := make([][]int, op.c.Size())
	for g, gid := range op.ghostGid {
		r := op.ghostOwner[g]
		send[r] = append(send[r], gid)
		pos[r] = append(pos[r], g)
	}
	queries := comm.AllToAll(op.c, send)
	reply := make([][]ghostMsg, op.c.Size())
	for src, qs := range queries {
		reply[src] = make([]ghostMsg, len(qs))
		for i, gid := range qs {
			li, ok := localIdx[gid]
			if !ok {
				return fmt.Errorf("constraint: ghost fetch for gid %d not owned here", gid)
			}
			o := 6 * li
			m := ghostMsg{Gid: gid}
			copy(m.Vals[0:6], op.vu[o:o+6])
			copy(m.Vals[6:12], op.vb[o:o+6])
			reply[src][i] = m
		}
	}
	answers := comm.AllToAll(op.c, reply)
	for r := range answers {
		for i, m := range answers[r] {
			o := 6 * (op.nLocal + pos[r][i])
			copy(op.vu[o:o+6], m.Vals[0:6])
			copy(op.vb[o:o+6], m.Vals[6:12])
		}
	}
	return nil
}

// Apply computes out = Mc gamma. gamma and out hold the local
// unilateral rows followed by the local bilateral rows. Collective.
func (op *Operator) Apply(localIdx map[int]int, gamma, out []float64) error {
	op.scatter(gamma)
	if err := op.reduceGhosts(localIdx); err != nil {
		return err
	}

	op.mob.Apply(op.fu[:6*op.nLocal], op.vu[:6*op.nLocal])
	op.mob.Apply(op.fb[:6*op.nLocal], op.vb[:6*op.nLocal])

	if err := op.fetchGhosts(localIdx); err != nil {
		return err
	}

	for i := range op.blocks {
		out[i] = op.gatherRow(i, op.vu, op.vb)
		if i >= op.nUni && op.blocks[i].Kappa > 0 {
			out[i] += gamma[i] / (op.blocks[i].Kappa * op.dt)
		}
	}
	return nil
}

// gatherRow evaluates one row of D^T against the sum of the two
// velocity columns.
func (op *Operator) gatherRow(i int, vu, vb []float64) float64 {
	b := &op.blocks[i]
	sum := 0.0
	acc := func(row int, f, t geom.Vec) {
		o := 6 * row
		sum += f[0]*(vu[o]+vb[o]) + f[1]*(vu[o+1]+vb[o+1]) + f[2]*(vu[o+2]+vb[o+2])
		sum += t[0]*(vu[o+3]+vb[o+3]) + t[1]*(vu[o+4]+vb[o+4]) + t[2]*(vu[o+5]+vb[o+5])
	}
	if r := op.rows[i][0]; r >= 0 {
		acc(r, b.ForceI, b.TorqueI)
	}
	if r := op.rows[i][1]; r >= 0 {
		acc(r, b.ForceJ, b.TorqueJ)
	}
	if r := op.rows[i][2]; r >= 0 {
		acc(r, b.ForceK, b.TorqueK)
	}
	return sum
}

// GatherKnown computes D^T vel for a per-rod known velocity (packed
// 6 per local rod): the velocity part of the solver right hand side
// q = delta0/dt + D^T v. Collective (ghost rows are fetched).
func (op *Operator) GatherKnown(localIdx map[int]int, vel []float64, out []float64) error {
	copy(op.vu[:6*op.nLocal], vel)
	for i := 6 * op.nLocal; i < len(op.vu); i++ {
		op.vu[i] = 0
	}
	for i := range op.vb {
		op.vb[i] = 0
	}
	if err := op.fetchGhosts(localIdx); err != nil {
		return err
	}
	for i := range op.blocks {
		out[i] = op.gatherRow(i, op.vu, op.vb)
	}
	return nil
}

// Writeback turns the converged multipliers into per-rod constraint
// forces and velocities, split by constraint class. All slices are
// packed 6 per local rod. Collective.
func (op *Operator) Writeback(localIdx map[int]int, gamma []float64) (forceU, velU, forceB, velB []float64, err error) {
	op.scatter(gamma)
	if err := op.reduceGhosts(localIdx); err != nil {
		return nil, nil, nil, nil, err
	}
	n := 6 * op.nLocal
	forceU = append([]float64(nil), op.fu[:n]...)
	forceB = append([]float64(nil), op.fb[:n]...)
	velU = make([]float64, n)
	velB = make([]float64, n)
	op.mob.Apply(forceU, velU)
	op.mob.Apply(forceB, velB)
	return forceU, velU, forceB, velB, nil
}
