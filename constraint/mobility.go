package constraint

import (
	"github.com/sylsim/sylsim/geom"
)

// Mobility is the block-diagonal drag-inverse operator: one 6x6 block
// (18 nonzeros) per locally owned rod. Immovable rods carry a zero
// block, pinning them against every force.
type Mobility struct {
	Blocks []geom.MobBlock
}

// NewMobility allocates a mobility over n local rods.
func NewMobility(n int) *Mobility {
	return &Mobility{Blocks: make([]geom.MobBlock, n)}
}

// N returns the number of rod blocks.
func (m *Mobility) N() int { return len(m.Blocks) }

// Apply computes vel = M force, where force and vel are packed
// [fx fy fz tx ty tz] per rod. Slices must both have length 6*N.
func (m *Mobility) Apply(force, vel []float64) {
	for i := range m.Blocks {
		o := 6 * i
		f := geom.Vec{force[o], force[o+1], force[o+2]}
		t := geom.Vec{force[o+3], force[o+4], force[o+5]}
		v := m.Blocks[i].ApplyTrans(f)
		w := m.Blocks[i].ApplyRot(t)
		vel[o], vel[o+1], vel[o+2] = v[0], v[1], v[2]
		vel[o+3], vel[o+4], vel[o+5] = w[0], w[1], w[2]
	}
}
