/*
package constraint holds the constraint blocks collected each step,
the block-diagonal mobility, the matrix-free constraint operator

	[Du^T M Du        Du^T M Db          ]
	[Db^T M Du        Db^T M Db + K^{-1} ]

and the bound-projected iterative solvers that find the Lagrange
multipliers.
*/
package constraint

import (
	"github.com/sylsim/sylsim/geom"
)

// InvalidGid marks an unused participant slot.
const InvalidGid = -1

// Block is one scalar constraint: a signed gap, the force and torque
// directions a unit multiplier induces on each participating rod, and
// bookkeeping for the solver.
type Block struct {
	Delta0 float64 // initial signed gap
	Gamma  float64 // initial multiplier guess

	GidI, GidJ, GidK                         int
	GlobalIndexI, GlobalIndexJ, GlobalIndexK int

	OneSide   bool    // J is a mirror of I and gets no mobility contribution
	Bilateral bool    // multiplier unbounded instead of >= 0
	Kappa     float64 // spring constant; 0 means rigid

	LabI, LabJ, LabK geom.Vec // lab-frame attachment points

	ForceI, ForceJ, ForceK    geom.Vec // com force per unit gamma
	TorqueI, TorqueJ, TorqueK geom.Vec // com torque per unit gamma

	Stress [9]float64 // virial stress per unit gamma, row-major
}

// NewPairBlock builds a two-body block. Torques are the lever-arm cross
// products of the attachment points about each rod center.
func NewPairBlock(delta0, gamma float64,
	gidI, gidJ, globalIndexI, globalIndexJ int,
	forceI geom.Vec, labI, labJ, centerI, centerJ geom.Vec,
	oneSide, bilateral bool, kappa float64) Block {

	forceJ := forceI.Neg()
	return Block{
		Delta0: delta0, Gamma: gamma,
		GidI: gidI, GidJ: gidJ, GidK: InvalidGid,
		GlobalIndexI: globalIndexI, GlobalIndexJ: globalIndexJ,
		GlobalIndexK: InvalidGid,
		OneSide:      oneSide, Bilateral: bilateral, Kappa: kappa,
		LabI: labI, LabJ: labJ,
		ForceI:  forceI,
		ForceJ:  forceJ,
		TorqueI: labI.Sub(centerI).Cross(forceI),
		TorqueJ: labJ.Sub(centerJ).Cross(forceJ),
	}
}

// Collector accumulates blocks on per-thread queues during the
// collision and link passes. Queues are strictly thread local;
// Concat transfers ownership of all of them.
type Collector struct {
	queues [][]Block
}

// NewCollector returns a collector with one queue per worker thread.
func NewCollector(nThreads int) *Collector {
	return &Collector{queues: make([][]Block, nThreads)}
}

// Threads returns the number of per-thread queues.
func (c *Collector) Threads() int { return len(c.queues) }

// Queue returns the queue of one worker thread.
func (c *Collector) Queue(tid int) *[]Block { return &c.queues[tid] }

// Clear empties every queue, keeping capacity.
func (c *Collector) Clear() {
	for i := range c.queues {
		c.queues[i] = c.queues[i][:0]
	}
}

// Concat returns the union of all queues, unilateral blocks first, and
// the count of unilateral blocks.
func (c *Collector) Concat() (blocks []Block, nUni int) {
	total := 0
	for i := range c.queues {
		total += len(c.queues[i])
	}
	blocks = make([]Block, 0, total)
	for i := range c.queues {
		for _, b := range c.queues[i] {
			if !b.Bilateral {
				blocks = append(blocks, b)
			}
		}
	}
	nUni = len(blocks)
	for i := range c.queues {
		for _, b := range c.queues[i] {
			if b.Bilateral {
				blocks = append(blocks, b)
			}
		}
	}
	return blocks, nUni
}

// SumStress returns the gamma-weighted virial stress of the collected
// unilateral and bilateral blocks, each scaled by the multipliers in
// gamma (ordered as Concat returns the blocks).
func SumStress(blocks []Block, nUni int, gamma []float64) (uni, bi [9]float64) {
	if len(gamma) < len(blocks) {
		return uni, bi
	}
	for i, b := range blocks {
		for k := 0; k < 9; k++ {
			if i < nUni {
				uni[k] += gamma[i] * b.Stress[k]
			} else {
				bi[k] += gamma[i] * b.Stress[k]
			}
		}
	}
	return uni, bi
}
