package sim

import (
	"math"

	"github.com/sylsim/sylsim/comm"
	"github.com/sylsim/sylsim/constraint"
)

// CalcConStress reduces the gamma-weighted virial stress of the latest
// constraint set, scaled by 1/(N kBT), and logs the two tensors.
// Collective.
func (s *System) CalcConStress() (uni, bi [9]float64) {
	localUni, localBi := constraint.SumStress(s.blocks, s.nUni, s.gamma)

	scale := 1.0
	if n := s.NGlobal(); n > 0 && s.cfg.KBT > 0 {
		scale = 1 / (float64(n) * s.cfg.KBT)
	}
	var local [18]float64
	for k := 0; k < 9; k++ {
		local[k] = localUni[k] * scale
		local[9+k] = localBi[k] * scale
	}
	global := comm.AllReduce(s.c, local[:], comm.OpSum)
	copy(uni[:], global[:9])
	copy(bi[:], global[9:])

	s.log.Info("RECORD: ColXF", "stress", uni)
	s.log.Info("RECORD: BiXF", "stress", bi)
	return uni, bi
}

// CalcOrderParameter reduces the polar vector and nematic Q tensor over
// all rods and logs them. Collective.
func (s *System) CalcOrderParameter() (p [3]float64, q [9]float64) {
	var local [12]float64
	for i := range s.rods {
		d := s.rods[i].Direction()
		local[0] += d[0]
		local[1] += d[1]
		local[2] += d[2]
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				v := d[a] * d[b]
				if a == b {
					v -= 1.0 / 3.0
				}
				local[3+3*a+b] += v
			}
		}
	}
	global := comm.AllReduce(s.c, local[:], comm.OpSum)
	n := float64(s.NGlobal())
	if n == 0 {
		n = 1
	}
	for k := range global {
		global[k] /= n
	}
	copy(p[:], global[:3])
	copy(q[:], global[3:])
	s.log.Info("RECORD: Order", "P", p, "Q", q)
	return p, q
}

// CalcVolFrac reduces the spherocylinder volume fraction of the box and
// logs it. Collective.
func (s *System) CalcVolFrac() float64 {
	vol := 0.0
	for i := range s.rods {
		r := &s.rods[i]
		d := 2 * r.Radius
		vol += math.Pi * (0.25*r.Length*d*d + d*d*d/6)
	}
	volGlobal := comm.AllReduceScalar(s.c, vol, comm.OpSum)

	boxVol := 1.0
	for k := 0; k < 3; k++ {
		boxVol *= s.cfg.SimBoxHigh[k] - s.cfg.SimBoxLow[k]
	}
	frac := volGlobal / boxVol
	s.log.Warn("volume fraction", "sylinderVolume", volGlobal, "fraction", frac)
	return frac
}
