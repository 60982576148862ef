package sim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/sylsim/sylsim/constraint"
	"github.com/sylsim/sylsim/geom"
	"github.com/sylsim/sylsim/rod"
)

// CollectPairCollision runs the neighbor search over the collision
// spherocylinders and emits one unilateral block per close pair. Only
// the pair with gidI < gidJ survives; the symmetric duplicate is
// dropped.
func (s *System) CollectPairCollision() error {
	nears := make([]rod.Near, len(s.rods))
	s.parallelFor(len(s.rods), func(_, i int) {
		nears[i] = s.rods[i].Near()
	})
	if err := s.near.Setup(nears, nears); err != nil {
		return fmt.Errorf("%w: %v", ErrConsistency, err)
	}

	pairs := s.near.Pairs()
	for _, p := range pairs {
		s.nearOwner[s.near.Trg(p.Trg).Gid] = s.near.Trg(p.Trg).Rank
		s.nearOwner[s.near.Src(p.Src).Gid] = s.near.Src(p.Src).Rank
	}

	s.parallelFor(len(pairs), func(tid, k int) {
		p := pairs[k]
		trg := s.near.Trg(p.Trg)
		src := s.near.Src(p.Src)
		if trg.Gid >= src.Gid {
			return
		}

		srcPos := src.Pos.Add(p.Shift)
		pI, pJ, dist := geom.SegmentClosestPoints(
			trg.Pos, trg.Direction, 0.5*trg.LengthCollision,
			srcPos, src.Direction, 0.5*src.LengthCollision)

		sep := dist - trg.RadiusCollision - src.RadiusCollision
		if sep >= trg.ColBuf*trg.RadiusCollision {
			return
		}

		n := pJ.Sub(pI).Normalized() // from I into J
		if n.Norm() == 0 {
			// centerlines intersect exactly; any separating direction
			// works
			n = geom.Vec{0, 0, 1}
		}
		b := constraint.NewPairBlock(sep, math.Max(-sep, 0),
			trg.Gid, src.Gid, trg.GlobalIndex, src.GlobalIndex,
			n.Neg(), pI, pJ, trg.Pos, srcPos,
			false, false, 0)
		b.Stress = geom.ContactStress(n, pI, pJ)
		que := s.coll.Queue(tid)
		*que = append(*que, b)
	})
	return nil
}

// CollectBoundaryCollision emits one-sided blocks for rod ends close to
// or beyond each confining boundary.
func (s *System) CollectBoundaryCollision() {
	for bi := range s.cfg.Boundaries {
		b := &s.cfg.Boundaries[bi]
		s.parallelFor(len(s.rods), func(tid, i int) {
			r := &s.rods[i]
			que := s.coll.Queue(tid)

			checkEnd := func(query geom.Vec, radius float64) {
				proj, delta := b.Project(query)
				dn := delta.Norm()
				if dn == 0 {
					return
				}
				norm := delta.Scale(1 / dn)
				outside := query.Sub(proj).Dot(delta) < 0

				var delta0 float64
				switch {
				case outside:
					delta0 = -dn - radius
				case dn < (1+2*r.ColBuf)*r.RadiusCollision:
					delta0 = dn - radius
				default:
					return
				}
				blk := constraint.NewPairBlock(delta0, math.Max(-delta0, 0),
					r.Gid, r.Gid, r.GlobalIndex, r.GlobalIndex,
					norm, query, proj, r.Pos, r.Pos,
					true, false, 0)
				blk.Stress = geom.ContactStress(norm, query, proj)
				*que = append(*que, blk)
			}

			if r.IsSphere(true) {
				checkEnd(r.Pos, 0.5*r.LengthCollision+r.RadiusCollision)
			} else {
				d := r.Direction().Scale(0.5 * r.LengthCollision)
				checkEnd(r.Pos.Sub(d), r.RadiusCollision)
				checkEnd(r.Pos.Add(d), r.RadiusCollision)
			}
		})
	}
}

// pbcImage shifts x by whole periods so it lands within half a period
// of trg along axis k. The selection is idempotent.
func (s *System) pbcImage(x, trg float64, k int) (float64, error) {
	if !s.cfg.SimBoxPBC[k] {
		return x, nil
	}
	period := s.cfg.SimBoxHigh[k] - s.cfg.SimBoxLow[k]
	x += period * math.Round((trg-x)/period)
	if math.Abs(trg-x) > 0.5*period+1e-9 {
		return x, fmt.Errorf("%w: pbc image on axis %d still %g from target (period %g)",
			ErrConsistency, k, math.Abs(trg-x), period)
	}
	return x, nil
}

// resolveImage applies pbcImage to every coordinate of a partner
// center.
func (s *System) resolveImage(center geom.Vec, target geom.Vec) (geom.Vec, error) {
	var err error
	for k := 0; k < 3; k++ {
		center[k], err = s.pbcImage(center[k], target[k], k)
		if err != nil {
			return center, err
		}
	}
	return center, nil
}

// linkTargets flattens a link multimap restricted to local rods into
// (local rod, partner gid) pairs and queries the directory for the
// partners. Collective.
func (s *System) linkTargets(m map[int][]int) (rodIdx []int, partners []rod.Near, err error) {
	var gidToFind []int
	for i := range s.rods {
		for _, next := range m[s.rods[i].Gid] {
			rodIdx = append(rodIdx, i)
			gidToFind = append(gidToFind, next)
		}
	}
	partners, err = s.dir.Find(gidToFind)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: link endpoint: %v", ErrConsistency, err)
	}
	for _, p := range partners {
		s.nearOwner[p.Gid] = p.Rank
	}
	return rodIdx, partners, nil
}

// CollectPinLink emits the three rigid bilateral blocks per pin link,
// one per world axis, tying the plus end of I to the minus end of J.
func (s *System) CollectPinLink() error {
	rodIdx, partners, err := s.linkTargets(s.links.Pin)
	if err != nil {
		return err
	}

	errs := make([]error, s.nThreads)
	s.parallelFor(len(rodIdx), func(tid, j int) {
		syI := &s.rods[rodIdx[j]]
		syJ := &partners[j]

		centerJ, err := s.resolveImage(syJ.Pos, syI.Pos)
		if err != nil {
			errs[tid] = err
			return
		}

		dirI := syI.Direction()
		pLoc := syI.Pos.Add(dirI.Scale(0.5 * syI.Length)) // plus end of I
		qLoc := centerJ.Sub(syJ.Direction.Scale(0.5 * syJ.Length))
		rvec := pLoc.Sub(qLoc)

		que := s.coll.Queue(tid)
		for k := 0; k < 3; k++ {
			var n geom.Vec
			n[k] = 1
			b := constraint.NewPairBlock(rvec[k], 0,
				syI.Gid, syJ.Gid, syI.GlobalIndex, syJ.GlobalIndex,
				n, pLoc, qLoc, syI.Pos, centerJ,
				false, true, 0)
			b.Stress = geom.ContactStress(n, pLoc, qLoc)
			*que = append(*que, b)
		}
	})
	return firstError(errs)
}

// CollectExtendLink emits one Hookean bilateral block per extend link.
func (s *System) CollectExtendLink() error {
	rodIdx, partners, err := s.linkTargets(s.links.Extend)
	if err != nil {
		return err
	}

	errs := make([]error, s.nThreads)
	s.parallelFor(len(rodIdx), func(tid, j int) {
		syI := &s.rods[rodIdx[j]]
		syJ := &partners[j]

		centerJ, err := s.resolveImage(syJ.Pos, syI.Pos)
		if err != nil {
			errs[tid] = err
			return
		}

		dirI := syI.Direction()
		pLoc := syI.Pos.Add(dirI.Scale(0.5 * syI.Length))
		qLoc := centerJ.Sub(syJ.Direction.Scale(0.5 * syJ.Length))

		delta0 := qLoc.Sub(pLoc).Norm() - syI.Radius - syJ.Radius - s.cfg.EndLinkGap
		normI := pLoc.Sub(qLoc).Normalized()
		if normI.Norm() == 0 {
			normI = dirI
		}

		b := constraint.NewPairBlock(delta0, math.Max(-delta0, 0),
			syI.Gid, syJ.Gid, syI.GlobalIndex, syJ.GlobalIndex,
			normI, pLoc, qLoc, syI.Pos, centerJ,
			false, true, s.cfg.EndLinkKappa)
		b.Stress = geom.ContactStress(normI, pLoc, qLoc)
		que := s.coll.Queue(tid)
		*que = append(*que, b)
	})
	return firstError(errs)
}

// CollectBendLink emits three angular bilateral blocks per bend link:
// the discrete curvature about each director of the slerp-midpoint
// frame, against the preferred curvature.
func (s *System) CollectBendLink() error {
	rodIdx, partners, err := s.linkTargets(s.links.Bend)
	if err != nil {
		return err
	}

	errs := make([]error, s.nThreads)
	s.parallelFor(len(rodIdx), func(tid, j int) {
		syI := &s.rods[rodIdx[j]]
		syJ := &partners[j]

		centerJ, err := s.resolveImage(syJ.Pos, syI.Pos)
		if err != nil {
			errs[tid] = err
			return
		}

		pLoc := syI.Pos.Add(syI.Direction().Scale(0.5 * syI.Length))
		qLoc := centerJ.Sub(syJ.Direction.Scale(0.5 * syJ.Length))

		quatI := syI.Orientation
		quatJ := syJ.Orientation
		quatMid := quatI.Slerp(quatJ, 0.5)
		curvature := geom.Curvature(quatI, quatJ)

		que := s.coll.Queue(tid)
		for k := 0; k < 3; k++ {
			var axis geom.Vec
			axis[k] = 1
			director := quatMid.Rotate(axis)

			b := constraint.Block{
				Delta0: curvature[k] - s.cfg.PreferredCurvature[k],
				GidI:   syI.Gid, GidJ: syJ.Gid, GidK: constraint.InvalidGid,
				GlobalIndexI: syI.GlobalIndex, GlobalIndexJ: syJ.GlobalIndex,
				GlobalIndexK: constraint.InvalidGid,
				Bilateral:    true,
				Kappa:        s.cfg.BendingLinkKappa[k],
				LabI:         pLoc, LabJ: qLoc,
				TorqueI: director.Neg(),
				TorqueJ: director,
			}
			*que = append(*que, b)
		}
	})
	return firstError(errs)
}

// CollectTriBendLink emits three angular bilateral blocks per triple,
// distributing the director torque over J, I, K as forces through the
// pseudo-inverse of each chord's moment tensor. The net force and net
// moment about the triple vanish.
func (s *System) CollectTriBendLink() error {
	// flatten to (local center rod, gidJ, gidK)
	var rodIdx []int
	var gidToFind []int
	for i := range s.rods {
		for _, jk := range s.links.TriBend[s.rods[i].Gid] {
			rodIdx = append(rodIdx, i)
			gidToFind = append(gidToFind, jk[0], jk[1])
		}
	}
	partners, err := s.dir.Find(gidToFind)
	if err != nil {
		return fmt.Errorf("%w: tri-bend endpoint: %v", ErrConsistency, err)
	}
	for _, p := range partners {
		s.nearOwner[p.Gid] = p.Rank
	}

	errs := make([]error, s.nThreads)
	s.parallelFor(len(rodIdx), func(tid, j int) {
		syI := &s.rods[rodIdx[j]]
		syJ := &partners[2*j]
		syK := &partners[2*j+1]

		centerI := syI.Pos
		centerJ, err := s.resolveImage(syJ.Pos, centerI)
		if err != nil {
			errs[tid] = err
			return
		}
		centerK, err := s.resolveImage(syK.Pos, centerI)
		if err != nil {
			errs[tid] = err
			return
		}

		chordJI := centerI.Sub(centerJ)
		chordIK := centerK.Sub(centerI)
		distJI := chordJI.Norm()
		distIK := chordIK.Norm()
		eJI := chordJI.Scale(1 / distJI)
		eIK := chordIK.Scale(1 / distIK)

		quatJI := geom.QuatFromTwoVectors(geom.Vec{0, 0, 1}, eJI)
		quatIK := geom.QuatFromTwoVectors(geom.Vec{0, 0, 1}, eIK)
		quatMid := quatJI.Slerp(quatIK, 0.5)
		curvature := geom.Curvature(quatJI, quatIK)

		// chord moment tensors d^2 (e e^T - I); rank 2, inverted in
		// the least-squares sense
		invJI := chordMomentPinv(eJI, distJI)
		invIK := chordMomentPinv(eIK, distIK)

		que := s.coll.Queue(tid)
		for k := 0; k < 3; k++ {
			var axis geom.Vec
			axis[k] = 1
			director := quatMid.Rotate(axis)

			torqueJI := director.Neg()
			torqueIK := director

			fJ := mat3VecMul(invJI, chordJI.Cross(torqueJI)).Neg()
			fK := mat3VecMul(invIK, chordIK.Cross(torqueIK))
			fI := fJ.Add(fK).Neg()

			b := constraint.Block{
				Delta0: curvature[k] - s.cfg.PreferredCurvature[k],
				GidI:   syI.Gid, GidJ: syJ.Gid, GidK: syK.Gid,
				GlobalIndexI: syI.GlobalIndex,
				GlobalIndexJ: syJ.GlobalIndex,
				GlobalIndexK: syK.GlobalIndex,
				Bilateral:    true,
				Kappa:        s.cfg.BendingLinkKappa[k],
				LabI:         centerI, LabJ: centerJ, LabK: centerK,
				ForceI: fI, ForceJ: fJ, ForceK: fK,
			}
			*que = append(*que, b)
		}
	})
	return firstError(errs)
}

// chordMomentPinv returns the pseudo-inverse of d^2 (e e^T - I) for a
// unit chord e of length d.
func chordMomentPinv(e geom.Vec, d float64) [9]float64 {
	var m [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[3*i+j] = d * d * (e[i] * e[j])
			if i == j {
				m[3*i+j] -= d * d
			}
		}
	}
	return pinv3(m)
}

// pinv3 is the SVD pseudo-inverse of a 3x3 matrix.
func pinv3(a [9]float64) [9]float64 {
	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(3, 3, a[:]), mat.SVDFull) {
		return [9]float64{}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sv := svd.Values(nil)

	tol := 1e-12 * sv[0]
	sInv := mat.NewDense(3, 3, nil)
	for i, s := range sv {
		if s > tol {
			sInv.Set(i, i, 1/s)
		}
	}

	var tmp, out mat.Dense
	tmp.Mul(sInv, u.T())
	out.Mul(&v, &tmp)

	var p [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			p[3*i+j] = out.At(i, j)
		}
	}
	return p
}

func mat3VecMul(m [9]float64, v geom.Vec) geom.Vec {
	return geom.Vec{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
