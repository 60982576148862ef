package geom

import (
	"math"
)

// DragCoeff returns the translational (parallel, perpendicular) and
// rotational drag coefficients of a spherocylinder of the given length
// and radius in fluid of viscosity mu. Rods shorter than their diameter
// are treated as Stokes spheres.
func DragCoeff(length, radius, mu float64) (dragPara, dragPerp, dragRot float64) {
	if length < 2*radius {
		dragPara = 6 * math.Pi * mu * radius
		dragPerp = dragPara
		dragRot = 8 * math.Pi * mu * radius * radius * radius
		return dragPara, dragPerp, dragRot
	}
	b := -(1 + 2*math.Log(radius/length))
	dragPara = 8 * math.Pi * length * mu / (2 * b)
	dragPerp = 8 * math.Pi * length * mu / (b + 2)
	dragRot = 2 * math.Pi * mu * length * length * length / (3 * (b + 2))
	return dragPara, dragPerp, dragRot
}

// MobBlock is the 6x6 block-diagonal mobility of a single rod, stored
// as two row-major 3x3 blocks. Trans is anisotropic along the rod axis;
// Rot is the isotropic regularization 1/dragRot I, which removes the
// rotational null space of slender bodies without touching the
// geometric constraints.
type MobBlock struct {
	Trans [9]float64
	Rot   [9]float64
}

// NewMobBlock builds the drag-inverse mobility for a rod with unit axis
// q. Immovable rods get a zero block.
func NewMobBlock(q Vec, dragPara, dragPerp, dragRot float64, immovable bool) MobBlock {
	var m MobBlock
	if immovable {
		return m
	}
	paraInv, perpInv, rotInv := 1/dragPara, 1/dragPerp, 1/dragRot
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			qq := q[i] * q[j]
			m.Trans[3*i+j] = paraInv * qq
			if i == j {
				m.Trans[3*i+j] += perpInv * (1 - qq)
				m.Rot[3*i+j] = rotInv
			} else {
				m.Trans[3*i+j] -= perpInv * qq
			}
		}
	}
	return m
}

// ApplyTrans multiplies the translational block by f.
func (m *MobBlock) ApplyTrans(f Vec) Vec { return mat3Vec(&m.Trans, f) }

// ApplyRot multiplies the rotational block by t.
func (m *MobBlock) ApplyRot(t Vec) Vec { return mat3Vec(&m.Rot, t) }

func mat3Vec(m *[9]float64, v Vec) Vec {
	return Vec{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}
