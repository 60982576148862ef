/*
package boundary implements the confining primitives rods collide
with: an infinite wall, a cylindrical tube, and a spherical shell.

Each boundary answers a single query: project a point onto the surface
and return the offset between the point and its projection, oriented
into the allowed region. The caller decides inside from outside by
comparing the offset with the projection-to-point vector.
*/
package boundary

import (
	"fmt"

	"github.com/sylsim/sylsim/geom"
)

// Kind discriminates the boundary variants.
type Kind string

const (
	WallKind   Kind = "wall"
	TubeKind   Kind = "tube"
	SphereKind Kind = "sphere"
)

// Boundary is a tagged variant. Exactly the fields of its Kind are
// meaningful: Center and Norm for a wall (Norm points into the allowed
// half-space), Center, Axis and R for a tube, Center and R for a
// spherical shell.
type Boundary struct {
	Type   Kind     `yaml:"type"`
	Center geom.Vec `yaml:"center"`
	Norm   geom.Vec `yaml:"norm"`
	Axis   geom.Vec `yaml:"axis"`
	R      float64  `yaml:"radius"`
}

// Check validates and normalises the variant fields.
func (b *Boundary) Check() error {
	switch b.Type {
	case WallKind:
		if b.Norm.Norm() == 0 {
			return fmt.Errorf("boundary: wall needs a nonzero norm")
		}
		b.Norm = b.Norm.Normalized()
	case TubeKind:
		if b.Axis.Norm() == 0 {
			return fmt.Errorf("boundary: tube needs a nonzero axis")
		}
		if b.R <= 0 {
			return fmt.Errorf("boundary: tube needs a positive radius")
		}
		b.Axis = b.Axis.Normalized()
	case SphereKind:
		if b.R <= 0 {
			return fmt.Errorf("boundary: sphere needs a positive radius")
		}
	default:
		return fmt.Errorf("boundary: unknown type %q", b.Type)
	}
	return nil
}

// Project maps a query point onto the boundary surface. delta points
// from the projection to the query when the query is inside the
// allowed region, and from the query to the projection when outside,
// so it always points into the allowed region, matching the collision
// generator's sign convention.
func (b *Boundary) Project(q geom.Vec) (proj, delta geom.Vec) {
	switch b.Type {
	case WallKind:
		d := q.Sub(b.Center).Dot(b.Norm)
		proj = q.Sub(b.Norm.Scale(d))
		delta = proj.Sub(q)
		if d >= 0 { // inside: allowed half-space
			delta = q.Sub(proj)
		}
		return proj, delta
	case TubeKind:
		rel := q.Sub(b.Center)
		axial := b.Axis.Scale(rel.Dot(b.Axis))
		radial := rel.Sub(axial)
		rn := radial.Norm()
		if rn == 0 {
			// on the axis: any radial direction projects equally;
			// pick a fixed one
			radial = perpTo(b.Axis)
			rn = 1
		}
		proj = b.Center.Add(axial).Add(radial.Scale(b.R / rn))
		if rn <= b.R { // inside the tube
			delta = q.Sub(proj)
		} else {
			delta = proj.Sub(q)
		}
		return proj, delta
	case SphereKind:
		rel := q.Sub(b.Center)
		rn := rel.Norm()
		if rn == 0 {
			rel = geom.Vec{1, 0, 0}
			rn = 1
		}
		proj = b.Center.Add(rel.Scale(b.R / rn))
		if rn <= b.R {
			delta = q.Sub(proj)
		} else {
			delta = proj.Sub(q)
		}
		return proj, delta
	}
	panic("boundary: unchecked variant")
}

// Inside reports whether the query point is in the allowed region.
func (b *Boundary) Inside(q geom.Vec) bool {
	switch b.Type {
	case WallKind:
		return q.Sub(b.Center).Dot(b.Norm) >= 0
	case TubeKind:
		rel := q.Sub(b.Center)
		radial := rel.Sub(b.Axis.Scale(rel.Dot(b.Axis)))
		return radial.Norm() <= b.R
	case SphereKind:
		return q.Sub(b.Center).Norm() <= b.R
	}
	return false
}

func perpTo(a geom.Vec) geom.Vec {
	p := a.Cross(geom.Vec{1, 0, 0})
	if p.Norm() < 1e-12 {
		p = a.Cross(geom.Vec{0, 1, 0})
	}
	return p.Normalized()
}
