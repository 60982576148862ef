package rod

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sylsim/sylsim/geom"
)

func TestStepEulerReversible(t *testing.T) {
	r := Rod{
		Pos:         geom.Vec{1, 2, 3},
		Orientation: geom.QuatFromTwoVectors(geom.Vec{0, 0, 1}, geom.Vec{1, 1, 0}),
		Length:      1, Radius: 0.1,
	}
	r.Vel = geom.Vec{0.5, -0.2, 0.1}
	r.Omega = geom.Vec{0.1, 0.2, -0.3}

	start := r
	const dt = 1e-3
	r.StepEuler(dt)
	r.Vel = r.Vel.Neg()
	r.Omega = r.Omega.Neg()
	r.StepEuler(dt)

	require.InDelta(t, 0.0, r.Pos.Sub(start.Pos).Norm(), 1e-12)
	require.InDelta(t, 0.0, r.Direction().Sub(start.Direction()).Norm(), 1e-6)
	require.InDelta(t, 1.0, r.Orientation.Norm(), 1e-12)
}

func TestWrap(t *testing.T) {
	r := Rod{Pos: geom.Vec{10.5, -0.3, 5}}
	r.Wrap(geom.Vec{0, 0, 0}, geom.Vec{10, 10, 10}, [3]bool{true, true, false})
	require.Equal(t, geom.Vec{0.5, 9.7, 5}, r.Pos)
}

func TestDatRoundTrip(t *testing.T) {
	rods := []Rod{
		{Gid: 3, Radius: 0.25, Length: 2, Group: 1,
			Pos:         geom.Vec{1, 2, 3},
			Orientation: geom.QuatFromTwoVectors(geom.Vec{0, 0, 1}, geom.Vec{1, 0, 0})},
		{Gid: 7, Radius: 0.1, Length: 0, IsImmovable: true,
			Pos: geom.Vec{4, 4, 4}, Orientation: geom.QuatIdentity},
	}
	links := NewLinkMaps()
	links.Add(PinLink, Link{3, 7})
	links.Add(ExtendLink, Link{7, 3})
	links.Add(BendLink, Link{3, 7})
	links.AddTri(TriLink{Center: 3, Left: 7, Right: 9})

	var buf bytes.Buffer
	require.NoError(t, WriteDat(&buf, rods, links, 1.5))

	got, gotLinks, err := ReadDat(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, 3, got[0].Gid)
	require.False(t, got[0].IsImmovable)
	require.InDelta(t, 0.0, got[0].Pos.Sub(rods[0].Pos).Norm(), 1e-12)
	require.InDelta(t, 2.0, got[0].Length, 1e-12)
	require.InDelta(t, 0.0,
		got[0].Direction().Sub(rods[0].Direction()).Norm(), 1e-9)

	require.True(t, got[1].IsImmovable)
	require.InDelta(t, 0.0, got[1].Length, 1e-12)

	require.Equal(t, []int{7}, gotLinks.Pin[3])
	require.Equal(t, []int{3}, gotLinks.Extend[7])
	require.Equal(t, []int{7}, gotLinks.Bend[3])
	require.Equal(t, [][2]int{{7, 9}}, gotLinks.TriBend[3])
	require.Equal(t, []int{3}, gotLinks.PinReverse[7])
}

func TestReadDatRejectsGarbage(t *testing.T) {
	in := "1\n0\nC 1 nope 0 0 0 1 0 0 0\n"
	_, _, err := ReadDat(strings.NewReader(in))
	require.Error(t, err)
}

func TestNearRecord(t *testing.T) {
	r := Rod{
		Gid: 5, GlobalIndex: 2, Rank: 1,
		Pos:         geom.Vec{1, 1, 1},
		Orientation: geom.QuatFromTwoVectors(geom.Vec{0, 0, 1}, geom.Vec{0, 1, 0}),
		Length:      2, LengthCollision: 1.8,
		Radius: 0.2, RadiusCollision: 0.19,
		ColBuf: 0.3,
	}
	n := r.Near()
	require.Equal(t, 5, n.Gid)
	require.InDelta(t, 0.0, n.Direction.Sub(geom.Vec{0, 1, 0}).Norm(), 1e-12)
	require.InDelta(t, 0.9+0.19*1.6, n.SearchRad(), 1e-12)

	minus, plus := n.Minus(), n.Plus()
	require.InDelta(t, 2.0, plus.Sub(minus).Norm(), 1e-12)
	require.True(t, math.Abs(plus[1]-2) < 1e-12)
}

func TestIsSphere(t *testing.T) {
	r := Rod{Length: 0.3, Radius: 0.2, LengthCollision: 0.5, RadiusCollision: 0.2}
	require.True(t, r.IsSphere(false))
	require.False(t, r.IsSphere(true))
}
