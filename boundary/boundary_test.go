package boundary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sylsim/sylsim/geom"
)

func TestWallProject(t *testing.T) {
	w := Boundary{Type: WallKind, Center: geom.Vec{0, 0, 0}, Norm: geom.Vec{0, 0, 1}}
	require.NoError(t, w.Check())

	// inside (above the wall)
	proj, delta := w.Project(geom.Vec{1, 2, 0.4})
	require.Equal(t, geom.Vec{1, 2, 0}, proj)
	require.Equal(t, geom.Vec{0, 0, 0.4}, delta)
	require.True(t, w.Inside(geom.Vec{1, 2, 0.4}))

	// outside (below)
	proj, delta = w.Project(geom.Vec{0, 0, -0.3})
	require.Equal(t, geom.Vec{0, 0, 0}, proj)
	require.Equal(t, geom.Vec{0, 0, 0.3}, delta)
	require.False(t, w.Inside(geom.Vec{0, 0, -0.3}))
}

func TestTubeProject(t *testing.T) {
	tube := Boundary{Type: TubeKind, Center: geom.Vec{0, 0, 0},
		Axis: geom.Vec{1, 0, 0}, R: 2}
	require.NoError(t, tube.Check())

	proj, delta := tube.Project(geom.Vec{5, 1, 0})
	require.InDelta(t, 5.0, proj[0], 1e-12)
	require.InDelta(t, 2.0, proj[1], 1e-12)
	require.InDelta(t, 1.0, delta.Norm(), 1e-12)
	require.True(t, tube.Inside(geom.Vec{5, 1, 0}))
	require.False(t, tube.Inside(geom.Vec{0, 3, 0}))
}

func TestSphereProject(t *testing.T) {
	s := Boundary{Type: SphereKind, Center: geom.Vec{1, 1, 1}, R: 3}
	require.NoError(t, s.Check())

	proj, delta := s.Project(geom.Vec{1, 1, 2})
	require.InDelta(t, 3.0, proj.Sub(s.Center).Norm(), 1e-12)
	require.InDelta(t, 2.0, delta.Norm(), 1e-12)
}

func TestCheckRejectsBadVariants(t *testing.T) {
	table := []Boundary{
		{Type: WallKind},
		{Type: TubeKind, Axis: geom.Vec{1, 0, 0}},
		{Type: SphereKind, R: -1},
		{Type: "cone", R: 1},
	}
	for i, b := range table {
		if err := b.Check(); err == nil {
			t.Errorf("%d) Check accepted invalid boundary %+v", i+1, b)
		}
	}
}
