package sim

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sylsim/sylsim/comm"
	"github.com/sylsim/sylsim/geom"
	"github.com/sylsim/sylsim/logging"
	"github.com/sylsim/sylsim/rod"
)

func TestWriteResultAndRestartRoundTrip(t *testing.T) {
	chdirTemp(t)
	cfg := baseCfg()
	s := newTestSystem(t, cfg, comm.Self(), []rod.Rod{
		alongX(0, geom.Vec{2, 5, 5}, 1, 0.1),
		alongX(1, geom.Vec{8, 5, 5}, 1, 0.1),
	})
	s.links.Add(rod.PinLink, rod.Link{Prev: 0, Next: 1})

	require.NoError(t, s.PrepareStep())
	require.NoError(t, s.WriteResult())

	// snapshot trio exists
	base := s.resultFolderWithID(0)
	for _, name := range []string{"SylinderAscii_0.dat", "ConBlockAscii_0.dat"} {
		_, err := os.Stat(filepath.Join(base, name))
		require.NoError(t, err, name)
	}

	info, err := ReadRestartInfo(filepath.Join(ResultRoot, "TimeStepInfo.txt"))
	require.NoError(t, err)
	require.Equal(t, cfg.RngSeed, info.RngSeed)
	require.Equal(t, 0, info.StepCount)
	require.Equal(t, 0, info.SnapID)
	require.Equal(t, "Sylinder_0.pvtp", info.Snapshot)

	s2, err := Reinitialize(cfg, comm.Self(), logging.NewWriter(io.Discard, "error"),
		filepath.Join(ResultRoot, "TimeStepInfo.txt"))
	require.NoError(t, err)
	require.Equal(t, 2, s2.NGlobal())
	require.Equal(t, []int{1}, s2.Links().Pin[0])
	require.Equal(t, 1, s2.StepCount())
	require.Equal(t, 1, s2.SnapID())

	// the reloaded rods keep geometry
	total := 0.0
	for _, r := range s2.Rods() {
		total += r.Length
	}
	require.InDelta(t, 2.0, total, 1e-9)
}

func TestResultFolderLayout(t *testing.T) {
	require.Equal(t, filepath.Join(ResultRoot, "result0-399"), resultFolder(1, 0))
	require.Equal(t, filepath.Join(ResultRoot, "result400-799"), resultFolder(1, 400))
	require.Equal(t, filepath.Join(ResultRoot, "result0-99"), resultFolder(4, 99))
	require.Equal(t, filepath.Join(ResultRoot, "result100-199"), resultFolder(4, 150))
	// never fewer than one snap per folder, even on huge runs
	require.Equal(t, filepath.Join(ResultRoot, "result7-7"), resultFolder(500, 7))
}

func TestReadRestartInfoRejectsShortFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "TimeStepInfo.txt")
	require.NoError(t, os.WriteFile(p, []byte("12\n3\n"), 0o644))
	_, err := ReadRestartInfo(p)
	require.Error(t, err)
}
