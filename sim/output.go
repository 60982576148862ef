package sim

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"

	"github.com/sylsim/sylsim/comm"
	"github.com/sylsim/sylsim/config"
	"github.com/sylsim/sylsim/constraint"
	"github.com/sylsim/sylsim/rngpool"
	"github.com/sylsim/sylsim/rod"
)

// ResultRoot is the base output directory.
const ResultRoot = "./result"

// resultFolder groups snapshots into subfolders so no folder holds
// more than max(400/size, 1) of them.
func resultFolder(size, snapID int) string {
	num := 400 / size
	if num < 1 {
		num = 1
	}
	k := snapID / num
	lo, hi := k*num, k*num+num-1
	return filepath.Join(ResultRoot, fmt.Sprintf("result%d-%d", lo, hi))
}

func (s *System) resultFolderWithID(snapID int) string {
	return resultFolder(s.c.Size(), snapID)
}

// CurrentResultFolder returns the folder of the next snapshot.
func (s *System) CurrentResultFolder() string { return s.resultFolderWithID(s.snapID) }

// WriteResult gathers the system to rank 0 and writes the snapshot
// trio: rod ASCII, constraint-block ASCII, and the restart descriptor.
// Collective.
func (s *System) WriteResult() error {
	base := s.CurrentResultFolder()
	if s.c.Rank() == 0 {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}
	s.c.Barrier()

	if err := s.writeAscii(base); err != nil {
		return err
	}
	if err := s.writeConBlocks(base); err != nil {
		return err
	}
	if err := s.writeTimeStepInfo(); err != nil {
		return err
	}
	s.snapID++
	return nil
}

// writeAscii writes one global SylinderAscii_<snap>.dat with the link
// lines appended. Collective.
func (s *System) writeAscii(base string) error {
	all := comm.AllGather(s.c, s.rods)
	if s.c.Rank() != 0 {
		return nil
	}
	name := filepath.Join(base, fmt.Sprintf("SylinderAscii_%d.dat", s.snapID))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()
	t := float64(s.stepCount) * s.cfg.Dt
	if err := rod.WriteDat(f, all, s.links, t); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// conLine is one constraint block rendered for visualisation.
type conLine struct {
	Bilateral        bool
	GidI, GidJ, GidK int
	Delta0, Gamma    float64
	LabI, LabJ       [3]float64
}

// writeConBlocks dumps the step's constraint blocks alongside the rods.
// Collective.
func (s *System) writeConBlocks(base string) error {
	lines := make([]conLine, len(s.blocks))
	for i, b := range s.blocks {
		gamma := 0.0
		if i < len(s.gamma) {
			gamma = s.gamma[i]
		}
		lines[i] = conLine{
			Bilateral: b.Bilateral,
			GidI:      b.GidI, GidJ: b.GidJ, GidK: b.GidK,
			Delta0: b.Delta0, Gamma: gamma,
			LabI: b.LabI, LabJ: b.LabJ,
		}
	}
	all := comm.AllGather(s.c, lines)
	if s.c.Rank() != 0 {
		return nil
	}

	name := filepath.Join(base, fmt.Sprintf("ConBlockAscii_%d.dat", s.snapID))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%d\n", len(all))
	fmt.Fprintf(w, "%g\n", float64(s.stepCount)*s.cfg.Dt)
	for _, l := range all {
		tag := "U"
		if l.Bilateral {
			tag = "B"
		}
		fmt.Fprintf(w, "%s %d %d %d %g %g %g %g %g %g %g %g\n",
			tag, l.GidI, l.GidJ, l.GidK, l.Delta0, l.Gamma,
			l.LabI[0], l.LabI[1], l.LabI[2],
			l.LabJ[0], l.LabJ[1], l.LabJ[2])
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// writeTimeStepInfo writes the four-line restart descriptor into
// ResultRoot, one level above the snapshot folders: rng seed, step
// count, snap id, latest snapshot filename.
func (s *System) writeTimeStepInfo() error {
	if s.c.Rank() != 0 {
		return nil
	}
	name := filepath.Join(ResultRoot, "TimeStepInfo.txt")
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()
	fmt.Fprintf(f, "%d\n%d\n%d\nSylinder_%d.pvtp\n",
		s.restartSeed, s.stepCount, s.snapID, s.snapID)
	return nil
}

// RestartInfo is the parsed restart descriptor.
type RestartInfo struct {
	RngSeed   uint64
	StepCount int
	SnapID    int
	Snapshot  string
}

// ReadRestartInfo parses the four-line descriptor.
func ReadRestartInfo(path string) (RestartInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return RestartInfo{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()
	var info RestartInfo
	if _, err := fmt.Fscan(f, &info.RngSeed, &info.StepCount, &info.SnapID, &info.Snapshot); err != nil {
		return RestartInfo{}, fmt.Errorf("%w: restart descriptor: %v", ErrIO, err)
	}
	return info, nil
}

// Reinitialize builds a System from the restart descriptor, reloading
// the newest snapshot and its link lines. The seed advances by one so
// the continued run draws fresh noise; counters resume past the
// snapshot.
func Reinitialize(cfg *config.Config, c *comm.Comm, log *slog.Logger, restartFile string) (*System, error) {
	info, err := ReadRestartInfo(restartFile)
	if err != nil {
		return nil, err
	}
	// advance the seed so the continued run draws fresh noise; cfg is
	// shared between rank goroutines and stays untouched
	seed := info.RngSeed + 1

	snapPath := filepath.Join(resultFolder(c.Size(), info.SnapID),
		fmt.Sprintf("SylinderAscii_%d.dat", info.SnapID))

	s := &System{
		cfg:      cfg,
		c:        c,
		log:      log.With("rank", c.Rank()),
		RunID:    uuid.NewString(),
		links:    rod.NewLinkMaps(),
		nThreads: runtime.GOMAXPROCS(0),
		metrics:  NewMetrics(nil),
	}
	s.restartSeed = seed
	s.rng = rngpool.New(seed+uint64(c.Rank()), s.nThreads)
	s.coll = constraint.NewCollector(s.nThreads)
	s.initSearches()

	if err := s.initFromFile(snapPath); err != nil {
		return nil, err
	}
	s.stepCount = info.StepCount + 1
	s.snapID = info.SnapID + 1

	s.c.Barrier()
	if err := s.DecomposeDomain(); err != nil {
		return nil, err
	}
	s.CalcVolFrac()

	s.log.Warn("system reinitialized", "localRods", len(s.rods),
		"step", s.stepCount, "snap", s.snapID, "run", s.RunID)
	return s, nil
}
