package sim

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/sylsim/sylsim/geom"
	"github.com/sylsim/sylsim/rod"
)

// initRods loads the initial configuration: from the .dat file when it
// exists, otherwise drawn from the config on rank 0. Link maps are read
// on every rank from the same file.
func (s *System) initRods(posFile string) error {
	if posFile != "" {
		if _, err := os.Stat(posFile); err == nil {
			return s.initFromFile(posFile)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: stat %s: %v", ErrIO, posFile, err)
		}
		// missing initial file falls back to config init
		s.log.Warn("initial file missing, drawing from config", "path", posFile)
	}
	s.initFromConfig()
	return nil
}

func (s *System) initFromFile(path string) error {
	s.log.Warn("reading file", "path", path)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()

	rods, links, err := rod.ReadDat(f)
	if err != nil {
		return err
	}
	// all rods start on rank 0; links are global knowledge on all ranks
	if s.c.Rank() == 0 {
		s.rods = rods
		for i := range s.rods {
			s.rods[i].Clear()
		}
	} else {
		s.rods = nil
	}
	s.links = links

	pin, extend, bend, tri := links.Counts()
	s.log.Debug("links in file", "pin", pin, "extend", extend,
		"bend", bend, "triBend", tri)
	return nil
}

// initFromConfig draws sylinderNumber rods on rank 0: uniform centers
// in the init box, orientation per initOrient, length mono-disperse or
// log-normal.
func (s *System) initFromConfig() {
	if s.c.Rank() != 0 {
		s.rods = nil
		return
	}
	cfg := s.cfg
	if cfg.SylinderLengthSigma > 0 {
		s.rng.SetLogNormal(cfg.SylinderLength, cfg.SylinderLengthSigma)
	}

	var boxEdge [3]float64
	minEdge := math.Inf(1)
	for k := 0; k < 3; k++ {
		boxEdge[k] = cfg.InitBoxHigh[k] - cfg.InitBoxLow[k]
		minEdge = math.Min(minEdge, boxEdge[k])
	}
	maxLength := minEdge * 0.5
	radius := cfg.SylinderDiameter / 2

	s.rods = make([]rod.Rod, cfg.SylinderNumber)
	s.parallelFor(cfg.SylinderNumber, func(tid, i int) {
		length := cfg.SylinderLength
		if cfg.SylinderLengthSigma > 0 {
			for {
				length = s.rng.LN(tid)
				if length < maxLength {
					break
				}
			}
		}
		var pos geom.Vec
		for k := 0; k < 3; k++ {
			pos[k] = s.rng.U01(tid)*boxEdge[k] + cfg.InitBoxLow[k]
		}
		s.rods[i] = rod.Rod{
			Gid:             i,
			Pos:             pos,
			Orientation:     s.drawOrient(tid),
			Length:          length,
			LengthCollision: length,
			Radius:          radius,
			RadiusCollision: radius,
		}
	})

	if cfg.InitCircularX {
		s.initCircularCrossSection()
	}
}

// drawOrient builds the initial orientation: configured components in
// [-1, 1] are kept, the rest drawn uniformly; all-random picks a
// uniform direction on the sphere.
func (s *System) drawOrient(tid int) geom.Quat {
	o := s.cfg.InitOrient
	var p geom.Vec
	allRandom := true
	for k := 0; k < 3; k++ {
		if o[k] < -1 || o[k] > 1 {
			p[k] = 2*s.rng.U01(tid) - 1
		} else {
			p[k] = o[k]
			allRandom = false
		}
	}
	if allRandom {
		// uniform on the sphere
		z := 2*s.rng.U01(tid) - 1
		phi := 2 * math.Pi * s.rng.U01(tid)
		r := math.Sqrt(1 - z*z)
		p = geom.Vec{r * math.Cos(phi), r * math.Sin(phi), z}
	}
	if p.Norm() == 0 {
		p = geom.Vec{0, 0, 1}
	}
	return geom.QuatFromTwoVectors(geom.Vec{0, 0, 1}, p)
}

// initCircularCrossSection packs the yz coordinates into the largest
// circle fitting the init box cross-section, for tube-like initial
// conditions along x.
func (s *System) initCircularCrossSection() {
	cfg := s.cfg
	centerY := 0.5*(cfg.InitBoxHigh[1]-cfg.InitBoxLow[1]) + cfg.InitBoxLow[1]
	centerZ := 0.5*(cfg.InitBoxHigh[2]-cfg.InitBoxLow[2]) + cfg.InitBoxLow[2]
	radius := 0.5 * math.Min(cfg.InitBoxHigh[1]-cfg.InitBoxLow[1],
		cfg.InitBoxHigh[2]-cfg.InitBoxLow[2])

	s.parallelFor(len(s.rods), func(tid, i int) {
		r := radius * math.Sqrt(s.rng.U01(tid))
		theta := 2 * math.Pi * s.rng.U01(tid)
		s.rods[i].Pos[1] = centerY + r*math.Cos(theta)
		s.rods[i].Pos[2] = centerZ + r*math.Sin(theta)
	})
}
