/*
package config reads the YAML run configuration and applies the
defaults and validity rules the simulation depends on.
*/
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sylsim/sylsim/boundary"
)

// ErrConfig wraps every configuration rejection.
var ErrConfig = errors.New("config: invalid configuration")

// Config is the full run configuration. Optional keys absent from the
// YAML document keep the values set by defaults(); Check additionally
// defaults the init box to the sim box.
type Config struct {
	RngSeed  uint64 `yaml:"rngSeed"`
	LogLevel string `yaml:"logLevel"`

	// domain
	SimBoxLow  [3]float64 `yaml:"simBoxLow"`
	SimBoxHigh [3]float64 `yaml:"simBoxHigh"`
	SimBoxPBC  [3]bool    `yaml:"simBoxPBC"`
	Monolayer  bool       `yaml:"monolayer"`

	// initialisation
	InitBoxLow    [3]float64 `yaml:"initBoxLow"`
	InitBoxHigh   [3]float64 `yaml:"initBoxHigh"`
	InitOrient    [3]float64 `yaml:"initOrient"`
	InitCircularX bool       `yaml:"initCircularX"`
	InitPreSteps  int        `yaml:"initPreSteps"`

	// physical constants
	Viscosity float64 `yaml:"viscosity" validate:"gt=0"`
	KBT       float64 `yaml:"KBT" validate:"gte=0"`

	// links
	EndLinkKappa       float64    `yaml:"endLinkKappa" validate:"gte=0"`
	EndLinkGap         float64    `yaml:"endLinkGap"`
	BendingLinkKappa   [3]float64 `yaml:"bendingLinkKappa"`
	PreferredCurvature [3]float64 `yaml:"preferredCurvature"`

	// sylinders
	SylinderFixed            bool    `yaml:"sylinderFixed"`
	SylinderNumber           int     `yaml:"sylinderNumber" validate:"gte=0"`
	SylinderLength           float64 `yaml:"sylinderLength" validate:"gte=0"`
	SylinderLengthSigma      float64 `yaml:"sylinderLengthSigma"`
	SylinderDiameter         float64 `yaml:"sylinderDiameter" validate:"gt=0"`
	SylinderDiameterColRatio float64 `yaml:"sylinderDiameterColRatio"`
	SylinderLengthColRatio   float64 `yaml:"sylinderLengthColRatio"`
	SylinderColBuf           float64 `yaml:"sylinderColBuf"`

	// time stepping
	Dt        float64 `yaml:"dt" validate:"gt=0"`
	TimeTotal float64 `yaml:"timeTotal" validate:"gt=0"`
	TimeSnap  float64 `yaml:"timeSnap" validate:"gt=0"`

	// constraint solver
	ConResTol       float64 `yaml:"conResTol" validate:"gt=0"`
	ConMaxIte       int     `yaml:"conMaxIte" validate:"gt=0"`
	ConSolverChoice int     `yaml:"conSolverChoice" validate:"gte=0,lte=1"`

	Boundaries []boundary.Boundary `yaml:"boundaries"`
}

// defaults returns a Config carrying every optional default, to be
// overwritten by the YAML document.
func defaults() Config {
	return Config{
		LogLevel:                 "info",
		SylinderLengthSigma:      -1,
		SylinderDiameterColRatio: 1.0,
		SylinderLengthColRatio:   1.0,
		SylinderColBuf:           0.3,
		InitPreSteps:             100,
		InitOrient:               [3]float64{2, 2, 2},
		BendingLinkKappa:         [3]float64{100, 100, 100},
		EndLinkKappa:             100,
	}
}

// Read parses the YAML file at path and validates it.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	c := defaults()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := c.Check(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Check applies the remaining defaults and rejects inconsistent
// settings.
func (c *Config) Check() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	for k := 0; k < 3; k++ {
		if c.SimBoxHigh[k] <= c.SimBoxLow[k] {
			return fmt.Errorf("%w: simBox axis %d is empty: [%g, %g]",
				ErrConfig, k, c.SimBoxLow[k], c.SimBoxHigh[k])
		}
	}

	// init box defaults to the sim box
	var zero [3]float64
	if c.InitBoxLow == zero && c.InitBoxHigh == zero {
		c.InitBoxLow = c.SimBoxLow
		c.InitBoxHigh = c.SimBoxHigh
	}
	for k := 0; k < 3; k++ {
		if c.InitBoxHigh[k] < c.InitBoxLow[k] {
			return fmt.Errorf("%w: initBox axis %d is inverted", ErrConfig, k)
		}
	}

	if c.SylinderDiameterColRatio <= 0 || c.SylinderDiameterColRatio > 1 {
		return fmt.Errorf("%w: sylinderDiameterColRatio %g must be in (0, 1]",
			ErrConfig, c.SylinderDiameterColRatio)
	}
	if c.SylinderLengthColRatio <= 0 {
		return fmt.Errorf("%w: sylinderLengthColRatio %g must be positive",
			ErrConfig, c.SylinderLengthColRatio)
	}
	if c.SylinderColBuf < 0 {
		return fmt.Errorf("%w: sylinderColBuf %g must not be negative",
			ErrConfig, c.SylinderColBuf)
	}
	if c.EndLinkGap < 0 {
		return fmt.Errorf("%w: endLinkGap %g must not be negative",
			ErrConfig, c.EndLinkGap)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown logLevel %q", ErrConfig, c.LogLevel)
	}

	for i := range c.Boundaries {
		if err := c.Boundaries[i].Check(); err != nil {
			return fmt.Errorf("%w: boundary %d: %v", ErrConfig, i, err)
		}
	}
	return nil
}

// PeriodLengths returns the box length along each periodic axis and
// zero on the open axes.
func (c *Config) PeriodLengths() [3]float64 {
	var p [3]float64
	for k := 0; k < 3; k++ {
		if c.SimBoxPBC[k] {
			p[k] = c.SimBoxHigh[k] - c.SimBoxLow[k]
		}
	}
	return p
}

// SnapEvery returns the number of steps between snapshots.
func (c *Config) SnapEvery() int {
	n := int(c.TimeSnap / c.Dt)
	if n < 1 {
		n = 1
	}
	return n
}

// Dump logs the configuration the way the reference implementation
// prints it at startup, through the given printf-style function.
func (c *Config) Dump(pf func(format string, args ...any)) {
	pf("rngSeed: %d", c.RngSeed)
	pf("simBox: [%g,%g,%g] - [%g,%g,%g], PBC %v",
		c.SimBoxLow[0], c.SimBoxLow[1], c.SimBoxLow[2],
		c.SimBoxHigh[0], c.SimBoxHigh[1], c.SimBoxHigh[2], c.SimBoxPBC)
	pf("viscosity: %g, KBT: %g", c.Viscosity, c.KBT)
	pf("sylinders: n=%d L=%g(sigma %g) D=%g colRatio L=%g D=%g buf=%g",
		c.SylinderNumber, c.SylinderLength, c.SylinderLengthSigma,
		c.SylinderDiameter, c.SylinderLengthColRatio,
		c.SylinderDiameterColRatio, c.SylinderColBuf)
	pf("links: endKappa=%g endGap=%g bendKappa=%v curvature=%v",
		c.EndLinkKappa, c.EndLinkGap, c.BendingLinkKappa, c.PreferredCurvature)
	pf("time: dt=%g total=%g snap=%g", c.Dt, c.TimeTotal, c.TimeSnap)
	pf("solver: tol=%g maxIte=%d choice=%d",
		c.ConResTol, c.ConMaxIte, c.ConSolverChoice)
	for i := range c.Boundaries {
		pf("boundary %d: %+v", i, c.Boundaries[i])
	}
}
