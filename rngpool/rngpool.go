/*
package rngpool provides per-thread random number streams. Each
worker thread draws from its own deterministic PCG stream, so a run is
reproducible for a fixed seed and thread count regardless of
scheduling.
*/
package rngpool

import (
	"math"
	"math/rand/v2"
)

// Pool holds one stream per worker thread.
type Pool struct {
	streams []*rand.Rand

	lnMu, lnSigma float64
}

// New seeds nThreads streams. Streams on different ranks must be given
// different seeds; the sim offsets the configured seed by rank.
func New(seed uint64, nThreads int) *Pool {
	p := &Pool{streams: make([]*rand.Rand, nThreads)}
	for i := range p.streams {
		p.streams[i] = rand.New(rand.NewPCG(seed, uint64(i)+1))
	}
	return p
}

// Threads returns the stream count.
func (p *Pool) Threads() int { return len(p.streams) }

// U01 draws uniformly from [0, 1) on thread tid's stream.
func (p *Pool) U01(tid int) float64 { return p.streams[tid].Float64() }

// N01 draws a standard normal on thread tid's stream.
func (p *Pool) N01(tid int) float64 { return p.streams[tid].NormFloat64() }

// SetLogNormal sets the log-normal parameters so that LN draws have the
// given mean and the given sigma on the underlying normal.
func (p *Pool) SetLogNormal(mean, sigma float64) {
	p.lnSigma = sigma
	p.lnMu = math.Log(mean) - 0.5*sigma*sigma
}

// LN draws from the configured log-normal distribution.
func (p *Pool) LN(tid int) float64 {
	return math.Exp(p.lnMu + p.lnSigma*p.N01(tid))
}
