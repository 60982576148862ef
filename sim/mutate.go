package sim

import (
	"github.com/sylsim/sylsim/comm"
	"github.com/sylsim/sylsim/rod"
)

// AddNewRods appends rods contributed by every rank, assigning fresh
// gids above the global maximum. Returns the gids given to this rank's
// additions. Collective; call between steps only.
func (s *System) AddNewRods(newRods []rod.Rod) []int {
	_, maxGid := s.MaxGid()

	base := maxGid + 1 + comm.ScanSum(s.c, len(newRods))
	gids := make([]int, len(newRods))
	for i := range newRods {
		r := newRods[i]
		r.Gid = base + i
		r.Rank = s.c.Rank()
		s.rods = append(s.rods, r)
		gids[i] = r.Gid
	}
	// every rank observes the same global count afterwards
	s.c.Barrier()
	return gids
}

// AddNewLinks gathers two-body link additions from all ranks and
// applies them to every rank's maps, keeping the maps identical
// everywhere. Collective.
func (s *System) AddNewLinks(kind rod.LinkKind, links []rod.Link) {
	all := comm.AllGather(s.c, links)
	for _, l := range all {
		s.links.Add(kind, l)
	}
}

// AddNewTriLinks is AddNewLinks for three-body links. Collective.
func (s *System) AddNewTriLinks(links []rod.TriLink) {
	all := comm.AllGather(s.c, links)
	for _, l := range all {
		s.links.AddTri(l)
	}
}
