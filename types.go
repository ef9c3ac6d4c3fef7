/*
Copyright © 2013 the InMAP authors.
This file is part of InMAP.

InMAP is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

InMAP is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with InMAP.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package domdec implements a distributed 3D spatial domain
// decomposition: it assigns charge groups to ranks, keeps per-rank
// state consistent under particle motion and box deformation, and
// rebalances load between ranks.
package domdec

// Duty describes what a rank participates in. PME-only ranks never
// take part in the spatial decomposition itself.
type Duty int

const (
	DutyPP Duty = iota
	DutyPME
	DutyBoth
)

func (d Duty) String() string {
	switch d {
	case DutyPP:
		return "PP"
	case DutyPME:
		return "PME"
	case DutyBoth:
		return "PP+PME"
	default:
		return "unknown"
	}
}

// ChargeGroup is an ordered contiguous run of atoms treated as a single
// spatial unit. Global index is immortal; residence (which rank owns
// it) only changes during a repartition.
type ChargeGroup struct {
	GlobalIndex int       // stable identity assigned at system construction
	Size        int       // number of atoms
	COG         [3]float64 // center of geometry, lattice coordinates
}

// RankCoord is a rank's 3D position in the DD grid.
type RankCoord struct {
	CX, CY, CZ int
}

// FlatIndex converts a grid coordinate to the flat rank index used by
// the topology, given the grid extents nc.
func (c RankCoord) FlatIndex(nc [3]int) int {
	return ((c.CX*nc[1])+c.CY)*nc[2] + c.CZ
}

// AtomZone names the four contiguous ranges of the local atom layout.
type AtomZone int

const (
	ZoneHome AtomZone = iota
	ZoneHalo
	ZoneVSite
	ZoneConstraint
)

// Residence locates a global atom that is currently present on this
// rank: which zone-relative cell it was received from, and its local
// atom index. Cell == -1 means the atom is absent from this rank.
type Residence struct {
	Cell    int
	LocalAt int
}

// AbsentResidence is the sentinel returned by Ga2La for a global atom
// id that is not currently resident on the rank.
var AbsentResidence = Residence{Cell: -1, LocalAt: -1}

// LocalState is a rank's index tables plus its atom-layout boundaries.
type LocalState struct {
	// IndexGl[i] is the global CG id of local CG i.
	IndexGl []int
	// Cgindex is the prefix sum of CG sizes; atom a of local CG i is
	// at Cgindex[i]+a. Monotone non-decreasing, Cgindex[0] == 0 (I5).
	Cgindex []int
	// Gatindex[a] is the global atom id of local atom a.
	Gatindex []int
	// ga2la is the sparse reverse map, indexed by global atom id.
	ga2la map[int]Residence
	// cgCOG is the center of geometry each home CG had as of the end of
	// the last redistribute_cg pass, keyed by global CG index. It's the
	// "old" COG DeviationRoute compares the freshly recomputed COG
	// against, and the value CgEscapedError.OldCOG reports.
	cgCOG map[int][3]float64

	NatHome      int // [0, NatHome)
	NatTot       int // [NatHome, NatTot) halo atoms
	NatTotVSite  int // [NatTot, NatTotVSite) vsite construction atoms
	NatTotCon    int // [NatTotVSite, NatTotCon) constraint atoms
}

// NewLocalState returns an empty, internally consistent LocalState.
func NewLocalState() *LocalState {
	return &LocalState{
		ga2la: make(map[int]Residence),
		cgCOG: make(map[int][3]float64),
	}
}

// COG returns the last-recorded center of geometry for global CG g, and
// whether one has been recorded yet (false for a CG with no recorded
// history, e.g. on the first pass after ScatterAssignment).
func (s *LocalState) COG(g int) ([3]float64, bool) {
	c, ok := s.cgCOG[g]
	return c, ok
}

// SetCOG records the center of geometry global CG g had as of the end
// of the current redistribute_cg pass.
func (s *LocalState) SetCOG(g int, cog [3]float64) {
	s.cgCOG[g] = cog
}

// ClearCOG discards the recorded center of geometry for global CG g,
// e.g. once it has left this rank.
func (s *LocalState) ClearCOG(g int) {
	delete(s.cgCOG, g)
}

// Ga2La returns the residence of global atom id g, or AbsentResidence
// if it is not currently resident on this rank.
func (s *LocalState) Ga2La(g int) Residence {
	if r, ok := s.ga2la[g]; ok {
		return r
	}
	return AbsentResidence
}

// SetGa2La records that global atom id g now resides at (cell, localAt).
func (s *LocalState) SetGa2La(g, cell, localAt int) {
	s.ga2la[g] = Residence{Cell: cell, LocalAt: localAt}
}

// ClearGa2La discards the reverse-map entry for global atom id g. Used
// when halo entries are invalidated at the start of a repartition.
func (s *LocalState) ClearGa2La(g int) {
	delete(s.ga2la, g)
}

// ClearHaloRange clears ga2la for every currently-resident halo atom,
// identified by walking Gatindex[NatHome:NatTot]. The Engine's step
// phases do not call it; applyRedistribution clears only home atoms.
func (s *LocalState) ClearHaloRange() {
	for a := s.NatHome; a < s.NatTot && a < len(s.Gatindex); a++ {
		s.ClearGa2La(s.Gatindex[a])
	}
}

// GlobalAtomNumber returns a 1-based global atom number for local atom
// index i, matching the numbering the original PDB dump (glatnr in
// domdec.c) used for ATOM serial numbers.
func (s *LocalState) GlobalAtomNumber(i int) int {
	if i < 0 || i >= len(s.Gatindex) {
		return 0
	}
	return s.Gatindex[i] + 1
}

// CGAtomCount returns the number of atoms owned by local CG i.
func (s *LocalState) CGAtomCount(i int) int {
	return s.Cgindex[i+1] - s.Cgindex[i]
}
