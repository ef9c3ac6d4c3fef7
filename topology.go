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

package domdec

// Topology maps PP ranks onto the 3D grid, tracks PME-rank interleave,
// and answers neighbor queries. It corresponds to setup_dd_grid /
// make_dd_communicators / dd_pmenodes in domdec.c.
type Topology struct {
	geom *Geometry
	cfg  *Config

	// ppToPME[r] gives the PME rank serving PP rank r, or -1 if there
	// is no separate PME rank group.
	ppToPME []int
	// pmeRanks is the set of rank indices that are PME-only.
	pmeRanks map[int]bool
	// lastPPForPME[pmeRank] is the highest-numbered PP rank that feeds
	// that PME rank; used by ReceiveVirialEnergy.
	lastPPForPME map[int]int
}

// NewTopology builds a Topology from cfg. When cfg.NPMENodes is 0, all
// ranks are PP-only and duty queries are trivial. Otherwise it builds
// the interleave per domdec.c's dd_pmenodes, unless
// cfg.SuppressPMEInterleave is set (GMX_ORDER_PP_PME), in which case
// PME ranks are appended after all PP ranks instead.
func NewTopology(cfg *Config) *Topology {
	t := &Topology{
		geom:         NewGeometry(cfg.NC),
		cfg:          cfg,
		pmeRanks:     make(map[int]bool),
		lastPPForPME: make(map[int]int),
	}
	nnodes := cfg.NC[0] * cfg.NC[1] * cfg.NC[2]
	t.ppToPME = make([]int, nnodes)
	for i := range t.ppToPME {
		t.ppToPME[i] = -1
	}
	if cfg.NPMENodes == 0 {
		return t
	}
	if cfg.SuppressPMEInterleave {
		for r := 0; r < nnodes; r++ {
			pme := nnodes + (r*cfg.NPMENodes+cfg.NPMENodes/2)/nnodes
			t.ppToPME[r] = pme
			t.pmeRanks[pme] = true
			t.lastPPForPME[pme] = r
		}
		return t
	}

	// Interleaved placement, same Bresenham-like distribution as
	// dd_pmenodes: pmenodes[n] = i + 1 + n whenever the PME fraction
	// crosses an integer boundary between PP rank i and i+1.
	n := 0
	var slots []int
	for i := 0; i < nnodes; i++ {
		p0 := (i*cfg.NPMENodes + cfg.NPMENodes/2) / nnodes
		p1 := ((i+1)*cfg.NPMENodes + cfg.NPMENodes/2) / nnodes
		if i+1 == nnodes || p1 > p0 {
			slots = append(slots, i+1+n)
			n++
		}
	}
	// Map each PP rank to the next PME slot above its position in the
	// interleaved order, same search dd_node2pmenode performs over the
	// pmenodes array.
	for r := 0; r < nnodes; r++ {
		g, i := r, 0
		for i < len(slots) && slots[i] <= g {
			g++
			i++
		}
		if i < len(slots) {
			t.ppToPME[r] = slots[i]
			t.pmeRanks[slots[i]] = true
			t.lastPPForPME[slots[i]] = r
		}
	}
	return t
}

// XYZOf converts a flat rank index to its 3D grid coordinate.
func (t *Topology) XYZOf(rank int) RankCoord { return t.geom.XYZOf(rank) }

// Neighbor returns the rank adjacent to rank along dimension dim in
// direction dir (-1 or +1), wrapping around per the grid's periodic
// topology.
func (t *Topology) Neighbor(rank, dim, dir int) int {
	c := t.geom.XYZOf(rank)
	coords := [3]int{c.CX, c.CY, c.CZ}
	n := t.cfg.NC[dim]
	coords[dim] = ((coords[dim]+dir)%n + n) % n
	return RankCoord{CX: coords[0], CY: coords[1], CZ: coords[2]}.FlatIndex(t.cfg.NC)
}

// RankToPMERank returns the PME rank serving rank, or -1 if there is
// no separate PME rank group (gmx_ddindex2pmeslab's PP-side lookup).
func (t *Topology) RankToPMERank(rank int) int {
	if rank < 0 || rank >= len(t.ppToPME) {
		return -1
	}
	return t.ppToPME[rank]
}

// IsPMEOnly reports whether rank is a PME-only rank
// (gmx_pmeonlynode).
func (t *Topology) IsPMEOnly(rank int) bool {
	return t.pmeRanks[rank]
}

// ReceiveVirialEnergy reports whether rank is the last PP rank feeding
// its PME rank, i.e. the one responsible for receiving the
// virial/energy reduction back from it (receive_vir_ener).
func (t *Topology) ReceiveVirialEnergy(rank int) bool {
	pme := t.RankToPMERank(rank)
	if pme == -1 {
		return false
	}
	return t.lastPPForPME[pme] == rank
}

// NeighborSearchRange returns the inclusive cell-index range a
// neighbor-search pass must scan starting from cellIndex, ported from
// domdec.c's dd_get_ns_ranges: for a periodic 1-cell-wide dimension
// the range wraps to include the cell itself on both sides.
func (t *Topology) NeighborSearchRange(dim, cellIndex int) (lo, hi int) {
	n := t.cfg.NC[dim]
	if n == 1 {
		return cellIndex, cellIndex
	}
	lo = ((cellIndex-1)%n + n) % n
	hi = (cellIndex + 1) % n
	return lo, hi
}
