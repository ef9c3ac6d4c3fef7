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

import (
	"context"
	"sort"

	"github.com/sharpneli/gromacs/transport"
)

// These flag bits fix the order flags are checked in when routing
// an escaping CG, matching domdec.c's dd_redistribute_cg: forward(0),
// backward(0), forward(1), backward(1), forward(2), backward(2).
const (
	flagFW0 = 1 << 0
	flagBW0 = 1 << 1
	flagFW1 = 1 << 2
	flagBW1 = 1 << 3
	flagFW2 = 1 << 4
	flagBW2 = 1 << 5
)

func flagFW(d int) int { return 1 << uint(2*d) }
func flagBW(d int) int { return 1 << uint(2*d+1) }

// packFlags combines a CG's atom count (16 bits) with its routing
// flags (6 bits) into the single word exchanged alongside a moving CG.
func packFlags(size, flags int) int {
	return (size & 0xFFFF) | (flags << 16)
}

func unpackSize(packed int) int  { return packed & 0xFFFF }
func unpackFlags(packed int) int { return packed >> 16 }

// CellBounds gives the fractional and real-space bounds of one rank's
// cell along one dimension.
type CellBounds struct {
	F0, F1 float64 // fractional bounds in [0,1]
	X0, X1 float64 // real-space bounds
}

// Partitioner implements C4: master-state distribution and the
// incremental per-step redistribute_cg.
type Partitioner struct {
	cfg   *Config
	geom  *Geometry
	topo  *Topology
	tr    transport.Transport
	rank  int
	ci    RankCoord
	cell  [3]CellBounds
	cutoff float64

	// MasterCellX[d] holds the DD-dimension's cut boundaries in
	// lattice coordinates, as ma->cell_x in domdec.c; only meaningful
	// on the master rank.
	MasterCellX [3][]float64
}

// NewPartitioner builds a Partitioner for this rank.
func NewPartitioner(cfg *Config, geom *Geometry, topo *Topology, tr transport.Transport, rank int, cutoff float64) *Partitioner {
	p := &Partitioner{cfg: cfg, geom: geom, topo: topo, tr: tr, rank: rank, cutoff: cutoff}
	p.ci = geom.XYZOf(rank)
	return p
}

// SetCellBounds records this rank's current fractional/real cell
// bounds for dimension d, normally produced by the load balancer (C6)
// or by a uniform initial split.
func (p *Partitioner) SetCellBounds(d int, f0, f1 float64, box Box) {
	p.cell[d] = CellBounds{F0: f0, F1: f1, X0: f0 * box[d][d], X1: f1 * box[d][d]}
}

// cog computes the center of geometry of a charge group's atoms.
func cog(atoms []transport.RVec) [3]float64 {
	var sum [3]float64
	for _, a := range atoms {
		sum[0] += a[0]
		sum[1] += a[1]
		sum[2] += a[2]
	}
	n := float64(len(atoms))
	return [3]float64{sum[0] / n, sum[1] / n, sum[2] / n}
}

// MasterDistributeCG is the master-state distribution path: given
// every global CG's atoms, compute COGs, wrap into the unit cell
// dimension by dimension from highest to lowest, locate the owning
// cell via binary search, and build the per-rank CG lists. Returns,
// per rank, the ordered list of global CG indices it owns.
func (p *Partitioner) MasterDistributeCG(box Box, cgs []ChargeGroup, atomsByCG [][]transport.RVec, cellX [3][]float64) ([][]int, error) {
	nnodes := p.cfg.NC[0] * p.cfg.NC[1] * p.cfg.NC[2]
	owners := make([][]int, nnodes)

	invbox := [3]float64{1 / box[0][0], 1 / box[1][1], 1 / box[2][2]}

	for _, cg := range cgs {
		cm := cog(atomsByCG[cg.GlobalIndex])
		var ind [3]int
		for d := 2; d >= 0; d-- {
			posD := cm[d]
			if p.geom.TricDir[d] && p.cfg.NC[d] > 1 {
				for j := d + 1; j < 3; j++ {
					posD -= cm[j] * box[j][d] * invbox[j]
				}
			}
			for posD >= box[d][d] {
				posD -= box[d][d]
			}
			for posD < 0 {
				posD += box[d][d]
			}
			ind[d] = binarySearchCell(cellX[d], posD, p.cfg.NC[d])
		}
		rank := RankCoord{CX: ind[0], CY: ind[1], CZ: ind[2]}.FlatIndex(p.cfg.NC)
		owners[rank] = append(owners[rank], cg.GlobalIndex)
	}
	return owners, nil
}

// binarySearchCell locates which of nc cells (with boundaries
// cellX[0..nc]) contains posD, replacing distribute_cg's linear scan
// with a binary search over the sorted cell boundaries.
func binarySearchCell(cellX []float64, posD float64, nc int) int {
	// cellX[i] is the lower bound of cell i; cellX[nc] is the box edge.
	idx := sort.Search(nc, func(i int) bool { return cellX[i+1] > posD })
	if idx >= nc {
		idx = nc - 1
	}
	return idx
}

// ScatterAssignment runs the scatter/scatterv pair (counts, then the
// CG-index payload) that hands each rank its MasterDistributeCG
// result, and reconstructs the receiver's IndexGl/Cgindex.
func (p *Partitioner) ScatterAssignment(ctx context.Context, owners [][]int, sizesByGlobalCG []int, root int) (*LocalState, error) {
	nnodes := p.cfg.NC[0] * p.cfg.NC[1] * p.cfg.NC[2]
	var counts []int
	if p.rank == root {
		counts = make([]int, nnodes)
		for r, o := range owners {
			counts[r] = len(o)
		}
	}
	n, err := p.tr.Scatter(ctx, 0, root, counts)
	if err != nil {
		return nil, &TransportError{Op: "scatter cg counts", Err: err}
	}

	var payload [][]int
	if p.rank == root {
		payload = owners
	}
	idx, err := p.tr.Scatterv(ctx, 0, root, payload, n)
	if err != nil {
		return nil, &TransportError{Op: "scatterv cg indices", Err: err}
	}

	ls := NewLocalState()
	ls.IndexGl = idx
	ls.Cgindex = make([]int, len(idx)+1)
	for i, g := range idx {
		ls.Cgindex[i+1] = ls.Cgindex[i] + sizesByGlobalCG[g]
	}
	ls.NatHome = ls.Cgindex[len(idx)]
	return ls, nil
}

// DeviationRoute decides, for one home CG whose new center of geometry
// is cmNew, which of the 6 face-neighbor directions (if any) it must
// move to. Ties break on the first DD dimension (in dimOrder) with a
// nonzero deviation, direction = sign(dev). A CG that moved beyond
// cell bounds ± cutoff is a fatal CgEscaped.
func (p *Partitioner) DeviationRoute(ctx context.Context, globalAtomID int, cmOld, cmNew [3]float64, box Box, dimOrder []int) (mc int, flags int, dev [3]int, err error) {
	mc = -1
	for d := 0; d < 3; d++ {
		if p.cfg.NC[d] <= 1 {
			continue
		}
		posD := cmNew[d]
		bounds := p.cell[d]
		if posD >= bounds.X1 {
			if posD >= bounds.X1+p.cutoff {
				return -1, 0, dev, &CgEscapedError{
					GlobalAtomID: globalAtomID, OldCOG: cmOld, NewCOG: cmNew,
					Axis: d, Distance: posD - bounds.X1,
				}
			}
			dev[d] = 1
		} else if posD < bounds.X0 {
			if posD < bounds.X0-p.cutoff {
				return -1, 0, dev, &CgEscapedError{
					GlobalAtomID: globalAtomID, OldCOG: cmOld, NewCOG: cmNew,
					Axis: d, Distance: bounds.X0 - posD,
				}
			}
			dev[d] = -1
		}
	}

	for d, dim := range dimOrder {
		if d >= len(dimOrder) {
			break
		}
		switch dev[dim] {
		case 1:
			flags |= flagFW(d)
			if mc == -1 {
				mc = d * 2
			}
		case -1:
			flags |= flagBW(d)
			if mc == -1 {
				if p.cfg.NC[dim] > 2 {
					mc = d*2 + 1
				} else {
					mc = d * 2
				}
			}
		}
	}
	return mc, flags, dev, nil
}

// OutgoingCG is one charge group queued to leave this rank during
// redistribute_cg, carrying its packed flags and payload.
type OutgoingCG struct {
	GlobalIndex    int
	Packed         int // packFlags(size, flags)
	COG            [3]float64
	Atoms          []transport.RVec
	GlobalAtomIDs  []int // global atom id of each entry in Atoms, same order
}

// RedistributeCG runs the incremental path of C4: for every home CG,
// compute the new COG, decide whether it stays or must move, and
// return the CGs that stay (compacted) plus, per exchange slot
// (dimOrder index * 2 + direction), the CGs that must leave. The
// two-phase wire exchange itself is driven by pipeline.go's
// phaseRedistribute, which calls this once per rank and then shuffles
// the Outgoing slots over Transport.
//
// cmOld for each CG comes from state's own COG bookkeeping (set at the
// end of the previous pass via SetCOG), not from the atoms' current
// positions — DeviationRoute and CgEscapedError need the CG's actual
// prior location to report a meaningful old/new COG pair. A CG state
// has never recorded (e.g. on the first pass after ScatterAssignment)
// falls back to its new COG, i.e. zero deviation.
func (p *Partitioner) RedistributeCG(ctx context.Context, state *LocalState, positions map[int][]transport.RVec, box Box, dimOrder []int) (staying []int, outgoing [6][]OutgoingCG, err error) {
	for i, g := range state.IndexGl {
		atoms := positions[g]
		cmNew := cog(atoms)
		cmOld, ok := state.COG(g)
		if !ok {
			cmOld = cmNew
		}
		start, end := state.Cgindex[i], state.Cgindex[i+1]
		mc, flags, _, derr := p.DeviationRoute(ctx, state.Gatindex[safeIndex(state.Cgindex, i)], cmOld, cmNew, box, dimOrder)
		if derr != nil {
			return nil, outgoing, derr
		}
		if mc == -1 {
			staying = append(staying, g)
			state.SetCOG(g, cmNew)
			continue
		}
		state.ClearCOG(g)
		var atomIDs []int
		if end <= len(state.Gatindex) {
			atomIDs = append([]int(nil), state.Gatindex[start:end]...)
		}
		outgoing[mc] = append(outgoing[mc], OutgoingCG{
			GlobalIndex:   g,
			Packed:        packFlags(state.CGAtomCount(i), flags),
			COG:           cmNew,
			Atoms:         atoms,
			GlobalAtomIDs: atomIDs,
		})
	}
	return staying, outgoing, nil
}

func safeIndex(cgindex []int, i int) int {
	if i < len(cgindex) {
		return cgindex[i]
	}
	return 0
}
