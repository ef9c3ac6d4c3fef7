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
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/sharpneli/gromacs/transport"
)

const (
	imbalanceMax = 0.1
	relax        = 0.5
)

// LoadBalancer implements C6: it owns the row communicators (one per
// unique pair of coordinates in the other two dimensions) and
// runs the cell_f resizing algorithm, ported from domdec.c's
// set_dd_cell_sizes_dlb.
type LoadBalancer struct {
	cfg  *Config
	geom *Geometry
	topo *Topology
	tr   transport.Transport
	rank int

	// cellSize[dim] holds the fractional width of each cell in dim,
	// normalized to sum to 1.
	cellSize [3][]float64
	// cellF[dim] holds the cumulative boundary array, length nc[dim]+1.
	cellF [3][]float64
	// cellMin[dim][i] marks a cell pinned at the minimum size this
	// round, excluded from the proportional rescale.
	cellMin [3][]bool

	// cellFMax0[dim][i] and cellFMin1[dim][i] are this row's own
	// boundaries as of the end of the last resize pass for dim,
	// forwarded into the next pass's grid-jump bound as
	// root->cell_f_max0/cell_f_min1 are in set_dd_cell_sizes_dlb.
	cellFMax0 [3][]float64
	cellFMin1 [3][]float64

	// limited records whether the most recent Resize call for each
	// dimension had to pin a cell at cellMin or clamp a boundary
	// against the grid-jump bound (root->bLimited).
	limited [3]bool

	cycles uint64
}

// NewLoadBalancer builds a balancer with uniform initial cell sizes.
func NewLoadBalancer(cfg *Config, geom *Geometry, topo *Topology, tr transport.Transport, rank int) *LoadBalancer {
	lb := &LoadBalancer{cfg: cfg, geom: geom, topo: topo, tr: tr, rank: rank}
	for d := 0; d < 3; d++ {
		n := cfg.NC[d]
		lb.cellSize[d] = make([]float64, n)
		lb.cellF[d] = make([]float64, n+1)
		lb.cellMin[d] = make([]bool, n)
		for i := range lb.cellSize[d] {
			lb.cellSize[d][i] = 1.0 / float64(n)
		}
		rebuildCellF(lb.cellF[d], lb.cellSize[d])
		lb.cellFMax0[d] = append([]float64(nil), lb.cellF[d][:n]...)
		lb.cellFMin1[d] = append([]float64(nil), lb.cellF[d][1:]...)
	}
	return lb
}

func rebuildCellF(cellF, cellSize []float64) {
	cellF[0] = 0
	for i, s := range cellSize {
		cellF[i+1] = cellF[i] + s
	}
}

// RecordCycles stores a step's measured rank cost, replacing the
// cycle-counter integration GROMACS reads from the CPU timestamp
// counter. Resize does not read the stored value; it balances only
// the loads passed to it.
func (lb *LoadBalancer) RecordCycles(c uint64) { lb.cycles = c }

// isRowRoot reports whether this rank is the lexical root of its row
// along dims d..ndim-1 (coordinate 0 in dimOrder[d] and every later
// dimension), the same test set_dd_cell_sizes_dlb applies per
// dimension before resizing.
func (lb *LoadBalancer) isRowRoot(d int, dimOrder []int, ci RankCoord) bool {
	coords := [3]int{ci.CX, ci.CY, ci.CZ}
	for d1 := d; d1 < len(dimOrder); d1++ {
		if coords[dimOrder[d1]] > 0 {
			return false
		}
	}
	return true
}

// Resize runs one load-balancing pass for dimension index d (position
// in dimOrder), given per-cell load samples (nil for a uniform/static
// pass) and the geometry needed to compute the minimum cell size.
// Returns the new fractional cell boundaries cell_f (length nc[dim]+1)
// for this dimension, or an error if the dimension could not be
// balanced within the cutoff.
func (lb *LoadBalancer) Resize(ctx context.Context, d int, dimOrder []int, box Box, cutoff float64, uniform bool, loads []float64) ([]float64, error) {
	dim := dimOrder[d]
	ci := lb.geom.XYZOf(lb.rank)
	if !lb.isRowRoot(d, dimOrder, ci) {
		return nil, nil
	}

	n := lb.cfg.NC[dim]
	size := lb.cellSize[dim]

	if uniform {
		for i := range size {
			size[i] = 1.0 / float64(n)
		}
	} else if loads != nil {
		loadAver := floats.Sum(loads) / float64(n)
		for i := range size {
			imbalance := (loads[i] - loadAver) / loadAver
			imbalance = ClampImbalance(imbalance, imbalanceMax)
			size[i] *= 1 - relax*imbalance
		}
	}

	cutoffF := cutoff / box[dim][dim]
	cellMin := CellMargin * cutoffF
	if lb.geom.TricDir[dim] {
		cellMin /= lb.geom.SkewFac[dim]
	}
	if d > 0 {
		cellMin *= PressureScaleMargin
	}

	cellF := lb.cellF[dim]
	bCellMin := lb.cellMin[dim]
	for i := range bCellMin {
		bCellMin[i] = false
	}

	// Make sure the grid isn't shifted too much: for every interior
	// boundary, bound it against the previous pass's own extremes
	// (offset by cellMin) before the proportional rescale runs, so a
	// charge group straddling the boundary can never need to cross
	// more than one cell. Uses cellF's still-previous-pass values,
	// since the rescale loop below hasn't overwritten them yet.
	var boundMin, boundMax []float64
	if d > 0 && !uniform {
		boundMin = make([]float64, n)
		boundMax = make([]float64, n)
		max0 := lb.cellFMax0[dim]
		min1 := lb.cellFMin1[dim]
		for i := 1; i < n; i++ {
			boundMin[i] = max0[i-1] + cellMin
			if space := cellF[i] - boundMin[i]; space > 0 {
				boundMin[i] += 0.5 * space
			}
			boundMax[i] = min1[i] - cellMin
			if space := cellF[i] - boundMax[i]; space < 0 {
				boundMax[i] += 0.5 * space
			}
		}
	}

	nmin := 0
	for {
		nminOld := nmin
		fac := 0.0
		for i := range size {
			if !bCellMin[i] {
				fac += size[i]
			}
		}
		fac = (1 - float64(nmin)*cellMin) / fac
		cellF[0] = 0
		for i := range size {
			if !bCellMin[i] {
				size[i] *= fac
				if size[i] < cellMin {
					bCellMin[i] = true
					size[i] = cellMin
					nmin++
				}
			}
			cellF[i+1] = cellF[i] + size[i]
		}
		if nmin == nminOld {
			break
		}
	}

	last := n - 1
	cellF[last+1] = 1
	size[last] = cellF[last+1] - cellF[last]
	if size[last] < cutoffF {
		return nil, &LBInfeasibleError{Dim: dim, Cell: last}
	}

	limited := nmin > 0
	if d > 0 {
		if uniform {
			for i := 0; i < n; i++ {
				lb.cellFMax0[dim][i] = cellF[i]
				lb.cellFMin1[dim][i] = cellF[i+1]
			}
		} else {
			for i := 1; i < n; i++ {
				limLo := cellF[i] < boundMin[i]
				limHi := cellF[i] > boundMax[i]
				switch {
				case limLo && limHi:
					cellF[i] = 0.5 * (boundMin[i] + boundMax[i])
				case limLo:
					cellF[i] = boundMin[i]
				case limHi:
					cellF[i] = boundMax[i]
				}
				if limLo || limHi {
					limited = true
				}
			}
			for i := 0; i < n; i++ {
				lb.cellFMax0[dim][i] = cellF[i]
				lb.cellFMin1[dim][i] = cellF[i+1]
			}
		}
	}
	lb.limited[dim] = limited

	return append([]float64(nil), cellF...), nil
}

// Limited reports whether the most recent Resize call for dimension
// dim had to pin a cell at the minimum size or clamp a boundary
// against the grid-jump bound (root->bLimited in
// set_dd_cell_sizes_dlb).
func (lb *LoadBalancer) Limited(dim int) bool { return lb.limited[dim] }

// CheckGridJump reports whether this row's freshly resized cell
// boundaries have drifted far enough from a neighboring row's
// boundaries in the same dimension that a charge group could cross
// more than one cell in a single redistribution, the same
// over-the-cutoff consistency check check_grid_jump runs after every
// DLB pass. cutoffF is the cutoff expressed as a fraction of the box
// length in dim, matching the unit Resize already computes internally.
func (lb *LoadBalancer) CheckGridJump(cellF, neighborCellF []float64, cutoffF float64) (limited bool, cell int) {
	n := len(cellF)
	if len(neighborCellF) < n {
		n = len(neighborCellF)
	}
	for i := 0; i < n; i++ {
		if math.Abs(cellF[i]-neighborCellF[i]) > cutoffF {
			return true, i
		}
	}
	return false, -1
}

// BroadcastCellF pushes the root's freshly computed boundaries for
// dimension dim down the row communicator so every rank in the row
// learns its own [f0, f1) slice.
func (lb *LoadBalancer) BroadcastCellF(ctx context.Context, dim int, cellF []float64, root int) (f0, f1 float64, err error) {
	comm := lb.tr.RowComm(dim)
	buf := make([]byte, 8*len(cellF))
	if lb.rank == root {
		for i, v := range cellF {
			putFloat64(buf[i*8:], v)
		}
	}
	recv, err := lb.tr.Bcast(ctx, comm, root, buf)
	if err != nil {
		return 0, 0, &TransportError{Op: "broadcast cell_f", Err: err}
	}
	ci := lb.geom.XYZOf(lb.rank).coordAt(dim)
	f0 = getFloat64(recv[ci*8:])
	f1 = getFloat64(recv[(ci+1)*8:])
	return f0, f1, nil
}

func putFloat64(b []byte, v float64) {
	bits := math.Float64bits(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(bits >> (8 * uint(i)))
	}
}

func getFloat64(b []byte) float64 {
	var bits uint64
	for i := 0; i < 8; i++ {
		bits |= uint64(b[i]) << (8 * uint(i))
	}
	return math.Float64frombits(bits)
}
