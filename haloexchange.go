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

	"github.com/sharpneli/gromacs/transport"
)

// Dim identifies which DD-decomposed dimension (0,1,2 mapping to an
// actual x/y/z axis via cfg.DimOrder) a half-shell exchange runs over.
type Dim struct {
	Axis int // 0=x, 1=y, 2=z
}

// HaloExchanger drives the half-shell neighbor construction and the
// fast move_x/move_f position/force exchange passes, once the
// partitioner has settled home ownership for the step.
type HaloExchanger struct {
	cfg  *Config
	geom *Geometry
	topo *Topology
	tr   transport.Transport
	rank int

	// Dims lists the DD-decomposed axes in communication order
	// (outermost first), matching cfg.DimOrder.
	Dims []int
	// Tables holds one HaloIndexTable per entry in Dims.
	Tables []*HaloIndexTable
}

// NewHaloExchanger builds the exchanger for this rank, with one
// HaloIndexTable per decomposed dimension; the table for the i-th
// decomposed dimension has i+1 cells.
func NewHaloExchanger(cfg *Config, geom *Geometry, topo *Topology, tr transport.Transport, rank int) *HaloExchanger {
	dims := cfg.DimOrder()
	var active []int
	for _, d := range dims {
		if cfg.NC[d] > 1 {
			active = append(active, d)
		}
	}
	h := &HaloExchanger{cfg: cfg, geom: geom, topo: topo, tr: tr, rank: rank, Dims: active}
	h.Tables = make([]*HaloIndexTable, len(active))
	for i := range h.Tables {
		// Cell 0 is this rank's own candidates; cells 1..i are the halo
		// generations received from each earlier dimension already
		// processed this pass.
		h.Tables[i] = NewHaloIndexTable(i + 1)
	}
	return h
}

// haloCandidate is one forwarding candidate considered while building a
// dimension's send table: either one of the rank's own CGs (gen 0) or a
// CG received as halo from an earlier dimension this same setup pass
// (gen > 0). start/length locate its atoms: for gen 0 that's its slot
// in state.Cgindex; for gen > 0 it's the offset MoveX will place it at
// once it appends that earlier dimension's recv block, so a later
// dimension's send and MoveX's actual data motion always agree on where
// an atom range lives.
type haloCandidate struct {
	cog    [3]float64
	start  int
	length int
	gen    int
}

// SetupCommunication rebuilds the send/receive index tables (the
// half-shell neighbor lists) for every active dimension, ported from
// domdec.c's setup_dd_communication: for each candidate CG whose COG
// lies within the cutoff of the backward-neighbor's boundary, queue it
// for the backward sendrecv. CGs received from one dimension are
// appended to the candidate set considered by every later dimension —
// without that cascade, a 2D/3D grid would only ever talk to its
// immediate face neighbors and never populate the diagonal/corner
// octants.
func (h *HaloExchanger) SetupCommunication(ctx context.Context, state *LocalState, cogOf func(localCG int) [3]float64, cellLow [3]float64, cutoff float64) error {
	candidates := make([]haloCandidate, len(state.IndexGl))
	for cg := range state.IndexGl {
		candidates[cg] = haloCandidate{
			cog:    cogOf(cg),
			start:  state.Cgindex[cg],
			length: state.CGAtomCount(cg),
		}
	}
	natTot := state.NatHome

	for i, dim := range h.Dims {
		tbl := h.Tables[i]
		tbl.Reset()

		var sendSizes []int
		var sendCOGs []transport.RVec
		for _, c := range candidates {
			if c.cog[dim]-cellLow[dim] < cutoff {
				tbl.Append(c.gen, c.start, c.length)
				sendSizes = append(sendSizes, c.length)
				sendCOGs = append(sendCOGs, transport.RVec{c.cog[0], c.cog[1], c.cog[2]})
			}
		}

		neighbor := h.topo.Neighbor(h.rank, dim, -1)
		counts := []int{tbl.NSendTotalCG(), tbl.NSendTotalAtoms()}
		recvCounts, err := h.tr.SendRecvInt(ctx, h.tr.RowComm(dim), neighbor, counts, neighbor, 2)
		if err != nil {
			return &TransportError{Op: "setup_communication counts", Err: err}
		}
		if len(recvCounts) != 2 {
			return &GridInconsistencyError{Reason: "setup_communication: malformed count exchange"}
		}
		tbl.SetRecvCounts(recvCounts[0], recvCounts[1])

		recvSizes, err := h.tr.SendRecvInt(ctx, h.tr.RowComm(dim), neighbor, sendSizes, neighbor, recvCounts[0])
		if err != nil {
			return &TransportError{Op: "setup_communication sizes", Err: err}
		}
		recvCOGs, err := h.tr.SendRecvRVec(ctx, h.tr.RowComm(dim), neighbor, sendCOGs, neighbor, recvCounts[0])
		if err != nil {
			return &TransportError{Op: "setup_communication cog", Err: err}
		}

		start := natTot
		for k, size := range recvSizes {
			candidates = append(candidates, haloCandidate{
				cog:    [3]float64{recvCOGs[k][0], recvCOGs[k][1], recvCOGs[k][2]},
				start:  start,
				length: size,
				gen:    i + 1,
			})
			start += size
		}
		natTot += recvCounts[1]
	}
	return nil
}

// MoveX performs the fast position-exchange pass (dd_move_x): walking
// dimensions in forward DD order, gather the queued local CG positions
// (applying a periodic box shift when this rank sits at coordinate 0
// along the dimension), send them to the backward neighbor, and append
// what's received to the tail of x.
func (h *HaloExchanger) MoveX(ctx context.Context, x []transport.RVec, box Box, state *LocalState) ([]transport.RVec, error) {
	natTot := state.NatHome
	for i, dim := range h.Dims {
		tbl := h.Tables[i]
		var buf []transport.RVec
		atDim0 := h.geom.XYZOf(h.rank).coordAt(dim) == 0
		var shift transport.RVec
		if atDim0 {
			shift = transport.RVec{box[dim][0], box[dim][1], box[dim][2]}
		}
		for k := 0; k < tbl.NRanges(); k++ {
			start, length := tbl.Range(k)
			for j := start; j < start+length; j++ {
				p := x[j]
				if atDim0 {
					buf = append(buf, transport.RVec{p[0] + shift[0], p[1] + shift[1], p[2] + shift[2]})
				} else {
					buf = append(buf, p)
				}
			}
		}
		neighbor := h.topo.Neighbor(h.rank, dim, -1)
		recv, err := h.tr.SendRecvRVec(ctx, h.tr.RowComm(dim), neighbor, buf, neighbor, tbl.RecvTotalAtoms())
		if err != nil {
			return nil, &TransportError{Op: "move_x", Err: err}
		}
		x = append(x, recv...)
		natTot += tbl.RecvTotalAtoms()
	}
	return x, nil
}

// MoveF performs the fast force-exchange pass (dd_move_f): walking
// dimensions in reverse DD order, send back the received-halo forces
// and fold them into the home atoms' forces, accumulating the shift
// force on ranks at coordinate 0 along each dimension when fshift is
// non-nil.
func (h *HaloExchanger) MoveF(ctx context.Context, f []transport.RVec, fshift []transport.RVec) error {
	natTot := len(f)
	for i := len(h.Dims) - 1; i >= 0; i-- {
		dim := h.Dims[i]
		tbl := h.Tables[i]
		recvLen := tbl.RecvTotalAtoms()
		natTot -= recvLen
		tail := f[natTot : natTot+recvLen]

		neighbor := h.topo.Neighbor(h.rank, dim, -1)
		buf, err := h.tr.SendRecvRVec(ctx, h.tr.RowComm(dim), neighbor, tail, neighbor, tbl.NSendTotalAtoms())
		if err != nil {
			return &TransportError{Op: "move_f", Err: err}
		}

		atDim0 := h.geom.XYZOf(h.rank).coordAt(dim) == 0
		n := 0
		for k := 0; k < tbl.NRanges(); k++ {
			start, length := tbl.Range(k)
			for j := start; j < start+length; j++ {
				f[j][0] += buf[n][0]
				f[j][1] += buf[n][1]
				f[j][2] += buf[n][2]
				if fshift != nil && atDim0 {
					is := shiftIndex(dim)
					fshift[is][0] += buf[n][0]
					fshift[is][1] += buf[n][1]
					fshift[is][2] += buf[n][2]
				}
				n++
			}
		}
	}
	return nil
}

// shiftIndex maps a dimension to its IVEC2IS shift-vector slot for a
// single +1 displacement along that axis; only the 3 axis-aligned
// shifts are needed since triclinic reduction already folds in tilt.
func shiftIndex(dim int) int {
	return dim
}

// coordAt returns this coordinate's component along axis (0=x,1=y,2=z).
func (c RankCoord) coordAt(axis int) int {
	switch axis {
	case 0:
		return c.CX
	case 1:
		return c.CY
	default:
		return c.CZ
	}
}
