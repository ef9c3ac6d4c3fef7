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

// HaloIndexTable is the per-dimension send/receive bookkeeping for a
// halo exchange: NSend/NRecv carry per-cell CG counts at [0, ncell),
// the total CG count at [ncell], and the total atom count at
// [ncell+1]. Ranges lists the atom spans queued to send, in append
// order: a span addresses either the rank's own atom array (cell 0,
// the home set) or an earlier dimension's already-received halo block
// (cell > 0) — this is what lets a dimension forward a neighbor's halo
// CGs onward instead of only ever exchanging with its own immediate
// face neighbor, the mechanism that produces the diagonal/corner
// octants in a 2D/3D grid.
type HaloIndexTable struct {
	NCell int

	nsend Vec[int]
	nrecv Vec[int]

	starts  Vec[int]
	lengths Vec[int]
}

// NewHaloIndexTable returns a table sized for ncell cells: cell 0 is
// always the rank's own candidates, cells 1..ncell-1 are the halo
// generations received from earlier dimensions in the same setup pass
// (one extra generation per dimension already processed).
func NewHaloIndexTable(ncell int) *HaloIndexTable {
	h := &HaloIndexTable{NCell: ncell}
	h.nsend.Reserve(ncell + 2)
	h.nrecv.Reserve(ncell + 2)
	h.nsend.Set(make([]int, ncell+2))
	h.nrecv.Set(make([]int, ncell+2))
	return h
}

// NSendCell returns the CG count queued to send for cell c.
func (h *HaloIndexTable) NSendCell(c int) int { return h.nsend.At(c) }

// NSendTotalCG returns the total CG count queued across all cells.
func (h *HaloIndexTable) NSendTotalCG() int { return h.nsend.At(h.NCell) }

// NSendTotalAtoms returns the total atom count queued across all
// cells.
func (h *HaloIndexTable) NSendTotalAtoms() int { return h.nsend.At(h.NCell + 1) }

// Reset clears the table for a fresh setup_communication pass without
// releasing the underlying capacity (grow-on-demand, never shrink).
func (h *HaloIndexTable) Reset() {
	for i := range h.nsend.Slice() {
		h.nsend.Slice()[i] = 0
	}
	for i := range h.nrecv.Slice() {
		h.nrecv.Slice()[i] = 0
	}
	h.starts.Truncate(0)
	h.lengths.Truncate(0)
}

// Append queues the atom range [start, start+length) for neighbor cell
// c, growing the backing vectors on demand.
func (h *HaloIndexTable) Append(c, start, length int) {
	h.starts.Append(start)
	h.lengths.Append(length)
	h.nsend.Slice()[c]++
	h.nsend.Slice()[h.NCell]++
	h.nsend.Slice()[h.NCell+1] += length
}

// NRanges returns the number of queued send ranges.
func (h *HaloIndexTable) NRanges() int { return h.starts.Len() }

// Range returns the k'th queued send range.
func (h *HaloIndexTable) Range(k int) (start, length int) {
	return h.starts.At(k), h.lengths.At(k)
}

// SetRecvCounts records the counts received from the paired
// sendrecv_int(counts) call: ncg total and nat total for this
// dimension's backward exchange.
func (h *HaloIndexTable) SetRecvCounts(ncg, nat int) {
	h.nrecv.Slice()[h.NCell] = ncg
	h.nrecv.Slice()[h.NCell+1] = nat
}

// RecvTotalCG and RecvTotalAtoms mirror the send-side totals for the
// data just received.
func (h *HaloIndexTable) RecvTotalCG() int    { return h.nrecv.At(h.NCell) }
func (h *HaloIndexTable) RecvTotalAtoms() int { return h.nrecv.At(h.NCell + 1) }
