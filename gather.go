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

	"github.com/sharpneli/gromacs/transport"
)

// MasterGather implements C7's collect side: reassembling the global
// per-atom vectors (positions, velocities, stochastic-dynamics state)
// and the global state scalars from every rank's local arrays, onto
// the master rank, ported from dd_collect_vec / dd_collect_state.
type MasterGather struct {
	cfg  *Config
	tr   transport.Transport
	rank int
	root int
}

// NewMasterGather builds a gather/scatter helper rooted at root.
func NewMasterGather(cfg *Config, tr transport.Transport, rank, root int) *MasterGather {
	return &MasterGather{cfg: cfg, tr: tr, rank: rank, root: root}
}

// GlobalState is the subset of run-wide state the master reassembles
// or redistributes each time collect/distribute is invoked: box
// vectors, barostat scale, and the thermostat chain. NoseHooverXi is
// variable-length (one entry per temperature-coupling group) and is
// broadcast as a raw slice rather than a fixed-size array.
type GlobalState struct {
	Lambda       float64
	Box          Box
	BoxV         Box
	PCouplMu     Box
	NoseHooverXi []float64
}

// CollectVec gathers every rank's local per-atom vector lv (indexed by
// local atom number) into the master's global array v (indexed by
// global atom number). ownerCGs[n] is the ordered list of global CG
// ids rank n owns (the master's own copy of every rank's assignment,
// as produced by Partitioner.MasterDistributeCG), used to map each
// rank's flat buffer back to its global atom slots.
func (g *MasterGather) CollectVec(ctx context.Context, state *LocalState, lv []transport.RVec, globalCGAtomStart []int, ownerCGs [][]int) ([]transport.RVec, error) {
	home := lv[:state.NatHome]
	if g.rank != g.root {
		if err := g.tr.Send(ctx, 0, g.root, home); err != nil {
			return nil, &TransportError{Op: "collect_vec send", Err: err}
		}
		return nil, nil
	}

	natGlobal := 0
	for _, n := range globalCGAtomStart {
		if n > natGlobal {
			natGlobal = n
		}
	}
	v := make([]transport.RVec, natGlobal)
	scatterHome(v, state.IndexGl, home, globalCGAtomStart)

	nnodes := g.cfg.NC[0] * g.cfg.NC[1] * g.cfg.NC[2]
	for n := 0; n < nnodes; n++ {
		if n == g.rank {
			continue
		}
		buf, err := g.tr.Recv(ctx, 0, n, natForOwner(ownerCGs[n], globalCGAtomStart))
		if err != nil {
			return nil, &TransportError{Op: "collect_vec recv", Err: err}
		}
		scatterHome(v, ownerCGs[n], buf, globalCGAtomStart)
	}
	return v, nil
}

// natForOwner sums the atom counts of the CGs in owned, to bound a
// Recv from the rank that owns them.
func natForOwner(owned []int, globalCGAtomStart []int) int {
	n := 0
	for _, g := range owned {
		n += globalCGAtomStart[g+1] - globalCGAtomStart[g]
	}
	return n
}

func scatterHome(v []transport.RVec, owned []int, local []transport.RVec, globalCGAtomStart []int) {
	a := 0
	for _, g := range owned {
		for c := globalCGAtomStart[g]; c < globalCGAtomStart[g+1] && a < len(local); c++ {
			v[c] = local[a]
			a++
		}
	}
}

// CollectState gathers the scalar/matrix state (on the master only)
// and the position vector, mirroring dd_collect_state.
func (g *MasterGather) CollectState(ctx context.Context, local *GlobalState, state *LocalState, lx []transport.RVec, globalCGAtomStart []int, ownerCGs [][]int) (*GlobalState, []transport.RVec, error) {
	var out *GlobalState
	if g.rank == g.root {
		out = &GlobalState{
			Lambda:       local.Lambda,
			Box:          local.Box,
			BoxV:         local.BoxV,
			PCouplMu:     local.PCouplMu,
			NoseHooverXi: append([]float64(nil), local.NoseHooverXi...),
		}
	}
	x, err := g.CollectVec(ctx, state, lx, globalCGAtomStart, ownerCGs)
	if err != nil {
		return nil, nil, err
	}
	return out, x, nil
}

// DistributeVec is the inverse of CollectVec: the master sends each
// rank its slice of the global vector v, indexed through
// globalCGAtomStart and ownerCGs (see CollectVec).
func (g *MasterGather) DistributeVec(ctx context.Context, state *LocalState, v []transport.RVec, globalCGAtomStart []int, ownerCGs [][]int) ([]transport.RVec, error) {
	if g.rank != g.root {
		return g.tr.Recv(ctx, 0, g.root, state.NatHome)
	}
	nnodes := g.cfg.NC[0] * g.cfg.NC[1] * g.cfg.NC[2]
	var mine []transport.RVec
	for n := 0; n < nnodes; n++ {
		buf := gatherRankSlice(v, ownerCGs[n], globalCGAtomStart)
		if n == g.rank {
			mine = buf
			continue
		}
		if err := g.tr.Send(ctx, 0, n, buf); err != nil {
			return nil, &TransportError{Op: "distribute_vec send", Err: err}
		}
	}
	return mine, nil
}

func gatherRankSlice(v []transport.RVec, owned []int, globalCGAtomStart []int) []transport.RVec {
	var out []transport.RVec
	for _, g := range owned {
		for c := globalCGAtomStart[g]; c < globalCGAtomStart[g+1]; c++ {
			out = append(out, v[c])
		}
	}
	return out
}

// DistributeState is the inverse of CollectState: broadcast the
// scalar/matrix state and the variable-length Nose-Hoover chain from
// the master to every rank, then distribute x.
func (g *MasterGather) DistributeState(ctx context.Context, global *GlobalState, state *LocalState, v []transport.RVec, globalCGAtomStart []int, ownerCGs [][]int) (*GlobalState, []transport.RVec, error) {
	payload := encodeGlobalState(global)
	recv, err := g.tr.Bcast(ctx, 0, g.root, payload)
	if err != nil {
		return nil, nil, &TransportError{Op: "distribute_state bcast", Err: err}
	}
	gs := decodeGlobalState(recv)

	x, err := g.DistributeVec(ctx, state, v, globalCGAtomStart, ownerCGs)
	if err != nil {
		return nil, nil, err
	}
	return gs, x, nil
}

// encodeGlobalState serializes lambda, the three matrices, and the
// variable-length Nose-Hoover chain into a flat byte buffer for Bcast,
// which only moves []byte.
func encodeGlobalState(g *GlobalState) []byte {
	n := 1 + 9*3 + 1 + len(g.NoseHooverXi)
	buf := make([]byte, n*8)
	i := 0
	put := func(v float64) {
		putFloat64(buf[i*8:], v)
		i++
	}
	put(g.Lambda)
	for _, row := range g.Box {
		for _, c := range row {
			put(c)
		}
	}
	for _, row := range g.BoxV {
		for _, c := range row {
			put(c)
		}
	}
	for _, row := range g.PCouplMu {
		for _, c := range row {
			put(c)
		}
	}
	put(float64(len(g.NoseHooverXi)))
	for _, xi := range g.NoseHooverXi {
		put(xi)
	}
	return buf
}

func decodeGlobalState(buf []byte) *GlobalState {
	i := 0
	get := func() float64 {
		v := getFloat64(buf[i*8:])
		i++
		return v
	}
	gs := &GlobalState{}
	gs.Lambda = get()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			gs.Box[r][c] = get()
		}
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			gs.BoxV[r][c] = get()
		}
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			gs.PCouplMu[r][c] = get()
		}
	}
	ngtc := int(math.Round(get()))
	gs.NoseHooverXi = make([]float64, ngtc)
	for k := range gs.NoseHooverXi {
		gs.NoseHooverXi[k] = get()
	}
	return gs
}
