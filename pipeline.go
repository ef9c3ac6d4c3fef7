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

// Manipulator is a function that operates on the Engine's entire
// local state for the current rank, in the style of
// DomainManipulator: one phase of the pipeline, any of which can abort
// the run by returning an error.
type Manipulator func(ctx context.Context, e *Engine) error

// Engine wires together the per-rank components (geometry, topology,
// partitioner, halo exchanger, load balancer, gather, transport) and
// drives them through an ordered phase list each step, the way
// InMAP.Run drives its RunFuncs.
type Engine struct {
	Cfg    *Config
	Geom   *Geometry
	Topo   *Topology
	Tr     transport.Transport
	Rank   int
	Part   *Partitioner
	Halo   *HaloExchanger
	LB     *LoadBalancer
	Gather *MasterGather

	State *LocalState
	Box   Box
	X     []transport.RVec
	F     []transport.RVec

	// InitPhases run once before the first step.
	InitPhases []Manipulator
	// StepPhases run once per simulation step, in order:
	// Redistribute, SetCellSizes, SetupCommunication, MakeIndices,
	// MakeLocalTop.
	StepPhases []Manipulator

	// Done stops Run after the current step when set by a phase.
	Done bool
	// Step counts completed steps.
	Step int
}

// NewEngine builds an Engine and assembles its default phase list.
func NewEngine(cfg *Config, tr transport.Transport, rank int, cutoff float64) *Engine {
	geom := NewGeometry(cfg.NC)
	topo := NewTopology(cfg)
	e := &Engine{
		Cfg:    cfg,
		Geom:   geom,
		Topo:   topo,
		Tr:     tr,
		Rank:   rank,
		Part:   NewPartitioner(cfg, geom, topo, tr, rank, cutoff),
		Halo:   NewHaloExchanger(cfg, geom, topo, tr, rank),
		LB:     NewLoadBalancer(cfg, geom, topo, tr, rank),
		Gather: NewMasterGather(cfg, tr, rank, 0),
		State:  NewLocalState(),
	}
	e.StepPhases = []Manipulator{
		phaseRedistribute,
		phaseSetCellSizes,
		phaseSetupCommunication,
		phaseMakeIndices,
		phaseMakeLocalTop,
	}
	return e
}

// Init runs every InitPhases entry in order.
func (e *Engine) Init(ctx context.Context) error {
	for _, f := range e.InitPhases {
		if err := f(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Run drives StepPhases repeatedly until Done is set by a phase or the
// context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for !e.Done {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		for _, f := range e.StepPhases {
			if err := f(ctx, e); err != nil {
				return err
			}
		}
		e.Step++
	}
	return nil
}

// phaseRedistribute runs the incremental charge-group migration
// (dd_redistribute_cg): decide per-CG routing, run the two-phase wire
// exchange per DD dimension (counts, then packed index/flags plus the
// float payload), forward any received CG onward to a later
// dimension's exchange if its flags still call for it, and rebuild the
// rank's index tables and atom arrays from what's left.
func phaseRedistribute(ctx context.Context, e *Engine) error {
	positions := make(map[int][]transport.RVec, len(e.State.IndexGl))
	for i, g := range e.State.IndexGl {
		positions[g] = e.X[e.State.Cgindex[i]:e.State.Cgindex[i+1]]
	}
	staying, outgoing, err := e.Part.RedistributeCG(ctx, e.State, positions, e.Box, e.Cfg.DimOrder())
	if err != nil {
		return err
	}

	dimOrder := e.Cfg.DimOrder()
	var incoming []OutgoingCG
	for d, dim := range dimOrder {
		if e.Cfg.NC[dim] <= 1 {
			continue
		}
		fwd := e.Topo.Neighbor(e.Rank, dim, 1)
		bwd := e.Topo.Neighbor(e.Rank, dim, -1)
		comm := e.Tr.RowComm(dim)

		recvFwd, err := exchangeOutgoing(ctx, e.Tr, comm, fwd, bwd, outgoing[d*2])
		if err != nil {
			return err
		}
		recvBwd, err := exchangeOutgoing(ctx, e.Tr, comm, bwd, fwd, outgoing[d*2+1])
		if err != nil {
			return err
		}

		for _, cg := range append(recvFwd, recvBwd...) {
			if slot, ok := forwardSlot(cg.Packed, dimOrder, d+1); ok {
				outgoing[slot] = append(outgoing[slot], cg)
				continue
			}
			incoming = append(incoming, cg)
		}
	}

	e.applyRedistribution(staying, incoming)
	return nil
}

// forwardSlot reports the outgoing slot a received CG must be
// re-queued into if its packed flags still call for movement along a
// dimension later than from (the exchange that just delivered it),
// matching domdec.c's dd_redistribute_cg behavior of carrying a CG
// through multiple dimensions' exchanges within the same pass instead
// of requiring it to wait for the next step.
func forwardSlot(packed int, dimOrder []int, from int) (slot int, ok bool) {
	flags := unpackFlags(packed)
	for d := from; d < len(dimOrder); d++ {
		if flags&flagFW(d) != 0 {
			return d * 2, true
		}
		if flags&flagBW(d) != 0 {
			return d*2 + 1, true
		}
	}
	return 0, false
}

// exchangeOutgoing runs the two-phase sendrecv for one direction of
// one DD dimension: the (ncg,nat) count pair, then the packed
// (index_gl, size|flags) ints and global atom ids, then the float
// payload (cg_cm, x), returning what was received as incoming CGs.
func exchangeOutgoing(ctx context.Context, tr transport.Transport, comm transport.Comm, sendTo, recvFrom int, out []OutgoingCG) ([]OutgoingCG, error) {
	totalAtoms := 0
	ints := make([]int, 0, len(out)*2)
	atomIDs := make([]int, 0)
	cogs := make([]transport.RVec, 0, len(out))
	atoms := make([]transport.RVec, 0)
	for _, o := range out {
		totalAtoms += unpackSize(o.Packed)
		ints = append(ints, o.GlobalIndex, o.Packed)
		atomIDs = append(atomIDs, o.GlobalAtomIDs...)
		cogs = append(cogs, transport.RVec{o.COG[0], o.COG[1], o.COG[2]})
		atoms = append(atoms, o.Atoms...)
	}

	recvCounts, err := tr.SendRecvInt(ctx, comm, sendTo, []int{len(out), totalAtoms}, recvFrom, 2)
	if err != nil {
		return nil, &TransportError{Op: "redistribute_cg counts", Err: err}
	}
	ncg, nat := recvCounts[0], recvCounts[1]

	recvInts, err := tr.SendRecvInt(ctx, comm, sendTo, ints, recvFrom, ncg*2)
	if err != nil {
		return nil, &TransportError{Op: "redistribute_cg index", Err: err}
	}
	recvAtomIDs, err := tr.SendRecvInt(ctx, comm, sendTo, atomIDs, recvFrom, nat)
	if err != nil {
		return nil, &TransportError{Op: "redistribute_cg atom ids", Err: err}
	}
	recvCOGs, err := tr.SendRecvRVec(ctx, comm, sendTo, cogs, recvFrom, ncg)
	if err != nil {
		return nil, &TransportError{Op: "redistribute_cg cog", Err: err}
	}
	recvAtoms, err := tr.SendRecvRVec(ctx, comm, sendTo, atoms, recvFrom, nat)
	if err != nil {
		return nil, &TransportError{Op: "redistribute_cg atoms", Err: err}
	}

	incoming := make([]OutgoingCG, 0, ncg)
	apos := 0
	for c := 0; c < ncg; c++ {
		idxGl, packed := recvInts[c*2], recvInts[c*2+1]
		size := unpackSize(packed)
		incoming = append(incoming, OutgoingCG{
			GlobalIndex:   idxGl,
			Packed:        packed,
			COG:           [3]float64{recvCOGs[c][0], recvCOGs[c][1], recvCOGs[c][2]},
			Atoms:         append([]transport.RVec(nil), recvAtoms[apos:apos+size]...),
			GlobalAtomIDs: append([]int(nil), recvAtomIDs[apos:apos+size]...),
		})
		apos += size
	}
	return incoming, nil
}

// applyRedistribution rebuilds the rank's index tables and atom array
// from the CGs that stayed plus whatever arrived this pass, compacting
// staying CGs in place (in their prior relative order) and appending
// incoming CGs at the tail, matching how MoveX/MoveF expect each
// dimension's received block to land contiguously.
func (e *Engine) applyRedistribution(staying []int, incoming []OutgoingCG) {
	localOf := make(map[int]int, len(e.State.IndexGl))
	for i, g := range e.State.IndexGl {
		localOf[g] = i
	}
	homeLen := e.State.NatHome
	if homeLen > len(e.State.Gatindex) {
		homeLen = len(e.State.Gatindex)
	}
	for _, a := range e.State.Gatindex[:homeLen] {
		e.State.ClearGa2La(a)
	}

	newIndexGl := make([]int, 0, len(staying)+len(incoming))
	newCgindex := make([]int, 1, len(staying)+len(incoming)+1)
	newGatindex := make([]int, 0, e.State.NatHome)
	newX := make([]transport.RVec, 0, e.State.NatHome)

	for _, g := range staying {
		i := localOf[g]
		start, end := e.State.Cgindex[i], e.State.Cgindex[i+1]
		newIndexGl = append(newIndexGl, g)
		newX = append(newX, e.X[start:end]...)
		newGatindex = append(newGatindex, e.State.Gatindex[start:end]...)
		newCgindex = append(newCgindex, len(newGatindex))
	}
	for _, cg := range incoming {
		newIndexGl = append(newIndexGl, cg.GlobalIndex)
		newX = append(newX, cg.Atoms...)
		newGatindex = append(newGatindex, cg.GlobalAtomIDs...)
		newCgindex = append(newCgindex, len(newGatindex))
		e.State.SetCOG(cg.GlobalIndex, cg.COG)
	}

	e.State.IndexGl = newIndexGl
	e.State.Cgindex = newCgindex
	e.State.Gatindex = newGatindex
	e.State.NatHome = len(newGatindex)
	e.X = newX
	e.F = make([]transport.RVec, len(newGatindex))
}

// phaseSetCellSizes reruns the load balancer for every dimension in
// DimOrder when dynamic load balancing is enabled, or leaves the
// static/uniform split untouched otherwise. It passes no load samples,
// so each pass keeps the current relative sizes and applies only the
// minimum-size and grid-jump bounds.
func phaseSetCellSizes(ctx context.Context, e *Engine) error {
	if !e.Cfg.DynLoadBal {
		return nil
	}
	order := e.Cfg.DimOrder()
	for d, dim := range order {
		cellF, err := e.LB.Resize(ctx, d, order, e.Box, e.Part.cutoff, false, nil)
		if err != nil {
			return err
		}
		if cellF == nil {
			continue
		}
		ci := e.Geom.XYZOf(e.Rank).coordAt(dim)
		e.Part.SetCellBounds(dim, cellF[ci], cellF[ci+1], e.Box)
	}
	return nil
}

// phaseSetupCommunication rebuilds the halo index tables for the
// current cell bounds.
func phaseSetupCommunication(ctx context.Context, e *Engine) error {
	cogOf := func(localCG int) [3]float64 {
		atoms := e.X[e.State.Cgindex[localCG]:e.State.Cgindex[localCG+1]]
		return cog(atoms)
	}
	var low [3]float64
	for d := 0; d < 3; d++ {
		low[d] = e.Part.cell[d].X0
	}
	return e.Halo.SetupCommunication(ctx, e.State, cogOf, low, e.Part.cutoff)
}

// phaseMakeIndices rebuilds ga2la from the current IndexGl/Cgindex
// after a redistribution or halo rebuild.
func phaseMakeIndices(ctx context.Context, e *Engine) error {
	for i := range e.State.IndexGl {
		for a := e.State.Cgindex[i]; a < e.State.Cgindex[i+1]; a++ {
			e.State.SetGa2La(e.State.Gatindex[a], 0, a)
		}
	}
	return nil
}

// phaseMakeLocalTop is a hook for rebuilding any local-topology data
// a particular deployment layers on top of DD's index tables; the
// base engine provides only the index-table bookkeeping above it.
func phaseMakeLocalTop(ctx context.Context, e *Engine) error {
	return nil
}
