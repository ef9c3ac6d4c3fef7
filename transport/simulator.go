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

package transport

import (
	"context"
	"fmt"
	"sync"
)

// Simulator is an in-process, single-process implementation of
// Transport for nranks ranks laid out on a grid nc (same coordinate
// convention as the DD topology: rank = ((cx*ny)+cy)*nz+cz). It is
// used by tests and by single-process runs of the engine, matching
// design note 9's "two implementations behind one trait": Simulator
// here, RPCTransport in rpc.go.
//
// Every rank gets its own *Endpoint via Simulator.Endpoint(rank);
// endpoints exchange messages through queues owned by the shared
// Simulator, so no goroutine ever touches another rank's private
// state directly.
type Simulator struct {
	nc     [3]int
	nranks int

	mu      sync.Mutex
	cond    *sync.Cond
	queues  map[string][]interface{}
	rowCIDs map[int]map[[2]int]Comm // dim -> (other two coords) -> comm id
	rowMem  map[Comm][]int          // comm id -> member ranks
	nextRow Comm
}

// NewSimulator builds a Simulator for a grid with the given extents.
func NewSimulator(nc [3]int) *Simulator {
	s := &Simulator{
		nc:      nc,
		nranks:  nc[0] * nc[1] * nc[2],
		queues:  make(map[string][]interface{}),
		rowCIDs: make(map[int]map[[2]int]Comm),
		rowMem:  make(map[Comm][]int),
		nextRow: 1, // 0 is reserved for the full communicator
	}
	s.cond = sync.NewCond(&s.mu)
	s.buildRowComms()
	return s
}

func (s *Simulator) xyz(rank int) [3]int {
	ny, nz := s.nc[1], s.nc[2]
	cz := rank % nz
	rest := rank / nz
	cy := rest % ny
	cx := rest / ny
	return [3]int{cx, cy, cz}
}

func (s *Simulator) buildRowComms() {
	for dim := 0; dim < 3; dim++ {
		s.rowCIDs[dim] = make(map[[2]int]Comm)
		for r := 0; r < s.nranks; r++ {
			c := s.xyz(r)
			var other [2]int
			switch dim {
			case 0:
				other = [2]int{c[1], c[2]}
			case 1:
				other = [2]int{c[0], c[2]}
			case 2:
				other = [2]int{c[0], c[1]}
			}
			cid, ok := s.rowCIDs[dim][other]
			if !ok {
				cid = s.nextRow
				s.nextRow++
				s.rowCIDs[dim][other] = cid
			}
			s.rowMem[cid] = append(s.rowMem[cid], r)
		}
	}
}

// Endpoint returns the Transport view for the given rank.
func (s *Simulator) Endpoint(rank int) *Endpoint {
	return &Endpoint{sim: s, rank: rank}
}

func (s *Simulator) sizeOf(comm Comm) int {
	if comm == 0 {
		return s.nranks
	}
	return len(s.rowMem[comm])
}

func (s *Simulator) push(key string, v interface{}) {
	s.mu.Lock()
	s.queues[key] = append(s.queues[key], v)
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Simulator) pop(key string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queues[key]) == 0 {
		s.cond.Wait()
	}
	v := s.queues[key][0]
	s.queues[key] = s.queues[key][1:]
	return v
}

func qkey(tag string, comm Comm, from, to int) string {
	return fmt.Sprintf("%s|%d|%d|%d", tag, comm, from, to)
}

// Endpoint is one rank's handle onto a Simulator.
type Endpoint struct {
	sim  *Simulator
	rank int
}

var _ Transport = (*Endpoint)(nil)

func (e *Endpoint) Rank(comm Comm) int { return e.rank }

func (e *Endpoint) Size(comm Comm) int { return e.sim.sizeOf(comm) }

func (e *Endpoint) SendRecvInt(ctx context.Context, comm Comm, sendTo int, send []int, recvFrom, recvLen int) ([]int, error) {
	e.sim.push(qkey("int", comm, e.rank, sendTo), append([]int(nil), send...))
	v := e.sim.pop(qkey("int", comm, recvFrom, e.rank))
	out := v.([]int)
	if recvLen >= 0 && len(out) != recvLen {
		return out, fmt.Errorf("transport: SendRecvInt expected %d ints, got %d", recvLen, len(out))
	}
	return out, nil
}

func (e *Endpoint) SendRecvRVec(ctx context.Context, comm Comm, sendTo int, send []RVec, recvFrom, recvLen int) ([]RVec, error) {
	e.sim.push(qkey("rvec", comm, e.rank, sendTo), append([]RVec(nil), send...))
	v := e.sim.pop(qkey("rvec", comm, recvFrom, e.rank))
	out := v.([]RVec)
	if recvLen >= 0 && len(out) != recvLen {
		return out, fmt.Errorf("transport: SendRecvRVec expected %d rvecs, got %d", recvLen, len(out))
	}
	return out, nil
}

func (e *Endpoint) Bcast(ctx context.Context, comm Comm, root int, data []byte) ([]byte, error) {
	if e.rank == root {
		for _, r := range e.sim.members(comm) {
			if r == root {
				continue
			}
			e.sim.push(qkey("bcast", comm, root, r), append([]byte(nil), data...))
		}
		return data, nil
	}
	v := e.sim.pop(qkey("bcast", comm, root, e.rank))
	return v.([]byte), nil
}

func (s *Simulator) members(comm Comm) []int {
	if comm == 0 {
		out := make([]int, s.nranks)
		for i := range out {
			out[i] = i
		}
		return out
	}
	return s.rowMem[comm]
}

func (e *Endpoint) Scatter(ctx context.Context, comm Comm, root int, counts []int) (int, error) {
	if e.rank == root {
		for i, r := range e.sim.members(comm) {
			e.sim.push(qkey("scatter", comm, root, r), counts[i])
		}
	}
	v := e.sim.pop(qkey("scatter", comm, root, e.rank))
	return v.(int), nil
}

func (e *Endpoint) Scatterv(ctx context.Context, comm Comm, root int, payload [][]int, recvLen int) ([]int, error) {
	if e.rank == root {
		for i, r := range e.sim.members(comm) {
			e.sim.push(qkey("scatterv", comm, root, r), append([]int(nil), payload[i]...))
		}
	}
	v := e.sim.pop(qkey("scatterv", comm, root, e.rank))
	out := v.([]int)
	if recvLen >= 0 && len(out) != recvLen {
		return out, fmt.Errorf("transport: Scatterv expected %d ints, got %d", recvLen, len(out))
	}
	return out, nil
}

func (e *Endpoint) Gather(ctx context.Context, comm Comm, root int, value int) ([]int, error) {
	e.sim.push(qkey("gather", comm, e.rank, root), value)
	if e.rank != root {
		return nil, nil
	}
	members := e.sim.members(comm)
	out := make([]int, len(members))
	for i, r := range members {
		v := e.sim.pop(qkey("gather", comm, r, root))
		out[i] = v.(int)
	}
	return out, nil
}

func (e *Endpoint) Gatherv(ctx context.Context, comm Comm, root int, send []int) ([][]int, error) {
	e.sim.push(qkey("gatherv", comm, e.rank, root), append([]int(nil), send...))
	if e.rank != root {
		return nil, nil
	}
	members := e.sim.members(comm)
	out := make([][]int, len(members))
	for i, r := range members {
		v := e.sim.pop(qkey("gatherv", comm, r, root))
		out[i] = v.([]int)
	}
	return out, nil
}

func (e *Endpoint) Send(ctx context.Context, comm Comm, to int, data []RVec) error {
	e.sim.push(qkey("p2p", comm, e.rank, to), append([]RVec(nil), data...))
	return nil
}

func (e *Endpoint) Recv(ctx context.Context, comm Comm, from int, count int) ([]RVec, error) {
	v := e.sim.pop(qkey("p2p", comm, from, e.rank))
	out := v.([]RVec)
	if count >= 0 && len(out) != count {
		return out, fmt.Errorf("transport: Recv expected %d rvecs, got %d", count, len(out))
	}
	return out, nil
}

func (e *Endpoint) RowComm(dim int) Comm {
	c := e.sim.xyz(e.rank)
	var other [2]int
	switch dim {
	case 0:
		other = [2]int{c[1], c[2]}
	case 1:
		other = [2]int{c[0], c[2]}
	case 2:
		other = [2]int{c[0], c[1]}
	}
	return e.sim.rowCIDs[dim][other]
}
