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
	"log"
	"net"
	"net/http"
	"net/rpc"
	"sync"
)

// RPCPort is a package-level default port value, the same default
// sr/distributed.go used for InMAP's worker RPC. ListenAndServe takes
// its port as an argument and does not read RPCPort.
var RPCPort = "6060"

// Exchange is the RPC payload type: a rank sends one of these to
// another rank's Peer.Deliver method and gets an Empty reply. Unlike
// InMAP's single-purpose IOData, Exchange carries whichever of the
// Transport primitives is in flight, tagged by Kind.
type Exchange struct {
	Kind  string
	Comm  Comm
	From  int
	Ints  []int
	RVecs []RVec
	Bytes []byte
	Int   int
}

// Peer is the RPC-exported type every cluster rank listens on, mirroring
// sr/distributed.go's Worker: exported methods only, registered once
// via rpc.Register, served over HTTP.
type Peer struct {
	rank  int
	mu    sync.Mutex
	inbox map[string]chan Exchange
}

func newPeer(rank int) *Peer {
	return &Peer{rank: rank, inbox: make(map[string]chan Exchange)}
}

func (p *Peer) chanFor(key string) chan Exchange {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.inbox[key]
	if !ok {
		ch = make(chan Exchange, 64)
		p.inbox[key] = ch
	}
	return ch
}

// Deliver is the RPC-exported method peers call on each other. It
// meets the requirements for use with rpc.Call, exactly as
// sr/distributed.go's Worker.Calculate did for InMAP simulation
// requests; here the payload is a Transport exchange instead.
func (p *Peer) Deliver(in *Exchange, out *Empty) error {
	key := fmt.Sprintf("%s|%d|%d", in.Kind, in.Comm, in.From)
	p.chanFor(key) <- *in
	return nil
}

// Empty is used for passing content-less RPC replies, same shape as
// sr/distributed.go's Empty.
type Empty struct{}

// RPCTransport is the real cluster implementation of Transport: each
// rank runs a Peer listening over net/rpc, and addresses the other
// ranks via dialed *rpc.Client connections. It is the second of
// design note 9's two Transport implementations — Simulator (in
// simulator.go) is the first.
type RPCTransport struct {
	rank    int
	addrs   []string // addrs[r] is rank r's host:port
	clients []*rpc.Client
	peer    *Peer
	rowMem  map[int][]int // dim -> member ranks of this rank's row
	rowIDs  map[int]Comm
}

// ListenAndServe starts this rank's Peer listening on port and
// returns once the listener is ready, the same Listen shape
// sr/distributed.go's Worker.Listen used.
func ListenAndServe(rank int, port string) (*Peer, net.Listener, error) {
	peer := newPeer(rank)
	server := rpc.NewServer()
	if err := server.Register(peer); err != nil {
		return nil, nil, fmt.Errorf("transport: registering peer %d: %w", rank, err)
	}
	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, server)
	l, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: listening on port %s: %w", port, err)
	}
	go func() {
		log.Printf("domdec: rank %d listening on %s", rank, l.Addr())
		_ = http.Serve(l, mux)
	}()
	return peer, l, nil
}

// NewRPCTransport dials every other rank's address and returns a ready
// Transport. addrs must be ordered by flat rank index and nc gives the
// grid extents used to compute row communicators.
func NewRPCTransport(rank int, addrs []string, peer *Peer, nc [3]int) (*RPCTransport, error) {
	clients := make([]*rpc.Client, len(addrs))
	for r, addr := range addrs {
		if r == rank {
			continue
		}
		c, err := rpc.DialHTTP("tcp", addr)
		if err != nil {
			return nil, &TransportErr{Op: "dial", Rank: r, Err: err}
		}
		clients[r] = c
	}
	t := &RPCTransport{rank: rank, addrs: addrs, clients: clients, peer: peer}
	t.buildRowComms(nc)
	return t, nil
}

// TransportErr reports a failure to establish or use the cluster
// transport; callers surface it as domdec.TransportError.
type TransportErr struct {
	Op   string
	Rank int
	Err  error
}

func (e *TransportErr) Error() string {
	return fmt.Sprintf("transport: %s to rank %d: %v", e.Op, e.Rank, e.Err)
}
func (e *TransportErr) Unwrap() error { return e.Err }

func (t *RPCTransport) buildRowComms(nc [3]int) {
	t.rowMem = make(map[int][]int)
	t.rowIDs = make(map[int]Comm)
	xyz := func(r int) [3]int {
		cz := r % nc[2]
		rest := r / nc[2]
		cy := rest % nc[1]
		cx := rest / nc[1]
		return [3]int{cx, cy, cz}
	}
	c := xyz(t.rank)
	nranks := nc[0] * nc[1] * nc[2]
	for dim := 0; dim < 3; dim++ {
		var members []int
		for r := 0; r < nranks; r++ {
			o := xyz(r)
			match := false
			switch dim {
			case 0:
				match = o[1] == c[1] && o[2] == c[2]
			case 1:
				match = o[0] == c[0] && o[2] == c[2]
			case 2:
				match = o[0] == c[0] && o[1] == c[1]
			}
			if match {
				members = append(members, r)
			}
		}
		t.rowMem[dim] = members
		var key int
		switch dim {
		case 0:
			key = c[1]*nc[2] + c[2]
		case 1:
			key = c[0]*nc[2] + c[2]
		case 2:
			key = c[0]*nc[1] + c[1]
		}
		t.rowIDs[dim] = Comm(1 + dim*nranks + key)
	}
}

func (t *RPCTransport) call(to int, ex *Exchange) error {
	if to == t.rank {
		return fmt.Errorf("transport: rank %d cannot call itself", to)
	}
	var reply Empty
	if err := t.clients[to].Call("Peer.Deliver", ex, &reply); err != nil {
		return &TransportErr{Op: "deliver", Rank: to, Err: err}
	}
	return nil
}

func (t *RPCTransport) recv(kind string, comm Comm, from int) Exchange {
	key := fmt.Sprintf("%s|%d|%d", kind, comm, from)
	return <-t.peer.chanFor(key)
}

func (t *RPCTransport) Rank(comm Comm) int { return t.rank }

func (t *RPCTransport) Size(comm Comm) int {
	if comm == 0 {
		return len(t.addrs)
	}
	for dim, id := range t.rowIDs {
		if id == comm {
			return len(t.rowMem[dim])
		}
	}
	return 0
}

func (t *RPCTransport) SendRecvInt(ctx context.Context, comm Comm, sendTo int, send []int, recvFrom, recvLen int) ([]int, error) {
	if err := t.call(sendTo, &Exchange{Kind: "int", Comm: comm, From: t.rank, Ints: send}); err != nil {
		return nil, err
	}
	ex := t.recv("int", comm, recvFrom)
	if recvLen >= 0 && len(ex.Ints) != recvLen {
		return ex.Ints, fmt.Errorf("transport: SendRecvInt expected %d ints, got %d", recvLen, len(ex.Ints))
	}
	return ex.Ints, nil
}

func (t *RPCTransport) SendRecvRVec(ctx context.Context, comm Comm, sendTo int, send []RVec, recvFrom, recvLen int) ([]RVec, error) {
	if err := t.call(sendTo, &Exchange{Kind: "rvec", Comm: comm, From: t.rank, RVecs: send}); err != nil {
		return nil, err
	}
	ex := t.recv("rvec", comm, recvFrom)
	if recvLen >= 0 && len(ex.RVecs) != recvLen {
		return ex.RVecs, fmt.Errorf("transport: SendRecvRVec expected %d rvecs, got %d", recvLen, len(ex.RVecs))
	}
	return ex.RVecs, nil
}

func (t *RPCTransport) Bcast(ctx context.Context, comm Comm, root int, data []byte) ([]byte, error) {
	if t.rank == root {
		for _, r := range t.membersOf(comm) {
			if r == root {
				continue
			}
			if err := t.call(r, &Exchange{Kind: "bcast", Comm: comm, From: root, Bytes: data}); err != nil {
				return nil, err
			}
		}
		return data, nil
	}
	ex := t.recv("bcast", comm, root)
	return ex.Bytes, nil
}

func (t *RPCTransport) membersOf(comm Comm) []int {
	if comm == 0 {
		out := make([]int, len(t.addrs))
		for i := range out {
			out[i] = i
		}
		return out
	}
	for dim, id := range t.rowIDs {
		if id == comm {
			return t.rowMem[dim]
		}
	}
	return nil
}

func (t *RPCTransport) Scatter(ctx context.Context, comm Comm, root int, counts []int) (int, error) {
	if t.rank == root {
		members := t.membersOf(comm)
		for i, r := range members {
			if r == root {
				continue
			}
			if err := t.call(r, &Exchange{Kind: "scatter", Comm: comm, From: root, Int: counts[i]}); err != nil {
				return 0, err
			}
		}
		for i, r := range members {
			if r == root {
				return counts[i], nil
			}
		}
	}
	ex := t.recv("scatter", comm, root)
	return ex.Int, nil
}

func (t *RPCTransport) Scatterv(ctx context.Context, comm Comm, root int, payload [][]int, recvLen int) ([]int, error) {
	if t.rank == root {
		members := t.membersOf(comm)
		for i, r := range members {
			if r == root {
				continue
			}
			if err := t.call(r, &Exchange{Kind: "scatterv", Comm: comm, From: root, Ints: payload[i]}); err != nil {
				return nil, err
			}
		}
		for i, r := range members {
			if r == root {
				return payload[i], nil
			}
		}
	}
	ex := t.recv("scatterv", comm, root)
	if recvLen >= 0 && len(ex.Ints) != recvLen {
		return ex.Ints, fmt.Errorf("transport: Scatterv expected %d ints, got %d", recvLen, len(ex.Ints))
	}
	return ex.Ints, nil
}

func (t *RPCTransport) Gather(ctx context.Context, comm Comm, root int, value int) ([]int, error) {
	if t.rank != root {
		return nil, t.call(root, &Exchange{Kind: "gather", Comm: comm, From: t.rank, Int: value})
	}
	members := t.membersOf(comm)
	out := make([]int, len(members))
	for i, r := range members {
		if r == root {
			out[i] = value
			continue
		}
		ex := t.recv("gather", comm, r)
		out[i] = ex.Int
	}
	return out, nil
}

func (t *RPCTransport) Gatherv(ctx context.Context, comm Comm, root int, send []int) ([][]int, error) {
	if t.rank != root {
		return nil, t.call(root, &Exchange{Kind: "gatherv", Comm: comm, From: t.rank, Ints: send})
	}
	members := t.membersOf(comm)
	out := make([][]int, len(members))
	for i, r := range members {
		if r == root {
			out[i] = send
			continue
		}
		ex := t.recv("gatherv", comm, r)
		out[i] = ex.Ints
	}
	return out, nil
}

func (t *RPCTransport) Send(ctx context.Context, comm Comm, to int, data []RVec) error {
	return t.call(to, &Exchange{Kind: "p2p", Comm: comm, From: t.rank, RVecs: data})
}

func (t *RPCTransport) Recv(ctx context.Context, comm Comm, from int, count int) ([]RVec, error) {
	ex := t.recv("p2p", comm, from)
	if count >= 0 && len(ex.RVecs) != count {
		return ex.RVecs, fmt.Errorf("transport: Recv expected %d rvecs, got %d", count, len(ex.RVecs))
	}
	return ex.RVecs, nil
}

func (t *RPCTransport) RowComm(dim int) Comm { return t.rowIDs[dim] }
