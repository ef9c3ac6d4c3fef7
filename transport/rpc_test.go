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
	"net"
	"sync"
	"testing"
)

// listenLocal starts a Peer on an OS-assigned port, mirroring
// ListenAndServe but resolving the dial address to 127.0.0.1 explicitly
// so parallel test runs never collide on a fixed port and never try to
// dial a wildcard address.
func listenLocal(t *testing.T, rank int) (*Peer, string) {
	t.Helper()
	peer, l, err := ListenAndServe(rank, "0")
	if err != nil {
		t.Fatalf("ListenAndServe(%d): %v", rank, err)
	}
	t.Cleanup(func() { l.Close() })
	port := l.Addr().(*net.TCPAddr).Port
	return peer, fmt.Sprintf("127.0.0.1:%d", port)
}

// newLocalCluster wires n RPCTransports over real TCP loopback
// connections, one per rank, each dialing every other rank's address.
func newLocalCluster(t *testing.T, n int, nc [3]int) []*RPCTransport {
	t.Helper()
	peers := make([]*Peer, n)
	addrs := make([]string, n)
	for r := 0; r < n; r++ {
		peers[r], addrs[r] = listenLocal(t, r)
	}
	out := make([]*RPCTransport, n)
	for r := 0; r < n; r++ {
		tr, err := NewRPCTransport(r, addrs, peers[r], nc)
		if err != nil {
			t.Fatalf("NewRPCTransport(%d): %v", r, err)
		}
		out[r] = tr
	}
	return out
}

func TestRPCTransportSendRecvRVecExchangesBothWays(t *testing.T) {
	cluster := newLocalCluster(t, 2, [3]int{2, 1, 1})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	results := make([][]RVec, 2)
	errs := make([]error, 2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = cluster[0].SendRecvRVec(ctx, 0, 1, []RVec{{1, 2, 3}}, 1, 1)
	}()
	go func() {
		defer wg.Done()
		results[1], errs[1] = cluster[1].SendRecvRVec(ctx, 0, 0, []RVec{{4, 5, 6}}, 0, 1)
	}()
	wg.Wait()

	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("errs = %v, %v", errs[0], errs[1])
	}
	if results[0][0] != (RVec{4, 5, 6}) {
		t.Errorf("rank 0 received %v, want {4 5 6}", results[0][0])
	}
	if results[1][0] != (RVec{1, 2, 3}) {
		t.Errorf("rank 1 received %v, want {1 2 3}", results[1][0])
	}
}

func TestRPCTransportBcastReachesNonRootMember(t *testing.T) {
	cluster := newLocalCluster(t, 3, [3]int{3, 1, 1})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(3)
	results := make([][]byte, 3)
	errs := make([]error, 3)
	for r := 0; r < 3; r++ {
		r := r
		go func() {
			defer wg.Done()
			var payload []byte
			if r == 0 {
				payload = []byte("hello")
			}
			results[r], errs[r] = cluster[r].Bcast(ctx, 0, 0, payload)
		}()
	}
	wg.Wait()

	for r := 0; r < 3; r++ {
		if errs[r] != nil {
			t.Fatalf("rank %d: Bcast: %v", r, errs[r])
		}
		if string(results[r]) != "hello" {
			t.Errorf("rank %d: Bcast = %q, want %q", r, results[r], "hello")
		}
	}
}

func TestRPCTransportGatherCollectsFromEveryMember(t *testing.T) {
	cluster := newLocalCluster(t, 3, [3]int{3, 1, 1})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(3)
	var rootOut []int
	var rootErr error
	for r := 0; r < 3; r++ {
		r := r
		go func() {
			defer wg.Done()
			out, err := cluster[r].Gather(ctx, 0, 0, 10+r)
			if r == 0 {
				rootOut, rootErr = out, err
			} else if err != nil {
				t.Errorf("rank %d: Gather: %v", r, err)
			}
		}()
	}
	wg.Wait()

	if rootErr != nil {
		t.Fatalf("root Gather: %v", rootErr)
	}
	want := []int{10, 11, 12}
	for i, v := range want {
		if rootOut[i] != v {
			t.Errorf("rootOut[%d] = %d, want %d", i, rootOut[i], v)
		}
	}
}

func TestRPCTransportRowCommGroupsByOtherTwoCoords(t *testing.T) {
	cluster := newLocalCluster(t, 4, [3]int{2, 2, 1})
	// Rank layout (cx,cy,cz): 0=(0,0,0) 1=(0,1,0) 2=(1,0,0) 3=(1,1,0).
	// Dim 0's row groups by (cy,cz): ranks 0,2 share one row (cy=0); 1,3 the other (cy=1).
	if cluster[0].RowComm(0) != cluster[2].RowComm(0) {
		t.Errorf("ranks 0,2 should share a row communicator on dim 0")
	}
	if cluster[0].RowComm(0) == cluster[1].RowComm(0) {
		t.Errorf("ranks 0,1 should NOT share a row communicator on dim 0")
	}
	if len(cluster[0].membersOf(cluster[0].RowComm(0))) != 2 {
		t.Errorf("dim 0 row for rank 0 has %d members, want 2", len(cluster[0].membersOf(cluster[0].RowComm(0))))
	}
}
