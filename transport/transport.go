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

// Package transport is the messaging-layer seam every rank-to-rank
// exchange goes through. It has two implementations: an in-process
// simulator (Simulator) used by tests and by single-process runs, and
// a real cluster transport (RPCTransport) built on net/rpc. The domdec
// core never dials a socket or spawns a goroutine directly; it only
// calls through this interface.
package transport

import "context"

// RVec is a 3-vector of reals, used for positions, velocities, and
// forces exchanged between ranks.
type RVec [3]float64

// Comm identifies a communicator: either the full DD communicator, or
// a row communicator built by the load balancer for one dimension and
// one pair of coordinates in the other two dimensions.
type Comm int

// Transport is the message-passing abstraction. Every method may
// block, and every method returns an error instead of aborting the
// process; callers decide whether a transport failure is fatal.
type Transport interface {
	// Rank returns this participant's global flat rank index; the
	// result is the same for every comm.
	Rank(comm Comm) int
	// Size returns the number of participants in comm.
	Size(comm Comm) int

	// SendRecvInt exchanges integer payloads with a single neighbor:
	// send goes to sendTo, and a message is received from recvFrom into a
	// newly allocated slice of length recvLen.
	SendRecvInt(ctx context.Context, comm Comm, sendTo int, send []int, recvFrom, recvLen int) ([]int, error)

	// SendRecvRVec is SendRecvInt's counterpart for RVec payloads.
	SendRecvRVec(ctx context.Context, comm Comm, sendTo int, send []RVec, recvFrom, recvLen int) ([]RVec, error)

	// Bcast broadcasts data from root to every participant of comm.
	// Non-root callers receive root's bytes; the data they pass is ignored.
	Bcast(ctx context.Context, comm Comm, root int, data []byte) ([]byte, error)

	// Scatter distributes one int per destination rank from root.
	Scatter(ctx context.Context, comm Comm, root int, counts []int) (int, error)

	// Scatterv distributes variable-length int payloads from root,
	// one slice to each rank; recvLen is the length this caller receives.
	Scatterv(ctx context.Context, comm Comm, root int, payload [][]int, recvLen int) ([]int, error)

	// Gather collects one int per rank to root.
	Gather(ctx context.Context, comm Comm, root int, value int) ([]int, error)

	// Gatherv collects variable-length int payloads to root.
	Gatherv(ctx context.Context, comm Comm, root int, send []int) ([][]int, error)

	// Send is a point-to-point blocking send used by the master
	// gather/scatter collectives (C7).
	Send(ctx context.Context, comm Comm, to int, data []RVec) error
	// Recv is Send's counterpart.
	Recv(ctx context.Context, comm Comm, from int, count int) ([]RVec, error)

	// RowComm builds (or looks up) the row communicator for dimension
	// dim containing this rank, used by the load balancer (C6). Every
	// rank sharing the other two grid coordinates belongs to the same
	// row communicator.
	RowComm(dim int) Comm
}
