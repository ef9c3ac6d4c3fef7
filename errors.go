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

import "fmt"

// All errors below are fatal: a top-level driver (cmd/ddsim, or any
// caller) decides to abort the whole run on seeing one, rather than
// the library calling os.Exit itself.

// BoxGeometryError reports an invalid triclinic tilt: the box vector of
// decomposed dimension Dim has a non-zero component along
// non-decomposed dimension IntoDim.
type BoxGeometryError struct {
	Dim    int
	IntoDim int
}

func (e *BoxGeometryError) Error() string {
	return fmt.Sprintf("domdec: box geometry: decomposed dimension %d has tilt into non-decomposed dimension %d", e.Dim, e.IntoDim)
}

// CellTooSmallError reports that a DD cell is smaller than the cutoff
// (with margin) can tolerate.
type CellTooSmallError struct {
	Dim          int
	CellLength   float64
	MinRequired  float64
}

func (e *CellTooSmallError) Error() string {
	return fmt.Sprintf("domdec: cell too small in dimension %d: length %.6g < required %.6g", e.Dim, e.CellLength, e.MinRequired)
}

// GridMismatchError reports that the product of the grid extents does
// not match the available PP rank count.
type GridMismatchError struct {
	NCProduct int
	PPRanks   int
}

func (e *GridMismatchError) Error() string {
	return fmt.Sprintf("domdec: grid mismatch: nc product %d != PP rank count %d", e.NCProduct, e.PPRanks)
}

// StaticLoadParseError reports a malformed static load-imbalance string.
type StaticLoadParseError struct {
	Dim   int
	Value string
	Want  int
}

func (e *StaticLoadParseError) Error() string {
	return fmt.Sprintf("domdec: static load string for dimension %d (%q) must have exactly %d tokens", e.Dim, e.Value, e.Want)
}

// CgEscapedError reports a charge group that moved further than the
// cutoff in a single step — a fatal invariant violation (I3). Mirrors
// cg_move_error in domdec.c: it carries enough to reproduce the
// violating jump.
type CgEscapedError struct {
	GlobalAtomID int
	OldCOG       [3]float64
	NewCOG       [3]float64
	Axis         int
	Distance     float64
}

func (e *CgEscapedError) Error() string {
	return fmt.Sprintf(
		"domdec: charge group escaped: atom %d moved from %v to %v along axis %d, distance %.6g exceeds cutoff",
		e.GlobalAtomID, e.OldCOG, e.NewCOG, e.Axis, e.Distance)
}

// LBInfeasibleError reports that the load balancer could not find a
// feasible set of cell fractions after normalization.
type LBInfeasibleError struct {
	Dim  int
	Cell int
}

func (e *LBInfeasibleError) Error() string {
	return fmt.Sprintf("domdec: load balancer infeasible in dimension %d, cell %d", e.Dim, e.Cell)
}

// TransportError wraps a failure surfaced from the messaging layer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("domdec: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BondCountMismatchError and GridInconsistencyError are invariant
// violations surfaced by the caller that owns bonded-interaction state
// (out of scope here) and by make_indices respectively.
type BondCountMismatchError struct {
	Expected, Got int
}

func (e *BondCountMismatchError) Error() string {
	return fmt.Sprintf("domdec: bond count mismatch: expected %d, got %d", e.Expected, e.Got)
}

type GridInconsistencyError struct {
	Reason string
}

func (e *GridInconsistencyError) Error() string {
	return fmt.Sprintf("domdec: grid inconsistency: %s", e.Reason)
}

// UnsupportedPBCError, UnsupportedNsTypeError and UnsupportedConstraintAlgError
// report the three run parameters set_dd_parameters rejects outright
// before a decomposed run ever starts, rather than letting it fail
// partway through the first step.
type UnsupportedPBCError struct {
	PBC string
}

func (e *UnsupportedPBCError) Error() string {
	return fmt.Sprintf("domdec: pbc type %q is not supported with domain decomposition", e.PBC)
}

type UnsupportedNsTypeError struct {
	NsType string
}

func (e *UnsupportedNsTypeError) Error() string {
	return fmt.Sprintf("domdec: neighbor-search type %q is not supported with domain decomposition", e.NsType)
}

type UnsupportedConstraintAlgError struct {
	ConstraintAlg string
}

func (e *UnsupportedConstraintAlgError) Error() string {
	return fmt.Sprintf("domdec: constraint algorithm %q is not supported with domain decomposition, use lincs", e.ConstraintAlg)
}
