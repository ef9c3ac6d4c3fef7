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
	"fmt"
	"io"

	"github.com/sharpneli/gromacs/transport"
)

// pdbAtomFormat mirrors the fixed-column ATOM record layout every PDB
// reader expects: columns for serial, name, resname, chain, resSeq,
// then x/y/z in Å, occupancy, and b-factor.
const pdbAtomFormat = "ATOM  %5d  %-3s %-3s %c%4d    %8.3f%8.3f%8.3f%6.2f%6.2f"

// DumpGrid writes one PDB file per dump cadence showing every rank's
// cell box as a wireframe cube, ported from write_dd_grid_pdb: each
// rank contributes its 8 box corners (as ATOM records) and 12 edges
// (as CONECT records linking corners that differ in exactly one bit).
func DumpGrid(w io.Writer, box Box, bounds [][2][3]float64) error {
	if _, err := fmt.Fprintf(w, "REMARK  domain decomposition grid\n"); err != nil {
		return err
	}
	a := 1
	for i, b := range bounds {
		vol := 1.0
		for d := 0; d < 3; d++ {
			vol *= b[1][d] - b[0][d]
		}
		base := a
		for z := 0; z < 2; z++ {
			for y := 0; y < 2; y++ {
				for x := 0; x < 2; x++ {
					cx := pick(b, x, 0)
					cy := pick(b, y, 1)
					cz := pick(b, z, 2)
					if _, err := fmt.Fprintf(w, pdbAtomFormat+"\n", a, "CA", "GLY", ' ', 1+i,
						10*cx, 10*cy, 10*cz, 1.0, vol); err != nil {
						return err
					}
					a++
				}
			}
		}
		for d := 0; d < 3; d++ {
			for x := 0; x < 4; x++ {
				var y int
				switch d {
				case 0:
					y = base + 2*x
				case 1:
					y = base + 2*x - (x % 2)
				case 2:
					y = base + x
				}
				if _, err := fmt.Fprintf(w, "%6s%5d%5d\n", "CONECT", y, y+(1<<uint(d))); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func pick(b [2][3]float64, which, dim int) float64 { return b[which][dim] }

// AtomRecord is the per-atom metadata DumpAtoms needs to reproduce
// write_dd_pdb's residue/name columns; the caller supplies this from
// the global topology since DD itself tracks only positions and
// indices.
type AtomRecord struct {
	Name    string
	ResName string
	ResNr   int
}

// DumpAtoms writes one rank's current atom layout as a PDB: the
// b-factor column encodes which zone an atom belongs to (its cell
// index for home+halo atoms, NCell for virtual sites, NCell+1 for
// constraint-only atoms), matching write_dd_pdb's convention.
func DumpAtoms(w io.Writer, title string, state *LocalState, x []transport.RVec, cellBoundaryAtom []int, atoms []AtomRecord) error {
	if _, err := fmt.Fprintf(w, "TITLE     %s\n", title); err != nil {
		return err
	}
	ncell := len(cellBoundaryAtom) - 1
	for i := 0; i < len(x); i++ {
		gi := state.Gatindex[i] // 0-based global atom id
		rec := atoms[gi]
		var b float64
		switch {
		case i < state.NatTot:
			c := 0
			for i >= cellBoundaryAtom[c+1] {
				c++
			}
			b = float64(c)
		case i < state.NatTotVSite:
			b = float64(ncell)
		default:
			b = float64(ncell + 1)
		}
		p := x[i]
		if _, err := fmt.Fprintf(w, pdbAtomFormat+"\n",
			state.GlobalAtomNumber(i)%100000, rec.Name, rec.ResName, ' ', (rec.ResNr+1)%10000,
			10*p[0], 10*p[1], 10*p[2], 1.0, b); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "TER\n")
	return err
}
