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
	"bytes"
	"strings"
	"testing"

	"github.com/sharpneli/gromacs/transport"
)

func TestDumpGridWritesEightCornersPerRank(t *testing.T) {
	var buf bytes.Buffer
	bounds := [][2][3]float64{
		{{0, 0, 0}, {5, 10, 10}},
		{{5, 0, 0}, {10, 10, 10}},
	}
	if err := DumpGrid(&buf, cubicBox(10), bounds); err != nil {
		t.Fatalf("DumpGrid: %v", err)
	}
	out := buf.String()
	if got := strings.Count(out, "ATOM"); got != 16 {
		t.Errorf("ATOM record count = %d, want 16 (8 corners * 2 ranks)", got)
	}
	if got := strings.Count(out, "CONECT"); got != 24 {
		t.Errorf("CONECT record count = %d, want 24 (12 edges * 2 ranks)", got)
	}
	if !strings.HasPrefix(out, "REMARK") {
		t.Errorf("DumpGrid output does not start with REMARK: %q", out[:20])
	}
}

func TestDumpAtomsEncodesZoneInBFactor(t *testing.T) {
	state := NewLocalState()
	state.Gatindex = []int{0, 1, 2}
	state.NatHome = 1
	state.NatTot = 2  // atom 1 is halo
	state.NatTotVSite = 2
	state.NatTotCon = 3 // atom 2 is constraint-only

	x := []transport.RVec{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	cellBoundaryAtom := []int{0, 2} // one cell, covering atoms [0,2)
	atoms := []AtomRecord{
		{Name: "CA", ResName: "ALA", ResNr: 0},
		{Name: "CB", ResName: "ALA", ResNr: 0},
		{Name: "N", ResName: "GLY", ResNr: 1},
	}

	var buf bytes.Buffer
	if err := DumpAtoms(&buf, "step 0", state, x, cellBoundaryAtom, atoms); err != nil {
		t.Fatalf("DumpAtoms: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if lines[0] != "TITLE     step 0" {
		t.Errorf("title line = %q", lines[0])
	}
	if lines[len(lines)-1] != "TER" {
		t.Errorf("last line = %q, want TER", lines[len(lines)-1])
	}
	atomLines := lines[1 : len(lines)-1]
	if len(atomLines) != 3 {
		t.Fatalf("got %d ATOM lines, want 3", len(atomLines))
	}
	// Home/halo atom 0 and 1 both fall in cell 0 -> b-factor 0.00.
	if !strings.HasSuffix(atomLines[0], "0.00") {
		t.Errorf("atom 0 line = %q, want b-factor 0.00", atomLines[0])
	}
	if !strings.HasSuffix(atomLines[1], "0.00") {
		t.Errorf("atom 1 line = %q, want b-factor 0.00", atomLines[1])
	}
	// Constraint-only atom 2 -> b-factor ncell+1 = 2.00.
	if !strings.HasSuffix(atomLines[2], "2.00") {
		t.Errorf("atom 2 line = %q, want b-factor 2.00", atomLines[2])
	}
	if !strings.Contains(atomLines[0], "CA") || !strings.Contains(atomLines[0], "ALA") {
		t.Errorf("atom 0 line = %q, want to contain CA and ALA", atomLines[0])
	}
}
