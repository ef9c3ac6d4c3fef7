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
	"math"
	"testing"
)

func cubicBox(l float64) Box {
	return Box{{l, 0, 0}, {0, l, 0}, {0, 0, l}}
}

func TestSetTricDirCubicBoxHasNoTilt(t *testing.T) {
	g := NewGeometry([3]int{2, 2, 2})
	if err := g.SetTricDir(cubicBox(10)); err != nil {
		t.Fatalf("SetTricDir: %v", err)
	}
	for d := 0; d < 3; d++ {
		if g.TricDir[d] {
			t.Errorf("dim %d: TricDir = true for a cubic box", d)
		}
		if g.SkewFac[d] != 1 {
			t.Errorf("dim %d: SkewFac = %v, want 1", d, g.SkewFac[d])
		}
	}
}

func TestSetTricDirRejectsTiltIntoNonDecomposedDim(t *testing.T) {
	// dim 0 is not decomposed (nc[0]==1) but dim 1 (decomposed) tilts into it.
	g := NewGeometry([3]int{1, 2, 1})
	box := cubicBox(10)
	box[1][0] = 2 // box[j][d] with j=1, d=0
	err := g.SetTricDir(box)
	if err == nil {
		t.Fatal("SetTricDir: want BoxGeometryError, got nil")
	}
	if _, ok := err.(*BoxGeometryError); !ok {
		t.Fatalf("SetTricDir: got %T, want *BoxGeometryError", err)
	}
}

func TestSetTricDirSkewFactor(t *testing.T) {
	g := NewGeometry([3]int{2, 1, 1})
	box := cubicBox(10)
	box[1][0] = 5 // 45-degree-ish tilt of y into x
	if err := g.SetTricDir(box); err != nil {
		t.Fatalf("SetTricDir: %v", err)
	}
	want := math.Sqrt(1 - (5.0/10.0)*(5.0/10.0))
	if math.Abs(g.SkewFac[0]-want) > 1e-9 {
		t.Errorf("SkewFac[0] = %v, want %v", g.SkewFac[0], want)
	}
}

func TestCheckBoxSizeRejectsUndersizedCell(t *testing.T) {
	g := NewGeometry([3]int{4, 1, 1})
	box := cubicBox(10)
	if err := g.SetTricDir(box); err != nil {
		t.Fatalf("SetTricDir: %v", err)
	}
	err := g.CheckBoxSize(box, 3.0) // 4 cells * 3.0 cutoff > 10
	if err == nil {
		t.Fatal("CheckBoxSize: want CellTooSmallError, got nil")
	}
	if _, ok := err.(*CellTooSmallError); !ok {
		t.Fatalf("CheckBoxSize: got %T, want *CellTooSmallError", err)
	}
}

func TestCheckBoxSizeAcceptsAdequateCell(t *testing.T) {
	g := NewGeometry([3]int{2, 1, 1})
	box := cubicBox(10)
	if err := g.SetTricDir(box); err != nil {
		t.Fatalf("SetTricDir: %v", err)
	}
	if err := g.CheckBoxSize(box, 2.0); err != nil {
		t.Fatalf("CheckBoxSize: %v", err)
	}
}

func TestGeometryXYZOfRoundTrip(t *testing.T) {
	nc := [3]int{2, 3, 4}
	g := NewGeometry(nc)
	for rank := 0; rank < nc[0]*nc[1]*nc[2]; rank++ {
		c := g.XYZOf(rank)
		got := c.FlatIndex(nc)
		if got != rank {
			t.Errorf("XYZOf(%d).FlatIndex() = %d, want %d", rank, got, rank)
		}
	}
}

func TestClampImbalance(t *testing.T) {
	cases := []struct {
		x, bound, want float64
	}{
		{0.05, 0.1, 0.05},
		{0.5, 0.1, 0.1},
		{-0.5, 0.1, -0.1},
	}
	for _, c := range cases {
		if got := ClampImbalance(c.x, c.bound); got != c.want {
			t.Errorf("ClampImbalance(%v, %v) = %v, want %v", c.x, c.bound, got, c.want)
		}
	}
}
