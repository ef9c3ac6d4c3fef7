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

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CellMargin and PressureScaleMargin are the safety factors applied
// when checking whether a cell is large enough for the cutoff.
const (
	CellMargin          = 1.0001
	PressureScaleMargin = 1.02
)

// Box is a (possibly triclinic) simulation box given as three lattice
// vectors box[i][j].
type Box [3][3]float64

// Geometry holds the per-dimension skew factors and orthogonalized
// basis derived from a Box, plus the grid extents needed to convert a
// flat rank index to a 3D coordinate and back.
type Geometry struct {
	NC [3]int

	// TricDir[d] is true if dimension d has non-zero tilt from a
	// higher dimension.
	TricDir [3]bool
	// SkewFac[d] is the ratio between the slab thickness normal to
	// lattice vector d and the lattice vector's length.
	SkewFac [3]float64
	// VHigh holds the orthogonalized higher-dimension basis vectors
	// keyed by (d, idx) for idx>d, used by C5's triclinic distance
	// reduction (v[i][d] for i>d in domdec.c's set_tric_dir).
	VHigh map[[2]int][3]float64
}

// BasisVector returns the orthogonalized basis vector for higher
// dimension idx when reducing distances in dimension d, or the zero
// vector if dimension d has no tilt.
func (g *Geometry) BasisVector(d, idx int) [3]float64 {
	return g.VHigh[[2]int{d, idx}]
}

// NewGeometry returns a Geometry for the given grid extents with
// trivial (cubic) skew factors; call SetTricDir with the actual box
// before using it for distance tests.
func NewGeometry(nc [3]int) *Geometry {
	g := &Geometry{NC: nc}
	g.SkewFac = [3]float64{1, 1, 1}
	return g
}

// XYZOf is the inverse of the flat rank index: rank ->(cx,cy,cz).
func (g *Geometry) XYZOf(rank int) RankCoord {
	nz := g.NC[2]
	ny := g.NC[1]
	cz := rank % nz
	rest := rank / nz
	cy := rest % ny
	cx := rest / ny
	return RankCoord{CX: cx, CY: cy, CZ: cz}
}

// SetTricDir rebuilds the skew factors and orthogonalized basis from
// box, following domdec.c's set_tric_dir: dimensions are processed
// from the lowest index up, but within a dimension the off-diagonal
// check looks at every higher dimension j>d. A non-decomposed
// dimension (NC[d]==1) may carry tilt; tilt from a decomposed
// dimension j into a non-decomposed dimension d is rejected, since a
// non-decomposed dimension has no neighbor rank to receive the
// resulting ghost shift.
func (g *Geometry) SetTricDir(box Box) error {
	for d := 0; d < 3; d++ {
		g.TricDir[d] = false
		for j := d + 1; j < 3; j++ {
			if box[j][d] != 0 {
				g.TricDir[d] = true
				if g.NC[j] > 1 && g.NC[d] == 1 {
					return &BoxGeometryError{Dim: j, IntoDim: d}
				}
			}
		}

		if !g.TricDir[d] {
			g.SkewFac[d] = 1
			continue
		}

		skewFac2 := 1.0
		if d == 0 || d == 1 {
			v1 := normalizedRowVec(box[d+1], box[d+1][d+1], d)
			skewFac2 -= v1.AtVec(d) * v1.AtVec(d)
			g.setBasis(d, d+1, vecToArray(v1))

			if d == 0 {
				v2 := normalizedRowVec(box[d+2], box[d+2][d+2], d)
				dep := mat.Dot(v1, v2) / mat.Dot(v1, v1)
				v2.AddScaledVec(v2, -dep, v1)
				skewFac2 -= v2.AtVec(d) * v2.AtVec(d)
				g.setBasis(d, d+2, vecToArray(v2))
			}
		}
		g.SkewFac[d] = math.Sqrt(skewFac2)
	}
	return nil
}

// setBasis records the orthogonalized vector used for "higher
// dimension idx" when reducing distances in dimension d.
func (g *Geometry) setBasis(d, idx int, v [3]float64) {
	if g.VHigh == nil {
		g.VHigh = make(map[[2]int][3]float64)
	}
	g.VHigh[[2]int{d, idx}] = v
}

// normalizedRowVec builds row/diag as a gonum vector with every
// component below index zeroBelow cleared, the same reduction
// set_tric_dir performs before projecting a higher lattice vector onto
// dimension d's component.
func normalizedRowVec(row [3]float64, diag float64, zeroBelow int) *mat.VecDense {
	v := mat.NewVecDense(3, []float64{row[0] / diag, row[1] / diag, row[2] / diag})
	for i := 0; i < zeroBelow; i++ {
		v.SetVec(i, 0)
	}
	return v
}

func vecToArray(v *mat.VecDense) [3]float64 {
	return [3]float64{v.AtVec(0), v.AtVec(1), v.AtVec(2)}
}

// CheckBoxSize fails with CellTooSmallError if any DD-decomposed
// dimension's cell would be smaller than the cutoff (with margin)
// tolerates: box[d][d]*skew_fac[d] < nc[d]*cutoff*margin.
func (g *Geometry) CheckBoxSize(box Box, cutoff float64) error {
	for d := 0; d < 3; d++ {
		if g.NC[d] <= 1 {
			continue
		}
		length := box[d][d] * g.SkewFac[d]
		required := float64(g.NC[d]) * cutoff * CellMargin
		if length < required {
			return &CellTooSmallError{Dim: d, CellLength: length, MinRequired: required}
		}
	}
	return nil
}

// ClampImbalance restricts x to [-bound, bound], used by the load
// balancer (C6) via gonum/floats for the underlying min/max.
func ClampImbalance(x, bound float64) float64 {
	return floats.Min([]float64{floats.Max([]float64{x, -bound}), bound})
}
