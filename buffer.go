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

// Vec is a grow-on-demand container: it never shrinks mid-run, and it
// grows with the over_alloc heuristic (n*1.2 + small) rather than
// doubling, to avoid thrashing on buffers that hover near a capacity
// boundary across many steps.
type Vec[T any] struct {
	data []T
}

// overAlloc implements over_alloc(n) = n*1.2 + small.
func overAlloc(n int) int {
	const small = 8
	return int(float64(n)*1.2) + small
}

// Reserve ensures the vector can hold at least n elements without a
// further grow, extending capacity geometrically if needed.
func (v *Vec[T]) Reserve(n int) {
	if cap(v.data) >= n {
		return
	}
	grown := make([]T, len(v.data), overAlloc(n))
	copy(grown, v.data)
	v.data = grown
}

// Append adds x to the end of the vector, growing as needed.
func (v *Vec[T]) Append(x T) {
	if len(v.data) == cap(v.data) {
		v.Reserve(len(v.data) + 1)
	}
	v.data = append(v.data, x)
}

// Truncate resets the logical length to n without releasing capacity,
// matching the "never shrink mid-run" policy.
func (v *Vec[T]) Truncate(n int) {
	v.data = v.data[:n]
}

// Len returns the current logical length.
func (v *Vec[T]) Len() int { return len(v.data) }

// Slice returns the current contents. Callers must not retain it past
// the next mutating call.
func (v *Vec[T]) Slice() []T { return v.data }

// Set replaces the contents wholesale, e.g. after a scatter.
func (v *Vec[T]) Set(data []T) { v.data = data }

// At returns the element at index i.
func (v *Vec[T]) At(i int) T { return v.data[i] }
