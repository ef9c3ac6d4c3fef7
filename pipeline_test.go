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
	"context"
	"sync"
	"testing"

	"github.com/sharpneli/gromacs/transport"
)

// TestEnginePipelineRunsOneStepWithoutError wires a 2-rank Engine over
// the in-process simulator and drives one full step of the default
// phase list, checking that a stable configuration (no CG crosses a
// cell boundary, no halo atom within cutoff) leaves indices consistent.
func TestEnginePipelineRunsOneStepWithoutError(t *testing.T) {
	nc := [3]int{2, 1, 1}
	sim := transport.NewSimulator(nc)
	box := cubicBox(10)

	var wg sync.WaitGroup
	wg.Add(2)
	for r := 0; r < 2; r++ {
		r := r
		go func() {
			defer wg.Done()
			cfg := &Config{NC: nc}
			e := NewEngine(cfg, sim.Endpoint(r), r, 1.0)
			e.Box = box

			if r == 0 {
				e.Part.SetCellBounds(0, 0, 0.5, box)
				e.State.IndexGl = []int{0}
				e.State.Cgindex = []int{0, 1}
				e.State.Gatindex = []int{100}
				e.State.NatHome = 1
				e.X = []transport.RVec{{1, 2, 2}}
			} else {
				e.Part.SetCellBounds(0, 0.5, 1, box)
				e.State.IndexGl = []int{1}
				e.State.Cgindex = []int{0, 1}
				e.State.Gatindex = []int{200}
				e.State.NatHome = 1
				e.X = []transport.RVec{{7, 2, 2}}
			}

			// Run exactly one step: append a phase that stops the loop.
			e.StepPhases = append(e.StepPhases, func(ctx context.Context, e *Engine) error {
				e.Done = true
				return nil
			})
			if err := e.Run(context.Background()); err != nil {
				t.Errorf("rank %d: Run: %v", r, err)
				return
			}
			if e.Step != 1 {
				t.Errorf("rank %d: Step = %d, want 1", r, e.Step)
			}
			if len(e.State.IndexGl) != 1 {
				t.Errorf("rank %d: IndexGl = %v, want the home CG to stay put", r, e.State.IndexGl)
			}
			wantGlobal := 100
			if r == 1 {
				wantGlobal = 200
			}
			if res := e.State.Ga2La(wantGlobal); res.Cell != 0 || res.LocalAt != 0 {
				t.Errorf("rank %d: Ga2La(%d) = %v, want {0 0}", r, wantGlobal, res)
			}
		}()
	}
	wg.Wait()
}
