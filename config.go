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
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config is the immutable configuration threaded into the partitioner
// at construction time. It is assembled once, at startup, from
// environment variables and the CLI flag surface; nothing downstream
// of NewConfig mutates process-wide state.
type Config struct {
	NC [3]int // grid extents nx, ny, nz

	NPMENodes int // 0 disables a separate PME rank group

	CommDistanceMin float64 // metres; floor applied to cutoff

	DynLoadBal bool // used as given; nothing checks for cycle counters or demotes it

	// LoadX, LoadY, LoadZ give static per-cell load weights for the
	// corresponding dimension, one value per cell. nil means uniform.
	// The Engine's step phases do not read them.
	LoadX, LoadY, LoadZ []float64

	// OrderZYX iterates DD dimensions z->x instead of x->z
	// (GMX_DD_ORDER_ZYX).
	OrderZYX bool

	// DumpEvery holds the per-rank atom dump interval in steps
	// (GMX_DD_DUMP). Neither the Engine nor cmd/ddsim reads it, so no
	// dump is written on this cadence.
	DumpEvery int

	// DumpGridEvery holds the grid wireframe dump interval in steps
	// (GMX_DD_DUMP_GRID). Neither the Engine nor cmd/ddsim reads it.
	DumpGridEvery int

	// SuppressPMEInterleave disables PP/PME rank interleaving
	// (GMX_ORDER_PP_PME).
	SuppressPMEInterleave bool

	// PBC, NsType and ConstraintAlg name the run parameters
	// set_dd_parameters validates before a decomposed run starts.
	// Empty strings are kept as empty strings and pass Validate.
	PBC           string
	NsType        string
	ConstraintAlg string
}

// Validate rejects the run parameter combinations set_dd_parameters
// refuses to run under domain decomposition: no periodic boundary
// conditions, the simple (non-grid) neighbor search, and SHAKE
// constraints (LINCS only).
func (c *Config) Validate() error {
	if c.PBC == "none" {
		return &UnsupportedPBCError{PBC: c.PBC}
	}
	if c.NsType == "simple" {
		return &UnsupportedNsTypeError{NsType: c.NsType}
	}
	if c.ConstraintAlg == "shake" {
		return &UnsupportedConstraintAlgError{ConstraintAlg: c.ConstraintAlg}
	}
	return nil
}

// BindEnv wires the GROMACS-style environment variables onto v's keys,
// the way pkg/config.setDefaults binds defaults in the perf-analysis
// CLI this is grounded on. Call once at startup, before NewConfig.
func BindEnv(v *viper.Viper) error {
	binds := map[string]string{
		"order_zyx":               "GMX_DD_ORDER_ZYX",
		"dump_every":              "GMX_DD_DUMP",
		"dump_grid_every":         "GMX_DD_DUMP_GRID",
		"suppress_pme_interleave": "GMX_ORDER_PP_PME",
	}
	for key, env := range binds {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("domdec: binding env var %s: %w", env, err)
		}
	}
	v.SetDefault("dump_every", 0)
	v.SetDefault("dump_grid_every", 0)
	v.SetDefault("dyn_load_bal", false)
	v.SetDefault("comm_distance_min", 0.0)
	return nil
}

// DimOrder returns the DD dimension iteration order: 0,1,2 (x,y,z)
// normally, or 2,1,0 when Config.OrderZYX is set.
func (c *Config) DimOrder() []int {
	if c.OrderZYX {
		return []int{2, 1, 0}
	}
	return []int{0, 1, 2}
}

// NDim returns how many dimensions are actually decomposed (nc[d] > 1).
func (c *Config) NDim() int {
	n := 0
	for _, nck := range c.NC {
		if nck > 1 {
			n++
		}
	}
	return n
}

// NewConfig builds a Config from environment variables and the flag
// values bound by cmd/ddsim (or any other caller using viper). v is
// expected to already have its defaults set and flags bound, mirroring
// pkg/config.Load in the perf-analysis CLI this is grounded on.
func NewConfig(v *viper.Viper) (*Config, error) {
	nc := [3]int{v.GetInt("nc.x"), v.GetInt("nc.y"), v.GetInt("nc.z")}
	for d, n := range nc {
		if n < 1 {
			return nil, fmt.Errorf("domdec: nc[%d] must be >= 1, got %d", d, n)
		}
	}
	if nc[0] == 1 && nc[1] == 1 && nc[2] == 1 {
		return nil, fmt.Errorf("domdec: at least one grid dimension must be > 1")
	}

	npme := v.GetInt("npmenodes")
	if npme < 0 {
		return nil, fmt.Errorf("domdec: npmenodes must be >= 0, got %d", npme)
	}
	nnodes := nc[0] * nc[1] * nc[2]
	if npme > nnodes {
		// More PME ranks than PP ranks can never be interleaved onto
		// the grid; fail fast rather than leave the behavior undefined.
		return nil, &GridMismatchError{NCProduct: nnodes, PPRanks: npme}
	}

	cfg := &Config{
		NC:                    nc,
		NPMENodes:             npme,
		CommDistanceMin:       v.GetFloat64("comm_distance_min"),
		DynLoadBal:            v.GetBool("dyn_load_bal"),
		OrderZYX:              v.GetBool("order_zyx"),
		DumpEvery:             v.GetInt("dump_every"),
		DumpGridEvery:         v.GetInt("dump_grid_every"),
		SuppressPMEInterleave: v.GetBool("suppress_pme_interleave"),
		PBC:                   v.GetString("pbc"),
		NsType:                v.GetString("ns_type"),
		ConstraintAlg:         v.GetString("constraint_alg"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var err error
	if s := v.GetString("loadx"); s != "" {
		if cfg.LoadX, err = parseStaticLoad(0, s, nc[0]); err != nil {
			return nil, err
		}
	}
	if s := v.GetString("loady"); s != "" {
		if cfg.LoadY, err = parseStaticLoad(1, s, nc[1]); err != nil {
			return nil, err
		}
	}
	if s := v.GetString("loadz"); s != "" {
		if cfg.LoadZ, err = parseStaticLoad(2, s, nc[2]); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// parseStaticLoad tokenizes a whitespace-separated list of positive
// reals, one per cell in dimension dim. Any token count other than
// want is rejected rather than silently truncated or zero-padded.
func parseStaticLoad(dim int, s string, want int) ([]float64, error) {
	fields := strings.Fields(s)
	if len(fields) != want {
		return nil, &StaticLoadParseError{Dim: dim, Value: s, Want: want}
	}
	out := make([]float64, want)
	for i, tok := range fields {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil || f <= 0 {
			return nil, &StaticLoadParseError{Dim: dim, Value: s, Want: want}
		}
		out[i] = f
	}
	return out, nil
}
