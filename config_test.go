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
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	require.NoError(t, BindEnv(v))
	v.Set("nc.x", 2)
	v.Set("nc.y", 1)
	v.Set("nc.z", 1)
	return v
}

func TestNewConfigDefaults(t *testing.T) {
	v := newTestViper(t)
	cfg, err := NewConfig(v)
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 1, 1}, cfg.NC)
	assert.False(t, cfg.DynLoadBal)
	assert.Equal(t, []int{0, 1, 2}, cfg.DimOrder())
	assert.Equal(t, 1, cfg.NDim())
}

func TestNewConfigOrderZYX(t *testing.T) {
	v := newTestViper(t)
	v.Set("order_zyx", true)
	cfg, err := NewConfig(v)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 0}, cfg.DimOrder())
}

func TestNewConfigRejectsAllOnesGrid(t *testing.T) {
	v := viper.New()
	require.NoError(t, BindEnv(v))
	v.Set("nc.x", 1)
	v.Set("nc.y", 1)
	v.Set("nc.z", 1)
	_, err := NewConfig(v)
	assert.Error(t, err)
}

func TestNewConfigRejectsNPMEExceedingGrid(t *testing.T) {
	v := newTestViper(t)
	v.Set("npmenodes", 10)
	_, err := NewConfig(v)
	require.Error(t, err)
	var gm *GridMismatchError
	assert.ErrorAs(t, err, &gm)
}

func TestNewConfigParsesStaticLoad(t *testing.T) {
	v := newTestViper(t)
	v.Set("loadx", "0.4 0.6")
	cfg, err := NewConfig(v)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 0.6}, cfg.LoadX)
}

func TestNewConfigRejectsWrongStaticLoadCount(t *testing.T) {
	v := newTestViper(t)
	v.Set("loadx", "0.4 0.3 0.3")
	_, err := NewConfig(v)
	require.Error(t, err)
	var sl *StaticLoadParseError
	assert.ErrorAs(t, err, &sl)
}

func TestNewConfigRejectsNonPositiveStaticLoad(t *testing.T) {
	v := newTestViper(t)
	v.Set("loadx", "0.4 -0.1")
	_, err := NewConfig(v)
	assert.Error(t, err)
}

func TestNewConfigRejectsNoPBC(t *testing.T) {
	v := newTestViper(t)
	v.Set("pbc", "none")
	_, err := NewConfig(v)
	require.Error(t, err)
	var pe *UnsupportedPBCError
	assert.ErrorAs(t, err, &pe)
}

func TestNewConfigRejectsSimpleNsType(t *testing.T) {
	v := newTestViper(t)
	v.Set("ns_type", "simple")
	_, err := NewConfig(v)
	require.Error(t, err)
	var ne *UnsupportedNsTypeError
	assert.ErrorAs(t, err, &ne)
}

func TestNewConfigRejectsShakeConstraints(t *testing.T) {
	v := newTestViper(t)
	v.Set("constraint_alg", "shake")
	_, err := NewConfig(v)
	require.Error(t, err)
	var ce *UnsupportedConstraintAlgError
	assert.ErrorAs(t, err, &ce)
}

func TestNewConfigAcceptsSupportedParameters(t *testing.T) {
	v := newTestViper(t)
	v.Set("pbc", "xyz")
	v.Set("ns_type", "grid")
	v.Set("constraint_alg", "lincs")
	_, err := NewConfig(v)
	require.NoError(t, err)
}
