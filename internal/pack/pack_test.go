/*
battery-heater - Controls charging and heating of a battery pack.
Copyright (C) 2025, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package pack

import (
	"testing"

	"github.com/TheCacophonyProject/battery-heater/internal/temperature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoltageRegimeContiguous(t *testing.T) {
	for eco := 50; eco < 100; eco++ {
		for boost := eco + 1; boost <= 100; boost++ {
			prev := VoltageAlert
			for p := 0; p <= 100; p++ {
				r := ClassifyVoltage(p, eco, boost)
				require.GreaterOrEqual(t, int(r), int(prev), "eco %d boost %d percent %d", eco, boost, p)
				require.NotEqual(t, "UNKNOWN", r.String())
				prev = r
			}
			require.Equal(t, VoltageFull, ClassifyVoltage(boost, eco, boost))
			require.Equal(t, VoltageBoost, ClassifyVoltage(boost-1, eco, boost))
		}
	}
}

func TestClassifyVoltage(t *testing.T) {
	cases := []struct {
		percent  int
		expected VoltageRegime
	}{
		{0, VoltageAlert},
		{19, VoltageAlert},
		{20, VoltageWarning},
		{29, VoltageWarning},
		{30, VoltageLow},
		{49, VoltageLow},
		{50, VoltageEco},
		{59, VoltageEco},
		{60, VoltageBoost},
		{84, VoltageBoost},
		{85, VoltageFull},
		{100, VoltageFull},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, ClassifyVoltage(c.percent, 60, 85), "percent %d", c.percent)
	}
}

func TestClassifyTemperature(t *testing.T) {
	cases := []struct {
		temp     float32
		expected TemperatureRegime
	}{
		{-0.5, TempSubzero},
		{0, TempCold},
		{9.9, TempCold},
		{10, TempEco},
		{20, TempEco},
		{20.5, TempEcoReady},
		{21, TempEcoReady},
		{21.1, TempBoost},
		{30, TempBoost},
		{30.1, TempBoostReady},
		{39.9, TempBoostReady},
		{40, TempWarning},
		{temperature.Sentinel, TempUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, ClassifyTemperature(c.temp, 20, 30), "temp %.1f", c.temp)
	}
}

func TestChargerNeverOnWhenUnsafe(t *testing.T) {
	cfg := DefaultConfig()
	for _, tr := range []TemperatureRegime{TempSubzero, TempWarning, TempUnknown} {
		for vr := VoltageAlert; vr <= VoltageFull; vr++ {
			for _, flags := range []Flags{{}, {VoltageBoost: true}, {TemperatureBoost: true}, {true, true}} {
				a := Decide(vr, tr, flags, 45, cfg)
				assert.False(t, a.ChargerOn, "%s %s %+v", vr, tr, flags)
			}
		}
	}
}

func TestExampleScenario(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.SetCellCount(10))
	require.NoError(t, cfg.SetChargePercents(60, 85))
	require.NoError(t, cfg.SetTemperatures(20, 30))

	vr := ClassifyVoltage(65, cfg.EcoPercent, cfg.BoostPercent)
	tr := ClassifyTemperature(22, cfg.EcoTemp, cfg.BoostTemp)
	// 22 is over the eco ready band of 20-21.
	assert.Equal(t, VoltageBoost, vr)
	assert.Equal(t, TempBoost, tr)
	assert.Equal(t, float32(20), Decide(vr, tr, Flags{}, 22, cfg).Setpoint)

	tr = ClassifyTemperature(20, cfg.EcoTemp, cfg.BoostTemp)
	assert.Equal(t, TempEco, tr)

	a := Decide(vr, tr, Flags{}, 20, cfg)
	assert.False(t, a.ChargerOn)
	assert.Equal(t, float32(20), a.Setpoint)
	assert.False(t, a.HoldSetpoint)

	a = Decide(vr, tr, Flags{VoltageBoost: true}, 20, cfg)
	assert.True(t, a.ChargerOn)
	assert.Equal(t, float32(20), a.Setpoint)
}

func TestDecideSetpoints(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.SetTemperatures(20, 30))

	for _, tr := range []TemperatureRegime{TempCold, TempEco, TempEcoReady, TempBoost, TempBoostReady} {
		a := Decide(VoltageEco, tr, Flags{}, 15, cfg)
		assert.Equal(t, float32(20), a.Setpoint, tr.String())
		assert.True(t, a.ChargerOn)

		a = Decide(VoltageEco, tr, Flags{TemperatureBoost: true}, 15, cfg)
		assert.Equal(t, float32(30), a.Setpoint, tr.String())
		assert.Equal(t, tr == TempBoostReady, a.ClearTempBoost, tr.String())
	}

	a := Decide(VoltageEco, TempSubzero, Flags{}, -5, cfg)
	assert.True(t, a.HoldSetpoint)
	assert.False(t, a.ChargerOn)

	a = Decide(VoltageEco, TempUnknown, Flags{}, temperature.Sentinel, cfg)
	assert.Equal(t, SafetySetpoint, a.Setpoint)
	assert.False(t, a.TuningError)

	a = Decide(VoltageEco, TempWarning, Flags{}, 35.5, cfg)
	assert.Equal(t, SafetySetpoint, a.Setpoint)
	assert.True(t, a.TuningError)

	a = Decide(VoltageEco, TempWarning, Flags{}, 35, cfg)
	assert.False(t, a.TuningError)
}

func TestDecideVoltageBoost(t *testing.T) {
	cfg := DefaultConfig()

	a := Decide(VoltageFull, TempEco, Flags{VoltageBoost: true}, 15, cfg)
	assert.False(t, a.ChargerOn)
	assert.True(t, a.ClearVoltageBoost)

	a = Decide(VoltageFull, TempEco, Flags{}, 15, cfg)
	assert.False(t, a.ClearVoltageBoost)

	for _, vr := range []VoltageRegime{VoltageAlert, VoltageWarning, VoltageLow, VoltageEco} {
		assert.True(t, Decide(vr, TempEco, Flags{}, 15, cfg).ChargerOn, vr.String())
	}
}

func TestDecideUnknownRegime(t *testing.T) {
	cfg := DefaultConfig()
	a := Decide(VoltageRegime(42), TempEco, Flags{}, 15, cfg)
	assert.False(t, a.ChargerOn)
	assert.Error(t, a.Err)

	a = Decide(VoltageEco, TemperatureRegime(42), Flags{}, 15, cfg)
	assert.False(t, a.ChargerOn)
	assert.Error(t, a.Err)
}

func TestSettersKeepPreviousValue(t *testing.T) {
	cfg := DefaultConfig()
	before := cfg

	assert.ErrorIs(t, cfg.SetCellCount(6), ErrConfigRejected)
	assert.ErrorIs(t, cfg.SetCellCount(22), ErrConfigRejected)
	assert.ErrorIs(t, cfg.SetChargePercents(80, 70), ErrConfigRejected)
	assert.ErrorIs(t, cfg.SetChargePercents(70, 70), ErrConfigRejected)
	assert.ErrorIs(t, cfg.SetChargePercents(40, 70), ErrConfigRejected)
	assert.ErrorIs(t, cfg.SetTemperatures(20, 41), ErrConfigRejected)
	assert.ErrorIs(t, cfg.SetTemperatures(25, 25), ErrConfigRejected)
	assert.ErrorIs(t, cfg.SetHeaterResistance(10), ErrConfigRejected)
	assert.ErrorIs(t, cfg.SetHeaterResistance(255), ErrConfigRejected)
	assert.ErrorIs(t, cfg.SetChargerCurrent(0), ErrConfigRejected)
	assert.ErrorIs(t, cfg.SetCapacity(250), ErrConfigRejected)
	assert.ErrorIs(t, cfg.SetMaxHeaterPower(0.5), ErrConfigRejected)
	assert.Equal(t, before, cfg)

	require.NoError(t, cfg.SetCellCount(21))
	require.NoError(t, cfg.SetChargePercents(50, 100))
	require.NoError(t, cfg.SetTemperatures(5, 10))
	require.NoError(t, cfg.SetHeaterResistance(254))
	require.NoError(t, cfg.SetChargerCurrent(10))
	require.NoError(t, cfg.SetCapacity(249))
	require.NoError(t, cfg.SetMaxHeaterPower(500))
	assert.NoError(t, cfg.Validate())
}

func TestReady(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.SetCellCount(14))
	require.NoError(t, cfg.SetHeaterResistance(100))

	assert.True(t, cfg.Ready(14))
	assert.True(t, cfg.Ready(12))
	assert.True(t, cfg.Ready(16))
	assert.False(t, cfg.Ready(11))
	assert.False(t, cfg.Ready(17))
	assert.False(t, cfg.Ready(0))

	require.NoError(t, cfg.SetHeaterResistance(20))
	assert.False(t, cfg.Ready(14))

	require.NoError(t, cfg.SetHeaterResistance(100))
	require.NoError(t, cfg.SetCellCount(21))
	assert.False(t, cfg.Ready(21))
}

func TestHeaterDutyLimit(t *testing.T) {
	// 51.8V across 10 ohms is 268W, 40W of that is 38/255.
	assert.Equal(t, uint8(38), HeaterDutyLimit(14, 100, 40))
	assert.Equal(t, uint8(255), HeaterDutyLimit(14, 100, 500))
	assert.Equal(t, uint8(MinHeaterDuty), HeaterDutyLimit(7, 254, 1))
	assert.Equal(t, uint8(MinHeaterDuty), HeaterDutyLimit(0, 100, 40))
}

func TestRegimeText(t *testing.T) {
	for vr := VoltageAlert; vr <= VoltageFull; vr++ {
		text, err := vr.MarshalText()
		require.NoError(t, err)
		var back VoltageRegime
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, vr, back)
	}
	var tr TemperatureRegime
	require.NoError(t, tr.UnmarshalText([]byte("ECO_READY")))
	assert.Equal(t, TempEcoReady, tr)
	assert.Error(t, tr.UnmarshalText([]byte("WARM")))
}

func TestStateAdvance(t *testing.T) {
	var s State
	s.Advance(VoltageEco, TempCold)
	s.Advance(VoltageBoost, TempEco)
	assert.Equal(t, VoltageEco, s.PreviousVoltage)
	assert.Equal(t, TempCold, s.PreviousTemp)
	assert.Equal(t, VoltageBoost, s.Voltage)
	assert.Equal(t, TempEco, s.Temp)
}
