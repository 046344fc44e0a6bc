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
	"fmt"
)

// SafetySetpoint is the heater target while the temperature is too high
// or unknown.
const SafetySetpoint float32 = 2

// tuningErrorMargin is how far over the boost target the pack can get
// before the current tuning is flagged as bad.
const tuningErrorMargin = 5

// Flags are the one-shot user overrides.
type Flags struct {
	VoltageBoost     bool
	TemperatureBoost bool
}

// Actions are the outputs of one policy decision.
type Actions struct {
	ChargerOn bool
	Setpoint  float32
	// HoldSetpoint means Setpoint is not meaningful and the previous
	// setpoint stays.
	HoldSetpoint      bool
	ClearVoltageBoost bool
	ClearTempBoost    bool
	TuningError       bool
	Err               error
}

type heaterRule struct {
	allowCharging bool
	// useTargets picks the eco or boost target from the temperature boost
	// flag, otherwise the setpoint is fixed or held.
	useTargets     bool
	fixed          float32
	hold           bool
	clearTempBoost bool
}

var heaterRules = map[TemperatureRegime]heaterRule{
	TempSubzero:    {hold: true},
	TempCold:       {allowCharging: true, useTargets: true},
	TempEco:        {allowCharging: true, useTargets: true},
	TempEcoReady:   {allowCharging: true, useTargets: true},
	TempBoost:      {allowCharging: true, useTargets: true},
	TempBoostReady: {allowCharging: true, useTargets: true, clearTempBoost: true},
	TempWarning:    {fixed: SafetySetpoint},
	TempUnknown:    {fixed: SafetySetpoint},
}

// Decide maps the two regimes and the boost flags to charger and heater
// commands. It is a pure function of its arguments.
func Decide(vr VoltageRegime, tr TemperatureRegime, flags Flags, temp float32, cfg Config) Actions {
	rule, ok := heaterRules[tr]
	if !ok {
		return Actions{
			HoldSetpoint: true,
			Err:          fmt.Errorf("unknown temperature regime %d", tr),
		}
	}

	var a Actions
	switch {
	case rule.hold:
		a.HoldSetpoint = true
	case rule.useTargets && flags.TemperatureBoost:
		a.Setpoint = float32(cfg.BoostTemp)
	case rule.useTargets:
		a.Setpoint = float32(cfg.EcoTemp)
	default:
		a.Setpoint = rule.fixed
	}
	a.ClearTempBoost = rule.clearTempBoost && flags.TemperatureBoost
	if tr == TempWarning && temp-float32(cfg.BoostTemp) > tuningErrorMargin {
		a.TuningError = true
	}

	switch vr {
	case VoltageAlert, VoltageWarning, VoltageLow, VoltageEco:
		a.ChargerOn = true
	case VoltageBoost:
		a.ChargerOn = flags.VoltageBoost
	case VoltageFull:
		a.ChargerOn = false
		a.ClearVoltageBoost = flags.VoltageBoost
	default:
		a.ChargerOn = false
		a.Err = fmt.Errorf("unknown voltage regime %d", vr)
	}
	if !rule.allowCharging {
		a.ChargerOn = false
	}
	return a
}
