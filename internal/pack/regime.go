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

	"github.com/TheCacophonyProject/battery-heater/internal/temperature"
)

// VoltageRegime buckets the state of charge. Values are ordered from the
// most depleted to full.
type VoltageRegime int

const (
	VoltageAlert VoltageRegime = iota
	VoltageWarning
	VoltageLow
	VoltageEco
	VoltageBoost
	VoltageFull
)

func (v VoltageRegime) String() string {
	switch v {
	case VoltageAlert:
		return "ALERT"
	case VoltageWarning:
		return "WARNING"
	case VoltageLow:
		return "LOVV"
	case VoltageEco:
		return "ECO"
	case VoltageBoost:
		return "BOOST"
	case VoltageFull:
		return "FULL"
	}
	return "UNKNOWN"
}

type TemperatureRegime int

const (
	TempUnknown TemperatureRegime = iota
	TempSubzero
	TempCold
	TempEco
	TempEcoReady
	TempBoost
	TempBoostReady
	TempWarning
)

func (t TemperatureRegime) String() string {
	switch t {
	case TempUnknown:
		return "UNKNOWN_TEMP"
	case TempSubzero:
		return "SUBZERO"
	case TempCold:
		return "COLD"
	case TempEco:
		return "ECO_TEMP"
	case TempEcoReady:
		return "ECO_READY"
	case TempBoost:
		return "BOOST_TEMP"
	case TempBoostReady:
		return "BOOST_READY"
	case TempWarning:
		return "TEMP_WARNING"
	}
	return "INVALID"
}

// ClassifyVoltage maps a state of charge to its regime. Every percent maps
// to exactly one regime, anything at or above the boost threshold is full.
func ClassifyVoltage(percent, eco, boost int) VoltageRegime {
	switch {
	case percent < 20:
		return VoltageAlert
	case percent < 30:
		return VoltageWarning
	case percent < 50:
		return VoltageLow
	case percent < eco:
		return VoltageEco
	case percent < boost:
		return VoltageBoost
	default:
		return VoltageFull
	}
}

const WarningTemp = 40

// ClassifyTemperature maps a pack temperature to its regime. The sensor
// failure value is TempUnknown.
func ClassifyTemperature(t float32, eco, boost int) TemperatureRegime {
	if temperature.IsSentinel(t) {
		return TempUnknown
	}
	te, tb := float32(eco), float32(boost)
	switch {
	case t < 0:
		return TempSubzero
	case t < 10:
		return TempCold
	case t <= te:
		return TempEco
	case t <= te+1:
		return TempEcoReady
	case t <= tb:
		return TempBoost
	case t < WarningTemp:
		return TempBoostReady
	default:
		return TempWarning
	}
}

func (v VoltageRegime) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *VoltageRegime) UnmarshalText(text []byte) error {
	for r := VoltageAlert; r <= VoltageFull; r++ {
		if r.String() == string(text) {
			*v = r
			return nil
		}
	}
	return fmt.Errorf("unknown voltage regime %q", text)
}

func (t TemperatureRegime) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TemperatureRegime) UnmarshalText(text []byte) error {
	for r := TempUnknown; r <= TempWarning; r++ {
		if r.String() == string(text) {
			*t = r
			return nil
		}
	}
	return fmt.Errorf("unknown temperature regime %q", text)
}
