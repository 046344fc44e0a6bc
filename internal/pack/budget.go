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
	"github.com/chewxy/math32"
)

const (
	NominalCellVolts = 3.7
	MinHeaterDuty    = 20
	MaxHeaterDuty    = 255
)

// HeaterDutyLimit is the highest 8 bit PWM duty that keeps the heater under
// maxPower at nominal pack voltage. resistance is in tenths of an ohm.
func HeaterDutyLimit(cells, resistance int, maxPower float32) uint8 {
	if cells <= 0 || resistance <= 0 {
		return MinHeaterDuty
	}
	fraction := math32.Min(1, maxPower/HeaterPower(cells, resistance))
	duty := math32.Round(fraction * MaxHeaterDuty)
	if duty < MinHeaterDuty {
		return MinHeaterDuty
	}
	if duty > MaxHeaterDuty {
		return MaxHeaterDuty
	}
	return uint8(duty)
}

// HeaterPower is the nominal heater power in watts at full duty.
func HeaterPower(cells, resistance int) float32 {
	if resistance <= 0 {
		return 0
	}
	volts := float32(cells) * NominalCellVolts
	return volts * volts / (float32(resistance) / 10)
}
