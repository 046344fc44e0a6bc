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

// State is rebuilt every step and only reported, never persisted.
type State struct {
	Raw             uint16            `json:"raw"`
	Filtered        float32           `json:"filtered"`
	MilliVolts      uint32            `json:"milliVolts"`
	Percent         int               `json:"percent"`
	Temperature     float32           `json:"temperature"`
	EstimatedCells  int               `json:"estimatedCells"`
	ChargerOn       bool              `json:"chargerOn"`
	Voltage         VoltageRegime     `json:"voltageRegime"`
	Temp            TemperatureRegime `json:"temperatureRegime"`
	PreviousVoltage VoltageRegime     `json:"previousVoltageRegime"`
	PreviousTemp    TemperatureRegime `json:"previousTemperatureRegime"`
	Ready           bool              `json:"ready"`
	HeaterSetpoint  float32           `json:"heaterSetpoint"`
	HeaterOutput    uint8             `json:"heaterOutput"`
	HeaterDutyLimit uint8             `json:"heaterDutyLimit"`
	HeatingEnabled  bool              `json:"heatingEnabled"`
	Tuning          bool              `json:"tuning"`
	TuningError     bool              `json:"tuningError"`
	TuneAttempt     int               `json:"tuneAttempt"`
	TuneSample      int               `json:"tuneSample"`
	LastFault       string            `json:"lastFault,omitempty"`
}

// Advance records a new pair of regimes, keeping the current ones as the
// previous pair.
func (s *State) Advance(v VoltageRegime, t TemperatureRegime) {
	s.PreviousVoltage, s.PreviousTemp = s.Voltage, s.Temp
	s.Voltage, s.Temp = v, t
}
