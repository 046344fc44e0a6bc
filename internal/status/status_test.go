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

package status

import (
	"testing"

	"github.com/TheCacophonyProject/battery-heater/internal/pack"
	"github.com/TheCacophonyProject/battery-heater/internal/service"
	"github.com/TheCacophonyProject/battery-heater/internal/temperature"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
)

func value(data pterm.TableData, field string) (string, bool) {
	for _, row := range data[1:] {
		if row[0] == field {
			return row[1], true
		}
	}
	return "", false
}

func TestTableData(t *testing.T) {
	s := service.Status{
		State: pack.State{
			MilliVolts:      37800,
			Percent:         65,
			EstimatedCells:  10,
			Voltage:         pack.VoltageEco,
			Temperature:     18.3,
			Temp:            pack.TempEco,
			ChargerOn:       true,
			Ready:           true,
			HeaterSetpoint:  20,
			HeaterOutput:    40,
			HeaterDutyLimit: 75,
			HeatingEnabled:  true,
		},
		Config: pack.DefaultConfig(),
	}
	data := tableData(s)
	assert.Equal(t, []string{"Field", "Value"}, data[0])

	v, _ := value(data, "Pack voltage")
	assert.Equal(t, "37.80 V (65%)", v)
	v, _ = value(data, "Temperature")
	assert.Equal(t, "18.3 °C", v)
	v, _ = value(data, "Voltage regime")
	assert.Equal(t, "ECO", v)
	v, _ = value(data, "Heater")
	assert.Equal(t, "enabled", v)
	v, _ = value(data, "Heater duty")
	assert.Equal(t, "40/75", v)
	_, ok := value(data, "Tuning error")
	assert.False(t, ok)
}

func TestTableDataFaults(t *testing.T) {
	s := service.Status{
		State: pack.State{
			Temperature: temperature.Sentinel,
			Tuning:      true,
			TuneAttempt: 1,
			TuneSample:  12,
			TuningError: true,
			LastFault:   "pack voltage out of range",
		},
		Config: pack.DefaultConfig(),
	}
	data := tableData(s)

	v, _ := value(data, "Temperature")
	assert.Equal(t, "unknown", v)
	v, _ = value(data, "Heater")
	assert.Equal(t, "tuning, attempt 2 sample 12", v)
	v, ok := value(data, "Last fault")
	assert.True(t, ok)
	assert.Equal(t, "pack voltage out of range", v)
	_, ok = value(data, "Tuning error")
	assert.True(t, ok)
}

func TestShowRejectsBadJSON(t *testing.T) {
	assert.Error(t, show("{", false))
}
