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

package hardware

import (
	"testing"
	"time"

	"github.com/TheCacophonyProject/battery-heater/i2crequest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withCRC(data ...byte) []byte {
	crc := i2crequest.CalculateCRC(data)
	return append(data, byte(crc>>8), byte(crc&0xFF))
}

func TestAttinyReadRaw(t *testing.T) {
	sleepFn = func(time.Duration) {}
	defer i2crequest.StopMocking()
	i2crequest.MockTxResponses([]i2crequest.TxResponse{
		{Response: []byte{}},      // start conversion
		{Response: withCRC(0x80)}, // still converting
		{Response: withCRC(0x03)}, // high byte
		{Response: withCRC(0xFF)}, // low byte
	})

	raw, err := NewAttinyADC().ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x03FF), raw)
}

func TestAttinyConversionTimeout(t *testing.T) {
	sleepFn = func(time.Duration) {}
	defer i2crequest.StopMocking()
	responses := []i2crequest.TxResponse{{Response: []byte{}}}
	for i := 0; i < conversionPolls; i++ {
		responses = append(responses, i2crequest.TxResponse{Response: withCRC(0x80)})
	}
	i2crequest.MockTxResponses(responses)

	_, err := NewAttinyADC().ReadRaw()
	assert.Error(t, err)
}

func TestMockADC(t *testing.T) {
	adc := &MockADC{}
	_, err := adc.ReadRaw()
	assert.Equal(t, ErrNoMockReading, err)

	adc.Queue(10, 20)
	v, _ := adc.ReadRaw()
	assert.Equal(t, uint16(10), v)
	v, _ = adc.ReadRaw()
	assert.Equal(t, uint16(20), v)
	v, _ = adc.ReadRaw()
	assert.Equal(t, uint16(20), v)
	assert.Equal(t, 4, adc.Reads)
}

func TestIndicators(t *testing.T) {
	charging, fault := &MockOutput{}, &MockOutput{}
	ind := &Indicators{Charging: charging, Fault: fault}
	ind.Show(true, false)
	ind.Show(true, false)
	ind.Show(false, true)
	assert.Equal(t, []bool{true, false}, charging.History)
	assert.Equal(t, []bool{true}, fault.History)
}
