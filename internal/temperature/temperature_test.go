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

package temperature

import (
	"errors"
	"testing"
	"time"

	"github.com/TheCacophonyProject/battery-heater/i2crequest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addCRC(data []byte) []byte {
	crc := calculateCRC(data)
	return append(data, crc)
}

// 25C with the calibrated bit set and the busy bit clear.
var reading25C = []byte{0x18, 0x00, 0x00, 0x06, 0x00, 0x00}

func TestAHT20GoodReading(t *testing.T) {
	defer i2crequest.StopMocking()
	i2crequest.MockTxResponses([]i2crequest.TxResponse{
		{Response: []byte{}},           // trigger
		{Response: addCRC(reading25C)}, // read
		{Response: []byte{}},           // trigger next
	})
	a := NewAHT20()

	_, err := a.ReadTemperature()
	assert.Equal(t, ErrNotReady, err)

	temp, err := a.ReadTemperature()
	require.NoError(t, err)
	assert.Equal(t, float32(25), temp)
}

func TestAHT20Busy(t *testing.T) {
	defer i2crequest.StopMocking()
	i2crequest.MockTxResponses([]i2crequest.TxResponse{
		{Response: []byte{}},
		{Response: addCRC([]byte{0x98, 0x00, 0x00, 0x06, 0x00, 0x00})},
	})
	a := NewAHT20()
	a.ReadTemperature()
	_, err := a.ReadTemperature()
	assert.Equal(t, ErrNotReady, err)
}

func TestAHT20BadCRC(t *testing.T) {
	defer i2crequest.StopMocking()
	i2crequest.MockTxResponses([]i2crequest.TxResponse{
		{Response: []byte{}},
		{Response: append(append([]byte{}, reading25C...), 0x01)},
		{Response: []byte{}},
	})
	a := NewAHT20()
	a.ReadTemperature()
	_, err := a.ReadTemperature()
	assert.Equal(t, ErrBadCRC, err)
}

func TestAHT20NoCRC(t *testing.T) {
	defer i2crequest.StopMocking()
	noCRC := append(append([]byte{}, reading25C...), 0xFF)
	i2crequest.MockTxResponses([]i2crequest.TxResponse{
		{Response: []byte{}},
		{Response: noCRC},
		{Response: []byte{}},
		{Response: noCRC},
		{Response: []byte{}},
	})
	a := NewAHT20()
	a.ReadTemperature()

	// The first reading without a CRC can't be trusted on its own.
	_, err := a.ReadTemperature()
	assert.Equal(t, ErrBadCRC, err)

	temp, err := a.ReadTemperature()
	require.NoError(t, err)
	assert.Equal(t, float32(25), temp)
}

func TestAHT20Error(t *testing.T) {
	defer i2crequest.StopMocking()
	expectedErr := errors.New("foo")
	i2crequest.MockTxResponses([]i2crequest.TxResponse{{Err: expectedErr}})
	_, err := NewAHT20().ReadTemperature()
	assert.Equal(t, expectedErr, err)
}

type fakeSensor struct {
	temps []float32
	errs  []error
	reads int
}

func (f *fakeSensor) ReadTemperature() (float32, error) {
	i := f.reads
	f.reads++
	if i < len(f.errs) && f.errs[i] != nil {
		return 0, f.errs[i]
	}
	if i < len(f.temps) {
		return f.temps[i], nil
	}
	return f.temps[len(f.temps)-1], nil
}

func TestSamplerRateLimit(t *testing.T) {
	sensor := &fakeSensor{temps: []float32{21, 22}}
	s := NewSampler(sensor, time.Second)
	now := time.Now()

	temp, ok := s.Sample(now)
	assert.True(t, ok)
	assert.Equal(t, float32(21), temp)

	temp, ok = s.Sample(now.Add(500 * time.Millisecond))
	assert.False(t, ok)
	assert.Equal(t, float32(21), temp)
	assert.Equal(t, 1, sensor.reads)

	temp, ok = s.Sample(now.Add(time.Second))
	assert.True(t, ok)
	assert.Equal(t, float32(22), temp)
}

func TestSamplerSentinel(t *testing.T) {
	sensor := &fakeSensor{
		temps: []float32{0, 0, 30},
		errs:  []error{ErrNotReady, errors.New("disconnected"), nil},
	}
	s := NewSampler(sensor, time.Second)
	now := time.Now()

	temp, ok := s.Sample(now)
	assert.False(t, ok)
	assert.True(t, IsSentinel(temp))

	temp, ok = s.Sample(now.Add(time.Second))
	assert.True(t, ok)
	assert.Equal(t, Sentinel, temp)

	temp, _ = s.Sample(now.Add(2 * time.Second))
	assert.Equal(t, float32(30), temp)
	assert.False(t, IsSentinel(temp))
}

func TestParseW1(t *testing.T) {
	temp, err := parseW1("72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=23125\n")
	require.NoError(t, err)
	assert.InDelta(t, 23.125, temp, 0.0001)

	temp, err = parseW1("50 ff 4b 46 7f ff 0e 10 57 : crc=57 YES\n50 ff 4b 46 7f ff 0e 10 57 t=-2500\n")
	require.NoError(t, err)
	assert.InDelta(t, -2.5, temp, 0.0001)

	_, err = parseW1("72 01 4b 46 7f ff 0e 10 57 : crc=00 NO\n72 01 4b 46 7f ff 0e 10 57 t=23125\n")
	assert.Equal(t, errW1CRC, err)

	_, err = parseW1("50 05 4b 46 7f ff 0c 10 1c : crc=1c YES\n50 05 4b 46 7f ff 0c 10 1c t=85000\n")
	assert.Equal(t, ErrNotReady, err)
}
