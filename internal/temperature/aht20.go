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
	"fmt"

	"github.com/TheCacophonyProject/battery-heater/i2crequest"
	"github.com/chewxy/math32"
	"github.com/sigurn/crc8"
)

const (
	AHT20Address     = 0x38
	AHT20_BUSY       = 1 << 7
	AHT20_CALIBRATED = 1 << 3
	AHT20_STATUS_REG = 0x71
	i2cTimeoutMs     = 100
)

// ErrBadCRC is returned when a reading fails its checksum.
var ErrBadCRC = errors.New("bad crc")

var crcTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31, // Polynomial 1 + x^4 + x^5 + x^8
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
})

func calculateCRC(data []byte) byte {
	return crc8.Checksum(data, crcTable)
}

// AHT20 reads the pack temperature from an AHT20 through the i2c service.
// Each read collects the measurement triggered by the previous read, so a
// read never waits on the sensor.
type AHT20 struct {
	triggered bool
	// Some sensors don't have a working CRC, those readings are only trusted
	// when two in a row agree.
	lastNoCRCTemp *float32
}

func NewAHT20() *AHT20 {
	return &AHT20{}
}

// CheckCalibration only needs to be done once at startup.
func (a *AHT20) CheckCalibration() error {
	rawData, err := i2crequest.Tx(AHT20Address, []byte{AHT20_STATUS_REG}, 7, i2cTimeoutMs)
	if err != nil {
		return err
	}
	if len(rawData) > 0 && rawData[0]&AHT20_CALIBRATED == AHT20_CALIBRATED {
		return nil
	}

	log.Debug("Device is not calibrated. Triggering a manual calibration.")
	_, err = i2crequest.Tx(AHT20Address, []byte{0xBE, 0x08, 0x00}, 0, i2cTimeoutMs)
	return err
}

func (a *AHT20) trigger() error {
	_, err := i2crequest.Tx(AHT20Address, []byte{0xAC, 0x33, 0x00}, 0, i2cTimeoutMs)
	a.triggered = err == nil
	return err
}

func (a *AHT20) ReadTemperature() (float32, error) {
	if !a.triggered {
		if err := a.trigger(); err != nil {
			return 0, err
		}
		return 0, ErrNotReady
	}

	rawData, err := i2crequest.Tx(AHT20Address, []byte{AHT20_STATUS_REG}, 7, i2cTimeoutMs)
	if err != nil {
		a.triggered = false
		return 0, err
	}
	if len(rawData) != 7 {
		a.triggered = false
		return 0, fmt.Errorf("reading length: %d", len(rawData))
	}
	if rawData[0]&AHT20_BUSY != 0 {
		log.Debug("Temperature reading is not yet ready")
		return 0, ErrNotReady
	}

	temperatureRaw := uint32(rawData[3]&0x0F)<<16 | uint32(rawData[4])<<8 | uint32(rawData[5])
	temp := float32(temperatureRaw)/float32(1<<20)*200 - 50

	if err := a.trigger(); err != nil {
		log.Debug("Failed to trigger next reading: ", err)
	}

	crc := calculateCRC(rawData[:6])
	if rawData[6] == crc {
		a.lastNoCRCTemp = nil
		return temp, nil
	}
	if rawData[6] != 0xFF {
		log.Errorf("CRC failed got 0X%X, temp: %.2f", rawData[6], temp)
		return temp, ErrBadCRC
	}

	previous := a.lastNoCRCTemp
	a.lastNoCRCTemp = &temp
	if previous == nil || math32.Abs(temp-*previous) > 1 {
		log.Debug("No CRC, waiting for a matching reading")
		return temp, ErrBadCRC
	}
	return temp, nil
}
