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
	"fmt"
	"time"

	"github.com/TheCacophonyProject/battery-heater/i2crequest"
)

type Register uint8

const (
	batteryHVDivVal1Reg Register = iota + 0x15
	batteryHVDivVal2Reg
)

const (
	attinyI2CAddress = 0x25
	i2cTimeoutMs     = 100
	conversionPolls  = 5
	startConversion  = 1 << 7
)

// AttinyADC reads the pack voltage divider through the ATtiny's 10 bit ADC.
type AttinyADC struct {
	// PollInterval is the wait between checks for a finished conversion.
	PollInterval time.Duration
}

func NewAttinyADC() *AttinyADC {
	return &AttinyADC{PollInterval: 2 * time.Millisecond}
}

func (a *AttinyADC) ReadRaw() (uint16, error) {
	// Setting the top bit starts a conversion, the ATtiny clears it when the value is ready.
	if err := writeRegister(batteryHVDivVal1Reg, startConversion); err != nil {
		return 0, err
	}
	for i := 0; i < conversionPolls; i++ {
		sleepFn(a.PollInterval)
		val1, err := readRegister(batteryHVDivVal1Reg)
		if err != nil {
			return 0, err
		}
		if val1&startConversion != 0 {
			continue
		}
		val2, err := readRegister(batteryHVDivVal2Reg)
		if err != nil {
			return 0, err
		}
		return uint16(val1)<<8 | uint16(val2), nil
	}
	return 0, fmt.Errorf("conversion not finished after %d polls of register 0x%X", conversionPolls, batteryHVDivVal1Reg)
}

func readRegister(reg Register) (uint8, error) {
	data, err := i2crequest.TxWithCRC(attinyI2CAddress, []byte{byte(reg)}, 1, i2cTimeoutMs)
	if err != nil {
		return 0, fmt.Errorf("error reading register 0x%X: %w", reg, err)
	}
	return data[0], nil
}

func writeRegister(reg Register, val uint8) error {
	if _, err := i2crequest.TxWithCRC(attinyI2CAddress, []byte{byte(reg), val}, 0, i2cTimeoutMs); err != nil {
		return fmt.Errorf("error writing 0x%X to register 0x%X: %w", val, reg, err)
	}
	return nil
}
