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
	"errors"
	"fmt"
)

// ErrConfigRejected is returned by setters when a value is out of bounds or
// breaks the eco < boost ordering. The previous value is kept.
var ErrConfigRejected = errors.New("config rejected")

// Config is the user set, persisted, description of the pack.
type Config struct {
	CellCount int `yaml:"cell-count"`
	// HeaterResistance is in tenths of an ohm.
	HeaterResistance int     `yaml:"heater-resistance"`
	EcoPercent       int     `yaml:"eco-percent"`
	BoostPercent     int     `yaml:"boost-percent"`
	EcoTemp          int     `yaml:"eco-temp"`
	BoostTemp        int     `yaml:"boost-temp"`
	MaxHeaterPower   float32 `yaml:"max-heater-power"`
	ChargerCurrent   int     `yaml:"charger-current"`
	Capacity         int     `yaml:"capacity"`
	VoltageBoost     bool    `yaml:"voltage-boost"`
	TemperatureBoost bool    `yaml:"temperature-boost"`

	Initialized bool `yaml:"initialized"`
	Tuned       bool `yaml:"tuned"`
	// TuneEnabled is a pending tuning request. It is cleared when the
	// session commits or gives up.
	TuneEnabled bool `yaml:"tune-enabled"`
}

func DefaultConfig() Config {
	return Config{
		CellCount:        14,
		HeaterResistance: 100,
		EcoPercent:       60,
		BoostPercent:     85,
		EcoTemp:          20,
		BoostTemp:        30,
		MaxHeaterPower:   40,
		ChargerCurrent:   2,
		Capacity:         20,
	}
}

// Validate checks the stored ranges, used when loading from disk.
func (c Config) Validate() error {
	if c.CellCount < 6 || c.CellCount > 21 {
		return rejected("cell count %d not in 6-21", c.CellCount)
	}
	if c.HeaterResistance < 11 || c.HeaterResistance > 255 {
		return rejected("heater resistance %d not in 11-255", c.HeaterResistance)
	}
	if err := checkPercents(c.EcoPercent, c.BoostPercent); err != nil {
		return err
	}
	if err := checkTemps(c.EcoTemp, c.BoostTemp); err != nil {
		return err
	}
	if c.MaxHeaterPower <= 0 || c.MaxHeaterPower > MaxHeaterPowerLimit {
		return rejected("max heater power %.1fW not in 0-%dW", c.MaxHeaterPower, MaxHeaterPowerLimit)
	}
	if c.ChargerCurrent < 1 || c.ChargerCurrent > 10 {
		return rejected("charger current %d not in 1-10", c.ChargerCurrent)
	}
	if c.Capacity < 1 || c.Capacity > 249 {
		return rejected("capacity %d not in 1-249", c.Capacity)
	}
	return nil
}

const MaxHeaterPowerLimit = 500

func rejected(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfigRejected, fmt.Sprintf(format, a...))
}

func checkPercents(eco, boost int) error {
	if eco < 50 || eco > 100 || boost < 50 || boost > 100 {
		return rejected("charge percents %d/%d not in 50-100", eco, boost)
	}
	if eco >= boost {
		return rejected("eco percent %d must be below boost percent %d", eco, boost)
	}
	return nil
}

func checkTemps(eco, boost int) error {
	if boost < 10 || boost > 40 {
		return rejected("boost temperature %d not in 10-40", boost)
	}
	if eco >= boost {
		return rejected("eco temperature %d must be below boost temperature %d", eco, boost)
	}
	return nil
}

func (c *Config) SetCellCount(cells int) error {
	if cells < 7 || cells > 21 {
		return rejected("cell count %d not in 7-21", cells)
	}
	c.CellCount = cells
	return nil
}

func (c *Config) SetChargePercents(eco, boost int) error {
	if err := checkPercents(eco, boost); err != nil {
		return err
	}
	c.EcoPercent, c.BoostPercent = eco, boost
	return nil
}

func (c *Config) SetTemperatures(eco, boost int) error {
	if err := checkTemps(eco, boost); err != nil {
		return err
	}
	c.EcoTemp, c.BoostTemp = eco, boost
	return nil
}

func (c *Config) SetHeaterResistance(deciOhms int) error {
	if deciOhms < 11 || deciOhms > 254 {
		return rejected("heater resistance %d not in 11-254", deciOhms)
	}
	c.HeaterResistance = deciOhms
	return nil
}

func (c *Config) SetChargerCurrent(amps int) error {
	if amps < 1 || amps > 10 {
		return rejected("charger current %d not in 1-10", amps)
	}
	c.ChargerCurrent = amps
	return nil
}

func (c *Config) SetCapacity(ampHours int) error {
	if ampHours < 1 || ampHours > 249 {
		return rejected("capacity %d not in 1-249", ampHours)
	}
	c.Capacity = ampHours
	return nil
}

func (c *Config) SetMaxHeaterPower(watts float32) error {
	if watts < 1 || watts > MaxHeaterPowerLimit {
		return rejected("max heater power %.1fW not in 1-%dW", watts, MaxHeaterPowerLimit)
	}
	c.MaxHeaterPower = watts
	return nil
}

// Ready is the init gate. Control only starts once the configuration is
// sane and agrees with the cell count seen on the pack.
func (c Config) Ready(estimatedCells int) bool {
	if c.CellCount <= 5 || c.CellCount >= 21 {
		return false
	}
	if c.HeaterResistance <= 20 || c.HeaterResistance >= 255 {
		return false
	}
	diff := estimatedCells - c.CellCount
	if diff < 0 {
		diff = -diff
	}
	return diff < 3
}
