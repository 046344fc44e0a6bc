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

package voltage

import (
	"errors"
	"sort"
)

// Point maps a raw ADC code to the millivolts measured at the ADC pin.
type Point struct {
	Raw        float32 `yaml:"raw"`
	MilliVolts float32 `yaml:"mv"`
}

// Curve is a factory calibration curve, linear between points and
// extrapolated from the end segments.
type Curve []Point

// DefaultCurve is the ATtiny 10 bit ADC against its 3.3V reference.
var DefaultCurve = Curve{
	{Raw: 0, MilliVolts: 0},
	{Raw: 1023, MilliVolts: 3300},
}

func (c Curve) Validate() error {
	if len(c) < 2 {
		return errors.New("calibration curve needs at least two points")
	}
	for i := 1; i < len(c); i++ {
		if c[i].Raw <= c[i-1].Raw {
			return errors.New("calibration curve raw values must be increasing")
		}
	}
	return nil
}

// MilliVolts converts a (possibly averaged) raw code.
func (c Curve) MilliVolts(raw float32) float32 {
	i := sort.Search(len(c), func(i int) bool { return c[i].Raw >= raw })
	switch {
	case i == 0:
		i = 1
	case i >= len(c):
		i = len(c) - 1
	}
	a, b := c[i-1], c[i]
	return a.MilliVolts + (raw-a.Raw)*(b.MilliVolts-a.MilliVolts)/(b.Raw-a.Raw)
}
