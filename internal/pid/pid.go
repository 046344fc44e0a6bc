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

package pid

import (
	"errors"
	"time"
)

type Mode int

const (
	Manual Mode = iota
	Automatic
)

func (m Mode) String() string {
	if m == Automatic {
		return "automatic"
	}
	return "manual"
}

const DefaultSampleTime = time.Second

var ErrBadLimits = errors.New("output minimum must be below the maximum")

// Gains are the tunings in per second units.
type Gains struct {
	P float64 `yaml:"p" json:"p"`
	I float64 `yaml:"i" json:"i"`
	D float64 `yaml:"d" json:"d"`
}

// Controller is a positional PID with a fixed sample time. The integral
// term is clamped to the output limits. With proportional on measurement
// the proportional term acts on the change in input instead of the error,
// which avoids overshoot on setpoint steps.
type Controller struct {
	gains      Gains
	kp, ki, kd float64
	onMeasure  bool

	sampleTime time.Duration
	outMin     float64
	outMax     float64

	mode      Mode
	output    float64
	outputSum float64
	lastInput float64
	lastTime  time.Time
}

func New(gains Gains, sampleTime time.Duration, outMin, outMax float64) (*Controller, error) {
	c := &Controller{sampleTime: DefaultSampleTime}
	if err := c.SetOutputLimits(outMin, outMax); err != nil {
		return nil, err
	}
	c.SetSampleTime(sampleTime)
	c.SetTunings(gains, false)
	return c, nil
}

// SetTunings ignores negative gains.
func (c *Controller) SetTunings(gains Gains, onMeasurement bool) {
	if gains.P < 0 || gains.I < 0 || gains.D < 0 {
		return
	}
	c.gains = gains
	c.onMeasure = onMeasurement
	seconds := c.sampleTime.Seconds()
	c.kp = gains.P
	c.ki = gains.I * seconds
	c.kd = gains.D / seconds
}

func (c *Controller) Gains() Gains {
	return c.gains
}

func (c *Controller) ProportionalOnMeasurement() bool {
	return c.onMeasure
}

// SetSampleTime rescales the integral and derivative terms to the new
// interval. Non positive values are ignored.
func (c *Controller) SetSampleTime(d time.Duration) {
	if d <= 0 {
		return
	}
	ratio := d.Seconds() / c.sampleTime.Seconds()
	c.ki *= ratio
	c.kd /= ratio
	c.sampleTime = d
}

func (c *Controller) SampleTime() time.Duration {
	return c.sampleTime
}

func (c *Controller) SetOutputLimits(min, max float64) error {
	if min >= max {
		return ErrBadLimits
	}
	c.outMin, c.outMax = min, max
	if c.mode == Automatic {
		c.output = c.clamp(c.output)
		c.outputSum = c.clamp(c.outputSum)
	}
	return nil
}

func (c *Controller) OutputLimits() (float64, float64) {
	return c.outMin, c.outMax
}

// SetMode switches between manual and automatic. Going to automatic starts
// the integral from the current output so the transfer is bumpless.
func (c *Controller) SetMode(mode Mode) {
	if mode == Automatic && c.mode == Manual {
		c.outputSum = c.clamp(c.output)
		c.lastTime = time.Time{}
	}
	c.mode = mode
}

func (c *Controller) Mode() Mode {
	return c.mode
}

// SetOutput sets the output while in manual mode.
func (c *Controller) SetOutput(output float64) {
	if c.mode == Manual {
		c.output = output
	}
}

func (c *Controller) Output() float64 {
	return c.output
}

// Compute updates the output once per sample time. It returns false when
// no new output was calculated, either because the controller is in
// manual mode or the sample time has not passed.
func (c *Controller) Compute(now time.Time, input, setpoint float64) (float64, bool) {
	if c.mode == Manual {
		c.lastInput = input
		return c.output, false
	}
	if c.lastTime.IsZero() {
		c.lastInput = input
	} else if now.Sub(c.lastTime) < c.sampleTime {
		return c.output, false
	}

	err := setpoint - input
	dInput := input - c.lastInput

	c.outputSum += c.ki * err
	if c.onMeasure {
		c.outputSum -= c.kp * dInput
	}
	c.outputSum = c.clamp(c.outputSum)

	var output float64
	if !c.onMeasure {
		output = c.kp * err
	}
	c.output = c.clamp(output + c.outputSum - c.kd*dInput)

	c.lastInput = input
	c.lastTime = now
	return c.output, true
}

func (c *Controller) clamp(v float64) float64 {
	if v > c.outMax {
		return c.outMax
	}
	if v < c.outMin {
		return c.outMin
	}
	return v
}
