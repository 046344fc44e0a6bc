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

package autotune

import (
	"errors"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/battery-heater/internal/pid"
)

var (
	ErrNotTunable        = errors.New("process is not tunable")
	ErrNoResponse        = errors.New("no response to the output step")
	ErrNotEnoughSamples  = errors.New("not enough samples")
	ErrGainsOutOfBounds  = errors.New("gains out of bounds")
	ErrEmergencyStop     = errors.New("input over the emergency limit")
	ErrSessionExpired    = errors.New("tuning session ran out of time")
	ErrExperimentInvalid = errors.New("invalid experiment")
)

// Rule picks how gains are derived from the step response.
type Rule string

const (
	ZieglerNichols Rule = "ziegler-nichols"
	NoOvershoot    Rule = "no-overshoot"
)

// DefaultThreshold is the lowest time constant to dead time ratio that is
// considered controllable.
const DefaultThreshold = 0.5

const smoothing = 3

// Result describes the step response. Times are in seconds.
type Result struct {
	ProcessGain  float64
	DeadTime     float64
	TimeConstant float64
	Ratio        float64
	Gains        pid.Gains
}

func (r Result) String() string {
	return fmt.Sprintf("gain %.4f, dead time %.1fs, time constant %.1fs, ratio %.2f, P %.4f I %.4f D %.4f",
		r.ProcessGain, r.DeadTime, r.TimeConstant, r.Ratio, r.Gains.P, r.Gains.I, r.Gains.D)
}

// Analyse finds the inflection point of a step response. samples are the
// input taken every interval starting at the moment of the step. The
// tangent at the steepest point of the smoothed response crosses the
// starting input at the dead time, and the time constant is how long that
// slope takes to cover the whole rise.
func Analyse(samples []float64, interval time.Duration, outputStart, outputStep float64, rule Rule, threshold float64) (Result, error) {
	var r Result
	if len(samples) < smoothing+1 {
		return r, ErrNotEnoughSamples
	}
	if interval <= 0 || outputStep == outputStart {
		return r, ErrExperimentInvalid
	}
	dt := interval.Seconds()

	pvStart := samples[0]
	pvMax := pvStart
	for _, v := range samples {
		if v > pvMax {
			pvMax = v
		}
	}

	var (
		prevAvg  float64
		slopeMax float64
		inflectT float64
		inflectV float64
	)
	for i := smoothing - 1; i < len(samples); i++ {
		avg := (samples[i-2] + samples[i-1] + samples[i]) / smoothing
		if i >= smoothing {
			slope := (avg - prevAvg) / dt
			if slope > slopeMax {
				slopeMax = slope
				// The average is centred on the middle sample.
				inflectT = float64(i-1) * dt
				inflectV = avg
			}
		}
		prevAvg = avg
	}
	if slopeMax <= 0 || pvMax <= pvStart {
		return r, ErrNoResponse
	}

	r.ProcessGain = (pvMax - pvStart) / (outputStep - outputStart)
	r.DeadTime = inflectT - (inflectV-pvStart)/slopeMax
	if r.DeadTime < dt {
		r.DeadTime = dt
	}
	r.TimeConstant = (pvMax - pvStart) / slopeMax
	r.Ratio = r.TimeConstant / r.DeadTime
	if r.Ratio <= threshold {
		return r, fmt.Errorf("%w: ratio %.2f", ErrNotTunable, r.Ratio)
	}
	r.Gains = gainsFor(rule, r)
	return r, nil
}

func gainsFor(rule Rule, r Result) pid.Gains {
	var kp, ti, td float64
	switch rule {
	case NoOvershoot:
		kp = 0.6 * r.TimeConstant / (r.ProcessGain * r.DeadTime)
		ti = r.TimeConstant
		td = 0.5 * r.DeadTime
	default:
		kp = 1.2 * r.TimeConstant / (r.ProcessGain * r.DeadTime)
		ti = 2 * r.DeadTime
		td = 0.5 * r.DeadTime
	}
	return pid.Gains{P: kp, I: kp / ti, D: kp * td}
}

// InBounds reports whether gains are sane enough to hand to the controller.
func InBounds(g pid.Gains) bool {
	return g.P >= 0.1 && g.P < 100 &&
		g.I >= 0 && g.I < 10 &&
		g.D >= 0 && g.D < 10
}
