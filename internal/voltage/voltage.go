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
	"fmt"
	"time"

	"github.com/TheCacophonyProject/battery-heater/internal/hardware"
	"github.com/TheCacophonyProject/battery-heater/logging"
	"github.com/chewxy/math32"
)

const (
	FilterSize = 5

	MinMilliVolts = 9000
	MaxMilliVolts = 100000

	CellFullMilliVolts  = 4200
	CellEmptyMilliVolts = 3000
	// A remainder above this counts as another cell.
	cellRemainderMilliVolts = CellFullMilliVolts * 5 / 100

	// FaultSentinel is reported for both millivolts and percent on a bad reading.
	FaultSentinel = 1

	DefaultInterval    = 5 * time.Second
	DefaultSettleDelay = 5 * time.Millisecond
	// DefaultScale accounts for the external divider in front of the ADC.
	DefaultScale = 27.0
)

var ErrVoltageOutOfRange = errors.New("pack voltage out of range")

var log = logging.NewLogger("info")

func SetLogger(l *logging.Logger) {
	log = l
}

var sleepFn = time.Sleep

// Reading is the result of one sample.
type Reading struct {
	Time       time.Time
	Raw        uint16
	Filtered   float32
	MilliVolts uint32
	Percent    int
	Cells      int
	Fault      error
}

type Options struct {
	Interval    time.Duration
	SettleDelay time.Duration
	Curve       Curve
	Scale       float32
}

func DefaultOptions() Options {
	return Options{
		Interval:    DefaultInterval,
		SettleDelay: DefaultSettleDelay,
		Curve:       DefaultCurve,
		Scale:       DefaultScale,
	}
}

// Sampler filters the pack voltage and tracks the estimated cell count.
// It is not safe for concurrent use.
type Sampler struct {
	adc       hardware.ADC
	charger   hardware.Output
	settlePin hardware.Output
	opts      Options

	ring   [FilterSize]uint16
	index  int
	seeded bool

	lastSample time.Time
	cells      int
	last       Reading
}

// NewSampler makes a sampler. charger and settlePin may be nil when there is
// no reference pin to settle.
func NewSampler(adc hardware.ADC, charger, settlePin hardware.Output, opts Options) (*Sampler, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Scale <= 0 {
		opts.Scale = DefaultScale
	}
	if opts.Curve == nil {
		opts.Curve = DefaultCurve
	}
	if err := opts.Curve.Validate(); err != nil {
		return nil, err
	}
	return &Sampler{
		adc:       adc,
		charger:   charger,
		settlePin: settlePin,
		opts:      opts,
	}, nil
}

// Sample takes a new reading if the interval has passed since the last one.
// The second return value is false when the last reading is returned instead.
func (s *Sampler) Sample(now time.Time, configuredCells int) (Reading, bool) {
	if !s.lastSample.IsZero() && now.Sub(s.lastSample) < s.opts.Interval {
		return s.last, false
	}
	s.lastSample = now

	r := Reading{Time: now, Cells: s.cells}
	raw, err := s.readRaw()
	if err != nil {
		r.MilliVolts = FaultSentinel
		r.Percent = FaultSentinel
		r.Fault = fmt.Errorf("failed to read pack voltage: %w", err)
		s.last = r
		return r, true
	}
	r.Raw = raw
	r.Filtered = s.filter(raw)

	mv := s.opts.Curve.MilliVolts(r.Filtered) * s.opts.Scale
	if mv < MinMilliVolts || mv > MaxMilliVolts {
		r.MilliVolts = FaultSentinel
		r.Percent = FaultSentinel
		r.Fault = fmt.Errorf("%w: %.0fmV", ErrVoltageOutOfRange, mv)
		s.last = r
		return r, true
	}

	r.MilliVolts = uint32(math32.Round(mv))
	if cells := EstimateCells(r.MilliVolts); cells > s.cells {
		log.Debugf("Cell estimate raised from %d to %d (%dmV)", s.cells, cells, r.MilliVolts)
		s.cells = cells
	}
	r.Cells = s.cells
	r.Percent = Percent(r.MilliVolts, configuredCells)
	s.last = r
	return r, true
}

// Cells is the highest cell count estimated so far.
func (s *Sampler) Cells() int {
	return s.cells
}

func (s *Sampler) Last() Reading {
	return s.last
}

// readRaw settles the reference pin first when the charge path is open,
// otherwise the ADC reads biased.
func (s *Sampler) readRaw() (uint16, error) {
	if s.settlePin != nil && (s.charger == nil || !s.charger.IsHigh()) {
		if err := s.settlePin.Set(true); err != nil {
			return 0, err
		}
		sleepFn(s.opts.SettleDelay)
		defer func() {
			if err := s.settlePin.Set(false); err != nil {
				log.Error(err)
			}
		}()
	}
	return s.adc.ReadRaw()
}

func (s *Sampler) filter(raw uint16) float32 {
	if !s.seeded {
		for i := range s.ring {
			s.ring[i] = raw
		}
		s.seeded = true
	}
	s.ring[s.index] = raw
	s.index = (s.index + 1) % FilterSize

	var sum uint32
	for _, v := range s.ring {
		sum += uint32(v)
	}
	return float32(sum) / FilterSize
}

// EstimateCells returns how many full cells the voltage covers, rounding up
// when the remainder is over 5% of a full cell.
func EstimateCells(mv uint32) int {
	cells := mv / CellFullMilliVolts
	if mv%CellFullMilliVolts > cellRemainderMilliVolts {
		cells++
	}
	return int(cells)
}

// Percent is the state of charge for the pack voltage, linear between an
// empty and a full pack and clamped to 0-100.
func Percent(mv uint32, cells int) int {
	if cells <= 0 {
		return 0
	}
	empty := uint32(cells * CellEmptyMilliVolts)
	full := uint32(cells * CellFullMilliVolts)
	if mv <= empty {
		return 0
	}
	if mv >= full {
		return 100
	}
	return int((mv - empty) * 100 / (full - empty))
}

// MilliVoltsForPercent is the inverse of Percent.
func MilliVoltsForPercent(percent, cells int) uint32 {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	empty := uint32(cells * CellEmptyMilliVolts)
	full := uint32(cells * CellFullMilliVolts)
	return empty + (full-empty)*uint32(percent)/100
}
