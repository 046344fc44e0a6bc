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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/TheCacophonyProject/battery-heater/logging"
	"github.com/chewxy/math32"
)

// Sentinel is reported while the sensor is disconnected or failing.
const Sentinel float32 = 127

const DefaultInterval = time.Second

// ErrNotReady means no new measurement is available yet, the last reading stands.
var ErrNotReady = errors.New("temperature reading not ready")

var log = logging.NewLogger("info")

func SetLogger(l *logging.Logger) {
	log = l
}

type Sensor interface {
	ReadTemperature() (float32, error)
}

// IsSentinel reports whether t is the failure value rather than a measurement.
func IsSentinel(t float32) bool {
	return t == Sentinel || math32.IsNaN(t)
}

type Sampler struct {
	sensor     Sensor
	interval   time.Duration
	lastSample time.Time
	last       float32
	failing    bool
}

func NewSampler(sensor Sensor, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{
		sensor:   sensor,
		interval: interval,
		last:     Sentinel,
	}
}

// Sample reads the sensor at most once per interval. The second return value
// is false when the previous reading is returned.
func (s *Sampler) Sample(now time.Time) (float32, bool) {
	if !s.lastSample.IsZero() && now.Sub(s.lastSample) < s.interval {
		return s.last, false
	}
	s.lastSample = now

	t, err := s.sensor.ReadTemperature()
	switch {
	case errors.Is(err, ErrNotReady):
		return s.last, false
	case err != nil:
		if !s.failing {
			log.Errorf("Temperature sensor failed: %v", err)
		}
		s.failing = true
		s.last = Sentinel
	default:
		if s.failing {
			log.Info("Temperature sensor recovered")
		}
		s.failing = false
		s.last = t
	}
	return s.last, true
}

func (s *Sampler) Last() float32 {
	return s.last
}

const w1DevicesDir = "/sys/bus/w1/devices"

// W1 reads a DS18B20 through the 1-wire sysfs interface.
type W1 struct {
	path string
}

// NewW1 uses the sensor with the given id, or the first DS18B20 found when id is empty.
func NewW1(id string) (*W1, error) {
	if id == "" {
		matches, err := filepath.Glob(filepath.Join(w1DevicesDir, "28-*"))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, errors.New("no 1-wire temperature sensor found")
		}
		return &W1{path: filepath.Join(matches[0], "w1_slave")}, nil
	}
	return &W1{path: filepath.Join(w1DevicesDir, id, "w1_slave")}, nil
}

func (w *W1) ReadTemperature() (float32, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return 0, err
	}
	return parseW1(string(data))
}

var errW1CRC = errors.New("1-wire crc check failed")

// parseW1 parses w1_slave output, e.g.
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func parseW1(data string) (float32, error) {
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) < 2 {
		return 0, errors.New("short 1-wire reading")
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, errW1CRC
	}
	i := strings.LastIndex(lines[1], "t=")
	if i < 0 {
		return 0, errors.New("no temperature in 1-wire reading")
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][i+2:]))
	if err != nil {
		return 0, err
	}
	// 85C is the power on reset value, the sensor has not converted yet.
	if milli == 85000 {
		return 0, ErrNotReady
	}
	return float32(milli) / 1000, nil
}
