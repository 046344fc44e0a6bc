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
	"errors"
	"sync"
)

// MockOutput records levels written to it.
type MockOutput struct {
	mu      sync.Mutex
	high    bool
	History []bool
}

var _ Output = (*MockOutput)(nil)

func (m *MockOutput) Set(high bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.high = high
	m.History = append(m.History, high)
	return nil
}

func (m *MockOutput) IsHigh() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.high
}

type MockPWM struct {
	mu   sync.Mutex
	duty uint8
}

var _ PWM = (*MockPWM)(nil)

func (m *MockPWM) SetDuty(duty uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duty = duty
	return nil
}

func (m *MockPWM) Duty() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duty
}

var ErrNoMockReading = errors.New("no mock ADC reading left")

// MockADC returns the queued codes in order and then keeps returning the last one.
// OnRead is called before each read, which lets tests check pin levels during sampling.
type MockADC struct {
	mu     sync.Mutex
	codes  []uint16
	last   *uint16
	Err    error
	OnRead func()
	Reads  int
}

var _ ADC = (*MockADC)(nil)

func (m *MockADC) Queue(codes ...uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, codes...)
}

func (m *MockADC) ReadRaw() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OnRead != nil {
		m.OnRead()
	}
	m.Reads++
	if m.Err != nil {
		return 0, m.Err
	}
	if len(m.codes) > 0 {
		c := m.codes[0]
		m.codes = m.codes[1:]
		m.last = &c
		return c, nil
	}
	if m.last != nil {
		return *m.last, nil
	}
	return 0, ErrNoMockReading
}
