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

	"github.com/TheCacophonyProject/battery-heater/logging"
	"github.com/cenkalti/backoff/v4"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var log = logging.NewLogger("info")

func SetLogger(l *logging.Logger) {
	log = l
}

// Output is a digital output such as the charger relay or the reference settle pin.
type Output interface {
	Set(high bool) error
	IsHigh() bool
}

// PWM is the heater output. Duty is on an 8 bit scale.
type PWM interface {
	SetDuty(duty uint8) error
	Duty() uint8
}

// ADC returns raw codes from the pack voltage channel.
type ADC interface {
	ReadRaw() (uint16, error)
}

// Init initializes the periph host drivers, retrying for a short while as the
// drivers can fail to load straight after boot.
func Init() error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	return backoff.Retry(func() error {
		_, err := host.Init()
		if err != nil {
			log.Debugf("Failed to initialize periph host: %v", err)
		}
		return err
	}, b)
}

type GPIOOutput struct {
	name string
	pin  gpio.PinIO
	high bool
}

// NewGPIOOutput finds the named pin and drives it to the initial level.
func NewGPIOOutput(name string, initial bool) (*GPIOOutput, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("GPIO pin %s not found", name)
	}
	o := &GPIOOutput{name: name, pin: pin}
	if err := o.Set(initial); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *GPIOOutput) Set(high bool) error {
	level := gpio.Low
	if high {
		level = gpio.High
	}
	if err := o.pin.Out(level); err != nil {
		return fmt.Errorf("failed to set %s: %w", o.name, err)
	}
	o.high = high
	return nil
}

func (o *GPIOOutput) IsHigh() bool {
	return o.high
}

type GPIOPWM struct {
	name string
	pin  gpio.PinIO
	freq physic.Frequency
	duty uint8
}

// NewGPIOPWM sets up a PWM pin at the given frequency with the output off.
func NewGPIOPWM(name string, freqHz int) (*GPIOPWM, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("GPIO pin %s not found", name)
	}
	p := &GPIOPWM{
		name: name,
		pin:  pin,
		freq: physic.Frequency(freqHz) * physic.Hertz,
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *GPIOPWM) SetDuty(duty uint8) error {
	var err error
	if duty == 0 {
		err = p.pin.Out(gpio.Low)
	} else {
		err = p.pin.PWM(gpio.Duty(uint64(duty)*uint64(gpio.DutyMax)/255), p.freq)
	}
	if err != nil {
		return fmt.Errorf("failed to set %s duty to %d: %w", p.name, duty, err)
	}
	p.duty = duty
	return nil
}

func (p *GPIOPWM) Duty() uint8 {
	return p.duty
}

// Halt turns the heater off before exiting.
func (p *GPIOPWM) Halt() error {
	p.duty = 0
	return p.pin.Halt()
}

// Indicators are the status lights. Patterns are left to the caller, this just sets levels.
type Indicators struct {
	Charging Output
	Fault    Output
}

func (i *Indicators) Show(charging, fault bool) {
	if i == nil {
		return
	}
	if i.Charging != nil && i.Charging.IsHigh() != charging {
		if err := i.Charging.Set(charging); err != nil {
			log.Error(err)
		}
	}
	if i.Fault != nil && i.Fault.IsHigh() != fault {
		if err := i.Fault.Set(fault); err != nil {
			log.Error(err)
		}
	}
}

var sleepFn = time.Sleep
