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

package engine

import (
	"github.com/TheCacophonyProject/battery-heater/internal/pack"
	"github.com/TheCacophonyProject/battery-heater/internal/settings"
)

// State is a snapshot of the control state.
func (e *Engine) State() pack.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Config is a snapshot of the pack configuration.
func (e *Engine) Config() pack.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Pack
}

// Settings is a copy of the whole settings document.
func (e *Engine) Settings() settings.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.doc
}

func (e *Engine) SetCellCount(cells int) error {
	return e.updatePack(func(c *pack.Config) error { return c.SetCellCount(cells) }, true)
}

func (e *Engine) SetChargePercents(eco, boost int) error {
	return e.updatePack(func(c *pack.Config) error { return c.SetChargePercents(eco, boost) }, false)
}

func (e *Engine) SetTemperatures(eco, boost int) error {
	return e.updatePack(func(c *pack.Config) error { return c.SetTemperatures(eco, boost) }, false)
}

func (e *Engine) SetHeaterResistance(deciOhms int) error {
	return e.updatePack(func(c *pack.Config) error { return c.SetHeaterResistance(deciOhms) }, true)
}

func (e *Engine) SetChargerCurrent(amps int) error {
	return e.updatePack(func(c *pack.Config) error { return c.SetChargerCurrent(amps) }, false)
}

func (e *Engine) SetCapacity(ampHours int) error {
	return e.updatePack(func(c *pack.Config) error { return c.SetCapacity(ampHours) }, false)
}

func (e *Engine) SetMaxHeaterPower(watts float32) error {
	return e.updatePack(func(c *pack.Config) error { return c.SetMaxHeaterPower(watts) }, true)
}

func (e *Engine) updatePack(set func(*pack.Config) error, budget bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := set(&e.doc.Pack); err != nil {
		log.Warn(err)
		return err
	}
	if budget {
		e.applyDutyLimit()
	}
	return nil
}

// SetVoltageBoost charges to full once, the flag clears itself when the
// pack is full.
func (e *Engine) SetVoltageBoost(on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc.Pack.VoltageBoost = on
	log.Infof("Voltage boost set to %t", on)
	return e.store.SaveCategory(settings.CategoryPack, e.doc)
}

// SetTemperatureBoost heats to the boost temperature once. An untuned
// heater is tuned first.
func (e *Engine) SetTemperatureBoost(on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc.Pack.TemperatureBoost = on
	log.Infof("Temperature boost set to %t", on)
	if on && !e.doc.Pack.Tuned {
		e.doc.Pack.TuneEnabled = true
		if e.state.Ready && !e.tuningActive() {
			e.armTuning(e.now())
		}
	}
	return e.store.SaveCategory(settings.CategoryPack, e.doc)
}

// StartTuning runs a new tuning session, replacing any saved gains once it
// succeeds. The session starts when the pack is ready.
func (e *Engine) StartTuning() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc.Pack.TuneEnabled = true
	e.doc.Pack.Tuned = false
	e.persist(settings.CategoryPack)
	if e.state.Ready {
		e.armTuning(e.now())
	}
}

func (e *Engine) tuningActive() bool {
	return e.tuner != nil && e.tuner.Active()
}

// Save writes every settings category.
func (e *Engine) Save() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.SaveAll(e.doc)
}
