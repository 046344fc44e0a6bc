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

package service

import (
	"encoding/json"
	"errors"

	"github.com/TheCacophonyProject/battery-heater/internal/engine"
	"github.com/TheCacophonyProject/battery-heater/internal/pack"
	"github.com/TheCacophonyProject/battery-heater/logging"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	DbusName   = "org.cacophony.BatteryHeater"
	DbusPath   = "/org/cacophony/BatteryHeater"
	SignalName = DbusName + ".State"
)

var log = logging.NewLogger("info")

func SetLogger(l *logging.Logger) {
	log = l
}

// Engine is what the service exposes over D-Bus.
type Engine interface {
	State() pack.State
	Config() pack.Config
	SetCellCount(cells int) error
	SetChargePercents(eco, boost int) error
	SetTemperatures(eco, boost int) error
	SetHeaterResistance(deciOhms int) error
	SetChargerCurrent(amps int) error
	SetCapacity(ampHours int) error
	SetMaxHeaterPower(watts float32) error
	SetVoltageBoost(on bool) error
	SetTemperatureBoost(on bool) error
	StartTuning()
	Save() error
	Events() <-chan engine.Event
}

// Status is the JSON document returned by GetState and sent with the
// state signal.
type Status struct {
	State  pack.State  `json:"state"`
	Config pack.Config `json:"config"`
}

func statusJSON(e Engine) (string, error) {
	data, err := json.Marshal(Status{State: e.State(), Config: e.Config()})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type service struct {
	engine Engine
}

func Start(conn *dbus.Conn, e Engine) error {
	reply, err := conn.RequestName(DbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{engine: e}
	if err := conn.Export(s, DbusPath, DbusName); err != nil {
		return err
	}
	return conn.Export(genIntrospectable(s), DbusPath, "org.freedesktop.DBus.Introspectable")
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    DbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// GetState returns the pack state and configuration as JSON.
func (s service) GetState() (string, *dbus.Error) {
	status, err := statusJSON(s.engine)
	if err != nil {
		return "", makeDbusError(".GetState", err)
	}
	return status, nil
}

func (s service) SetCellCount(cells int32) *dbus.Error {
	return makeDbusError(".SetCellCount", s.engine.SetCellCount(int(cells)))
}

func (s service) SetChargePercents(eco, boost int32) *dbus.Error {
	return makeDbusError(".SetChargePercents", s.engine.SetChargePercents(int(eco), int(boost)))
}

func (s service) SetTemperatures(eco, boost int32) *dbus.Error {
	return makeDbusError(".SetTemperatures", s.engine.SetTemperatures(int(eco), int(boost)))
}

// SetHeaterResistance takes tenths of an ohm.
func (s service) SetHeaterResistance(deciOhms int32) *dbus.Error {
	return makeDbusError(".SetHeaterResistance", s.engine.SetHeaterResistance(int(deciOhms)))
}

func (s service) SetChargerCurrent(amps int32) *dbus.Error {
	return makeDbusError(".SetChargerCurrent", s.engine.SetChargerCurrent(int(amps)))
}

func (s service) SetCapacity(ampHours int32) *dbus.Error {
	return makeDbusError(".SetCapacity", s.engine.SetCapacity(int(ampHours)))
}

func (s service) SetMaxHeaterPower(watts float64) *dbus.Error {
	return makeDbusError(".SetMaxHeaterPower", s.engine.SetMaxHeaterPower(float32(watts)))
}

func (s service) SetVoltageBoost(on bool) *dbus.Error {
	return makeDbusError(".SetVoltageBoost", s.engine.SetVoltageBoost(on))
}

func (s service) SetTemperatureBoost(on bool) *dbus.Error {
	return makeDbusError(".SetTemperatureBoost", s.engine.SetTemperatureBoost(on))
}

func (s service) StartTuning() *dbus.Error {
	log.Info("PID tuning requested")
	s.engine.StartTuning()
	return nil
}

// Save writes all settings to disk.
func (s service) Save() *dbus.Error {
	return makeDbusError(".Save", s.engine.Save())
}

func makeDbusError(name string, err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return &dbus.Error{
		Name: DbusName + name,
		Body: []interface{}{err.Error()},
	}
}
