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

package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/TheCacophonyProject/battery-heater/internal/service"
	"github.com/TheCacophonyProject/battery-heater/internal/temperature"
	"github.com/TheCacophonyProject/battery-heater/logging"
	arg "github.com/alexflint/go-arg"
	"github.com/godbus/dbus"
	"github.com/pterm/pterm"
)

var version = "No version provided"

var log = logging.NewLogger("info")

type Args struct {
	Watch bool `arg:"-w,--watch" help:"Keep printing the state each time the controller sends it"`
	JSON  bool `arg:"--json" help:"Print the raw JSON instead of a table"`
	logging.LogArgs
}

func (Args) Version() string {
	return version
}

func procArgs(input []string) (Args, error) {
	var args Args

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)

	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}

	var raw string
	obj := conn.Object(service.DbusName, service.DbusPath)
	if err := obj.Call(service.DbusName+".GetState", 0).Store(&raw); err != nil {
		return fmt.Errorf("failed to get state from %s: %w", service.DbusName, err)
	}
	if err := show(raw, args.JSON); err != nil {
		return err
	}
	if !args.Watch {
		return nil
	}
	return watch(conn, args.JSON)
}

func watch(conn *dbus.Conn, asJSON bool) error {
	rule := fmt.Sprintf("type='signal',interface='%s'", service.DbusName)
	call := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule)
	if call.Err != nil {
		return fmt.Errorf("failed to add match rule: %w", call.Err)
	}

	c := make(chan *dbus.Signal, 10)
	conn.Signal(c)
	log.Debugf("Listening for %s signals", service.SignalName)
	for signal := range c {
		if signal.Name != service.SignalName {
			continue
		}
		if len(signal.Body) != 1 {
			log.Errorf("Unexpected signal format in body: %v", signal.Body)
			continue
		}
		raw, ok := signal.Body[0].(string)
		if !ok {
			log.Errorf("Unexpected signal body type: %T", signal.Body[0])
			continue
		}
		if err := show(raw, asJSON); err != nil {
			log.Error(err)
		}
	}
	return nil
}

func show(raw string, asJSON bool) error {
	if asJSON {
		fmt.Println(raw)
		return nil
	}
	var s service.Status
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return fmt.Errorf("bad state from controller: %w", err)
	}
	return pterm.DefaultTable.WithHasHeader().WithData(tableData(s)).Render()
}

func tableData(s service.Status) pterm.TableData {
	st, cfg := s.State, s.Config

	temp := "unknown"
	if !temperature.IsSentinel(st.Temperature) {
		temp = fmt.Sprintf("%.1f °C", st.Temperature)
	}
	heater := "disabled"
	switch {
	case st.Tuning:
		heater = fmt.Sprintf("tuning, attempt %d sample %d", st.TuneAttempt+1, st.TuneSample)
	case st.HeatingEnabled:
		heater = "enabled"
	}

	data := pterm.TableData{
		{"Field", "Value"},
		{"Ready", yesNo(st.Ready)},
		{"Pack voltage", fmt.Sprintf("%.2f V (%d%%)", float32(st.MilliVolts)/1000, st.Percent)},
		{"Cells", fmt.Sprintf("%d configured, %d estimated", cfg.CellCount, st.EstimatedCells)},
		{"Voltage regime", st.Voltage.String()},
		{"Temperature", temp},
		{"Temperature regime", st.Temp.String()},
		{"Charger", onOff(st.ChargerOn)},
		{"Charge targets", fmt.Sprintf("eco %d%%, boost %d%%", cfg.EcoPercent, cfg.BoostPercent)},
		{"Heat targets", fmt.Sprintf("eco %d °C, boost %d °C", cfg.EcoTemp, cfg.BoostTemp)},
		{"Boost", fmt.Sprintf("voltage %s, temperature %s", onOff(cfg.VoltageBoost), onOff(cfg.TemperatureBoost))},
		{"Heater", heater},
		{"Heater setpoint", fmt.Sprintf("%.1f °C", st.HeaterSetpoint)},
		{"Heater duty", fmt.Sprintf("%d/%d", st.HeaterOutput, st.HeaterDutyLimit)},
		{"Tuned", yesNo(cfg.Tuned)},
	}
	if st.TuningError {
		data = append(data, []string{"Tuning error", "yes"})
	}
	if st.LastFault != "" {
		data = append(data, []string{"Last fault", st.LastFault})
	}
	return data
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
