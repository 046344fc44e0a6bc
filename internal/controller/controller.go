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

package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/battery-heater/internal/autotune"
	"github.com/TheCacophonyProject/battery-heater/internal/engine"
	"github.com/TheCacophonyProject/battery-heater/internal/hardware"
	"github.com/TheCacophonyProject/battery-heater/internal/service"
	"github.com/TheCacophonyProject/battery-heater/internal/settings"
	"github.com/TheCacophonyProject/battery-heater/internal/temperature"
	"github.com/TheCacophonyProject/battery-heater/internal/voltage"
	"github.com/TheCacophonyProject/battery-heater/logging"
	goconfig "github.com/TheCacophonyProject/go-config"
	arg "github.com/alexflint/go-arg"
	"github.com/cenkalti/backoff/v4"
	"github.com/godbus/dbus"
)

const (
	sensorAHT20 = "aht20"
	sensorW1    = "w1"
)

var version = "No version provided"

var log = logging.NewLogger("info")

type Args struct {
	ConfigDir    string  `arg:"-c,--config" help:"Folder holding the settings file"`
	ChargerPin   string  `arg:"--charger-pin" help:"GPIO driving the charger relay"`
	SettlePin    string  `arg:"--settle-pin" help:"GPIO switching the voltage reference, empty for none"`
	HeaterPin    string  `arg:"--heater-pin" help:"PWM capable GPIO driving the heater"`
	PWMFrequency int     `arg:"--pwm-frequency" help:"Heater PWM frequency in Hz"`
	ChargingLED  string  `arg:"--charging-led" help:"GPIO for the charging light, empty for none"`
	FaultLED     string  `arg:"--fault-led" help:"GPIO for the fault light, empty for none"`
	Sensor       string  `arg:"--sensor" help:"Temperature sensor, aht20 or w1"`
	W1ID         string  `arg:"--w1-id" help:"1-wire sensor id, the first one found is used when empty"`
	VoltageScale float32 `arg:"--voltage-scale" help:"Multiplier from ADC millivolts to pack millivolts"`
	logging.LogArgs
}

var defaultArgs = Args{
	ConfigDir:    goconfig.DefaultConfigDir,
	ChargerPin:   "GPIO17",
	SettlePin:    "GPIO27",
	HeaterPin:    "GPIO18",
	PWMFrequency: 1000,
	ChargingLED:  "GPIO5",
	FaultLED:     "GPIO6",
	Sensor:       sensorAHT20,
	VoltageScale: voltage.DefaultScale,
}

func (Args) Version() string {
	return version
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

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
	if err != nil {
		return Args{}, err
	}
	if args.Sensor != sensorAHT20 && args.Sensor != sensorW1 {
		return Args{}, fmt.Errorf("unknown sensor '%s'", args.Sensor)
	}
	return args, nil
}

func setLoggers(l *logging.Logger) {
	log = l
	hardware.SetLogger(l)
	voltage.SetLogger(l)
	temperature.SetLogger(l)
	autotune.SetLogger(l)
	settings.SetLogger(l)
	engine.SetLogger(l)
	service.SetLogger(l)
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}

	setLoggers(logging.NewLogger(args.LogLevel))
	log.Info("Running version: ", version)

	if err := hardware.Init(); err != nil {
		return err
	}
	hw, heater, err := openHardware(args)
	if err != nil {
		return err
	}
	defer shutdown(hw, heater)

	store := settings.NewStore(args.ConfigDir)
	log.Info("Using settings from ", store.Path())

	opts := engine.DefaultOptions()
	opts.Voltage.Scale = args.VoltageScale
	eng, err := engine.New(hw, store, opts)
	if err != nil {
		return err
	}

	conn, err := connectToDbus()
	if err != nil {
		return err
	}
	if err := service.Start(conn, eng); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go service.PublishState(ctx, conn, eng, eng.Settings().Telemetry.Interval)
	go service.ReportEvents(ctx, eng.Events(), nil)

	runLoop(ctx, eng, engine.DefaultStepInterval)
	log.Info("Stopping")
	return nil
}

type stepper interface {
	Step(now time.Time)
}

// runLoop steps the engine on every tick until ctx is done.
func runLoop(ctx context.Context, s stepper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Step(now)
		}
	}
}

func openHardware(args Args) (engine.Hardware, *hardware.GPIOPWM, error) {
	var hw engine.Hardware
	charger, err := hardware.NewGPIOOutput(args.ChargerPin, false)
	if err != nil {
		return hw, nil, err
	}
	hw.Charger = charger

	if args.SettlePin != "" {
		settle, err := hardware.NewGPIOOutput(args.SettlePin, false)
		if err != nil {
			return hw, nil, err
		}
		hw.Settle = settle
	}

	heater, err := hardware.NewGPIOPWM(args.HeaterPin, args.PWMFrequency)
	if err != nil {
		return hw, nil, err
	}
	hw.Heater = heater

	indicators := &hardware.Indicators{}
	if args.ChargingLED != "" {
		if indicators.Charging, err = hardware.NewGPIOOutput(args.ChargingLED, false); err != nil {
			return hw, heater, err
		}
	}
	if args.FaultLED != "" {
		if indicators.Fault, err = hardware.NewGPIOOutput(args.FaultLED, false); err != nil {
			return hw, heater, err
		}
	}
	hw.Indicators = indicators

	hw.ADC = hardware.NewAttinyADC()

	hw.Sensor, err = openSensor(args)
	return hw, heater, err
}

func openSensor(args Args) (temperature.Sensor, error) {
	if args.Sensor == sensorW1 {
		return temperature.NewW1(args.W1ID)
	}
	log.Info("Checking AHT20 calibration")
	sensor := temperature.NewAHT20()
	if err := sensor.CheckCalibration(); err != nil {
		return nil, err
	}
	return sensor, nil
}

// shutdown leaves the charger open and the heater off.
func shutdown(hw engine.Hardware, heater *hardware.GPIOPWM) {
	if hw.Charger != nil {
		if err := hw.Charger.Set(false); err != nil {
			log.Error(err)
		}
	}
	if heater != nil {
		if err := heater.SetDuty(0); err != nil {
			log.Error(err)
		}
		if err := heater.Halt(); err != nil {
			log.Error(err)
		}
	}
}

// connectToDbus retries as the system bus can be slow to come up at boot.
func connectToDbus() (*dbus.Conn, error) {
	var conn *dbus.Conn
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 10)
	err := backoff.Retry(func() error {
		var err error
		conn, err = dbus.SystemBus()
		if err != nil {
			log.Debugf("Failed to connect to the system bus: %v", err)
		}
		return err
	}, b)
	return conn, err
}
