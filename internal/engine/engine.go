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
	"errors"
	"sync"
	"time"

	"github.com/TheCacophonyProject/battery-heater/internal/autotune"
	"github.com/TheCacophonyProject/battery-heater/internal/hardware"
	"github.com/TheCacophonyProject/battery-heater/internal/pack"
	"github.com/TheCacophonyProject/battery-heater/internal/pid"
	"github.com/TheCacophonyProject/battery-heater/internal/settings"
	"github.com/TheCacophonyProject/battery-heater/internal/temperature"
	"github.com/TheCacophonyProject/battery-heater/internal/voltage"
	"github.com/TheCacophonyProject/battery-heater/logging"
)

const (
	DefaultStepInterval     = 100 * time.Millisecond
	DefaultDecisionInterval = 2500 * time.Millisecond
	eventBufferSize         = 32
)

var log = logging.NewLogger("info")

func SetLogger(l *logging.Logger) {
	log = l
}

// Hardware is everything the engine drives or reads. Settle and Indicators
// are optional.
type Hardware struct {
	Charger    hardware.Output
	Settle     hardware.Output
	Heater     hardware.PWM
	ADC        hardware.ADC
	Sensor     temperature.Sensor
	Indicators *hardware.Indicators
}

type Options struct {
	Voltage             voltage.Options
	TemperatureInterval time.Duration
	DecisionInterval    time.Duration
}

func DefaultOptions() Options {
	return Options{
		Voltage:             voltage.DefaultOptions(),
		TemperatureInterval: temperature.DefaultInterval,
		DecisionInterval:    DefaultDecisionInterval,
	}
}

// Event is something worth reporting outside of the regular telemetry.
type Event struct {
	Type    string
	Details map[string]interface{}
}

const (
	EventVoltageFault     = "batteryVoltageFault"
	EventTemperatureFault = "batteryTemperatureFault"
	EventLowBattery       = "lowBattery"
	EventTuned            = "batteryHeaterTuned"
	EventTuneFailed       = "batteryHeaterTuneFailed"
)

// Engine owns the control state. Step is called from one goroutine, the
// getters and setters are safe to call from any goroutine.
type Engine struct {
	mu   sync.Mutex
	hw   Hardware
	opts Options

	store *settings.Store
	doc   *settings.Document

	volt  *voltage.Sampler
	temp  *temperature.Sampler
	pid   *pid.Controller
	tuner *autotune.Orchestrator

	state          pack.State
	lastDecision   time.Time
	heatingEnabled bool
	setpoint       float32
	voltFault      bool
	tempFault      bool
	lowReported    bool

	events chan Event
	now    func() time.Time
}

func New(hw Hardware, store *settings.Store, opts Options) (*Engine, error) {
	if hw.Charger == nil || hw.Heater == nil || hw.ADC == nil || hw.Sensor == nil {
		return nil, errors.New("charger, heater, ADC and temperature sensor are required")
	}
	if opts.DecisionInterval <= 0 {
		opts.DecisionInterval = DefaultDecisionInterval
	}
	doc, err := store.LoadAll()
	if err != nil {
		return nil, err
	}
	volt, err := voltage.NewSampler(hw.ADC, hw.Charger, hw.Settle, opts.Voltage)
	if err != nil {
		return nil, err
	}
	controller, err := pid.New(doc.PID.Gains, doc.PID.Tune.Experiment.SampleInterval(), 0, pack.MaxHeaterDuty)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		hw:       hw,
		opts:     opts,
		store:    store,
		doc:      doc,
		volt:     volt,
		temp:     temperature.NewSampler(hw.Sensor, opts.TemperatureInterval),
		pid:      controller,
		setpoint: float32(doc.Pack.EcoTemp),
		events:   make(chan Event, eventBufferSize),
		now:      time.Now,
	}
	e.state.Temperature = temperature.Sentinel

	if doc.Pack.Tuned {
		log.Infof("Using saved PID gains P %.4f, I %.4f, D %.4f", doc.PID.Gains.P, doc.PID.Gains.I, doc.PID.Gains.D)
		e.pid.SetTunings(doc.PID.Gains, true)
		e.pid.SetMode(pid.Automatic)
		e.heatingEnabled = true
	}
	e.applyDutyLimit()

	if err := e.setCharger(false); err != nil {
		return nil, err
	}
	if err := e.hw.Heater.SetDuty(0); err != nil {
		return nil, err
	}
	return e, nil
}

// Events are delivered without blocking Step, they are dropped when nobody
// is reading.
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) emit(eventType string, details map[string]interface{}) {
	select {
	case e.events <- Event{Type: eventType, Details: details}:
	default:
		log.Warnf("Event buffer full, dropping %s", eventType)
	}
}

// Step runs one iteration of the control loop.
func (e *Engine) Step(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sampleVoltage(now)
	t := e.sampleTemperature(now)

	cfg := &e.doc.Pack
	ready := cfg.Ready(e.volt.Cells())
	if ready != e.state.Ready {
		e.state.Ready = ready
		if ready {
			log.Info("Pack configuration matches the battery, starting control")
			e.onReady(now)
		} else {
			log.Warnf("Pack not ready, configured for %d cells and %d found", cfg.CellCount, e.volt.Cells())
		}
	}
	if !ready {
		e.holdOff()
		e.showIndicators()
		return
	}

	if e.lastDecision.IsZero() || now.Sub(e.lastDecision) >= e.opts.DecisionInterval {
		e.lastDecision = now
		e.decide(t)
	}
	e.driveHeater(now, t)
	e.showIndicators()
}

func (e *Engine) sampleVoltage(now time.Time) {
	r, sampled := e.volt.Sample(now, e.doc.Pack.CellCount)
	if !sampled {
		return
	}
	e.state.Raw = r.Raw
	e.state.Filtered = r.Filtered
	e.state.MilliVolts = r.MilliVolts
	e.state.Percent = r.Percent
	e.state.EstimatedCells = e.volt.Cells()
	if r.Fault != nil {
		e.state.LastFault = r.Fault.Error()
		if !e.voltFault {
			log.Errorf("Voltage sensor fault: %v", r.Fault)
			e.emit(EventVoltageFault, map[string]interface{}{"error": r.Fault.Error()})
		}
		e.voltFault = true
		return
	}
	if e.voltFault {
		log.Info("Voltage sensor recovered")
		e.state.LastFault = ""
	}
	e.voltFault = false
}

func (e *Engine) sampleTemperature(now time.Time) float32 {
	t, sampled := e.temp.Sample(now)
	e.state.Temperature = t
	if !sampled {
		return t
	}
	if temperature.IsSentinel(t) {
		if !e.tempFault {
			e.state.LastFault = "temperature sensor failed"
			e.emit(EventTemperatureFault, nil)
		}
		e.tempFault = true
	} else {
		if e.tempFault && !e.voltFault {
			e.state.LastFault = ""
		}
		e.tempFault = false
	}
	return t
}

func (e *Engine) onReady(now time.Time) {
	cfg := &e.doc.Pack
	if !cfg.Initialized {
		cfg.Initialized = true
		e.persist(settings.CategoryPack)
	}
	if cfg.TuneEnabled && !cfg.Tuned && !e.tuningActive() {
		e.armTuning(now)
	}
}

// holdOff keeps the charger open and the heater off until the pack is ready.
func (e *Engine) holdOff() {
	if err := e.setCharger(false); err != nil {
		log.Error(err)
	}
	e.pid.SetMode(pid.Manual)
	e.pid.SetOutput(0)
	e.setHeater(0)
}

func (e *Engine) decide(t float32) {
	cfg := &e.doc.Pack
	vr := e.state.Voltage
	if !e.voltFault {
		vr = pack.ClassifyVoltage(e.state.Percent, cfg.EcoPercent, cfg.BoostPercent)
	}
	tr := pack.ClassifyTemperature(t, cfg.EcoTemp, cfg.BoostTemp)
	if vr != e.state.Voltage || tr != e.state.Temp {
		log.Infof("Regime changed to %s/%s (%d%%, %.1fC)", vr, tr, e.state.Percent, t)
	}
	if vr == pack.VoltageAlert && !e.lowReported && !e.voltFault {
		e.emit(EventLowBattery, map[string]interface{}{
			"percent":    e.state.Percent,
			"milliVolts": e.state.MilliVolts,
		})
	}
	e.lowReported = vr == pack.VoltageAlert
	e.state.Advance(vr, tr)

	flags := pack.Flags{VoltageBoost: cfg.VoltageBoost, TemperatureBoost: cfg.TemperatureBoost}
	a := pack.Decide(vr, tr, flags, t, *cfg)
	if a.Err != nil {
		log.Errorf("Charger disabled: %v", a.Err)
	}
	if a.ClearVoltageBoost || a.ClearTempBoost {
		if a.ClearVoltageBoost {
			log.Info("Pack full, voltage boost done")
			cfg.VoltageBoost = false
		}
		if a.ClearTempBoost {
			log.Info("Boost temperature reached, temperature boost done")
			cfg.TemperatureBoost = false
		}
		e.persist(settings.CategoryPack)
	}
	if a.TuningError && !e.state.TuningError {
		log.Warnf("Pack is %.1fC over the boost temperature, PID tuning looks wrong", t-float32(cfg.BoostTemp))
		e.state.TuningError = true
	}
	if !a.HoldSetpoint {
		e.setpoint = a.Setpoint
	}
	e.state.HeaterSetpoint = e.setpoint

	if err := e.setCharger(a.ChargerOn && !e.voltFault); err != nil {
		log.Error(err)
	}
}

func (e *Engine) driveHeater(now time.Time, t float32) {
	var output float64
	switch {
	case e.tuner != nil && e.tuner.Active():
		if !temperature.IsSentinel(t) {
			e.tuner.Tick(now, float64(t))
		}
		output = e.pid.Output()
	case e.heatingEnabled && e.doc.Pack.Tuned && !temperature.IsSentinel(t):
		if e.pid.Mode() != pid.Automatic {
			e.pid.SetMode(pid.Automatic)
		}
		output, _ = e.pid.Compute(now, float64(t), float64(e.setpoint))
	default:
		output = 0
	}
	e.state.Tuning = e.tuningActive()
	e.state.HeatingEnabled = e.heatingEnabled

	if output < 0 {
		output = 0
	}
	limit := float64(e.state.HeaterDutyLimit)
	if output > limit {
		output = limit
	}
	e.setHeater(uint8(output))
}

func (e *Engine) setHeater(duty uint8) {
	e.state.HeaterOutput = duty
	if e.hw.Heater.Duty() == duty {
		return
	}
	if err := e.hw.Heater.SetDuty(duty); err != nil {
		log.Errorf("Failed to set heater duty: %v", err)
	}
}

func (e *Engine) setCharger(on bool) error {
	e.state.ChargerOn = on
	if e.hw.Charger.IsHigh() == on {
		return nil
	}
	if on {
		log.Info("Charger on")
	} else {
		log.Info("Charger off")
	}
	return e.hw.Charger.Set(on)
}

func (e *Engine) showIndicators() {
	fault := e.voltFault || e.tempFault || e.state.TuningError
	e.hw.Indicators.Show(e.state.ChargerOn, fault)
}

// applyDutyLimit pushes the power budget to the PID as its upper limit.
func (e *Engine) applyDutyLimit() {
	cfg := e.doc.Pack
	limit := pack.HeaterDutyLimit(cfg.CellCount, cfg.HeaterResistance, cfg.MaxHeaterPower)
	span := e.doc.PID.Tune.Experiment.OutputSpan
	max := float64(limit)
	if span > 0 && span < max {
		max = span
	}
	if err := e.pid.SetOutputLimits(0, max); err != nil {
		log.Error(err)
	}
	if limit != e.state.HeaterDutyLimit {
		log.Infof("Heater duty limited to %d/255 (%.0fW nominal, %.0fW max)",
			limit, pack.HeaterPower(cfg.CellCount, cfg.HeaterResistance), cfg.MaxHeaterPower)
	}
	e.state.HeaterDutyLimit = limit
}

func (e *Engine) persist(c settings.Category) {
	if err := e.store.SaveCategory(c, e.doc); err != nil {
		log.Errorf("Failed to save %s settings: %v", c, err)
	}
}
