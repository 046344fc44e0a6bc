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
	"github.com/TheCacophonyProject/battery-heater/logging"
)

var log = logging.NewLogger("info")

func SetLogger(l *logging.Logger) {
	log = l
}

// Experiment is one step response test. The output is held at OutputStart
// for SettleDuration then stepped to OutputStep, and the input is sampled
// Samples times over TestDuration.
type Experiment struct {
	InputSpan      float64       `yaml:"input-span"`
	OutputSpan     float64       `yaml:"output-span"`
	OutputStart    float64       `yaml:"output-start"`
	OutputStep     float64       `yaml:"output-step"`
	TestDuration   time.Duration `yaml:"test-duration"`
	SettleDuration time.Duration `yaml:"settle-duration"`
	Samples        int           `yaml:"samples"`
	EmergencyTemp  float64       `yaml:"emergency-temp"`
}

func DefaultExperiment() Experiment {
	return Experiment{
		InputSpan:      50,
		OutputSpan:     255,
		OutputStart:    0,
		OutputStep:     100,
		TestDuration:   10 * time.Minute,
		SettleDuration: time.Minute,
		Samples:        300,
		EmergencyTemp:  45,
	}
}

func (e Experiment) Validate() error {
	if e.Samples <= smoothing || e.TestDuration <= 0 {
		return fmt.Errorf("%w: %d samples over %s", ErrExperimentInvalid, e.Samples, e.TestDuration)
	}
	if e.OutputStep <= e.OutputStart || e.OutputStep > e.OutputSpan {
		return fmt.Errorf("%w: step %.0f from %.0f with span %.0f", ErrExperimentInvalid, e.OutputStep, e.OutputStart, e.OutputSpan)
	}
	return nil
}

// SampleInterval is the time between input samples.
func (e Experiment) SampleInterval() time.Duration {
	return e.TestDuration / time.Duration(e.Samples)
}

type Config struct {
	Experiment    Experiment    `yaml:"experiment"`
	Rule          Rule          `yaml:"rule"`
	Threshold     float64       `yaml:"threshold"`
	SessionLength time.Duration `yaml:"session-length"`
	// MaxRetries is how many times a failed experiment is escalated and
	// run again before the session gives up.
	MaxRetries       int           `yaml:"max-retries"`
	StepIncrease     float64       `yaml:"step-increase"`
	DurationIncrease time.Duration `yaml:"duration-increase"`
	MaxStep          float64       `yaml:"max-step"`
	MaxTestDuration  time.Duration `yaml:"max-test-duration"`
}

func DefaultConfig() Config {
	return Config{
		Experiment:       DefaultExperiment(),
		Rule:             ZieglerNichols,
		Threshold:        DefaultThreshold,
		SessionLength:    3 * time.Hour,
		MaxRetries:       5,
		StepIncrease:     25,
		DurationIncrease: 5 * time.Minute,
		MaxStep:          255,
		MaxTestDuration:  30 * time.Minute,
	}
}

// PID is the part of the controller the tuner drives.
type PID interface {
	SetMode(pid.Mode)
	SetOutput(float64)
	SetTunings(pid.Gains, bool)
	SetOutputLimits(min, max float64) error
	SetSampleTime(time.Duration)
}

// Hooks are optional callbacks, all called from Tick.
type Hooks struct {
	// Sample reports each input sample of an experiment.
	Sample func(attempt, index int, input, output float64)
	// Commit is called after the controller has been handed new gains.
	Commit func(Result)
	// Failed is called when the session gives up.
	Failed func(error)
}

type Status int

const (
	Idle Status = iota
	Settling
	Sampling
	Committed
	Escalated
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Settling:
		return "settling"
	case Sampling:
		return "sampling"
	case Committed:
		return "committed"
	case Escalated:
		return "escalated"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type phase int

const (
	settling phase = iota
	sampling
)

// Orchestrator runs step response experiments against the heater until one
// gives usable gains, making the step larger and the test longer after each
// failure. It is not safe for concurrent use.
type Orchestrator struct {
	cfg   Config
	pid   PID
	hooks Hooks

	enabled  bool
	done     bool
	firstRun bool
	start    time.Time
	retries  int
	err      error
	result   Result

	exp        Experiment
	interval   time.Duration
	phase      phase
	phaseStart time.Time
	nextSample time.Time
	samples    []float64
}

func New(cfg Config, p PID, hooks Hooks) (*Orchestrator, error) {
	if err := cfg.Experiment.Validate(); err != nil {
		return nil, err
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxStep <= 0 || cfg.MaxStep > cfg.Experiment.OutputSpan {
		cfg.MaxStep = cfg.Experiment.OutputSpan
	}
	if cfg.MaxTestDuration < cfg.Experiment.TestDuration {
		cfg.MaxTestDuration = cfg.Experiment.TestDuration
	}
	return &Orchestrator{cfg: cfg, pid: p, hooks: hooks}, nil
}

// Arm starts a new session. Any session already running is restarted.
func (o *Orchestrator) Arm(now time.Time) {
	o.enabled = true
	o.done = false
	o.firstRun = true
	o.start = now
	o.retries = 0
	o.err = nil
	o.exp = o.cfg.Experiment
	o.interval = o.exp.SampleInterval()
	log.Infof("PID tuning armed, stepping output %.0f to %.0f over %s", o.exp.OutputStart, o.exp.OutputStep, o.exp.TestDuration)
}

// Disable stops the session without changing the controller.
func (o *Orchestrator) Disable() {
	o.enabled = false
}

// Active is true while a session is running.
func (o *Orchestrator) Active() bool {
	return o.enabled && !o.done
}

func (o *Orchestrator) Done() bool {
	return o.done
}

// Err is the last failure of the session, kept after the session gives up.
func (o *Orchestrator) Err() error {
	return o.err
}

func (o *Orchestrator) Retries() int {
	return o.retries
}

func (o *Orchestrator) Experiment() Experiment {
	return o.exp
}

func (o *Orchestrator) Result() Result {
	return o.result
}

// Tick advances the session. It does nothing unless a session is active.
func (o *Orchestrator) Tick(now time.Time, input float64) Status {
	if !o.Active() {
		return Idle
	}
	if now.Sub(o.start) >= o.cfg.SessionLength {
		return o.giveUp(ErrSessionExpired)
	}
	if o.firstRun {
		o.firstRun = false
		o.pid.SetMode(pid.Manual)
		o.startAttempt(now)
	}

	if o.phase == settling {
		if now.Sub(o.phaseStart) < o.exp.SettleDuration {
			o.pid.SetOutput(o.exp.OutputStart)
			return Settling
		}
		o.phase = sampling
		o.phaseStart = now
		o.nextSample = now
		o.pid.SetOutput(o.exp.OutputStep)
	}

	// An overheated pack ends the session, a bigger step would only heat it more.
	if input > o.exp.EmergencyTemp {
		return o.giveUp(fmt.Errorf("%w: %.1f over %.1f", ErrEmergencyStop, input, o.exp.EmergencyTemp))
	}
	if now.Before(o.nextSample) {
		return Sampling
	}
	o.samples = append(o.samples, input)
	o.nextSample = o.nextSample.Add(o.interval)
	log.Debugf("Tuning sample %d/%d: %.2f", len(o.samples), o.exp.Samples, input)
	if o.hooks.Sample != nil {
		o.hooks.Sample(o.retries, len(o.samples)-1, input, o.exp.OutputStep)
	}
	if len(o.samples) < o.exp.Samples {
		return Sampling
	}
	return o.evaluate(now)
}

func (o *Orchestrator) startAttempt(now time.Time) {
	o.phase = settling
	o.phaseStart = now
	o.samples = make([]float64, 0, o.exp.Samples)
	o.pid.SetOutput(o.exp.OutputStart)
}

func (o *Orchestrator) evaluate(now time.Time) Status {
	result, err := Analyse(o.samples, o.interval, o.exp.OutputStart, o.exp.OutputStep, o.cfg.Rule, o.cfg.Threshold)
	o.result = result
	if err == nil && !InBounds(result.Gains) {
		err = fmt.Errorf("%w: %s", ErrGainsOutOfBounds, result)
	}
	if err != nil {
		return o.attemptFailed(now, err)
	}
	if err := o.commit(result); err != nil {
		return o.attemptFailed(now, err)
	}
	return Committed
}

func (o *Orchestrator) commit(result Result) error {
	if err := o.pid.SetOutputLimits(0, o.exp.OutputSpan); err != nil {
		return err
	}
	o.pid.SetSampleTime(o.interval)
	o.pid.SetTunings(result.Gains, true)
	o.pid.SetMode(pid.Automatic)

	o.done = true
	o.enabled = false
	o.err = nil
	log.Infof("PID tuning done after %d retries: %s", o.retries, result)
	if o.hooks.Commit != nil {
		o.hooks.Commit(result)
	}
	return nil
}

func (o *Orchestrator) attemptFailed(now time.Time, err error) Status {
	o.err = err
	o.pid.SetOutput(0)
	if o.retries >= o.cfg.MaxRetries {
		return o.giveUp(err)
	}
	o.retries++
	o.escalate()
	log.Warnf("PID tuning attempt failed: %v, retry %d/%d with step %.0f over %s",
		err, o.retries, o.cfg.MaxRetries, o.exp.OutputStep, o.exp.TestDuration)
	o.startAttempt(now)
	return Escalated
}

// escalate makes the next experiment stronger. The sample interval stays the
// same so a longer test takes more samples.
func (o *Orchestrator) escalate() {
	o.exp.OutputStep += o.cfg.StepIncrease
	if o.exp.OutputStep > o.cfg.MaxStep {
		o.exp.OutputStep = o.cfg.MaxStep
	}
	o.exp.TestDuration += o.cfg.DurationIncrease
	if o.exp.TestDuration > o.cfg.MaxTestDuration {
		o.exp.TestDuration = o.cfg.MaxTestDuration
	}
	o.exp.Samples = int(o.exp.TestDuration / o.interval)
}

func (o *Orchestrator) giveUp(err error) Status {
	o.err = err
	o.enabled = false
	o.pid.SetMode(pid.Manual)
	o.pid.SetOutput(0)
	if errors.Is(err, ErrSessionExpired) {
		log.Errorf("PID tuning stopped: %v", err)
	} else {
		log.Errorf("PID tuning failed after %d retries: %v", o.retries, err)
	}
	if o.hooks.Failed != nil {
		o.hooks.Failed(err)
	}
	return Failed
}
