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
	"time"

	"github.com/TheCacophonyProject/battery-heater/internal/autotune"
	"github.com/TheCacophonyProject/battery-heater/internal/settings"
)

// armTuning starts a new tuning session. The experiment never steps the
// heater past the power budget.
func (e *Engine) armTuning(now time.Time) {
	cfg := e.doc.PID.Tune
	limit := float64(e.state.HeaterDutyLimit)
	if cfg.MaxStep <= 0 || cfg.MaxStep > limit {
		cfg.MaxStep = limit
	}
	if cfg.Experiment.OutputStep > limit {
		cfg.Experiment.OutputStep = limit
	}

	tuner, err := autotune.New(cfg, e.pid, autotune.Hooks{
		Sample: e.onTuneSample,
		Commit: e.onTuneCommit,
		Failed: e.onTuneFailed,
	})
	if err != nil {
		log.Errorf("Can't start PID tuning: %v", err)
		e.state.TuningError = true
		e.doc.Pack.TuneEnabled = false
		e.persist(settings.CategoryPack)
		return
	}
	e.tuner = tuner
	e.heatingEnabled = false
	e.state.TuningError = false
	e.state.TuneAttempt = 0
	e.state.TuneSample = 0
	e.tuner.Arm(now)
	e.state.Tuning = true
}

func (e *Engine) onTuneSample(attempt, index int, input, output float64) {
	e.state.TuneAttempt = attempt
	e.state.TuneSample = index
}

func (e *Engine) onTuneCommit(r autotune.Result) {
	cfg := &e.doc.Pack
	e.doc.PID.Gains = r.Gains
	cfg.Tuned = true
	cfg.TuneEnabled = false
	e.heatingEnabled = true
	e.state.TuningError = false
	e.applyDutyLimit()
	e.persist(settings.CategoryPack)
	e.persist(settings.CategoryPID)
	e.emit(EventTuned, map[string]interface{}{
		"p":            r.Gains.P,
		"i":            r.Gains.I,
		"d":            r.Gains.D,
		"deadTime":     r.DeadTime,
		"timeConstant": r.TimeConstant,
		"ratio":        r.Ratio,
	})
}

// onTuneFailed drops the request, the heater stays off until tuning is
// asked for again.
func (e *Engine) onTuneFailed(err error) {
	e.state.TuningError = true
	e.doc.Pack.TuneEnabled = false
	e.persist(settings.CategoryPack)
	e.emit(EventTuneFailed, map[string]interface{}{
		"error":   err.Error(),
		"retries": e.tuner.Retries(),
	})
}
