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
	"sync"
	"testing"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcArgsDefaults(t *testing.T) {
	args, err := procArgs([]string{})
	require.NoError(t, err)
	assert.Equal(t, goconfig.DefaultConfigDir, args.ConfigDir)
	assert.Equal(t, sensorAHT20, args.Sensor)
	assert.Equal(t, 1000, args.PWMFrequency)
	assert.Equal(t, "info", args.LogLevel)
}

func TestProcArgs(t *testing.T) {
	args, err := procArgs([]string{
		"--config", "/tmp/heater",
		"--sensor", "w1",
		"--w1-id", "28-0000",
		"--settle-pin", "",
		"--voltage-scale", "11.5",
		"--log-level", "debug",
	})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/heater", args.ConfigDir)
	assert.Equal(t, sensorW1, args.Sensor)
	assert.Equal(t, "28-0000", args.W1ID)
	assert.Equal(t, "", args.SettlePin)
	assert.Equal(t, float32(11.5), args.VoltageScale)
	assert.Equal(t, "debug", args.LogLevel)
}

func TestProcArgsUnknownSensor(t *testing.T) {
	_, err := procArgs([]string{"--sensor", "dht22"})
	assert.Error(t, err)
}

type countingStepper struct {
	mu    sync.Mutex
	steps []time.Time
}

func (c *countingStepper) Step(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, now)
}

func (c *countingStepper) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.steps)
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	s := &countingStepper{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runLoop(ctx, s, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.count() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 1; i < len(s.steps); i++ {
		assert.True(t, s.steps[i].After(s.steps[i-1]))
	}
}
