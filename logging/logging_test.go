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

package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLoggerLevels(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, NewLogger("debug").Level)
	assert.Equal(t, logrus.InfoLevel, NewLogger("info").Level)
	assert.Equal(t, logrus.WarnLevel, NewLogger("warn").Level)
	assert.Equal(t, logrus.ErrorLevel, NewLogger("error").Level)
	assert.Equal(t, logrus.InfoLevel, NewLogger("chatty").Level)
}

func TestFormat(t *testing.T) {
	log := NewLogger("info")
	buf := &bytes.Buffer{}
	log.Out = buf
	log.Info("hello")
	log.Debug("hidden")
	assert.Equal(t, "[INFO] hello\n", buf.String())
}
