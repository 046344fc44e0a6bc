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
	"context"
	"time"

	"github.com/TheCacophonyProject/battery-heater/internal/engine"
	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/godbus/dbus"
)

const DefaultTelemetryInterval = time.Minute

// Emitter sends D-Bus signals, *dbus.Conn is one.
type Emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// PublishState sends the state signal every interval until ctx is done.
func PublishState(ctx context.Context, conn Emitter, e Engine, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTelemetryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := sendState(conn, e); err != nil {
			log.Errorf("Failed to send state signal: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sendState(conn Emitter, e Engine) error {
	status, err := statusJSON(e)
	if err != nil {
		return err
	}
	return conn.Emit(dbus.ObjectPath(DbusPath), SignalName, status)
}

// AddEventFunc queues an event with the event reporter.
type AddEventFunc func(eventclient.Event) error

// ReportEvents forwards engine events to the event reporter until ctx is done.
func ReportEvents(ctx context.Context, events <-chan engine.Event, addEvent AddEventFunc) {
	if addEvent == nil {
		addEvent = eventclient.AddEvent
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			event := eventclient.Event{
				Timestamp: time.Now(),
				Type:      ev.Type,
				Details:   ev.Details,
			}
			if err := addEvent(event); err != nil {
				log.Errorf("Error sending %s event: %v", ev.Type, err)
			} else {
				log.Infof("Sent %s event", ev.Type)
			}
		}
	}
}
