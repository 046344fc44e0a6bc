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

package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TheCacophonyProject/battery-heater/internal/autotune"
	"github.com/TheCacophonyProject/battery-heater/internal/pack"
	"github.com/TheCacophonyProject/battery-heater/internal/pid"
	"github.com/TheCacophonyProject/battery-heater/logging"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

const (
	Version  = 1
	FileName = "battery-heater.yaml"
)

var ErrUnknownCategory = errors.New("unknown settings category")

var log = logging.NewLogger("info")

func SetLogger(l *logging.Logger) {
	log = l
}

type Category string

const (
	CategoryPack      Category = "pack"
	CategoryNetwork   Category = "network"
	CategoryAccess    Category = "access"
	CategoryTelemetry Category = "telemetry"
	CategoryChatbot   Category = "chatbot"
	CategoryPID       Category = "pid"
)

var Categories = []Category{
	CategoryPack,
	CategoryNetwork,
	CategoryAccess,
	CategoryTelemetry,
	CategoryChatbot,
	CategoryPID,
}

type Network struct {
	Hostname string `yaml:"hostname"`
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

type Access struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Telemetry struct {
	Broker   string        `yaml:"broker"`
	Topic    string        `yaml:"topic"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Interval time.Duration `yaml:"interval"`
}

type Chatbot struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat-id"`
}

type PID struct {
	Gains pid.Gains       `yaml:"gains"`
	Tune  autotune.Config `yaml:"tune"`
}

// Document is everything that is persisted, one section per category.
type Document struct {
	Version   int         `yaml:"version"`
	Pack      pack.Config `yaml:"pack"`
	Network   Network     `yaml:"network"`
	Access    Access      `yaml:"access"`
	Telemetry Telemetry   `yaml:"telemetry"`
	Chatbot   Chatbot     `yaml:"chatbot"`
	PID       PID         `yaml:"pid"`
}

func Default() *Document {
	return &Document{
		Version: Version,
		Pack:    pack.DefaultConfig(),
		Network: Network{Hostname: "battery-heater"},
		Access:  Access{Username: "admin"},
		Telemetry: Telemetry{
			Topic:    "battery-heater/state",
			Interval: time.Minute,
		},
		PID: PID{Tune: autotune.DefaultConfig()},
	}
}

// ensureDefaults replaces anything missing or invalid with the default.
func (d *Document) ensureDefaults() {
	def := Default()
	if err := d.Pack.Validate(); err != nil {
		log.Warnf("Invalid pack settings, using defaults: %v", err)
		d.Pack = def.Pack
	}
	if d.Network.Hostname == "" {
		d.Network.Hostname = def.Network.Hostname
	}
	if d.Telemetry.Topic == "" {
		d.Telemetry.Topic = def.Telemetry.Topic
	}
	if d.Telemetry.Interval <= 0 {
		d.Telemetry.Interval = def.Telemetry.Interval
	}
	if d.PID.Gains.P < 0 || d.PID.Gains.I < 0 || d.PID.Gains.D < 0 {
		log.Warn("Negative PID gains, clearing them")
		d.PID.Gains = pid.Gains{}
		d.Pack.Tuned = false
	}
	if err := d.PID.Tune.Experiment.Validate(); err != nil {
		log.Warnf("Invalid tuning experiment, using defaults: %v", err)
		d.PID.Tune = def.PID.Tune
	}
	if d.PID.Tune.Rule == "" {
		d.PID.Tune.Rule = def.PID.Tune.Rule
	}
	if d.PID.Tune.SessionLength <= 0 {
		d.PID.Tune.SessionLength = def.PID.Tune.SessionLength
	}
	d.Version = Version
}

// Store keeps the document in a single YAML file. Every access happens in a
// session that holds an exclusive lock on the file, so other processes see
// either the old or the new document.
type Store struct {
	path string
	lock *flock.Flock
}

func NewStore(dir string) *Store {
	path := filepath.Join(dir, FileName)
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func (s *Store) Path() string {
	return s.path
}

// Begin opens a session. It blocks while another process holds the lock.
func (s *Store) Begin() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock settings: %w", err)
	}
	return nil
}

func (s *Store) End() error {
	return s.lock.Unlock()
}

func (s *Store) session(fn func() error) error {
	if err := s.Begin(); err != nil {
		return err
	}
	err := fn()
	if endErr := s.End(); endErr != nil && err == nil {
		err = endErr
	}
	return err
}

// LoadAll reads every category. A missing file gives the defaults.
func (s *Store) LoadAll() (*Document, error) {
	var doc *Document
	err := s.session(func() error {
		var err error
		doc, err = s.read()
		return err
	})
	return doc, err
}

func (s *Store) SaveAll(doc *Document) error {
	return s.session(func() error {
		return s.write(doc)
	})
}

// LoadCategory replaces one category of doc with what is on disk.
func (s *Store) LoadCategory(c Category, doc *Document) error {
	return s.session(func() error {
		stored, err := s.read()
		if err != nil {
			return err
		}
		return copyCategory(c, doc, stored)
	})
}

// SaveCategory writes one category of doc, leaving the others on disk as
// they are.
func (s *Store) SaveCategory(c Category, doc *Document) error {
	return s.session(func() error {
		stored, err := s.read()
		if err != nil {
			return err
		}
		if err := copyCategory(c, stored, doc); err != nil {
			return err
		}
		return s.write(stored)
	})
}

func copyCategory(c Category, dst, src *Document) error {
	switch c {
	case CategoryPack:
		dst.Pack = src.Pack
	case CategoryNetwork:
		dst.Network = src.Network
	case CategoryAccess:
		dst.Access = src.Access
	case CategoryTelemetry:
		dst.Telemetry = src.Telemetry
	case CategoryChatbot:
		dst.Chatbot = src.Chatbot
	case CategoryPID:
		dst.PID = src.PID
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	return nil
}

func (s *Store) read() (*Document, error) {
	doc := Default()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if doc.Version > Version {
		return nil, fmt.Errorf("settings version %d is newer than %d", doc.Version, Version)
	}
	doc.ensureDefaults()
	return doc, nil
}

func (s *Store) write(doc *Document) error {
	doc.Version = Version
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return os.Rename(tmp, s.path)
}
