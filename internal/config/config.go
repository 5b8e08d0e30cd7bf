// Package config loads and validates the dashboard-keeper YAML file. All
// validation happens eagerly at load time; a malformed config is a fatal
// startup error, never a lazy failure during scheduling.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"castkeeper/internal/timewindow"
)

// DashboardWindow is one (URL, time range) entry in a device's ordered list.
// Declaration order matters: the first window containing "now" wins.
type DashboardWindow struct {
	DashboardURL  string `yaml:"dashboard_url"`
	StartTime     string `yaml:"start_time"`
	EndTime       string `yaml:"end_time"`
	Volume        *int   `yaml:"volume,omitempty"`
	SwitchEntity  string `yaml:"switch_entity,omitempty"`
	RequiredState string `yaml:"required_state,omitempty"`

	// Window is the parsed time range, populated by Load.
	Window timewindow.Window `yaml:"-"`
}

// StateTrigger activates a temporary override for its device when the
// watched entity transitions to ToState.
type StateTrigger struct {
	EntityID     string `yaml:"entity_id"`
	ToState      string `yaml:"to_state"`
	DashboardURL string `yaml:"dashboard_url"`
	TimeOut      int    `yaml:"time_out,omitempty"` // seconds, 0 = no timeout
	ForceCast    bool   `yaml:"force_cast,omitempty"`
}

// Device is one cast target with its ordered windows and optional gates.
type Device struct {
	Name    string
	Windows []DashboardWindow

	// Volume is the default volume on the 0-10 config scale; nil leaves
	// the device volume alone (restore whatever was probed).
	Volume        *int   `yaml:"volume,omitempty"`
	SwitchEntity  string `yaml:"switch_entity,omitempty"`
	RequiredState string `yaml:"required_state,omitempty"`

	// StateName is the media title the dashboard reports on this device.
	StateName string `yaml:"state_name,omitempty"`

	// SpeakerGroups are the named groups this device belongs to, derived
	// from the top-level speaker_groups section.
	SpeakerGroups []string
}

// GlobalGate is the optional global window plus switch entity.
type GlobalGate struct {
	StartTime     string `yaml:"start_time,omitempty"`
	EndTime       string `yaml:"end_time,omitempty"`
	SwitchEntity  string `yaml:"switch_entity,omitempty"`
	RequiredState string `yaml:"required_state,omitempty"`

	Window    timewindow.Window `yaml:"-"`
	HasWindow bool              `yaml:"-"`
}

type deviceYAML struct {
	Volume        *int              `yaml:"volume,omitempty"`
	SwitchEntity  string            `yaml:"switch_entity,omitempty"`
	RequiredState string            `yaml:"required_state,omitempty"`
	StateName     string            `yaml:"state_name,omitempty"`
	Windows       []DashboardWindow `yaml:"windows"`
}

type fileYAML struct {
	CastInterval  int                       `yaml:"cast_interval,omitempty"`
	WorkerLimit   int                       `yaml:"worker_limit,omitempty"`
	StopOutside   bool                      `yaml:"stop_outside_windows,omitempty"`
	Latitude      float64                   `yaml:"latitude,omitempty"`
	Longitude     float64                   `yaml:"longitude,omitempty"`
	Global        GlobalGate                `yaml:"global,omitempty"`
	SpeakerGroups map[string][]string       `yaml:"speaker_groups,omitempty"`
	Devices       yaml.Node                 `yaml:"devices"`
	StateTriggers map[string][]StateTrigger `yaml:"state_triggers,omitempty"`
}

// Config is the validated configuration the engine runs on.
type Config struct {
	// CastInterval is the scheduler tick cadence.
	CastInterval time.Duration
	// WorkerLimit bounds concurrent per-device processing within a tick.
	WorkerLimit int
	// StopOutside makes the engine stop a dashboard it cast itself once the
	// device falls outside every window. Off by default: a showing
	// dashboard is otherwise left alone.
	StopOutside bool
	// Latitude and Longitude resolve sun-relative window boundaries.
	Latitude  float64
	Longitude float64

	Global        GlobalGate
	SpeakerGroups map[string][]string
	// Devices preserves the YAML declaration order.
	Devices       []Device
	StateTriggers map[string][]StateTrigger
}

const (
	defaultCastInterval = 30 * time.Second
	defaultWorkerLimit  = 4
	maxConfigVolume     = 10
)

// DeviceByName finds a configured device.
func (c *Config) DeviceByName(name string) *Device {
	for i := range c.Devices {
		if c.Devices[i].Name == name {
			return &c.Devices[i]
		}
	}
	return nil
}

// Load reads, parses and validates the YAML file at path.
func Load(path string, logger *zap.Logger) (*Config, error) {
	logger.Debug("Loading configuration", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.Int("devices", len(cfg.Devices)),
		zap.Duration("cast_interval", cfg.CastInterval))
	return cfg, nil
}

// Parse parses and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	var raw fileYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &Config{
		CastInterval:  defaultCastInterval,
		WorkerLimit:   defaultWorkerLimit,
		StopOutside:   raw.StopOutside,
		Latitude:      raw.Latitude,
		Longitude:     raw.Longitude,
		Global:        raw.Global,
		SpeakerGroups: raw.SpeakerGroups,
		StateTriggers: raw.StateTriggers,
	}

	if raw.CastInterval < 0 {
		return nil, fmt.Errorf("cast_interval must be positive, got %d", raw.CastInterval)
	}
	if raw.CastInterval > 0 {
		cfg.CastInterval = time.Duration(raw.CastInterval) * time.Second
	}
	if raw.WorkerLimit < 0 {
		return nil, fmt.Errorf("worker_limit must be positive, got %d", raw.WorkerLimit)
	}
	if raw.WorkerLimit > 0 {
		cfg.WorkerLimit = raw.WorkerLimit
	}

	if err := parseGlobal(&cfg.Global); err != nil {
		return nil, err
	}

	devices, err := parseDevices(&raw.Devices)
	if err != nil {
		return nil, err
	}
	cfg.Devices = devices

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseGlobal(g *GlobalGate) error {
	if g.StartTime == "" && g.EndTime == "" {
		return nil
	}
	if g.StartTime == "" || g.EndTime == "" {
		return fmt.Errorf("global window needs both start_time and end_time")
	}
	w, err := timewindow.ParseWindow(g.StartTime, g.EndTime)
	if err != nil {
		return fmt.Errorf("global window: %w", err)
	}
	g.Window = w
	g.HasWindow = true
	return nil
}

// parseDevices decodes the devices mapping node directly so that YAML
// declaration order survives into the Devices slice. A plain map would
// randomize it, and order is the documented tie break.
func parseDevices(node *yaml.Node) ([]Device, error) {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil, fmt.Errorf("no devices configured")
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("devices must be a mapping of device name to settings")
	}

	var devices []Device
	for i := 0; i < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var dy deviceYAML
		if err := node.Content[i+1].Decode(&dy); err != nil {
			return nil, fmt.Errorf("device %q: %w", name, err)
		}

		dev := Device{
			Name:          name,
			Windows:       dy.Windows,
			Volume:        dy.Volume,
			SwitchEntity:  dy.SwitchEntity,
			RequiredState: dy.RequiredState,
			StateName:     dy.StateName,
		}
		for j := range dev.Windows {
			w := &dev.Windows[j]
			parsed, err := timewindow.ParseWindow(w.StartTime, w.EndTime)
			if err != nil {
				return nil, fmt.Errorf("device %q window %d: %w", name, j, err)
			}
			w.Window = parsed
		}
		devices = append(devices, dev)
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices configured")
	}
	return devices, nil
}

func (c *Config) validate() error {
	names := make(map[string]bool, len(c.Devices))
	for i := range c.Devices {
		dev := &c.Devices[i]
		if names[dev.Name] {
			return fmt.Errorf("duplicate device %q", dev.Name)
		}
		names[dev.Name] = true

		if err := validVolume(dev.Volume); err != nil {
			return fmt.Errorf("device %q: %w", dev.Name, err)
		}
		if dev.SwitchEntity != "" && dev.RequiredState == "" {
			return fmt.Errorf("device %q: switch_entity without required_state", dev.Name)
		}

		for j, w := range dev.Windows {
			if w.DashboardURL == "" {
				return fmt.Errorf("device %q window %d: empty dashboard_url", dev.Name, j)
			}
			if err := validVolume(w.Volume); err != nil {
				return fmt.Errorf("device %q window %d: %w", dev.Name, j, err)
			}
			if w.SwitchEntity != "" && w.RequiredState == "" {
				return fmt.Errorf("device %q window %d: switch_entity without required_state", dev.Name, j)
			}
			if w.Window.IsSunRelative() && c.Latitude == 0 && c.Longitude == 0 {
				return fmt.Errorf("device %q window %d: sun-relative time needs latitude/longitude", dev.Name, j)
			}
		}
	}

	if c.Global.SwitchEntity != "" && c.Global.RequiredState == "" {
		return fmt.Errorf("global: switch_entity without required_state")
	}
	if c.Global.HasWindow && c.Global.Window.IsSunRelative() && c.Latitude == 0 && c.Longitude == 0 {
		return fmt.Errorf("global window: sun-relative time needs latitude/longitude")
	}

	for group, members := range c.SpeakerGroups {
		if len(members) == 0 {
			return fmt.Errorf("speaker group %q has no members", group)
		}
		for _, member := range members {
			if !names[member] {
				return fmt.Errorf("speaker group %q references unknown device %q", group, member)
			}
			dev := c.DeviceByName(member)
			dev.SpeakerGroups = append(dev.SpeakerGroups, group)
		}
	}

	for device, triggers := range c.StateTriggers {
		if !names[device] {
			return fmt.Errorf("state_triggers references unknown device %q", device)
		}
		for j, t := range triggers {
			if t.EntityID == "" {
				return fmt.Errorf("trigger %d for %q: empty entity_id", j, device)
			}
			if t.ToState == "" {
				return fmt.Errorf("trigger %d for %q: empty to_state", j, device)
			}
			if t.DashboardURL == "" {
				return fmt.Errorf("trigger %d for %q: empty dashboard_url", j, device)
			}
			if t.TimeOut < 0 {
				return fmt.Errorf("trigger %d for %q: negative time_out", j, device)
			}
		}
	}

	return nil
}

// WatchedEntities returns every entity id referenced anywhere in the config,
// for startup verification and event subscription.
func (c *Config) WatchedEntities() []string {
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
		}
	}

	add(c.Global.SwitchEntity)
	for _, dev := range c.Devices {
		add(dev.SwitchEntity)
		for _, w := range dev.Windows {
			add(w.SwitchEntity)
		}
	}
	for _, triggers := range c.StateTriggers {
		for _, t := range triggers {
			add(t.EntityID)
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

func validVolume(v *int) error {
	if v == nil {
		return nil
	}
	if *v < 0 || *v > maxConfigVolume {
		return fmt.Errorf("volume %d out of range 0..%d", *v, maxConfigVolume)
	}
	return nil
}

// VolumePercent converts a config-scale volume (0-10) to a transport
// percentage.
func VolumePercent(v int) int {
	return v * 10
}
