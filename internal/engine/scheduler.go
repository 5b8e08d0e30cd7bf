package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"castkeeper/internal/clock"
	"castkeeper/internal/config"
	"castkeeper/internal/ha"
	"castkeeper/internal/probe"
	"castkeeper/internal/timewindow"
	"castkeeper/internal/transport"
)

// deviceTimeout bounds one device's probe-decide-act cycle. A cycle that
// overruns is abandoned and counted as a transport failure; other devices
// and the next tick are unaffected.
const deviceTimeout = 45 * time.Second

// Settings are the globally tunable knobs exposed for runtime mutation.
// Device and window configuration stays immutable for the process lifetime.
type Settings struct {
	CastInterval      time.Duration
	GlobalStart       string
	GlobalEnd         string
	GateEntity        string
	GateRequiredState string
}

type settingsState struct {
	Settings
	window    timewindow.Window
	hasWindow bool
}

// Scheduler drives all devices on a fixed interval and feeds asynchronous
// entity-change events into per-device override state. Devices are
// processed concurrently under a worker limit; each device's processing is
// serialized by its runtime lock.
type Scheduler struct {
	cfg    *config.Config
	client ha.EntityClient
	ctrl   *Controller
	clk    clock.Clock
	logger *zap.Logger
	sun    *timewindow.SunCalc

	mu       sync.RWMutex
	settings settingsState
	entities map[string]string
	classes  map[string]probe.Class

	runtimes map[string]*deviceRuntime

	kick   chan string
	stopCh chan struct{}
	done   chan struct{}
	sem    chan struct{}
	subs   []ha.Subscription
}

// NewScheduler wires the engine together from validated configuration.
func NewScheduler(cfg *config.Config, client ha.EntityClient, tr transport.Transport, clk clock.Clock, logger *zap.Logger) *Scheduler {
	logger = logger.Named("engine")

	var sun *timewindow.SunCalc
	if cfg.Latitude != 0 || cfg.Longitude != 0 {
		sun = timewindow.NewSunCalc(cfg.Latitude, cfg.Longitude)
	}

	s := &Scheduler{
		cfg:    cfg,
		client: client,
		clk:    clk,
		logger: logger,
		sun:    sun,
		settings: settingsState{
			Settings: Settings{
				CastInterval:      cfg.CastInterval,
				GlobalStart:       cfg.Global.StartTime,
				GlobalEnd:         cfg.Global.EndTime,
				GateEntity:        cfg.Global.SwitchEntity,
				GateRequiredState: cfg.Global.RequiredState,
			},
			window:    cfg.Global.Window,
			hasWindow: cfg.Global.HasWindow,
		},
		entities: make(map[string]string),
		classes:  make(map[string]probe.Class),
		runtimes: make(map[string]*deviceRuntime, len(cfg.Devices)),
		kick:     make(chan string, len(cfg.Devices)*2),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		sem:      make(chan struct{}, cfg.WorkerLimit),
	}

	for i := range cfg.Devices {
		name := cfg.Devices[i].Name
		s.runtimes[name] = &deviceRuntime{name: name}
	}

	resolver := NewResolver(s.entityState, sun, logger)
	s.ctrl = NewController(tr, resolver, clk, logger, cfg.StopOutside)
	s.ctrl.publishClass = s.setClass
	s.ctrl.groupBusy = s.groupBusy

	return s
}

// Start verifies every referenced entity, primes the state cache,
// subscribes to changes and launches the tick loop. An unresolvable entity
// reference is a configuration error and fatal.
func (s *Scheduler) Start() error {
	for _, entityID := range s.cfg.WatchedEntities() {
		state, err := s.client.GetState(entityID)
		if err != nil {
			return fmt.Errorf("referenced entity %s cannot be resolved: %w", entityID, err)
		}

		s.mu.Lock()
		s.entities[entityID] = state.State
		s.mu.Unlock()

		id := entityID
		sub, err := s.client.SubscribeStateChanges(id, func(entity string, oldState, newState *ha.State) {
			s.handleEntityChange(entity, oldState, newState)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", id, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.logger.Info("Scheduler started",
		zap.Int("devices", len(s.cfg.Devices)),
		zap.Duration("cast_interval", s.Settings().CastInterval),
		zap.Int("worker_limit", cap(s.sem)))

	go s.run()
	return nil
}

// Stop shuts the tick loop down and drops entity subscriptions.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.done

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) run() {
	defer close(s.done)

	// The tick timer is armed once and re-armed only after it fires.
	// Re-arming on every loop iteration would let a fast-flapping trigger
	// entity push the tick deadline out forever, starving every device
	// the kicks don't name.
	tick := s.clk.After(s.interval())
	for {
		select {
		case <-s.stopCh:
			return
		case name := <-s.kick:
			s.processByName(name)
		case <-tick:
			s.tick()
			tick = s.clk.After(s.interval())
		}
	}
}

// tick processes every device concurrently, bounded by the worker limit.
// The global gate is evaluated once; disabled means zero transport calls
// this tick.
func (s *Scheduler) tick() {
	if !s.gateEnabled(s.clk.Now()) {
		s.logger.Debug("Global gate disabled, skipping tick")
		return
	}

	var wg sync.WaitGroup
	for i := range s.cfg.Devices {
		dev := &s.cfg.Devices[i]
		wg.Add(1)
		s.sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-s.sem }()
			s.process(dev)
		}()
	}
	wg.Wait()
}

// processByName handles an off-cycle kick for one device, typically after
// an entity event changed its override state.
func (s *Scheduler) processByName(name string) {
	if !s.gateEnabled(s.clk.Now()) {
		return
	}
	dev := s.cfg.DeviceByName(name)
	if dev == nil {
		return
	}

	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	s.process(dev)
}

func (s *Scheduler) process(dev *config.Device) {
	ctx, cancel := context.WithTimeout(context.Background(), deviceTimeout)
	defer cancel()
	s.ctrl.Process(ctx, dev, s.runtimes[dev.Name])
}

// handleEntityChange updates the entity cache and override state, then
// kicks an off-cycle cycle for affected devices so the change is observed
// without waiting for the next tick.
func (s *Scheduler) handleEntityChange(entityID string, _, newState *ha.State) {
	value := ""
	if newState != nil {
		value = newState.State
	}

	s.mu.Lock()
	if newState == nil {
		delete(s.entities, entityID)
	} else {
		s.entities[entityID] = value
	}
	s.mu.Unlock()

	s.logger.Debug("Entity changed",
		zap.String("entity", entityID),
		zap.String("state", value))

	now := s.clk.Now()
	for device, triggers := range s.cfg.StateTriggers {
		for _, t := range triggers {
			if t.EntityID != entityID {
				continue
			}
			if value == t.ToState {
				s.activateOverride(device, t, now)
			}
			// Leaving to_state is handled by override expiry inside the
			// kicked cycle, which re-reads the cache.
			s.kickDevice(device)
		}
	}
}

func (s *Scheduler) activateOverride(device string, t config.StateTrigger, now time.Time) {
	rt, ok := s.runtimes[device]
	if !ok {
		return
	}

	rt.mu.Lock()
	rt.override = &Override{
		EntityID:    t.EntityID,
		ToState:     t.ToState,
		URL:         t.DashboardURL,
		Force:       t.ForceCast,
		ActivatedAt: now,
		Timeout:     time.Duration(t.TimeOut) * time.Second,
	}
	rt.mu.Unlock()

	s.logger.Info("Override activated",
		zap.String("device", device),
		zap.String("entity", t.EntityID),
		zap.String("url", t.DashboardURL),
		zap.Bool("force", t.ForceCast),
		zap.Int("timeout_seconds", t.TimeOut))
}

func (s *Scheduler) kickDevice(name string) {
	select {
	case s.kick <- name:
	default:
		// A full kick queue means a cycle is already pending.
	}
}

// gateEnabled evaluates the global switch entity and global window. A gate
// entity with no cached state defaults to enabled.
func (s *Scheduler) gateEnabled(now time.Time) bool {
	s.mu.RLock()
	st := s.settings
	s.mu.RUnlock()

	if st.GateEntity != "" {
		if state, ok := s.entityState(st.GateEntity); ok && state != st.GateRequiredState {
			return false
		}
	}
	if st.hasWindow {
		var sun timewindow.SunTimes
		if s.sun != nil {
			sun = s.sun.Times(now)
		}
		if !st.window.Contains(now, sun) {
			return false
		}
	}
	return true
}

func (s *Scheduler) interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.CastInterval
}

func (s *Scheduler) entityState(entityID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.entities[entityID]
	return state, ok
}

func (s *Scheduler) setClass(device string, class probe.Class) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[device] = class
}

// groupBusy reports whether any speaker-group mate of dev was last
// classified as playing other media. Classifications live in their own map
// so no groupmate runtime lock is taken.
func (s *Scheduler) groupBusy(dev *config.Device) bool {
	if len(dev.SpeakerGroups) == 0 {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, group := range dev.SpeakerGroups {
		for _, member := range s.cfg.SpeakerGroups[group] {
			if member == dev.Name {
				continue
			}
			if s.classes[member] == probe.OtherMedia {
				return true
			}
		}
	}
	return false
}

// Snapshot returns the diagnostic view of every device, in declaration
// order.
func (s *Scheduler) Snapshot() []DeviceStatus {
	out := make([]DeviceStatus, 0, len(s.cfg.Devices))
	for i := range s.cfg.Devices {
		out = append(out, s.runtimes[s.cfg.Devices[i].Name].snapshot())
	}
	return out
}

// Settings returns the current runtime settings.
func (s *Scheduler) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Settings
}

// UpdateSettings applies new runtime settings without restart. The interval
// takes effect after the current tick wait; the window and gate apply from
// the next gate evaluation.
func (s *Scheduler) UpdateSettings(ns Settings) error {
	if ns.CastInterval < time.Second {
		return fmt.Errorf("cast interval must be at least 1s, got %s", ns.CastInterval)
	}
	if (ns.GlobalStart == "") != (ns.GlobalEnd == "") {
		return fmt.Errorf("global window needs both start and end")
	}
	if ns.GateEntity != "" && ns.GateRequiredState == "" {
		return fmt.Errorf("gate entity needs a required state")
	}

	st := settingsState{Settings: ns}
	if ns.GlobalStart != "" {
		w, err := timewindow.ParseWindow(ns.GlobalStart, ns.GlobalEnd)
		if err != nil {
			return fmt.Errorf("global window: %w", err)
		}
		if w.IsSunRelative() && s.sun == nil {
			return fmt.Errorf("global window: sun-relative time needs latitude/longitude")
		}
		st.window = w
		st.hasWindow = true
	}

	s.mu.Lock()
	s.settings = st
	s.mu.Unlock()

	s.logger.Info("Settings updated",
		zap.Duration("cast_interval", ns.CastInterval),
		zap.String("global_start", ns.GlobalStart),
		zap.String("global_end", ns.GlobalEnd),
		zap.String("gate_entity", ns.GateEntity))
	return nil
}
