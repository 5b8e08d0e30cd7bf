package engine

import (
	"sync"
	"time"

	"castkeeper/internal/probe"
)

// Override is an active entity-triggered override for one device. At most
// one exists per device; a newly activated trigger replaces it.
type Override struct {
	EntityID    string
	ToState     string
	URL         string
	Force       bool
	ActivatedAt time.Time
	// Timeout of zero means the override only ends when the entity leaves
	// ToState.
	Timeout time.Duration
}

// deviceRuntime is the mutable per-device record owned by the controller.
// The mutex serializes tick processing against event-driven override
// mutation; nothing else touches these fields.
type deviceRuntime struct {
	mu   sync.Mutex
	name string

	lastCastURL string
	lastCastAt  time.Time
	failures    int
	override    *Override

	lastClass probe.Class
	// leftDashboardAt is when the device was last seen transitioning away
	// from showing the dashboard. Re-casting is damped for a short quiet
	// period after that, so a deliberate interruption is not fought.
	leftDashboardAt time.Time
}

// observeClass records a fresh classification, tracking the moment the
// device stops showing the dashboard. Caller holds mu.
func (rt *deviceRuntime) observeClass(c probe.Class, now time.Time) {
	if rt.lastClass == probe.ShowingDashboard && c != probe.ShowingDashboard {
		rt.leftDashboardAt = now
	}
	rt.lastClass = c
}

// OverrideStatus is the diagnostic view of an active override.
type OverrideStatus struct {
	EntityID    string    `json:"entity_id"`
	ToState     string    `json:"to_state"`
	URL         string    `json:"dashboard_url"`
	Force       bool      `json:"force_cast"`
	ActivatedAt time.Time `json:"activated_at"`
	TimeoutSec  int       `json:"timeout_seconds,omitempty"`
}

// DeviceStatus is the diagnostic snapshot of one device's runtime state.
type DeviceStatus struct {
	Name        string          `json:"name"`
	State       string          `json:"state"`
	LastCastURL string          `json:"last_cast_url,omitempty"`
	LastCastAt  *time.Time      `json:"last_cast_at,omitempty"`
	Failures    int             `json:"consecutive_failures"`
	Override    *OverrideStatus `json:"override,omitempty"`
}

func (rt *deviceRuntime) snapshot() DeviceStatus {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	st := DeviceStatus{
		Name:        rt.name,
		State:       rt.lastClass.String(),
		LastCastURL: rt.lastCastURL,
		Failures:    rt.failures,
	}
	if rt.failures > 0 {
		st.State = "unreachable"
	}
	if !rt.lastCastAt.IsZero() {
		t := rt.lastCastAt
		st.LastCastAt = &t
	}
	if ov := rt.override; ov != nil {
		st.Override = &OverrideStatus{
			EntityID:    ov.EntityID,
			ToState:     ov.ToState,
			URL:         ov.URL,
			Force:       ov.Force,
			ActivatedAt: ov.ActivatedAt,
			TimeoutSec:  int(ov.Timeout.Seconds()),
		}
	}
	return st
}
