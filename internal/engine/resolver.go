// Package engine is the scheduling and decision core: per device per tick it
// resolves which dashboard should be showing, probes the device, and issues
// at most one transport action, honoring overrides, gates and failure
// isolation.
package engine

import (
	"time"

	"go.uber.org/zap"

	"castkeeper/internal/config"
	"castkeeper/internal/timewindow"
)

// Decision is the resolver's answer for one device at one instant.
type Decision struct {
	// Cast is false for no-action.
	Cast bool
	URL  string
	// Volume is on the 0-10 config scale; nil means none configured.
	Volume *int
	// Force permits interrupting other media.
	Force bool
	// FromOverride marks a decision produced by an active trigger override.
	FromOverride bool
}

// EntityLookup returns the cached state of an entity. ok is false when the
// entity has never been observed.
type EntityLookup func(entityID string) (state string, ok bool)

// Resolver turns device configuration plus live gate/override state into a
// Decision. Override expiry is the controller's job; the resolver only reads
// whatever override it is handed.
type Resolver struct {
	lookup EntityLookup
	sun    *timewindow.SunCalc
	logger *zap.Logger
}

// NewResolver creates a resolver reading entity state through lookup.
func NewResolver(lookup EntityLookup, sun *timewindow.SunCalc, logger *zap.Logger) *Resolver {
	return &Resolver{lookup: lookup, sun: sun, logger: logger.Named("resolver")}
}

// gateSatisfied evaluates a switch-entity gate. An empty entity means no
// gate. An entity with no observed state defaults to enabled.
func (r *Resolver) gateSatisfied(entityID, required string) bool {
	if entityID == "" {
		return true
	}
	state, ok := r.lookup(entityID)
	if !ok {
		return true
	}
	return state == required
}

// Resolve implements the precedence chain for one device: device gate
// suppresses window resolution but not an active override; the override, if
// alive, wins outright; otherwise the first declared window containing now
// with a satisfied gate wins, regardless of later matches.
func (r *Resolver) Resolve(dev *config.Device, ov *Override, now time.Time) Decision {
	deviceGateOpen := r.gateSatisfied(dev.SwitchEntity, dev.RequiredState)

	if ov != nil {
		return Decision{Cast: true, URL: ov.URL, Force: ov.Force, FromOverride: true}
	}

	if !deviceGateOpen {
		r.logger.Debug("Device gate closed, windows suppressed",
			zap.String("device", dev.Name),
			zap.String("entity", dev.SwitchEntity))
		return Decision{}
	}

	var sun timewindow.SunTimes
	if r.sun != nil {
		sun = r.sun.Times(now)
	}

	matched := false
	var decision Decision
	for i := range dev.Windows {
		w := &dev.Windows[i]
		if !w.Window.Contains(now, sun) {
			continue
		}
		if !r.gateSatisfied(w.SwitchEntity, w.RequiredState) {
			continue
		}
		if matched {
			// Overlap is legal; the earlier declaration already won.
			r.logger.Debug("Overlapping window ignored",
				zap.String("device", dev.Name),
				zap.Int("window", i))
			continue
		}
		matched = true
		vol := w.Volume
		if vol == nil {
			vol = dev.Volume
		}
		decision = Decision{Cast: true, URL: w.DashboardURL, Volume: vol}
	}
	return decision
}
