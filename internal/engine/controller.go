package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"castkeeper/internal/clock"
	"castkeeper/internal/config"
	"castkeeper/internal/probe"
	"castkeeper/internal/transport"
)

// reconnectQuiet is how long a device is left alone after it stops showing
// the dashboard. Voice commands and deliberate interruptions briefly leave
// the device idle; re-casting immediately would fight the user.
const reconnectQuiet = 30 * time.Second

// failureEscalation is the unreachable streak length at which log severity
// rises from warn to error.
const failureEscalation = 3

// Controller runs the per-device state machine: probe, decide, act at most
// once. Failures are counted, never fatal; the device is retried every tick.
type Controller struct {
	tr       transport.Transport
	resolver *Resolver
	clk      clock.Clock
	logger   *zap.Logger

	stopOutside bool

	// publishClass shares a fresh classification with groupmates without
	// touching their runtime locks.
	publishClass func(device string, class probe.Class)
	// groupBusy reports whether any speaker-group mate of the device was
	// last seen playing other media.
	groupBusy func(dev *config.Device) bool
}

// NewController wires a controller. publishClass and groupBusy may be nil
// when speaker groups are not in play.
func NewController(tr transport.Transport, resolver *Resolver, clk clock.Clock, logger *zap.Logger, stopOutside bool) *Controller {
	return &Controller{
		tr:          tr,
		resolver:    resolver,
		clk:         clk,
		logger:      logger.Named("controller"),
		stopOutside: stopOutside,
	}
}

// Process runs one full probe-decide-act cycle for a device. It holds the
// device's runtime lock throughout, so ticks and entity events for the same
// device never interleave.
func (c *Controller) Process(ctx context.Context, dev *config.Device, rt *deviceRuntime) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := c.clk.Now()
	c.expireOverride(rt, now)

	decision := c.resolver.Resolve(dev, rt.override, now)
	if !decision.Cast {
		c.maybeStop(ctx, dev, rt, now)
		return
	}

	status, err := c.tr.Status(ctx, dev.Name)
	if err != nil {
		c.fail(rt, dev.Name, "status", err)
		return
	}
	res := probe.Classify(status, dev.StateName)
	rt.observeClass(res.Class, now)
	c.publish(dev.Name, res.Class)

	busy := res.Class == probe.OtherMedia
	if !busy && c.groupBusy != nil && c.groupBusy(dev) {
		busy = true
	}
	if busy && !decision.Force {
		c.logger.Info("Device busy, skipping cast",
			zap.String("device", dev.Name),
			zap.String("class", res.Class.String()))
		return
	}

	if res.Class == probe.ShowingDashboard && rt.lastCastURL == decision.URL {
		rt.failures = 0
		return
	}

	if !decision.Force && !rt.leftDashboardAt.IsZero() &&
		now.Sub(rt.leftDashboardAt) < reconnectQuiet {
		c.logger.Debug("Within reconnect quiet period, skipping cast",
			zap.String("device", dev.Name))
		return
	}

	if err := c.tr.Cast(ctx, dev.Name, decision.URL); err != nil {
		c.fail(rt, dev.Name, "cast", err)
		return
	}

	c.applyVolume(ctx, dev.Name, decision, res.Volume)

	rt.lastCastURL = decision.URL
	rt.lastCastAt = now
	rt.failures = 0
	rt.lastClass = probe.ShowingDashboard

	c.logger.Info("Cast dashboard",
		zap.String("device", dev.Name),
		zap.String("url", decision.URL),
		zap.Bool("override", decision.FromOverride),
		zap.Bool("force", decision.Force))
}

// expireOverride clears a dead override before resolution, so window-based
// resolution resumes on the same tick. An override dies when its timeout
// elapses or the watched entity leaves the trigger state.
func (c *Controller) expireOverride(rt *deviceRuntime, now time.Time) {
	ov := rt.override
	if ov == nil {
		return
	}

	if ov.Timeout > 0 && now.Sub(ov.ActivatedAt) >= ov.Timeout {
		rt.override = nil
		c.logger.Info("Override expired",
			zap.String("device", rt.name),
			zap.String("entity", ov.EntityID))
		return
	}
	// An entity that disappeared from Home Assistant entirely counts as
	// having left the trigger state; otherwise a timeout-less override
	// would live forever.
	if state, ok := c.resolver.lookup(ov.EntityID); !ok || state != ov.ToState {
		rt.override = nil
		c.logger.Info("Override entity left trigger state",
			zap.String("device", rt.name),
			zap.String("entity", ov.EntityID),
			zap.String("state", state))
	}
}

// maybeStop handles the no-action branch. A showing dashboard is normally
// left alone; with stop_outside_windows set, one we cast ourselves is
// stopped once the device falls outside every window.
func (c *Controller) maybeStop(ctx context.Context, dev *config.Device, rt *deviceRuntime, now time.Time) {
	if !c.stopOutside || rt.lastCastURL == "" {
		return
	}

	status, err := c.tr.Status(ctx, dev.Name)
	if err != nil {
		c.logger.Debug("Status probe failed during stop check",
			zap.String("device", dev.Name), zap.Error(err))
		return
	}
	res := probe.Classify(status, dev.StateName)
	rt.observeClass(res.Class, now)
	c.publish(dev.Name, res.Class)
	if res.Class != probe.ShowingDashboard {
		return
	}

	if err := c.tr.Stop(ctx, dev.Name); err != nil {
		c.logger.Warn("Failed to stop out-of-window dashboard",
			zap.String("device", dev.Name), zap.Error(err))
		return
	}
	rt.lastCastURL = ""
	rt.observeClass(probe.Idle, now)
	c.logger.Info("Stopped dashboard outside active windows",
		zap.String("device", dev.Name))
}

// applyVolume sets the configured volume after a cast, or restores the
// level probed beforehand when none is configured.
func (c *Controller) applyVolume(ctx context.Context, device string, d Decision, probed int) {
	var percent int
	switch {
	case d.Volume != nil:
		percent = config.VolumePercent(*d.Volume)
	case probed >= 0:
		percent = probed
	default:
		return
	}

	if err := c.tr.SetVolume(ctx, device, percent); err != nil {
		c.logger.Warn("Failed to set volume",
			zap.String("device", device),
			zap.Int("percent", percent),
			zap.Error(err))
	}
}

func (c *Controller) fail(rt *deviceRuntime, device, op string, err error) {
	rt.failures++

	fields := []zap.Field{
		zap.String("device", device),
		zap.String("op", op),
		zap.Int("consecutive_failures", rt.failures),
		zap.Error(err),
	}
	if rt.failures >= failureEscalation {
		c.logger.Error("Device unreachable", fields...)
	} else {
		c.logger.Warn("Transport command failed", fields...)
	}
}

func (c *Controller) publish(device string, class probe.Class) {
	if c.publishClass != nil {
		c.publishClass(device, class)
	}
}
