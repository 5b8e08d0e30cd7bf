package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"castkeeper/internal/config"
)

func testDevice(t *testing.T) *config.Device {
	t.Helper()
	cfg, err := config.Parse([]byte(`
devices:
  Kitchen display:
    volume: 3
    windows:
      - dashboard_url: http://ha.local:8123/lovelace/morning
        start_time: "07:00"
        end_time: "12:00"
        volume: 6
      - dashboard_url: http://ha.local:8123/lovelace/day
        start_time: "12:00"
        end_time: "23:59"
`))
	require.NoError(t, err)
	return &cfg.Devices[0]
}

func staticLookup(states map[string]string) EntityLookup {
	return func(entityID string) (string, bool) {
		s, ok := states[entityID]
		return s, ok
	}
}

func newTestResolver(states map[string]string) *Resolver {
	logger, _ := zap.NewDevelopment()
	return NewResolver(staticLookup(states), nil, logger)
}

func at(h, m int) time.Time {
	return time.Date(2026, 8, 25, h, m, 0, 0, time.UTC)
}

func TestResolver_FirstMatchingWindowWins(t *testing.T) {
	r := newTestResolver(nil)
	dev := testDevice(t)

	morning := r.Resolve(dev, nil, at(8, 0))
	require.True(t, morning.Cast)
	assert.Equal(t, "http://ha.local:8123/lovelace/morning", morning.URL)
	require.NotNil(t, morning.Volume)
	assert.Equal(t, 6, *morning.Volume, "window volume overrides device volume")

	day := r.Resolve(dev, nil, at(13, 0))
	require.True(t, day.Cast)
	assert.Equal(t, "http://ha.local:8123/lovelace/day", day.URL)
	require.NotNil(t, day.Volume)
	assert.Equal(t, 3, *day.Volume, "device volume applies when window has none")

	night := r.Resolve(dev, nil, at(23, 59))
	assert.False(t, night.Cast, "no window covers the final minute")
}

func TestResolver_OverlapResolvedByDeclarationOrder(t *testing.T) {
	cfg, err := config.Parse([]byte(`
devices:
  Display:
    windows:
      - dashboard_url: http://ha.local:8123/first
        start_time: "08:00"
        end_time: "10:00"
      - dashboard_url: http://ha.local:8123/second
        start_time: "07:00"
        end_time: "23:00"
`))
	require.NoError(t, err)
	r := newTestResolver(nil)

	// Both windows contain 09:00; the earlier declaration wins even though
	// the second is far longer.
	d := r.Resolve(&cfg.Devices[0], nil, at(9, 0))
	require.True(t, d.Cast)
	assert.Equal(t, "http://ha.local:8123/first", d.URL)

	// Outside the first window only the second matches.
	d = r.Resolve(&cfg.Devices[0], nil, at(11, 0))
	require.True(t, d.Cast)
	assert.Equal(t, "http://ha.local:8123/second", d.URL)
}

func TestResolver_OverrideBeatsWindows(t *testing.T) {
	r := newTestResolver(nil)
	dev := testDevice(t)

	ov := &Override{
		EntityID: "binary_sensor.doorbell",
		ToState:  "on",
		URL:      "http://ha.local:8123/lovelace/camera",
		Force:    true,
	}
	d := r.Resolve(dev, ov, at(8, 0))
	require.True(t, d.Cast)
	assert.Equal(t, ov.URL, d.URL)
	assert.True(t, d.Force)
	assert.True(t, d.FromOverride)
	assert.Nil(t, d.Volume)
}

func TestResolver_DeviceGateSuppressesWindowsNotOverride(t *testing.T) {
	cfg, err := config.Parse([]byte(`
devices:
  Display:
    switch_entity: input_boolean.display_cast
    required_state: "on"
    windows:
      - dashboard_url: http://ha.local:8123/home
        start_time: "07:00"
        end_time: "23:00"
`))
	require.NoError(t, err)
	dev := &cfg.Devices[0]

	r := newTestResolver(map[string]string{"input_boolean.display_cast": "off"})

	d := r.Resolve(dev, nil, at(9, 0))
	assert.False(t, d.Cast, "closed device gate suppresses window resolution")

	ov := &Override{EntityID: "binary_sensor.x", ToState: "on", URL: "http://ha.local:8123/alert"}
	d = r.Resolve(dev, ov, at(9, 0))
	assert.True(t, d.Cast, "an active override is not gated by the device switch")
	assert.Equal(t, ov.URL, d.URL)
}

func TestResolver_WindowGate(t *testing.T) {
	cfg, err := config.Parse([]byte(`
devices:
  Display:
    windows:
      - dashboard_url: http://ha.local:8123/gated
        start_time: "07:00"
        end_time: "23:00"
        switch_entity: input_boolean.gated
        required_state: "on"
      - dashboard_url: http://ha.local:8123/fallback
        start_time: "07:00"
        end_time: "23:00"
`))
	require.NoError(t, err)
	dev := &cfg.Devices[0]

	// Closed window gate lets the next declared window match instead.
	r := newTestResolver(map[string]string{"input_boolean.gated": "off"})
	d := r.Resolve(dev, nil, at(9, 0))
	require.True(t, d.Cast)
	assert.Equal(t, "http://ha.local:8123/fallback", d.URL)

	r = newTestResolver(map[string]string{"input_boolean.gated": "on"})
	d = r.Resolve(dev, nil, at(9, 0))
	require.True(t, d.Cast)
	assert.Equal(t, "http://ha.local:8123/gated", d.URL)
}

func TestResolver_UnknownGateEntityDefaultsToEnabled(t *testing.T) {
	cfg, err := config.Parse([]byte(`
devices:
  Display:
    switch_entity: input_boolean.never_seen
    required_state: "on"
    windows:
      - dashboard_url: http://ha.local:8123/home
        start_time: "07:00"
        end_time: "23:00"
`))
	require.NoError(t, err)

	r := newTestResolver(nil)
	d := r.Resolve(&cfg.Devices[0], nil, at(9, 0))
	assert.True(t, d.Cast, "a gate entity with no observed state must not block casting")
}
