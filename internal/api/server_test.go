package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"castkeeper/internal/engine"
)

// fakeEngine implements Engine with canned state.
type fakeEngine struct {
	devices   []engine.DeviceStatus
	settings  engine.Settings
	updateErr error
	updated   *engine.Settings
}

func (f *fakeEngine) Snapshot() []engine.DeviceStatus { return f.devices }
func (f *fakeEngine) Settings() engine.Settings       { return f.settings }
func (f *fakeEngine) UpdateSettings(ns engine.Settings) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = &ns
	f.settings = ns
	return nil
}

func newTestServer(eng Engine) *Server {
	logger, _ := zap.NewDevelopment()
	return NewServer(eng, logger, 0)
}

func TestHandleDevices(t *testing.T) {
	now := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)
	eng := &fakeEngine{
		devices: []engine.DeviceStatus{
			{
				Name:        "Kitchen",
				State:       "showing_dashboard",
				LastCastURL: "http://ha.local:8123/lovelace/kitchen",
				LastCastAt:  &now,
			},
			{Name: "Living", State: "unreachable", Failures: 3},
		},
	}
	s := newTestServer(eng)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	w := httptest.NewRecorder()
	s.handleDevices(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got []engine.DeviceStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "Kitchen", got[0].Name)
	assert.Equal(t, "showing_dashboard", got[0].State)
	assert.Equal(t, 3, got[1].Failures)
}

func TestHandleDevices_MethodNotAllowed(t *testing.T) {
	s := newTestServer(&fakeEngine{})

	req := httptest.NewRequest(http.MethodPost, "/api/devices", nil)
	w := httptest.NewRecorder()
	s.handleDevices(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleSettings_Get(t *testing.T) {
	s := newTestServer(&fakeEngine{
		settings: engine.Settings{
			CastInterval:      45 * time.Second,
			GlobalStart:       "06:00",
			GlobalEnd:         "23:00",
			GateEntity:        "input_boolean.casting_enabled",
			GateRequiredState: "on",
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	w := httptest.NewRecorder()
	s.handleSettings(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var got SettingsPayload
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, 45, got.CastIntervalSeconds)
	assert.Equal(t, "06:00", got.GlobalStart)
	assert.Equal(t, "input_boolean.casting_enabled", got.GateEntity)
}

func TestHandleSettings_Post(t *testing.T) {
	eng := &fakeEngine{settings: engine.Settings{CastInterval: 30 * time.Second}}
	s := newTestServer(eng)

	body := strings.NewReader(`{
		"cast_interval_seconds": 60,
		"global_start": "07:00",
		"global_end": "22:00"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/settings", body)
	w := httptest.NewRecorder()
	s.handleSettings(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, eng.updated)
	assert.Equal(t, 60*time.Second, eng.updated.CastInterval)
	assert.Equal(t, "07:00", eng.updated.GlobalStart)

	// The response echoes the settings now in effect.
	var got SettingsPayload
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, 60, got.CastIntervalSeconds)
}

func TestHandleSettings_PostRejected(t *testing.T) {
	eng := &fakeEngine{updateErr: fmt.Errorf("cast interval must be at least 1s")}
	s := newTestServer(eng)

	req := httptest.NewRequest(http.MethodPost, "/api/settings",
		strings.NewReader(`{"cast_interval_seconds": 0}`))
	w := httptest.NewRecorder()
	s.handleSettings(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "at least 1s")
}

func TestHandleSettings_InvalidJSON(t *testing.T) {
	s := newTestServer(&fakeEngine{})

	req := httptest.NewRequest(http.MethodPost, "/api/settings",
		strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.handleSettings(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&fakeEngine{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())
}

func TestHandleSitemap(t *testing.T) {
	s := newTestServer(&fakeEngine{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.handleSitemap(w, req)

	// 404 on purpose, with a helpful body.
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "/api/devices")
	assert.Contains(t, w.Body.String(), "/api/settings")
}

func TestHandleSitemap_UnknownPath(t *testing.T) {
	s := newTestServer(&fakeEngine{})

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	s.handleSitemap(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), "/api/devices")
}
