package timewindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInWindow(t *testing.T) {
	tests := []struct {
		name  string
		now   string
		start string
		end   string
		want  bool
	}{
		{"inside plain window", "08:00", "07:00", "12:00", true},
		{"at start is inside", "07:00", "07:00", "12:00", true},
		{"at end is outside", "12:00", "07:00", "12:00", false},
		{"before plain window", "06:59", "07:00", "12:00", false},
		{"after plain window", "13:00", "07:00", "12:00", false},
		{"wrapped evening side", "23:30", "22:00", "02:00", true},
		{"wrapped morning side", "01:00", "22:00", "02:00", true},
		{"wrapped at start", "22:00", "22:00", "02:00", true},
		{"wrapped at end", "02:00", "22:00", "02:00", false},
		{"wrapped midday outside", "10:00", "22:00", "02:00", false},
		{"zero-length window never matches", "07:00", "07:00", "07:00", false},
		{"midnight inside wrap", "00:00", "22:00", "02:00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want,
				InWindow(mustMinute(t, tt.now), mustMinute(t, tt.start), mustMinute(t, tt.end)))
		})
	}
}

func mustMinute(t *testing.T, s string) int {
	t.Helper()
	parsed, err := time.Parse("15:04", s)
	require.NoError(t, err)
	return parsed.Hour()*60 + parsed.Minute()
}

func TestParseBoundary(t *testing.T) {
	tests := []struct {
		in      string
		want    Boundary
		wantErr bool
	}{
		{in: "07:30", want: Boundary{Anchor: AnchorFixed, Minute: 7*60 + 30}},
		{in: "00:00", want: Boundary{Anchor: AnchorFixed, Minute: 0}},
		{in: "23:59", want: Boundary{Anchor: AnchorFixed, Minute: 23*60 + 59}},
		{in: "sunrise", want: Boundary{Anchor: AnchorSunrise}},
		{in: "sunset", want: Boundary{Anchor: AnchorSunset}},
		{in: "sunrise+30", want: Boundary{Anchor: AnchorSunrise, Minute: 30}},
		{in: "sunset-45", want: Boundary{Anchor: AnchorSunset, Minute: -45}},
		{in: "Sunset-45", want: Boundary{Anchor: AnchorSunset, Minute: -45}},
		{in: "", wantErr: true},
		{in: "25:00", wantErr: true},
		{in: "7am", wantErr: true},
		{in: "sunrise30", wantErr: true},
		{in: "sunset+", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBoundary(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWindowContains_SunRelative(t *testing.T) {
	// Fixed sun times: sunrise 06:30, sunset 19:45.
	sun := SunTimes{Sunrise: 6*60 + 30, Sunset: 19*60 + 45}

	w, err := ParseWindow("sunrise+30", "sunset-45")
	require.NoError(t, err)
	assert.True(t, w.IsSunRelative())

	at := func(h, m int) time.Time {
		return time.Date(2026, 8, 25, h, m, 0, 0, time.UTC)
	}

	// Effective window is 07:00 to 19:00.
	assert.False(t, w.Contains(at(6, 59), sun))
	assert.True(t, w.Contains(at(7, 0), sun))
	assert.True(t, w.Contains(at(12, 0), sun))
	assert.False(t, w.Contains(at(19, 0), sun))
}

func TestWindowContains_FixedIgnoresSun(t *testing.T) {
	w, err := ParseWindow("22:00", "02:00")
	require.NoError(t, err)
	assert.False(t, w.IsSunRelative())

	assert.True(t, w.Contains(time.Date(2026, 8, 25, 23, 30, 0, 0, time.UTC), SunTimes{}))
	assert.True(t, w.Contains(time.Date(2026, 8, 25, 1, 0, 0, 0, time.UTC), SunTimes{}))
	assert.False(t, w.Contains(time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC), SunTimes{}))
}

func TestSunCalc_CachesPerDay(t *testing.T) {
	calc := NewSunCalc(32.85486, -97.50515)

	noon := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	first := calc.Times(noon)
	second := calc.Times(noon.Add(2 * time.Hour))
	assert.Equal(t, first, second, "same day should be served from cache")

	nextDay := calc.Times(noon.Add(24 * time.Hour))
	assert.NotZero(t, nextDay.Sunrise)
	assert.Greater(t, nextDay.Sunset, nextDay.Sunrise, "sunset should follow sunrise")
}
