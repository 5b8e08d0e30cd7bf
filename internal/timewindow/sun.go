package timewindow

import (
	"sync"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// SunCalc resolves today's sunrise/sunset for a fixed location, caching the
// result per calendar day.
type SunCalc struct {
	latitude  float64
	longitude float64

	mu     sync.Mutex
	day    string
	cached SunTimes
}

// NewSunCalc creates a calculator for the given coordinates.
func NewSunCalc(latitude, longitude float64) *SunCalc {
	return &SunCalc{latitude: latitude, longitude: longitude}
}

// Times returns sun event times for the day of now, in now's location.
func (c *SunCalc) Times(now time.Time) SunTimes {
	day := now.Format("2006-01-02")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.day == day {
		return c.cached
	}

	rise, set := sunrise.SunriseSunset(
		c.latitude, c.longitude,
		now.Year(), now.Month(), now.Day(),
	)

	c.day = day
	c.cached = SunTimes{
		Sunrise: MinuteOf(rise.In(now.Location())),
		Sunset:  MinuteOf(set.In(now.Location())),
	}
	return c.cached
}
