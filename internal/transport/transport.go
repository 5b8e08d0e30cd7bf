// Package transport drives cast devices through the catt command line tool.
// Every call carries an enforced timeout and failures are classified into a
// small recoverable taxonomy; the scheduler retries on later ticks, never
// crashes.
package transport

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// Classified transport failures. All are recoverable.
var (
	ErrTimeout           = errors.New("transport: command timed out")
	ErrDeviceUnreachable = errors.New("transport: device unreachable")
	ErrCommandRejected   = errors.New("transport: command rejected")
)

// DefaultTimeout bounds a single transport command.
const DefaultTimeout = 10 * time.Second

// Transport is the device-control surface consumed by the engine.
type Transport interface {
	// Cast tells the device to display the given URL.
	Cast(ctx context.Context, device, url string) error
	// Stop stops whatever the device is casting.
	Stop(ctx context.Context, device string) error
	// SetVolume sets the device volume as a 0-100 percentage.
	SetVolume(ctx context.Context, device string, percent int) error
	// Status returns the device's raw status text for classification.
	Status(ctx context.Context, device string) (string, error)
}

func clampPercent(percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return strconv.Itoa(percent)
}
