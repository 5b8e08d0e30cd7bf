package transport

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// runner executes a command and returns its stdout and stderr. Factored out
// so tests can swap the exec call.
type runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return out.Bytes(), errBuf.Bytes(), err
}

// Catt implements Transport by shelling out to the catt CLI.
type Catt struct {
	binary  string
	timeout time.Duration
	logger  *zap.Logger
	run     runner
}

// NewCatt creates a catt-backed transport. A non-positive timeout falls
// back to DefaultTimeout.
func NewCatt(timeout time.Duration, logger *zap.Logger) *Catt {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Catt{
		binary:  "catt",
		timeout: timeout,
		logger:  logger.Named("transport"),
		run:     execRunner,
	}
}

func (c *Catt) Cast(ctx context.Context, device, url string) error {
	// Stop anything currently showing first; a cast on top of an active
	// app is flaky on some device firmwares.
	if err := c.command(ctx, device, "stop"); err != nil {
		c.logger.Debug("Pre-cast stop failed", zap.String("device", device), zap.Error(err))
	}
	return c.command(ctx, device, "cast_site", url)
}

func (c *Catt) Stop(ctx context.Context, device string) error {
	return c.command(ctx, device, "stop")
}

func (c *Catt) SetVolume(ctx context.Context, device string, percent int) error {
	return c.command(ctx, device, "volume", clampPercent(percent))
}

func (c *Catt) Status(ctx context.Context, device string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stdout, stderr, err := c.run(ctx, c.binary, "-d", device, "status")
	if err != nil {
		return "", c.classify(ctx, device, "status", stderr, err)
	}
	return strings.TrimSpace(string(stdout)), nil
}

func (c *Catt) command(ctx context.Context, device string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	full := append([]string{"-d", device}, args...)
	c.logger.Debug("Executing transport command",
		zap.String("device", device),
		zap.Strings("args", args))

	_, stderr, err := c.run(ctx, c.binary, full...)
	if err != nil {
		return c.classify(ctx, device, args[0], stderr, err)
	}
	return nil
}

func (c *Catt) classify(ctx context.Context, device, op string, stderr []byte, err error) error {
	msg := strings.TrimSpace(string(stderr))

	classified := ErrCommandRejected
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		classified = ErrTimeout
	case strings.Contains(msg, "No device found"),
		strings.Contains(msg, "Device is unavailable"),
		strings.Contains(strings.ToLower(msg), "unreachable"),
		errors.Is(err, exec.ErrNotFound):
		classified = ErrDeviceUnreachable
	}

	c.logger.Debug("Transport command failed",
		zap.String("device", device),
		zap.String("op", op),
		zap.String("stderr", msg),
		zap.Error(err))
	return classified
}
