package transport

import (
	"context"
	"sync"
	"time"
)

// Call records one transport invocation for assertions.
type Call struct {
	Op     string // "cast", "stop", "volume", "status"
	Device string
	URL    string
	Level  int
	Time   time.Time
}

// Mock implements Transport for tests, serving canned status text and
// recording every call.
type Mock struct {
	mu       sync.Mutex
	calls    []Call
	statuses map[string]string
	errs     map[string]error // keyed by op+":"+device, "" device matches all
}

// NewMock creates an empty mock transport.
func NewMock() *Mock {
	return &Mock{
		statuses: make(map[string]string),
		errs:     make(map[string]error),
	}
}

// SetStatus sets the status text returned for a device.
func (m *Mock) SetStatus(device, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[device] = status
}

// FailWith makes every call of the given op for the given device return err.
// Pass an empty device to match all devices. Pass a nil err to clear.
func (m *Mock) FailWith(op, device string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op+":"+device)
		return
	}
	m.errs[op+":"+device] = err
}

func (m *Mock) errorFor(op, device string) error {
	if err, ok := m.errs[op+":"+device]; ok {
		return err
	}
	return m.errs[op+":"]
}

func (m *Mock) record(call Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call.Time = time.Now()
	m.calls = append(m.calls, call)
	return m.errorFor(call.Op, call.Device)
}

func (m *Mock) Cast(_ context.Context, device, url string) error {
	return m.record(Call{Op: "cast", Device: device, URL: url})
}

func (m *Mock) Stop(_ context.Context, device string) error {
	return m.record(Call{Op: "stop", Device: device})
}

func (m *Mock) SetVolume(_ context.Context, device string, percent int) error {
	return m.record(Call{Op: "volume", Device: device, Level: percent})
}

func (m *Mock) Status(_ context.Context, device string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "status", Device: device, Time: time.Now()})
	if err := m.errorFor("status", device); err != nil {
		return "", err
	}
	return m.statuses[device], nil
}

// Calls returns a copy of all recorded calls.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor returns recorded calls of one op, optionally filtered by device.
func (m *Mock) CallsFor(op, device string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.Op == op && (device == "" || c.Device == device) {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the recorded call history.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
