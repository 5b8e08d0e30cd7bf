// Package probe classifies a device's raw status text into the casting
// states the engine acts on. Getting this classification right is what keeps
// the controller from stomping on real media or re-casting a dashboard that
// is already up.
package probe

import (
	"strconv"
	"strings"
)

// Class is the classified playback state of a device.
type Class int

const (
	// Unknown means the status text could not be interpreted.
	Unknown Class = iota
	// Idle means nothing is showing and the device is ready to cast.
	Idle
	// ShowingDashboard means our dashboard is on screen.
	ShowingDashboard
	// OtherMedia means someone else's content is playing.
	OtherMedia
)

func (c Class) String() string {
	switch c {
	case Idle:
		return "idle"
	case ShowingDashboard:
		return "showing_dashboard"
	case OtherMedia:
		return "other_media"
	default:
		return "unknown"
	}
}

// Result is a classified device status.
type Result struct {
	Class Class
	// Title is the reported media title, when present.
	Title string
	// Volume is the reported volume percentage, -1 when absent.
	Volume int
}

// DefaultMarker is the title a cast dashboard reports when the dashboard
// page does not set one itself.
const DefaultMarker = "Dummy"

// dashboardHints identify our dashboard when the marker title is absent.
var dashboardHints = []string{"8123", "dashboard", "kiosk", "homeassistant"}

// mediaApps are app names whose presence in status output means real media.
var mediaApps = []string{
	"spotify", "youtube", "netflix", "plex", "disney+", "hulu",
	"amazon prime", "music", "audio", "video",
}

// Classify interprets raw status text. marker is the title our dashboard
// shows on the device; pass "" for DefaultMarker.
func Classify(status, marker string) Result {
	if marker == "" {
		marker = DefaultMarker
	}

	res := Result{Class: Unknown, Volume: -1}
	status = strings.TrimSpace(status)
	if status == "" {
		return res
	}

	lines := strings.Split(status, "\n")
	volumeOnly := true
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "Volume:"); ok {
			if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				res.Volume = parsed
			}
			continue
		}
		if t, ok := strings.CutPrefix(line, "Title:"); ok {
			res.Title = strings.TrimSpace(t)
		}
		if line != "" && !strings.HasPrefix(line, "Volume") {
			volumeOnly = false
		}
	}

	lower := strings.ToLower(status)
	switch {
	// Only volume lines means the device is sitting on the ambient screen.
	case volumeOnly:
		res.Class = Idle

	case strings.Contains(status, marker),
		containsAny(lower, dashboardHints):
		res.Class = ShowingDashboard

	case strings.Contains(status, "Idle"),
		strings.Contains(status, "Nothing is currently playing"):
		res.Class = Idle

	// A cast that is still spinning up, or an assistant interaction in
	// progress, counts as busy: casting over it would interrupt the user.
	case strings.Contains(status, "Casting: Starting"),
		strings.Contains(lower, "assistant"):
		res.Class = OtherMedia

	case hasActiveState(lines):
		res.Class = OtherMedia

	case res.Title != "" && res.Title != marker:
		res.Class = OtherMedia

	case containsAny(lower, mediaApps):
		res.Class = OtherMedia

	default:
		res.Class = Idle
	}

	return res
}

func hasActiveState(lines []string) bool {
	for _, line := range lines {
		if !strings.Contains(line, "State:") {
			continue
		}
		for _, s := range []string{"PLAYING", "PAUSED", "BUFFERING"} {
			if strings.Contains(line, s) {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
