package notify

import (
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/nhle/restaurant-ops/internal/model"
)

// ShouldSend reports whether a notification of type t on channel ch may be
// sent to a user with prefs at now. Urgent types ignore quiet hours.
func ShouldSend(t model.NotificationType, ch model.Channel, prefs model.NotificationPreferences, now time.Time) bool {
	if !prefs.ChannelEnabled(ch) {
		return false
	}
	if !prefs.TypeEnabled(t) {
		return false
	}
	if prefs.QuietHours.Enabled && !t.IsUrgent() {
		hour := now.In(location(prefs.Timezone)).Hour()
		if InQuietHours(prefs.QuietHours, hour) {
			return false
		}
	}
	return true
}

// InQuietHours reports whether hour (0-23) falls inside the window. A window
// with start <= end covers [start, end); otherwise it wraps midnight and
// covers [start, 24) and [0, end). Unparseable bounds never match.
func InQuietHours(q model.QuietHours, hour int) bool {
	start, ok := parseHour(q.Start)
	if !ok {
		return false
	}
	end, ok := parseHour(q.End)
	if !ok {
		return false
	}
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// parseHour extracts the hour from "HH:MM" (or a bare "HH").
func parseHour(s string) (int, bool) {
	h, _, _ := strings.Cut(strings.TrimSpace(s), ":")
	n, err := strconv.Atoi(h)
	if err != nil || n < 0 || n > 23 {
		return 0, false
	}
	return n, true
}

func location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
