package model

// QuietHours is a daily window during which only urgent notifications are
// delivered. Start and End are "HH:MM"; the window may wrap past midnight.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start_time"`
	End     string `json:"end_time"`
}

// FrequencyCaps bound how many non-urgent notifications a user receives.
// Zero disables the corresponding cap.
type FrequencyCaps struct {
	MaxPerHour int `json:"max_per_hour"`
	MaxPerDay  int `json:"max_per_day"`
}

// NotificationPreferences is a user's delivery configuration.
type NotificationPreferences struct {
	UserID string `json:"user_id"`

	// Channels and Types map to enabled flags. A missing key means enabled.
	Channels map[Channel]bool          `json:"channels"`
	Types    map[NotificationType]bool `json:"notification_types"`

	QuietHours QuietHours    `json:"quiet_hours"`
	Caps       FrequencyCaps `json:"frequency_caps"`

	// Timezone is an IANA zone name used for quiet hours; empty means UTC.
	Timezone string `json:"timezone"`
}

// DefaultPreferences returns the preferences applied when a user has none
// stored: every channel and type enabled, quiet hours 22:00-07:00 off,
// and generous caps.
func DefaultPreferences(userID string) NotificationPreferences {
	return NotificationPreferences{
		UserID: userID,
		Channels: map[Channel]bool{
			ChannelPush:  true,
			ChannelEmail: true,
			ChannelSMS:   true,
			ChannelInApp: true,
		},
		Types: map[NotificationType]bool{},
		QuietHours: QuietHours{
			Enabled: false,
			Start:   "22:00",
			End:     "07:00",
		},
		Caps: FrequencyCaps{
			MaxPerHour: 20,
			MaxPerDay:  100,
		},
	}
}

// ChannelEnabled reports whether c is enabled; absent keys are enabled.
func (p NotificationPreferences) ChannelEnabled(c Channel) bool {
	enabled, ok := p.Channels[c]
	return !ok || enabled
}

// TypeEnabled reports whether t is enabled; absent keys are enabled.
func (p NotificationPreferences) TypeEnabled(t NotificationType) bool {
	enabled, ok := p.Types[t]
	return !ok || enabled
}
