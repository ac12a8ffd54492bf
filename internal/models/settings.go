package models

// DefaultReminderTemplate is used until an operator customizes the message.
const DefaultReminderTemplate = "Hey {user}! 👋 We noticed you haven't been active for {days} days. " +
	"We miss you in the server! Come say hi when you get a chance. 😊"

// Settings is the singleton runtime configuration read by the tracker and
// the reminder scheduler. It is stored alongside the rest of the data so
// updates take effect on the next read, without a process restart.
type Settings struct {
	DiscordToken        string `json:"discordToken,omitempty"`
	ServerID            string `json:"serverId,omitempty"`
	InactivityThreshold int    `json:"inactivityThreshold"` // days
	ReminderCooldown    int    `json:"reminderCooldown"`    // days
	RateLimitMinutes    int    `json:"rateLimitMinutes"`
	ReminderTemplate    string `json:"reminderTemplate"`
	IsActive            bool   `json:"isActive"`
}

// DefaultSettings returns the settings row used before any update is applied.
func DefaultSettings() Settings {
	return Settings{
		InactivityThreshold: 14,
		ReminderCooldown:    3,
		RateLimitMinutes:    10,
		ReminderTemplate:    DefaultReminderTemplate,
		IsActive:            false,
	}
}

// SettingsUpdate carries a partial settings change: nil fields keep their
// previous values.
type SettingsUpdate struct {
	DiscordToken        *string `json:"discordToken"`
	ServerID            *string `json:"serverId"`
	InactivityThreshold *int    `json:"inactivityThreshold"`
	ReminderCooldown    *int    `json:"reminderCooldown"`
	RateLimitMinutes    *int    `json:"rateLimitMinutes"`
	ReminderTemplate    *string `json:"reminderTemplate"`
	IsActive            *bool   `json:"isActive"`
}

// Apply merges the update into s.
func (u SettingsUpdate) Apply(s *Settings) {
	if u.DiscordToken != nil {
		s.DiscordToken = *u.DiscordToken
	}
	if u.ServerID != nil {
		s.ServerID = *u.ServerID
	}
	if u.InactivityThreshold != nil {
		s.InactivityThreshold = *u.InactivityThreshold
	}
	if u.ReminderCooldown != nil {
		s.ReminderCooldown = *u.ReminderCooldown
	}
	if u.RateLimitMinutes != nil {
		s.RateLimitMinutes = *u.RateLimitMinutes
	}
	if u.ReminderTemplate != nil {
		s.ReminderTemplate = *u.ReminderTemplate
	}
	if u.IsActive != nil {
		s.IsActive = *u.IsActive
	}
}
