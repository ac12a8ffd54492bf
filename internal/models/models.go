package models

import "time"

// Member status tiers, derived from recent activity.
const (
	StatusActive       = "active"
	StatusInactive     = "inactive"
	StatusVeryInactive = "very_inactive"
)

// Activity types recorded from the gateway.
const (
	ActivityMessage    = "message"
	ActivityVoiceJoin  = "voice_join"
	ActivityVoiceLeave = "voice_leave"
)

// Member represents a tracked server member with rolling activity stats
type Member struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	DisplayName       string     `json:"displayName,omitempty"`
	JoinedAt          time.Time  `json:"joinedAt"`
	LastActivity      *time.Time `json:"lastActivity"`
	Status            string     `json:"status"`
	MessagesThisWeek  int        `json:"messagesThisWeek"`
	VoiceTimeThisWeek int        `json:"voiceTimeThisWeek"` // minutes
	TotalMessages     int        `json:"totalMessages"`
	TotalVoiceTime    int        `json:"totalVoiceTime"` // minutes
}

// LastSeen returns the last activity timestamp, falling back to the join
// time for members who have never produced an event.
func (m *Member) LastSeen() time.Time {
	if m.LastActivity != nil {
		return *m.LastActivity
	}
	return m.JoinedAt
}

// DaysInactive returns whole days elapsed since the member was last seen.
func (m *Member) DaysInactive(now time.Time) int {
	return int(now.Sub(m.LastSeen()).Hours() / 24)
}

// Activity is an immutable record of one observed engagement event
type Activity struct {
	ID          string    `json:"id"`
	MemberID    string    `json:"memberId"`
	Type        string    `json:"type"`
	ChannelName string    `json:"channelName"`
	Timestamp   time.Time `json:"timestamp"`
	Data        string    `json:"data,omitempty"`
}

// Reminder is an immutable record of one sent re-engagement notification
type Reminder struct {
	ID                    string    `json:"id"`
	MemberID              string    `json:"memberId"`
	SentAt                time.Time `json:"sentAt"`
	DaysSinceLastActivity int       `json:"daysSinceLastActivity"`
	ChannelName           string    `json:"channelName"`
}
