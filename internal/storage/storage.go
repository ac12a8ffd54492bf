package storage

import (
	"context"
	"errors"
	"time"

	"github.com/velkov/nudgebot/internal/models"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when creating a member whose id is taken.
	ErrAlreadyExists = errors.New("record already exists")
)

// MemberUpdate carries a partial member change: nil fields keep their
// previous values. LastActivity uses a double pointer so it can be set,
// cleared, or left alone.
type MemberUpdate struct {
	Username          *string
	DisplayName       *string
	LastActivity      **time.Time
	Status            *string
	MessagesThisWeek  *int
	VoiceTimeThisWeek *int
	TotalMessages     *int
	TotalVoiceTime    *int
}

// Storage is the durable home for member, activity, reminder and settings
// records. Activity and reminder rows are append-only; timestamps are
// assigned at write time by the implementation.
type Storage interface {
	GetMember(ctx context.Context, id string) (*models.Member, error)
	ListMembers(ctx context.Context) ([]*models.Member, error)
	CreateMember(ctx context.Context, member *models.Member) (*models.Member, error)
	UpdateMember(ctx context.Context, id string, update MemberUpdate) (*models.Member, error)
	// ListInactiveMembers returns members whose last activity (or join time,
	// for members never seen active) is older than dayThreshold days.
	ListInactiveMembers(ctx context.Context, dayThreshold int) ([]*models.Member, error)

	AppendActivity(ctx context.Context, memberID, activityType, channelName, data string) (*models.Activity, error)
	ListActivitiesByMember(ctx context.Context, memberID string, limit int) ([]*models.Activity, error)
	ListRecentActivities(ctx context.Context, limit int) ([]*models.Activity, error)

	AppendReminder(ctx context.Context, memberID string, daysSinceLastActivity int, channelName string) (*models.Reminder, error)
	// ListRecentReminders returns reminders sent within the last withinDays
	// days, newest first. An empty memberID matches all members.
	ListRecentReminders(ctx context.Context, memberID string, withinDays int) ([]*models.Reminder, error)
	GetMostRecentReminder(ctx context.Context) (*models.Reminder, error)

	GetSettings(ctx context.Context) (*models.Settings, error)
	UpdateSettings(ctx context.Context, update models.SettingsUpdate) (*models.Settings, error)

	Close() error
}
