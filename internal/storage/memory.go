package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/velkov/nudgebot/internal/models"
)

// MemoryStorage keeps everything in process memory. Used by tests and for
// running the bot without a database.
type MemoryStorage struct {
	mu         sync.RWMutex
	members    map[string]*models.Member
	activities []*models.Activity
	reminders  []*models.Reminder
	settings   models.Settings

	now func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		members:  make(map[string]*models.Member),
		settings: models.DefaultSettings(),
		now:      time.Now,
	}
}

// SetClock overrides the write-time timestamp source. Test hook.
func (s *MemoryStorage) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStorage) GetMember(ctx context.Context, id string) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	member, exists := s.members[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *member
	return &copied, nil
}

func (s *MemoryStorage) ListMembers(ctx context.Context) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]*models.Member, 0, len(s.members))
	for _, member := range s.members {
		copied := *member
		members = append(members, &copied)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

func (s *MemoryStorage) CreateMember(ctx context.Context, member *models.Member) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.members[member.ID]; exists {
		return nil, ErrAlreadyExists
	}

	created := &models.Member{
		ID:           member.ID,
		Username:     member.Username,
		DisplayName:  member.DisplayName,
		JoinedAt:     member.JoinedAt,
		LastActivity: member.LastActivity,
		Status:       models.StatusInactive,
	}
	s.members[member.ID] = created
	copied := *created
	return &copied, nil
}

func (s *MemoryStorage) UpdateMember(ctx context.Context, id string, update MemberUpdate) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	member, exists := s.members[id]
	if !exists {
		return nil, ErrNotFound
	}

	if update.Username != nil {
		member.Username = *update.Username
	}
	if update.DisplayName != nil {
		member.DisplayName = *update.DisplayName
	}
	if update.LastActivity != nil {
		member.LastActivity = *update.LastActivity
	}
	if update.Status != nil {
		member.Status = *update.Status
	}
	if update.MessagesThisWeek != nil {
		member.MessagesThisWeek = *update.MessagesThisWeek
	}
	if update.VoiceTimeThisWeek != nil {
		member.VoiceTimeThisWeek = *update.VoiceTimeThisWeek
	}
	if update.TotalMessages != nil {
		member.TotalMessages = *update.TotalMessages
	}
	if update.TotalVoiceTime != nil {
		member.TotalVoiceTime = *update.TotalVoiceTime
	}

	copied := *member
	return &copied, nil
}

func (s *MemoryStorage) ListInactiveMembers(ctx context.Context, dayThreshold int) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().AddDate(0, 0, -dayThreshold)
	var inactive []*models.Member
	for _, member := range s.members {
		if member.LastSeen().Before(cutoff) {
			copied := *member
			inactive = append(inactive, &copied)
		}
	}
	sort.Slice(inactive, func(i, j int) bool {
		return inactive[i].LastSeen().Before(inactive[j].LastSeen())
	})
	return inactive, nil
}

func (s *MemoryStorage) AppendActivity(ctx context.Context, memberID, activityType, channelName, data string) (*models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	activity := &models.Activity{
		ID:          uuid.New().String(),
		MemberID:    memberID,
		Type:        activityType,
		ChannelName: channelName,
		Timestamp:   s.now(),
		Data:        data,
	}
	s.activities = append(s.activities, activity)
	copied := *activity
	return &copied, nil
}

func (s *MemoryStorage) ListActivitiesByMember(ctx context.Context, memberID string, limit int) ([]*models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Activity
	for _, activity := range s.activities {
		if activity.MemberID == memberID {
			copied := *activity
			matched = append(matched, &copied)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStorage) ListRecentActivities(ctx context.Context, limit int) ([]*models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recent := make([]*models.Activity, 0, len(s.activities))
	for _, activity := range s.activities {
		copied := *activity
		recent = append(recent, &copied)
	}
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].Timestamp.After(recent[j].Timestamp)
	})
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	return recent, nil
}

func (s *MemoryStorage) AppendReminder(ctx context.Context, memberID string, daysSinceLastActivity int, channelName string) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder := &models.Reminder{
		ID:                    uuid.New().String(),
		MemberID:              memberID,
		SentAt:                s.now(),
		DaysSinceLastActivity: daysSinceLastActivity,
		ChannelName:           channelName,
	}
	s.reminders = append(s.reminders, reminder)
	copied := *reminder
	return &copied, nil
}

func (s *MemoryStorage) ListRecentReminders(ctx context.Context, memberID string, withinDays int) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().AddDate(0, 0, -withinDays)
	var matched []*models.Reminder
	for _, reminder := range s.reminders {
		if memberID != "" && reminder.MemberID != memberID {
			continue
		}
		if reminder.SentAt.Before(cutoff) {
			continue
		}
		copied := *reminder
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SentAt.After(matched[j].SentAt)
	})
	return matched, nil
}

func (s *MemoryStorage) GetMostRecentReminder(ctx context.Context) (*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.reminders) == 0 {
		return nil, ErrNotFound
	}
	latest := s.reminders[0]
	for _, reminder := range s.reminders[1:] {
		if reminder.SentAt.After(latest.SentAt) {
			latest = reminder
		}
	}
	copied := *latest
	return &copied, nil
}

func (s *MemoryStorage) GetSettings(ctx context.Context) (*models.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := s.settings
	return &copied, nil
}

func (s *MemoryStorage) UpdateSettings(ctx context.Context, update models.SettingsUpdate) (*models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	update.Apply(&s.settings)
	copied := s.settings
	return &copied, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
