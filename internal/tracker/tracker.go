// Package tracker ingests raw engagement events and maintains each
// member's rolling activity counters and status tier.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/velkov/nudgebot/internal/metrics"
	"github.com/velkov/nudgebot/internal/models"
	"github.com/velkov/nudgebot/internal/storage"
	"go.uber.org/zap"
)

const (
	// activityWindow is the trailing window the weekly counters cover.
	activityWindow = 7 * 24 * time.Hour

	// voiceSessionMinutes approximates the length of one voice session.
	// Real join/leave interval accounting is deliberately not done; see
	// the voice-duration note in DESIGN.md.
	voiceSessionMinutes = 30

	// defaultInactivityThreshold applies when settings cannot be read.
	defaultInactivityThreshold = 14
)

// Tracker records engagement events and keeps member status in sync.
// All tracking methods are best-effort: storage failures are logged and
// the event is dropped, never propagated back to the gateway.
type Tracker struct {
	storage storage.Storage
	logger  *zap.Logger
	now     func() time.Time
}

func New(store storage.Storage, logger *zap.Logger) *Tracker {
	return &Tracker{
		storage: store,
		logger:  logger,
		now:     time.Now,
	}
}

// TrackMessage records a chat message from a member.
func (t *Tracker) TrackMessage(ctx context.Context, memberID, username, channelName string) {
	t.record(ctx, memberID, username, models.ActivityMessage, channelName, "")
}

// TrackVoiceJoin records a member joining a voice channel.
func (t *Tracker) TrackVoiceJoin(ctx context.Context, memberID, username, channelName string) {
	data := fmt.Sprintf(`{"joinedAt":%q}`, t.now().Format(time.RFC3339))
	t.record(ctx, memberID, username, models.ActivityVoiceJoin, channelName, data)
}

// TrackVoiceLeave records a member leaving a voice channel.
func (t *Tracker) TrackVoiceLeave(ctx context.Context, memberID, username, channelName string) {
	data := fmt.Sprintf(`{"leftAt":%q}`, t.now().Format(time.RFC3339))
	t.record(ctx, memberID, username, models.ActivityVoiceLeave, channelName, data)
}

// TrackMemberJoined registers a newly joined member with no activity yet.
func (t *Tracker) TrackMemberJoined(ctx context.Context, memberID, username, displayName string, joinedAt time.Time) {
	_, err := t.storage.CreateMember(ctx, &models.Member{
		ID:          memberID,
		Username:    username,
		DisplayName: displayName,
		JoinedAt:    joinedAt,
	})
	if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		t.logger.Error("Failed to register joined member",
			zap.Error(err),
			zap.String("member_id", memberID))
	}
}

func (t *Tracker) record(ctx context.Context, memberID, username, activityType, channelName, data string) {
	if _, err := t.storage.AppendActivity(ctx, memberID, activityType, channelName, data); err != nil {
		t.logger.Error("Failed to record activity",
			zap.Error(err),
			zap.String("member_id", memberID),
			zap.String("type", activityType))
		return
	}
	metrics.EventsTracked.WithLabelValues(activityType).Inc()

	if err := t.refreshMember(ctx, memberID, username, activityType); err != nil {
		t.logger.Error("Failed to update member activity",
			zap.Error(err),
			zap.String("member_id", memberID))
		return
	}

	t.logger.Debug("Tracked activity",
		zap.String("member_id", memberID),
		zap.String("username", username),
		zap.String("type", activityType),
		zap.String("channel", channelName))
}

// refreshMember recomputes the member's weekly counters and status after a
// new event, creating the member on first sight.
func (t *Tracker) refreshMember(ctx context.Context, memberID, username, activityType string) error {
	member, err := t.storage.GetMember(ctx, memberID)
	if errors.Is(err, storage.ErrNotFound) {
		member, err = t.storage.CreateMember(ctx, &models.Member{
			ID:          memberID,
			Username:    username,
			DisplayName: username,
			JoinedAt:    t.now(),
		})
	}
	if err != nil {
		return err
	}

	activities, err := t.storage.ListActivitiesByMember(ctx, memberID, 0)
	if err != nil {
		return err
	}

	now := t.now()
	cutoff := now.Add(-activityWindow)
	var messagesThisWeek, voiceJoins int
	for _, activity := range activities {
		if activity.Timestamp.Before(cutoff) {
			continue
		}
		switch activity.Type {
		case models.ActivityMessage:
			messagesThisWeek++
		case models.ActivityVoiceJoin:
			voiceJoins++
		}
	}
	voiceTimeThisWeek := voiceJoins * voiceSessionMinutes

	status := classifyStatus(messagesThisWeek, voiceJoins, member.DaysInactive(now), t.inactivityThreshold(ctx))

	totalMessages := member.TotalMessages
	totalVoiceTime := member.TotalVoiceTime
	switch activityType {
	case models.ActivityMessage:
		totalMessages++
	case models.ActivityVoiceJoin:
		totalVoiceTime += voiceSessionMinutes
	}

	lastActivity := &now
	_, err = t.storage.UpdateMember(ctx, memberID, storage.MemberUpdate{
		Username:          &username,
		LastActivity:      &lastActivity,
		Status:            &status,
		MessagesThisWeek:  &messagesThisWeek,
		VoiceTimeThisWeek: &voiceTimeThisWeek,
		TotalMessages:     &totalMessages,
		TotalVoiceTime:    &totalVoiceTime,
	})
	return err
}

// ClassifyAll re-derives the status tier for every member from the cached
// weekly counters and elapsed time. Members whose status is already correct
// are not written.
func (t *Tracker) ClassifyAll(ctx context.Context) error {
	members, err := t.storage.ListMembers(ctx)
	if err != nil {
		return err
	}

	now := t.now()
	threshold := t.inactivityThreshold(ctx)
	for _, member := range members {
		status := classifyStatus(member.MessagesThisWeek, member.VoiceTimeThisWeek, member.DaysInactive(now), threshold)
		if member.Status == status {
			continue
		}
		if _, err := t.storage.UpdateMember(ctx, member.ID, storage.MemberUpdate{Status: &status}); err != nil {
			t.logger.Error("Failed to reclassify member",
				zap.Error(err),
				zap.String("member_id", member.ID))
			continue
		}
		t.logger.Info("Member reclassified",
			zap.String("member_id", member.ID),
			zap.String("status", status))
	}
	return nil
}

// inactivityThreshold reads the live configured threshold, falling back to
// the default when settings are unavailable.
func (t *Tracker) inactivityThreshold(ctx context.Context) int {
	settings, err := t.storage.GetSettings(ctx)
	if err != nil || settings.InactivityThreshold <= 0 {
		return defaultInactivityThreshold
	}
	return settings.InactivityThreshold
}

// classifyStatus applies the three-branch tier rule. weeklyVoice may be a
// join count or a minute total; only zero versus non-zero matters.
func classifyStatus(weeklyMessages, weeklyVoice, daysInactive, threshold int) string {
	if weeklyMessages > 0 || weeklyVoice > 0 {
		return models.StatusActive
	}
	if daysInactive >= threshold {
		return models.StatusVeryInactive
	}
	return models.StatusInactive
}
