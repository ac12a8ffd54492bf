// Package reminder runs the periodic, rate-limited dispatch loop that
// nudges quiet members, plus the operator-triggered manual path.
package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/velkov/nudgebot/internal/metrics"
	"github.com/velkov/nudgebot/internal/storage"
	"go.uber.org/zap"
)

// Notifier delivers a rendered reminder to a member and reports the channel
// it used. Channel selection is the transport's concern.
type Notifier interface {
	Notify(ctx context.Context, memberID, text string) (channelName string, err error)
}

// tickPeriod is how often the scheduler wakes up. It is a constant of the
// loop, distinct from the configurable rate limit between sent reminders.
const tickPeriod = 10 * time.Minute

const (
	defaultInactivityThreshold = 14
	defaultCooldownDays        = 3
	defaultRateLimitMinutes    = 10
)

// ErrAlreadyRunning is returned by Start when the loop is active.
var ErrAlreadyRunning = errors.New("reminder scheduler already running")

// Scheduler selects at most one eligible member per tick and asks the
// notifier to deliver a reminder. Two gates bound the outbound volume: a
// global rate limit between any two reminders, and a per-member cooldown.
type Scheduler struct {
	storage  storage.Storage
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	// dispatchMu serializes ticks against manual dispatch so the gate
	// reads of one never race the reminder write of the other.
	dispatchMu sync.Mutex

	lifecycleMu sync.Mutex
	running     bool
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

func New(store storage.Storage, notifier Notifier, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		storage:  store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Start launches the background loop. A second Start without an intervening
// Stop returns ErrAlreadyRunning; the loop is never duplicated.
func (s *Scheduler) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stopChan)

	s.logger.Info("Reminder scheduler started", zap.Duration("period", tickPeriod))
	return nil
}

// Stop halts the loop and waits for an in-flight tick to finish. Safe to
// call when already stopped.
func (s *Scheduler) Stop() {
	s.lifecycleMu.Lock()
	if !s.running {
		s.lifecycleMu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.lifecycleMu.Unlock()

	s.wg.Wait()
	s.logger.Info("Reminder scheduler stopped")
}

func (s *Scheduler) loop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick runs one scheduling cycle. Any repository error abandons the cycle
// with a log; the next tick self-heals.
func (s *Scheduler) Tick(ctx context.Context) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	metrics.SchedulerTicks.Inc()

	settings, err := s.storage.GetSettings(ctx)
	if err != nil {
		s.logger.Error("Failed to load settings for tick", zap.Error(err))
		return
	}
	if !settings.IsActive {
		return
	}

	// Global gate: pace reminders across all members.
	last, err := s.storage.GetMostRecentReminder(ctx)
	switch {
	case err == nil:
		rateLimit := time.Duration(orDefault(settings.RateLimitMinutes, defaultRateLimitMinutes)) * time.Minute
		if s.now().Sub(last.SentAt) < rateLimit {
			return
		}
	case errors.Is(err, storage.ErrNotFound):
		// No reminder sent yet; gate open.
	default:
		s.logger.Error("Failed to read last reminder", zap.Error(err))
		return
	}

	threshold := orDefault(settings.InactivityThreshold, defaultInactivityThreshold)
	candidates, err := s.storage.ListInactiveMembers(ctx, threshold)
	if err != nil {
		s.logger.Error("Failed to list inactive members", zap.Error(err))
		return
	}

	cooldownDays := orDefault(settings.ReminderCooldown, defaultCooldownDays)
	for _, member := range candidates {
		// Per-member gate: skip anyone reminded within the cooldown.
		recent, err := s.storage.ListRecentReminders(ctx, member.ID, cooldownDays)
		if err != nil {
			s.logger.Error("Failed to read reminder history",
				zap.Error(err),
				zap.String("member_id", member.ID))
			return
		}
		if len(recent) > 0 {
			continue
		}

		days := member.DaysInactive(s.now())
		text := renderTemplate(settings.ReminderTemplate, member.ID, days)

		channelName, err := s.notifier.Notify(ctx, member.ID, text)
		if err != nil {
			metrics.ReminderFailures.Inc()
			s.logger.Warn("Reminder delivery failed, trying next candidate",
				zap.Error(err),
				zap.String("member_id", member.ID))
			continue
		}

		if _, err := s.storage.AppendReminder(ctx, member.ID, days, channelName); err != nil {
			s.logger.Error("Failed to persist reminder",
				zap.Error(err),
				zap.String("member_id", member.ID))
			return
		}
		metrics.RemindersSent.WithLabelValues("scheduled").Inc()
		s.logger.Info("Sent reminder",
			zap.String("member_id", member.ID),
			zap.String("username", member.Username),
			zap.Int("days_inactive", days),
			zap.String("channel", channelName))

		// One reminder per tick keeps the global rate limit meaningful.
		return
	}
}

// SendManual delivers a reminder to one member right now, bypassing both
// the global rate limit and the per-member cooldown. Returns false when
// the member is unknown, settings cannot be read, or delivery fails.
func (s *Scheduler) SendManual(ctx context.Context, memberID string) bool {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	member, err := s.storage.GetMember(ctx, memberID)
	if err != nil {
		s.logger.Warn("Manual reminder for unknown member",
			zap.Error(err),
			zap.String("member_id", memberID))
		return false
	}

	settings, err := s.storage.GetSettings(ctx)
	if err != nil {
		s.logger.Error("Failed to load settings for manual reminder", zap.Error(err))
		return false
	}

	days := member.DaysInactive(s.now())
	text := renderTemplate(settings.ReminderTemplate, member.ID, days)

	channelName, err := s.notifier.Notify(ctx, member.ID, text)
	if err != nil {
		metrics.ReminderFailures.Inc()
		s.logger.Warn("Manual reminder delivery failed",
			zap.Error(err),
			zap.String("member_id", memberID))
		return false
	}

	if _, err := s.storage.AppendReminder(ctx, member.ID, days, channelName); err != nil {
		s.logger.Error("Failed to persist manual reminder",
			zap.Error(err),
			zap.String("member_id", memberID))
	}
	metrics.RemindersSent.WithLabelValues("manual").Inc()
	s.logger.Info("Sent manual reminder",
		zap.String("member_id", member.ID),
		zap.Int("days_inactive", days),
		zap.String("channel", channelName))
	return true
}

func orDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
