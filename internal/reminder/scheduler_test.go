package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velkov/nudgebot/internal/models"
	"github.com/velkov/nudgebot/internal/storage"
	"go.uber.org/zap"
)

type fakeNotifier struct {
	calls   []string // member ids in delivery order
	texts   map[string]string
	failFor map[string]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		texts:   make(map[string]string),
		failFor: make(map[string]bool),
	}
}

func (f *fakeNotifier) Notify(ctx context.Context, memberID, text string) (string, error) {
	f.calls = append(f.calls, memberID)
	if f.failFor[memberID] {
		return "", errors.New("delivery failed")
	}
	f.texts[memberID] = text
	return "bot-channel", nil
}

type fixture struct {
	sched    *Scheduler
	store    *storage.MemoryStorage
	notifier *fakeNotifier
	current  *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	store := storage.NewMemoryStorage()
	store.SetClock(clock)

	notifier := newFakeNotifier()
	sched := New(store, notifier, zap.NewNop())
	sched.now = clock

	active := true
	_, err := store.UpdateSettings(context.Background(), models.SettingsUpdate{IsActive: &active})
	require.NoError(t, err)

	return &fixture{sched: sched, store: store, notifier: notifier, current: &current}
}

// addQuietMember creates a member whose last activity is daysAgo days in
// the past (plus an hour so day arithmetic crosses the boundary).
func (f *fixture) addQuietMember(t *testing.T, id string, daysAgo int) {
	t.Helper()
	joined := f.current.Add(-time.Duration(daysAgo)*24*time.Hour - time.Hour)
	_, err := f.store.CreateMember(context.Background(), &models.Member{
		ID:       id,
		Username: id,
		JoinedAt: joined,
	})
	require.NoError(t, err)
}

func (f *fixture) reminders(t *testing.T, memberID string) []*models.Reminder {
	t.Helper()
	reminders, err := f.store.ListRecentReminders(context.Background(), memberID, 365)
	require.NoError(t, err)
	return reminders
}

func TestTickSendsToFirstCandidateOnly(t *testing.T) {
	f := newFixture(t)
	f.addQuietMember(t, "a", 20)
	f.addQuietMember(t, "b", 15)

	f.sched.Tick(context.Background())

	// Candidates enumerate longest-quiet first; only A is reminded.
	require.Equal(t, []string{"a"}, f.notifier.calls)
	assert.Len(t, f.reminders(t, "a"), 1)
	assert.Empty(t, f.reminders(t, "b"))

	reminder := f.reminders(t, "a")[0]
	assert.Equal(t, 20, reminder.DaysSinceLastActivity)
	assert.Equal(t, "bot-channel", reminder.ChannelName)
}

func TestTickNoOpWhenInactive(t *testing.T) {
	f := newFixture(t)
	f.addQuietMember(t, "a", 20)

	inactive := false
	_, err := f.store.UpdateSettings(context.Background(), models.SettingsUpdate{IsActive: &inactive})
	require.NoError(t, err)

	f.sched.Tick(context.Background())
	assert.Empty(t, f.notifier.calls)
}

func TestTickGlobalRateLimit(t *testing.T) {
	f := newFixture(t)
	f.addQuietMember(t, "a", 20)
	f.addQuietMember(t, "b", 15)

	f.sched.Tick(context.Background())
	require.Len(t, f.notifier.calls, 1)

	// Five minutes later the 10-minute global gate is still closed, even
	// though B was never reminded.
	*f.current = f.current.Add(5 * time.Minute)
	f.sched.Tick(context.Background())
	assert.Len(t, f.notifier.calls, 1)

	// Once the gate reopens the next candidate gets its turn.
	*f.current = f.current.Add(6 * time.Minute)
	f.sched.Tick(context.Background())
	require.Equal(t, []string{"a", "b"}, f.notifier.calls)
}

func TestTickPerMemberCooldown(t *testing.T) {
	f := newFixture(t)
	f.addQuietMember(t, "a", 20)

	f.sched.Tick(context.Background())
	require.Len(t, f.reminders(t, "a"), 1)

	// Past the rate limit but within the 3-day cooldown: A is skipped.
	*f.current = f.current.Add(24 * time.Hour)
	f.sched.Tick(context.Background())
	assert.Len(t, f.reminders(t, "a"), 1)

	// Past the cooldown A becomes eligible again.
	*f.current = f.current.Add(3 * 24 * time.Hour)
	f.sched.Tick(context.Background())
	assert.Len(t, f.reminders(t, "a"), 2)
}

func TestTickAtMostOneReminder(t *testing.T) {
	f := newFixture(t)
	f.addQuietMember(t, "a", 30)
	f.addQuietMember(t, "b", 25)
	f.addQuietMember(t, "c", 20)

	f.sched.Tick(context.Background())

	assert.Len(t, f.notifier.calls, 1)
	all := f.reminders(t, "")
	assert.Len(t, all, 1)
}

func TestTickDeliveryFailureMovesToNextCandidate(t *testing.T) {
	f := newFixture(t)
	f.addQuietMember(t, "a", 20)
	f.addQuietMember(t, "b", 15)
	f.notifier.failFor["a"] = true

	f.sched.Tick(context.Background())

	// A was attempted, failed, and left unrecorded; B got the reminder.
	require.Equal(t, []string{"a", "b"}, f.notifier.calls)
	assert.Empty(t, f.reminders(t, "a"))
	assert.Len(t, f.reminders(t, "b"), 1)
}

func TestTickNoEligibleCandidates(t *testing.T) {
	f := newFixture(t)
	f.addQuietMember(t, "a", 5) // under the 14-day threshold

	f.sched.Tick(context.Background())
	assert.Empty(t, f.notifier.calls)
}

func TestManualDispatchBypassesGates(t *testing.T) {
	f := newFixture(t)
	f.addQuietMember(t, "a", 20)

	// Scheduled reminder puts A in cooldown and closes the global gate.
	f.sched.Tick(context.Background())
	require.Len(t, f.reminders(t, "a"), 1)

	ok := f.sched.SendManual(context.Background(), "a")
	assert.True(t, ok)

	reminders := f.reminders(t, "a")
	require.Len(t, reminders, 2)
	// Manual and scheduled reminders produce equivalent records.
	assert.Equal(t, reminders[0].DaysSinceLastActivity, reminders[1].DaysSinceLastActivity)
	assert.Equal(t, "bot-channel", reminders[0].ChannelName)
}

func TestManualDispatchUnknownMember(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.sched.SendManual(context.Background(), "ghost"))
	assert.Empty(t, f.notifier.calls)
}

func TestManualDispatchDeliveryFailure(t *testing.T) {
	f := newFixture(t)
	f.addQuietMember(t, "a", 20)
	f.notifier.failFor["a"] = true

	assert.False(t, f.sched.SendManual(context.Background(), "a"))
	assert.Empty(t, f.reminders(t, "a"))
}

func TestReminderUsesConfiguredTemplate(t *testing.T) {
	f := newFixture(t)
	f.addQuietMember(t, "u1", 5)

	template := "Hi {user}, gone {days}d"
	_, err := f.store.UpdateSettings(context.Background(), models.SettingsUpdate{ReminderTemplate: &template})
	require.NoError(t, err)

	require.True(t, f.sched.SendManual(context.Background(), "u1"))
	assert.Equal(t, "Hi <@u1>, gone 5d", f.notifier.texts["u1"])
}

func TestNewMemberRemindedAfterFourteenQuietDays(t *testing.T) {
	f := newFixture(t)

	joined := *f.current
	_, err := f.store.CreateMember(context.Background(), &models.Member{
		ID:       "m",
		Username: "m",
		JoinedAt: joined,
	})
	require.NoError(t, err)

	// Nothing happens while the member is under the threshold.
	*f.current = f.current.Add(13 * 24 * time.Hour)
	f.sched.Tick(context.Background())
	assert.Empty(t, f.notifier.calls)

	*f.current = f.current.Add(24*time.Hour + time.Hour)
	f.sched.Tick(context.Background())

	reminders := f.reminders(t, "m")
	require.Len(t, reminders, 1)
	assert.Equal(t, 14, reminders[0].DaysSinceLastActivity)
}

func TestStartIsGuardedAgainstDoubleInvocation(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.sched.Start())
	assert.ErrorIs(t, f.sched.Start(), ErrAlreadyRunning)

	f.sched.Stop()
	f.sched.Stop() // safe when already stopped

	// A full stop allows a fresh start.
	require.NoError(t, f.sched.Start())
	f.sched.Stop()
}

func TestRenderTemplateFallsBackWhenEmpty(t *testing.T) {
	text := renderTemplate("", "u9", 3)
	assert.Contains(t, text, "<@u9>")
	assert.Contains(t, text, "3")
}
