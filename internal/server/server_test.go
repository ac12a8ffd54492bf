package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velkov/nudgebot/internal/models"
	"github.com/velkov/nudgebot/internal/reminder"
	"github.com/velkov/nudgebot/internal/storage"
	"github.com/velkov/nudgebot/internal/tracker"
	"go.uber.org/zap"
)

type stubNotifier struct {
	fail bool
}

func (s *stubNotifier) Notify(ctx context.Context, memberID, text string) (string, error) {
	if s.fail {
		return "", errors.New("delivery failed")
	}
	return "bot-channel", nil
}

func newTestHandler(t *testing.T) (http.Handler, *storage.MemoryStorage) {
	t.Helper()

	store := storage.NewMemoryStorage()
	logger := zap.NewNop()
	trk := tracker.New(store, logger)
	sched := reminder.New(store, &stubNotifier{}, logger)
	srv := New(store, trk, sched, nil, logger)
	return srv.Handler(), store
}

func TestGetSettings(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"inactivityThreshold":14`)
}

func TestUpdateSettingsPartial(t *testing.T) {
	handler, store := newTestHandler(t)

	body := strings.NewReader(`{"inactivityThreshold": 21, "isActive": true}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/settings", body))
	require.Equal(t, http.StatusOK, rec.Code)

	settings, err := store.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 21, settings.InactivityThreshold)
	assert.True(t, settings.IsActive)
	assert.Equal(t, 3, settings.ReminderCooldown) // untouched
}

func TestUpdateSettingsRejectsOutOfRange(t *testing.T) {
	handler, _ := newTestHandler(t)

	for _, body := range []string{
		`{"inactivityThreshold": 0}`,
		`{"inactivityThreshold": 400}`,
		`{"reminderCooldown": -1}`,
		`{"rateLimitMinutes": 2000}`,
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestSendReminderEndpoint(t *testing.T) {
	handler, store := newTestHandler(t)

	_, err := store.CreateMember(context.Background(), &models.Member{
		ID:       "u1",
		Username: "alice",
		JoinedAt: time.Now().Add(-20 * 24 * time.Hour),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reminders/send/u1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	reminders, err := store.ListRecentReminders(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.Len(t, reminders, 1)

	// Unknown member surfaces as a client error, not a crash.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reminders/send/ghost", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemberStats(t *testing.T) {
	handler, store := newTestHandler(t)
	ctx := context.Background()

	_, err := store.CreateMember(ctx, &models.Member{ID: "a", Username: "a", JoinedAt: time.Now()})
	require.NoError(t, err)
	active := models.StatusActive
	_, err = store.UpdateMember(ctx, "a", storage.MemberUpdate{Status: &active})
	require.NoError(t, err)

	_, err = store.CreateMember(ctx, &models.Member{ID: "b", Username: "b", JoinedAt: time.Now()})
	require.NoError(t, err)
	quiet := models.StatusVeryInactive
	_, err = store.UpdateMember(ctx, "b", storage.MemberUpdate{Status: &quiet})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/members/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"totalMembers":2`)
	assert.Contains(t, body, `"activeMembers":1`)
	assert.Contains(t, body, `"inactiveMembers":1`)
}

func TestForceCheckReclassifies(t *testing.T) {
	handler, store := newTestHandler(t)
	ctx := context.Background()

	_, err := store.CreateMember(ctx, &models.Member{
		ID:       "old",
		Username: "old",
		JoinedAt: time.Now().Add(-30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reminders/force-check", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	member, err := store.GetMember(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, models.StatusVeryInactive, member.Status)
}

func TestBotStatusWithoutGateway(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bot/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isActive":false`)
}
