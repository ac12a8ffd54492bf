// Package server exposes the HTTP control and query surface consumed by
// the dashboard.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/velkov/nudgebot/internal/bot"
	"github.com/velkov/nudgebot/internal/models"
	"github.com/velkov/nudgebot/internal/reminder"
	"github.com/velkov/nudgebot/internal/storage"
	"github.com/velkov/nudgebot/internal/tracker"
	"go.uber.org/zap"
)

// Gateway is the slice of the Discord adapter the status endpoint needs.
type Gateway interface {
	Status() bot.Status
}

type Server struct {
	storage   storage.Storage
	tracker   *tracker.Tracker
	scheduler *reminder.Scheduler
	gateway   Gateway
	logger    *zap.Logger

	httpServer *http.Server
}

func New(store storage.Storage, trk *tracker.Tracker, sched *reminder.Scheduler, gateway Gateway, logger *zap.Logger) *Server {
	return &Server{
		storage:   store,
		tracker:   trk,
		scheduler: sched,
		gateway:   gateway,
		logger:    logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/bot/status", s.handleBotStatus)
	mux.HandleFunc("GET /api/members", s.handleListMembers)
	mux.HandleFunc("GET /api/members/stats", s.handleMemberStats)
	mux.HandleFunc("GET /api/members/inactive", s.handleInactiveMembers)
	mux.HandleFunc("GET /api/activities/recent", s.handleRecentActivities)
	mux.HandleFunc("GET /api/reminders/recent", s.handleRecentReminders)
	mux.HandleFunc("POST /api/reminders/send/{memberId}", s.handleSendReminder)
	mux.HandleFunc("POST /api/reminders/force-check", s.handleForceCheck)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handleUpdateSettings)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("HTTP server listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	settings, err := s.storage.GetSettings(r.Context())
	if err != nil {
		s.serverError(w, "Failed to get bot status", err)
		return
	}

	status := bot.Status{}
	if s.gateway != nil {
		status = s.gateway.Status()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"isReady":     status.IsReady,
		"isConnected": status.IsConnected,
		"memberCount": status.MemberCount,
		"isActive":    settings.IsActive,
	})
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.storage.ListMembers(r.Context())
	if err != nil {
		s.serverError(w, "Failed to get members", err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleMemberStats(w http.ResponseWriter, r *http.Request) {
	members, err := s.storage.ListMembers(r.Context())
	if err != nil {
		s.serverError(w, "Failed to get member stats", err)
		return
	}

	var active, veryInactive int
	for _, member := range members {
		switch member.Status {
		case models.StatusActive:
			active++
		case models.StatusVeryInactive:
			veryInactive++
		}
	}

	remindersToday, err := s.storage.ListRecentReminders(r.Context(), "", 1)
	if err != nil {
		s.serverError(w, "Failed to get member stats", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totalMembers":       len(members),
		"activeMembers":      active,
		"inactiveMembers":    veryInactive,
		"remindersSentToday": len(remindersToday),
	})
}

type inactiveMemberView struct {
	*models.Member
	LastReminder          *time.Time `json:"lastReminder"`
	DaysSinceLastActivity int        `json:"daysSinceLastActivity"`
}

func (s *Server) handleInactiveMembers(w http.ResponseWriter, r *http.Request) {
	settings, err := s.storage.GetSettings(r.Context())
	if err != nil {
		s.serverError(w, "Failed to get inactive members", err)
		return
	}

	members, err := s.storage.ListInactiveMembers(r.Context(), settings.InactivityThreshold)
	if err != nil {
		s.serverError(w, "Failed to get inactive members", err)
		return
	}

	now := time.Now()
	views := make([]inactiveMemberView, 0, len(members))
	for _, member := range members {
		view := inactiveMemberView{
			Member:                member,
			DaysSinceLastActivity: member.DaysInactive(now),
		}
		reminders, err := s.storage.ListRecentReminders(r.Context(), member.ID, 30)
		if err == nil && len(reminders) > 0 {
			view.LastReminder = &reminders[0].SentAt
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

type activityView struct {
	*models.Activity
	MemberUsername    string `json:"memberUsername"`
	MemberDisplayName string `json:"memberDisplayName"`
}

func (s *Server) handleRecentActivities(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	activities, err := s.storage.ListRecentActivities(r.Context(), limit)
	if err != nil {
		s.serverError(w, "Failed to get recent activities", err)
		return
	}

	views := make([]activityView, 0, len(activities))
	for _, activity := range activities {
		view := activityView{
			Activity:          activity,
			MemberUsername:    "Unknown",
			MemberDisplayName: "Unknown",
		}
		if member, err := s.storage.GetMember(r.Context(), activity.MemberID); err == nil {
			view.MemberUsername = member.Username
			view.MemberDisplayName = member.DisplayName
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRecentReminders(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	reminders, err := s.storage.ListRecentReminders(r.Context(), "", 7)
	if err != nil {
		s.serverError(w, "Failed to get recent reminders", err)
		return
	}
	if len(reminders) > limit {
		reminders = reminders[:limit]
	}
	writeJSON(w, http.StatusOK, reminders)
}

func (s *Server) handleSendReminder(w http.ResponseWriter, r *http.Request) {
	memberID := r.PathValue("memberId")
	if s.scheduler.SendManual(r.Context(), memberID) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Reminder sent successfully"})
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Failed to send reminder"})
}

func (s *Server) handleForceCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.ClassifyAll(r.Context()); err != nil {
		s.serverError(w, "Failed to perform force check", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Force check completed"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.storage.GetSettings(r.Context())
	if err != nil {
		s.serverError(w, "Failed to get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var update models.SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid settings data"})
		return
	}
	if msg := validateSettings(update); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": msg})
		return
	}

	settings, err := s.storage.UpdateSettings(r.Context(), update)
	if err != nil {
		s.serverError(w, "Failed to update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// validateSettings applies the range constraints owned by the control
// surface. Returns an empty string when the update is acceptable.
func validateSettings(update models.SettingsUpdate) string {
	if update.InactivityThreshold != nil && (*update.InactivityThreshold < 1 || *update.InactivityThreshold > 365) {
		return "inactivityThreshold must be between 1 and 365 days"
	}
	if update.ReminderCooldown != nil && (*update.ReminderCooldown < 1 || *update.ReminderCooldown > 365) {
		return "reminderCooldown must be between 1 and 365 days"
	}
	if update.RateLimitMinutes != nil && (*update.RateLimitMinutes < 1 || *update.RateLimitMinutes > 1440) {
		return "rateLimitMinutes must be between 1 and 1440"
	}
	return ""
}

func (s *Server) serverError(w http.ResponseWriter, message string, err error) {
	s.logger.Error(message, zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string, fallback int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
