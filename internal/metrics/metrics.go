// Package metrics exposes prometheus instrumentation for the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsTracked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nudgebot_events_tracked_total",
		Help: "Engagement events recorded, by type.",
	}, []string{"type"})

	RemindersSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nudgebot_reminders_sent_total",
		Help: "Reminders delivered and persisted, by trigger.",
	}, []string{"trigger"})

	ReminderFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nudgebot_reminder_failures_total",
		Help: "Reminder delivery attempts that failed.",
	})

	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nudgebot_scheduler_ticks_total",
		Help: "Reminder scheduler tick executions.",
	})
)
