package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/velkov/nudgebot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	storage := &PostgresStorage{db: db}

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	// Seed the singleton settings row so reads never come up empty
	_, err = s.db.Exec(`
		INSERT INTO bot_settings (id, reminder_template)
		VALUES ('default', $1)
		ON CONFLICT (id) DO NOTHING`,
		models.DefaultReminderTemplate)
	if err != nil {
		return fmt.Errorf("error seeding settings: %v", err)
	}

	return nil
}

const memberColumns = `id, username, COALESCE(display_name, ''), joined_at, last_activity,
	status, messages_this_week, voice_time_this_week, total_messages, total_voice_time`

func scanMember(row interface{ Scan(...any) error }) (*models.Member, error) {
	member := &models.Member{}
	var lastActivity sql.NullTime
	err := row.Scan(
		&member.ID,
		&member.Username,
		&member.DisplayName,
		&member.JoinedAt,
		&lastActivity,
		&member.Status,
		&member.MessagesThisWeek,
		&member.VoiceTimeThisWeek,
		&member.TotalMessages,
		&member.TotalVoiceTime,
	)
	if err != nil {
		return nil, err
	}
	if lastActivity.Valid {
		t := lastActivity.Time
		member.LastActivity = &t
	}
	return member, nil
}

func (s *PostgresStorage) GetMember(ctx context.Context, id string) (*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = $1`

	member, err := scanMember(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying member: %v", err)
	}
	return member, nil
}

func (s *PostgresStorage) ListMembers(ctx context.Context) ([]*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members ORDER BY joined_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying members: %v", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning member: %v", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (s *PostgresStorage) CreateMember(ctx context.Context, member *models.Member) (*models.Member, error) {
	query := `
		INSERT INTO members (id, username, display_name, joined_at, last_activity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + memberColumns

	created, err := scanMember(s.db.QueryRowContext(ctx, query,
		member.ID, member.Username, member.DisplayName, member.JoinedAt, member.LastActivity))
	if err == sql.ErrNoRows {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("error creating member: %v", err)
	}
	return created, nil
}

func (s *PostgresStorage) UpdateMember(ctx context.Context, id string, update MemberUpdate) (*models.Member, error) {
	var sets []string
	var args []any

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Username != nil {
		add("username", *update.Username)
	}
	if update.DisplayName != nil {
		add("display_name", *update.DisplayName)
	}
	if update.LastActivity != nil {
		add("last_activity", *update.LastActivity)
	}
	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.MessagesThisWeek != nil {
		add("messages_this_week", *update.MessagesThisWeek)
	}
	if update.VoiceTimeThisWeek != nil {
		add("voice_time_this_week", *update.VoiceTimeThisWeek)
	}
	if update.TotalMessages != nil {
		add("total_messages", *update.TotalMessages)
	}
	if update.TotalVoiceTime != nil {
		add("total_voice_time", *update.TotalVoiceTime)
	}

	if len(sets) == 0 {
		return s.GetMember(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE members SET %s WHERE id = $%d RETURNING `+memberColumns,
		strings.Join(sets, ", "), len(args))

	member, err := scanMember(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error updating member: %v", err)
	}
	return member, nil
}

func (s *PostgresStorage) ListInactiveMembers(ctx context.Context, dayThreshold int) ([]*models.Member, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM members
		WHERE COALESCE(last_activity, joined_at) < now() - make_interval(days => $1)
		ORDER BY COALESCE(last_activity, joined_at)`

	rows, err := s.db.QueryContext(ctx, query, dayThreshold)
	if err != nil {
		return nil, fmt.Errorf("error querying inactive members: %v", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning member: %v", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (s *PostgresStorage) AppendActivity(ctx context.Context, memberID, activityType, channelName, data string) (*models.Activity, error) {
	query := `
		INSERT INTO activities (id, member_id, type, channel_name, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING timestamp`

	activity := &models.Activity{
		ID:          uuid.New().String(),
		MemberID:    memberID,
		Type:        activityType,
		ChannelName: channelName,
		Data:        data,
	}
	err := s.db.QueryRowContext(ctx, query,
		activity.ID, memberID, activityType, channelName, data).Scan(&activity.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("error creating activity: %v", err)
	}
	return activity, nil
}

func (s *PostgresStorage) listActivities(ctx context.Context, query string, args ...any) ([]*models.Activity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying activities: %v", err)
	}
	defer rows.Close()

	var activities []*models.Activity
	for rows.Next() {
		activity := &models.Activity{}
		err := rows.Scan(
			&activity.ID,
			&activity.MemberID,
			&activity.Type,
			&activity.ChannelName,
			&activity.Timestamp,
			&activity.Data,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning activity: %v", err)
		}
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}

func (s *PostgresStorage) ListActivitiesByMember(ctx context.Context, memberID string, limit int) ([]*models.Activity, error) {
	query := `
		SELECT id, member_id, type, channel_name, timestamp, data
		FROM activities
		WHERE member_id = $1
		ORDER BY timestamp DESC`
	if limit > 0 {
		return s.listActivities(ctx, query+` LIMIT $2`, memberID, limit)
	}
	return s.listActivities(ctx, query, memberID)
}

func (s *PostgresStorage) ListRecentActivities(ctx context.Context, limit int) ([]*models.Activity, error) {
	query := `
		SELECT id, member_id, type, channel_name, timestamp, data
		FROM activities
		ORDER BY timestamp DESC
		LIMIT $1`
	return s.listActivities(ctx, query, limit)
}

func (s *PostgresStorage) AppendReminder(ctx context.Context, memberID string, daysSinceLastActivity int, channelName string) (*models.Reminder, error) {
	query := `
		INSERT INTO reminders (id, member_id, days_since_last_activity, channel_name)
		VALUES ($1, $2, $3, $4)
		RETURNING sent_at`

	reminder := &models.Reminder{
		ID:                    uuid.New().String(),
		MemberID:              memberID,
		DaysSinceLastActivity: daysSinceLastActivity,
		ChannelName:           channelName,
	}
	err := s.db.QueryRowContext(ctx, query,
		reminder.ID, memberID, daysSinceLastActivity, channelName).Scan(&reminder.SentAt)
	if err != nil {
		return nil, fmt.Errorf("error creating reminder: %v", err)
	}
	return reminder, nil
}

func (s *PostgresStorage) ListRecentReminders(ctx context.Context, memberID string, withinDays int) ([]*models.Reminder, error) {
	query := `
		SELECT id, member_id, sent_at, days_since_last_activity, channel_name
		FROM reminders
		WHERE sent_at >= now() - make_interval(days => $1)
		  AND ($2 = '' OR member_id = $2)
		ORDER BY sent_at DESC`

	rows, err := s.db.QueryContext(ctx, query, withinDays, memberID)
	if err != nil {
		return nil, fmt.Errorf("error querying reminders: %v", err)
	}
	defer rows.Close()

	var reminders []*models.Reminder
	for rows.Next() {
		reminder := &models.Reminder{}
		err := rows.Scan(
			&reminder.ID,
			&reminder.MemberID,
			&reminder.SentAt,
			&reminder.DaysSinceLastActivity,
			&reminder.ChannelName,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning reminder: %v", err)
		}
		reminders = append(reminders, reminder)
	}
	return reminders, rows.Err()
}

func (s *PostgresStorage) GetMostRecentReminder(ctx context.Context) (*models.Reminder, error) {
	query := `
		SELECT id, member_id, sent_at, days_since_last_activity, channel_name
		FROM reminders
		ORDER BY sent_at DESC
		LIMIT 1`

	reminder := &models.Reminder{}
	err := s.db.QueryRowContext(ctx, query).Scan(
		&reminder.ID,
		&reminder.MemberID,
		&reminder.SentAt,
		&reminder.DaysSinceLastActivity,
		&reminder.ChannelName,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying last reminder: %v", err)
	}
	return reminder, nil
}

func (s *PostgresStorage) GetSettings(ctx context.Context) (*models.Settings, error) {
	query := `
		SELECT discord_token, server_id, inactivity_threshold, reminder_cooldown,
		       rate_limit_minutes, reminder_template, is_active
		FROM bot_settings
		WHERE id = 'default'`

	settings := &models.Settings{}
	err := s.db.QueryRowContext(ctx, query).Scan(
		&settings.DiscordToken,
		&settings.ServerID,
		&settings.InactivityThreshold,
		&settings.ReminderCooldown,
		&settings.RateLimitMinutes,
		&settings.ReminderTemplate,
		&settings.IsActive,
	)
	if err == sql.ErrNoRows {
		defaults := models.DefaultSettings()
		return &defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying settings: %v", err)
	}
	return settings, nil
}

func (s *PostgresStorage) UpdateSettings(ctx context.Context, update models.SettingsUpdate) (*models.Settings, error) {
	settings, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	update.Apply(settings)

	query := `
		INSERT INTO bot_settings (id, discord_token, server_id, inactivity_threshold,
		                          reminder_cooldown, rate_limit_minutes, reminder_template, is_active)
		VALUES ('default', $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			discord_token = EXCLUDED.discord_token,
			server_id = EXCLUDED.server_id,
			inactivity_threshold = EXCLUDED.inactivity_threshold,
			reminder_cooldown = EXCLUDED.reminder_cooldown,
			rate_limit_minutes = EXCLUDED.rate_limit_minutes,
			reminder_template = EXCLUDED.reminder_template,
			is_active = EXCLUDED.is_active`

	_, err = s.db.ExecContext(ctx, query,
		settings.DiscordToken,
		settings.ServerID,
		settings.InactivityThreshold,
		settings.ReminderCooldown,
		settings.RateLimitMinutes,
		settings.ReminderTemplate,
		settings.IsActive,
	)
	if err != nil {
		return nil, fmt.Errorf("error updating settings: %v", err)
	}
	return settings, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
