// Package bot adapts the Discord gateway to the tracker and serves as the
// delivery transport for reminders.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/velkov/nudgebot/internal/models"
	"github.com/velkov/nudgebot/internal/storage"
	"github.com/velkov/nudgebot/internal/tracker"
	"go.uber.org/zap"
)

// memberPageSize is the page size used when syncing guild members.
const memberPageSize = 1000

type Bot struct {
	session *discordgo.Session
	storage storage.Storage
	tracker *tracker.Tracker
	logger  *zap.Logger
	ready   atomic.Bool
}

func New(token string, store storage.Storage, trk *tracker.Tracker, logger *zap.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent |
		discordgo.IntentsGuildVoiceStates

	b := &Bot{
		session: session,
		storage: store,
		tracker: trk,
		logger:  logger,
	}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onVoiceStateUpdate)
	session.AddHandler(b.onGuildMemberAdd)

	return b, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway connection: %w", err)
	}
	return nil
}

func (b *Bot) Stop() error {
	b.ready.Store(false)
	return b.session.Close()
}

// Ready reports whether the gateway session has completed its handshake.
func (b *Bot) Ready() bool {
	return b.ready.Load()
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.ready.Store(true)
	b.logger.Info("Discord gateway ready",
		zap.String("user", r.User.Username),
		zap.Int("guilds", len(r.Guilds)))

	if err := b.SyncMembers(context.Background()); err != nil {
		b.logger.Error("Failed to sync guild members", zap.Error(err))
	}
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	b.tracker.TrackMessage(context.Background(), m.Author.ID, m.Author.Username, b.channelName(s, m.ChannelID))
}

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.Member == nil || v.Member.User == nil || v.Member.User.Bot {
		return
	}
	user := v.Member.User

	joinedChannel := v.ChannelID != "" && (v.BeforeUpdate == nil || v.BeforeUpdate.ChannelID == "")
	leftChannel := v.ChannelID == "" && v.BeforeUpdate != nil && v.BeforeUpdate.ChannelID != ""

	switch {
	case joinedChannel:
		b.tracker.TrackVoiceJoin(context.Background(), user.ID, user.Username, b.channelName(s, v.ChannelID))
	case leftChannel:
		b.tracker.TrackVoiceLeave(context.Background(), user.ID, user.Username, b.channelName(s, v.BeforeUpdate.ChannelID))
	}
}

func (b *Bot) onGuildMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.User == nil || m.User.Bot {
		return
	}
	displayName := m.Nick
	if displayName == "" {
		displayName = m.User.Username
	}
	b.tracker.TrackMemberJoined(context.Background(), m.User.ID, m.User.Username, displayName, m.JoinedAt)
}

func (b *Bot) channelName(s *discordgo.Session, channelID string) string {
	if channel, err := s.State.Channel(channelID); err == nil {
		return channel.Name
	}
	if channel, err := s.Channel(channelID); err == nil {
		return channel.Name
	}
	return "unknown"
}

// SyncMembers registers every non-bot guild member that storage does not
// know yet, so members who joined before the bot did still get tracked.
// When no server is configured, the first guild the session sees is
// adopted and persisted.
func (b *Bot) SyncMembers(ctx context.Context) error {
	settings, err := b.storage.GetSettings(ctx)
	if err != nil {
		return err
	}

	guildID := settings.ServerID
	if guildID == "" {
		if len(b.session.State.Guilds) == 0 {
			return errors.New("no server configured and no guilds available")
		}
		guildID = b.session.State.Guilds[0].ID
		if _, err := b.storage.UpdateSettings(ctx, models.SettingsUpdate{ServerID: &guildID}); err != nil {
			return err
		}
		b.logger.Info("Auto-configured server", zap.String("guild_id", guildID))
	}

	created := 0
	after := ""
	for {
		members, err := b.session.GuildMembers(guildID, after, memberPageSize)
		if err != nil {
			return fmt.Errorf("failed to fetch guild members: %w", err)
		}
		if len(members) == 0 {
			break
		}
		for _, member := range members {
			after = member.User.ID
			if member.User.Bot {
				continue
			}
			displayName := member.Nick
			if displayName == "" {
				displayName = member.User.Username
			}
			_, err := b.storage.CreateMember(ctx, &models.Member{
				ID:          member.User.ID,
				Username:    member.User.Username,
				DisplayName: displayName,
				JoinedAt:    member.JoinedAt,
			})
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}
			if err != nil {
				b.logger.Error("Failed to store member",
					zap.Error(err),
					zap.String("member_id", member.User.ID))
				continue
			}
			created++
		}
		if len(members) < memberPageSize {
			break
		}
	}

	b.logger.Info("Guild member sync complete",
		zap.String("guild_id", guildID),
		zap.Int("created", created))
	return nil
}

// Notify implements reminder.Notifier: the reminder is posted to the first
// text channel whose name contains "bot", mirroring where members expect
// automated messages.
func (b *Bot) Notify(ctx context.Context, memberID, text string) (string, error) {
	settings, err := b.storage.GetSettings(ctx)
	if err != nil {
		return "", err
	}
	if settings.ServerID == "" {
		return "", errors.New("no server configured")
	}

	channels, err := b.session.GuildChannels(settings.ServerID)
	if err != nil {
		return "", fmt.Errorf("failed to list guild channels: %w", err)
	}
	for _, channel := range channels {
		if channel.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		if !strings.Contains(strings.ToLower(channel.Name), "bot") {
			continue
		}
		if _, err := b.session.ChannelMessageSend(channel.ID, text); err != nil {
			return "", fmt.Errorf("failed to send message: %w", err)
		}
		return channel.Name, nil
	}
	return "", errors.New("no bot channel found")
}

// Status is the snapshot the control surface exposes.
type Status struct {
	IsReady     bool `json:"isReady"`
	IsConnected bool `json:"isConnected"`
	MemberCount int  `json:"memberCount"`
}

func (b *Bot) Status() Status {
	count := 0
	for _, guild := range b.session.State.Guilds {
		count += guild.MemberCount
	}
	return Status{
		IsReady:     b.ready.Load(),
		IsConnected: b.ready.Load(),
		MemberCount: count,
	}
}
