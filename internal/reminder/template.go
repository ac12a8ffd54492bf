package reminder

import (
	"strconv"
	"strings"

	"github.com/velkov/nudgebot/internal/models"
)

// renderTemplate substitutes {user} with a mention of the member and
// {days} with the inactivity day count. An empty template falls back to
// the stock message.
func renderTemplate(template, memberID string, days int) string {
	if template == "" {
		template = models.DefaultReminderTemplate
	}
	text := strings.ReplaceAll(template, "{user}", "<@"+memberID+">")
	return strings.ReplaceAll(text, "{days}", strconv.Itoa(days))
}
