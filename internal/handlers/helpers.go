package handlers

import (
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/voxguard-tgbot-go/internal/config"
	"github.com/voxguard-tgbot-go/internal/i18n"
	"github.com/voxguard-tgbot-go/internal/models"
	"github.com/voxguard-tgbot-go/internal/services/settings"
	"github.com/voxguard-tgbot-go/pkg/markdown"
)

// userLang resolves the reply language from the user's stored settings,
// falling back to the configured default.
func userLang(cfg *config.Config, settingsService *settings.Service, uid string) string {
	if s := settingsService.Get(uid); s != nil {
		if lang, ok := s["language"].(string); ok && lang != "" {
			return lang
		}
	}
	return cfg.I18n.DefaultLanguage
}

// sendHTML sends text converted to Telegram HTML.
func sendHTML(bot *tgbotapi.BotAPI, chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, markdown.ToTelegramHTML(text))
	msg.ParseMode = tgbotapi.ModeHTML
	return bot.Send(msg)
}

// scheduleDelete removes a service reply after the configured delay when the
// user opted into auto-deletion. Deletion is best effort; a message the user
// already removed is not an error.
func scheduleDelete(bot *tgbotapi.BotAPI, cfg *config.Config, userSettings models.UserSettings, chatID int64, messageID int) {
	if !userSettings.AutoDelete() {
		return
	}
	delay := cfg.Bot.AutoDelete.Delay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	time.AfterFunc(delay, func() {
		bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	})
}

func uidOf(from *tgbotapi.User) string {
	return strconv.FormatInt(from.ID, 10)
}

// displaySlot converts the internal 0-based slot index to the 1-based number
// shown to users. Callback data and artifact paths stay 0-based.
func displaySlot(slot int) int {
	return slot + 1
}

// verdictMessageID picks the screening-result reply sent after every
// moderated message.
func verdictMessageID(flagged bool) string {
	if flagged {
		return i18n.MsgResultDanger
	}
	return i18n.MsgResultSafe
}
