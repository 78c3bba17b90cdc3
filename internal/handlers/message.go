package handlers

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/config"
	"github.com/voxguard-tgbot-go/internal/i18n"
	"github.com/voxguard-tgbot-go/internal/middleware"
	"github.com/voxguard-tgbot-go/internal/models"
	"github.com/voxguard-tgbot-go/internal/services/moderation"
	"github.com/voxguard-tgbot-go/internal/services/quota"
	"github.com/voxguard-tgbot-go/internal/services/session"
	"github.com/voxguard-tgbot-go/internal/services/settings"
	"github.com/voxguard-tgbot-go/internal/services/slots"
	"github.com/voxguard-tgbot-go/internal/services/strikes"
	"github.com/voxguard-tgbot-go/internal/services/tariff"
	"github.com/voxguard-tgbot-go/internal/services/voice"
)

// MessageHandler handles non-command messages: text to synthesize, voice to
// clone and Web-App payloads.
type MessageHandler struct {
	bot         *tgbotapi.BotAPI
	config      *config.Config
	moderation  *moderation.Pipeline
	tariffs     *tariff.Engine
	counter     *quota.Counter
	strikes     *strikes.Engine
	slots       *slots.Engine
	settings    *settings.Service
	sessions    session.Store
	engine      voice.Engine
	queue       *voice.Queue
	rateLimiter middleware.RateLimiter
	security    *middleware.SecurityMiddleware
	metrics     *middleware.Metrics
	localizer   *i18n.Localizer
	logger      *logrus.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(
	bot *tgbotapi.BotAPI,
	cfg *config.Config,
	moderationPipeline *moderation.Pipeline,
	tariffs *tariff.Engine,
	counter *quota.Counter,
	strikeEngine *strikes.Engine,
	slotEngine *slots.Engine,
	settingsService *settings.Service,
	sessions session.Store,
	engine voice.Engine,
	queue *voice.Queue,
	rateLimiter middleware.RateLimiter,
	security *middleware.SecurityMiddleware,
	metrics *middleware.Metrics,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *MessageHandler {
	return &MessageHandler{
		bot:         bot,
		config:      cfg,
		moderation:  moderationPipeline,
		tariffs:     tariffs,
		counter:     counter,
		strikes:     strikeEngine,
		slots:       slotEngine,
		settings:    settingsService,
		sessions:    sessions,
		engine:      engine,
		queue:       queue,
		rateLimiter: rateLimiter,
		security:    security,
		metrics:     metrics,
		localizer:   localizer,
		logger:      logger,
	}
}

// HandleMessage routes one inbound message. Blacklisted users are answered
// with the terminal notice and nothing else, whatever they send.
func (m *MessageHandler) HandleMessage(ctx context.Context, message *tgbotapi.Message) error {
	uid := uidOf(message.From)
	lang := userLang(m.config, m.settings, uid)
	userSettings := m.settings.Get(uid)

	if m.strikes.IsBlacklisted(uid) {
		m.metrics.RecordMessageProcessed("blacklisted")
		_, err := sendHTML(m.bot, message.Chat.ID, m.localizer.Get(lang, i18n.MsgBlocked, nil))
		return err
	}

	switch {
	case message.Voice != nil || message.Audio != nil || message.VideoNote != nil || message.Video != nil:
		m.metrics.RecordMessageReceived("voice")
		return m.HandleVoice(ctx, message, uid, lang, userSettings)
	case message.Text != "":
		m.metrics.RecordMessageReceived("text")
		return m.handleText(ctx, message, uid, lang, userSettings)
	}
	return nil
}

// handleText runs the moderation gate and, if the message survives, queues a
// synthesis job against the user's active slot.
func (m *MessageHandler) handleText(ctx context.Context, message *tgbotapi.Message, uid, lang string, userSettings models.UserSettings) error {
	chatID := message.Chat.ID

	if !m.rateLimiter.Allow(uid) {
		m.metrics.RecordRateLimitExceeded(uid)
		reply, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgRateLimited, nil))
		scheduleDelete(m.bot, m.config, userSettings, chatID, reply.MessageID)
		return err
	}
	if err := m.security.ValidateInput(message.Text); err != nil {
		_, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgGenericError, nil))
		return err
	}

	if userSettings.FilterOff() {
		// Unscreened messages still leave an audit trail for /history.
		m.moderation.RecordUnscored(uid, message.Text)
	} else {
		analysing, _ := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgAnalysing, nil))
		verdict, err := m.moderation.Evaluate(ctx, uid, message.Text)
		m.bot.Request(tgbotapi.NewDeleteMessage(chatID, analysing.MessageID))
		if err != nil {
			m.logger.WithError(err).WithField("user_id", uid).Error("Moderation failed")
			_, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgGenericError, nil))
			return err
		}

		result, _ := sendHTML(m.bot, chatID, m.localizer.Get(lang, verdictMessageID(verdict.Flagged), nil))
		scheduleDelete(m.bot, m.config, userSettings, chatID, result.MessageID)

		if verdict.Blocked {
			_, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgBlocked, nil))
			return err
		}
		if verdict.Flagged {
			reply, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgWarnStrike, map[string]interface{}{
				"Reason": verdict.Reason,
				"Count":  verdict.StrikeCount,
				"Max":    m.strikes.MaxStrikes(),
			}))
			scheduleDelete(m.bot, m.config, userSettings, chatID, reply.MessageID)
			return err
		}
	}

	if !m.tariffs.EffectiveQuota(uid).Allows(m.counter.Count(uid)) {
		reply, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgDailyLimit, nil))
		scheduleDelete(m.bot, m.config, userSettings, chatID, reply.MessageID)
		return err
	}

	slot, ok := m.sessions.ActiveSlot(ctx, uid)
	if !ok {
		_, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgChooseSlotFirst, nil))
		return err
	}
	embedding, err := m.slots.Resolve(uid, slot)
	if err != nil {
		_, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgSlotEmpty, map[string]interface{}{"Slot": displaySlot(slot)}))
		return err
	}

	status, _ := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgGenerating, nil))

	params := userSettings.TTSParams()
	started := time.Now()
	wavPath, err := m.queue.Submit(ctx, func(jobCtx context.Context) (string, error) {
		return m.engine.Synthesize(jobCtx, uid, embedding, message.Text, params)
	})
	if err != nil {
		m.metrics.RecordSynthRequest("error", time.Since(started))
		m.logger.WithError(err).WithField("user_id", uid).Error("Synthesis failed")
		m.bot.Request(tgbotapi.NewDeleteMessage(chatID, status.MessageID))
		_, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgGenericError, nil))
		return err
	}
	m.metrics.RecordSynthRequest("success", time.Since(started))

	audio := tgbotapi.NewAudio(chatID, tgbotapi.FilePath(wavPath))
	audio.ReplyToMessageID = message.MessageID
	if _, err := m.bot.Send(audio); err != nil {
		m.bot.Request(tgbotapi.NewDeleteMessage(chatID, status.MessageID))
		return err
	}

	// Bill only once the audio actually reached the user.
	if err := m.counter.Increment(uid); err != nil {
		m.logger.WithError(err).WithField("user_id", uid).Warn("Failed to increment daily counter")
	}
	m.bot.Request(tgbotapi.NewDeleteMessage(chatID, status.MessageID))

	done, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgDone, nil))
	if err == nil {
		scheduleDelete(m.bot, m.config, userSettings, chatID, done.MessageID)
	}
	return nil
}
