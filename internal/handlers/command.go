package handlers

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/config"
	"github.com/voxguard-tgbot-go/internal/i18n"
	"github.com/voxguard-tgbot-go/internal/models"
	"github.com/voxguard-tgbot-go/internal/services/quota"
	"github.com/voxguard-tgbot-go/internal/services/session"
	"github.com/voxguard-tgbot-go/internal/services/settings"
	"github.com/voxguard-tgbot-go/internal/services/slots"
	"github.com/voxguard-tgbot-go/internal/services/strikes"
	"github.com/voxguard-tgbot-go/internal/services/tariff"
	"github.com/voxguard-tgbot-go/internal/storage"
)

// CommandHandler handles telegram commands and inline keyboard callbacks
type CommandHandler struct {
	bot        *tgbotapi.BotAPI
	config     *config.Config
	tariffs    *tariff.Engine
	counter    *quota.Counter
	strikes    *strikes.Engine
	slots      *slots.Engine
	settings   *settings.Service
	sessions   session.Store
	authorized *storage.ListFile
	files      *storage.UserFiles
	localizer  *i18n.Localizer
	logger     *logrus.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	bot *tgbotapi.BotAPI,
	cfg *config.Config,
	tariffs *tariff.Engine,
	counter *quota.Counter,
	strikeEngine *strikes.Engine,
	slotEngine *slots.Engine,
	settingsService *settings.Service,
	sessions session.Store,
	authorized *storage.ListFile,
	files *storage.UserFiles,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *CommandHandler {
	return &CommandHandler{
		bot:        bot,
		config:     cfg,
		tariffs:    tariffs,
		counter:    counter,
		strikes:    strikeEngine,
		slots:      slotEngine,
		settings:   settingsService,
		sessions:   sessions,
		authorized: authorized,
		files:      files,
		localizer:  localizer,
		logger:     logger,
	}
}

// HandleCommand processes telegram commands
func (h *CommandHandler) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	uid := uidOf(message.From)
	lang := userLang(h.config, h.settings, uid)

	if h.strikes.IsBlacklisted(uid) {
		_, err := sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgBlocked, nil))
		return err
	}

	switch message.Command() {
	case "start":
		return h.handleStart(ctx, chatID, uid, lang, message.CommandArguments())
	case "help":
		_, err := sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgHelp, nil))
		return err
	case "about":
		_, err := sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgAbout, nil))
		return err
	case "filter":
		return h.handleFilter(chatID, uid, lang)
	case "stats":
		return h.handleStats(chatID, uid, lang)
	case "history":
		return h.handleHistory(chatID, uid, lang)
	case "feedback":
		return h.handleFeedback(chatID, uid, lang, message.CommandArguments())
	case "tariff":
		return h.handleTariff(chatID, uid, lang, message.CommandArguments())
	case "add_limit":
		return h.handleAddLimit(chatID, uid, lang, message.CommandArguments())
	default:
		_, err := sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgHelp, nil))
		return err
	}
}

// handleStart registers the user, ensures a tariff record exists and shows
// the slot menu plus the Web-App keyboard. "/start reset" instead offers a
// keyboard that relaunches the Web-App with cleared storage.
func (h *CommandHandler) handleStart(ctx context.Context, chatID int64, uid, lang, args string) error {
	if err := h.authorized.Add(uid); err != nil {
		h.logger.WithError(err).WithField("user_id", uid).Error("Failed to register user")
	}
	// First contact materializes the free-tier record.
	plan := h.tariffs.GetPlan(uid)
	h.logger.WithFields(logrus.Fields{"user_id": uid, "plan": plan}).Info("User started bot")

	if strings.TrimSpace(args) == "reset" {
		msg := tgbotapi.NewMessage(chatID, h.localizer.Get(lang, i18n.MsgWebAppReset, nil))
		msg.ReplyMarkup = h.buildResetKeyboard(lang)
		_, err := h.bot.Send(msg)
		return err
	}

	occupied, err := h.slots.ListOccupied(uid)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", uid).Error("Failed to list slots")
	}
	active, hasActive := h.sessions.ActiveSlot(ctx, uid)

	menu := tgbotapi.NewMessage(chatID, h.localizer.Get(lang, i18n.MsgSlotsMenu, nil))
	menu.ReplyMarkup = buildSlotKeyboard(h.localizer, h.tariffs, uid, lang, occupied, active, hasActive)
	if _, err := h.bot.Send(menu); err != nil {
		return err
	}

	if h.config.Bot.WebAppURL == "" {
		return nil
	}
	webapp := tgbotapi.NewMessage(chatID, h.localizer.Get(lang, i18n.MsgOpenWebApp, nil))
	webapp.ReplyMarkup = h.buildWebAppKeyboard(lang)
	_, err = h.bot.Send(webapp)
	return err
}

func (h *CommandHandler) handleFilter(chatID int64, uid, lang string) error {
	off, err := h.settings.ToggleFilter(uid)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", uid).Error("Failed to toggle filter")
		_, err = sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgGenericError, nil))
		return err
	}
	msgID := i18n.MsgFilterOn
	if off {
		msgID = i18n.MsgFilterOff
	}
	_, err = sendHTML(h.bot, chatID, h.localizer.Get(lang, msgID, nil))
	return err
}

func (h *CommandHandler) handleStats(chatID int64, uid, lang string) error {
	plan := h.tariffs.GetPlan(uid)
	allowance := h.tariffs.EffectiveQuota(uid)
	occupied, _ := h.slots.ListOccupied(uid)

	quotaLabel := "∞"
	if allowance.DailyGen >= 0 {
		quotaLabel = strconv.Itoa(allowance.DailyGen)
	}
	text := h.localizer.Get(lang, i18n.MsgStats, map[string]interface{}{
		"Plan":     string(plan),
		"Strikes":  h.strikes.Count(uid),
		"Max":      h.strikes.MaxStrikes(),
		"Used":     h.counter.Count(uid),
		"Quota":    quotaLabel,
		"Occupied": len(occupied),
		"Slots":    allowance.Slots,
	})
	_, err := sendHTML(h.bot, chatID, text)
	return err
}

func (h *CommandHandler) handleHistory(chatID int64, uid, lang string) error {
	lines, err := h.files.LogTail(uid, 10)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", uid).Error("Failed to read audit log")
	}
	if len(lines) == 0 {
		_, err := sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgHistoryEmpty, nil))
		return err
	}
	msg := tgbotapi.NewMessage(chatID, strings.Join(lines, "\n"))
	_, err = h.bot.Send(msg)
	return err
}

func (h *CommandHandler) handleFeedback(chatID int64, uid, lang, args string) error {
	text := strings.TrimSpace(args)
	if text == "" {
		_, err := sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgFeedbackUsage, nil))
		return err
	}
	if err := h.files.AppendLog(uid, "FEEDBACK: "+text); err != nil {
		h.logger.WithError(err).WithField("user_id", uid).Error("Failed to store feedback")
	}
	h.logger.WithFields(logrus.Fields{"user_id": uid, "feedback": text}).Info("Feedback received")
	_, err := sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgFeedbackThanks, nil))
	return err
}

// handleTariff shows the plan keyboard. Admin only; an optional argument
// targets another user, otherwise the admin changes their own plan.
func (h *CommandHandler) handleTariff(chatID int64, uid, lang, args string) error {
	if !h.config.IsAdmin(uid) {
		_, err := sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgAdminOnly, nil))
		return err
	}
	target := strings.TrimSpace(args)
	if target == "" {
		target = uid
	}

	msg := tgbotapi.NewMessage(chatID, h.localizer.Get(lang, i18n.MsgTariffCurrent, map[string]interface{}{
		"Plan": string(h.tariffs.GetPlan(target)),
	}))
	msg.ReplyMarkup = buildTariffKeyboard(h.localizer, lang, target)
	_, err := h.bot.Send(msg)
	return err
}

// handleAddLimit grants bonus daily generations. Admin only; usage is
// "/add_limit <n> [uid]" with the admin themselves as the default target.
func (h *CommandHandler) handleAddLimit(chatID int64, uid, lang, args string) error {
	if !h.config.IsAdmin(uid) {
		_, err := sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgAdminOnly, nil))
		return err
	}

	fields := strings.Fields(args)
	if len(fields) == 0 {
		_, err := sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgAddLimitUsage, nil))
		return err
	}
	amount, err := strconv.Atoi(fields[0])
	if err != nil || amount <= 0 {
		_, err := sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgAddLimitUsage, nil))
		return err
	}
	target := uid
	if len(fields) > 1 {
		target = fields[1]
	}

	h.tariffs.AddBonus(target, amount)
	_, err = sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgLimitAdded, map[string]interface{}{
		"Amount": amount,
	}))
	return err
}

// HandleCallbackQuery processes inline keyboard callbacks
func (h *CommandHandler) HandleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	parts := strings.Split(callback.Data, ":")
	if len(parts) < 1 || callback.Message == nil {
		return nil
	}

	uid := uidOf(callback.From)
	chatID := callback.Message.Chat.ID
	messageID := callback.Message.MessageID
	lang := userLang(h.config, h.settings, uid)

	switch parts[0] {
	case "slot":
		if len(parts) >= 2 {
			return h.handleSlotCallback(ctx, chatID, messageID, uid, parts[1], lang, callback.ID)
		}
	case "new":
		if len(parts) >= 2 {
			return h.handleNewSlotCallback(ctx, chatID, uid, parts[1], lang, callback.ID)
		}
	case "plan":
		if len(parts) >= 3 {
			return h.handlePlanCallback(chatID, uid, parts[1], parts[2], lang, callback.ID)
		}
	case "noop":
		h.bot.Request(tgbotapi.NewCallback(callback.ID, ""))
	}
	return nil
}

// handleSlotCallback activates an occupied slot for synthesis.
func (h *CommandHandler) handleSlotCallback(ctx context.Context, chatID int64, messageID int, uid, slotArg, lang, callbackID string) error {
	slot, err := strconv.Atoi(slotArg)
	if err != nil {
		return nil
	}
	if _, err := h.slots.Resolve(uid, slot); err != nil {
		h.bot.Request(tgbotapi.NewCallback(callbackID, h.localizer.Get(lang, i18n.MsgSlotEmpty, map[string]interface{}{"Slot": displaySlot(slot)})))
		return nil
	}
	if err := h.sessions.SetActiveSlot(ctx, uid, slot); err != nil {
		h.logger.WithError(err).WithField("user_id", uid).Error("Failed to set active slot")
	}
	h.sessions.SetAwaitingVoice(ctx, uid, false)

	h.bot.Request(tgbotapi.NewCallback(callbackID, h.localizer.Get(lang, i18n.MsgSlotChosen, nil)))

	// Refresh the checkmark on the menu in place.
	occupied, _ := h.slots.ListOccupied(uid)
	keyboard := buildSlotKeyboard(h.localizer, h.tariffs, uid, lang, occupied, slot, true)
	h.bot.Request(tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, keyboard))

	_, err = sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgSlotSelected, map[string]interface{}{"Slot": displaySlot(slot)}))
	return err
}

// handleNewSlotCallback arms an empty slot: the next voice message the user
// sends is cloned into it.
func (h *CommandHandler) handleNewSlotCallback(ctx context.Context, chatID int64, uid, slotArg, lang, callbackID string) error {
	slot, err := strconv.Atoi(slotArg)
	if err != nil {
		return nil
	}
	if !h.slots.InRange(uid, slot) {
		h.bot.Request(tgbotapi.NewCallback(callbackID, h.localizer.Get(lang, i18n.MsgSlotOutOfRange, map[string]interface{}{"Slot": displaySlot(slot)})))
		return nil
	}
	if err := h.sessions.SetActiveSlot(ctx, uid, slot); err != nil {
		h.logger.WithError(err).WithField("user_id", uid).Error("Failed to set active slot")
	}
	if err := h.sessions.SetAwaitingVoice(ctx, uid, true); err != nil {
		h.logger.WithError(err).WithField("user_id", uid).Error("Failed to arm voice capture")
	}

	h.bot.Request(tgbotapi.NewCallback(callbackID, ""))
	_, err = sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgSendVoice, nil))
	return err
}

// handlePlanCallback applies a plan choice from the tariff keyboard.
func (h *CommandHandler) handlePlanCallback(chatID int64, uid, planArg, target, lang, callbackID string) error {
	if !h.config.IsAdmin(uid) {
		h.bot.Request(tgbotapi.NewCallback(callbackID, h.localizer.Get(lang, i18n.MsgAdminOnly, nil)))
		return nil
	}

	applied := h.tariffs.SetPlan(target, models.PlanName(planArg))
	h.bot.Request(tgbotapi.NewCallback(callbackID, ""))
	_, err := sendHTML(h.bot, chatID, h.localizer.Get(lang, i18n.MsgTariffSet, map[string]interface{}{
		"Plan": string(applied),
	}))
	return err
}
