package handlers

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/voxguard-tgbot-go/internal/i18n"
	"github.com/voxguard-tgbot-go/internal/models"
	"github.com/voxguard-tgbot-go/internal/services/tariff"
)

// buildSlotKeyboard renders one button per slot of the user's plan. Occupied
// slots select, empty slots arm a new recording; the active slot carries a
// checkmark.
func buildSlotKeyboard(localizer *i18n.Localizer, tariffs *tariff.Engine, uid, lang string, occupied []int, active int, hasActive bool) tgbotapi.InlineKeyboardMarkup {
	occupiedSet := make(map[int]bool, len(occupied))
	for _, slot := range occupied {
		occupiedSet[slot] = true
	}

	totalSlots := tariffs.EffectiveQuota(uid).Slots
	var rows [][]tgbotapi.InlineKeyboardButton
	row := []tgbotapi.InlineKeyboardButton{}
	for slot := 0; slot < totalSlots; slot++ {
		var label string
		if occupiedSet[slot] {
			label = localizer.Get(lang, i18n.MsgSlotButton, map[string]interface{}{"Slot": displaySlot(slot)})
			if hasActive && slot == active {
				label = "✅ " + label
			}
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, "slot:"+strconv.Itoa(slot)))
		} else {
			label = localizer.Get(lang, i18n.MsgEmptySlotButton, map[string]interface{}{"Slot": displaySlot(slot)})
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, "new:"+strconv.Itoa(slot)))
		}
		if len(row) == 3 {
			rows = append(rows, row)
			row = []tgbotapi.InlineKeyboardButton{}
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// buildTariffKeyboard renders one button per plan, targeting the given user.
func buildTariffKeyboard(localizer *i18n.Localizer, lang, targetUID string) tgbotapi.InlineKeyboardMarkup {
	plans := []models.PlanName{models.PlanFree, models.PlanBase, models.PlanVIP, models.PlanPremium}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, plan := range plans {
		def := tariff.Definitions[plan]
		daily := "∞"
		if def.DailyGen >= 0 {
			daily = strconv.Itoa(def.DailyGen)
		}
		label := localizer.Get(lang, i18n.MsgPlanButton, map[string]interface{}{
			"Plan":  string(plan),
			"Slots": def.Slots,
			"Daily": daily,
		})
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "plan:"+string(plan)+":"+targetUID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// buildWebAppKeyboard opens the settings Web-App. The Web-App talks to the
// web API directly, so a plain URL button is all the bot needs to offer.
func (h *CommandHandler) buildWebAppKeyboard(lang string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(h.localizer.Get(lang, i18n.MsgSettingsButton, nil), h.config.Bot.WebAppURL),
		),
	)
}

// buildResetKeyboard opens the Web-App with storage cleared.
func (h *CommandHandler) buildResetKeyboard(lang string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(h.localizer.Get(lang, i18n.MsgResetHint, nil), h.config.Bot.WebAppURL+"?reset=1"),
		),
	)
}
