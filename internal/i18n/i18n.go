package i18n

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/voxguard-tgbot-go/internal/config"
	"golang.org/x/text/language"
)

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range cfg.Languages {
		path := filepath.Join(cfg.Directory, lang+".json")
		if _, err := bundle.LoadMessageFile(path); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgSlotsMenu       = "slots_menu"
	MsgOpenWebApp      = "open_webapp"
	MsgWebAppReset     = "webapp_reset"
	MsgSlotSelected    = "slot_selected"
	MsgSlotChosen      = "slot_chosen"
	MsgSendVoice       = "send_voice"
	MsgChooseSlotFirst = "choose_slot_first"
	MsgSlotOutOfRange  = "slot_out_of_range"
	MsgSlotEmpty       = "slot_empty"
	MsgProcessingVoice = "processing_voice"
	MsgEmbedFailed     = "embed_failed"
	MsgEmbedDone       = "embed_done"
	MsgAnalysing       = "analysing"
	MsgResultSafe      = "result_safe"
	MsgResultDanger    = "result_danger"
	MsgWarnStrike      = "warn_strike"
	MsgBlocked         = "blocked"
	MsgDailyLimit      = "daily_limit"
	MsgGenerating      = "generating"
	MsgDone            = "done"
	MsgFilterOn        = "filter_on"
	MsgFilterOff       = "filter_off"
	MsgAdminOnly       = "admin_only"
	MsgAddLimitUsage   = "add_limit_usage"
	MsgLimitAdded      = "limit_added"
	MsgTariffCurrent   = "tariff_current"
	MsgTariffSet       = "tariff_set"
	MsgPlanButton      = "plan_button"
	MsgRateLimited     = "rate_limited"
	MsgGenericError    = "generic_error"
	MsgHelp            = "help"
	MsgAbout           = "about"
	MsgStats           = "stats"
	MsgHistoryEmpty    = "history_empty"
	MsgFeedbackUsage   = "feedback_usage"
	MsgFeedbackThanks  = "feedback_thanks"
	MsgResetHint       = "reset_hint"
	MsgSlotButton      = "slot_button"
	MsgEmptySlotButton = "empty_slot_button"
	MsgSettingsButton  = "settings_button"
)
