package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/i18n"
	"github.com/voxguard-tgbot-go/internal/models"
	"github.com/voxguard-tgbot-go/internal/services/voice"
)

// HandleVoice clones an inbound recording into the user's armed slot. Video
// sources are transcoded to mono 16 kHz WAV before they reach the engine.
func (m *MessageHandler) HandleVoice(ctx context.Context, message *tgbotapi.Message, uid, lang string, userSettings models.UserSettings) error {
	chatID := message.Chat.ID

	slot, ok := m.sessions.ActiveSlot(ctx, uid)
	if !ok || !m.sessions.AwaitingVoice(ctx, uid) {
		_, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgChooseSlotFirst, nil))
		return err
	}
	// The plan may have shrunk since the slot was armed.
	if !m.slots.InRange(uid, slot) {
		m.sessions.SetAwaitingVoice(ctx, uid, false)
		_, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgSlotOutOfRange, map[string]interface{}{"Slot": displaySlot(slot)}))
		return err
	}

	fileID, isVideo := recordingFileID(message)
	if fileID == "" {
		return nil
	}

	status, _ := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgProcessingVoice, nil))
	defer m.bot.Request(tgbotapi.NewDeleteMessage(chatID, status.MessageID))

	source, err := m.downloadFile(ctx, fileID)
	if err != nil {
		m.logger.WithError(err).WithField("user_id", uid).Error("Failed to download recording")
		m.metrics.RecordEmbedRequest("error")
		_, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgEmbedFailed, nil))
		return err
	}
	defer os.Remove(source)

	if isVideo {
		wav, err := voice.TranscodeToWAV(ctx, source)
		if err != nil {
			m.logger.WithError(err).WithField("user_id", uid).Error("Failed to transcode video")
			m.metrics.RecordEmbedRequest("error")
			_, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgEmbedFailed, nil))
			return err
		}
		source = wav
	}

	allocErr := m.slots.Allocate(ctx, uid, slot, func(allocCtx context.Context) (string, error) {
		return m.queue.Submit(allocCtx, func(jobCtx context.Context) (string, error) {
			return m.engine.CreateEmbedding(jobCtx, source, uid)
		})
	})
	if allocErr != nil {
		m.logger.WithError(allocErr).WithFields(logrus.Fields{"user_id": uid, "slot": slot}).Error("Embedding failed")
		m.metrics.RecordEmbedRequest("error")
		_, err := sendHTML(m.bot, chatID, m.localizer.Get(lang, i18n.MsgEmbedFailed, nil))
		return err
	}

	m.sessions.SetAwaitingVoice(ctx, uid, false)
	m.metrics.RecordEmbedRequest("success")

	occupied, _ := m.slots.ListOccupied(uid)
	done := tgbotapi.NewMessage(chatID, m.localizer.Get(lang, i18n.MsgEmbedDone, nil))
	done.ReplyMarkup = buildSlotKeyboard(m.localizer, m.tariffs, uid, lang, occupied, slot, true)
	_, err = m.bot.Send(done)
	return err
}

// recordingFileID extracts the richest audio source from the message and
// reports whether it needs a video transcode first.
func recordingFileID(message *tgbotapi.Message) (string, bool) {
	switch {
	case message.Voice != nil:
		return message.Voice.FileID, false
	case message.Audio != nil:
		return message.Audio.FileID, false
	case message.VideoNote != nil:
		return message.VideoNote.FileID, true
	case message.Video != nil:
		return message.Video.FileID, true
	}
	return "", false
}

// downloadFile fetches a telegram file into a temp location.
func (m *MessageHandler) downloadFile(ctx context.Context, fileID string) (string, error) {
	file, err := m.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(m.bot.Token), nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "voxguard_recording_*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
