// Package api exposes the web surface consumed by the Web-App: user
// registration, settings, tariff management, slot upload and text-to-speech.
// Every violation of quota, slot or tariff rules is a structured rejection
// status, never a bare error.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/config"
	"github.com/voxguard-tgbot-go/internal/middleware"
	"github.com/voxguard-tgbot-go/internal/models"
	"github.com/voxguard-tgbot-go/internal/services/authcheck"
	"github.com/voxguard-tgbot-go/internal/services/quota"
	"github.com/voxguard-tgbot-go/internal/services/settings"
	"github.com/voxguard-tgbot-go/internal/services/slots"
	"github.com/voxguard-tgbot-go/internal/services/tariff"
	"github.com/voxguard-tgbot-go/internal/services/voice"
	"github.com/voxguard-tgbot-go/internal/storage"
)

// Server is the web API server.
type Server struct {
	cfg      *config.Config
	tariffs  *tariff.Engine
	counter  *quota.Counter
	slots    *slots.Engine
	settings *settings.Service
	auth     *storage.ListFile
	engine   voice.Engine
	queue    *voice.Queue
	checker  authcheck.Checker
	metrics  *middleware.Metrics
	logger   *logrus.Logger
	httpSrv  *http.Server
}

// NewServer wires the API server.
func NewServer(
	cfg *config.Config,
	tariffs *tariff.Engine,
	counter *quota.Counter,
	slotEngine *slots.Engine,
	settingsService *settings.Service,
	auth *storage.ListFile,
	engine voice.Engine,
	queue *voice.Queue,
	checker authcheck.Checker,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		cfg:      cfg,
		tariffs:  tariffs,
		counter:  counter,
		slots:    slotEngine,
		settings: settingsService,
		auth:     auth,
		engine:   engine,
		queue:    queue,
		checker:  checker,
		metrics:  metrics,
		logger:   logger,
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.Web.ListenAddr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // synthesis replies stream a WAV
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/telegram_auth", s.handleTelegramAuth).Methods(http.MethodPost)
	router.HandleFunc("/save_user_settings", s.handleSaveSettings).Methods(http.MethodPost)
	router.HandleFunc("/get_user_settings", s.handleGetSettings).Methods(http.MethodGet)
	router.HandleFunc("/set_user_tariff", s.handleSetTariff).Methods(http.MethodPost)
	router.HandleFunc("/audio_check", s.handleAudioCheck).Methods(http.MethodPost)
	router.HandleFunc("/voice/embed", s.handleVoiceEmbed).Methods(http.MethodPost)
	router.HandleFunc("/voice/tts", s.handleVoiceTTS).Methods(http.MethodPost)
	return router
}

// Start runs the server until Shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpSrv.Addr).Info("Starting web API server")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"status": "error", "message": message})
}

// asString normalizes the userId field, which web clients send as either a
// number or a string.
func asString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

func decodeBody(r *http.Request) (map[string]interface{}, error) {
	var payload map[string]interface{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *Server) handleTelegramAuth(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeBody(r)
	if err != nil || payload["id"] == nil {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	uid := asString(payload["id"])
	if uid == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	if err := s.auth.Add(uid); err != nil {
		s.logger.WithError(err).Error("Failed to register user")
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeBody(r)
	if err != nil || payload["userId"] == nil || payload["settings"] == nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	uid := asString(payload["userId"])
	blob, ok := payload["settings"].(map[string]interface{})
	if uid == "" || !ok {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if err := s.settings.Save(uid, models.UserSettings(blob)); err != nil {
		s.logger.WithError(err).Error("Failed to save settings")
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("userId")
	if uid == "" {
		writeError(w, http.StatusBadRequest, "need userId")
		return
	}
	userSettings := s.settings.Get(uid)
	if userSettings == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"settings": userSettings,
	})
}

func (s *Server) handleSetTariff(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeBody(r)
	if err != nil || payload["userId"] == nil || payload["plan"] == nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	uid := asString(payload["userId"])
	plan, _ := payload["plan"].(string)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}

	// An unrecognized plan is silently rejected: the response carries the
	// unchanged current plan so the caller can tell nothing was applied.
	applied := s.tariffs.SetPlan(uid, models.PlanName(plan))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"plan":   applied,
	})
}

func (s *Server) handleAudioCheck(w http.ResponseWriter, r *http.Request) {
	tmp, cleanup, err := s.saveUpload(r, "audio", ".wav")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file")
		return
	}
	defer cleanup()

	result, err := s.checker.Predict(r.Context(), tmp)
	if err != nil {
		s.logger.WithError(err).Error("Authenticity check failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"result": result,
		"real":   authcheck.IsReal(result),
	})
}

func (s *Server) handleVoiceEmbed(w http.ResponseWriter, r *http.Request) {
	uid := r.FormValue("userId")
	slotField := r.FormValue("slot")
	if uid == "" || slotField == "" {
		writeError(w, http.StatusBadRequest, "need audio, userId & slot")
		return
	}
	slot, err := strconv.Atoi(slotField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad slot")
		return
	}

	tmp, cleanup, err := s.saveUpload(r, "audio", ".ogg")
	if err != nil {
		writeError(w, http.StatusBadRequest, "need audio, userId & slot")
		return
	}
	defer cleanup()

	allocErr := s.slots.Allocate(r.Context(), uid, slot, func(ctx context.Context) (string, error) {
		return s.queue.Submit(ctx, func(jobCtx context.Context) (string, error) {
			return s.engine.CreateEmbedding(jobCtx, tmp, uid)
		})
	})
	switch {
	case errors.Is(allocErr, slots.ErrSlotOutOfRange):
		s.metrics.RecordEmbedRequest("rejected")
		writeError(w, http.StatusForbidden, fmt.Sprintf("slot %d out of range", slot))
	case errors.Is(allocErr, slots.ErrNoArtifact):
		s.metrics.RecordEmbedRequest("error")
		writeError(w, http.StatusInternalServerError, "no new embedding")
	case allocErr != nil:
		s.metrics.RecordEmbedRequest("error")
		s.logger.WithError(allocErr).WithField("user_id", uid).Error("Embedding failed")
		writeError(w, http.StatusInternalServerError, allocErr.Error())
	default:
		s.metrics.RecordEmbedRequest("success")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleVoiceTTS(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeBody(r)
	if err != nil || payload["userId"] == nil || payload["text"] == nil || payload["slot"] == nil {
		writeError(w, http.StatusBadRequest, "need userId, text & slot")
		return
	}
	uid := asString(payload["userId"])
	text, _ := payload["text"].(string)
	slotNum, err := strconv.Atoi(asString(payload["slot"]))
	if uid == "" || text == "" || err != nil {
		writeError(w, http.StatusBadRequest, "need userId, text & slot")
		return
	}

	if !s.tariffs.EffectiveQuota(uid).Allows(s.counter.Count(uid)) {
		writeError(w, http.StatusForbidden, "daily limit")
		return
	}

	embedding, err := s.slots.Resolve(uid, slotNum)
	if err != nil {
		writeError(w, http.StatusNotFound, "slot empty")
		return
	}

	params := s.settings.Get(uid).TTSParams()
	started := time.Now()
	wavPath, err := s.queue.Submit(r.Context(), func(jobCtx context.Context) (string, error) {
		return s.engine.Synthesize(jobCtx, uid, embedding, text, params)
	})
	if err != nil {
		s.metrics.RecordSynthRequest("error", time.Since(started))
		s.logger.WithError(err).WithField("user_id", uid).Error("Synthesis failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if info, statErr := os.Stat(wavPath); statErr != nil || info.IsDir() {
		s.metrics.RecordSynthRequest("error", time.Since(started))
		writeError(w, http.StatusInternalServerError, "synthesis failed")
		return
	}

	// Billing happens only after the engine produced a playable artifact.
	if err := s.counter.Increment(uid); err != nil {
		s.logger.WithError(err).WithField("user_id", uid).Warn("Failed to increment daily counter")
	}
	s.metrics.RecordSynthRequest("success", time.Since(started))

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(wavPath))
	http.ServeFile(w, r, wavPath)
}

// saveUpload stores the named multipart file in a temp location.
func (s *Server) saveUpload(r *http.Request, field, suffix string) (string, func(), error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return "", nil, err
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "voxguard_upload_*"+suffix)
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}
