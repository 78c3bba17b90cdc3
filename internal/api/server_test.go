package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxguard-tgbot-go/internal/config"
	"github.com/voxguard-tgbot-go/internal/middleware"
	"github.com/voxguard-tgbot-go/internal/models"
	"github.com/voxguard-tgbot-go/internal/services/quota"
	"github.com/voxguard-tgbot-go/internal/services/settings"
	"github.com/voxguard-tgbot-go/internal/services/slots"
	"github.com/voxguard-tgbot-go/internal/services/tariff"
	"github.com/voxguard-tgbot-go/internal/services/voice"
	"github.com/voxguard-tgbot-go/internal/storage"
)

type mockEngine struct {
	dir        string
	embedFail  bool
	embedEmpty bool
	synthFail  bool
	synthCalls int
}

func (m *mockEngine) CreateEmbedding(_ context.Context, _, uid string) (string, error) {
	if m.embedFail {
		return "", fmt.Errorf("engine unavailable")
	}
	if m.embedEmpty {
		return "", nil
	}
	path := filepath.Join(m.dir, "embedding_"+uid+".npz")
	if err := os.WriteFile(path, []byte("npz"), 0644); err != nil {
		return "", err
	}
	return path, nil
}

func (m *mockEngine) Synthesize(_ context.Context, uid, _, _ string, _ map[string]float64) (string, error) {
	m.synthCalls++
	if m.synthFail {
		return "", fmt.Errorf("synthesis exploded")
	}
	path := filepath.Join(m.dir, fmt.Sprintf("out_%s_%d.wav", uid, m.synthCalls))
	if err := os.WriteFile(path, []byte("RIFF"), 0644); err != nil {
		return "", err
	}
	return path, nil
}

type mockChecker struct {
	result string
	fail   bool
}

func (m *mockChecker) Predict(_ context.Context, _ string) (string, error) {
	if m.fail {
		return "", fmt.Errorf("checker down")
	}
	return m.result, nil
}

type fixture struct {
	server  *Server
	engine  *mockEngine
	tariffs *tariff.Engine
	auth    *storage.ListFile
}

func newTestServer(t *testing.T) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	root := t.TempDir()
	files, err := storage.NewUserFiles(filepath.Join(root, "users_emb"))
	require.NoError(t, err)
	auth, err := storage.NewListFile(filepath.Join(root, "authorized_users.txt"))
	require.NoError(t, err)

	metrics := middleware.NewMetrics()
	tariffs := tariff.NewEngine(storage.NewRecordStore(filepath.Join(root, "tariffs_db.json"), true, logger), logger)
	counter := quota.NewCounter(files, nil, logger)
	slotEngine := slots.NewEngine(files, tariffs, logger)
	settingsService := settings.NewService(storage.NewRecordStore(filepath.Join(root, "user_settings.json"), true, logger), logger)

	eng := &mockEngine{dir: t.TempDir()}
	queue := voice.NewQueue(1, 8, metrics, logger)
	queue.Start()
	t.Cleanup(queue.Stop)

	cfg := &config.Config{}
	cfg.Web.ListenAddr = ":0"

	srv := NewServer(cfg, tariffs, counter, slotEngine, settingsService, auth, eng, queue, &mockChecker{result: "BINARY: real"}, metrics, logger)
	return &fixture{server: srv, engine: eng, tariffs: tariffs, auth: auth}
}

func postJSON(t *testing.T, router http.Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postMultipart(t *testing.T, router http.Handler, path string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("audio", "sample.ogg")
	require.NoError(t, err)
	_, err = part.Write([]byte("OggS"))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestTelegramAuthRegistersUser(t *testing.T) {
	f := newTestServer(t)
	router := f.server.Router()

	rec := postJSON(t, router, "/telegram_auth", map[string]interface{}{"id": 42})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decodeMap(t, rec)["status"])
	assert.True(t, f.auth.Contains("42"))

	// Registering twice stays idempotent.
	rec = postJSON(t, router, "/telegram_auth", map[string]interface{}{"id": "42"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTelegramAuthMissingID(t *testing.T) {
	f := newTestServer(t)
	rec := postJSON(t, f.server.Router(), "/telegram_auth", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsRoundtrip(t *testing.T) {
	f := newTestServer(t)
	router := f.server.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get_user_settings?userId=9", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeMap(t, rec)["status"])

	rec = postJSON(t, router, "/save_user_settings", map[string]interface{}{
		"userId":   9,
		"settings": map[string]interface{}{"temperature": 0.8, "theme": "dark"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get_user_settings?userId=9", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeMap(t, rec)
	stored := payload["settings"].(map[string]interface{})
	assert.Equal(t, 0.8, stored["temperature"])
	assert.Equal(t, "dark", stored["theme"])
}

func TestSetTariffRejectsUnknownPlan(t *testing.T) {
	f := newTestServer(t)
	router := f.server.Router()

	rec := postJSON(t, router, "/set_user_tariff", map[string]interface{}{"userId": 5, "plan": "vip"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "vip", decodeMap(t, rec)["plan"])

	rec = postJSON(t, router, "/set_user_tariff", map[string]interface{}{"userId": 5, "plan": "platinum"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "vip", decodeMap(t, rec)["plan"])
	assert.Equal(t, models.PlanVIP, f.tariffs.GetPlan("5"))
}

func TestAudioCheck(t *testing.T) {
	f := newTestServer(t)
	rec := postMultipart(t, f.server.Router(), "/audio_check", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeMap(t, rec)
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, "BINARY: real", payload["result"])
	assert.Equal(t, true, payload["real"])
}

func TestAudioCheckFlagsSynthetic(t *testing.T) {
	f := newTestServer(t)
	f.server.checker = &mockChecker{result: "BINARY: fake (0.97)"}

	rec := postMultipart(t, f.server.Router(), "/audio_check", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeMap(t, rec)
	assert.Equal(t, "BINARY: fake (0.97)", payload["result"])
	assert.Equal(t, false, payload["real"])
}

func TestEmbedSlotOutOfRange(t *testing.T) {
	f := newTestServer(t)
	// Free plan has a single slot; index 1 is out of range.
	rec := postMultipart(t, f.server.Router(), "/voice/embed", map[string]string{"userId": "3", "slot": "1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEmbedEngineProducesNothing(t *testing.T) {
	f := newTestServer(t)
	f.engine.embedEmpty = true
	rec := postMultipart(t, f.server.Router(), "/voice/embed", map[string]string{"userId": "3", "slot": "0"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTTSEmptySlot(t *testing.T) {
	f := newTestServer(t)
	rec := postJSON(t, f.server.Router(), "/voice/tts", map[string]interface{}{
		"userId": 3, "text": "hello", "slot": 0,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTTSEngineFailure(t *testing.T) {
	f := newTestServer(t)
	router := f.server.Router()

	rec := postMultipart(t, router, "/voice/embed", map[string]string{"userId": "3", "slot": "0"})
	require.Equal(t, http.StatusOK, rec.Code)

	f.engine.synthFail = true
	rec = postJSON(t, router, "/voice/tts", map[string]interface{}{
		"userId": 3, "text": "hello", "slot": 0,
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// A failed synthesis must not bill the user.
	f.engine.synthFail = false
	for i := 0; i < 5; i++ {
		rec = postJSON(t, router, "/voice/tts", map[string]interface{}{
			"userId": 3, "text": "hello", "slot": 0,
		})
		require.Equal(t, http.StatusOK, rec.Code, "generation %d", i+1)
	}
}

func TestNewUserLifecycle(t *testing.T) {
	f := newTestServer(t)
	router := f.server.Router()

	// Unknown user resolves to the free tier: 1 slot, 5 daily generations.
	rec := postJSON(t, router, "/telegram_auth", map[string]interface{}{"id": 7})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, models.PlanFree, f.tariffs.GetPlan("7"))

	rec = postMultipart(t, router, "/voice/embed", map[string]string{"userId": "7", "slot": "0"})
	require.Equal(t, http.StatusOK, rec.Code)

	for i := 0; i < 5; i++ {
		rec = postJSON(t, router, "/voice/tts", map[string]interface{}{
			"userId": 7, "text": "hello world", "slot": 0,
		})
		require.Equal(t, http.StatusOK, rec.Code, "generation %d", i+1)
		assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	}

	rec = postJSON(t, router, "/voice/tts", map[string]interface{}{
		"userId": 7, "text": "one more", "slot": 0,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	// The rejected request never reached the engine.
	assert.Equal(t, 5, f.engine.synthCalls)
}

func TestTTSQuotaLiftsWithPlanChange(t *testing.T) {
	f := newTestServer(t)
	router := f.server.Router()

	rec := postMultipart(t, router, "/voice/embed", map[string]string{"userId": "8", "slot": "0"})
	require.Equal(t, http.StatusOK, rec.Code)

	for i := 0; i < 5; i++ {
		rec = postJSON(t, router, "/voice/tts", map[string]interface{}{"userId": 8, "text": "hi", "slot": 0})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec = postJSON(t, router, "/voice/tts", map[string]interface{}{"userId": 8, "text": "hi", "slot": 0})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = postJSON(t, router, "/set_user_tariff", map[string]interface{}{"userId": 8, "plan": "premium"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, router, "/voice/tts", map[string]interface{}{"userId": 8, "text": "hi", "slot": 0})
	assert.Equal(t, http.StatusOK, rec.Code)
}
