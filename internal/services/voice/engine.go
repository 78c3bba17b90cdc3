// Package voice wraps the external speech engine: embedding creation and
// text-to-speech synthesis. Both are long-running opaque calls; they are
// routed through the package's job queue so the engine only runs a bounded
// number of jobs at a time.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/config"
)

// Engine is the synthesis collaborator contract. CreateEmbedding returns the
// path of the artifact it wrote into the user's directory; Synthesize returns
// the path of the produced audio file.
type Engine interface {
	CreateEmbedding(ctx context.Context, sourceAudio, uid string) (string, error)
	Synthesize(ctx context.Context, uid, embeddingPath, text string, params map[string]float64) (string, error)
}

// HTTPEngine talks to the voice engine service over HTTP. The engine shares
// the storage root with this process, so the paths it returns are local
// filesystem paths.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewHTTPEngine creates an engine client.
func NewHTTPEngine(cfg *config.EngineConfig, logger *logrus.Logger) *HTTPEngine {
	return &HTTPEngine{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type embedRequest struct {
	SourceAudio string `json:"source_audio"`
	UserID      string `json:"user_id"`
}

type embedResponse struct {
	Artifact string `json:"artifact"`
}

// CreateEmbedding asks the engine to derive a speaker embedding from the
// source audio. The returned path identifies the artifact the engine wrote.
func (e *HTTPEngine) CreateEmbedding(ctx context.Context, sourceAudio, uid string) (string, error) {
	var resp embedResponse
	err := e.post(ctx, "/embedding", embedRequest{SourceAudio: sourceAudio, UserID: uid}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Artifact, nil
}

type synthRequest struct {
	UserID    string             `json:"user_id"`
	Embedding string             `json:"embedding"`
	Text      string             `json:"text"`
	Params    map[string]float64 `json:"params,omitempty"`
}

type synthResponse struct {
	Audio string `json:"audio"`
}

// Synthesize produces speech for the text using the given embedding and
// returns the path of the WAV artifact.
func (e *HTTPEngine) Synthesize(ctx context.Context, uid, embeddingPath, text string, params map[string]float64) (string, error) {
	var resp synthResponse
	err := e.post(ctx, "/synthesize", synthRequest{
		UserID:    uid,
		Embedding: embeddingPath,
		Text:      text,
		Params:    params,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Audio, nil
}

func (e *HTTPEngine) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	e.logger.WithField("path", path).Debug("Calling voice engine")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("engine request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode engine response: %w", err)
	}
	return nil
}
