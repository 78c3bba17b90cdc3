// Package authcheck is the pass-through client for the audio-authenticity
// model behind the /audio_check endpoint.
package authcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/config"
)

// Checker scores an audio file for authenticity.
type Checker interface {
	Predict(ctx context.Context, audioPath string) (string, error)
}

// HTTPChecker calls the authenticity model over HTTP.
type HTTPChecker struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewHTTPChecker creates a checker client.
func NewHTTPChecker(cfg *config.AuthCheckConfig, logger *logrus.Logger) *HTTPChecker {
	return &HTTPChecker{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type predictRequest struct {
	AudioPath string `json:"audio_path"`
}

type predictResponse struct {
	Result string `json:"result"`
}

// Predict returns the model's raw verdict string.
func (c *HTTPChecker) Predict(ctx context.Context, audioPath string) (string, error) {
	body, err := json.Marshal(predictRequest{AudioPath: audioPath})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("authenticity check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("authenticity checker returned %d: %s", resp.StatusCode, msg)
	}

	var parsed predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode checker response: %w", err)
	}
	return parsed.Result, nil
}

// IsReal interprets the raw verdict string.
func IsReal(result string) bool {
	return strings.Contains(result, "BINARY: real")
}
