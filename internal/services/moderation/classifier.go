package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/config"
	"github.com/voxguard-tgbot-go/internal/models"
)

// SafeCategory is the classifier label for non-scam text. Everything else is
// a scam category.
const SafeCategory = "safe"

// categories lists the known classifier labels with the abbreviations used
// in the audit log score string, in a fixed reporting order.
var categories = []struct {
	Label string
	Abbr  string
}{
	{SafeCategory, "SAFE"},
	{"Relative in trouble", "RIT"},
	{"Prizes and lotteries", "PRZ"},
	{"Government impersonation", "GOV"},
	{"Investment scam", "INV"},
	{"Courier and postal fraud", "CPF"},
	{"Bank impersonation", "BNK"},
	{"Fake support service", "SUP"},
	{"Calls to action", "CTA"},
	{"Social engineering", "SOC"},
}

func knownLabel(label string) bool {
	for _, c := range categories {
		if c.Label == label {
			return true
		}
	}
	return false
}

// Classifier maps text to per-category probabilities. Opaque collaborator
// with no latency bound.
type Classifier interface {
	Analyse(ctx context.Context, text string) (models.CategoryScores, error)
}

// HTTPClassifier calls the scam-classification model over HTTP.
type HTTPClassifier struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewHTTPClassifier creates a classifier client.
func NewHTTPClassifier(cfg *config.ClassifierConfig, logger *logrus.Logger) *HTTPClassifier {
	return &HTTPClassifier{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type analyseRequest struct {
	Text string `json:"text"`
}

type analyseResponse struct {
	Scores models.CategoryScores `json:"scores"`
}

// Analyse submits the text and returns the category-score mapping.
func (c *HTTPClassifier) Analyse(ctx context.Context, text string) (models.CategoryScores, error) {
	body, err := json.Marshal(analyseRequest{Text: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyse", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.WithField("chars", len(text)).Debug("Submitting text to classifier")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("classifier returned %d: %s", resp.StatusCode, payload)
	}

	var parsed analyseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}
	return parsed.Scores, nil
}

// scoreSummary renders the abbreviated per-category score string appended to
// the audit log, e.g. "SAFE30.0;RIT00.0;...;INV62.0". Every known category is
// emitted, zero-filled when the classifier omitted it, so log lines keep a
// fixed shape across the shared layout.
func scoreSummary(scores models.CategoryScores) string {
	var buf bytes.Buffer
	for i, c := range categories {
		if i > 0 {
			buf.WriteByte(';')
		}
		fmt.Fprintf(&buf, "%s%04.1f", c.Abbr, scores[c.Label]*100)
	}
	unknown := make([]string, 0)
	for label := range scores {
		if !knownLabel(label) {
			unknown = append(unknown, label)
		}
	}
	sort.Strings(unknown)
	for _, label := range unknown {
		buf.WriteByte(';')
		fmt.Fprintf(&buf, "%s %04.1f", label, scores[label]*100)
	}
	return buf.String()
}
