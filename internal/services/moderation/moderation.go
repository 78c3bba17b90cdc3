package moderation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/config"
	"github.com/voxguard-tgbot-go/internal/middleware"
	"github.com/voxguard-tgbot-go/internal/models"
	"github.com/voxguard-tgbot-go/internal/services/strikes"
	"github.com/voxguard-tgbot-go/internal/storage"
)

// Verdict is the outcome of screening one message.
type Verdict struct {
	Flagged bool
	// Blocked means this message tipped the user over the strike threshold;
	// the terminal blocked notice replaces the warning.
	Blocked     bool
	Reason      string
	StrikeCount int
	Scores      models.CategoryScores
}

// Pipeline screens inbound text through the classifier, applies the two-tier
// warning policy and escalates flagged users through the strike engine.
// Stateless per call apart from strikes and the audit trail.
type Pipeline struct {
	classifier    Classifier
	strikes       *strikes.Engine
	files         *storage.UserFiles
	verdictCache  *cache.Cache
	alertThresh   float64
	minReportProb float64
	metrics       *middleware.Metrics
	logger        *logrus.Logger
}

// NewPipeline creates the moderation pipeline.
func NewPipeline(
	cfg *config.Config,
	classifier Classifier,
	strikeEngine *strikes.Engine,
	files *storage.UserFiles,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Pipeline {
	return &Pipeline{
		classifier:    classifier,
		strikes:       strikeEngine,
		files:         files,
		verdictCache:  cache.New(cfg.Classifier.CacheTTL, 2*cfg.Classifier.CacheTTL),
		alertThresh:   cfg.Moderation.AlertThresh,
		minReportProb: cfg.Moderation.MinReportProb,
		metrics:       metrics,
		logger:        logger,
	}
}

// Evaluate screens the text for the user. Every evaluated message, flagged
// or not, is appended to the user's audit log with the abbreviated score
// string; moderation decisions must stay reproducible from that trail.
func (p *Pipeline) Evaluate(ctx context.Context, uid, text string) (Verdict, error) {
	scores, err := p.analyse(ctx, text)
	if err != nil {
		return Verdict{}, fmt.Errorf("classify message: %w", err)
	}

	if err := p.files.AppendLog(uid, fmt.Sprintf("%s (%s)", text, scoreSummary(scores))); err != nil {
		p.logger.WithError(err).WithField("user_id", uid).Warn("Failed to append audit log")
	}

	verdict := Verdict{Scores: scores}
	verdict.Flagged, verdict.Reason = p.apply(scores)

	if !verdict.Flagged {
		p.metrics.RecordModerationVerdict("clear")
		return verdict, nil
	}

	count, err := p.strikes.RecordStrike(uid)
	if err != nil {
		p.logger.WithError(err).WithField("user_id", uid).Error("Failed to record strike")
	}
	verdict.StrikeCount = count

	if count >= p.strikes.MaxStrikes() {
		if err := p.strikes.Blacklist(uid); err != nil {
			p.logger.WithError(err).WithField("user_id", uid).Error("Failed to blacklist user")
		}
		verdict.Blocked = true
		p.metrics.RecordModerationVerdict("blocked")
		return verdict, nil
	}

	p.metrics.RecordModerationVerdict("flagged")
	return verdict, nil
}

// RecordUnscored appends a message that bypassed screening to the user's
// audit log. Users with the filter off still leave a trail, just without a
// score string.
func (p *Pipeline) RecordUnscored(uid, text string) {
	if err := p.files.AppendLog(uid, text); err != nil {
		p.logger.WithError(err).WithField("user_id", uid).Warn("Failed to append audit log")
	}
}

// analyse returns cached scores for recently seen text, otherwise calls the
// classifier.
func (p *Pipeline) analyse(ctx context.Context, text string) (models.CategoryScores, error) {
	key := cacheKey(text)
	if val, found := p.verdictCache.Get(key); found {
		return val.(models.CategoryScores), nil
	}

	scores, err := p.classifier.Analyse(ctx, text)
	if err != nil {
		return nil, err
	}
	p.verdictCache.SetDefault(key, scores)
	return scores, nil
}

// apply runs the two-tier policy over the scores.
//
// Tier one: the top non-safe category at or above the alert threshold flags
// on its own. Tier two: with safe below 0.50 and no single dominant
// category, every non-safe category above the report floor is gathered; any
// hits flag with the joined list as the reason.
func (p *Pipeline) apply(scores models.CategoryScores) (bool, string) {
	topLabel, topProb := topNonSafe(scores)
	safe := scores[SafeCategory]

	if topLabel != "" && topProb >= p.alertThresh {
		return true, fmt.Sprintf("%s %.0f%%", topLabel, topProb*100)
	}

	if safe < 0.50 && topProb < p.alertThresh {
		var parts []string
		labels := make([]string, 0, len(scores))
		for label := range scores {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			if label == SafeCategory {
				continue
			}
			if prob := scores[label]; prob > p.minReportProb {
				parts = append(parts, fmt.Sprintf("%s %.0f%%", label, prob*100))
			}
		}
		if len(parts) > 0 {
			return true, strings.Join(parts, "; ")
		}
	}

	return false, ""
}

func topNonSafe(scores models.CategoryScores) (string, float64) {
	top := ""
	topProb := 0.0
	labels := make([]string, 0, len(scores))
	for label := range scores {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		if label == SafeCategory {
			continue
		}
		if prob := scores[label]; prob > topProb {
			top = label
			topProb = prob
		}
	}
	return top, topProb
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
