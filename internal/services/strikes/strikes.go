// Package strikes implements the per-user abuse counter and the permanent
// blacklist. The state machine is monotonic: CLEAN → WARNED(n) →
// BLACKLISTED, with no outgoing transition from the terminal state. Removal
// from the blacklist is an out-of-band administrative file edit.
package strikes

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/middleware"
	"github.com/voxguard-tgbot-go/internal/storage"
)

// Engine tracks strikes and blacklist membership.
type Engine struct {
	store      *storage.RecordStore
	blacklist  *storage.ListFile
	maxStrikes int
	metrics    *middleware.Metrics
	logger     *logrus.Logger
}

// NewEngine creates the strike engine.
func NewEngine(store *storage.RecordStore, blacklist *storage.ListFile, maxStrikes int, metrics *middleware.Metrics, logger *logrus.Logger) *Engine {
	return &Engine{
		store:      store,
		blacklist:  blacklist,
		maxStrikes: maxStrikes,
		metrics:    metrics,
		logger:     logger,
	}
}

// MaxStrikes is the configured blacklisting threshold.
func (e *Engine) MaxStrikes() int {
	return e.maxStrikes
}

// Count returns the user's current strike count. Strikes are never
// decremented or deleted; a blacklisted user stays strikeable even though
// further processing short-circuits.
func (e *Engine) Count(uid string) int {
	var count int
	found, err := e.store.Get(uid, &count)
	if err != nil || !found {
		return 0
	}
	return count
}

// RecordStrike increments the user's strike count by one and returns the new
// value.
func (e *Engine) RecordStrike(uid string) (int, error) {
	count := 0
	err := e.store.Update(func(records map[string]json.RawMessage) error {
		if raw, ok := records[uid]; ok {
			if err := json.Unmarshal(raw, &count); err != nil {
				count = 0
			}
		}
		count++
		raw, err := json.Marshal(count)
		if err != nil {
			return err
		}
		records[uid] = raw
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.metrics.RecordStrikeIssued()
	e.logger.WithFields(logrus.Fields{
		"user_id": uid,
		"strikes": count,
	}).Info("Strike recorded")
	return count, nil
}

// Blacklist permanently blocks the user. Idempotent: adding an already
// blacklisted id changes nothing.
func (e *Engine) Blacklist(uid string) error {
	if e.blacklist.Contains(uid) {
		return nil
	}
	if err := e.blacklist.Add(uid); err != nil {
		return err
	}
	e.metrics.RecordBlacklistAddition()
	e.metrics.SetBlacklistSize(float64(e.blacklist.Len()))
	e.logger.WithField("user_id", uid).Warn("User blacklisted")
	return nil
}

// IsBlacklisted gates every inbound handler.
func (e *Engine) IsBlacklisted(uid string) bool {
	return e.blacklist.Contains(uid)
}
