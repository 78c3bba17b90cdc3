package models

import (
	"encoding/json"
	"fmt"
)

// PlanName identifies one of the fixed tariff tiers.
type PlanName string

const (
	PlanFree    PlanName = "free"
	PlanBase    PlanName = "base"
	PlanVIP     PlanName = "vip"
	PlanPremium PlanName = "premium"
)

// Valid reports whether the plan is one of the recognized tiers.
func (p PlanName) Valid() bool {
	switch p {
	case PlanFree, PlanBase, PlanVIP, PlanPremium:
		return true
	}
	return false
}

// TariffRecord is the per-user tariff state. Historic deployments stored it
// as a bare plan-name string; UnmarshalJSON accepts both shapes so records
// normalize on first read without a migration pass.
type TariffRecord struct {
	Plan     PlanName `json:"plan"`
	BonusGen int      `json:"bonus_gen"`
}

func (r *TariffRecord) UnmarshalJSON(data []byte) error {
	var legacy string
	if err := json.Unmarshal(data, &legacy); err == nil {
		r.Plan = PlanName(legacy)
		r.BonusGen = 0
		return nil
	}

	type record TariffRecord
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("malformed tariff record: %w", err)
	}
	*r = TariffRecord(rec)
	return nil
}

// Normalize fills defaults for missing or unknown fields and reports whether
// anything changed.
func (r *TariffRecord) Normalize() bool {
	changed := false
	if !r.Plan.Valid() {
		r.Plan = PlanFree
		changed = true
	}
	if r.BonusGen < 0 {
		r.BonusGen = 0
		changed = true
	}
	return changed
}

// CategoryScores maps classifier category labels to probabilities in [0,1].
type CategoryScores map[string]float64

// UserSettings is the free-form per-user settings blob. Only a fixed subset
// of keys is ever forwarded to the voice engine.
type UserSettings map[string]interface{}

// AllowedTTSKeys are the settings fields forwarded to the voice engine.
var AllowedTTSKeys = []string{
	"temperature",
	"top_k",
	"top_p",
	"repetition_penalty",
	"length_penalty",
	"speed",
}

// FilterOff reports whether the user disabled the anti-scam filter.
func (s UserSettings) FilterOff() bool {
	return s.boolValue("filter_off")
}

// AutoDelete reports whether the user enabled auto-deletion of bot replies.
func (s UserSettings) AutoDelete() bool {
	return s.boolValue("auto_delete")
}

func (s UserSettings) boolValue(key string) bool {
	if s == nil {
		return false
	}
	v, ok := s[key].(bool)
	return ok && v
}

// TTSParams extracts the allow-listed synthesis overrides as numbers.
// Anything else in the blob is passthrough storage and never reaches the
// engine.
func (s UserSettings) TTSParams() map[string]float64 {
	if len(s) == 0 {
		return nil
	}
	params := make(map[string]float64)
	for _, key := range AllowedTTSKeys {
		raw, ok := s[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			params[key] = v
		case int:
			params[key] = float64(v)
		case json.Number:
			if f, err := v.Float64(); err == nil {
				params[key] = f
			}
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}
