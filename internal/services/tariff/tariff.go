package tariff

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/models"
	"github.com/voxguard-tgbot-go/internal/storage"
)

// Definition fixes the slot count and base daily generation allowance of a
// tier. A negative DailyGen means unlimited.
type Definition struct {
	Slots    int
	DailyGen int
}

// Unlimited is the daily-allowance sentinel for tiers without a cap.
const Unlimited = -1

// Definitions are the static tier definitions. Slots are plan-fixed; bonus
// generations never change them.
var Definitions = map[models.PlanName]Definition{
	models.PlanFree:    {Slots: 1, DailyGen: 5},
	models.PlanBase:    {Slots: 3, DailyGen: 20},
	models.PlanVIP:     {Slots: 6, DailyGen: 60},
	models.PlanPremium: {Slots: 12, DailyGen: Unlimited},
}

// Quota is a user's effective allowance: plan slots plus the plan's base
// daily generations extended by the bonus.
type Quota struct {
	Slots    int
	DailyGen int
}

// Allows reports whether another generation fits under the daily allowance.
func (q Quota) Allows(count int) bool {
	return q.DailyGen < 0 || count < q.DailyGen
}

// Engine resolves and mutates per-user tariff records. Reads self-heal:
// legacy or missing records are written back in the structured shape.
type Engine struct {
	store  *storage.RecordStore
	logger *logrus.Logger
}

// NewEngine creates a tariff engine over the given record store.
func NewEngine(store *storage.RecordStore, logger *logrus.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// record loads the user's tariff record, normalizing and persisting it if the
// stored shape was legacy or missing. Store read failures resolve to the free
// tier; availability wins over strictness here.
func (e *Engine) record(uid string) models.TariffRecord {
	var rec models.TariffRecord
	found, err := e.store.Get(uid, &rec)
	if err != nil {
		e.logger.WithError(err).WithField("user_id", uid).Warn("Tariff read failed, defaulting to free")
		return models.TariffRecord{Plan: models.PlanFree}
	}

	changed := rec.Normalize()
	if !found || changed {
		if err := e.store.Put(uid, rec); err != nil {
			e.logger.WithError(err).WithField("user_id", uid).Warn("Failed to write back normalized tariff record")
		}
	}
	return rec
}

// GetPlan returns the user's normalized current plan.
func (e *Engine) GetPlan(uid string) models.PlanName {
	return e.record(uid).Plan
}

// HasRecord reports whether a tariff record exists for the user without the
// self-healing write-back.
func (e *Engine) HasRecord(uid string) bool {
	var rec models.TariffRecord
	found, err := e.store.Get(uid, &rec)
	return err == nil && found
}

// SetPlan assigns the named plan. An unrecognized name changes nothing and
// returns the user's current plan, so callers can tell whether the change was
// applied by comparing the result to what they asked for.
func (e *Engine) SetPlan(uid string, name models.PlanName) models.PlanName {
	if !name.Valid() {
		return e.GetPlan(uid)
	}

	err := e.store.Update(func(records map[string]json.RawMessage) error {
		var rec models.TariffRecord
		if raw, ok := records[uid]; ok {
			if err := json.Unmarshal(raw, &rec); err != nil {
				rec = models.TariffRecord{}
			}
		}
		rec.Normalize()
		rec.Plan = name
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		records[uid] = raw
		return nil
	})
	if err != nil {
		e.logger.WithError(err).WithField("user_id", uid).Error("Failed to persist plan change")
		return e.GetPlan(uid)
	}
	return name
}

// AddBonus adds amount to the user's bonus generations and returns the new
// total. The bonus extends the daily allowance only, never the slot count.
func (e *Engine) AddBonus(uid string, amount int) int {
	total := 0
	err := e.store.Update(func(records map[string]json.RawMessage) error {
		var rec models.TariffRecord
		if raw, ok := records[uid]; ok {
			if err := json.Unmarshal(raw, &rec); err != nil {
				rec = models.TariffRecord{}
			}
		}
		rec.Normalize()
		rec.BonusGen += amount
		if rec.BonusGen < 0 {
			rec.BonusGen = 0
		}
		total = rec.BonusGen
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		records[uid] = raw
		return nil
	})
	if err != nil {
		e.logger.WithError(err).WithField("user_id", uid).Error("Failed to persist bonus change")
	}
	return total
}

// EffectiveQuota resolves the user's current allowance: the plan definition
// with the bonus applied to the daily count. An unlimited base stays
// unlimited regardless of bonus.
func (e *Engine) EffectiveQuota(uid string) Quota {
	rec := e.record(uid)
	def := Definitions[rec.Plan]
	quota := Quota{Slots: def.Slots, DailyGen: def.DailyGen}
	if quota.DailyGen >= 0 {
		quota.DailyGen += rec.BonusGen
	}
	return quota
}
