package tariff

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxguard-tgbot-go/internal/models"
	"github.com/voxguard-tgbot-go/internal/storage"
)

func newEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tariffs_db.json")
	store := storage.NewRecordStore(path, true, logrus.New())
	return NewEngine(store, logrus.New()), path
}

func TestUnknownUserDefaultsToFree(t *testing.T) {
	engine, _ := newEngine(t)

	assert.Equal(t, models.PlanFree, engine.GetPlan("7"))

	quota := engine.EffectiveQuota("7")
	assert.Equal(t, 1, quota.Slots)
	assert.Equal(t, 5, quota.DailyGen)
}

func TestSetPlanAppliesRecognizedTier(t *testing.T) {
	engine, _ := newEngine(t)

	got := engine.SetPlan("7", models.PlanVIP)
	assert.Equal(t, models.PlanVIP, got)
	assert.Equal(t, 6, engine.EffectiveQuota("7").Slots)
}

func TestSetPlanSilentlyRejectsUnknownTier(t *testing.T) {
	engine, _ := newEngine(t)

	engine.SetPlan("7", models.PlanVIP)
	got := engine.SetPlan("7", models.PlanName("not-a-plan"))

	assert.Equal(t, models.PlanVIP, got)
	assert.Equal(t, models.PlanVIP, engine.GetPlan("7"))
}

func TestAddBonusExtendsDailyOnly(t *testing.T) {
	engine, _ := newEngine(t)

	before := engine.EffectiveQuota("7")
	total := engine.AddBonus("7", 10)
	after := engine.EffectiveQuota("7")

	assert.Equal(t, 10, total)
	assert.Equal(t, before.DailyGen+10, after.DailyGen)
	assert.Equal(t, before.Slots, after.Slots)
}

func TestPremiumStaysUnlimitedWithBonus(t *testing.T) {
	engine, _ := newEngine(t)

	engine.SetPlan("7", models.PlanPremium)
	engine.AddBonus("7", 3)

	quota := engine.EffectiveQuota("7")
	assert.True(t, quota.Allows(1_000_000))
}

func TestLegacyStringRecordSelfHeals(t *testing.T) {
	engine, path := newEngine(t)

	require.NoError(t, os.WriteFile(path, []byte(`{"7": "vip"}`), 0644))

	assert.Equal(t, models.PlanVIP, engine.GetPlan("7"))

	// The read must have written back the structured shape.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"plan"`)
	assert.Contains(t, string(data), `"bonus_gen"`)
}

func TestQuotaAllows(t *testing.T) {
	limited := Quota{Slots: 1, DailyGen: 5}
	assert.True(t, limited.Allows(4))
	assert.False(t, limited.Allows(5))

	unlimited := Quota{Slots: 12, DailyGen: Unlimited}
	assert.True(t, unlimited.Allows(9999))
}
