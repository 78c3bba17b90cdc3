package strikes

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxguard-tgbot-go/internal/middleware"
	"github.com/voxguard-tgbot-go/internal/storage"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	store := storage.NewRecordStore(filepath.Join(dir, "user_strikes.json"), true, logrus.New())
	blacklist, err := storage.NewListFile(filepath.Join(dir, "blacklist.txt"))
	require.NoError(t, err)
	return NewEngine(store, blacklist, 5, middleware.NewMetrics(), logrus.New())
}

func TestStrikesAreMonotonic(t *testing.T) {
	engine := newEngine(t)

	prev := 0
	for i := 0; i < 4; i++ {
		count, err := engine.RecordStrike("7")
		require.NoError(t, err)
		assert.Greater(t, count, prev)
		prev = count
	}
	assert.Equal(t, 4, engine.Count("7"))
}

func TestBlacklistIsIdempotentAndPermanent(t *testing.T) {
	engine := newEngine(t)

	assert.False(t, engine.IsBlacklisted("7"))
	require.NoError(t, engine.Blacklist("7"))
	require.NoError(t, engine.Blacklist("7"))
	assert.True(t, engine.IsBlacklisted("7"))

	// Further strikes do not disturb membership.
	_, err := engine.RecordStrike("7")
	require.NoError(t, err)
	assert.True(t, engine.IsBlacklisted("7"))
}

func TestThresholdPromotion(t *testing.T) {
	engine := newEngine(t)

	for i := 0; i < engine.MaxStrikes(); i++ {
		count, err := engine.RecordStrike("7")
		require.NoError(t, err)
		if count >= engine.MaxStrikes() {
			require.NoError(t, engine.Blacklist("7"))
		}
	}
	assert.True(t, engine.IsBlacklisted("7"))
}

func TestStrikesIsolatedPerUser(t *testing.T) {
	engine := newEngine(t)

	_, err := engine.RecordStrike("7")
	require.NoError(t, err)
	assert.Equal(t, 0, engine.Count("8"))
}
