package slots

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxguard-tgbot-go/internal/models"
	"github.com/voxguard-tgbot-go/internal/services/tariff"
	"github.com/voxguard-tgbot-go/internal/storage"
)

func newEngine(t *testing.T) (*Engine, *tariff.Engine, *storage.UserFiles) {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewUserFiles(filepath.Join(dir, "users_emb"))
	require.NoError(t, err)
	tariffs := tariff.NewEngine(
		storage.NewRecordStore(filepath.Join(dir, "tariffs_db.json"), true, logrus.New()),
		logrus.New(),
	)
	return NewEngine(files, tariffs, logrus.New()), tariffs, files
}

// produceArtifact mimics the engine dropping a fresh artifact into the
// user's directory and returning its path.
func produceArtifact(t *testing.T, files *storage.UserFiles, uid, name, content string) EmbeddingFunc {
	t.Helper()
	return func(ctx context.Context) (string, error) {
		dir, err := files.Dir(uid)
		if err != nil {
			return "", err
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return "", err
		}
		return path, nil
	}
}

func TestAllocateRejectsOutOfRangeSlot(t *testing.T) {
	engine, _, files := newEngine(t)

	// Free plan has a single slot.
	err := engine.Allocate(context.Background(), "7", 1, produceArtifact(t, files, "7", "raw.npz", "x"))
	assert.ErrorIs(t, err, ErrSlotOutOfRange)

	err = engine.Allocate(context.Background(), "7", -1, produceArtifact(t, files, "7", "raw.npz", "x"))
	assert.ErrorIs(t, err, ErrSlotOutOfRange)
}

func TestAllocateFailsWhenNoArtifactProduced(t *testing.T) {
	engine, _, files := newEngine(t)

	// Occupy the slot first, then fail an allocation over it.
	require.NoError(t, engine.Allocate(context.Background(), "7", 0, produceArtifact(t, files, "7", "a.npz", "first")))

	err := engine.Allocate(context.Background(), "7", 0, func(ctx context.Context) (string, error) {
		return "", nil
	})
	assert.ErrorIs(t, err, ErrNoArtifact)

	// The prior occupant is untouched.
	path, err := engine.Resolve("7", 0)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestAllocateReplacesWithoutLeaking(t *testing.T) {
	engine, _, files := newEngine(t)

	require.NoError(t, engine.Allocate(context.Background(), "7", 0, produceArtifact(t, files, "7", "a.npz", "first")))
	require.NoError(t, engine.Allocate(context.Background(), "7", 0, produceArtifact(t, files, "7", "b.npz", "second")))

	occupied, err := engine.ListOccupied("7")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, occupied)

	path, err := engine.Resolve("7", 0)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	// Exactly one artifact remains: the raw intermediates were renamed, not copied.
	dir, err := files.Dir("7")
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	count := 0
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".npz" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestAllocateEngineFailureLeavesSlotUntouched(t *testing.T) {
	engine, _, files := newEngine(t)

	require.NoError(t, engine.Allocate(context.Background(), "7", 0, produceArtifact(t, files, "7", "a.npz", "first")))

	engineErr := errors.New("engine down")
	err := engine.Allocate(context.Background(), "7", 0, func(ctx context.Context) (string, error) {
		return "", engineErr
	})
	assert.ErrorIs(t, err, engineErr)

	_, err = engine.Resolve("7", 0)
	assert.NoError(t, err)
}

func TestResolveEmptySlot(t *testing.T) {
	engine, _, _ := newEngine(t)

	_, err := engine.Resolve("7", 0)
	assert.ErrorIs(t, err, ErrSlotEmpty)
}

func TestVIPSlotRange(t *testing.T) {
	engine, tariffs, files := newEngine(t)

	tariffs.SetPlan("7", models.PlanVIP)
	require.NoError(t, engine.Allocate(context.Background(), "7", 5, produceArtifact(t, files, "7", "a.npz", "x")))

	err := engine.Allocate(context.Background(), "7", 6, produceArtifact(t, files, "7", "b.npz", "x"))
	assert.ErrorIs(t, err, ErrSlotOutOfRange)
}
