package quota

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxguard-tgbot-go/internal/storage"
)

func newCounter(t *testing.T, now *time.Time) *Counter {
	t.Helper()
	files, err := storage.NewUserFiles(t.TempDir())
	require.NoError(t, err)
	return NewCounter(files, func() time.Time { return *now }, logrus.New())
}

func TestIncrementAccumulatesWithinDay(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	counter := newCounter(t, &now)

	assert.Equal(t, 0, counter.Count("7"))
	for i := 0; i < 5; i++ {
		require.NoError(t, counter.Increment("7"))
	}
	assert.Equal(t, 5, counter.Count("7"))
}

func TestDayRolloverResetsLazily(t *testing.T) {
	now := time.Date(2024, 3, 10, 23, 50, 0, 0, time.UTC)
	counter := newCounter(t, &now)

	require.NoError(t, counter.Increment("7"))
	require.NoError(t, counter.Increment("7"))
	assert.Equal(t, 2, counter.Count("7"))

	now = now.Add(time.Hour)
	assert.Equal(t, 0, counter.Count("7"))

	require.NoError(t, counter.Increment("7"))
	assert.Equal(t, 1, counter.Count("7"))
}

func TestResetZeroesCount(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	counter := newCounter(t, &now)

	require.NoError(t, counter.Increment("7"))
	require.NoError(t, counter.Reset("7"))
	assert.Equal(t, 0, counter.Count("7"))
}
