// Package quota tracks the per-user, date-scoped count of synthesis
// operations. The day boundary is the host-local calendar date, matching the
// historical deployments this store is shared with; no timezone is pinned.
package quota

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/storage"
)

// Clock supplies the current time; injected so day-rollover behavior is
// testable.
type Clock func() time.Time

// Counter is the daily generation counter. A stored record whose date is not
// today reads as zero; the reset is lazy, never an eager purge.
type Counter struct {
	files  *storage.UserFiles
	clock  Clock
	mu     sync.Mutex
	logger *logrus.Logger
}

// NewCounter creates a counter over the per-user file tree. A nil clock uses
// time.Now.
func NewCounter(files *storage.UserFiles, clock Clock, logger *logrus.Logger) *Counter {
	if clock == nil {
		clock = time.Now
	}
	return &Counter{files: files, clock: clock, logger: logger}
}

func (c *Counter) today() string {
	return c.clock().Format("2006-01-02")
}

// Count returns today's generation count for the user; zero when no record
// exists or the stored date is stale.
func (c *Counter) Count(uid string) int {
	meta := c.files.ReadGenMeta(uid)
	if meta.Date != c.today() {
		return 0
	}
	return meta.Count
}

// Increment records one successful synthesis. Callers invoke it only after
// the engine produced a playable artifact, which keeps billing at-most-once.
func (c *Counter) Increment(uid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := c.today()
	meta := c.files.ReadGenMeta(uid)
	if meta.Date != today {
		meta = storage.DailyGenMeta{Date: today}
	}
	meta.Count++
	return c.files.WriteGenMeta(uid, meta)
}

// Reset unconditionally zeroes today's count. Administrative override.
func (c *Counter) Reset(uid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.files.WriteGenMeta(uid, storage.DailyGenMeta{Date: c.today()})
}
