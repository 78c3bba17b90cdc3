// Package slots binds the bounded integer slot range of a plan to at most
// one embedding artifact each, per user. Artifact files on disk are the only
// occupancy index.
package slots

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/services/tariff"
	"github.com/voxguard-tgbot-go/internal/storage"
)

var (
	// ErrSlotOutOfRange indicates the slot index is outside the plan's range.
	ErrSlotOutOfRange = errors.New("slot out of range")
	// ErrNoArtifact indicates the embedding engine produced no artifact.
	ErrNoArtifact = errors.New("engine produced no artifact")
	// ErrSlotEmpty indicates the slot has no artifact bound.
	ErrSlotEmpty = errors.New("slot empty")
)

// EmbeddingFunc invokes the embedding-creation collaborator with source
// audio and returns the path of the artifact it produced.
type EmbeddingFunc func(ctx context.Context) (string, error)

// Engine allocates and resolves embedding slots. All operations touching one
// user's embedding directory are serialized through a per-user mutex, so an
// in-flight allocation is never observed half-done by a concurrent resolve.
type Engine struct {
	files   *storage.UserFiles
	tariffs *tariff.Engine
	logger  *logrus.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates the slot engine.
func NewEngine(files *storage.UserFiles, tariffs *tariff.Engine, logger *logrus.Logger) *Engine {
	return &Engine{
		files:   files,
		tariffs: tariffs,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (e *Engine) userLock(uid string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[uid]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[uid] = lock
	}
	return lock
}

// InRange reports whether the slot index is valid under the user's plan.
func (e *Engine) InRange(uid string, slot int) bool {
	return slot >= 0 && slot < e.tariffs.EffectiveQuota(uid).Slots
}

// ListOccupied returns the slot indices currently bound to an artifact.
func (e *Engine) ListOccupied(uid string) ([]int, error) {
	return e.files.OccupiedSlots(uid)
}

// Allocate binds the artifact produced by create to the given slot,
// replacing any prior occupant. The prior artifact is deleted, not leaked; a
// failed engine call leaves it untouched.
func (e *Engine) Allocate(ctx context.Context, uid string, slot int, create EmbeddingFunc) error {
	if !e.InRange(uid, slot) {
		return fmt.Errorf("%w: slot %d", ErrSlotOutOfRange, slot)
	}

	lock := e.userLock(uid)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.files.Dir(uid); err != nil {
		return err
	}

	artifact, err := create(ctx)
	if err != nil {
		return fmt.Errorf("create embedding: %w", err)
	}
	if artifact == "" {
		return ErrNoArtifact
	}
	if _, err := os.Stat(artifact); err != nil {
		return fmt.Errorf("%w: %s", ErrNoArtifact, artifact)
	}

	target := e.files.EmbeddingPath(uid, slot)
	if artifact == target {
		return nil
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("evict slot %d: %w", slot, err)
	}
	if err := os.Rename(artifact, target); err != nil {
		return fmt.Errorf("bind artifact to slot %d: %w", slot, err)
	}

	e.logger.WithFields(logrus.Fields{
		"user_id": uid,
		"slot":    slot,
	}).Info("Slot allocated")
	return nil
}

// Resolve returns the artifact path for the slot. Existence of the file is
// the sole occupancy test.
func (e *Engine) Resolve(uid string, slot int) (string, error) {
	lock := e.userLock(uid)
	lock.Lock()
	defer lock.Unlock()

	path := e.files.EmbeddingPath(uid, slot)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: slot %d", ErrSlotEmpty, slot)
		}
		return "", err
	}
	return path, nil
}
