// Package session holds the volatile per-user state that is not part of the
// durable stores: the currently selected slot and the awaiting-voice flag set
// when a user picks an empty slot. It is owned by the core and injected into
// handlers; the redis backend makes it shareable across instances.
package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/config"
)

// Store defines session state operations
type Store interface {
	ActiveSlot(ctx context.Context, uid string) (int, bool)
	SetActiveSlot(ctx context.Context, uid string, slot int) error
	AwaitingVoice(ctx context.Context, uid string) bool
	SetAwaitingVoice(ctx context.Context, uid string, awaiting bool) error
}

// NewStore creates the backend selected by configuration.
func NewStore(cfg *config.Config, logger *logrus.Logger) (Store, error) {
	switch cfg.Sessions.Type {
	case "redis":
		return newRedisStore(cfg, logger)
	case "memory":
		return newMemoryStore(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported sessions type: %s", cfg.Sessions.Type)
	}
}

// redisStore keeps session state in Redis
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func newRedisStore(cfg *config.Config, logger *logrus.Logger) (*redisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Sessions.Redis.Addr,
		Password: cfg.Sessions.Redis.Password,
		DB:       cfg.Sessions.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &redisStore{client: client, ttl: cfg.Sessions.TTL, logger: logger}, nil
}

func (r *redisStore) ActiveSlot(ctx context.Context, uid string) (int, bool) {
	val, err := r.client.Get(ctx, "active_slot:"+uid).Result()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		r.logger.WithError(err).WithField("user_id", uid).Warn("Failed to read active slot")
		return 0, false
	}
	slot, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return slot, true
}

func (r *redisStore) SetActiveSlot(ctx context.Context, uid string, slot int) error {
	return r.client.Set(ctx, "active_slot:"+uid, strconv.Itoa(slot), r.ttl).Err()
}

func (r *redisStore) AwaitingVoice(ctx context.Context, uid string) bool {
	val, err := r.client.Get(ctx, "awaiting_voice:"+uid).Result()
	return err == nil && val == "1"
}

func (r *redisStore) SetAwaitingVoice(ctx context.Context, uid string, awaiting bool) error {
	key := "awaiting_voice:" + uid
	if !awaiting {
		return r.client.Del(ctx, key).Err()
	}
	return r.client.Set(ctx, key, "1", r.ttl).Err()
}

// memoryStore keeps session state in process memory
type memoryStore struct {
	slots    *cache.Cache
	awaiting *cache.Cache
}

func newMemoryStore(cfg *config.Config) *memoryStore {
	ttl := cfg.Sessions.TTL
	return &memoryStore{
		slots:    cache.New(ttl, ttl),
		awaiting: cache.New(ttl, ttl),
	}
}

func (m *memoryStore) ActiveSlot(ctx context.Context, uid string) (int, bool) {
	if val, found := m.slots.Get(uid); found {
		return val.(int), true
	}
	return 0, false
}

func (m *memoryStore) SetActiveSlot(ctx context.Context, uid string, slot int) error {
	m.slots.SetDefault(uid, slot)
	return nil
}

func (m *memoryStore) AwaitingVoice(ctx context.Context, uid string) bool {
	_, found := m.awaiting.Get(uid)
	return found
}

func (m *memoryStore) SetAwaitingVoice(ctx context.Context, uid string, awaiting bool) error {
	if !awaiting {
		m.awaiting.Delete(uid)
		return nil
	}
	m.awaiting.SetDefault(uid, true)
	return nil
}
