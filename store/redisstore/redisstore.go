// Package redisstore is a Redis-backed Store implementation: JSON-encoded
// aggregates, sliding TTL with an absolute lifetime cap, snapshot history,
// and atomic partition-scoped bulk invalidation via a server-side Lua
// script.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"flowsentinel.dev/flowerr"
	"flowsentinel.dev/logging"
	"flowsentinel.dev/store"
)

// SlidingReset selects which operations renew an aggregate's Redis TTL.
type SlidingReset string

const (
	OnRead         SlidingReset = "ON_READ"
	OnWrite        SlidingReset = "ON_WRITE"
	OnReadAndWrite SlidingReset = "ON_READ_AND_WRITE"
)

// ConnectionMode selects whether the store reuses an ambient *redis.Client
// (shared) or builds its own from Config's Dedicated settings.
type ConnectionMode string

const (
	Shared    ConnectionMode = "shared"
	Dedicated ConnectionMode = "dedicated"
)

// DedicatedConfig configures a store-owned Redis connection.
type DedicatedConfig struct {
	Host             string
	Port             int
	Database         int
	Password         string
	CommandTimeout   time.Duration
	ConnectTimeout   time.Duration
}

// Config configures a Store.
type Config struct {
	Namespace      string // key prefix, default "fs:flow:"
	TTL            time.Duration
	AbsoluteTTL    time.Duration // 0 disables the cap
	SlidingEnabled bool
	SlidingReset   SlidingReset
	Mode           ConnectionMode
	Client         *redis.Client // required when Mode == Shared
	Dedicated      DedicatedConfig
	MaxHistory     int
	Logger         *logrus.Logger
}

// DefaultConfig returns the configuration surface's documented defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:    "fs:flow:",
		TTL:          time.Hour,
		SlidingReset: OnRead,
		Mode:         Shared,
		MaxHistory:   store.DefaultMaxHistory,
	}
}

// Store is the Redis-backed Store implementation.
type Store struct {
	cfg    Config
	client *redis.Client
	log    *logrus.Logger
	delOne *redis.Script
}

// delOneScript atomically deletes every key supplied and returns the count
// actually removed, matching the "atomic bulk delete" design: a single
// server-side script iterates the key list and issues DEL per key.
var delOneScript = redis.NewScript(`
local n = 0
for _, k in ipairs(KEYS) do
  if redis.call("DEL", k) == 1 then
    n = n + 1
  end
end
return n
`)

// New constructs a Store from cfg. In Shared mode, cfg.Client must be a
// ready *redis.Client. In Dedicated mode, a new client is built from
// cfg.Dedicated.
func New(cfg Config) (*Store, error) {
	defaults := DefaultConfig()
	if cfg.Namespace == "" {
		cfg.Namespace = defaults.Namespace
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.SlidingReset == "" {
		cfg.SlidingReset = defaults.SlidingReset
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaults.MaxHistory
	}

	var client *redis.Client
	switch cfg.Mode {
	case Dedicated:
		opts := &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Dedicated.Host, cfg.Dedicated.Port),
			DB:           cfg.Dedicated.Database,
			Password:     cfg.Dedicated.Password,
			DialTimeout:  cfg.Dedicated.ConnectTimeout,
			ReadTimeout:  cfg.Dedicated.CommandTimeout,
			WriteTimeout: cfg.Dedicated.CommandTimeout,
		}
		client = redis.NewClient(opts)
	default:
		if cfg.Client == nil {
			return nil, flowerr.New(flowerr.KindArgument, "redisstore: shared mode requires a configured Client")
		}
		client = cfg.Client
	}

	return &Store{cfg: cfg, client: client, log: logging.Or(cfg.Logger), delOne: delOneScript}, nil
}

// Close releases the underlying client if this store owns it (Dedicated
// mode). In Shared mode the caller owns the client's lifecycle.
func (s *Store) Close() error {
	if s.cfg.Mode == Dedicated {
		return s.client.Close()
	}
	return nil
}

func (s *Store) key(instanceId, partition string) string {
	if partition != "" {
		return s.cfg.Namespace + partition + ":" + instanceId + ":agg"
	}
	return s.cfg.Namespace + instanceId + ":agg"
}

func (s *Store) partitionPattern(partition string) string {
	return s.cfg.Namespace + partition + ":*:agg"
}

// effectiveTTL implements the write/read-path formula derived from
// meta.createdAt: remainingAbs = absoluteTtl - (now - createdAt); expireIn =
// min(ttl, remainingAbs) when capped, else ttl. A negative remainder (the
// cap has already elapsed) collapses to a near-zero duration rather than a
// negative one, so SET/EXPIRE never see an invalid argument and the key
// expires essentially immediately instead of resurrecting a dead lifetime.
func (s *Store) effectiveTTL(createdAt, now time.Time) time.Duration {
	if s.cfg.AbsoluteTTL <= 0 {
		return s.cfg.TTL
	}
	age := now.Sub(createdAt)
	remainingAbs := s.cfg.AbsoluteTTL - age
	if remainingAbs <= 0 {
		return time.Millisecond
	}
	if remainingAbs < s.cfg.TTL {
		return remainingAbs
	}
	return s.cfg.TTL
}

func (s *Store) qualifiesOn(op SlidingReset) bool {
	if !s.cfg.SlidingEnabled {
		return false
	}
	return s.cfg.SlidingReset == op || s.cfg.SlidingReset == OnReadAndWrite
}

// SaveAggregate implements store.Store.
func (s *Store) SaveAggregate(key string, agg store.FlowAggregate) error {
	ctx := context.Background()
	now := time.Now()
	createdAt := agg.Meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	ttl := s.effectiveTTL(createdAt, now)

	data, err := json.Marshal(agg)
	if err != nil {
		return flowerr.DataAccess(key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return flowerr.DataAccess(key, err)
	}
	if s.qualifiesOn(OnWrite) {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return flowerr.DataAccess(key, err)
		}
	}
	s.log.WithFields(logging.Fields{"key": key, "ttl": ttl.String()}).Debug("redisstore: saved aggregate")
	return nil
}

// LoadAggregate implements store.Store.
func (s *Store) LoadAggregate(key string) (store.FlowAggregate, bool, error) {
	ctx := context.Background()
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return store.FlowAggregate{}, false, nil
	}
	if err != nil {
		return store.FlowAggregate{}, false, flowerr.DataAccess(key, err)
	}

	var agg store.FlowAggregate
	if err := json.Unmarshal(data, &agg); err != nil {
		return store.FlowAggregate{}, false, flowerr.DataAccess(key, err)
	}

	if s.qualifiesOn(OnRead) {
		now := time.Now()
		createdAt := agg.Meta.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		ttl := s.effectiveTTL(createdAt, now)
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return store.FlowAggregate{}, false, flowerr.DataAccess(key, err)
		}
	}
	return agg, true, nil
}

// Delete implements store.Store.
func (s *Store) Delete(key string) error {
	ctx := context.Background()
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return flowerr.DataAccess(key, err)
	}
	return nil
}

// Exists implements store.Store. EXISTS never touches the key's TTL.
func (s *Store) Exists(key string) (bool, error) {
	ctx := context.Background()
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, flowerr.DataAccess(key, err)
	}
	return n > 0, nil
}

// scanPartitionKeys enumerates keys matching the partition pattern,
// tolerating key-set churn during the scan as a best-effort snapshot.
func (s *Store) scanPartitionKeys(ctx context.Context, partitionKey string) ([]string, error) {
	pattern := s.partitionPattern(partitionKey)
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, flowerr.DataAccess(pattern, err)
	}
	return keys, nil
}

// InvalidateByPartition implements store.Store.
func (s *Store) InvalidateByPartition(partitionKey string) (int, error) {
	ctx := context.Background()
	keys, err := s.scanPartitionKeys(ctx, partitionKey)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	removed, err := s.bulkDelete(ctx, keys)
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logging.Fields{"partition": partitionKey, "removed": removed}).Info("redisstore: invalidated partition")
	return removed, nil
}

// ListActiveFlows implements store.Store. Instance ids are recovered by
// stripping the namespace, the partition segment, and the ":agg" suffix
// from each matching key.
func (s *Store) ListActiveFlows(partitionKey string) ([]string, error) {
	ctx := context.Background()
	keys, err := s.scanPartitionKeys(ctx, partitionKey)
	if err != nil {
		return nil, err
	}
	prefix := s.cfg.Namespace + partitionKey + ":"
	const suffix = ":agg"
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		trimmed := strings.TrimPrefix(k, prefix)
		trimmed = strings.TrimSuffix(trimmed, suffix)
		if trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids, nil
}

// BulkDelete implements store.Store.
func (s *Store) BulkDelete(keys []string) (int, error) {
	return s.bulkDelete(context.Background(), keys)
}

func (s *Store) bulkDelete(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res, err := s.delOne.Run(ctx, s.client, keys).Result()
	if err != nil {
		return 0, flowerr.DataAccess(strings.Join(keys, ","), err)
	}
	n, ok := res.(int64)
	if !ok {
		return 0, flowerr.DataAccess(strings.Join(keys, ","), fmt.Errorf("unexpected script result type %T", res))
	}
	return int(n), nil
}

// BuildKey computes the namespaced storage key for an instance within an
// optional partition. Only aggregates saved under keys of this form are found
// by InvalidateByPartition and ListActiveFlows; the engine saves under
// FlowKey storage keys, which are not of this form.
func (s *Store) BuildKey(instanceId, partition string) string {
	return s.key(instanceId, partition)
}

var _ store.Store = (*Store)(nil)
