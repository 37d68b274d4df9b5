// Package memstore is a bounded, in-process Store implementation with
// per-entry sliding TTL and an optional absolute lifetime cap.
//
// Eviction beyond the configured maximum size is delegated to
// hashicorp/golang-lru/v2, the size-bounded LRU already present in this
// module's dependency graph. The sliding/absolute-cap expiry policy is laid
// on top as a per-entry deadline, because the library's single
// construction-time TTL cannot express a deadline that shrinks as an entry
// ages toward an absolute cap — see createDeadline and accessDeadline for the
// exact formula this implements.
package memstore

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"flowsentinel.dev/flowerr"
	"flowsentinel.dev/logging"
	"flowsentinel.dev/store"
)

// SlidingReset selects which operations renew an entry's expiry deadline.
type SlidingReset string

const (
	// OnRead renews the deadline on LoadAggregate.
	OnRead SlidingReset = "ON_READ"
	// OnWrite renews the deadline on SaveAggregate.
	OnWrite SlidingReset = "ON_WRITE"
	// OnReadAndWrite renews the deadline on both.
	OnReadAndWrite SlidingReset = "ON_READ_AND_WRITE"
)

// Config configures a Store.
type Config struct {
	MaximumSize    int           // default 10000
	TTL            time.Duration // base ttl, default 1h
	AbsoluteTTL    time.Duration // cap; 0 disables
	SlidingEnabled bool          // default false
	SlidingReset   SlidingReset  // default OnRead
	SweepInterval  time.Duration // background expiry sweep cadence, default 30s
	Logger         *logrus.Logger
}

// DefaultConfig returns the configuration surface's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaximumSize:    10000,
		TTL:            time.Hour,
		AbsoluteTTL:    0,
		SlidingEnabled: false,
		SlidingReset:   OnRead,
		SweepInterval:  30 * time.Second,
	}
}

type entry struct {
	agg       store.FlowAggregate
	createdAt time.Time
	deadline  time.Time
}

// Store is the bounded in-memory Store implementation.
type Store struct {
	cfg    Config
	cache  *lru.Cache[string, *entry]
	mu     sync.RWMutex // guards entry.deadline mutation independent of cache locking
	log    *logrus.Logger
	stopCh chan struct{}
}

// New constructs a Store from cfg, applying documented defaults for zero
// values, and starts its background expiry sweep goroutine. Call Close to
// stop the sweep.
func New(cfg Config) (*Store, error) {
	defaults := DefaultConfig()
	if cfg.MaximumSize <= 0 {
		cfg.MaximumSize = defaults.MaximumSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.SlidingReset == "" {
		cfg.SlidingReset = defaults.SlidingReset
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}

	cache, err := lru.New[string, *entry](cfg.MaximumSize)
	if err != nil {
		return nil, flowerr.New(flowerr.KindArgument, "memstore: invalid maximum size %d: %v", cfg.MaximumSize, err)
	}

	s := &Store{
		cfg:    cfg,
		cache:  cache,
		log:    logging.Or(cfg.Logger),
		stopCh: make(chan struct{}),
	}
	go s.sweepLoop()
	return s, nil
}

// Close stops the background sweep goroutine.
func (s *Store) Close() {
	close(s.stopCh)
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *Store) sweep(now time.Time) {
	for _, key := range s.cache.Keys() {
		e, ok := s.cache.Peek(key)
		if !ok {
			continue
		}
		s.mu.RLock()
		expired := now.After(e.deadline)
		s.mu.RUnlock()
		if expired {
			s.cache.Remove(key)
			s.log.WithFields(logging.Fields{"key": key}).Debug("memstore: swept expired entry")
		}
	}
}

// createDeadline implements the "on create" formula from the store's
// expiration design: expireIn = min(T_b, T_a) when T_a > 0, else T_b.
func (s *Store) createDeadline(createdAt time.Time) time.Time {
	if s.cfg.AbsoluteTTL > 0 {
		expireIn := s.cfg.TTL
		if s.cfg.AbsoluteTTL < expireIn {
			expireIn = s.cfg.AbsoluteTTL
		}
		return createdAt.Add(expireIn)
	}
	return createdAt.Add(s.cfg.TTL)
}

// accessDeadline implements the "on qualifying access" formula: age = now -
// t0, remainingAbs = T_a - age, expireIn = max(0, min(T_b, remainingAbs))
// when capped, else T_b.
func (s *Store) accessDeadline(createdAt, now time.Time) time.Time {
	if s.cfg.AbsoluteTTL > 0 {
		age := now.Sub(createdAt)
		remainingAbs := s.cfg.AbsoluteTTL - age
		if remainingAbs < 0 {
			remainingAbs = 0
		}
		expireIn := s.cfg.TTL
		if remainingAbs < expireIn {
			expireIn = remainingAbs
		}
		return now.Add(expireIn)
	}
	return now.Add(s.cfg.TTL)
}

func (s *Store) qualifiesOn(op SlidingReset) bool {
	if !s.cfg.SlidingEnabled {
		return false
	}
	return s.cfg.SlidingReset == op || s.cfg.SlidingReset == OnReadAndWrite
}

// expired reports whether e's deadline has passed at now, without mutating
// anything.
func (s *Store) expired(e *entry, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.After(e.deadline)
}

// lookupLive returns the entry for key if present and unexpired, removing it
// first if it has expired.
func (s *Store) lookupLive(key string, now time.Time) (*entry, bool) {
	e, ok := s.cache.Peek(key)
	if !ok {
		return nil, false
	}
	if s.expired(e, now) {
		s.cache.Remove(key)
		return nil, false
	}
	return e, true
}

// SaveAggregate implements store.Store. The first save for a key establishes
// createdAt and the create-time deadline; subsequent saves preserve the
// original createdAt (the absolute cap is anchored to first creation) and
// renew the deadline only when configured for ON_WRITE/ON_READ_AND_WRITE.
func (s *Store) SaveAggregate(key string, agg store.FlowAggregate) error {
	now := time.Now()
	existing, live := s.lookupLive(key, now)

	var createdAt time.Time
	var deadline time.Time

	if !live {
		createdAt = agg.Meta.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		deadline = s.createDeadline(createdAt)
	} else {
		createdAt = existing.createdAt
		if s.qualifiesOn(OnWrite) {
			deadline = s.accessDeadline(createdAt, now)
		} else {
			deadline = existing.deadline
		}
	}

	s.cache.Add(key, &entry{agg: agg, createdAt: createdAt, deadline: deadline})
	s.log.WithFields(logging.Fields{"key": key, "partition": agg.Meta.Partition()}).Debug("memstore: saved aggregate")
	return nil
}

// LoadAggregate implements store.Store.
func (s *Store) LoadAggregate(key string) (store.FlowAggregate, bool, error) {
	now := time.Now()
	e, ok := s.lookupLive(key, now)
	if !ok {
		return store.FlowAggregate{}, false, nil
	}
	// A read counts as a use for LRU eviction order.
	s.cache.Get(key)
	if s.qualifiesOn(OnRead) {
		s.mu.Lock()
		e.deadline = s.accessDeadline(e.createdAt, now)
		s.mu.Unlock()
	}
	return e.agg, true, nil
}

// Delete implements store.Store. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	s.cache.Remove(key)
	return nil
}

// Exists implements store.Store. Never extends the entry's TTL, independent
// of the configured sliding-reset policy.
func (s *Store) Exists(key string) (bool, error) {
	_, ok := s.lookupLive(key, time.Now())
	return ok, nil
}

// InvalidateByPartition implements store.Store.
func (s *Store) InvalidateByPartition(partitionKey string) (int, error) {
	now := time.Now()
	removed := 0
	for _, key := range s.cache.Keys() {
		e, ok := s.cache.Peek(key)
		if !ok || s.expired(e, now) {
			continue
		}
		if e.agg.Meta.Partition() == partitionKey {
			s.cache.Remove(key)
			removed++
		}
	}
	s.log.WithFields(logging.Fields{"partition": partitionKey, "removed": removed}).Info("memstore: invalidated partition")
	return removed, nil
}

// ListActiveFlows implements store.Store.
func (s *Store) ListActiveFlows(partitionKey string) ([]string, error) {
	now := time.Now()
	var ids []string
	for _, key := range s.cache.Keys() {
		e, ok := s.cache.Peek(key)
		if !ok || s.expired(e, now) {
			continue
		}
		if e.agg.Meta.Partition() == partitionKey {
			ids = append(ids, e.agg.Meta.FlowId())
		}
	}
	return ids, nil
}

// BulkDelete implements store.Store.
func (s *Store) BulkDelete(keys []string) (int, error) {
	now := time.Now()
	removed := 0
	for _, key := range keys {
		if _, ok := s.lookupLive(key, now); ok {
			s.cache.Remove(key)
			removed++
		}
	}
	return removed, nil
}

var _ store.Store = (*Store)(nil)
