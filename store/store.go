// Package store defines the persistence shapes and the Store abstraction
// that flowsentinel's engine and session manager operate against, plus the
// two reference implementations in the memstore and redisstore
// subpackages.
package store

import (
	"time"

	"flowsentinel.dev/identifiers"
)

// DefaultMaxHistory bounds the number of snapshots retained in an
// aggregate's history when a store doesn't override it. The source this
// engine is modeled on hard-codes 100; this module treats it as a default,
// not a contract.
const DefaultMaxHistory = 100

// FlowSnapshot is the persistable record of a flow instance's position:
// step, completion flag, and accumulated attributes. FlowId holds the
// storage-key string, not a bare instance id.
type FlowSnapshot struct {
	FlowId      string                 `json:"flowId"`
	StepId      string                 `json:"stepId"`
	IsCompleted bool                   `json:"isCompleted"`
	Attributes  map[string]interface{} `json:"attributes"`
}

// FlowMeta is the housekeeping record paired with a snapshot: status,
// version, timestamps and the owning FlowContext, nested under "flowContext"
// per the aggregate's documented on-disk encoding.
type FlowMeta struct {
	Context   identifiers.FlowContext `json:"flowContext"`
	Status    string                  `json:"status"`
	Step      string                  `json:"step"`
	Version   int                     `json:"version"`
	CreatedAt time.Time               `json:"createdAt"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// FlowId returns the instance id carried by m's FlowContext.
func (m FlowMeta) FlowId() string { return m.Context.InstanceId() }

// OwnerId returns the owner id carried by m's FlowContext.
func (m FlowMeta) OwnerId() string { return m.Context.OwnerId() }

// Partition returns the effective partition carried by m's FlowContext.
func (m FlowMeta) Partition() string { return m.Context.EffectivePartition() }

// Status values for FlowMeta.Status. FAILED is reserved for callers via
// MarkFailed; neither the engine nor the session manager sets it. The engine
// itself only ever sets NEW, RUNNING and COMPLETED.
const (
	StatusNew       = "NEW"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// NewMeta builds the initial FlowMeta for a freshly created flow instance:
// status NEW, step INIT, version 0, timestamps set to now.
func NewMeta(ctx identifiers.FlowContext, now time.Time) FlowMeta {
	return FlowMeta{
		Context:   ctx,
		Status:    StatusNew,
		Step:      "INIT",
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance returns a copy of m reflecting a transition to step at time now,
// bumping the version and updating status to COMPLETED or RUNNING.
func (m FlowMeta) Advance(step string, completed bool, now time.Time) FlowMeta {
	next := m
	next.Step = step
	next.Version = m.Version + 1
	next.UpdatedAt = now
	if completed {
		next.Status = StatusCompleted
	} else {
		next.Status = StatusRunning
	}
	return next
}

// MarkFailed returns a copy of m tagged FAILED, for callers that want to
// audit an instance before deleting it.
func (m FlowMeta) MarkFailed(now time.Time) FlowMeta {
	next := m
	next.Status = StatusFailed
	next.UpdatedAt = now
	return next
}

// FlowAggregate is the unit of persistence: meta, the current snapshot (nil
// before the flow has a committed state), and a bounded snapshot history.
type FlowAggregate struct {
	Meta            FlowMeta       `json:"meta"`
	CurrentSnapshot *FlowSnapshot  `json:"currentSnapshot"`
	SnapshotHistory []FlowSnapshot `json:"snapshotHistory"`
}

// AppendHistory returns a copy of the aggregate with snapshot appended to
// its history, retaining at most maxSize entries and evicting the oldest
// first. maxSize <= 0 is treated as DefaultMaxHistory.
func (a FlowAggregate) AppendHistory(snapshot FlowSnapshot, maxSize int) FlowAggregate {
	if maxSize <= 0 {
		maxSize = DefaultMaxHistory
	}
	history := make([]FlowSnapshot, 0, len(a.SnapshotHistory)+1)
	history = append(history, a.SnapshotHistory...)
	history = append(history, snapshot)
	if len(history) > maxSize {
		history = history[len(history)-maxSize:]
	}
	a.SnapshotHistory = history
	return a
}

// Store is the persistence abstraction the engine, session manager and CLI
// operate against. Implementations: memstore (bounded in-memory LRU with
// sliding TTL) and redisstore (Redis-backed, with partition-scoped bulk
// invalidation).
type Store interface {
	// SaveAggregate writes agg under its storage key. Single-key writes are
	// atomic.
	SaveAggregate(key string, agg FlowAggregate) error
	// LoadAggregate reads the aggregate for key, or ok=false if absent or
	// expired.
	LoadAggregate(key string) (agg FlowAggregate, ok bool, err error)
	// Delete removes the aggregate for key. Deleting an absent key is not an
	// error.
	Delete(key string) error
	// Exists reports whether key has a live aggregate. Must not itself
	// extend the key's TTL.
	Exists(key string) (bool, error)
	// InvalidateByPartition deletes every aggregate scoped to partitionKey,
	// returning the count removed.
	InvalidateByPartition(partitionKey string) (int, error)
	// ListActiveFlows enumerates instance ids within partitionKey.
	ListActiveFlows(partitionKey string) ([]string, error)
	// BulkDelete removes every key in keys that exists, returning the count
	// actually removed.
	BulkDelete(keys []string) (int, error)
}
