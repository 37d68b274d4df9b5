// Package session provides a thin policy layer over store.Store's bulk
// operations: logout, security-event response, and targeted invalidation,
// each pre-validating its identifiers and logging what it does.
package session

import (
	"strings"

	"github.com/sirupsen/logrus"

	"flowsentinel.dev/flowerr"
	"flowsentinel.dev/logging"
	"flowsentinel.dev/store"
)

// Manager wraps a store.Store with session-lifecycle operations.
type Manager struct {
	store store.Store
	log   *logrus.Logger
}

// New constructs a Manager backed by st. A nil logger falls back to the
// package-global logger.
func New(st store.Store, logger *logrus.Logger) *Manager {
	return &Manager{store: st, log: logging.Or(logger)}
}

// InvalidateUserSession deletes every active flow partitioned under userId
// (logout). Returns the count removed.
func (m *Manager) InvalidateUserSession(userId string) (int, error) {
	if isBlank(userId) {
		return 0, flowerr.Argument("user id must not be blank")
	}
	n, err := m.store.InvalidateByPartition(userId)
	if err != nil {
		return 0, err
	}
	m.log.WithFields(logging.Fields{"user_id": userId, "removed": n}).Info("session: invalidated user session")
	return n, nil
}

// InvalidateOnSecurityEvent deletes every active flow under partition,
// pre-enumerating the affected instance ids and logging reason for audit
// before deleting.
func (m *Manager) InvalidateOnSecurityEvent(partition, reason string) (int, error) {
	if isBlank(partition) {
		return 0, flowerr.Argument("partition must not be blank")
	}
	if isBlank(reason) {
		return 0, flowerr.Argument("reason must not be blank")
	}

	active, err := m.store.ListActiveFlows(partition)
	if err != nil {
		return 0, err
	}
	m.log.WithFields(logging.Fields{
		"partition":    partition,
		"reason":       reason,
		"active_flows": active,
		"active_count": len(active),
	}).Warn("session: security event triggered partition invalidation")

	n, err := m.store.InvalidateByPartition(partition)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// InvalidateFlows deletes exactly the storage keys in ids (targeted bulk
// delete). reason is optional and logged when present.
func (m *Manager) InvalidateFlows(ids []string, reason string) (int, error) {
	for _, id := range ids {
		if isBlank(id) {
			return 0, flowerr.Argument("flow id must not be blank")
		}
	}
	n, err := m.store.BulkDelete(ids)
	if err != nil {
		return 0, err
	}
	fields := logging.Fields{"count": len(ids), "removed": n}
	if !isBlank(reason) {
		fields["reason"] = reason
	}
	m.log.WithFields(fields).Info("session: invalidated targeted flows")
	return n, nil
}

// InvalidateMultiplePartitions invalidates each partition in turn, summing
// the per-partition removal counts. Blank partitions are skipped rather than
// rejected, since the caller is iterating a possibly-sparse list.
func (m *Manager) InvalidateMultiplePartitions(partitions []string, reason string) (int, error) {
	total := 0
	for _, p := range partitions {
		if isBlank(p) {
			continue
		}
		n, err := m.store.InvalidateByPartition(p)
		if err != nil {
			return total, err
		}
		total += n
	}
	fields := logging.Fields{"partitions": len(partitions), "removed": total}
	if !isBlank(reason) {
		fields["reason"] = reason
	}
	m.log.WithFields(fields).Info("session: invalidated multiple partitions")
	return total, nil
}

// ListActiveFlows enumerates instance ids active under partition.
func (m *Manager) ListActiveFlows(partition string) ([]string, error) {
	if isBlank(partition) {
		return nil, flowerr.Argument("partition must not be blank")
	}
	return m.store.ListActiveFlows(partition)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
