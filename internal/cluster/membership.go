// Package cluster implements the cluster plane (C7): node membership
// records persisted to object storage, and the ingestor fan-out /
// stream-sync gossip built on top of that membership list.
package cluster

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stratumlake/stratum/internal/apperrors"
	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/objstore"
)

const nodesPrefix = ".stratum/nodes/"

func nodeKey(nodeID string) string {
	return nodesPrefix + nodeID + ".json"
}

// Membership owns this node's heartbeat and a cached view of every other
// node's last-known membership record.
type Membership struct {
	store objstore.Store
	self  model.Member

	mu     sync.RWMutex
	others map[string]model.Member

	stop chan struct{}
}

// NewMembership returns a Membership for self, ready to start
// heartbeating. Nothing is written to .stratum/nodes/ until the first
// heartbeat (Start).
func NewMembership(store objstore.Store, nodeID string, role model.NodeRole, domainName string, port int) *Membership {
	now := time.Now().UTC()
	return &Membership{
		store: store,
		self: model.Member{
			NodeID:        nodeID,
			Role:          role,
			DomainName:    domainName,
			Port:          port,
			StartedAt:     now,
			LastHeartbeat: now,
		},
		others: make(map[string]model.Member),
		stop:   make(chan struct{}),
	}
}

// Self returns this node's own membership record.
func (m *Membership) Self() model.Member {
	return m.self
}

// Start writes an initial heartbeat and then refreshes on
// model.HeartbeatInterval until the context is cancelled or Stop is called.
func (m *Membership) Start(ctx context.Context) error {
	if err := m.heartbeat(ctx); err != nil {
		return err
	}
	go m.loop(ctx)
	return nil
}

func (m *Membership) loop(ctx context.Context) {
	ticker := time.NewTicker(model.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			if err := m.heartbeat(ctx); err != nil {
				continue
			}
			_ = m.Refresh(ctx)
		}
	}
}

// Stop ends the heartbeat loop. The node's record is left in place; it
// will be treated as expired by peers once model.NodeExpiry elapses.
func (m *Membership) Stop() {
	close(m.stop)
}

func (m *Membership) heartbeat(ctx context.Context) error {
	m.mu.Lock()
	m.self.LastHeartbeat = time.Now().UTC()
	data, err := json.Marshal(m.self)
	m.mu.Unlock()
	if err != nil {
		return apperrors.NewClusterError(apperrors.CodeNodeUnreachable, "failed to marshal membership record", err)
	}
	if err := m.store.Put(ctx, nodeKey(m.self.NodeID), data); err != nil {
		return apperrors.NewObjectStoreError(apperrors.CodeObjectStoreTransient, "failed to write heartbeat", err)
	}
	return nil
}

// Refresh lists every node record under .stratum/nodes/ and updates the
// local cache, dropping records whose heartbeat is older than
// model.NodeExpiry.
func (m *Membership) Refresh(ctx context.Context) error {
	lister, err := m.store.List(ctx, nodesPrefix)
	if err != nil {
		return err
	}
	keys, err := objstore.Drain(lister)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	live := make(map[string]model.Member, len(keys))
	for _, key := range keys {
		data, err := m.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec model.Member
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.NodeID == m.self.NodeID {
			continue
		}
		if rec.Expired(now) {
			continue
		}
		live[rec.NodeID] = rec
	}

	m.mu.Lock()
	m.others = live
	m.mu.Unlock()
	return nil
}

// Members returns every cached live peer plus self.
func (m *Membership) Members() []model.Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Member, 0, len(m.others)+1)
	out = append(out, m.self)
	for _, rec := range m.others {
		out = append(out, rec)
	}
	return out
}

// LiveIngestors returns cached peers (excluding self) with role ingestor
// or all.
func (m *Membership) LiveIngestors() []model.Member {
	return m.filterRole(model.RoleIngestor, model.RoleAll)
}

// LiveQueriers returns cached peers (excluding self) with role querier
// or all.
func (m *Membership) LiveQueriers() []model.Member {
	return m.filterRole(model.RoleQuerier, model.RoleAll)
}

func (m *Membership) filterRole(roles ...model.NodeRole) []model.Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Member
	for _, rec := range m.others {
		for _, r := range roles {
			if rec.Role == r {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}
