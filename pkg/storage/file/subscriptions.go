package file

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

const subscriptionsFileName = "subscriptions.json"

// PersistedSubscription records enough about a subscriber to log session
// recovery progress after a restart: who to expect back, not how to
// resume the subscription itself (the controller re-subscribes once its
// CASE session is re-established).
type PersistedSubscription struct {
	FabricIndex    uint8  `json:"fabric_idx"`
	PeerNodeID     uint64 `json:"peer_node_id"`
	SubscriptionID uint32 `json:"subscription_id"`
	MinIntervalS   uint16 `json:"min_int_secs"`
	MaxIntervalS   uint16 `json:"max_int_secs"`
}

type persistedSubscriptions struct {
	Subscriptions []PersistedSubscription `json:"subscriptions"`
}

// SubscriptionStore tracks active subscriptions so a freshly restarted
// bridge can log which controllers it expects to reconnect, mirroring
// original_source/src/matter/subscription_persistence.rs's session
// recovery ledger.
type SubscriptionStore struct {
	mu    sync.RWMutex
	path  string
	state persistedSubscriptions
}

// NewSubscriptionStore creates a file-backed SubscriptionStore rooted at
// dir, loading any previously persisted subscriptions.
func NewSubscriptionStore(dir string) *SubscriptionStore {
	s := &SubscriptionStore{path: filepath.Join(dir, subscriptionsFileName)}
	s.load()
	return s
}

func (s *SubscriptionStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, &s.state)
}

func (s *SubscriptionStore) persistLocked() {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return
	}
	_ = writeFileAtomic(s.path, data)
}

// All returns a copy of every persisted subscription.
func (s *SubscriptionStore) All() []PersistedSubscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]PersistedSubscription, len(s.state.Subscriptions))
	copy(result, s.state.Subscriptions)
	return result
}

// Add records a subscription, replacing any existing entry for the same
// fabric/peer pair. No-op (and no write) if an identical entry already
// exists.
func (s *SubscriptionStore) Add(sub PersistedSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.state.Subscriptions {
		if existing.FabricIndex == sub.FabricIndex && existing.PeerNodeID == sub.PeerNodeID {
			return
		}
	}

	filtered := s.state.Subscriptions[:0:0]
	for _, existing := range s.state.Subscriptions {
		if existing.FabricIndex != sub.FabricIndex || existing.PeerNodeID != sub.PeerNodeID {
			filtered = append(filtered, existing)
		}
	}
	s.state.Subscriptions = append(filtered, sub)
	s.persistLocked()
}

// Remove deletes any subscription matching the given fabric/peer pair.
func (s *SubscriptionStore) Remove(fabricIndex uint8, peerNodeID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := s.state.Subscriptions[:0:0]
	for _, existing := range s.state.Subscriptions {
		if existing.FabricIndex != fabricIndex || existing.PeerNodeID != peerNodeID {
			filtered = append(filtered, existing)
		}
	}
	s.state.Subscriptions = filtered
	s.persistLocked()
}

// HasSubscriptions reports whether any subscription is currently tracked.
func (s *SubscriptionStore) HasSubscriptions() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Subscriptions) > 0
}
