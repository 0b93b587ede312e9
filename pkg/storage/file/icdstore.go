package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nodebridge/matter-bridge/pkg/clusters/icdmgmt"
)

const icdStateFileName = "icd_state.json"

// icdState is the persisted ICD Management counter, mirroring
// original_source/src/matter/icd.rs's IcdState. Registered check-in
// clients are not persisted across restarts in the original either, so
// they are kept in memory only here.
type icdState struct {
	ICDCounter uint32 `json:"icd_counter"`
}

// ICDStore is a file-backed icdmgmt.Store: the monotonic counter
// persists across restarts, registered clients live in memory for the
// process lifetime.
type ICDStore struct {
	mu    sync.Mutex
	path  string
	state icdState

	clients map[clientKey]icdmgmt.RegisteredClient
}

type clientKey struct {
	fabricIndex   uint8
	checkInNodeID uint64
}

// NewICDStore creates a file-backed ICDStore rooted at dir, loading any
// previously persisted counter.
func NewICDStore(dir string) (*ICDStore, error) {
	s := &ICDStore{
		path:    filepath.Join(dir, icdStateFileName),
		clients: make(map[clientKey]icdmgmt.RegisteredClient),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ICDStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("file: read icd state: %w", err)
	}
	return json.Unmarshal(data, &s.state)
}

func (s *ICDStore) persistLocked() {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return
	}
	_ = writeFileAtomic(s.path, data)
}

// ICDCounter implements icdmgmt.Store.
func (s *ICDStore) ICDCounter() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ICDCounter
}

// NextCounter implements icdmgmt.Store.
func (s *ICDStore) NextCounter() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ICDCounter++
	s.persistLocked()
	return s.state.ICDCounter
}

// RegisteredClients implements icdmgmt.Store.
func (s *ICDStore) RegisteredClients(fabricIndex uint8) []icdmgmt.RegisteredClient {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []icdmgmt.RegisteredClient
	for k, c := range s.clients {
		if k.fabricIndex == fabricIndex {
			result = append(result, c)
		}
	}
	return result
}

// RegisterClient implements icdmgmt.Store.
func (s *ICDStore) RegisterClient(client icdmgmt.RegisteredClient) uint32 {
	s.mu.Lock()
	key := clientKey{fabricIndex: client.FabricIndex, checkInNodeID: client.CheckInNodeID}
	s.clients[key] = client
	s.state.ICDCounter++
	counter := s.state.ICDCounter
	s.persistLocked()
	s.mu.Unlock()
	return counter
}

// UnregisterClient implements icdmgmt.Store.
func (s *ICDStore) UnregisterClient(fabricIndex uint8, checkInNodeID uint64, verificationKey *[16]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := clientKey{fabricIndex: fabricIndex, checkInNodeID: checkInNodeID}
	existing, ok := s.clients[key]
	if !ok {
		return false
	}
	if verificationKey != nil && existing.VerificationKey != nil && *existing.VerificationKey != *verificationKey {
		return false
	}
	delete(s.clients, key)
	return true
}

// Verify ICDStore implements icdmgmt.Store.
var _ icdmgmt.Store = (*ICDStore)(nil)
