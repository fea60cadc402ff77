package delivery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apm-auto/coordination-core/platform"
)

func statePath(dir, agentID string) string {
	return filepath.Join(dir, agentID+"-delivery-state.json")
}

// loadSnapshot reads the persisted delivery-state snapshot, returning an
// empty snapshot if the file does not yet exist.
func loadSnapshot(dir, agentID string) (*snapshot, error) {
	data, err := os.ReadFile(statePath(dir, agentID))
	if os.IsNotExist(err) {
		return &snapshot{Deliveries: make(map[string]*State)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delivery: reading state snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("delivery: parsing state snapshot: %w", err)
	}
	if snap.Deliveries == nil {
		snap.Deliveries = make(map[string]*State)
	}
	return &snap, nil
}

// saveSnapshot writes the current state map atomically (§4.5 Persistence).
func saveSnapshot(dir, agentID string, states map[string]*State) error {
	snap := snapshot{Deliveries: states, LastUpdated: time.Now()}
	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("delivery: marshaling state snapshot: %w", err)
	}
	return platform.AtomicWriteFile(statePath(dir, agentID), data, 0o644)
}
