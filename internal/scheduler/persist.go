package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klend-bot/liquidator/internal/models"
)

// blockedCooldown is the minimum time a setup-state "blocked" entry for
// a given key stays in force before a fresh attempt is allowed.
const blockedCooldown = 60 * time.Second

// PlanQueue is the atomically-persisted, ranked set of execution plans,
// keyed by obligation address. All access goes through its mutex, with
// the lock scope spanning the full read-modify-write cycle.
type PlanQueue struct {
	mu   sync.Mutex
	path string
}

// NewPlanQueue returns a queue backed by path. The file is created on
// first write; reads against a missing file return an empty map.
func NewPlanQueue(path string) *PlanQueue {
	return &PlanQueue{path: path}
}

// Load reads the persisted plan set.
func (q *PlanQueue) Load() (map[string]*models.Plan, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadLocked()
}

func (q *PlanQueue) loadLocked() (map[string]*models.Plan, error) {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return make(map[string]*models.Plan), nil
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: read plan queue: %w", err)
	}
	if len(data) == 0 {
		return make(map[string]*models.Plan), nil
	}
	out := make(map[string]*models.Plan)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("scheduler: parse plan queue: %w", err)
	}
	return out, nil
}

// Replace overwrites the entire plan queue with plans, keyed by
// Plan.Key, atomically (write-temp-then-rename).
func (q *PlanQueue) Replace(plans []*models.Plan) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]*models.Plan, len(plans))
	for _, p := range plans {
		out[p.Key] = p
	}
	return q.writeLocked(out)
}

// RefreshSubset updates only the plans named by keys, leaving all other
// entries untouched. Deleted obligations (no longer scored) are left in
// place; callers that want eviction should use Replace instead.
func (q *PlanQueue) RefreshSubset(updates map[string]*models.Plan) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.loadLocked()
	if err != nil {
		return err
	}
	for k, v := range updates {
		current[k] = v
	}
	return q.writeLocked(current)
}

func (q *PlanQueue) writeLocked(plans map[string]*models.Plan) error {
	data, err := json.MarshalIndent(plans, "", "  ")
	if err != nil {
		return fmt.Errorf("scheduler: marshal plan queue: %w", err)
	}
	return atomicWriteFile(q.path, data)
}

// SetupStore is the atomically-persisted ATA-creation and blocked-key
// bookkeeping the executor consults before running setup.
type SetupStore struct {
	mu   sync.Mutex
	path string
}

// NewSetupStore returns a store backed by path.
func NewSetupStore(path string) *SetupStore {
	return &SetupStore{path: path}
}

func (s *SetupStore) loadLocked() (*models.SetupState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &models.SetupState{Blocked: map[string]models.BlockedEntry{}, AtasCreated: map[string]bool{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: read setup state: %w", err)
	}
	state := &models.SetupState{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, state); err != nil {
			return nil, fmt.Errorf("scheduler: parse setup state: %w", err)
		}
	}
	if state.Blocked == nil {
		state.Blocked = map[string]models.BlockedEntry{}
	}
	if state.AtasCreated == nil {
		state.AtasCreated = map[string]bool{}
	}
	return state, nil
}

func (s *SetupStore) writeLocked(state *models.SetupState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("scheduler: marshal setup state: %w", err)
	}
	return atomicWriteFile(s.path, data)
}

// IsBlocked reports whether key is currently inside its cooldown
// window, and the reason it was blocked.
func (s *SetupStore) IsBlocked(key string, now time.Time) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.loadLocked()
	if err != nil {
		return false, ""
	}
	entry, ok := state.Blocked[key]
	if !ok {
		return false, ""
	}
	if now.Sub(entry.Ts) > blockedCooldown {
		return false, ""
	}
	return true, entry.Reason
}

// MarkBlocked records a blocked setup attempt for key, replacing any
// prior entry.
func (s *SetupStore) MarkBlocked(key, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.loadLocked()
	if err != nil {
		return err
	}
	state.Blocked[key] = models.BlockedEntry{Reason: reason, Ts: now}
	return s.writeLocked(state)
}

// MarkAtaCreated records that the associated token account for mint
// has been created, so future ticks skip the setup instruction for it.
func (s *SetupStore) MarkAtaCreated(mint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.loadLocked()
	if err != nil {
		return err
	}
	state.AtasCreated[mint] = true
	return s.writeLocked(state)
}

// AtaCreated reports whether mint's ATA is already known to exist.
func (s *SetupStore) AtaCreated(mint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.loadLocked()
	if err != nil {
		return false
	}
	return state.AtasCreated[mint]
}

// atomicWriteFile writes data to a temp file in the same directory as
// path and renames it into place, so a crash mid-write never leaves a
// truncated file behind.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("scheduler: create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("scheduler: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("scheduler: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("scheduler: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("scheduler: rename into place: %w", err)
	}
	return nil
}
