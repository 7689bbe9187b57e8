// Package snapshot persists the raw documents captured at each pipeline
// stage. Records are append-only: one JSON file per capture, named by a
// ULID so lexical order matches capture order.
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	kerrors "github.com/harunnryd/kanshi/internal/errors"

	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
)

const (
	StageMonitor   = "monitor"
	StageAuthorize = "authorize"
)

// Record is one captured document.
type Record struct {
	ID          string            `json:"id"`
	Stage       string            `json:"stage"`
	OwnerKey    string            `json:"owner_key"`
	CreatedAt   time.Time         `json:"created_at"`
	ContentHash string            `json:"content_hash"`
	RawText     string            `json:"raw_text"`
	Summary     string            `json:"summary,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Store is a file-backed snapshot store rooted at a directory.
type Store struct {
	dir string

	mu       sync.RWMutex
	retained map[string]map[string]struct{} // runID -> record IDs held in flight
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots dir: %w", err)
	}
	return &Store{
		dir:      dir,
		retained: make(map[string]map[string]struct{}),
	}, nil
}

// HashContent returns the hex sha256 of the given text.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Put captures a new record. ID, CreatedAt, and ContentHash are assigned
// here; the caller provides stage, owner, text, and optional metadata.
func (s *Store) Put(rec Record) (*Record, error) {
	if rec.OwnerKey == "" {
		return nil, kerrors.InvalidInput("snapshot owner_key is required")
	}
	if rec.Stage != StageMonitor && rec.Stage != StageAuthorize {
		return nil, kerrors.InvalidInput(fmt.Sprintf("unknown snapshot stage %q", rec.Stage))
	}

	rec.ID = ulid.Make().String()
	rec.CreatedAt = time.Now().UTC()
	rec.ContentHash = HashContent(rec.RawText)

	dir := s.stageDir(rec.OwnerKey, rec.Stage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, rec.ID+".json")
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}

	return &rec, nil
}

// Get loads a record by owner, stage, and ID.
func (s *Store) Get(ownerKey, stage, id string) (*Record, error) {
	path := filepath.Join(s.stageDir(ownerKey, stage), id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kerrors.NotFound(fmt.Sprintf("snapshot %s/%s/%s", ownerKey, stage, id))
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt snapshot %s: %w", path, err)
	}
	return &rec, nil
}

// List returns all records for an owner and stage, oldest first.
func (s *Store) List(ownerKey, stage string) ([]Record, error) {
	dir := s.stageDir(ownerKey, stage)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ownerKey, stage, id)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Latest returns the most recent record for an owner and stage.
func (s *Store) Latest(ownerKey, stage string) (*Record, error) {
	records, err := s.List(ownerKey, stage)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, kerrors.NotFound(fmt.Sprintf("no snapshots for %s/%s", ownerKey, stage))
	}
	return &records[len(records)-1], nil
}

// Retain marks records as in flight for a run. Retained records survive
// pruning until the run releases them.
func (s *Store) Retain(runID string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.retained[runID]
	if !ok {
		held = make(map[string]struct{}, len(ids))
		s.retained[runID] = held
	}
	for _, id := range ids {
		held[id] = struct{}{}
	}
}

// Release drops all in-flight marks for a run.
func (s *Store) Release(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retained, runID)
}

func (s *Store) isRetained(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, held := range s.retained {
		if _, ok := held[id]; ok {
			return true
		}
	}
	return false
}

// DeleteOlderThan removes records created before the cutoff, skipping any
// record currently retained by a run. Returns the number removed.
func (s *Store) DeleteOlderThan(ownerKey, stage string, cutoff time.Time) (int, error) {
	records, err := s.List(ownerKey, stage)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, rec := range records {
		if !rec.CreatedAt.Before(cutoff) || s.isRetained(rec.ID) {
			continue
		}
		if err := s.remove(ownerKey, stage, rec.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// KeepLastN removes all but the newest n records, skipping retained ones.
// Returns the number removed.
func (s *Store) KeepLastN(ownerKey, stage string, n int) (int, error) {
	if n < 0 {
		return 0, kerrors.InvalidInput("keep count must be non-negative")
	}

	records, err := s.List(ownerKey, stage)
	if err != nil {
		return 0, err
	}
	if len(records) <= n {
		return 0, nil
	}

	removed := 0
	for _, rec := range records[:len(records)-n] {
		if s.isRetained(rec.ID) {
			continue
		}
		if err := s.remove(ownerKey, stage, rec.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Owners lists every owner key with at least one snapshot.
func (s *Store) Owners() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	owners := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			owners = append(owners, e.Name())
		}
	}
	sort.Strings(owners)
	return owners, nil
}

func (s *Store) remove(ownerKey, stage, id string) error {
	return os.Remove(filepath.Join(s.stageDir(ownerKey, stage), id+".json"))
}

func (s *Store) stageDir(ownerKey, stage string) string {
	return filepath.Join(s.dir, ownerKey, stage)
}
