// Package baseline stores the accepted reference text for each watched
// policy. A baseline only moves forward through Swap, which compares the
// caller's expected version against the stored one before replacing it.
package baseline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	kerrors "github.com/harunnryd/kanshi/internal/errors"

	"github.com/natefinch/atomic"
)

// Baseline is the accepted text for one policy. Version is the hex
// sha256 of Text and doubles as the compare-and-swap token.
type Baseline struct {
	OwnerKey  string    `json:"owner_key"`
	Text      string    `json:"text"`
	Version   string    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a file-backed baseline store, one JSON file per owner key.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create baselines dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Version returns the hex sha256 of the given text.
func Version(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Load returns the current baseline for an owner key.
func (s *Store) Load(ownerKey string) (*Baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ownerKey)
}

func (s *Store) load(ownerKey string) (*Baseline, error) {
	data, err := os.ReadFile(s.path(ownerKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kerrors.NotFound(fmt.Sprintf("no baseline for %q", ownerKey))
		}
		return nil, err
	}

	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("corrupt baseline for %q: %w", ownerKey, err)
	}
	return &b, nil
}

// Init creates the first baseline for an owner key. Fails if one exists.
func (s *Store) Init(ownerKey, text string) (*Baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.load(ownerKey); err == nil {
		return nil, fmt.Errorf("baseline for %q already exists: %w", ownerKey, kerrors.ErrConflict)
	}

	return s.write(ownerKey, text)
}

// Swap replaces the baseline only if the stored version still matches
// expectedVersion. The previous baseline is kept as a backup file.
func (s *Store) Swap(ownerKey, expectedVersion, newText string) (*Baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(ownerKey)
	if err != nil {
		return nil, err
	}

	if current.Version != expectedVersion {
		return nil, fmt.Errorf("baseline for %q moved from %s: %w",
			ownerKey, truncateVersion(expectedVersion), kerrors.ErrConflict)
	}

	if err := s.backup(ownerKey, current); err != nil {
		return nil, fmt.Errorf("failed to back up baseline: %w", err)
	}

	return s.write(ownerKey, newText)
}

// LoadBackup returns the previous baseline saved by the last Swap.
func (s *Store) LoadBackup(ownerKey string) (*Baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.backupPath(ownerKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kerrors.NotFound(fmt.Sprintf("no baseline backup for %q", ownerKey))
		}
		return nil, err
	}

	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("corrupt baseline backup for %q: %w", ownerKey, err)
	}
	return &b, nil
}

func (s *Store) write(ownerKey, text string) (*Baseline, error) {
	b := Baseline{
		OwnerKey:  ownerKey,
		Text:      text,
		Version:   Version(text),
		UpdatedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := atomic.WriteFile(s.path(ownerKey), bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to write baseline: %w", err)
	}
	return &b, nil
}

func (s *Store) backup(ownerKey string, b *Baseline) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.backupPath(ownerKey), bytes.NewReader(data))
}

func (s *Store) path(ownerKey string) string {
	return filepath.Join(s.dir, ownerKey+".json")
}

func (s *Store) backupPath(ownerKey string) string {
	return filepath.Join(s.dir, ownerKey+".backup.json")
}

func truncateVersion(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return v
}
