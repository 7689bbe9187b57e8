package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// Delivery statuses. Transitions are forward-only:
// pending -> sent | failed | dry_run.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusDryRun  = "dry_run"
)

// NotificationRecord tracks one (change, recipient) delivery.
type NotificationRecord struct {
	ID          string     `json:"id"`
	ChangeID    string     `json:"change_id"`
	Recipient   string     `json:"recipient"`
	Subject     string     `json:"subject"`
	Criticality string     `json:"criticality"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

// Stats summarizes delivery history.
type Stats struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByCriticality map[string]int `json:"by_criticality"`
}

// History is the append-style notification log, persisted as one atomic
// JSON file. A later delivery attempt for a pair gets its own record
// and the superseded one stays in the log; the dedup index always
// points at the newest. A record that reached "sent" is never
// downgraded.
type History struct {
	path string

	mu      sync.RWMutex
	records []NotificationRecord
	index   map[string]int // dedup key -> position in records
}

func dedupKey(changeID, recipient string) string {
	return changeID + "|" + recipient
}

func NewHistory(path string) (*History, error) {
	h := &History{
		path:  path,
		index: make(map[string]int),
	}
	if err := h.load(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *History) load() error {
	data, err := os.ReadFile(h.path)
	if os.IsNotExist(err) {
		return h.save()
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &h.records); err != nil {
		return fmt.Errorf("corrupt notification history: %w", err)
	}
	for i, rec := range h.records {
		h.index[dedupKey(rec.ChangeID, rec.Recipient)] = i
	}
	return nil
}

func (h *History) save() error {
	records := h.records
	if records == nil {
		records = []NotificationRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(h.path, bytes.NewReader(data))
}

// Lookup returns the record for a (change, recipient) pair, if any.
func (h *History) Lookup(changeID, recipient string) (*NotificationRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	i, ok := h.index[dedupKey(changeID, recipient)]
	if !ok {
		return nil, false
	}
	rec := h.records[i]
	return &rec, true
}

// Upsert stores a record and persists the history. The same record ID
// is updated in place; a new ID for an already-known pair is appended,
// leaving the earlier attempt in the log for audit.
func (h *History) Upsert(rec NotificationRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := dedupKey(rec.ChangeID, rec.Recipient)
	if i, ok := h.index[key]; ok && h.records[i].ID == rec.ID {
		h.records[i] = rec
		return h.save()
	}
	h.index[key] = len(h.records)
	h.records = append(h.records, rec)
	return h.save()
}

// All returns a copy of the full history in insertion order.
func (h *History) All() []NotificationRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]NotificationRecord, len(h.records))
	copy(out, h.records)
	return out
}

// GetStats counts records by status and criticality.
func (h *History) GetStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		Total:         len(h.records),
		ByStatus:      make(map[string]int),
		ByCriticality: make(map[string]int),
	}
	for _, rec := range h.records {
		stats.ByStatus[rec.Status]++
		if rec.Criticality != "" {
			stats.ByCriticality[rec.Criticality]++
		}
	}
	return stats
}

// ExportLog returns the full history serialized as indented JSON.
func (h *History) ExportLog() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	records := h.records
	if records == nil {
		records = []NotificationRecord{}
	}
	return json.MarshalIndent(records, "", "  ")
}
