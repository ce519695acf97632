// Package dlq spills error records that could not be written to the store
// into a local directory, one JSON file per record.
package dlq

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/relic-hub/relic/common/models"
)

const filePrefix = "error_"

// Entry is one spilled error record with the reason it could not be stored.
type Entry struct {
	SpilledAt time.Time           `json:"spilled_at"`
	Record    *models.ErrorRecord `json:"record"`
	Cause     string              `json:"cause"`
}

// Queue writes entries under dir. A nil *Queue accepts and drops writes.
type Queue struct {
	dir     string
	mu      sync.Mutex
	written uint64
}

// NewQueue creates dir if needed.
func NewQueue(dir string) (*Queue, error) {
	if dir == "" {
		return nil, fmt.Errorf("dlq directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &Queue{dir: dir}, nil
}

// Dir returns the spill directory.
func (q *Queue) Dir() string {
	if q == nil {
		return ""
	}
	return q.dir
}

// Write spills rec. cause is why the store rejected it.
func (q *Queue) Write(rec *models.ErrorRecord, cause error) error {
	if q == nil {
		return nil
	}
	entry := Entry{SpilledAt: time.Now().UTC(), Record: rec}
	if cause != nil {
		entry.Cause = cause.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	name := fmt.Sprintf("%s%d_%s.json", filePrefix, entry.SpilledAt.UnixNano(), rec.ID)
	if err := os.WriteFile(filepath.Join(q.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}
	q.written++
	return nil
}

// Written reports how many entries this process has spilled.
func (q *Queue) Written() uint64 {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.written
}

func (q *Queue) files() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	// names embed the spill time, so lexical order is close to spill order
	sort.Strings(names)
	return names, nil
}

// List returns up to limit entries, oldest first. limit <= 0 returns all.
// Unreadable files are skipped.
func (q *Queue) List(limit int) ([]Entry, error) {
	if q == nil {
		return nil, fmt.Errorf("dlq not enabled")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.files()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, name := range names {
		if limit > 0 && len(out) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(q.dir, name))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil || e.Record == nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Remove deletes the entry for the error record id.
func (q *Queue) Remove(id string) error {
	if q == nil {
		return fmt.Errorf("dlq not enabled")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(q.dir, filePrefix+"*_"+id+".json"))
	if err != nil {
		return fmt.Errorf("search dlq files: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("dlq entry %s not found", id)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return fmt.Errorf("delete dlq file: %w", err)
		}
	}
	return nil
}

// Purge deletes every entry and returns how many were removed.
func (q *Queue) Purge() (int, error) {
	if q == nil {
		return 0, fmt.Errorf("dlq not enabled")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.files()
	if err != nil {
		return 0, err
	}
	for i, name := range names {
		if err := os.Remove(filepath.Join(q.dir, name)); err != nil {
			return i, fmt.Errorf("delete dlq file: %w", err)
		}
	}
	return len(names), nil
}
