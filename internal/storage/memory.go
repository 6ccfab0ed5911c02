package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"availtrack/internal/models"
)

// MemoryStore keeps timelines in memory, optionally snapshotting them to a
// JSON file after every write.
type MemoryStore struct {
	mu        sync.RWMutex
	path      string
	timelines map[string][]models.Interval
}

// NewMemoryStore creates an in-memory store without persistence.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{timelines: make(map[string][]models.Interval)}
}

// NewFileStore creates a memory store backed by a JSON snapshot at path and
// loads existing timelines if present.
func NewFileStore(path string) (*MemoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}

	s := &MemoryStore{path: path, timelines: make(map[string][]models.Interval)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Intervals returns a copy of the resource's timeline.
func (s *MemoryStore) Intervals(_ context.Context, resourceID string) ([]models.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.timelines[resourceID]
	if len(stored) == 0 {
		return nil, nil
	}
	copied := make([]models.Interval, len(stored))
	copy(copied, stored)
	return copied, nil
}

// IntervalsInRange returns the intervals intersecting [start, end).
func (s *MemoryStore) IntervalsInRange(_ context.Context, resourceID string, start, end time.Time) ([]models.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.timelines[resourceID]
	idx := sort.Search(len(stored), func(i int) bool {
		return stored[i].Open() || stored[i].End.After(start)
	})
	var out []models.Interval
	for _, iv := range stored[idx:] {
		if !intersects(iv, start, end) {
			break
		}
		out = append(out, iv)
	}
	return out, nil
}

// Replace swaps in a new timeline for the resource and persists it.
func (s *MemoryStore) Replace(_ context.Context, resourceID string, intervals []models.Interval) error {
	copied := make([]models.Interval, len(intervals))
	copy(copied, intervals)

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.timelines[resourceID]
	if len(copied) == 0 {
		delete(s.timelines, resourceID)
	} else {
		s.timelines[resourceID] = copied
	}
	if err := s.persist(); err != nil {
		if existed {
			s.timelines[resourceID] = previous
		} else {
			delete(s.timelines, resourceID)
		}
		return err
	}
	return nil
}

// ResourceIDs lists every resource that has a timeline, sorted.
func (s *MemoryStore) ResourceIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.timelines))
	for id := range s.timelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op; every write is already persisted.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read timelines: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var snapshot map[string][]models.Interval
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("parse timelines: %w", err)
	}
	for id, intervals := range snapshot {
		if len(intervals) > 0 {
			s.timelines[id] = intervals
		}
	}
	return nil
}

func (s *MemoryStore) persist() error {
	if s.path == "" {
		return nil
	}
	bytes, err := json.MarshalIndent(s.timelines, "", "  ")
	if err != nil {
		return fmt.Errorf("encode timelines: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return fmt.Errorf("write temp timelines: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace timelines file: %w", err)
	}
	return nil
}
