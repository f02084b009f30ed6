package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type scheduleRecord struct {
	RepoUUID    string    `json:"repoUuid"`
	Cadence     int64     `json:"cadence"`
	NextRunDate time.Time `json:"nextRunDate"`
}

// ScheduleStore persists the schedule list to a flat file, fully replaced on
// every save so a process restart reloads the exact last state.
type ScheduleStore struct {
	mu   sync.Mutex
	path string
}

func NewScheduleStore(path string) *ScheduleStore {
	return &ScheduleStore{path: path}
}

// Save writes the whole schedule list atomically (temp file + rename).
func (s *ScheduleStore) Save(schedules []*Schedule) error {
	records := make([]scheduleRecord, 0, len(schedules))
	for _, sc := range schedules {
		records = append(records, scheduleRecord{
			RepoUUID:    sc.RepoUUID,
			Cadence:     sc.Cadence,
			NextRunDate: sc.NextRun.UTC(),
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].RepoUUID < records[j].RepoUUID })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schedules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create schedule dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write schedule file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace schedule file: %w", err)
	}
	return nil
}

// Load reads the schedule list back. A missing file is an empty list.
func (s *ScheduleStore) Load() ([]*Schedule, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read schedule file: %w", err)
	}

	var records []scheduleRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse schedule file %s: %w", s.path, err)
	}
	out := make([]*Schedule, 0, len(records))
	for _, r := range records {
		if r.RepoUUID == "" || r.Cadence <= 0 {
			continue
		}
		out = append(out, &Schedule{RepoUUID: r.RepoUUID, Cadence: r.Cadence, NextRun: r.NextRunDate})
	}
	return out, nil
}
