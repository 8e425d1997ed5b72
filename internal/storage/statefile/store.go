// Package statefile persists the sync ledger as a single JSON file with
// atomic replace semantics, so a crash mid-run never loses a recorded
// publish and never leaves a half-written file behind.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kelp/bluemastodon/internal/domain"
)

type fileState struct {
	SyncedIDs []string                     `json:"synced_ids"`
	Records   map[string]domain.SyncRecord `json:"records"`
}

// Store is the durable record of which source posts have been synced.
// It is owned and mutated by the orchestrator only; adapters never write
// to it. Access is single-threaded by design.
type Store struct {
	path      string
	retention time.Duration
	logger    *slog.Logger

	synced  map[string]struct{}
	records map[string]domain.SyncRecord
}

// New creates a store backed by the file at path. Records older than
// retention are pruned on save; the synced-ID set itself is kept.
func New(path string, retention time.Duration, logger *slog.Logger) *Store {
	return &Store{
		path:      path,
		retention: retention,
		logger:    logger.With("state_file", path),
		synced:    make(map[string]struct{}),
		records:   make(map[string]domain.SyncRecord),
	}
}

// Load reads the persisted state. A missing, unreadable, or corrupt file is
// logged and treated as empty state; it is never fatal.
func (s *Store) Load() error {
	s.synced = make(map[string]struct{})
	s.records = make(map[string]domain.SyncRecord)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no previous sync state, starting empty")
		return nil
	}
	if err != nil {
		s.logger.Warn("sync state unreadable, starting empty", "error", err)
		return nil
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("sync state corrupt, starting empty", "error", err)
		return nil
	}

	for _, id := range st.SyncedIDs {
		s.synced[id] = struct{}{}
	}
	for id, rec := range st.Records {
		s.records[id] = rec
		s.synced[id] = struct{}{}
	}

	s.logger.Info("loaded sync state",
		"synced_ids", len(s.synced),
		"records", len(s.records),
	)
	return nil
}

// IsSynced reports whether the source post has already been synced.
func (s *Store) IsSynced(sourceID string) bool {
	_, ok := s.synced[sourceID]
	return ok
}

// ParentFor returns the destination post ID a source post was synced as,
// for threading replies under an already-synced parent.
func (s *Store) ParentFor(sourceID string) (string, bool) {
	rec, ok := s.records[sourceID]
	if !ok || rec.TargetID == "" {
		return "", false
	}
	return rec.TargetID, true
}

// MarkSynced records a successful publish and immediately writes the state
// to disk. This is the only place state is written, so a crash after any
// publish still reflects that publish on the next run.
func (s *Store) MarkSynced(rec domain.SyncRecord) error {
	s.synced[rec.SourceID] = struct{}{}
	s.records[rec.SourceID] = rec

	if err := s.save(); err != nil {
		return &domain.StateIOError{Path: s.path, Err: err}
	}
	return nil
}

func (s *Store) save() error {
	s.prune()

	ids := make([]string, 0, len(s.synced))
	for id := range s.synced {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := json.MarshalIndent(fileState{
		SyncedIDs: ids,
		Records:   s.records,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	// Unique temp file in the same directory, then rename over the old
	// state so readers never observe a partial write.
	tmp := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (s *Store) prune() {
	if s.retention <= 0 {
		return
	}

	cutoff := time.Now().Add(-s.retention)
	pruned := 0
	for id, rec := range s.records {
		if rec.SyncedAt.Before(cutoff) {
			delete(s.records, id)
			pruned++
		}
	}
	if pruned > 0 {
		s.logger.Debug("pruned old sync records", "pruned", pruned)
	}
}
