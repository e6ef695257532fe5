// Package requests persists the pending media-request queue as a JSON
// snapshot file. A single mutex serializes every mutation around the
// in-memory list that mirrors the file; the list is lazy-loaded on
// first access and a load failure degrades to an empty queue instead of
// propagating. Business-rule rejections (duplicate, quota) are returned
// as a discriminated AddResult, never as errors.
package requests

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-telejelly-backend/internal/domain"
)

// AddResult is the outcome of a TryAdd attempt.
type AddResult int

// TryAdd outcomes.
const (
	// Added means the request was appended and persisted.
	Added AddResult = iota
	// Duplicate means the external id is already queued.
	Duplicate
	// UserLimitReached means the requester hit the per-user cap.
	UserLimitReached
	// AddError means persistence failed; the entry stays in memory and
	// will be retried with the next successful write.
	AddError
)

// String returns a short name for the result.
func (r AddResult) String() string {
	switch r {
	case Added:
		return "added"
	case Duplicate:
		return "duplicate"
	case UserLimitReached:
		return "user_limit_reached"
	case AddError:
		return "error"
	default:
		return "unknown"
	}
}

// DefaultMaxPerUser is the per-user cap applied when none is configured.
const DefaultMaxPerUser = 5

// DefaultFileName is the snapshot file name inside the data dir.
const DefaultFileName = "requests.json"

// FilePath returns the queue snapshot path for a data directory.
func FilePath(dataDir string) string {
	return filepath.Join(dataDir, DefaultFileName)
}

// Store is the file-backed request queue.
type Store struct {
	mu         sync.Mutex
	path       string
	maxPerUser int
	loaded     bool
	entries    []domain.MediaRequest
	now        func() time.Time
	log        zerolog.Logger
}

// New creates a store over the snapshot file at path. maxPerUser <= 0
// disables the per-user cap.
func New(path string, maxPerUser int, log zerolog.Logger) *Store {
	return &Store{
		path:       path,
		maxPerUser: maxPerUser,
		now:        time.Now,
		log:        log.With().Str("component", "requests").Logger(),
	}
}

// List returns a copy of the queue, newest first.
func (s *Store) List() []domain.MediaRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	out := append([]domain.MediaRequest(nil), s.entries...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAtUtc.After(out[j].RequestedAtUtc)
	})
	return out
}

// Count returns the number of queued requests.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	return len(s.entries)
}

// TryAdd appends req after enforcing, in order, the per-user cap and
// the global duplicate check on the external id.
func (s *Store) TryAdd(req domain.MediaRequest) AddResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	req = req.Normalize(s.now().UTC())
	if req.ExternalID == "" {
		return AddError
	}

	if s.maxPerUser > 0 {
		count := 0
		for _, e := range s.entries {
			if e.RequesterID == req.RequesterID {
				count++
			}
		}
		if count >= s.maxPerUser {
			return UserLimitReached
		}
	}

	for _, e := range s.entries {
		if strings.EqualFold(e.ExternalID, req.ExternalID) {
			return Duplicate
		}
	}

	s.entries = append(s.entries, req)
	if err := s.persistLocked(); err != nil {
		return AddError
	}
	return Added
}

// Remove deletes the entry with the given external id. Idempotent: a
// missing id is a no-op and does not touch the file.
func (s *Store) Remove(externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	kept := s.entries[:0]
	removed := false
	for _, e := range s.entries {
		if strings.EqualFold(e.ExternalID, externalID) {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	if !removed {
		return nil
	}
	return s.persistLocked()
}

// Replace swaps the whole queue (config-page save). Entries without an
// external id are dropped; the rest are normalized.
func (s *Store) Replace(entries []domain.MediaRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true

	now := s.now().UTC()
	next := make([]domain.MediaRequest, 0, len(entries))
	for _, e := range entries {
		e = e.Normalize(now)
		if e.ExternalID == "" {
			continue
		}
		next = append(next, e)
	}
	s.entries = next
	return s.persistLocked()
}

// ensureLoadedLocked lazily reads the snapshot file. Any failure logs
// and leaves the queue empty; the next successful persist rewrites the
// file from memory.
func (s *Store) ensureLoadedLocked() {
	if s.loaded {
		return
	}
	s.loaded = true

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("read request snapshot failed; starting empty")
		return
	}
	var entries []domain.MediaRequest
	if err := json.Unmarshal(raw, &entries); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("parse request snapshot failed; starting empty")
		return
	}
	s.entries = entries
}

// persistLocked rewrites the full snapshot. The in-memory list remains
// the source of truth when the write fails.
func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode requests: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		s.log.Error().Err(err).Msg("persist requests failed; in-memory state retained")
		return fmt.Errorf("write requests: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Error().Err(err).Msg("persist requests failed; in-memory state retained")
		return fmt.Errorf("replace requests: %w", err)
	}
	return nil
}
