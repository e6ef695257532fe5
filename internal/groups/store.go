// Package groups owns the shared Configuration aggregate: the whitelist
// groups, their chat links, and the bot identity. A single mutex guards
// every read-mutate-persist sequence so concurrent writers (bot loop,
// command handlers, config page) can never lose updates to the persisted
// file. Mutations persist before returning, so an acknowledgment sent to
// a chat after a mutator returns is always backed by durable state.
package groups

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-telejelly-backend/internal/domain"
)

// Store-level errors.
var (
	// ErrGroupNotFound is returned when no group has the requested name.
	ErrGroupNotFound = errors.New("group not found")

	// ErrChatNotLinked is returned when a chat has no linked group.
	ErrChatNotLinked = errors.New("chat is not linked to a group")
)

// Saver persists a configuration snapshot. Implementations must be safe
// to call while the store mutex is held; they must not call back into
// the store.
type Saver func(domain.Configuration) error

// Store is the concurrency-safe holder of the Configuration aggregate.
type Store struct {
	mu   sync.Mutex
	cfg  domain.Configuration
	save Saver
	log  zerolog.Logger
}

// New wraps an initial configuration with the given persistence hook.
// A nil saver makes the store memory-only (used by tests).
func New(cfg domain.Configuration, save Saver, log zerolog.Logger) *Store {
	if save == nil {
		save = func(domain.Configuration) error { return nil }
	}
	return &Store{cfg: cfg, save: save, log: log.With().Str("component", "groups").Logger()}
}

// NewFileStore loads (or initializes) the XML configuration at path and
// returns a store that persists back to it atomically.
func NewFileStore(path string, log zerolog.Logger) (*Store, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, func(c domain.Configuration) error { return WriteFile(path, c) }, log), nil
}

// LoadFile reads the XML configuration at path. A missing file yields a
// zero configuration rather than an error, so first boot works without
// provisioning.
func LoadFile(path string) (domain.Configuration, error) {
	var cfg domain.Configuration
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read configuration: %w", err)
	}
	if err := xml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse configuration: %w", err)
	}
	return cfg, nil
}

// WriteFile serializes cfg as indented XML and renames it into place so
// a crash mid-write never truncates the live file.
func WriteFile(path string, cfg domain.Configuration) error {
	raw, err := xml.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append([]byte(xml.Header), raw...), 0o600); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace configuration: %w", err)
	}
	return nil
}

// DefaultFileName is the configuration file name inside the data dir.
const DefaultFileName = "telejelly.xml"

// FilePath returns the configuration path for a data directory.
func FilePath(dataDir string) string {
	return filepath.Join(dataDir, DefaultFileName)
}

// Snapshot returns a deep copy of the current configuration.
func (s *Store) Snapshot() domain.Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// Replace swaps in a whole new configuration (config-page save) and
// persists it.
func (s *Store) Replace(cfg domain.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg.Clone()
	if err := s.persistLocked(); err != nil {
		s.cfg = old
		return err
	}
	return nil
}

// Link binds chatID to the named group, overwriting any previous link
// on that group and clearing a stale link to the same chat elsewhere,
// so a chat is never linked to two groups at once.
func (s *Store) Link(chatID int64, groupName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.cfg.GroupByName(groupName)
	if target == nil {
		return ErrGroupNotFound
	}
	if prev := s.cfg.GroupByChat(chatID); prev != nil && prev != target {
		prev.Chat = nil
	}
	target.Chat = &domain.GroupChat{ChatID: chatID, SyncMemberNames: true, NotifyNewContent: true}
	return s.persistLocked()
}

// Unlink clears the link of the group bound to chatID and returns the
// group's name. ErrChatNotLinked when no group is bound.
func (s *Store) Unlink(chatID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.cfg.GroupByChat(chatID)
	if g == nil {
		return "", ErrChatNotLinked
	}
	g.Chat = nil
	return g.Name, s.persistLocked()
}

// AddMember whitelists handle in the group linked to chatID. The first
// return reports whether the list changed (false for a repeat join).
func (s *Store) AddMember(chatID int64, handle string) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.cfg.GroupByChat(chatID)
	if g == nil {
		return false, "", ErrChatNotLinked
	}
	if !g.AddMember(handle) {
		return false, g.Name, nil
	}
	return true, g.Name, s.persistLocked()
}

// RemoveMember removes handle from the whitelist of the group linked to
// chatID. The first return reports whether the list changed.
func (s *Store) RemoveMember(chatID int64, handle string) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.cfg.GroupByChat(chatID)
	if g == nil {
		return false, "", ErrChatNotLinked
	}
	if !g.RemoveMember(handle) {
		return false, g.Name, nil
	}
	return true, g.Name, s.persistLocked()
}

// AddMembers whitelists every handle in the group linked to chatID and
// returns the handles that were actually added.
func (s *Store) AddMembers(chatID int64, handles []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.cfg.GroupByChat(chatID)
	if g == nil {
		return nil, ErrChatNotLinked
	}
	var added []string
	for _, h := range handles {
		if g.AddMember(h) {
			added = append(added, h)
		}
	}
	if len(added) == 0 {
		return nil, nil
	}
	return added, s.persistLocked()
}

// AddMembersByName whitelists every handle in the named group, linked or
// not, and returns the handles that were actually added.
func (s *Store) AddMembersByName(groupName string, handles []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.cfg.GroupByName(groupName)
	if g == nil {
		return nil, ErrGroupNotFound
	}
	var added []string
	for _, h := range handles {
		if g.AddMember(h) {
			added = append(added, h)
		}
	}
	if len(added) == 0 {
		return nil, nil
	}
	return added, s.persistLocked()
}

// GroupNames returns the names of all configured groups.
func (s *Store) GroupNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.cfg.Groups))
	for i := range s.cfg.Groups {
		names = append(names, s.cfg.Groups[i].Name)
	}
	return names
}

// persistLocked saves the current configuration. Persistence failures
// are logged and returned; in-memory state stays authoritative until
// the next successful write.
func (s *Store) persistLocked() error {
	if err := s.save(s.cfg.Clone()); err != nil {
		s.log.Error().Err(err).Msg("persist configuration failed; in-memory state retained")
		return err
	}
	return nil
}
