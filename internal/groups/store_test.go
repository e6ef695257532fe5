package groups

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-telejelly-backend/internal/domain"
)

func testConfig() domain.Configuration {
	return domain.Configuration{
		BotToken:     "tok",
		BotUsername:  "TestBot",
		AdminHandles: []string{"root"},
		Groups: []domain.Group{
			{Name: "movies", MemberHandles: []string{"alice"}},
			{Name: "series", Chat: &domain.GroupChat{ChatID: -200, SyncMemberNames: true}},
		},
	}
}

// countingSaver records how many times the store persisted and keeps the
// last snapshot it was handed.
type countingSaver struct {
	calls int
	last  domain.Configuration
	err   error
}

func (c *countingSaver) save(cfg domain.Configuration) error {
	c.calls++
	c.last = cfg
	return c.err
}

func newTestStore(t *testing.T) (*Store, *countingSaver) {
	t.Helper()
	saver := &countingSaver{}
	return New(testConfig(), saver.save, zerolog.Nop()), saver
}

func TestLink_SetsChatAndPersists(t *testing.T) {
	s, saver := newTestStore(t)

	if err := s.Link(-100, "movies"); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if saver.calls != 1 {
		t.Fatalf("persist calls = %d, want 1", saver.calls)
	}

	g := saver.last.GroupByChat(-100)
	if g == nil || g.Name != "movies" {
		t.Fatalf("persisted link missing: %+v", saver.last)
	}
	if !g.Chat.SyncMemberNames || !g.Chat.NotifyNewContent {
		t.Fatalf("link defaults wrong: %+v", g.Chat)
	}
}

func TestLink_UnknownGroup(t *testing.T) {
	s, saver := newTestStore(t)

	if err := s.Link(-100, "nope"); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("Link unknown = %v, want ErrGroupNotFound", err)
	}
	if saver.calls != 0 {
		t.Fatalf("persist calls = %d, want 0", saver.calls)
	}
}

func TestLink_ChatNeverLinkedTwice(t *testing.T) {
	s, _ := newTestStore(t)

	// -200 starts linked to "series"; relinking it to "movies" must
	// clear the old link.
	if err := s.Link(-200, "movies"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	cfg := s.Snapshot()
	linked := 0
	for i := range cfg.Groups {
		if cfg.Groups[i].Chat != nil && cfg.Groups[i].Chat.ChatID == -200 {
			linked++
			if cfg.Groups[i].Name != "movies" {
				t.Fatalf("chat linked to %q, want movies", cfg.Groups[i].Name)
			}
		}
	}
	if linked != 1 {
		t.Fatalf("chat linked to %d groups, want exactly 1", linked)
	}
}

func TestUnlink(t *testing.T) {
	s, saver := newTestStore(t)

	name, err := s.Unlink(-200)
	if err != nil || name != "series" {
		t.Fatalf("Unlink = (%q, %v), want (series, nil)", name, err)
	}
	if saver.calls != 1 {
		t.Fatalf("persist calls = %d, want 1", saver.calls)
	}
	cfg := s.Snapshot()
	if cfg.GroupByChat(-200) != nil {
		t.Fatal("chat still linked after Unlink")
	}

	if _, err := s.Unlink(-200); !errors.Is(err, ErrChatNotLinked) {
		t.Fatalf("second Unlink = %v, want ErrChatNotLinked", err)
	}
}

func TestAddMember_PersistsOncePerChange(t *testing.T) {
	s, saver := newTestStore(t)

	added, name, err := s.AddMember(-200, "Bob")
	if err != nil || !added || name != "series" {
		t.Fatalf("AddMember = (%v, %q, %v)", added, name, err)
	}
	if saver.calls != 1 {
		t.Fatalf("persist calls = %d, want 1", saver.calls)
	}

	// Repeat join: no change, no persistence.
	added, _, err = s.AddMember(-200, "bob")
	if err != nil || added {
		t.Fatalf("repeat AddMember = (%v, %v), want no-op", added, err)
	}
	if saver.calls != 1 {
		t.Fatalf("persist calls after no-op = %d, want 1", saver.calls)
	}
}

func TestRemoveMember(t *testing.T) {
	s, saver := newTestStore(t)

	if _, _, err := s.AddMember(-200, "bob"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	removed, _, err := s.RemoveMember(-200, "BOB")
	if err != nil || !removed {
		t.Fatalf("RemoveMember = (%v, %v)", removed, err)
	}
	removed, _, err = s.RemoveMember(-200, "bob")
	if err != nil || removed {
		t.Fatalf("second RemoveMember = (%v, %v), want no-op", removed, err)
	}
	if saver.calls != 2 {
		t.Fatalf("persist calls = %d, want 2", saver.calls)
	}

	if _, _, err := s.RemoveMember(-999, "bob"); !errors.Is(err, ErrChatNotLinked) {
		t.Fatalf("RemoveMember on unlinked chat = %v, want ErrChatNotLinked", err)
	}
}

func TestAddMembers_ReportsOnlyNewHandles(t *testing.T) {
	s, saver := newTestStore(t)

	if _, _, err := s.AddMember(-200, "alice"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	saver.calls = 0

	added, err := s.AddMembers(-200, []string{"Alice", "bob", "carol"})
	if err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	if len(added) != 2 || added[0] != "bob" || added[1] != "carol" {
		t.Fatalf("added = %v, want [bob carol]", added)
	}
	if saver.calls != 1 {
		t.Fatalf("persist calls = %d, want 1", saver.calls)
	}

	// All duplicates: nothing added, nothing persisted.
	added, err = s.AddMembers(-200, []string{"bob"})
	if err != nil || added != nil {
		t.Fatalf("duplicate AddMembers = (%v, %v), want (nil, nil)", added, err)
	}
	if saver.calls != 1 {
		t.Fatalf("persist calls after duplicate batch = %d, want 1", saver.calls)
	}
}

func TestAddMembersByName(t *testing.T) {
	s, saver := newTestStore(t)

	// "movies" has no linked chat; name-keyed whitelisting still works.
	added, err := s.AddMembersByName("movies", []string{"alice", "bob", "bob"})
	if err != nil {
		t.Fatalf("AddMembersByName: %v", err)
	}
	if len(added) != 1 || added[0] != "bob" {
		t.Fatalf("added = %v, want [bob]", added)
	}
	if saver.calls != 1 {
		t.Fatalf("persist calls = %d, want 1", saver.calls)
	}

	if _, err := s.AddMembersByName("nope", []string{"carol"}); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("unknown group = %v, want ErrGroupNotFound", err)
	}

	// Equal-fold duplicate: nothing added, nothing persisted.
	if added, err := s.AddMembersByName("movies", []string{"ALICE"}); err != nil || added != nil {
		t.Fatalf("duplicate = (%v, %v), want (nil, nil)", added, err)
	}
	if saver.calls != 1 {
		t.Fatalf("persist calls after duplicate = %d, want 1", saver.calls)
	}
}

func TestReplace_RollsBackOnPersistFailure(t *testing.T) {
	saver := &countingSaver{err: errors.New("disk full")}
	s := New(testConfig(), saver.save, zerolog.Nop())

	next := testConfig()
	next.BotUsername = "NewBot"
	if err := s.Replace(next); err == nil {
		t.Fatal("Replace should surface persist failure")
	}
	if s.Snapshot().BotUsername != "TestBot" {
		t.Fatal("failed Replace must not leave the new snapshot in place")
	}
}

func TestSnapshot_IsDefensiveCopy(t *testing.T) {
	s, _ := newTestStore(t)

	snap := s.Snapshot()
	snap.Groups[0].MemberHandles[0] = "mallory"
	snap.AdminHandles[0] = "mallory"

	fresh := s.Snapshot()
	if fresh.Groups[0].MemberHandles[0] != "alice" || fresh.AdminHandles[0] != "root" {
		t.Fatal("Snapshot leaked internal state")
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := FilePath(dir)

	if err := WriteFile(path, testConfig()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := NewFileStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cfg := s.Snapshot()
	if cfg.BotUsername != "TestBot" || len(cfg.Groups) != 2 {
		t.Fatalf("loaded config = %+v", cfg)
	}
	if cfg.Groups[1].Chat == nil || cfg.Groups[1].Chat.ChatID != -200 {
		t.Fatalf("chat link lost through file round-trip: %+v", cfg.Groups[1])
	}

	// Mutations reach the file.
	if err := s.Link(-300, "movies"); err != nil {
		t.Fatalf("Link: %v", err)
	}
	reloaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if reloaded.GroupByChat(-300) == nil {
		t.Fatal("link not persisted to file")
	}
}

func TestLoadFile_MissingIsEmpty(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.xml"))
	if err != nil {
		t.Fatalf("LoadFile missing = %v, want nil error", err)
	}
	if len(cfg.Groups) != 0 || cfg.BotToken != "" {
		t.Fatalf("missing file should load as zero config: %+v", cfg)
	}
}

func TestLoadFile_CorruptFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xml")
	if err := os.WriteFile(path, []byte("<PluginConfiguration><oops"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("corrupt file should fail to load")
	}
}
