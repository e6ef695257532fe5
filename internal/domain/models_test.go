package domain

import (
	"encoding/xml"
	"testing"
	"time"
)

func TestValidGroupName(t *testing.T) {
	valid := []string{"abc", "Movie_Fans", "group-42", "a_b-c", "x2345678901234567890123456789012"}
	for _, name := range valid {
		if !ValidGroupName(name) {
			t.Errorf("ValidGroupName(%q) = false, want true", name)
		}
	}
	invalid := []string{"", "ab", "has space", "emoji🎬", "x23456789012345678901234567890123", "semi;colon"}
	for _, name := range invalid {
		if ValidGroupName(name) {
			t.Errorf("ValidGroupName(%q) = true, want false", name)
		}
	}
}

func TestGroupMembership_CaseInsensitiveAndCasePreserving(t *testing.T) {
	g := Group{Name: "movies"}

	if !g.AddMember("Alice") {
		t.Fatal("first AddMember should change the list")
	}
	if g.AddMember("alice") {
		t.Fatal("AddMember with different casing should be a no-op")
	}
	if !g.HasMember("ALICE") {
		t.Fatal("HasMember should match case-insensitively")
	}
	if g.MemberHandles[0] != "Alice" {
		t.Fatalf("stored handle = %q, want original casing preserved", g.MemberHandles[0])
	}

	if !g.RemoveMember("aLiCe") {
		t.Fatal("RemoveMember should match case-insensitively")
	}
	if g.RemoveMember("alice") {
		t.Fatal("second RemoveMember should be a no-op")
	}
	if len(g.MemberHandles) != 0 {
		t.Fatalf("member list not empty after removal: %v", g.MemberHandles)
	}
}

func TestConfiguration_Lookups(t *testing.T) {
	cfg := Configuration{
		AdminHandles: []string{"Root"},
		Groups: []Group{
			{Name: "movies", MemberHandles: []string{"alice"}, Chat: &GroupChat{ChatID: -100}},
			{Name: "series", MemberHandles: []string{"Alice", "bob"}},
		},
	}

	if !cfg.IsAdmin("root") || cfg.IsAdmin("alice") || cfg.IsAdmin("") {
		t.Fatal("IsAdmin misbehaved")
	}
	if g := cfg.GroupByName("series"); g == nil || g.Name != "series" {
		t.Fatalf("GroupByName(series) = %v", g)
	}
	if g := cfg.GroupByName("nope"); g != nil {
		t.Fatalf("GroupByName(nope) = %v, want nil", g)
	}
	if g := cfg.GroupByChat(-100); g == nil || g.Name != "movies" {
		t.Fatalf("GroupByChat(-100) = %v", g)
	}
	if got := len(cfg.GroupsFor("ALICE")); got != 2 {
		t.Fatalf("GroupsFor(ALICE) returned %d groups, want 2", got)
	}
}

func TestConfiguration_XMLRoundTrip(t *testing.T) {
	cfg := Configuration{
		BotToken:           "12345678:secret",
		BotUsername:        "MyTelegramBot",
		AdminHandles:       []string{"root", "Admin2"},
		MaxSessionsPerUser: 3,
		ForcedURLScheme:    SchemeHTTPS,
		PublicBaseURL:      "https://media.example.org",
		Groups: []Group{
			{
				Name:             "movies",
				EnableAllFolders: false,
				EnabledFolderIDs: []string{"f1", "f2"},
				MemberHandles:    []string{"Alice", "bob"},
				Chat:             &GroupChat{ChatID: -1001234, SyncMemberNames: true, NotifyNewContent: true},
			},
			{Name: "unlinked", EnableAllFolders: true},
		},
	}

	raw, err := xml.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Configuration
	if err := xml.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.BotToken != cfg.BotToken || got.BotUsername != cfg.BotUsername {
		t.Fatalf("bot identity lost: %+v", got)
	}
	if got.MaxSessionsPerUser != 3 || got.ForcedURLScheme != SchemeHTTPS {
		t.Fatalf("scalar fields lost: %+v", got)
	}
	if len(got.AdminHandles) != 2 || got.AdminHandles[1] != "Admin2" {
		t.Fatalf("admins lost: %v", got.AdminHandles)
	}
	if len(got.Groups) != 2 {
		t.Fatalf("groups lost: %v", got.Groups)
	}
	g := got.Groups[0]
	if g.Name != "movies" || len(g.EnabledFolderIDs) != 2 || len(g.MemberHandles) != 2 {
		t.Fatalf("group fields lost: %+v", g)
	}
	if g.Chat == nil || g.Chat.ChatID != -1001234 || !g.Chat.SyncMemberNames || !g.Chat.NotifyNewContent {
		t.Fatalf("chat link lost: %+v", g.Chat)
	}
	if got.Groups[1].Chat != nil {
		t.Fatalf("unlinked group gained a chat: %+v", got.Groups[1].Chat)
	}
}

func TestConfiguration_CloneIsDeep(t *testing.T) {
	cfg := Configuration{
		AdminHandles: []string{"root"},
		Groups:       []Group{{Name: "movies", MemberHandles: []string{"alice"}, Chat: &GroupChat{ChatID: 1}}},
	}

	clone := cfg.Clone()
	clone.AdminHandles[0] = "evil"
	clone.Groups[0].MemberHandles[0] = "mallory"
	clone.Groups[0].Chat.ChatID = 99

	if cfg.AdminHandles[0] != "root" {
		t.Fatal("admin slice shared between clone and original")
	}
	if cfg.Groups[0].MemberHandles[0] != "alice" {
		t.Fatal("member slice shared between clone and original")
	}
	if cfg.Groups[0].Chat.ChatID != 1 {
		t.Fatal("chat link shared between clone and original")
	}
}

func TestMediaRequestNormalize(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r := MediaRequest{
		ExternalID:           "  tt0133093 ",
		Title:                " The Matrix ",
		RequesterID:          "",
		RequesterDisplayName: "  ",
	}.Normalize(now)

	if r.ExternalID != "tt0133093" || r.Title != "The Matrix" {
		t.Fatalf("strings not trimmed: %+v", r)
	}
	if r.RequesterID != "unknown" || r.RequesterDisplayName != "Unknown" {
		t.Fatalf("requester defaults not applied: %+v", r)
	}
	if !r.RequestedAtUtc.Equal(now) {
		t.Fatalf("zero timestamp not defaulted: %v", r.RequestedAtUtc)
	}

	stamp := now.Add(-time.Hour)
	r2 := MediaRequest{ExternalID: "tt1", RequestedAtUtc: stamp}.Normalize(now)
	if !r2.RequestedAtUtc.Equal(stamp) {
		t.Fatalf("existing timestamp overwritten: %v", r2.RequestedAtUtc)
	}
}
