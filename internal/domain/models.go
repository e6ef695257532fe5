// Package domain defines the persisted data model of the bridge: the
// Configuration aggregate with its whitelist groups and chat links, and
// the pending media request entries. Configuration serializes to the
// legacy XML layout, media requests to the legacy JSON snapshot, so both
// files round-trip against deployments of the original plugin.
package domain

import (
	"encoding/xml"
	"regexp"
	"strings"
	"time"
)

// URLScheme is the scheme optionally forced onto externally visible URLs,
// for deployments behind an SSL-stripping reverse proxy.
type URLScheme string

// Allowed values for URLScheme.
const (
	SchemeNone  URLScheme = ""
	SchemeHTTP  URLScheme = "http"
	SchemeHTTPS URLScheme = "https"
)

// Valid reports whether the scheme is one of the allowed values.
func (s URLScheme) Valid() bool {
	return s == SchemeNone || s == SchemeHTTP || s == SchemeHTTPS
}

// groupNameRe mirrors the legacy validation: 3-32 chars of letters,
// digits, underscore, or hyphen.
var groupNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)

// ValidGroupName reports whether name is acceptable as a group name.
func ValidGroupName(name string) bool {
	return groupNameRe.MatchString(name)
}

// GroupChat is the optional Telegram chat bound to a Group. It is owned
// exclusively by its group: unlinking or deleting the group destroys it.
type GroupChat struct {
	// ChatID is the Telegram chat linked to the parent group.
	ChatID int64 `xml:"TelegramChatId" json:"telegramChatId"`
	// SyncMemberNames keeps the member whitelist in sync with chat
	// join/leave events.
	SyncMemberNames bool `xml:"SyncUserNames" json:"syncUserNames"`
	// NotifyNewContent opts the chat into new-content notifications.
	NotifyNewContent bool `xml:"NotifyNewContent" json:"notifyNewContent"`
}

// Group is an administrator-defined cohort of whitelisted Telegram
// handles with folder-access rules and at most one linked chat.
type Group struct {
	// Name uniquely identifies the group within the configuration.
	Name string `xml:"GroupName" json:"groupName"`
	// EnableAllFolders grants access to every library folder.
	EnableAllFolders bool `xml:"EnableAllFolders" json:"enableAllFolders"`
	// EnabledFolderIDs lists the allowed folder ids when EnableAllFolders
	// is false.
	EnabledFolderIDs []string `xml:"EnabledFolders>string" json:"enabledFolders"`
	// MemberHandles holds the whitelisted Telegram usernames.
	// Membership checks are case-insensitive; storage preserves case.
	MemberHandles []string `xml:"UserNames>string" json:"userNames"`
	// Chat is the optionally linked Telegram chat, nil when unlinked.
	Chat *GroupChat `xml:"TelegramGroupChat,omitempty" json:"telegramGroupChat,omitempty"`
}

// HasMember reports whether handle is whitelisted in the group.
func (g *Group) HasMember(handle string) bool {
	for _, h := range g.MemberHandles {
		if strings.EqualFold(h, handle) {
			return true
		}
	}
	return false
}

// AddMember appends handle to the whitelist unless an equal-fold entry
// already exists. Reports whether the list changed.
func (g *Group) AddMember(handle string) bool {
	if handle == "" || g.HasMember(handle) {
		return false
	}
	g.MemberHandles = append(g.MemberHandles, handle)
	return true
}

// RemoveMember deletes the equal-fold entry for handle, if present.
// Reports whether the list changed.
func (g *Group) RemoveMember(handle string) bool {
	for i, h := range g.MemberHandles {
		if strings.EqualFold(h, handle) {
			g.MemberHandles = append(g.MemberHandles[:i], g.MemberHandles[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the group.
func (g *Group) Clone() Group {
	out := *g
	out.EnabledFolderIDs = append([]string(nil), g.EnabledFolderIDs...)
	out.MemberHandles = append([]string(nil), g.MemberHandles...)
	if g.Chat != nil {
		chat := *g.Chat
		out.Chat = &chat
	}
	return out
}

// Configuration is the root aggregate persisted to the XML config file.
// It is mutated by the bot dispatcher (membership sync, linking), by
// admin commands, and by the external configuration page.
type Configuration struct {
	XMLName xml.Name `xml:"PluginConfiguration" json:"-"`

	// BotToken signs login payloads and authenticates the bot transport.
	BotToken string `xml:"BotToken" json:"botToken"`
	// BotUsername is the public bot handle used by the login widget and
	// for @-directed command filtering.
	BotUsername string `xml:"BotUsername" json:"botUsername"`
	// AdminHandles are Telegram usernames with elevated command
	// privileges, independent of group membership.
	AdminHandles []string `xml:"AdminUserNames>string" json:"adminUserNames"`
	// MaxSessionsPerUser caps concurrent login sessions per account;
	// zero or negative means unlimited.
	MaxSessionsPerUser int `xml:"MaxSessionCount" json:"maxSessionCount"`
	// ForcedURLScheme overrides the scheme of externally returned URLs.
	ForcedURLScheme URLScheme `xml:"ForcedUrlScheme" json:"forcedUrlScheme"`
	// PublicBaseURL is the externally reachable media-server address,
	// used for deep links in chat messages. Optional.
	PublicBaseURL string `xml:"LoginBaseUrl" json:"loginBaseUrl"`
	// Groups holds the whitelist cohorts.
	Groups []Group `xml:"TelegramGroups>TelegramGroups" json:"telegramGroups"`
}

// IsAdmin reports whether handle is a configured admin (case-insensitive).
func (c *Configuration) IsAdmin(handle string) bool {
	if handle == "" {
		return false
	}
	for _, a := range c.AdminHandles {
		if strings.EqualFold(a, handle) {
			return true
		}
	}
	return false
}

// GroupByName returns the group with the given name, or nil.
func (c *Configuration) GroupByName(name string) *Group {
	for i := range c.Groups {
		if c.Groups[i].Name == name {
			return &c.Groups[i]
		}
	}
	return nil
}

// GroupByChat returns the group linked to chatID, or nil.
func (c *Configuration) GroupByChat(chatID int64) *Group {
	for i := range c.Groups {
		if c.Groups[i].Chat != nil && c.Groups[i].Chat.ChatID == chatID {
			return &c.Groups[i]
		}
	}
	return nil
}

// GroupsFor returns every group whose whitelist contains handle.
func (c *Configuration) GroupsFor(handle string) []*Group {
	var out []*Group
	for i := range c.Groups {
		if c.Groups[i].HasMember(handle) {
			out = append(out, &c.Groups[i])
		}
	}
	return out
}

// Clone returns a deep copy of the configuration.
func (c *Configuration) Clone() Configuration {
	out := *c
	out.AdminHandles = append([]string(nil), c.AdminHandles...)
	out.Groups = make([]Group, len(c.Groups))
	for i := range c.Groups {
		out.Groups[i] = c.Groups[i].Clone()
	}
	return out
}

// MediaRequest is a single "please add this title" entry in the request
// queue. ExternalID (IMDb-style) is the de-duplication key,
// case-insensitive.
type MediaRequest struct {
	// ItemID is the library item id, empty for remote-only titles.
	ItemID string `json:"itemId"`
	// ExternalID is the external catalog id (e.g. "tt0133093").
	ExternalID string `json:"imdbId"`
	// Title is the resolved display title.
	Title string `json:"title"`
	// Year is the production year, nil when unknown.
	Year *int `json:"year,omitempty"`
	// TypeName is "Movie", "Series", or empty.
	TypeName string `json:"typeName,omitempty"`
	// ExtraMarkup is pre-escaped MarkdownV2 appended to list entries.
	ExtraMarkup string `json:"extraInfo,omitempty"`
	// RequesterID is the Telegram numeric user id as a string.
	RequesterID string `json:"userId"`
	// RequesterDisplayName is shown in the request list.
	RequesterDisplayName string `json:"userDisplayName"`
	// RequestedAtUtc records when the request was made.
	RequestedAtUtc time.Time `json:"requestedAtUtc"`
}

// Normalize trims all string fields and defaults the timestamp to now.
func (r MediaRequest) Normalize(now time.Time) MediaRequest {
	r.ItemID = strings.TrimSpace(r.ItemID)
	r.ExternalID = strings.TrimSpace(r.ExternalID)
	r.Title = strings.TrimSpace(r.Title)
	r.TypeName = strings.TrimSpace(r.TypeName)
	r.ExtraMarkup = strings.TrimSpace(r.ExtraMarkup)
	r.RequesterID = strings.TrimSpace(r.RequesterID)
	r.RequesterDisplayName = strings.TrimSpace(r.RequesterDisplayName)
	if r.RequesterID == "" {
		r.RequesterID = "unknown"
	}
	if r.RequesterDisplayName == "" {
		r.RequesterDisplayName = "Unknown"
	}
	if r.RequestedAtUtc.IsZero() {
		r.RequestedAtUtc = now
	}
	return r
}
