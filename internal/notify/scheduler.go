// Package notify turns library item events into Telegram announcements.
//
// New items whose metadata is already complete (external provider ID plus a
// primary image) are announced immediately. Incomplete items are parked in
// a pending set and announced either when a later update completes them or
// when they time out, in which case the announcement carries an incomplete
// metadata notice. A periodic sweep enforces the timeout.
package notify

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-telejelly-backend/internal/domain"
	"github.com/tbourn/go-telejelly-backend/internal/markup"
)

const (
	// DefaultSweepInterval is how often the pending set is checked.
	DefaultSweepInterval = time.Hour

	// DefaultTimeout is how long an incomplete item may stay pending
	// before it is announced anyway.
	DefaultTimeout = 24 * time.Hour
)

// Item is a library item event payload.
type Item struct {
	ID                string
	Name              string
	Year              int
	Type              string
	ExternalID        string
	ImageURL          string
	AudioLanguages    []string
	SubtitleLanguages []string
}

// complete reports whether the item's metadata has settled enough to
// announce: an external provider ID and a primary image.
func (it Item) complete() bool {
	return it.ExternalID != "" && it.ImageURL != ""
}

// Sender delivers a single announcement to a chat. Implemented by the bot.
type Sender interface {
	SendPhoto(chatID int64, photoURL, caption string) error
	SendMessage(chatID int64, text string) error
}

// ConfigSource returns the current configuration snapshot.
type ConfigSource func() domain.Configuration

type pendingItem struct {
	item      Item
	firstSeen time.Time
}

// Scheduler tracks incomplete items and fans announcements out to every
// linked chat that opted into content notifications.
type Scheduler struct {
	cfg      ConfigSource
	send     Sender
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger

	now func() time.Time

	mu      sync.Mutex
	pending map[string]pendingItem
}

// New builds a Scheduler. Zero interval or timeout selects the defaults.
func New(cfg ConfigSource, send Sender, interval, timeout time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Scheduler{
		cfg:      cfg,
		send:     send,
		interval: interval,
		timeout:  timeout,
		log:      log.With().Str("component", "notify").Logger(),
		now:      time.Now,
		pending:  map[string]pendingItem{},
	}
}

// OnItemAdded handles a newly added library item. Complete items are
// announced right away; incomplete ones are parked. Re-adding a parked item
// refreshes its payload but keeps the original arrival time.
func (s *Scheduler) OnItemAdded(item Item) {
	if item.ID == "" {
		return
	}
	if item.complete() {
		s.announce(item, false)
		return
	}
	s.mu.Lock()
	first := s.now()
	if prev, ok := s.pending[item.ID]; ok {
		first = prev.firstSeen
	}
	s.pending[item.ID] = pendingItem{item: item, firstSeen: first}
	s.mu.Unlock()
	s.log.Debug().Str("item_id", item.ID).Str("name", item.Name).Msg("item parked awaiting metadata")
}

// OnItemUpdated handles a metadata update. Only items that are currently
// parked can be released by an update; updates for unknown items are
// ignored so routine metadata refreshes of old content stay silent.
func (s *Scheduler) OnItemUpdated(item Item) {
	if item.ID == "" {
		return
	}
	s.mu.Lock()
	prev, ok := s.pending[item.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if !item.complete() {
		// Still incomplete: keep the newest payload.
		s.pending[item.ID] = pendingItem{item: item, firstSeen: prev.firstSeen}
		s.mu.Unlock()
		return
	}
	delete(s.pending, item.ID)
	s.mu.Unlock()
	s.announce(item, false)
}

// Sweep announces every parked item older than the timeout, flagged as
// possibly incomplete, and returns how many were released.
func (s *Scheduler) Sweep() int {
	cutoff := s.now().Add(-s.timeout)

	s.mu.Lock()
	var due []Item
	for id, p := range s.pending {
		if !p.firstSeen.After(cutoff) {
			due = append(due, p.item)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, item := range due {
		s.log.Info().Str("item_id", item.ID).Str("name", item.Name).Msg("metadata wait timed out")
		s.announce(item, true)
	}
	return len(due)
}

// PendingCount returns the number of items waiting for metadata.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Run sweeps periodically until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

// announce fans the item out to every notifying chat. A failure on one
// chat does not stop delivery to the others.
func (s *Scheduler) announce(item Item, stale bool) {
	caption := s.caption(item, stale)

	seen := map[int64]struct{}{}
	for _, g := range s.cfg().Groups {
		chat := g.Chat
		if chat == nil || !chat.NotifyNewContent {
			continue
		}
		if _, dup := seen[chat.ChatID]; dup {
			continue
		}
		seen[chat.ChatID] = struct{}{}

		var err error
		if item.ImageURL != "" {
			err = s.send.SendPhoto(chat.ChatID, item.ImageURL, caption)
		} else {
			err = s.send.SendMessage(chat.ChatID, caption)
		}
		if err != nil {
			s.log.Error().Err(err).
				Int64("chat_id", chat.ChatID).
				Str("item_id", item.ID).
				Msg("announcement delivery failed")
		}
	}
}

// caption renders the MarkdownV2 announcement body. When a public base URL
// is configured the display text becomes a link to the item's details page.
func (s *Scheduler) caption(item Item, stale bool) string {
	var b strings.Builder
	if stale {
		b.WriteString(markup.EscapeMarkdownV2("🎉 New content added (metadata might be incomplete 😅):"))
	} else {
		b.WriteString(markup.EscapeMarkdownV2("🎉 New content added 🎉"))
	}
	b.WriteString("\n")

	text := item.Name
	if item.Year > 0 {
		text += " (" + strconv.Itoa(item.Year) + ")"
	}
	if item.Type != "" {
		text += " [" + item.Type + "]"
	}
	if base := strings.TrimRight(s.cfg().PublicBaseURL, "/"); base != "" {
		// Only the link brackets are raw markup; text and URL are escaped.
		b.WriteString("[")
		b.WriteString(markup.EscapeMarkdownV2(text))
		b.WriteString("](")
		b.WriteString(markup.EscapeMarkdownV2(base + "/web/index.html#!/details?id=" + item.ID))
		b.WriteString(")")
	} else {
		b.WriteString(markup.EscapeMarkdownV2(text))
	}
	if item.ExternalID != "" {
		b.WriteString(markup.EscapeMarkdownV2(" - "))
		b.WriteString("[IMDb](")
		b.WriteString(markup.EscapeMarkdownV2("https://www.imdb.com/title/" + item.ExternalID))
		b.WriteString(")")
	}
	if langs := markup.LanguageSummary(item.AudioLanguages); langs != "" {
		b.WriteString("\n")
		b.WriteString(markup.EscapeMarkdownV2("Audio: " + langs))
	}
	if langs := markup.LanguageSummary(item.SubtitleLanguages); langs != "" {
		b.WriteString("\n")
		b.WriteString(markup.EscapeMarkdownV2("Subtitles: " + langs))
	}
	return b.String()
}
