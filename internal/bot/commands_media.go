package bot

import (
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-telejelly-backend/internal/domain"
	"github.com/tbourn/go-telejelly-backend/internal/markup"
	"github.com/tbourn/go-telejelly-backend/internal/media"
	"github.com/tbourn/go-telejelly-backend/internal/requests"
	"github.com/tbourn/go-telejelly-backend/internal/sysutil"
)

// searchPageSize is how many results a /search reply shows.
const searchPageSize = 5

// cmdSearch queries the library, restricted to the folders the sender may
// see, newest additions first.
func cmdSearch(c *Context) error {
	if c.Args == "" {
		return c.Reply("Usage: /search <title>")
	}

	folders, allowed := searchFolders(c)
	if !allowed {
		return c.Reply("You are not whitelisted in any group.")
	}

	// One extra row tells us whether a "more" hint is in order.
	items, err := c.Deps.Catalog.Search(c.Ctx, c.Args, folders, searchPageSize+1)
	if err != nil {
		return fmt.Errorf("library search: %w", err)
	}
	if len(items) == 0 {
		return c.Reply("Nothing found.")
	}

	more := len(items) > searchPageSize
	if more {
		items = items[:searchPageSize]
	}

	var b strings.Builder
	for _, it := range items {
		b.WriteString(formatItemLine(it, c.Cfg.PublicBaseURL))
		b.WriteString("\n")
	}
	if more {
		b.WriteString(markup.EscapeMarkdownV2("More results available, refine your search."))
	}
	return c.ReplyMarkdown(strings.TrimRight(b.String(), "\n"))
}

// searchFolders resolves the folder restriction for the sender. A false
// second return means the sender may not search at all.
func searchFolders(c *Context) ([]string, bool) {
	if c.IsAdmin {
		return nil, true
	}
	if c.InGroupChat() {
		g := c.Cfg.GroupByChat(c.ChatID())
		if g == nil {
			return nil, false
		}
		if g.EnableAllFolders {
			return nil, true
		}
		return g.EnabledFolderIDs, true
	}

	member := c.Cfg.GroupsFor(c.Handle)
	if len(member) == 0 {
		return nil, false
	}
	seen := map[string]struct{}{}
	var folders []string
	for _, g := range member {
		if g.EnableAllFolders {
			return nil, true
		}
		for _, id := range g.EnabledFolderIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			folders = append(folders, id)
		}
	}
	return folders, true
}

// formatItemLine renders one search result as a MarkdownV2 bullet,
// linking the title to its details page when a base URL is configured.
func formatItemLine(it media.Item, baseURL string) string {
	title := it.Name
	if it.Year > 0 {
		title += " (" + strconv.Itoa(it.Year) + ")"
	}
	line := markup.EscapeMarkdownV2("- ")
	if base := strings.TrimRight(baseURL, "/"); base != "" && it.ID != "" {
		line += "[" + markup.EscapeMarkdownV2(title) + "](" +
			markup.EscapeMarkdownV2(base+"/web/index.html#!/details?id="+it.ID) + ")"
	} else {
		line += markup.Bold(title)
	}
	if langs := markup.LanguageSummary(it.AudioLanguages); langs != "" {
		line += markup.EscapeMarkdownV2(", " + langs)
	}
	return line
}

// imdbIDPattern matches an IMDb title ID, bare or inside an imdb.com URL.
var imdbIDPattern = regexp.MustCompile(`(?i)\b(tt\d{6,10})\b`)

// parseIMDbID extracts a title ID from a bare ID or an imdb.com link.
func parseIMDbID(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if strings.Contains(arg, "/") && !strings.Contains(strings.ToLower(arg), "imdb.com") {
		return "", false
	}
	m := imdbIDPattern.FindStringSubmatch(arg)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// cmdRequest records a content request by IMDb ID or link. Without
// arguments it lists the open requests, newest first.
func cmdRequest(c *Context) error {
	if c.Args == "" {
		return listRequests(c)
	}

	id, ok := parseIMDbID(c.Args)
	if !ok {
		return c.Reply("That does not look like an IMDb ID or link. Example: /request tt0113277")
	}

	req := domain.MediaRequest{
		ExternalID:           id,
		RequesterDisplayName: senderName(c),
	}
	if c.Msg.From != nil {
		req.RequesterID = strconv.FormatInt(c.Msg.From.ID, 10)
	}
	meta, err := c.Deps.Catalog.ResolveExternal(c.Ctx, id)
	switch {
	case err == nil:
		req.Title = meta.Title
		req.TypeName = meta.TypeName
		if meta.Year > 0 {
			year := meta.Year
			req.Year = &year
		}
	case errors.Is(err, media.ErrNotFound):
		c.Log.Debug().Str("imdb_id", id).Msg("no remote metadata for request")
	default:
		return fmt.Errorf("resolve %s: %w", id, err)
	}

	switch c.Deps.Requests.TryAdd(req) {
	case requests.Added:
		label := id
		if req.Title != "" {
			label = req.Title
			if req.Year != nil {
				label += " (" + strconv.Itoa(*req.Year) + ")"
			}
		}
		return c.Reply(fmt.Sprintf("Requested %s.", label))
	case requests.Duplicate:
		return c.Reply("That title has already been requested.")
	case requests.UserLimitReached:
		return c.Reply("You have reached your open request limit. Wait until some are fulfilled.")
	default:
		return c.Reply("Request noted, but saving it failed. It will be kept and retried.")
	}
}

// listRequests shows the open queue, newest first, each entry linked to
// its external catalog page with requester and UTC timestamp.
func listRequests(c *Context) error {
	entries := c.Deps.Requests.List()
	if len(entries) == 0 {
		return c.Reply("No open requests. Use: /request <imdb-id>")
	}
	var b strings.Builder
	b.WriteString(markup.EscapeMarkdownV2("📋 Current Requests 📋"))
	b.WriteString("\n\n")
	for i, r := range entries {
		title := r.Title
		if title == "" {
			title = r.ExternalID
		}
		b.WriteString(markup.EscapeMarkdownV2(strconv.Itoa(i+1) + ". "))
		b.WriteString("[")
		b.WriteString(markup.EscapeMarkdownV2(title))
		b.WriteString("](")
		b.WriteString(markup.EscapeMarkdownV2("https://www.imdb.com/title/" + r.ExternalID + "/"))
		b.WriteString(")")
		if r.TypeName != "" {
			b.WriteString(markup.EscapeMarkdownV2(" - " + r.TypeName))
		}
		if r.Year != nil {
			b.WriteString(markup.EscapeMarkdownV2(" (" + strconv.Itoa(*r.Year) + ")"))
		}
		if r.ExtraMarkup != "" {
			// Stored pre-escaped, appended verbatim.
			b.WriteString(r.ExtraMarkup)
		}
		b.WriteString("\n")
		b.WriteString(markup.EscapeMarkdownV2("   Requested by: "))
		b.WriteString(markup.EscapeMarkdownV2(r.RequesterDisplayName))
		b.WriteString(markup.EscapeMarkdownV2(" at "))
		b.WriteString(markup.Code(r.RequestedAtUtc.UTC().Format("2006-01-02 15:04:05Z")))
		b.WriteString("\n\n")
	}
	return c.ReplyMarkdown(strings.TrimRight(b.String(), "\n"))
}

// senderName renders the sender's human name, falling back to the handle.
func senderName(c *Context) string {
	from := c.Msg.From
	if from == nil {
		return ""
	}
	if name := strings.TrimSpace(from.FirstName + " " + from.LastName); name != "" {
		return name
	}
	return from.UserName
}

// cmdStats reports runtime and library bookkeeping figures.
func cmdStats(c *Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	rows := [][2]string{
		{"Uptime", sysutil.FormatDuration(time.Since(c.Deps.StartedAt))},
		{"Memory", sysutil.FormatBytes(mem.Alloc)},
		{"Groups", strconv.Itoa(len(c.Cfg.Groups))},
		{"Open requests", strconv.Itoa(c.Deps.Requests.Count())},
		{"Pending notifications", strconv.Itoa(c.Deps.Pending.PendingCount())},
	}
	if du, err := sysutil.DiskUsageFor(c.Deps.DataDir); err == nil {
		rows = append(rows,
			[2]string{"Disk used", sysutil.FormatBytes(du.Used)},
			[2]string{"Disk free", sysutil.FormatBytes(du.Free)},
		)
	} else {
		c.Log.Warn().Err(err).Msg("disk usage unavailable")
	}

	var b strings.Builder
	for _, row := range rows {
		b.WriteString(markup.EscapeMarkdownV2(row[0] + ": "))
		b.WriteString(markup.Code(row[1]))
		b.WriteString("\n")
	}
	return c.ReplyMarkdown(strings.TrimRight(b.String(), "\n"))
}
