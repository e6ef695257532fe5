package bot

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/arbovm/levenshtein"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tbourn/go-telejelly-backend/internal/domain"
	"github.com/tbourn/go-telejelly-backend/internal/groups"
)

// registerCommands builds the full command table. A duplicate name makes
// startup fail rather than shadowing a handler at runtime.
func (d *Dispatcher) registerCommands() error {
	table := []Command{
		{Name: "start", Help: "Introduce the bot and handle sign-in deep links", Handler: cmdStart},
		{Name: "help", Help: "List available commands", Handler: d.cmdHelp},
		{Name: "link", Help: "Link this chat to a group", AdminOnly: true, Handler: cmdLink},
		{Name: "unlink", Help: "Unlink this chat from its group", AdminOnly: true, Handler: cmdUnlink},
		{Name: "register", Help: "Whitelist yourself; admins reconcile the chat's administrators", Handler: cmdRegister},
		{Name: "userlist", Help: "Show the whitelist of this chat's group", AdminOnly: true, Handler: cmdUserlist},
		{Name: "whitelist", Help: "Add handles to a group's whitelist", AdminOnly: true, Handler: cmdWhitelist},
		{Name: "check_usernames", Help: "List administrators without a Telegram username", AdminOnly: true, Handler: cmdCheckUsernames},
		{Name: "search", Help: "Search the library", Handler: cmdSearch},
		{Name: "request", Help: "Request a title by IMDb ID or link", Handler: cmdRequest},
		{Name: "stats", Help: "Show server statistics", AdminOnly: true, Handler: cmdStats},
	}
	for _, cmd := range table {
		if err := d.reg.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

// cmdStart greets the user. A deep-link payload of the form
// base64("link <group>") links the current group chat, admins only.
func cmdStart(c *Context) error {
	if c.Args != "" {
		if group, ok := decodeLinkPayload(c.Args); ok {
			if !c.IsAdmin {
				return c.Reply("You are not an administrator.")
			}
			if !c.InGroupChat() {
				return c.Reply("Open this link from the group chat you want to link.")
			}
			return linkChat(c, group)
		}
		c.Log.Debug().Str("payload", c.Args).Msg("unrecognized start payload")
	}

	if c.InGroupChat() {
		return c.Reply("Hello! Use /help to see what I can do.")
	}
	text := "Hello! I manage sign-in and content notifications for the media server."
	if base := c.Cfg.PublicBaseURL; base != "" {
		text += fmt.Sprintf(" Sign in at %s.", base)
	}
	return c.Reply(text)
}

// cmdHelp lists the commands the sender may actually run.
func (d *Dispatcher) cmdHelp(c *Context) error {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, cmd := range d.reg.List() {
		if cmd.AdminOnly && !c.IsAdmin {
			continue
		}
		fmt.Fprintf(&b, "/%s - %s\n", cmd.Name, cmd.Help)
	}
	return c.Reply(strings.TrimRight(b.String(), "\n"))
}

// decodeLinkPayload decodes a deep-link payload, restoring the base64
// padding Telegram strips from start parameters.
func decodeLinkPayload(payload string) (string, bool) {
	if n := len(payload) % 4; n != 0 {
		payload += strings.Repeat("=", 4-n)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", false
	}
	decoded := string(raw)
	if !strings.HasPrefix(decoded, "link ") {
		return "", false
	}
	group := strings.TrimSpace(strings.TrimPrefix(decoded, "link "))
	return group, group != ""
}

func cmdLink(c *Context) error {
	if c.Args == "" {
		return c.Reply("Usage: /link <group>")
	}
	if !c.InGroupChat() {
		return c.Reply("Use /link inside the group chat you want to link.")
	}
	return linkChat(c, c.Args)
}

// linkChat binds the current chat to the named group, suggesting the
// closest existing name on a miss.
func linkChat(c *Context, name string) error {
	err := c.Deps.Groups.Link(c.ChatID(), name)
	switch {
	case err == nil:
		c.Log.Info().Str("group", name).Msg("chat linked")
		return c.Reply(fmt.Sprintf("Linked this chat to group %q. Members who join will be whitelisted automatically.", name))
	case errors.Is(err, groups.ErrGroupNotFound):
		reply := fmt.Sprintf("No group named %q exists.", name)
		if suggestion := closestName(name, c.Deps.Groups.GroupNames()); suggestion != "" {
			reply += fmt.Sprintf(" Did you mean %q?", suggestion)
		}
		return c.Reply(reply)
	default:
		return err
	}
}

// closestName returns the nearest candidate within an edit distance of 3.
func closestName(name string, candidates []string) string {
	best, bestDist := "", 4
	for _, cand := range candidates {
		if d := levenshtein.Distance(strings.ToLower(name), strings.ToLower(cand)); d < bestDist {
			best, bestDist = cand, d
		}
	}
	return best
}

func cmdUnlink(c *Context) error {
	name, err := c.Deps.Groups.Unlink(c.ChatID())
	if errors.Is(err, groups.ErrChatNotLinked) {
		return c.Reply("This chat is not linked to any group.")
	}
	if err != nil {
		return err
	}
	c.Log.Info().Str("group", name).Msg("chat unlinked")
	return c.Reply(fmt.Sprintf("Unlinked this chat from group %q.", name))
}

// cmdRegister whitelists members of the chat's group. An admin caller
// reconciles the chat administrators against the whitelist; anyone else
// registers themselves, provided member sync is enabled.
func cmdRegister(c *Context) error {
	if !c.InGroupChat() {
		return c.Reply("Use /register inside a linked group chat.")
	}
	g := c.Cfg.GroupByChat(c.ChatID())
	if g == nil {
		return c.Reply("This chat is not linked to any group. Link it first with /link <group>.")
	}
	if c.IsAdmin {
		return registerChatAdmins(c, g)
	}

	if c.Handle == "" {
		return c.Reply("You have no Telegram username set. Set one first, then run /register again.")
	}
	if g.HasMember(c.Handle) {
		return c.Reply(fmt.Sprintf("@%s is already whitelisted in group %q.", c.Handle, g.Name))
	}
	if g.Chat == nil || !g.Chat.SyncMemberNames {
		return c.Reply(fmt.Sprintf("Automatic member sync is disabled for group %q, ask an administrator to whitelist you.", g.Name))
	}
	if _, _, err := c.Deps.Groups.AddMember(c.ChatID(), c.Handle); err != nil {
		return err
	}
	reply := fmt.Sprintf("Registered @%s in group %q. You can sign in now.", c.Handle, g.Name)
	if base := c.Cfg.PublicBaseURL; base != "" {
		reply += fmt.Sprintf(" Sign in at %s.", base)
	}
	return c.Reply(reply)
}

// registerChatAdmins fetches the chat's administrators and reconciles
// them against the group whitelist.
func registerChatAdmins(c *Context, g *domain.Group) error {
	members, err := chatAdministrators(c)
	if err != nil {
		return fmt.Errorf("get chat administrators: %w", err)
	}

	syncOn := g.Chat != nil && g.Chat.SyncMemberNames
	var added, existing, missing []string
	for _, m := range members {
		u := m.User
		if u == nil || u.IsBot {
			continue
		}
		switch {
		case u.UserName == "":
			missing = append(missing, strings.TrimSpace(u.FirstName+" "+u.LastName))
		case g.HasMember(u.UserName):
			existing = append(existing, u.UserName)
		case syncOn:
			added = append(added, u.UserName)
		}
	}
	if len(added) > 0 {
		if _, err := c.Deps.Groups.AddMembers(c.ChatID(), added); err != nil {
			return err
		}
		c.Log.Info().Strs("handles", added).Str("group", g.Name).Msg("administrators whitelisted")
	}

	var b strings.Builder
	b.WriteString("Registration report:\n")
	if len(added) > 0 {
		b.WriteString("\nNewly whitelisted:\n@" + strings.Join(added, "\n@") + "\n")
	}
	if len(existing) > 0 {
		b.WriteString("\nAlready whitelisted:\n@" + strings.Join(existing, "\n@") + "\n")
	}
	if len(missing) > 0 {
		b.WriteString("\nNo username set:\n" + strings.Join(missing, "\n") + "\n")
	}
	return c.Reply(strings.TrimRight(b.String(), "\n"))
}

// cmdUserlist shows the whitelist of the group linked to the current chat.
func cmdUserlist(c *Context) error {
	if !c.InGroupChat() {
		if c.IsAdmin {
			return c.Reply("Hello! Use /help to see the administration commands.")
		}
		text := "Hello! I manage sign-in and content notifications for the media server."
		if base := c.Cfg.PublicBaseURL; base != "" {
			text += fmt.Sprintf(" Sign in at %s.", base)
		}
		return c.Reply(text)
	}

	g := c.Cfg.GroupByChat(c.ChatID())
	if g == nil {
		return c.Reply("This chat is not linked to any group. An administrator can link it with /link <group>.")
	}
	if len(g.MemberHandles) == 0 {
		return c.Reply(fmt.Sprintf("No users are whitelisted in group %q yet.", g.Name))
	}

	members := append([]string(nil), g.MemberHandles...)
	sort.Strings(members)
	var b strings.Builder
	fmt.Fprintf(&b, "Registered users in this group (%s):\n", g.Name)
	for _, m := range members {
		b.WriteString("@" + m + "\n")
	}
	return c.Reply(strings.TrimRight(b.String(), "\n"))
}

func cmdWhitelist(c *Context) error {
	fields := strings.Fields(c.Args)
	if len(fields) < 2 {
		return c.Reply("Usage: /whitelist <group> <@handle ...>")
	}
	group, handles := fields[0], parseHandles(strings.Join(fields[1:], " "))
	if len(handles) == 0 {
		return c.Reply("Usage: /whitelist <group> <@handle ...>")
	}

	added, err := c.Deps.Groups.AddMembersByName(group, handles)
	if errors.Is(err, groups.ErrGroupNotFound) {
		reply := fmt.Sprintf("No group named %q exists.", group)
		if suggestion := closestName(group, c.Deps.Groups.GroupNames()); suggestion != "" {
			reply += fmt.Sprintf(" Did you mean %q?", suggestion)
		}
		return c.Reply(reply)
	}
	if err != nil {
		return err
	}
	if len(added) == 0 {
		return c.Reply("All of those handles are already whitelisted.")
	}
	return c.Reply(fmt.Sprintf("Whitelisted in %q: @%s.", group, strings.Join(added, ", @")))
}

// cmdCheckUsernames lists chat administrators who have no Telegram
// username and therefore cannot sign in or be whitelisted.
func cmdCheckUsernames(c *Context) error {
	if !c.InGroupChat() {
		return c.Reply("Use /check_usernames inside a group chat.")
	}
	members, err := chatAdministrators(c)
	if err != nil {
		return fmt.Errorf("get chat administrators: %w", err)
	}

	var missing []string
	for _, m := range members {
		u := m.User
		if u == nil || u.IsBot || u.UserName != "" {
			continue
		}
		missing = append(missing, strings.TrimSpace(u.FirstName+" "+u.LastName))
	}
	if len(missing) == 0 {
		return c.Reply("All administrators have a username set.")
	}
	sort.Strings(missing)
	return c.Reply("These administrators need to set a Telegram username before they can sign in:\n" +
		strings.Join(missing, "\n"))
}

// chatAdministrators fetches the administrator list of the current chat.
func chatAdministrators(c *Context) ([]tgbotapi.ChatMember, error) {
	return c.API.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: c.ChatID()},
	})
}

// parseHandles splits whitespace-separated handles, trimming any leading @.
func parseHandles(args string) []string {
	var out []string
	for _, f := range strings.Fields(args) {
		if h := strings.TrimPrefix(f, "@"); h != "" {
			out = append(out, h)
		}
	}
	return out
}
