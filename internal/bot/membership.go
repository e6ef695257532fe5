package bot

import (
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tbourn/go-telejelly-backend/internal/groups"
)

// membersJoined keeps the whitelist of a linked chat in sync when users
// join, and introduces the bot when it is the one being added.
func (d *Dispatcher) membersJoined(msg *tgbotapi.Message) {
	for i := range msg.NewChatMembers {
		user := &msg.NewChatMembers[i]
		if user.IsBot {
			if strings.EqualFold(user.UserName, d.botUser) {
				d.botJoined(msg.Chat.ID)
			}
			continue
		}
		d.userJoined(msg.Chat.ID, user)
	}
}

// botJoined greets the chat, explaining its link state.
func (d *Dispatcher) botJoined(chatID int64) {
	cfg := d.deps.Groups.Snapshot()
	var text string
	if g := cfg.GroupByChat(chatID); g != nil {
		text = fmt.Sprintf("Hello again! This chat is linked to group %q.", g.Name)
	} else {
		text = "Hello! This chat is not linked to any group yet. " +
			"An administrator can link it with /link <group>."
	}
	if _, err := d.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		d.log.Error().Err(err).Int64("chat_id", chatID).Msg("greeting failed")
	}
}

// userJoined whitelists the newcomer when the chat is linked and member
// sync is enabled. A joiner without a username is warned and nothing
// else happens; a join in an unlinked chat gets a pointer to /link.
// Joining twice changes nothing and stays silent.
func (d *Dispatcher) userJoined(chatID int64, user *tgbotapi.User) {
	if user.UserName == "" {
		name := strings.TrimSpace(user.FirstName + " " + user.LastName)
		text := fmt.Sprintf("Welcome %s! You have no Telegram username set, "+
			"so I cannot whitelist you. Set one and rejoin, or ask an admin to /register you.", name)
		if _, err := d.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			d.log.Error().Err(err).Int64("chat_id", chatID).Msg("no-username notice failed")
		}
		return
	}

	cfg := d.deps.Groups.Snapshot()
	g := cfg.GroupByChat(chatID)
	if g == nil {
		text := "This chat is not linked to any group. " +
			"An administrator can link it with /link <group>."
		if _, err := d.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			d.log.Error().Err(err).Int64("chat_id", chatID).Msg("unlinked notice failed")
		}
		return
	}
	if g.Chat == nil || !g.Chat.SyncMemberNames {
		return
	}

	changed, groupName, err := d.deps.Groups.AddMember(chatID, user.UserName)
	if err != nil {
		d.log.Error().Err(err).Int64("chat_id", chatID).Str("handle", user.UserName).Msg("join sync failed")
		return
	}
	if !changed {
		return
	}
	d.log.Info().Str("handle", user.UserName).Str("group", groupName).Msg("member whitelisted on join")
	text := fmt.Sprintf("Welcome @%s! You can now sign in to group %q.", user.UserName, groupName)
	if _, err := d.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		d.log.Error().Err(err).Int64("chat_id", chatID).Msg("join announcement failed")
	}
}

// memberLeft drops the leaver from the whitelist of a linked, syncing chat.
func (d *Dispatcher) memberLeft(msg *tgbotapi.Message) {
	user := msg.LeftChatMember
	if user.IsBot || user.UserName == "" {
		return
	}
	cfg := d.deps.Groups.Snapshot()
	g := cfg.GroupByChat(msg.Chat.ID)
	if g == nil || g.Chat == nil || !g.Chat.SyncMemberNames {
		return
	}

	changed, groupName, err := d.deps.Groups.RemoveMember(msg.Chat.ID, user.UserName)
	if err != nil {
		d.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Str("handle", user.UserName).Msg("leave sync failed")
		return
	}
	if !changed {
		return
	}
	d.log.Info().Str("handle", user.UserName).Str("group", groupName).Msg("member removed on leave")
	text := fmt.Sprintf("@%s left and was removed from group %q.", user.UserName, groupName)
	if _, err := d.api.Send(tgbotapi.NewMessage(msg.Chat.ID, text)); err != nil {
		d.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("leave announcement failed")
	}
}

// botStatusChanged clears the chat link when the bot is kicked from or
// leaves a linked chat. The group itself and its whitelist stay intact.
func (d *Dispatcher) botStatusChanged(m *tgbotapi.ChatMemberUpdated) {
	if m.NewChatMember.User == nil || !strings.EqualFold(m.NewChatMember.User.UserName, d.botUser) {
		return
	}
	status := m.NewChatMember.Status
	if status != "kicked" && status != "left" {
		return
	}

	cfg := d.deps.Groups.Snapshot()
	g := cfg.GroupByChat(m.Chat.ID)
	if g == nil {
		return
	}

	text := fmt.Sprintf("The bot has been removed from the group %q and the link has been cleared.", g.Name)
	if len(cfg.AdminHandles) > 0 {
		mentions := make([]string, 0, len(cfg.AdminHandles))
		for _, h := range cfg.AdminHandles {
			mentions = append(mentions, "@"+h)
		}
		text += "\n\n" + strings.Join(mentions, " ")
	}
	if _, err := d.api.Send(tgbotapi.NewMessage(m.Chat.ID, text)); err != nil {
		d.log.Error().Err(err).Int64("chat_id", m.Chat.ID).Msg("removal notice failed")
	}

	groupName, err := d.deps.Groups.Unlink(m.Chat.ID)
	if errors.Is(err, groups.ErrChatNotLinked) {
		return
	}
	if err != nil {
		d.log.Error().Err(err).Int64("chat_id", m.Chat.ID).Msg("unlink after removal failed")
		return
	}
	d.log.Warn().
		Int64("chat_id", m.Chat.ID).
		Str("group", groupName).
		Strs("admins", cfg.AdminHandles).
		Msg("bot removed from linked chat; link cleared")
}
