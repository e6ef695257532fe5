package bot

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-telejelly-backend/internal/domain"
	"github.com/tbourn/go-telejelly-backend/internal/groups"
	"github.com/tbourn/go-telejelly-backend/internal/media"
	"github.com/tbourn/go-telejelly-backend/internal/requests"
)

// Catalog is the media server surface the commands need. *media.Client
// satisfies it.
type Catalog interface {
	Search(ctx context.Context, query string, folderIDs []string, limit int) ([]media.Item, error)
	ResolveExternal(ctx context.Context, externalID string) (*media.RemoteMetadata, error)
}

// PendingCounter reports how many items await metadata before announcement.
type PendingCounter interface {
	PendingCount() int
}

// Deps bundles everything the command handlers reach for.
type Deps struct {
	Groups    *groups.Store
	Requests  *requests.Store
	Catalog   Catalog
	Pending   PendingCounter
	DataDir   string
	StartedAt time.Time
}

// Context carries one inbound command through its handler.
type Context struct {
	Ctx  context.Context
	API  API
	Msg  *tgbotapi.Message
	Args string

	// Cfg is the configuration snapshot taken at dispatch time.
	Cfg domain.Configuration

	// Handle is the sender's Telegram username, "" when they have none.
	Handle  string
	IsAdmin bool

	Deps Deps
	Log  zerolog.Logger
}

// ChatID returns the chat the command arrived in.
func (c *Context) ChatID() int64 { return c.Msg.Chat.ID }

// InGroupChat reports whether the command came from a group or supergroup.
func (c *Context) InGroupChat() bool {
	return c.Msg.Chat.IsGroup() || c.Msg.Chat.IsSuperGroup()
}

// Reply sends plain text back to the originating chat.
func (c *Context) Reply(text string) error {
	_, err := c.API.Send(tgbotapi.NewMessage(c.ChatID(), text))
	return err
}

// ReplyMarkdown sends a MarkdownV2 message back to the originating chat.
func (c *Context) ReplyMarkdown(text string) error {
	msg := tgbotapi.NewMessage(c.ChatID(), text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	_, err := c.API.Send(msg)
	return err
}

// Dispatcher routes Telegram updates to command handlers and membership
// sync. One Dispatcher serves one bot identity.
type Dispatcher struct {
	api     API
	reg     *Registry
	deps    Deps
	botUser string
	log     zerolog.Logger
}

// NewDispatcher wires the full command table. It fails when the table
// cannot be built, which only happens on a duplicate registration.
func NewDispatcher(api API, botUser string, deps Deps, log zerolog.Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		api:     api,
		reg:     NewRegistry(),
		deps:    deps,
		botUser: botUser,
		log:     log.With().Str("component", "bot").Logger(),
	}
	if err := d.registerCommands(); err != nil {
		return nil, err
	}
	return d, nil
}

// HandleUpdate processes a single update. Panics in handlers are contained
// so one malformed update cannot take down the poll loop.
func (d *Dispatcher) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Msg("update handler panicked")
		}
	}()

	if update.MyChatMember != nil {
		d.botStatusChanged(update.MyChatMember)
		return
	}
	msg := update.Message
	if msg == nil {
		return
	}
	switch {
	case len(msg.NewChatMembers) > 0:
		d.membersJoined(msg)
	case msg.LeftChatMember != nil:
		d.memberLeft(msg)
	case msg.IsCommand():
		d.dispatchCommand(ctx, msg)
	}
}

// dispatchCommand resolves and runs a slash command. Commands explicitly
// addressed to another bot are ignored.
func (d *Dispatcher) dispatchCommand(ctx context.Context, msg *tgbotapi.Message) {
	if target := commandTarget(msg); target != "" && !strings.EqualFold(target, d.botUser) {
		return
	}

	cfg := d.deps.Groups.Snapshot()
	handle := ""
	isAdmin := false
	if msg.From != nil {
		handle = msg.From.UserName
		isAdmin = cfg.IsAdmin(handle)
	}

	c := &Context{
		Ctx:     ctx,
		API:     d.api,
		Msg:     msg,
		Args:    strings.TrimSpace(msg.CommandArguments()),
		Cfg:     cfg,
		Handle:  handle,
		IsAdmin: isAdmin,
		Deps:    d.deps,
		Log:     d.log.With().Str("command", msg.Command()).Int64("chat_id", msg.Chat.ID).Logger(),
	}

	cmd, ok := d.reg.Lookup(msg.Command())
	if !ok {
		_ = c.Reply("Unknown command.")
		return
	}
	if cmd.AdminOnly && !isAdmin {
		_ = c.Reply("You are not an administrator.")
		return
	}

	if err := cmd.Handler(c); err != nil {
		c.Log.Error().Err(err).Msg("command failed")
		_ = c.Reply("Something went wrong, please try again later.")
	}
}

// commandTarget returns the @bot part of a command, "" when unaddressed.
func commandTarget(msg *tgbotapi.Message) string {
	withAt := msg.CommandWithAt()
	if i := strings.IndexByte(withAt, '@'); i >= 0 {
		return withAt[i+1:]
	}
	return ""
}
