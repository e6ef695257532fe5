package bot

import (
	"context"
	"errors"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-telejelly-backend/internal/domain"
)

// ErrBotDisabled is returned by the manager's send methods while no bot is
// running, typically because no valid token is configured.
var ErrBotDisabled = errors.New("bot: not running")

// Manager owns the bot lifecycle. Apply tears the current bot down and
// starts a fresh one for the configured token, so configuration changes
// take effect without restarting the process. It doubles as the message
// transport for the notification scheduler, staying valid across restarts.
type Manager struct {
	deps Deps
	log  zerolog.Logger

	// connect is swapped out in tests.
	connect func(token string) (API, string, error)

	mu      sync.Mutex
	api     API
	botUser string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager builds a stopped Manager.
func NewManager(deps Deps, log zerolog.Logger) *Manager {
	return &Manager{
		deps: deps,
		log:  log.With().Str("component", "bot").Logger(),
		connect: func(token string) (API, string, error) {
			return connectAPI(token)
		},
	}
}

func connectAPI(token string) (API, string, error) {
	api, user, err := connect(token)
	if err != nil {
		return nil, "", err
	}
	return api, user, nil
}

// Apply restarts the bot for cfg. An empty token leaves the bot stopped;
// an invalid one returns the authentication error with the bot stopped.
func (m *Manager) Apply(cfg domain.Configuration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	if cfg.BotToken == "" {
		m.log.Info().Msg("no bot token configured, bot disabled")
		return nil
	}

	api, botUser, err := m.connect(cfg.BotToken)
	if err != nil {
		m.log.Error().Err(err).Msg("bot token rejected")
		return err
	}

	dispatcher, err := NewDispatcher(api, botUser, m.deps, m.log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.api = api
	m.botUser = botUser
	m.cancel = cancel
	m.done = done

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				dispatcher.HandleUpdate(ctx, update)
			}
		}
	}()

	m.log.Info().Str("bot", botUser).Msg("bot started")
	return nil
}

// Stop shuts the current bot down, if any.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.api.StopReceivingUpdates()
	<-m.done
	m.log.Info().Str("bot", m.botUser).Msg("bot stopped")
	m.api = nil
	m.botUser = ""
	m.cancel = nil
	m.done = nil
}

// Running reports whether a bot is currently polling.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.api != nil
}

// BotUsername returns the active bot's username, "" while stopped.
func (m *Manager) BotUsername() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUser
}

// SendMessage delivers a MarkdownV2 message through the active bot.
func (m *Manager) SendMessage(chatID int64, text string) error {
	sender, err := m.currentSender()
	if err != nil {
		return err
	}
	return sender.SendMessage(chatID, text)
}

// SendPhoto delivers a photo with a MarkdownV2 caption through the active bot.
func (m *Manager) SendPhoto(chatID int64, photoURL, caption string) error {
	sender, err := m.currentSender()
	if err != nil {
		return err
	}
	return sender.SendPhoto(chatID, photoURL, caption)
}

func (m *Manager) currentSender() (*Sender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.api == nil {
		return nil, ErrBotDisabled
	}
	return NewSender(m.api), nil
}
