// Package bot implements the Telegram side of the service: the long-poll
// update loop, the command registry and dispatcher, group membership
// synchronization, and the sender used for content announcements.
package bot

import (
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// API is the subset of the Telegram Bot API client the package uses.
// *tgbotapi.BotAPI satisfies it; tests provide a fake.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatAdministrators(cfg tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// connectTimeout bounds the one-shot token validation call.
const connectTimeout = 10 * time.Second

// connect authenticates against the Bot API and returns the client plus
// the bot's own username. getUpdates holds the connection open for the
// long-poll window, so this client carries no overall timeout.
func connect(token string) (*tgbotapi.BotAPI, string, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, "", err
	}
	return api, api.Self.UserName, nil
}

// ValidateBotToken checks a token by authenticating against the Bot API.
// Returns the bot's username on success.
func ValidateBotToken(token string) (string, error) {
	client := &http.Client{Timeout: connectTimeout}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return "", err
	}
	return api.Self.UserName, nil
}

// Sender delivers MarkdownV2 messages and photos to chats. It implements
// the announcement transport used by the notification scheduler.
type Sender struct {
	api API
}

// NewSender wraps api as an announcement transport.
func NewSender(api API) *Sender {
	return &Sender{api: api}
}

// SendMessage sends a MarkdownV2 text message to chatID.
func (s *Sender) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	_, err := s.api.Send(msg)
	return err
}

// SendPhoto sends a photo by URL with a MarkdownV2 caption to chatID.
func (s *Sender) SendPhoto(chatID int64, photoURL, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(photoURL))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeMarkdownV2
	_, err := s.api.Send(photo)
	return err
}
