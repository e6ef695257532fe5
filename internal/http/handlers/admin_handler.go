// Configuration-page collaborator endpoints.
//
//   - POST   /api/telejelly/validate-bot-token   (probe a bot token)
//   - GET    /api/telejelly/requests             (list the request queue)
//   - POST   /api/telejelly/requests             (replace the request queue)
//   - GET    /api/telejelly/folders              (media folders for group grants)
//   - GET    /api/telejelly/accounts             (provisioned accounts)
//   - GET    /api/telejelly/sessions/:token      (session introspection)
//   - DELETE /api/telejelly/sessions/:token      (revoke a session)
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-telejelly-backend/internal/accounts"
	"github.com/tbourn/go-telejelly-backend/internal/domain"
	"github.com/tbourn/go-telejelly-backend/internal/media"
)

// TokenValidator probes a bot token against the Telegram API and returns
// the bot username on success. Satisfied by bot.ValidateBotToken.
type TokenValidator func(token string) (string, error)

// RequestQueue is the persisted media request queue consumed by the
// configuration page. Satisfied by (*requests.Store).
type RequestQueue interface {
	List() []domain.MediaRequest
	Replace(entries []domain.MediaRequest) error
}

// FolderCatalog enumerates the media server's top-level folders, shown on
// the configuration page when editing group folder grants. Satisfied by
// (*media.Client).
type FolderCatalog interface {
	Folders(ctx context.Context) ([]media.Folder, error)
}

// AccountDirectory exposes the provisioned accounts and their sessions.
// Satisfied by (*accounts.Directory).
type AccountDirectory interface {
	Accounts(ctx context.Context) ([]domain.Account, error)
	Session(ctx context.Context, token string) (*accounts.SessionInfo, error)
	RevokeSession(ctx context.Context, token string) error
}

// AdminHandlers serves the configuration-page endpoints.
type AdminHandlers struct {
	validate TokenValidator
	queue    RequestQueue
	catalog  FolderCatalog
	dir      AccountDirectory
}

// NewAdmin constructs the configuration-page handler set.
func NewAdmin(validate TokenValidator, queue RequestQueue, catalog FolderCatalog, dir AccountDirectory) *AdminHandlers {
	return &AdminHandlers{validate: validate, queue: queue, catalog: catalog, dir: dir}
}

// ValidateTokenRequest is the JSON payload for the token probe.
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse reports the probe outcome.
type ValidateTokenResponse struct {
	Ok           bool   `json:"ok"`
	BotUsername  string `json:"botUsername,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// ValidateBotToken handles POST /api/telejelly/validate-bot-token.
//
// A rejected token is a valid probe outcome, not a transport error, so
// the response is 200 with ok=false and a message.
func (h *AdminHandlers) ValidateBotToken(c *gin.Context) {
	var req ValidateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "token is required")
		return
	}

	username, err := h.validate(token)
	if err != nil {
		ok(c, http.StatusOK, ValidateTokenResponse{ErrorMessage: err.Error()})
		return
	}
	ok(c, http.StatusOK, ValidateTokenResponse{Ok: true, BotUsername: username})
}

// ListRequests handles GET /api/telejelly/requests. The result is sorted
// newest first and is never null.
func (h *AdminHandlers) ListRequests(c *gin.Context) {
	entries := h.queue.List()
	if entries == nil {
		entries = []domain.MediaRequest{}
	}
	ok(c, http.StatusOK, entries)
}

// ReplaceRequests handles POST /api/telejelly/requests, replacing the
// whole queue with the posted entries.
func (h *AdminHandlers) ReplaceRequests(c *gin.Context) {
	var entries []domain.MediaRequest
	if err := c.ShouldBindJSON(&entries); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if err := h.queue.Replace(entries); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSaveFailed, "could not persist request queue")
		return
	}
	noContent(c)
}

// FolderResponse is one media folder offered for group grants.
type FolderResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListFolders handles GET /api/telejelly/folders.
func (h *AdminHandlers) ListFolders(c *gin.Context) {
	folders, err := h.catalog.Folders(c.Request.Context())
	if err != nil {
		fail(c, http.StatusBadGateway, ErrCodeUpstream, "could not reach the media server")
		return
	}
	out := make([]FolderResponse, 0, len(folders))
	for _, f := range folders {
		out = append(out, FolderResponse{ID: f.ID, Name: f.Name})
	}
	ok(c, http.StatusOK, out)
}

// AccountResponse is one provisioned account as shown on the
// configuration page.
type AccountResponse struct {
	domain.Account
	Folders []string `json:"folders"`
}

// ListAccounts handles GET /api/telejelly/accounts.
func (h *AdminHandlers) ListAccounts(c *gin.Context) {
	list, err := h.dir.Accounts(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list accounts")
		return
	}
	out := make([]AccountResponse, 0, len(list))
	for i := range list {
		out = append(out, AccountResponse{Account: list[i], Folders: list[i].Folders()})
	}
	ok(c, http.StatusOK, out)
}

// SessionResponse describes one session for introspection.
type SessionResponse struct {
	Token          string `json:"token"`
	AccountID      string `json:"accountId"`
	CreatedAt      string `json:"createdAt"`
	ActiveSessions int64  `json:"activeSessions"`
}

// GetSession handles GET /api/telejelly/sessions/:token.
func (h *AdminHandlers) GetSession(c *gin.Context) {
	info, err := h.dir.Session(c.Request.Context(), c.Param("token"))
	if errors.Is(err, accounts.ErrNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load session")
		return
	}
	ok(c, http.StatusOK, SessionResponse{
		Token:          info.Session.Token,
		AccountID:      info.Session.AccountID,
		CreatedAt:      info.Session.CreatedAt.UTC().Format(time.RFC3339),
		ActiveSessions: info.ActiveSessions,
	})
}

// RevokeSession handles DELETE /api/telejelly/sessions/:token. Revoking an
// unknown token still returns 204.
func (h *AdminHandlers) RevokeSession(c *gin.Context) {
	if err := h.dir.RevokeSession(c.Request.Context(), c.Param("token")); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not revoke session")
		return
	}
	noContent(c)
}
