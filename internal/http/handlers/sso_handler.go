// Telegram SSO handler.
//
// This file exposes the login endpoint consumed by the Telegram login
// widget flow:
//   - POST /sso/telegram/authenticate
//
// The widget posts a flat map of string fields (id, username, auth_date,
// hash, ...). The handler verifies the HMAC signature and freshness,
// provisions (or refreshes) the media-server account behind the handle,
// and returns a session token together with the externally visible
// server address.
package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-telejelly-backend/internal/accounts"
	"github.com/tbourn/go-telejelly-backend/internal/auth"
	"github.com/tbourn/go-telejelly-backend/internal/domain"
	"github.com/tbourn/go-telejelly-backend/internal/http/middleware"
)

// ConfigSource returns the current configuration snapshot. Satisfied by
// (*groups.Store).Snapshot.
type ConfigSource func() domain.Configuration

// AccountProvisioner resolves a verified Telegram identity into an
// account plus a fresh session. Satisfied by (*accounts.Provisioner).
type AccountProvisioner interface {
	Provision(ctx context.Context, prof accounts.Profile) (*accounts.Grant, error)
}

// SSOHandlers serves the Telegram login flow.
type SSOHandlers struct {
	cfg       ConfigSource
	provision AccountProvisioner
	authTTL   time.Duration
}

// NewSSO constructs the SSO handler set. authTTL bounds the accepted age
// of a login payload; values <= 0 fall back to the verifier default.
func NewSSO(cfg ConfigSource, provision AccountProvisioner, authTTL time.Duration) *SSOHandlers {
	return &SSOHandlers{cfg: cfg, provision: provision, authTTL: authTTL}
}

// AuthResult is the login outcome consumed by the login page script.
type AuthResult struct {
	// Ok reports whether the login succeeded.
	Ok bool `json:"ok"`
	// ServerAddress is the externally visible media-server address.
	ServerAddress string `json:"serverAddress"`
	// ErrorMessage is set when Ok is false; safe to display.
	ErrorMessage string `json:"errorMessage,omitempty"`
	// Token is the opaque session bearer value.
	Token string `json:"token,omitempty"`
	// User describes the authenticated account.
	User *AuthUser `json:"user,omitempty"`
}

// AuthUser is the account summary embedded in a successful AuthResult.
type AuthUser struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsAdmin   bool   `json:"isAdmin"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Authenticate handles POST /sso/telegram/authenticate.
//
// Flow:
//  1. Verify the HMAC signature and replay window of the widget payload.
//  2. Provision the account (whitelist check, folder grants, session).
//  3. Return the session token and server address, or a failure result
//     carrying a displayable error message.
func (h *SSOHandlers) Authenticate(c *gin.Context) {
	cfg := h.cfg()
	addr := serverAddress(c.Request, cfg.ForcedURLScheme)

	var fields map[string]string
	if err := c.ShouldBindJSON(&fields); err != nil {
		ok(c, http.StatusBadRequest, AuthResult{ServerAddress: addr, ErrorMessage: "invalid request body"})
		return
	}

	v := auth.NewVerifier(cfg.BotToken, h.authTTL)
	if st := v.Verify(fields); st != auth.StatusOK {
		middleware.LoggerFrom(c).Warn().
			Str("reason", st.String()).
			Str("handle", fields["username"]).
			Msg("login rejected")
		ok(c, http.StatusUnauthorized, AuthResult{ServerAddress: addr, ErrorMessage: loginError(st)})
		return
	}

	grant, err := h.provision.Provision(c.Request.Context(), loginProfile(fields))
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrNoHandle):
			ok(c, http.StatusUnauthorized, AuthResult{ServerAddress: addr, ErrorMessage: "your Telegram account has no username"})
		case errors.Is(err, accounts.ErrNotWhitelisted):
			ok(c, http.StatusUnauthorized, AuthResult{ServerAddress: addr, ErrorMessage: "you are not whitelisted"})
		case errors.Is(err, accounts.ErrIdentityMismatch):
			ok(c, http.StatusUnauthorized, AuthResult{ServerAddress: addr, ErrorMessage: "this username belongs to a different Telegram account"})
		default:
			middleware.LoggerFrom(c).Error().Err(err).Msg("login provisioning failed")
			ok(c, http.StatusInternalServerError, AuthResult{ServerAddress: addr, ErrorMessage: "login failed, please try again later"})
		}
		return
	}

	ok(c, http.StatusOK, AuthResult{
		Ok:            true,
		ServerAddress: addr,
		Token:         grant.Session.Token,
		User: &AuthUser{
			ID:        grant.Account.ID,
			Name:      grant.Account.DisplayName,
			IsAdmin:   grant.Account.IsAdmin,
			AvatarURL: grant.Account.AvatarURL,
		},
	})
}

// loginProfile extracts the identity fields of a verified payload.
func loginProfile(fields map[string]string) accounts.Profile {
	prof := accounts.Profile{
		Handle:      fields["username"],
		DisplayName: strings.TrimSpace(fields["first_name"] + " " + fields["last_name"]),
		AvatarURL:   fields["photo_url"],
	}
	if id, err := strconv.ParseInt(fields["id"], 10, 64); err == nil {
		prof.TelegramID = id
	}
	return prof
}

// loginError maps a verification status to a displayable message.
func loginError(st auth.Status) string {
	switch st {
	case auth.StatusExpired:
		return "login expired, please try again"
	case auth.StatusMissingField, auth.StatusMalformedAuthDate:
		return "login payload incomplete"
	default:
		return "login signature invalid"
	}
}

// serverAddress composes the externally visible base address from the
// incoming request host, honoring the configured forced scheme and
// stripping default ports.
func serverAddress(r *http.Request, forced domain.URLScheme) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	if forced == domain.SchemeHTTP || forced == domain.SchemeHTTPS {
		scheme = string(forced)
	}

	host := r.Host
	if h, p, err := net.SplitHostPort(host); err == nil {
		if (scheme == "http" && p == "80") || (scheme == "https" && p == "443") {
			host = h
		}
	}
	return scheme + "://" + host
}
