// Security headers for the login and configuration surface.
//
// The API is JSON plus the browser-facing Telegram login flow, so the
// posture differs from a pure machine API: a Content-Security-Policy that
// admits the Telegram login widget (script from telegram.org, iframe from
// oauth.telegram.org), SAMEORIGIN framing so the configuration page can be
// embedded by the dashboard it ships with, and no-store caching for
// responses that carry session tokens. HSTS stays opt-in and is only sent
// on HTTPS requests.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// loginWidgetCSP admits the Telegram login widget and nothing else beyond
// the origin itself.
const loginWidgetCSP = "default-src 'self'; " +
	"script-src 'self' https://telegram.org; " +
	"frame-src https://oauth.telegram.org; " +
	"img-src 'self' https://t.me data:"

// SecurityOptions configures the headers emitted by SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS sends Strict-Transport-Security on HTTPS requests. Only
	// enable when traffic is HTTPS end-to-end, including proxy to app.
	EnableHSTS bool
	// HSTSMaxAge is the HSTS lifetime, 180 days when unset.
	HSTSMaxAge time.Duration
	// NoStore adds Cache-Control: no-store. Login responses carry access
	// tokens, so the router enables this for the whole surface.
	NoStore bool
	// LoginWidget sends the Content-Security-Policy that allows the
	// Telegram login widget to load.
	LoginWidget bool
}

// SecurityHeaders attaches the hardening headers for every response.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.LoginWidget {
			h.Set("Content-Security-Policy", loginWidgetCSP)
		}

		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		// Never on plain HTTP; a cached HSTS policy would brick
		// proxy-terminated deployments.
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security",
				"max-age="+strconv.Itoa(maxAge)+"; includeSubDomains; preload")
		}

		// Let browser clients read the correlation id.
		if rid := h.Get("X-Request-ID"); rid != "" {
			const hdr = "Access-Control-Expose-Headers"
			cur := h.Get(hdr)
			if cur == "" {
				h.Set(hdr, "X-Request-ID")
			} else if !strings.Contains(cur, "X-Request-ID") {
				h.Set(hdr, cur+", X-Request-ID")
			}
		}

		c.Next()
	}
}

// isHTTPS reports whether the request used HTTPS either directly or via a
// reverse proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
