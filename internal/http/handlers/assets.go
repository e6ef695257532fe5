// Bundled static assets for the login flow.

package handlers

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed assets/default-avatar.svg
var defaultAvatarSVG []byte

// DefaultAvatar serves the bundled fallback avatar used for accounts whose
// Telegram profile carries no photo.
func DefaultAvatar(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/svg+xml", defaultAvatarSVG)
}
