package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// bearerToken reads the token from the Authorization header, or from the
// "token" query parameter for browser clients that cannot set headers on a
// websocket handshake.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return c.Query("token")
}

// authenticate resolves the caller's identity or aborts with 401.
func (h *Handler) authenticate(c *gin.Context) (uint, bool) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
		return 0, false
	}
	userID, err := h.Auth.Authenticate(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return 0, false
	}
	return userID, true
}
