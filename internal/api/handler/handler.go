package handler

import (
	"net/http"

	"chatrelay/backend/internal/auth"
	"chatrelay/backend/internal/chathub"

	"github.com/gin-gonic/gin"
)

// Handler holds what the HTTP routes need.
type Handler struct {
	Hub  *chathub.ManagerService
	Auth auth.Authenticator
	// SendBuffer is the outbound queue length of each websocket client.
	SendBuffer int
	Name       string
}

func NewHandler(hub *chathub.ManagerService, authn auth.Authenticator, sendBuffer int, name string) *Handler {
	return &Handler{Hub: hub, Auth: authn, SendBuffer: sendBuffer, Name: name}
}

func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"type": "root", "name": h.Name})
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
