package http

import (
	"errors"
	"net/http"

	"github.com/Alexander0x1307376/ultra-chateg/internal/adapters/auth"
	"github.com/Alexander0x1307376/ultra-chateg/internal/adapters/directory"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	deps Deps
}

type sessionRequest struct {
	Token string `json:"token" binding:"required"`
}

type channelRequest struct {
	Name string `json:"name" binding:"required"`
}

// createSession stores a verified token in the cookie session so browsers
// can open the websocket without putting the token in the URL.
func (h *handlers) createSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.deps.Verifier.Verify(c.Request.Context(), req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	s := sessions.Default(c)
	s.Set(sessionTokenKey, req.Token)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *handlers) deleteSession(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	_ = s.Save()
	c.Status(http.StatusNoContent)
}

func (h *handlers) listChannels(c *gin.Context) {
	list, err := h.deps.Directory.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list channels")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list channels"})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handlers) channelDetails(c *gin.Context) {
	t, ok := h.deps.Store.Get(domain.ChannelID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": directory.ErrChannelNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *handlers) createChannel(c *gin.Context) {
	user, _ := auth.UserFrom(c)
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, err := h.deps.Directory.Create(c.Request.Context(), req.Name, user.ID)
	if err != nil {
		writeDirectoryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (h *handlers) renameChannel(c *gin.Context) {
	user, _ := auth.UserFrom(c)
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, err := h.deps.Directory.Rename(c.Request.Context(), domain.ChannelID(c.Param("id")), req.Name, user.ID)
	if err != nil {
		writeDirectoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handlers) removeChannel(c *gin.Context) {
	user, _ := auth.UserFrom(c)
	if err := h.deps.Directory.Remove(c.Request.Context(), domain.ChannelID(c.Param("id")), user.ID); err != nil {
		writeDirectoryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeDirectoryError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, directory.ErrChannelNotFound):
		status = http.StatusNotFound
	case errors.Is(err, directory.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, directory.ErrNameTaken):
		status = http.StatusConflict
	case errors.Is(err, directory.ErrInvalidName):
		status = http.StatusBadRequest
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("directory")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
