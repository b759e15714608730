package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Alexander0x1307376/ultra-chateg/internal/adapters/auth"
	"github.com/Alexander0x1307376/ultra-chateg/internal/adapters/directory"
	"github.com/Alexander0x1307376/ultra-chateg/internal/adapters/signal"
	"github.com/Alexander0x1307376/ultra-chateg/internal/app"
	"github.com/Alexander0x1307376/ultra-chateg/internal/config"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionName     = "RoomsSessions"
	sessionTokenKey = "access_token"
	authTimeout     = 5 * time.Second
)

type Deps struct {
	Signal    *signal.SignalWSController
	Directory directory.Directory
	Store     *app.ChannelStore
	Verifier  *auth.JWTVerifier
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(OriginFilter(cfg.AllowedOrigins))
	}

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode, MaxAge: 3600 * 24})
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": cfg.ICEServers})
	})

	h := &handlers{deps: deps}
	api.POST("/session", h.createSession)
	api.DELETE("/session", h.deleteSession)

	channels := api.Group("/channels")
	channels.GET("", h.listChannels)
	channels.GET("/:id/details", h.channelDetails)
	authed := channels.Group("", deps.Verifier.JWTAuth())
	authed.POST("", h.createChannel)
	authed.PATCH("/:id", h.renameChannel)
	authed.DELETE("/:id", h.removeChannel)

	api.GET("/ws", func(c *gin.Context) {
		user, ok := h.authenticate(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("user", user.ID.String()).Msg("ws signal endpoint hit")
		deps.Signal.HandleSignal(ctx, c, user)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

// authenticate resolves the websocket token from the Authorization header,
// the token query parameter or the cookie session, in that order.
func (h *handlers) authenticate(c *gin.Context) (domain.User, bool) {
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		if v, ok := sessions.Default(c).Get(sessionTokenKey).(string); ok {
			token = v
		}
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), authTimeout)
	defer cancel()
	user, err := h.deps.Verifier.Verify(ctx, token)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws auth rejected")
		return domain.User{}, false
	}
	return user, true
}
