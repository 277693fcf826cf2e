package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/MeshCall/internal/config"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/dkeye/MeshCall/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func SetupRouter(ctx context.Context, cfg *config.Config, hub *relay.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": hub.Rooms.List()})
	})
	api.GET("/rooms/:name/members", func(c *gin.Context) {
		name, err := domain.ParseRoomName(c.Param("name"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		members, err := hub.Presence.Members(c.Request.Context(), name)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("presence lookup")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": name, "members": members})
	})

	r.GET("/ws", func(c *gin.Context) {
		handleWS(ctx, c, hub)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

func handleWS(ctx context.Context, c *gin.Context, hub *relay.Hub) {
	room, errRoom := domain.ParseRoomName(c.Query("room"))
	user, errUser := domain.ParseUserID(c.Query("userId"))
	if err := errors.Join(errRoom, errUser); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !hub.Limiter.Allow(user) {
		log.Warn().Str("module", "adapters.http").Str("user", user.String()).Msg("join rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many join attempts"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "adapters.http").Str("room", room.String()).Str("user", user.String()).Msg("ws connection")
	hub.Serve(ctx, ws, room, user)
}
