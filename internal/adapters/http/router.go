// Package http wires the REST surface, the signaling websocket endpoint
// and the HLS output directory into one gin router.
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mkrajcer/castroom/internal/adapters/signal"
	"github.com/mkrajcer/castroom/internal/app/orch"
	"github.com/mkrajcer/castroom/internal/config"
	"github.com/mkrajcer/castroom/internal/domain"
	"github.com/mkrajcer/castroom/internal/recording"
)

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CastroomSessions", store))
	r.Use(ClientTokenMiddleware())

	// Playlists and segments are served straight off the pipeline's
	// output directory.
	r.Static("/hls", cfg.HlsDir)

	log.Info().Str("module", "adapters.http").Str("hls", cfg.HlsDir).Msg("router setup")

	ctrl := signal.NewController(o, cfg.ReadLimit)

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": o.Rooms()})
	})

	api.POST("/rooms/:roomId/stream", func(c *gin.Context) {
		roomID := domain.RoomID(c.Param("roomId"))
		err := o.StartStream(roomID)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"roomId": roomID, "playlist": "/hls/" + string(roomID) + "_playlist.m3u8"})
		case errors.Is(err, orch.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		case errors.Is(err, recording.ErrAlreadyActive):
			c.JSON(http.StatusConflict, gin.H{"error": "stream already active"})
		case errors.Is(err, recording.ErrNoVideo):
			c.JSON(http.StatusBadRequest, gin.H{"error": "room has no video producers"})
		default:
			log.Error().Err(err).Str("module", "adapters.http").Str("room", string(roomID)).Msg("start stream")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start stream"})
		}
	})

	api.DELETE("/rooms/:roomId/stream", func(c *gin.Context) {
		roomID := domain.RoomID(c.Param("roomId"))
		if err := o.StopStream(roomID); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("room", string(roomID)).Msg("stop stream")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not stop stream"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	return r
}
