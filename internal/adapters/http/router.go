package http

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SupportCall/internal/adapters/events"
	"github.com/dkeye/SupportCall/internal/app"
	"github.com/dkeye/SupportCall/internal/app/orch"
	"github.com/dkeye/SupportCall/internal/config"
	"github.com/dkeye/SupportCall/internal/domain"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func clientOf(c *gin.Context) app.ClientID {
	return app.ClientID(c.GetString("client_token"))
}

func SetupRouter(ctx context.Context, cfg *config.Config, orch *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("SupportCallSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/session", func(c *gin.Context) {
		view, err := orch.Snapshot(clientOf(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	api.POST("/session/start", func(c *gin.Context) {
		start := orch.Start
		if c.Query("wait") == "credential" {
			start = orch.StartAndWait
		}
		s, err := start(c.Request.Context(), clientOf(c))
		if err != nil {
			writeError(c, err)
			return
		}
		sess := sessions.Default(c)
		sess.Set("last_session", string(s.ID()))
		if err := sess.Save(); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("save cookie session")
		}
		c.JSON(http.StatusAccepted, gin.H{"session_id": s.ID()})
	})

	api.POST("/session/stop", func(c *gin.Context) {
		orch.Stop(clientOf(c))
		c.Status(http.StatusNoContent)
	})

	api.POST("/session/mute", func(c *gin.Context) {
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid enabled"})
			return
		}
		if !orch.SetMicrophoneEnabled(c.Request.Context(), clientOf(c), *req.Enabled) {
			c.JSON(http.StatusConflict, gin.H{"error": "not_connected"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
	})

	api.POST("/session/name", func(c *gin.Context) {
		var req struct {
			Name string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		if err := orch.Rename(clientOf(c), req.Name); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": req.Name})
	})

	ctrl := events.NewController(orch, cfg.ReadLimit)
	api.GET("/ws/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws events endpoint hit")
		ctrl.HandleEvents(ctx, c)
	})

	return r
}

func writeError(c *gin.Context, err error) {
	code := events.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "rate_limited":
		status = http.StatusTooManyRequests
		var limited *orch.RateLimitedError
		if errors.As(err, &limited) {
			secs := int(math.Ceil(limited.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
		}
	case "already_active":
		status = http.StatusConflict
		var active *domain.AlreadyActiveError
		if errors.As(err, &active) {
			c.JSON(status, gin.H{"error": code, "session_id": active.SessionID, "state": active.State})
			return
		}
	case "invalid_name":
		status = http.StatusBadRequest
	case "credential_timeout":
		status = http.StatusGatewayTimeout
	case "credential_invalid", "credential_expired":
		status = http.StatusBadGateway
	case "closed":
		status = http.StatusConflict
	case "unavailable":
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": code})
}
