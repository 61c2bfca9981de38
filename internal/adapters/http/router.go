package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thespecialone1/sharedrop/internal/adapters/signal"
	"github.com/thespecialone1/sharedrop/internal/app"
	"github.com/thespecialone1/sharedrop/internal/config"
	"github.com/thespecialone1/sharedrop/internal/core"
	"github.com/thespecialone1/sharedrop/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser a stable connection token
// so a reloading host comes back under a fresh socket but the same
// cookie jar.
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

func authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		if ok, _ := sess.Get("authenticated").(bool); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, orch *app.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ShareDropSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.POST("/auth", func(c *gin.Context) {
		var req struct {
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || cfg.Password == "" || req.Password != cfg.Password {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		sess := sessions.Default(c)
		sess.Set("authenticated", true)
		_ = sess.Save()
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	// ICE servers for the browser/client orchestrator.
	api.GET("/rtc-config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": cfg.ICEServers})
	})

	// Call snapshot for a room; UI affordances poll this on load.
	api.GET("/call-status", func(c *gin.Context) {
		room := domain.RoomID(c.DefaultQuery("room", "main"))
		state := orch.Calls.Snapshot(room)
		resp := gin.H{
			"active":           state.Active,
			"hostConn":         state.HostConn,
			"participantCount": state.ParticipantCount,
			"locked":           state.Locked,
			"mutedAll":         state.MutedAll,
		}
		if startedAt, ok := orch.Calls.StartedAt(room); ok {
			resp["startedAt"] = startedAt.UnixMilli()
		}
		c.JSON(http.StatusOK, resp)
	})

	// Owner moderation. Gated by the session flag set in /api/auth.
	mod := api.Group("/moderation", authRequired())
	mod.POST("/kick", func(c *gin.Context) {
		var req struct {
			Conn   string `json:"conn"`
			Reason string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Conn == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conn required"})
			return
		}
		if req.Reason == "" {
			req.Reason = "removed by owner"
		}
		if !orch.KickUser(core.ConnID(req.Conn), req.Reason) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown connection"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	mod.POST("/ban", func(c *gin.Context) {
		var req struct {
			Name   string `json:"name"`
			Reason string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
			return
		}
		if req.Reason == "" {
			req.Reason = "banned by owner"
		}
		orch.BanUser(domain.Canonicalize(req.Name), req.Reason)
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	mod.POST("/unban", func(c *gin.Context) {
		var req struct {
			Name string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
			return
		}
		orch.UnbanUser(domain.Canonicalize(req.Name))
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	mod.GET("/bans", func(c *gin.Context) {
		c.JSON(http.StatusOK, orch.Bans.Snapshot())
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl := signal.NewController(orch, cfg)
		log.Info().Str("module", "adapters.http").Str("conn", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
