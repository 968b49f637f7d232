package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/store"
)

// NewServer builds an HTTP server with the REST API and the live channel.
func NewServer(relay *core.Relay, authService *auth.Service, st store.IdentityStore, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(relay, authService, st, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter wires the gin engine.
func NewRouter(relay *core.Relay, authService *auth.Service, st store.IdentityStore, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.AllowedOrigins))

	router.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(authService, logger)
	chatHandlers := NewChatHandlers(relay, st, logger)

	api := router.Group("/api")
	{
		api.POST("/login", apiHandlers.Login)
		api.POST("/register", apiHandlers.Register)

		chat := api.Group("/chat")
		chat.Use(AuthMiddleware(authService.Tokens(), cfg.Auth.Required, logger))
		{
			chat.GET("/members", chatHandlers.ListIdentities)
			chat.GET("/users", chatHandlers.ListIdentities)
			chat.GET("/messages", chatHandlers.ListMessages)
			chat.POST("/sendMessage", chatHandlers.SendMessage)
		}
	}

	router.GET("/hub/chat", gin.WrapH(NewWSHandler(relay, cfg, logger)))

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
