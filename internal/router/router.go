package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/jobportal-backend/internal/config"
	"github.com/stemsi/jobportal-backend/internal/handler"
	"github.com/stemsi/jobportal-backend/internal/middleware"
	"github.com/stemsi/jobportal-backend/internal/response"
	"github.com/stemsi/jobportal-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	TestSession *handler.TestSessionHandler
	Result      *handler.ResultHandler
	WS          *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID and request-scoped logger on every route.
	router.Use(response.RequestIDMiddleware(log))

	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Candidate Group (JWT, rate limited per candidate) ──────────
	candidateAPI := router.Group("/api/v1/candidate")
	candidateAPI.Use(
		middleware.RequireCandidateJWT(authService),
		limiter.Middleware(),
		middleware.NoStore(),
	)
	{
		session := candidateAPI.Group("/test-session")
		{
			session.POST("", handlers.TestSession.Start)
			session.GET("", handlers.TestSession.Get)
			session.DELETE("", handlers.TestSession.Close)
			session.POST("/answer", handlers.TestSession.SelectAnswer)
			session.POST("/advance", handlers.TestSession.Advance)
			session.POST("/submit", handlers.TestSession.Submit)
		}

		// REST contract for controllers running outside the server.
		candidateAPI.GET("/test", handlers.Result.AssignedTest)
		candidateAPI.POST("/results", handlers.Result.SubmitResult)
		candidateAPI.GET("/results", handlers.Result.History)
	}

	// ─── 2. WebSocket Group (Candidate WS Auth) ────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireCandidateWSAuth(authService))
	{
		ws.GET("/candidate/test-session/stream", handlers.WS.SessionStream)
	}

	return router
}
