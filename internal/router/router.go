package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-station/internal/config"
	"github.com/stemsi/exstem-station/internal/handler"
	"github.com/stemsi/exstem-station/internal/middleware"
	"github.com/stemsi/exstem-station/internal/response"
	"github.com/stemsi/exstem-station/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth   *handler.AuthHandler
	Exam   *handler.ExamHandler
	WS     *handler.WSHandler
	System *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// The renderer usually runs from a file:// or localhost origin; an empty
	// AllowedOrigins list allows all so kiosk images work without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{
			"status": "ok",
			"phase":  handlers.Exam.Phase(),
		})
	})

	// ─── 1. Station Auth (Public, Rate Limited) ────────────────────────
	loginLimiter := middleware.NewRateLimiter(cfg.LoginRateLimit, time.Minute)

	auth := router.Group("/api/v1/station")
	{
		auth.POST("/login", loginLimiter.Middleware(), handlers.Auth.StationLogin)
		auth.GET("/me",
			middleware.RequireRendererJWT(authService),
			middleware.CheckSingleRenderer(authService),
			handlers.Auth.GetRendererSession,
		)
		auth.GET("/diagnostics",
			middleware.RequireRendererJWT(authService),
			middleware.CheckSingleRenderer(authService),
			handlers.System.DiagnosticsSSE,
		)
	}

	// ─── 2. Exam Group (Renderer JWT + Single Renderer) ────────────────
	examAPI := router.Group("/api/v1/exam")
	examAPI.Use(
		middleware.RequireRendererJWT(authService),
		middleware.CheckSingleRenderer(authService),
		middleware.NoStore(),
	)
	{
		examAPI.GET("/state", handlers.Exam.GetState)
		examAPI.POST("/gate/verify", handlers.Exam.VerifyGate)
		examAPI.POST("/session/start", handlers.Exam.StartSession)
		examAPI.POST("/session/resume", handlers.Exam.ResumeSession)
		examAPI.POST("/answers", handlers.Exam.RecordAnswer)
		examAPI.POST("/navigate", handlers.Exam.Navigate)
		examAPI.POST("/navigate/jump", handlers.Exam.Jump)
		examAPI.GET("/unanswered", handlers.Exam.GetUnanswered)
		examAPI.POST("/finish", handlers.Exam.Finish)
		examAPI.GET("/results", handlers.Exam.GetResults)
		examAPI.POST("/reset", handlers.Exam.Reset)
	}

	// ─── 3. WebSocket Group (Renderer WS Auth) ─────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireRendererWSAuth(authService),
		middleware.CheckSingleRenderer(authService),
	)
	{
		ws.GET("/exam/events", handlers.WS.ExamEventStream)
	}

	return router
}
