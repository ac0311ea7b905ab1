// Package httpapi wires the Gin transport to the identity gateway, the
// profile and chat services and the middleware stack.
//
// Middleware order:
//  1. OpenTelemetry span
//  2. RequestID
//  3. Redacting access logger
//  4. Recovery
//  5. Body limit
//  6. Metrics
//  7. gzip
//  8. CORS and security headers
//
// Rate limiting is applied per route group so authenticated requests are
// keyed by user and anonymous ones by client IP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/spark-chat-backend/docs"
	"github.com/tbourn/spark-chat-backend/internal/config"
	"github.com/tbourn/spark-chat-backend/internal/domain"
	"github.com/tbourn/spark-chat-backend/internal/http/handlers"
	"github.com/tbourn/spark-chat-backend/internal/http/middleware"
	"github.com/tbourn/spark-chat-backend/internal/repo"
	"github.com/tbourn/spark-chat-backend/internal/services"
)

// threadRepoShim binds services.ThreadRepo to the repo package functions.
type threadRepoShim struct{}

func (threadRepoShim) LoadThreads(ctx context.Context, db *gorm.DB, userID string) ([]domain.Thread, int64, error) {
	return repo.LoadThreads(ctx, db, userID)
}

func (threadRepoShim) AppendThread(ctx context.Context, db *gorm.DB, userID string, th domain.Thread) error {
	return repo.AppendThread(ctx, db, userID, th)
}

func (threadRepoShim) UpdateThreads(ctx context.Context, db *gorm.DB, userID string, fn func([]domain.Thread) ([]domain.Thread, error)) error {
	return repo.UpdateThreads(ctx, db, userID, fn)
}

func (threadRepoShim) ThreadsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.ThreadsStats(ctx, db, userID)
}

// Deps are the collaborators the router cannot build from config alone.
type Deps struct {
	DB       *gorm.DB
	Identity handlers.AuthService
	Sessions middleware.TokenVerifier
	// Completer answers /replies. Nil disables them.
	Completer services.Completer
}

// RegisterRoutes attaches middleware and endpoints to r.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	// Thread titles are path segments and may contain an escaped "/".
	r.UseRawPath = true
	r.UnescapePathValues = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key", "X-Goog-Api-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(cfg.MaxBodyBytes))
	r.Use(middleware.Metrics())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(corsMiddleware(cfg.CORS))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
		Private:    true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(middleware.MetricsHandler()))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	chats := services.NewChatService(deps.DB, threadRepoShim{}, deps.Completer)
	profiles := services.NewProfileService(deps.DB)
	h := handlers.New(deps.Identity, profiles, chats)

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	api := groupWithPrefix(r, cfg.APIBasePath)

	auth := api.Group("/auth", rl.Handler())
	{
		auth.POST("/signup", h.SignUp)
		auth.POST("/signin", h.SignIn)
		auth.POST("/signout", h.SignOut)
	}

	authed := api.Group("", middleware.Auth(deps.Sessions), rl.Handler())
	{
		authed.GET("/profile", h.GetProfile)
		authed.PUT("/profile", h.PutProfile)
		authed.PATCH("/profile", h.PatchProfile)
		authed.DELETE("/profile", h.DeleteProfile)

		authed.GET("/threads", h.ListThreads)
		authed.POST("/threads", h.CreateThread)
		authed.GET("/threads/:title", h.GetThread)
		authed.POST("/threads/:title/messages", h.AppendMessage)
		authed.POST("/threads/:title/replies", h.Reply)
	}
}

func corsMiddleware(cc config.CORSConfig) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(cc.AllowedOrigins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cc.AllowedOrigins
	}
	return cors.New(c)
}

// limitBody caps request bodies at maxBytes; oversized reads fail in the
// handler's decoder.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
