// Command server runs the chat backend HTTP API.
//
//	@title						Spark Chat Backend API
//	@version					1.0
//	@description				Accounts, profiles and chat threads with assistant replies.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Session token as "Bearer <token>"
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/spark-chat-backend/docs"
	"github.com/tbourn/spark-chat-backend/internal/completion"
	"github.com/tbourn/spark-chat-backend/internal/config"
	httpapi "github.com/tbourn/spark-chat-backend/internal/http"
	"github.com/tbourn/spark-chat-backend/internal/identity"
	"github.com/tbourn/spark-chat-backend/internal/observability"
	"github.com/tbourn/spark-chat-backend/internal/repo"
	"github.com/tbourn/spark-chat-backend/internal/session"
	"github.com/tbourn/spark-chat-backend/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.ConfigureLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownOTEL, err := observability.Setup(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	target := cfg.DB.Path
	if cfg.DB.Driver == config.DriverPostgres {
		target = cfg.DB.DSN
	}
	db, err := repo.Open(cfg.DB.Driver, target)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Sign-out and token checks fail with 503 until Redis is reachable.
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup")
	}

	sessions, err := session.NewManager(session.Options{
		Secret: []byte(cfg.Session.Secret),
		TTL:    cfg.Session.TTL,
		Issuer: cfg.Session.Issuer,
	}, rdb)
	if err != nil {
		return fmt.Errorf("sessions: %w", err)
	}

	provider, err := newProvider(ctx, cfg, db)
	if err != nil {
		return err
	}

	deps := httpapi.Deps{
		DB:       db,
		Identity: identity.NewGateway(provider, sessions, cfg.Identity.MinPasswordLen),
		Sessions: sessions,
	}
	if cfg.RepliesEnabled() {
		cc, err := completion.New(ctx, cfg.Completion.APIKey, cfg.Completion.Model)
		if err != nil {
			return fmt.Errorf("completion: %w", err)
		}
		defer cc.Close()
		deps.Completer = cc
	} else {
		log.Warn().Msg("no completion API key; assistant replies disabled")
	}

	gin.SetMode(cfg.GinMode)
	docs.SwaggerInfo.BasePath = cfg.APIBasePath
	docs.SwaggerInfo.Version = version

	r := gin.New()
	httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", srv.Addr).
			Str("identity", cfg.Identity.Provider).
			Str("db", cfg.DB.Driver).
			Bool("replies", cfg.RepliesEnabled()).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func newProvider(ctx context.Context, cfg config.Config, db *gorm.DB) (identity.Provider, error) {
	switch cfg.Identity.Provider {
	case config.ProviderFirebase:
		p, err := identity.NewFirebaseProvider(ctx, cfg.Identity.FirebaseAPIKey)
		if err != nil {
			return nil, fmt.Errorf("identity provider: %w", err)
		}
		return p, nil
	case config.ProviderLocal:
		return identity.NewLocalProvider(db), nil
	default:
		return nil, fmt.Errorf("unknown identity provider %q", cfg.Identity.Provider)
	}
}
