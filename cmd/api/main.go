package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/ganithub/ganithub-api/internal/config"
	"github.com/ganithub/ganithub-api/internal/domain/gamification"
	"github.com/ganithub/ganithub-api/internal/middleware"
	"github.com/ganithub/ganithub-api/internal/pkg/database"
	"github.com/ganithub/ganithub-api/internal/pkg/jwt"
	"github.com/ganithub/ganithub-api/internal/pkg/logger"
	pkgresponse "github.com/ganithub/ganithub-api/internal/pkg/response"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting GanitHub gamification API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redisClient)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Repositories ----------
	ledgerRepo := gamification.NewLedgerRepository(db)
	badgeRepo := gamification.NewBadgeRepository(db, ledgerRepo)
	progressSource := gamification.NewPostgresProgressSource(db)
	reportingRepo := gamification.NewReportingRepository(db)

	if cfg.SeedDefaultBadges {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := badgeRepo.EnsureDefaultBadges(ctx); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("Failed to seed default badges")
		}
		cancel()
	}

	// ---------- Engine & services ----------
	engine := gamification.NewEngine(badgeRepo)
	for kind, evaluate := range gamification.DefaultEvaluators(progressSource, ledgerRepo) {
		engine.Register(kind, evaluate)
	}

	gamificationService := gamification.NewService(ledgerRepo, badgeRepo, engine)
	leaderboardService := gamification.NewLeaderboardService(reportingRepo, redisClient, cfg.LeaderboardCacheTTL)

	// ---------- Handlers ----------
	gamificationHandler := gamification.NewHandler(gamificationService, leaderboardService, reportingRepo)

	authMiddleware := middleware.Auth(jwtService)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/gamification", gamificationHandler.Routes(authMiddleware))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}
