package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iplinks/iplinks-go/internal/config"
	"github.com/iplinks/iplinks-go/internal/handler"
	"github.com/iplinks/iplinks-go/internal/jobs"
	"github.com/iplinks/iplinks-go/internal/middleware"
	"github.com/iplinks/iplinks-go/internal/redis"
	"github.com/iplinks/iplinks-go/internal/repository"
	"github.com/iplinks/iplinks-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	var (
		pairingRepo repository.PairingSessionRepository
		limiter     middleware.Limiter
	)

	switch cfg.PairingStore {
	case config.StoreRedis:
		redisClient, err := redis.NewClient(cfg.RedisURL, config.RedisPingTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		pairingRepo = repository.NewRedisPairingSessionRepository(redisClient.Client, cfg.PairingTTL())
		limiter = middleware.NewRedisRateLimiter(redisClient.Client)
	default:
		pairingRepo = repository.NewMemoryPairingSessionRepository()
		limiter = middleware.NewRateLimiter()
	}

	pairingService := service.NewPairingService(pairingRepo, cfg.PairingTTL())
	xtreamService := service.NewXtreamService(cfg.UpstreamTimeout())

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)
	pairRateLimitMiddleware := middleware.NewRateLimitMiddleware(limiter, cfg.PairRateLimitPerMin, "pair")
	probeLimiter := middleware.NewProbeLimiter(0)

	pairingHandler := handler.NewPairingHandler(pairingService)
	xtreamHandler := handler.NewXtreamHandler(xtreamService)
	healthHandler := handler.NewHealthHandler(pairingService, cfg.PairingStore)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Route("/tv-pair", func(r chi.Router) {
			r.Use(pairRateLimitMiddleware.Handler)
			r.Use(probeLimiter.Handler)
			r.Mount("/", pairingHandler.Routes())
		})
		r.Mount("/xtream", xtreamHandler.Routes())
		r.Post("/accounts/verify", xtreamHandler.VerifyAccount)
	})

	if interval := cfg.ReaperInterval(); interval > 0 {
		cleanupJob := jobs.NewCleanupJob(pairingService, interval)
		cleanupJob.Start()
		defer cleanupJob.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr()).
			Str("store", cfg.PairingStore).
			Dur("ttl", cfg.PairingTTL()).
			Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
