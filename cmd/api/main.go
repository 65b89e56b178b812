package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/aifitworld/aifitworld-api/internal/config"
	"github.com/aifitworld/aifitworld-api/internal/domain/auth"
	"github.com/aifitworld/aifitworld-api/internal/domain/course"
	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
	"github.com/aifitworld/aifitworld-api/internal/domain/payment"
	"github.com/aifitworld/aifitworld-api/internal/domain/pricing"
	"github.com/aifitworld/aifitworld-api/internal/domain/realtime"
	"github.com/aifitworld/aifitworld-api/internal/domain/user"
	"github.com/aifitworld/aifitworld-api/internal/middleware"
	"github.com/aifitworld/aifitworld-api/internal/pkg/aigen"
	"github.com/aifitworld/aifitworld-api/internal/pkg/armenotech"
	"github.com/aifitworld/aifitworld-api/internal/pkg/database"
	"github.com/aifitworld/aifitworld-api/internal/pkg/imaging"
	"github.com/aifitworld/aifitworld-api/internal/pkg/jwt"
	"github.com/aifitworld/aifitworld-api/internal/pkg/logger"
	"github.com/aifitworld/aifitworld-api/internal/pkg/pdfrender"
	pkgresponse "github.com/aifitworld/aifitworld-api/internal/pkg/response"
	"github.com/aifitworld/aifitworld-api/internal/pkg/retry"
	"github.com/aifitworld/aifitworld-api/internal/pkg/storage"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "aifitworld-api",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting AIFitWorld API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if cfg.RunMigrations {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	exports, err := newStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create export storage")
	}

	app := newApp(cfg, db, rdb, exports)

	go func() {
		if err := app.hub.Listen(ctx, rdb); err != nil {
			log.Error().Err(err).Msg("Balance event listener stopped")
		}
	}()

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     app.router(cfg),
		ReadTimeout: 15 * time.Second,
		// Paid actions wait on generation and rendering.
		WriteTimeout: generationBudget(cfg),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

// app holds the wired services behind the router.
type app struct {
	jwt     *jwt.Service
	auth    *auth.Handler
	tokens  *ledger.Handler
	pricing *pricing.Handler
	payment *payment.Handler
	courses *course.Handler
	stream  *realtime.Handler
	hub     *realtime.Hub
}

// generationBudget is how long one paid action may take end to end.
func generationBudget(cfg *config.Config) time.Duration {
	return time.Duration(cfg.AITimeoutSeconds+cfg.PDFRendererTimeoutSec)*time.Second + 30*time.Second
}

func newApp(cfg *config.Config, db *sqlx.DB, rdb *redis.Client, exports storage.Storage) *app {
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.LedgerStoreRetries
	ledgerService := ledger.NewService(
		ledger.NewPostgresStore(db, cfg.LedgerStoreTimeout),
		ledger.WithCache(ledger.NewRedisBalanceCache(rdb, cfg.LedgerBalanceCacheTTL)),
		ledger.WithPublisher(ledger.NewRedisPublisher(rdb)),
		ledger.WithRetryPolicy(policy),
	)

	paymentService := payment.NewService(ledgerService, payment.NewRepository(db), payment.Config{
		StripeWebhookSecret:      cfg.StripeWebhookSecret,
		StripeSignatureTolerance: cfg.StripeSignatureTolerance,
		ArmenotechSecret:         cfg.ArmenotechSecret,
		TokensPerUnit:            cfg.TokensPerUnit,
	})
	gateway := armenotech.NewClient(armenotech.ClientConfig{
		BaseURL:      cfg.ArmenotechBaseURL,
		MerchantGUID: cfg.ArmenotechMerchantGUID,
		AppToken:     cfg.ArmenotechAppToken,
		AppSecret:    cfg.ArmenotechAppSecret,
	})
	if gateway.Configured() {
		paymentService.WithTransactionLookup(gateway)
	}

	courseService := course.NewService(course.Deps{
		Repo:   course.NewRepository(db),
		Ledger: ledgerService,
		Generator: aigen.NewClient(aigen.Config{
			BaseURL:    cfg.AIBaseURL,
			APIKey:     cfg.AIAPIKey,
			Model:      cfg.AIModel,
			ImageModel: cfg.AIImageModel,
			Timeout:    time.Duration(cfg.AITimeoutSeconds) * time.Second,
		}),
		Renderer: pdfrender.NewClient(cfg.PDFRendererURL, time.Duration(cfg.PDFRendererTimeoutSec)*time.Second),
		Images:   imaging.NewProcessor(imaging.DefaultConfig()),
		Storage:  exports,
	}, course.Config{
		RefundOnFailure:  cfg.RefundOnGenerationFail,
		PublicAppURL:     cfg.PublicAppURL,
		ImageConcurrency: cfg.ImageConcurrency,
		ActionLease:      2 * generationBudget(cfg),
	})

	hub := realtime.NewHub()

	return &app{
		jwt:     jwtService,
		auth:    auth.NewHandler(auth.NewService(user.NewRepository(db), jwtService)),
		tokens:  ledger.NewHandler(ledgerService),
		pricing: pricing.NewHandler(),
		payment: payment.NewHandler(paymentService),
		courses: course.NewHandler(courseService),
		stream:  realtime.NewHandler(hub, ledgerService, cfg.AllowedOrigins),
		hub:     hub,
	}
}

func (a *app) router(cfg *config.Config) http.Handler {
	authMiddleware := middleware.Auth(a.jwt)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		// Upgraded connections must bypass compression.
		r.Mount("/tokens/stream", a.stream.Routes(authMiddleware))

		r.Group(func(r chi.Router) {
			r.Use(chimw.Compress(5))
			r.Mount("/auth", a.auth.Routes(authMiddleware))
			r.Mount("/tokens", a.tokens.Routes(authMiddleware))
			r.Mount("/pricing", a.pricing.Routes())
			r.Mount("/payments", a.payment.Routes(authMiddleware))
			r.Mount("/courses", a.courses.Routes(authMiddleware))
		})
	})

	r.Mount("/webhooks", a.payment.WebhookRoutes())

	if !cfg.UseR2() {
		r.Handle("/exports/*", http.StripPrefix("/exports/", http.FileServer(http.Dir(cfg.LocalStoragePath))))
	}

	return r
}

func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg.UseR2() {
		return storage.NewR2Storage(ctx, storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		})
	}
	log.Warn().Str("path", cfg.LocalStoragePath).Msg("R2 not configured, exports go to local disk")
	return storage.NewLocalStorage(cfg.LocalStoragePath, cfg.LocalStorageURL)
}
