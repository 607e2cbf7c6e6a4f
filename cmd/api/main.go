package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/realtime-gateway/internal/api/http"
	"github.com/spec-kit/realtime-gateway/internal/api/http/handlers"
	"github.com/spec-kit/realtime-gateway/internal/auth"
	"github.com/spec-kit/realtime-gateway/internal/config"
	"github.com/spec-kit/realtime-gateway/internal/events"
	"github.com/spec-kit/realtime-gateway/internal/gateway"
	"github.com/spec-kit/realtime-gateway/internal/observability"
	"github.com/spec-kit/realtime-gateway/internal/persistence"
	"github.com/spec-kit/realtime-gateway/internal/repository"
	"github.com/spec-kit/realtime-gateway/internal/service"
	"github.com/spec-kit/realtime-gateway/internal/sms"
	"github.com/spec-kit/realtime-gateway/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	refreshRepo := repository.NewRefreshTokenRepository(pool)
	otpRepo := repository.NewOtpRepository(redis.Client)

	dispatcher := events.NewInMemoryDispatcher(logger)
	smsClient := sms.NewClient(cfg.SMS, logger)

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		UserRepo:         userRepo,
		RefreshTokenRepo: refreshRepo,
		OtpRepo:          otpRepo,
		Sender:           smsClient,
		Dispatcher:       dispatcher,
		Logger:           logger,
	})
	authMiddleware := auth.NewMiddleware(authService.TokenService(), userRepo)

	// The gateway can run against a dedicated secret; when it shares the auth
	// secret the full token service verifies kind and revocation metadata.
	verifier := gateway.NewServiceVerifier(authService.TokenService())
	if cfg.Gateway.Secret != cfg.Auth.JWTSecret {
		verifier = gateway.NewSecretVerifier([]byte(cfg.Gateway.Secret))
	}
	authenticator := gateway.NewAuthenticator(gateway.AuthenticatorConfig{
		Verifier: verifier,
	}, logger)
	gw := gateway.New(cfg.Gateway, authenticator, logger, metrics)

	notificationService := service.NewNotificationService(dispatcher, gw, logger)
	worker.StartNotificationWorker(notificationService)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, gw)
	authHandler := handlers.NewAuthHandler(authService)
	gatewayHandler := handlers.NewGatewayHandler(gw, authService, metrics)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Auth:           authHandler,
		Gateway:        gatewayHandler,
		AuthMiddleware: authMiddleware,
	})

	gw.Initialize()
	go func() {
		if err := gw.Start(); err != nil {
			logger.Fatal("gateway listen", zap.Error(err))
		}
	}()

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout())
	defer shutdownCancel()
	gw.Shutdown(shutdownCtx)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
