package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"nutrihub/api/handler"
	apiMiddleware "nutrihub/api/middleware"
	"nutrihub/api/routes"
	"nutrihub/config"
	"nutrihub/internal/cache"
	"nutrihub/internal/repository"
	"nutrihub/internal/service"
	"nutrihub/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	db, err := config.ConnectDatabase(cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}

	var limiter service.LoginLimiter
	if cfg.RedisURL != "" {
		client, err := cache.Connect(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		limiter = cache.NewRedisLoginLimiter(client, cfg.LockoutThreshold, cfg.LockoutWindow)
	} else {
		logger.Warn("REDIS_URL not set; login lockout disabled")
	}

	accessManager := utils.JWTManager{
		Secret:         []byte(cfg.JWTSecret),
		Issuer:         cfg.JWTIssuer,
		AccessTokenTTL: cfg.AccessTokenTTL,
	}
	clock := service.RealClock{}

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	verificationRepo := repository.NewVerificationTokenRepository(db)
	authLogRepo := repository.NewAuthLogRepository(db)
	challengeRepo := repository.NewMFAChallengeRepository(db)

	mailer := service.NewResendMailer(cfg.MailAPIKey, cfg.MailFrom)
	if cfg.MailAPIKey == "" {
		logger.Warn("RESEND_API_KEY not set; mfa codes and reset links will not be delivered")
	}

	authService := service.NewAuthService(
		userRepo,
		sessionRepo,
		verificationRepo,
		authLogRepo,
		service.NewMFAChallengeManager(challengeRepo, clock, cfg.MFACodeTTL, cfg.MFAInvalidatePrevious),
		mailer,
		limiter,
		service.BcryptPasswordHasher{Cost: cfg.BcryptCost},
		service.JWTAccessIssuer{Manager: &accessManager},
		clock,
		logger,
		service.AuthConfig{
			AccessTokenTTL:  cfg.AccessTokenTTL,
			RefreshTokenTTL: cfg.RefreshTokenTTL,
			MFAChallengeTTL: cfg.MFACodeTTL,
			ResetTokenTTL:   cfg.ResetTokenTTL,
			AppBaseURL:      cfg.AppBaseURL,
		},
	)

	authHandler := handler.NewAuthHandler(authService, validator.New(), logger)
	authHandler.CookieDomain = cfg.CookieDomain
	authHandler.SecureCookies = cfg.CookieSecure

	app := echo.New()
	app.HideBanner = true
	app.HidePort = true
	app.Use(echoMiddleware.Recover())
	app.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURI:      true,
		LogRemoteIP: true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"status":  v.Status,
				"method":  v.Method,
				"uri":     v.URI,
				"ip":      v.RemoteIP,
				"latency": v.Latency.String(),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))

	authMiddleware := apiMiddleware.AuthMiddleware{Verifier: authService}
	router := routes.NewRouter(app, authHandler, authMiddleware)
	router.RegisterRoutes()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("server started")
		errCh <- app.StartServer(server)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return app.Shutdown(shutdownCtx)
}
