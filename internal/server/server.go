// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/config"
	"codeberg.org/oliverandrich/student-portal/internal/cryptox"
	"codeberg.org/oliverandrich/student-portal/internal/handlers"
	"codeberg.org/oliverandrich/student-portal/internal/i18n"
	"codeberg.org/oliverandrich/student-portal/internal/middleware"
	"codeberg.org/oliverandrich/student-portal/internal/services/auth"
	"codeberg.org/oliverandrich/student-portal/internal/services/email"
	"codeberg.org/oliverandrich/student-portal/internal/services/otp"
	"codeberg.org/oliverandrich/student-portal/internal/services/ratelimit"
	"codeberg.org/oliverandrich/student-portal/internal/services/session"
	"codeberg.org/oliverandrich/student-portal/internal/store"
	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

// Deps are the services the HTTP layer is built on.
type Deps struct {
	Auth     *auth.Service
	Sessions *session.Manager
	Storage  handlers.StorageStatus // nil without MongoDB
}

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(cfg.Log.Level, cfg.Log.Format)

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Engine,
		"mongodb", cfg.Storage.MongoEnabled(),
	)

	cipher, err := cryptox.New(cfg.Crypto.EncryptionKey)
	if err != nil {
		return fmt.Errorf("invalid encryption key: %w", err)
	}

	if err := i18n.Init(); err != nil {
		return fmt.Errorf("failed to init i18n: %w", err)
	}

	st, status, err := OpenStore(ctx, cfg, store.NewSealer(cipher))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(context.Background()); closeErr != nil {
			slog.Error("failed to close store", "error", closeErr)
		}
	}()

	sender, err := email.NewSender(&cfg.SMTP)
	if err != nil {
		return fmt.Errorf("failed to set up email: %w", err)
	}

	limiter, err := ratelimit.NewFromURL(cfg.Redis.URL, cfg.Redis.MaxOTPIssues, cfg.Redis.Window)
	if err != nil {
		return err
	}
	defer func() {
		_ = limiter.Close()
	}()

	codes := otp.NewGenerator(cfg.Auth.OTPTTL, nil)
	opts := auth.Options{
		Store:               st,
		Notifier:            email.NewMailer(sender, codes.TTL()),
		OTP:                 codes,
		InstitutionalDomain: cfg.Auth.InstitutionalDomain,
	}
	if limiter != nil {
		opts.Limiter = limiter
	}

	sessions, err := session.NewManager(&cfg.Session, cfg.Session.Secure)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	e := NewEcho(cfg, Deps{
		Auth:     auth.NewService(opts),
		Sessions: sessions,
		Storage:  status,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go auth.RunSweeper(ctx, st, cfg.Auth.SweepInterval)

	return startWithGracefulShutdown(ctx, e, cfg)
}

// NewEcho builds the Echo instance with middleware and routes.
func NewEcho(cfg *config.Config, deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	setupMiddleware(e, cfg, deps.Sessions, deps.Auth)
	setupRoutes(e, deps)

	return e
}

func setupRoutes(e *echo.Echo, deps Deps) {
	h := handlers.New(deps.Storage)
	a := handlers.NewAuth(deps.Auth, deps.Sessions)

	e.GET("/health", h.Health)

	api := e.Group("/api")
	api.POST("/auth/signup", a.Signup)
	api.POST("/auth/login", a.Login)
	api.POST("/auth/verify-otp", a.VerifyOTP)
	api.POST("/auth/resend-otp", a.ResendOTP)
	api.POST("/auth/forgot-password", a.ForgotPassword)
	api.POST("/auth/reset-password", a.ResetPassword)
	api.GET("/auth/user", a.CurrentUser, middleware.RequireAuth())
	api.POST("/user/setup-profile", a.SetupProfile, middleware.RequireAuth())
	api.GET("/logout", a.Logout)
}

func startWithGracefulShutdown(ctx context.Context, e *echo.Echo, cfg *config.Config) error {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errChan := make(chan error, 1)
	go func() {
		slog.Info("server running", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
		return err
	}

	slog.Info("server stopped")
	return nil
}
