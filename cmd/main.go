package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"deskwire/internal/auth"
	"deskwire/internal/config"
	"deskwire/internal/db"
	"deskwire/internal/delivery"
	"deskwire/internal/digest"
	"deskwire/internal/email"
	"deskwire/internal/handlers"
	"deskwire/internal/migrations"
	"deskwire/internal/notification"
	"deskwire/internal/push"
	"deskwire/internal/queue"
	"deskwire/internal/routes"
	"deskwire/internal/security"
	"deskwire/internal/session"
	"deskwire/internal/subscription"
	"deskwire/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := migrations.Up(cfg.DatabaseURL()); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	conn, err := db.Connect(cfg.DSN())
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	cipher, err := security.NewKMSCipher(ctx)
	if err != nil {
		slog.Error("Failed to initialize credential cipher", "error", err)
		os.Exit(1)
	}

	ledger := notification.NewLedger(conn)
	registry := subscription.NewRegistry(conn, cipher)
	sessions := session.NewRegistry()

	queueClient := queue.NewClient(cfg.Redis.Addr)
	defer queueClient.Close()

	coordinator := delivery.NewCoordinator(ledger, registry, sessions, queueClient)

	sender := push.NewWebPush(
		cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subscriber,
		cfg.Push.SendTimeout, cfg.Push.SendsPerSecond,
	)
	deliveryWorker := worker.New(cfg.Redis.Addr, worker.NewPushHandler(registry, sender))
	go func() {
		if err := deliveryWorker.Start(ctx); err != nil {
			slog.Error("Delivery worker failed", "error", err)
			stop()
		}
	}()

	digestSender := email.NewClient(
		cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password,
		cfg.Digest.FromAddress,
	)
	scheduler := digest.NewScheduler(
		digest.NewStore(conn), digestSender,
		digest.Scope(cfg.Digest.Scope), cfg.Digest.Interval, cfg.Digest.TickBudget,
	)
	scheduler.Start()
	defer scheduler.Stop()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	routes.Setup(e.Group("/api"), routes.Handlers{
		Auth:          handlers.NewAuthHandler(auth.NewStore(conn), cfg.JWTSecret),
		Notifications: handlers.NewNotificationHandler(ledger, coordinator),
		Push:          handlers.NewPushHandler(registry, sender.PublicKey()),
		Stream:        handlers.NewStreamHandler(sessions, ledger),
	}, cfg.JWTSecret, auth.NewRateLimiter(30, time.Minute))

	go func() {
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()
	slog.Info("deskwire started", "addr", cfg.HTTPAddr)

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
}
