package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"

	"feedback-relay/handler"
	"feedback-relay/internal/config"
	"feedback-relay/internal/logging"
)

func main() {
	logging.Preinit()

	di := do.New()
	defer func() {
		if err := di.Shutdown(); err != nil {
			slog.Error("shutdown failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	do.ProvideValue(di, ctx)

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	do.ProvideValue(di, cfg)

	if err := logging.Init(cfg.Log); err != nil {
		slog.Error("failed to init logging", "err", err)
		os.Exit(1)
	}

	provide(di)

	h, err := do.Invoke[*handler.Handler](di)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	slog.Info("Service started", "mode", cfg.Mode, "state_backend", cfg.State.Backend)

	if cfg.Mode == config.ModeLambda {
		lambda.StartWithOptions(h.Handle, lambda.WithContext(ctx))
		return
	}

	if err := serve(ctx, h.App(), cfg.Server); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// serve runs app until ctx is cancelled and then drains in-flight requests.
func serve(ctx context.Context, app *fiber.App, cfg config.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Listening", "addr", cfg.Addr)
		return app.Listen(cfg.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")
		return app.ShutdownWithTimeout(cfg.ShutdownTimeout)
	})

	return g.Wait()
}
