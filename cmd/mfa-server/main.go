// Command mfa-server exposes registration and the four-step login over a
// JSON HTTP API.
//
// Endpoints:
//
//	POST /v1/register                {username, password, confirm_password, phone, face_image, voice_wav}
//	POST /v1/login                   {username} → attempt
//	GET  /v1/login/{id}              attempt state
//	POST /v1/login/{id}/password     {password}
//	POST /v1/login/{id}/voice        {voice_wav}
//	POST /v1/login/{id}/face         {face_image}
//	POST /v1/login/{id}/otp/send
//	POST /v1/login/{id}/otp/verify   {code}
//	POST /v1/login/{id}/cancel
//	POST /v1/login/{id}/reset
//	GET  /v1/me                      requires the bearer token issued on authentication
//	GET  /metrics                    Prometheus text format
//
// face_image and voice_wav are base64 strings holding an image file
// (PNG, JPEG, BMP or WebP) and a mono 16-bit PCM WAV file.
//
// Run:
//
//	go run ./cmd/mfa-server -store memory -dev
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JasonStuckless/SecurityProject/internal/app"
	"github.com/JasonStuckless/SecurityProject/internal/config"
	"github.com/JasonStuckless/SecurityProject/internal/logging"
	"github.com/JasonStuckless/SecurityProject/internal/telemetry"
)

const serviceName = "mfa-server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(serviceName, os.Args[1:])
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	a, err := app.New(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}()

	report := a.Engine.SecurityReport()
	for _, w := range report.Warnings {
		logger.Warn("security posture", zap.String("warning", w))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newServer(a.Engine, a.Metrics.Handler(), logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
