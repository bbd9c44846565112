// Package app assembles an Engine and its backends from process
// configuration. Both binaries build through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	mfa "github.com/JasonStuckless/SecurityProject"
	"github.com/JasonStuckless/SecurityProject/biometric/face"
	"github.com/JasonStuckless/SecurityProject/biometric/voice"
	"github.com/JasonStuckless/SecurityProject/internal/config"
	otelexport "github.com/JasonStuckless/SecurityProject/metrics/export/otel"
	promexport "github.com/JasonStuckless/SecurityProject/metrics/export/prometheus"
	"github.com/JasonStuckless/SecurityProject/otp"
	"github.com/JasonStuckless/SecurityProject/store/memstore"
	"github.com/JasonStuckless/SecurityProject/store/sqlstore"
)

// Options overrides backends that would otherwise come from configuration.
type Options struct {
	Logger *zap.Logger

	// Detector and Embedder replace the HTTP sidecars.
	Detector face.Detector
	Embedder voice.Embedder

	// OTPProvider replaces Twilio Verify and the local provider.
	OTPProvider otp.Provider

	// NotifyWriter receives local OTP messages. Defaults to stderr.
	NotifyWriter io.Writer
}

// App owns an Engine and everything opened to build it.
type App struct {
	Engine   *mfa.Engine
	Metrics  *promexport.PrometheusExporter
	Redis    redis.UniversalClient
	Detector face.Detector
	logger   *zap.Logger
	closers  []func() error
	otelStop func() error
}

// New opens the configured backends and builds an Engine over them. On
// error everything opened so far is closed again.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	store, err := a.openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	rdb, err := a.openRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.Redis = rdb

	detector := opts.Detector
	if detector == nil {
		if cfg.Sidecars.FaceDetectorURL == "" {
			return nil, errors.New("face detector url is required")
		}
		detector, err = face.NewHTTPDetector(face.HTTPDetectorConfig{
			Endpoint: cfg.Sidecars.FaceDetectorURL,
			Timeout:  cfg.Sidecars.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("face detector: %w", err)
		}
	}

	embedder := opts.Embedder
	if embedder == nil {
		if cfg.Sidecars.VoiceEmbedderURL == "" {
			return nil, errors.New("voice embedder url is required")
		}
		embedder, err = voice.NewHTTPEmbedder(voice.HTTPEmbedderConfig{
			Endpoint: cfg.Sidecars.VoiceEmbedderURL,
			Timeout:  cfg.Sidecars.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("voice embedder: %w", err)
		}
	}

	a.Detector = detector

	provider := opts.OTPProvider
	if provider == nil {
		provider, err = a.otpProvider(cfg.Twilio, rdb, opts.NotifyWriter)
		if err != nil {
			return nil, err
		}
	}

	engine, err := mfa.New().
		WithConfig(EngineConfig(cfg)).
		WithStore(store).
		WithRedis(rdb).
		WithFaceDetector(detector).
		WithEmbedder(embedder).
		WithOTPProvider(provider).
		WithLogger(logger).
		WithAuditSink(mfa.NewZapSink(logger.Named("audit"))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	a.Engine = engine
	a.closers = append(a.closers, func() error { engine.Close(); return nil })

	a.Metrics = promexport.NewPrometheusExporter(engine)
	exp, err := otelexport.NewOTelExporter(otel.GetMeterProvider().Meter("github.com/JasonStuckless/SecurityProject"), engine)
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}
	a.otelStop = exp.Close

	return a, nil
}

// Close releases the engine and its backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	if a.otelStop != nil {
		errs = append(errs, a.otelStop())
		a.otelStop = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// EngineConfig maps operator settings onto the engine configuration.
func EngineConfig(cfg config.Config) mfa.Config {
	c := mfa.DefaultConfig()
	if cfg.Auth.PasswordAlgo != "" {
		c.Password.Algorithm = cfg.Auth.PasswordAlgo
	}
	if cfg.Auth.BcryptCost > 0 {
		c.Password.BcryptCost = cfg.Auth.BcryptCost
	}
	c.Face.Threshold = cfg.Auth.FaceThreshold
	c.Voice.Threshold = cfg.Auth.VoiceThreshold
	c.Attempt.TTL = cfg.Auth.AttemptTTL
	if cfg.Auth.DefaultCountry != "" {
		c.OTP.DefaultCountryCode = cfg.Auth.DefaultCountry
	}
	if cfg.Auth.JWTSecret != "" {
		c.JWT.SigningMethod = "hs256"
		c.JWT.PrivateKey = []byte(cfg.Auth.JWTSecret)
	}
	c.Metrics.Enabled = true
	c.Metrics.EnableLatencyHistograms = true
	c.Tracing.Enabled = cfg.Telemetry.Enabled
	return c
}

func (a *App) openStore(ctx context.Context, cfg config.StoreConfig) (mfa.CredentialStore, error) {
	var dialect sqlstore.Dialect
	switch cfg.Driver {
	case "memory":
		a.logger.Warn("using in-memory credential store; users are lost on exit")
		return memstore.New(), nil
	case "sqlite":
		dialect = sqlstore.DialectSQLite
	case "postgres":
		dialect = sqlstore.DialectPostgres
	default:
		return nil, fmt.Errorf("store driver %q is not supported", cfg.Driver)
	}

	store, err := sqlstore.Open(ctx, sqlstore.Config{
		Dialect:      dialect,
		DSN:          cfg.DSN,
		MaxOpenConns: cfg.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	a.closers = append(a.closers, store.Close)
	a.logger.Info("credential store ready", zap.String("driver", cfg.Driver))
	return store, nil
}

// openRedis connects to the configured redis, or starts an in-process
// miniredis when no address is set.
func (a *App) openRedis(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	addr := cfg.Addr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		a.closers = append(a.closers, func() error { mr.Close(); return nil })
		addr = mr.Addr()
		a.logger.Warn("no redis configured; using in-process miniredis", zap.String("addr", addr))
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (a *App) otpProvider(cfg config.TwilioConfig, rdb redis.UniversalClient, w io.Writer) (otp.Provider, error) {
	if cfg.AccountSID != "" {
		p, err := otp.NewTwilioVerify(otp.TwilioConfig{
			AccountSID: cfg.AccountSID,
			AuthToken:  cfg.AuthToken,
			ServiceSID: cfg.ServiceSID,
		})
		if err != nil {
			return nil, fmt.Errorf("twilio verify: %w", err)
		}
		a.logger.Info("otp delivery via twilio verify")
		return p, nil
	}

	if w == nil {
		w = os.Stderr
	}
	p, err := otp.NewLocalProvider(rdb, otp.WriterNotifier{W: w}, otp.LocalConfig{})
	if err != nil {
		return nil, fmt.Errorf("local otp: %w", err)
	}
	a.logger.Warn("twilio not configured; otp codes are written locally")
	return p, nil
}
