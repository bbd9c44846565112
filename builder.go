package securityproject

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/JasonStuckless/SecurityProject/biometric/face"
	"github.com/JasonStuckless/SecurityProject/biometric/voice"
	internalaudit "github.com/JasonStuckless/SecurityProject/internal/audit"
	"github.com/JasonStuckless/SecurityProject/internal/rate"
	"github.com/JasonStuckless/SecurityProject/jwt"
	"github.com/JasonStuckless/SecurityProject/otp"
	"github.com/JasonStuckless/SecurityProject/password"
	"github.com/JasonStuckless/SecurityProject/session"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config         Config
	store          CredentialStore
	redis          redis.UniversalClient
	detector       face.Detector
	embedder       voice.Embedder
	otpProvider    otp.Provider
	logger         *zap.Logger
	auditSink      AuditSink
	tracerProvider trace.TracerProvider
	built          bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the credential store. Required.
func (b *Builder) WithStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithRedis enables redis-backed password and OTP throttling.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithFaceDetector sets the detector used for enrollment and the face step. Required.
func (b *Builder) WithFaceDetector(detector face.Detector) *Builder {
	b.detector = detector
	return b
}

// WithEmbedder sets the voice embedding model. Required.
func (b *Builder) WithEmbedder(embedder voice.Embedder) *Builder {
	b.embedder = embedder
	return b
}

// WithOTPProvider sets the out-of-band code provider. Required.
func (b *Builder) WithOTPProvider(provider otp.Provider) *Builder {
	b.otpProvider = provider
	return b
}

// WithLogger sets the engine logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit destination and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the step latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithTracerProvider sets the span source. Defaults to the global provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// Build validates the configuration, wires every dependency and starts the
// attempt sweeper. Call Engine.Close to stop it.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.detector == nil {
		return nil, errors.New("face detector required")
	}
	if b.embedder == nil {
		return nil, errors.New("voice embedder required")
	}
	if b.otpProvider == nil {
		return nil, errors.New("otp provider required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- CREDENTIALS --------
	hasher, err := password.New(password.Options{
		Algorithm:  cfg.Password.Algorithm,
		BcryptCost: cfg.Password.BcryptCost,
		Argon2: password.Config{
			Memory:           cfg.Password.Memory,
			Time:             cfg.Password.Time,
			Parallelism:      cfg.Password.Parallelism,
			SaltLength:       cfg.Password.SaltLength,
			KeyLength:        cfg.Password.KeyLength,
			MaxPasswordBytes: cfg.Password.MaxBytes,
		},
	})
	if err != nil {
		return nil, err
	}

	// equalizes the cost of unknown-user password checks
	dummySecret := make([]byte, 16)
	if _, err := rand.Read(dummySecret); err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(hex.EncodeToString(dummySecret))
	if err != nil {
		return nil, err
	}

	// -------- BIOMETRICS --------
	faceMatcher, err := face.NewMatcher(b.detector, face.Config{
		Size:      cfg.Face.Size,
		Threshold: cfg.Face.Threshold,
	})
	if err != nil {
		return nil, err
	}
	voiceMatcher, err := voice.NewMatcher(b.embedder, voice.Config{
		Threshold:   cfg.Voice.Threshold,
		MinDuration: cfg.Voice.MinDuration,
	})
	if err != nil {
		return nil, err
	}

	// -------- ATTEMPTS --------
	attempts, err := session.NewRegistry(cfg.Attempt.TTL)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cloneConfig(cfg),
		store:     b.store,
		hasher:    hasher,
		dummyHash: dummyHash,
		face:      faceMatcher,
		voice:     voiceMatcher,
		otp:       b.otpProvider,
		attempts:  attempts,
		logger:    logger,
	}

	if b.redis != nil {
		engine.limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:    cfg.Security.EnableIPThrottle,
			MaxPasswordFailures: cfg.Security.MaxPasswordFailures,
			PasswordCooldown:    cfg.Security.PasswordCooldown,
			MaxOTPSends:         cfg.OTP.MaxSends,
			OTPSendWindow:       cfg.OTP.SendWindow,
		})
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- TRACING --------
	tp := b.tracerProvider
	switch {
	case !cfg.Tracing.Enabled:
		tp = noop.NewTracerProvider()
	case tp == nil:
		tp = otel.GetTracerProvider()
	}
	engine.tracer = tp.Tracer(cfg.Tracing.TracerName)

	// -------- TOKENS --------
	if len(cfg.JWT.PrivateKey) > 0 {
		jm, err := jwt.NewManager(jwt.Config{
			AccessTTL:     cfg.JWT.AccessTTL,
			SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
			PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
			PublicKey:     cloneBytes(cfg.JWT.PublicKey),
			Issuer:        cfg.JWT.Issuer,
			Audience:      cfg.JWT.Audience,
		})
		if err != nil {
			engine.audit.Close()
			return nil, err
		}
		engine.jwtManager = jm
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	engine.stopSweep = cancel
	engine.sweepDone = make(chan struct{})
	go func() {
		defer close(engine.sweepDone)
		attempts.Run(sweepCtx, cfg.Attempt.SweepInterval, engine.onAttemptExpired)
	}()

	b.built = true

	return engine, nil
}
