package securityproject

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
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

// Engine registers users and drives login attempts through the password,
// voice, face and OTP steps. It is safe for concurrent use after Build.
type Engine struct {
	config     Config
	store      CredentialStore
	hasher     password.Hasher
	dummyHash  string
	face       *face.Matcher
	voice      *voice.Matcher
	otp        otp.Provider
	attempts   *session.Registry
	limiter    *rate.Limiter
	jwtManager *jwt.Manager
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	logger     *zap.Logger
	tracer     trace.Tracer

	stopSweep context.CancelFunc
	sweepDone chan struct{}
	closeOnce sync.Once
}

// Close stops the attempt sweeper and flushes queued audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.stopSweep != nil {
			e.stopSweep()
			<-e.sweepDone
		}
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// AuditDropped returns the number of audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// ActiveAttempts returns the number of live login attempts.
func (e *Engine) ActiveAttempts() int {
	if e == nil || e.attempts == nil {
		return 0
	}
	return e.attempts.Len()
}

// ParseAccessToken verifies a token issued on authentication.
func (e *Engine) ParseAccessToken(token string) (*jwt.AccessClaims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	return e.jwtManager.ParseAccess(token)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeLatency(start time.Time) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(MetricStepLatency, time.Since(start))
}

func (e *Engine) now() time.Time {
	return e.attempts.Now()
}

// onAttemptExpired runs on the sweeper goroutine for every attempt it times out.
func (e *Engine) onAttemptExpired(v AttemptView) {
	e.metricInc(MetricAttemptTimeout)
	e.logger.Debug("login attempt expired",
		zap.String("attempt_id", v.ID),
		zap.String("username", v.Username),
	)
	e.emitAudit(context.Background(), auditEventAttemptTimeout, false, v.Username, v.ID, "", ErrTimeout, nil)
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.Store.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.config.Store.OperationTimeout)
}

// getUser loads a record, mapping store failures to ErrStoreUnavailable.
func (e *Engine) getUser(ctx context.Context, username string) (UserRecord, error) {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	rec, err := e.store.GetUser(sctx, username)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, ErrNotFound):
		return UserRecord{}, ErrNotFound
	default:
		return UserRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (e *Engine) createUser(ctx context.Context, rec UserRecord) error {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	err := e.store.CreateUser(sctx, rec)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateUsername):
		return ErrDuplicateUsername
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
