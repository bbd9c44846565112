package securityproject

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JasonStuckless/SecurityProject/biometric/voice"
	"github.com/JasonStuckless/SecurityProject/otp"
	"github.com/JasonStuckless/SecurityProject/password"
	"github.com/JasonStuckless/SecurityProject/session"
)

// stepCheck verifies one factor while the attempt lock is held. It reports
// the biometric distance (zero for password and OTP) and whether the factor
// matched. A non-nil error leaves the step neither passed nor failed.
type stepCheck func(ctx context.Context, s *session.AuthSession) (distance float64, passed bool, err error)

// BeginLogin opens a login attempt for username in StateStart. The password
// step must run next.
func (e *Engine) BeginLogin(ctx context.Context, username string) (AttemptView, error) {
	ctx, span := e.tracer.Start(ctx, "login.begin")
	defer span.End()

	if username == "" {
		return AttemptView{}, spanError(span, ErrInvalidCredential)
	}

	v := e.attempts.Create(username)
	span.SetAttributes(attribute.String("mfa.attempt_id", v.ID))
	e.metricInc(MetricLoginStarted)
	e.emitAudit(ctx, auditEventLoginStarted, true, username, v.ID, "", nil, nil)
	e.logger.Debug("login attempt started", zap.String("attempt_id", v.ID), zap.String("username", username))
	return v, nil
}

// VerifyPassword runs the password step. On success the user's phone number
// is captured for the OTP step; later steps never read it from the store again.
func (e *Engine) VerifyPassword(ctx context.Context, attemptID, plaintext string) (*StepResult, error) {
	return e.runStep(ctx, attemptID, StepPassword, func(ctx context.Context, s *session.AuthSession) (float64, bool, error) {
		ip := clientIPFromContext(ctx)
		if e.limiter != nil {
			if err := e.limiter.CheckPassword(ctx, s.Username, ip); err != nil {
				e.emitRateLimit(ctx, "password", s.Username, s.ID, nil)
				return 0, false, ErrRateLimited
			}
		}

		rec, err := e.getUser(ctx, s.Username)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return 0, false, err
		}

		var ok bool
		if errors.Is(err, ErrNotFound) {
			_, _ = e.hasher.Verify(plaintext, e.dummyHash)
		} else {
			ok, err = password.Verify(e.hasher, plaintext, rec.PasswordHash)
			if err != nil && !errors.Is(err, password.ErrEmptyPassword) && !errors.Is(err, password.ErrPasswordTooLong) {
				e.logger.Warn("stored password hash rejected", zap.String("username", s.Username), zap.Error(err))
			}
			ok = ok && err == nil
		}

		if !ok {
			if e.limiter != nil {
				if err := e.limiter.RecordPasswordFailure(ctx, s.Username, ip); err != nil {
					e.emitRateLimit(ctx, "password", s.Username, s.ID, nil)
				}
			}
			return 0, false, nil
		}

		if e.limiter != nil {
			if err := e.limiter.ResetPassword(ctx, s.Username, ip); err != nil {
				e.logger.Warn("password throttle reset failed", zap.Error(err))
			}
		}
		s.PhoneSnapshot = rec.Phone
		return 0, true, nil
	})
}

// VerifyVoice runs the voice step against the enrolled voice template.
func (e *Engine) VerifyVoice(ctx context.Context, attemptID string, clip voice.Clip) (*StepResult, error) {
	return e.runStep(ctx, attemptID, StepVoice, func(ctx context.Context, s *session.AuthSession) (float64, bool, error) {
		rec, err := e.getUser(ctx, s.Username)
		if err != nil {
			return 0, false, err
		}
		res, err := e.voice.Match(ctx, clip, rec.VoiceTemplate)
		if err != nil {
			return 0, false, err
		}
		return res.Distance, res.Passed, nil
	})
}

// VerifyFace runs the face step against the enrolled face template.
func (e *Engine) VerifyFace(ctx context.Context, attemptID string, sample FaceSample) (*StepResult, error) {
	return e.runStep(ctx, attemptID, StepFace, func(ctx context.Context, s *session.AuthSession) (float64, bool, error) {
		rec, err := e.getUser(ctx, s.Username)
		if err != nil {
			return 0, false, err
		}
		if len(rec.FaceTemplate) != e.face.Size()*e.face.Size() {
			return 0, false, ErrTemplateSizeMismatch
		}
		probe, err := e.enrollFace(ctx, sample)
		if err != nil {
			return 0, false, err
		}
		res, err := e.face.Compare(probe, rec.FaceTemplate)
		if err != nil {
			return 0, false, err
		}
		return res.Distance, res.Passed, nil
	})
}

// SendOTP delivers a one-time code to the phone captured at the password
// step. It requires the password, voice and face steps to have passed and
// may be repeated; delivery failures do not fail the step.
func (e *Engine) SendOTP(ctx context.Context, attemptID string) error {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "login.otp.send", trace.WithAttributes(
		attribute.String("mfa.attempt_id", attemptID),
	))
	defer span.End()
	defer e.observeLatency(start)

	s, release, err := e.attempts.Acquire(attemptID)
	if err != nil {
		return spanError(span, stepErr(StepOTP, mapSessionError(err)))
	}
	defer release()

	if s.State == session.StateTimeout {
		e.emitAudit(ctx, auditEventAttemptTimeout, false, s.Username, s.ID, StepOTP.String(), ErrTimeout, nil)
		return spanError(span, stepErr(StepOTP, ErrTimeout))
	}
	if err := s.Begin(StepOTP, e.now()); err != nil {
		return spanError(span, stepErr(StepOTP, e.outOfOrder(ctx, s, StepOTP, err)))
	}

	phone := s.PhoneSnapshot
	if e.limiter != nil {
		if err := e.limiter.AllowOTPSend(ctx, phone); err != nil {
			e.emitRateLimit(ctx, "otp_send", s.Username, s.ID, func() map[string]string {
				return map[string]string{"phone": otp.MaskPhone(phone)}
			})
			return spanError(span, stepErr(StepOTP, ErrRateLimited))
		}
	}

	if err := e.otp.SendCode(ctx, phone); err != nil {
		e.metricInc(MetricOTPSendFailure)
		e.logger.Warn("otp send failed", zap.String("attempt_id", s.ID), zap.String("phone", otp.MaskPhone(phone)), zap.Error(err))
		mapped := ErrOTPSendFailure
		if ctx.Err() != nil {
			mapped = ErrCancelled
		}
		e.emitAudit(ctx, auditEventOTPSendFailure, false, s.Username, s.ID, StepOTP.String(), mapped, nil)
		return spanError(span, stepErr(StepOTP, mapped))
	}

	e.metricInc(MetricOTPSent)
	e.emitAudit(ctx, auditEventOTPSent, true, s.Username, s.ID, StepOTP.String(), nil, func() map[string]string {
		return map[string]string{"phone": otp.MaskPhone(phone)}
	})
	return nil
}

// VerifyOTP runs the final step. When it passes the attempt becomes
// StateAuthenticated and, if a signer is configured, an access token is issued.
func (e *Engine) VerifyOTP(ctx context.Context, attemptID, code string) (*StepResult, error) {
	return e.runStep(ctx, attemptID, StepOTP, func(ctx context.Context, s *session.AuthSession) (float64, bool, error) {
		if code == "" {
			return 0, false, nil
		}
		ok, err := e.otp.VerifyCode(ctx, s.PhoneSnapshot, code)
		if err != nil {
			e.logger.Warn("otp check failed", zap.String("attempt_id", s.ID), zap.Error(err))
			if ctx.Err() != nil {
				return 0, false, ErrCancelled
			}
			return 0, false, ErrOTPCheckFailure
		}
		return 0, ok, nil
	})
}

// Cancel ends a live attempt. Later calls for it return ErrAttemptNotFound.
func (e *Engine) Cancel(ctx context.Context, attemptID string) error {
	ctx, span := e.tracer.Start(ctx, "login.cancel", trace.WithAttributes(
		attribute.String("mfa.attempt_id", attemptID),
	))
	defer span.End()

	s, release, err := e.attempts.Acquire(attemptID)
	if err != nil {
		return spanError(span, mapSessionError(err))
	}
	defer release()

	if err := s.Cancel(e.now()); err != nil {
		return spanError(span, mapSessionError(err))
	}
	e.attempts.Remove(attemptID)
	e.metricInc(MetricAttemptCancelled)
	e.emitAudit(ctx, auditEventAttemptCancelled, true, s.Username, s.ID, "", nil, nil)
	return nil
}

// ResetLogin cancels attemptID, if it is still live, and opens a fresh
// attempt for the same user.
func (e *Engine) ResetLogin(ctx context.Context, attemptID string) (AttemptView, error) {
	view, err := e.Attempt(attemptID)
	if err != nil {
		return AttemptView{}, err
	}
	if err := e.Cancel(ctx, attemptID); err != nil && !errors.Is(err, ErrAttemptNotFound) {
		return AttemptView{}, err
	}
	return e.BeginLogin(ctx, view.Username)
}

// Attempt returns a copy of a live attempt.
func (e *Engine) Attempt(attemptID string) (AttemptView, error) {
	s, release, err := e.attempts.Acquire(attemptID)
	if err != nil {
		return AttemptView{}, mapSessionError(err)
	}
	defer release()

	if s.State == session.StateTimeout {
		return s.Snapshot(), ErrTimeout
	}
	return s.Snapshot(), nil
}

func (e *Engine) runStep(ctx context.Context, attemptID string, step Step, check stepCheck) (*StepResult, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "login."+step.String(), trace.WithAttributes(
		attribute.String("mfa.attempt_id", attemptID),
		attribute.String("mfa.step", step.String()),
	))
	defer span.End()
	defer e.observeLatency(start)

	s, release, err := e.attempts.Acquire(attemptID)
	if err != nil {
		return nil, spanError(span, stepErr(step, mapSessionError(err)))
	}
	defer release()

	if s.State == session.StateTimeout {
		e.emitAudit(ctx, auditEventAttemptTimeout, false, s.Username, s.ID, step.String(), ErrTimeout, nil)
		return nil, spanError(span, stepErr(step, ErrTimeout))
	}
	if err := s.Begin(step, e.now()); err != nil {
		return nil, spanError(span, stepErr(step, e.outOfOrder(ctx, s, step, err)))
	}

	checkCtx := ctx
	if e.config.Attempt.StepTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, e.config.Attempt.StepTimeout)
		defer cancel()
	}

	distance, passed, err := check(checkCtx, s)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case checkCtx.Err() != nil:
			_ = s.Timeout(e.now())
			e.attempts.Remove(s.ID)
			e.metricInc(MetricAttemptTimeout)
			e.emitAudit(ctx, auditEventAttemptTimeout, false, s.Username, s.ID, step.String(), ErrTimeout, nil)
			return nil, spanError(span, stepErr(step, ErrTimeout))
		}
		e.emitAudit(ctx, auditEventStepError, false, s.Username, s.ID, step.String(), err, nil)
		return nil, spanError(span, stepErr(step, err))
	}

	now := e.now()
	if !passed {
		return nil, spanError(span, e.failStep(ctx, s, step, distance, now))
	}

	if err := s.Pass(step, now); err != nil {
		return nil, spanError(span, stepErr(step, mapSessionError(err)))
	}
	e.metricInc(stepMetrics[step][0])
	e.emitAudit(ctx, auditEventStepPassed, true, s.Username, s.ID, step.String(), nil, distanceMetadata(step, distance))
	e.logger.Debug("login step passed",
		zap.String("attempt_id", s.ID),
		zap.Stringer("step", step),
		zap.Float64("distance", distance),
	)

	res := &StepResult{
		AttemptID: s.ID,
		Step:      step,
		State:     s.State,
		Distance:  distance,
	}
	if !s.Authenticated() {
		return res, nil
	}

	e.attempts.Remove(s.ID)
	if err := e.issueToken(s, res); err != nil {
		e.logger.Error("access token signing failed", zap.String("attempt_id", s.ID), zap.Error(err))
		return nil, spanError(span, stepErr(step, ErrEngineNotReady))
	}
	e.metricInc(MetricAuthenticated)
	e.emitAudit(ctx, auditEventAuthenticated, true, s.Username, s.ID, "", nil, nil)
	span.SetAttributes(attribute.Bool("mfa.authenticated", true))
	return res, nil
}

// failStep records a mismatch. The attempt is dropped once its failure
// budget is spent.
func (e *Engine) failStep(ctx context.Context, s *session.AuthSession, step Step, distance float64, now time.Time) error {
	if err := s.Fail(step, now); err != nil {
		return stepErr(step, mapSessionError(err))
	}
	e.metricInc(stepMetrics[step][1])

	cause := mismatchError(step)
	e.emitAudit(ctx, auditEventStepFailed, false, s.Username, s.ID, step.String(), cause, distanceMetadata(step, distance))

	if s.Failures >= e.config.Attempt.MaxFailures {
		e.attempts.Remove(s.ID)
		e.metricInc(MetricAttemptAbandoned)
		e.emitAudit(ctx, auditEventAttemptAbandoned, false, s.Username, s.ID, step.String(), ErrAttemptsExceeded, func() map[string]string {
			return map[string]string{"failures": strconv.Itoa(s.Failures)}
		})
		return stepErr(step, errors.Join(cause, ErrAttemptsExceeded))
	}
	return stepErr(step, cause)
}

func (e *Engine) outOfOrder(ctx context.Context, s *session.AuthSession, step Step, err error) error {
	mapped := mapSessionError(err)
	if errors.Is(mapped, ErrStepOutOfOrder) {
		e.metricInc(MetricStepOutOfOrder)
		e.emitAudit(ctx, auditEventStepOutOfOrder, false, s.Username, s.ID, step.String(), mapped, func() map[string]string {
			return map[string]string{"state": s.State.String()}
		})
	}
	return mapped
}

func (e *Engine) issueToken(s *session.AuthSession, res *StepResult) error {
	if e.jwtManager == nil {
		return nil
	}
	factors := make([]string, 0, len(session.Steps))
	for _, step := range session.Steps {
		factors = append(factors, step.String())
	}
	token, err := e.jwtManager.CreateAccess(s.Username, s.ID, factors)
	if err != nil {
		return err
	}
	res.AccessToken = token
	res.ExpiresAt = time.Now().Add(e.jwtManager.TTL())
	return nil
}

func mismatchError(step Step) error {
	switch step {
	case StepPassword:
		return ErrInvalidCredential
	case StepOTP:
		return ErrOTPMismatch
	default:
		return ErrBiometricMismatch
	}
}

func distanceMetadata(step Step, distance float64) func() map[string]string {
	if step != StepVoice && step != StepFace {
		return nil
	}
	return func() map[string]string {
		return map[string]string{"distance": strconv.FormatFloat(distance, 'f', 4, 64)}
	}
}

func spanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(auditErrorCode(err)))
	}
	return err
}
