package securityproject

import (
	"context"
	"errors"
	"time"

	"github.com/JasonStuckless/SecurityProject/biometric/voice"
)

const (
	auditEventRegisterSuccess    = "register_success"
	auditEventRegisterFailure    = "register_failure"
	auditEventRegisterDuplicate  = "register_duplicate"
	auditEventLoginStarted       = "login_started"
	auditEventStepPassed         = "step_passed"
	auditEventStepFailed         = "step_failed"
	auditEventStepError          = "step_error"
	auditEventStepOutOfOrder     = "step_out_of_order"
	auditEventOTPSent            = "otp_sent"
	auditEventOTPSendFailure     = "otp_send_failure"
	auditEventAuthenticated      = "login_authenticated"
	auditEventAttemptCancelled   = "attempt_cancelled"
	auditEventAttemptTimeout     = "attempt_timeout"
	auditEventAttemptAbandoned   = "attempt_abandoned"
	auditEventRateLimitTriggered = "rate_limit_triggered"
)

// AuditErrorCode is the stable error label written into audit events.
// Raw error text is never recorded.
type AuditErrorCode string

const (
	auditErrNotFound           AuditErrorCode = "user_not_found"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrInvalidCredential  AuditErrorCode = "invalid_credential"
	auditErrNoFace             AuditErrorCode = "no_face_detected"
	auditErrMultipleFaces      AuditErrorCode = "multiple_faces_detected"
	auditErrTemplateSize       AuditErrorCode = "template_size_mismatch"
	auditErrTemplateCorrupt    AuditErrorCode = "template_corrupt"
	auditErrEmptyClip          AuditErrorCode = "empty_clip"
	auditErrBiometricMismatch  AuditErrorCode = "biometric_mismatch"
	auditErrStepOutOfOrder     AuditErrorCode = "step_out_of_order"
	auditErrOTPSendFailure     AuditErrorCode = "otp_send_failure"
	auditErrOTPCheckFailure    AuditErrorCode = "otp_check_failure"
	auditErrOTPMismatch        AuditErrorCode = "otp_mismatch"
	auditErrTimeout            AuditErrorCode = "timeout"
	auditErrCancelled          AuditErrorCode = "cancelled"
	auditErrAttemptNotFound    AuditErrorCode = "attempt_not_found"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidRequest     AuditErrorCode = "invalid_request"
	auditErrRegistrationClosed AuditErrorCode = "registration_disabled"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	username string,
	attemptID string,
	step string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Username:  username,
		AttemptID: attemptID,
		Step:      step,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	username string,
	attemptID string,
	metadataBuilder func() map[string]string,
) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, username, attemptID, "", ErrRateLimited, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrDuplicateUsername):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidCredential):
		return auditErrInvalidCredential
	case errors.Is(err, ErrNoFaceDetected):
		return auditErrNoFace
	case errors.Is(err, ErrMultipleFacesDetected):
		return auditErrMultipleFaces
	case errors.Is(err, ErrTemplateSizeMismatch):
		return auditErrTemplateSize
	case errors.Is(err, voice.ErrTemplateCorrupt), errors.Is(err, voice.ErrDimensionMismatch):
		return auditErrTemplateCorrupt
	case errors.Is(err, voice.ErrEmptyClip):
		return auditErrEmptyClip
	case errors.Is(err, ErrBiometricMismatch):
		return auditErrBiometricMismatch
	case errors.Is(err, ErrStepOutOfOrder):
		return auditErrStepOutOfOrder
	case errors.Is(err, ErrOTPSendFailure):
		return auditErrOTPSendFailure
	case errors.Is(err, ErrOTPCheckFailure):
		return auditErrOTPCheckFailure
	case errors.Is(err, ErrOTPMismatch):
		return auditErrOTPMismatch
	case errors.Is(err, ErrTimeout):
		return auditErrTimeout
	case errors.Is(err, ErrCancelled):
		return auditErrCancelled
	case errors.Is(err, ErrAttemptNotFound):
		return auditErrAttemptNotFound
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidRegistration):
		return auditErrInvalidRequest
	case errors.Is(err, ErrRegistrationDisabled):
		return auditErrRegistrationClosed
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
