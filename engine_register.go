package securityproject

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JasonStuckless/SecurityProject/biometric/face"
	"github.com/JasonStuckless/SecurityProject/biometric/voice"
	"github.com/JasonStuckless/SecurityProject/otp"
)

// Register enrolls a new user. Both biometric templates are produced before
// anything is written; any failure leaves no record behind. Uniqueness is
// decided by the store alone, so of several concurrent registrations for one
// username exactly one succeeds and the rest get ErrDuplicateUsername.
func (e *Engine) Register(ctx context.Context, req RegistrationRequest) error {
	ctx, span := e.tracer.Start(ctx, "register")
	defer span.End()
	span.SetAttributes(attribute.String("mfa.username", req.Username))

	fail := func(err error) error {
		if errors.Is(err, ErrDuplicateUsername) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterDuplicate, false, req.Username, "", "", err, nil)
		} else {
			e.metricInc(MetricRegisterFailure)
			e.emitAudit(ctx, auditEventRegisterFailure, false, req.Username, "", "", err, nil)
		}
		return spanError(span, err)
	}

	if !e.config.Registration.Enabled {
		return fail(ErrRegistrationDisabled)
	}
	if err := e.validateUsername(req.Username); err != nil {
		return fail(err)
	}
	if err := e.validatePassword(req.Password, req.ConfirmPassword); err != nil {
		return fail(err)
	}
	phone, err := otp.NormalizeE164(req.Phone, e.config.OTP.DefaultCountryCode)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrInvalidRegistration, err))
	}

	faceTemplate, err := e.enrollFace(ctx, req.Face)
	if err != nil {
		return fail(cancelled(ctx, err))
	}
	embedding, err := e.voice.Enroll(ctx, req.Voice)
	if err != nil {
		return fail(cancelled(ctx, err))
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrInvalidRegistration, err))
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrCancelled, err))
	}

	rec := UserRecord{
		Username:      req.Username,
		PasswordHash:  hash,
		FaceTemplate:  faceTemplate,
		VoiceTemplate: voice.EncodeTemplate(embedding),
		Phone:         phone,
		CreatedAt:     e.now().UTC(),
	}
	if err := e.createUser(ctx, rec); err != nil {
		return fail(err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, req.Username, "", "", nil, func() map[string]string {
		return map[string]string{"phone": otp.MaskPhone(phone)}
	})
	e.logger.Info("user registered", zap.String("username", req.Username), zap.String("phone", otp.MaskPhone(phone)))
	return nil
}

func (e *Engine) validateUsername(username string) error {
	cfg := e.config.Registration
	if len(username) < cfg.UsernameMinLength || len(username) > cfg.UsernameMaxLength {
		return fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidRegistration, cfg.UsernameMinLength, cfg.UsernameMaxLength)
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return fmt.Errorf("%w: username may contain only letters, digits, '.', '_' and '-'", ErrInvalidRegistration)
		}
	}
	return nil
}

func (e *Engine) validatePassword(plaintext, confirm string) error {
	cfg := e.config.Password
	if len(plaintext) < cfg.MinLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRegistration, cfg.MinLength)
	}
	if len(plaintext) > cfg.MaxBytes {
		return fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidRegistration, cfg.MaxBytes)
	}
	if plaintext != confirm {
		return fmt.Errorf("%w: passwords do not match", ErrInvalidRegistration)
	}
	return nil
}

// enrollFace turns a camera sample into a template. A pre-located region
// skips detection.
func (e *Engine) enrollFace(ctx context.Context, sample FaceSample) (face.Template, error) {
	if sample.Image == nil {
		return nil, ErrNoFaceDetected
	}
	if !sample.Region.Empty() {
		return e.face.Crop(sample.Image, sample.Region)
	}
	return e.face.Enroll(ctx, sample.Image)
}

func cancelled(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, ctxErr)
	}
	return err
}
