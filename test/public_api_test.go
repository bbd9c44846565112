package test

import (
	"context"
	"net/http"
	"testing"

	mfa "github.com/JasonStuckless/SecurityProject"
	"github.com/JasonStuckless/SecurityProject/biometric/voice"
	"github.com/JasonStuckless/SecurityProject/middleware"
)

// Guards public API compile-compat for consumers.
func TestPublicAPISurfaceCompile(t *testing.T) {
	_ = mfa.New

	var _ *mfa.Engine
	var _ mfa.Config
	var _ mfa.UserRecord
	var _ mfa.CredentialStore
	var _ mfa.RegistrationRequest
	var _ mfa.StepResult
	var _ mfa.AttemptView
	var _ mfa.AuditSink

	var _ error = mfa.ErrNotFound
	var _ error = mfa.ErrDuplicateUsername
	var _ error = mfa.ErrInvalidCredential
	var _ error = mfa.ErrNoFaceDetected
	var _ error = mfa.ErrMultipleFacesDetected
	var _ error = mfa.ErrTemplateSizeMismatch
	var _ error = mfa.ErrBiometricMismatch
	var _ error = mfa.ErrStepOutOfOrder
	var _ error = mfa.ErrOTPSendFailure
	var _ error = mfa.ErrOTPCheckFailure
	var _ error = mfa.ErrCancelled
	var _ error = mfa.ErrTimeout

	var _ func(middleware.TokenParser) func(http.Handler) http.Handler = middleware.RequireToken
	var _ middleware.TokenParser = (*mfa.Engine)(nil)

	var _ func(*mfa.Engine, context.Context, mfa.RegistrationRequest) error = (*mfa.Engine).Register
	var _ func(*mfa.Engine, context.Context, string) (mfa.AttemptView, error) = (*mfa.Engine).BeginLogin
	var _ func(*mfa.Engine, context.Context, string, string) (*mfa.StepResult, error) = (*mfa.Engine).VerifyPassword
	var _ func(*mfa.Engine, context.Context, string, voice.Clip) (*mfa.StepResult, error) = (*mfa.Engine).VerifyVoice
	var _ func(*mfa.Engine, context.Context, string, mfa.FaceSample) (*mfa.StepResult, error) = (*mfa.Engine).VerifyFace
	var _ func(*mfa.Engine, context.Context, string) error = (*mfa.Engine).SendOTP
	var _ func(*mfa.Engine, context.Context, string, string) (*mfa.StepResult, error) = (*mfa.Engine).VerifyOTP
	var _ func(*mfa.Engine, context.Context, string) error = (*mfa.Engine).Cancel
	var _ func(*mfa.Engine, context.Context, string) (mfa.AttemptView, error) = (*mfa.Engine).ResetLogin
}
