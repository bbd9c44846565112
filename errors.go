package securityproject

import (
	"errors"

	"github.com/JasonStuckless/SecurityProject/biometric/face"
	"github.com/JasonStuckless/SecurityProject/session"
)

var (
	// ErrNotFound is returned by a CredentialStore for an unknown username.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateUsername is returned when the username is already registered.
	ErrDuplicateUsername = errors.New("username already registered")
	// ErrInvalidCredential is returned when the password step does not verify.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrNoFaceDetected is returned when an image contains no face.
	ErrNoFaceDetected = face.ErrNoFaceDetected
	// ErrMultipleFacesDetected is returned when an image contains more than one face.
	ErrMultipleFacesDetected = face.ErrMultipleFacesDetected
	// ErrTemplateSizeMismatch is returned when a stored face template has the wrong length.
	ErrTemplateSizeMismatch = face.ErrTemplateSizeMismatch
	// ErrBiometricMismatch is returned when a voice or face probe is too far from the template.
	ErrBiometricMismatch = errors.New("biometric mismatch")
	// ErrStepOutOfOrder is returned when a step is attempted before the earlier steps passed.
	ErrStepOutOfOrder = session.ErrOutOfOrder
	// ErrOTPSendFailure is returned when the OTP provider cannot deliver a code.
	ErrOTPSendFailure = errors.New("otp send failure")
	// ErrOTPCheckFailure is returned when the OTP provider cannot check a submitted code.
	ErrOTPCheckFailure = errors.New("otp check failure")
	// ErrOTPMismatch is returned when the submitted code is rejected.
	ErrOTPMismatch = errors.New("otp mismatch")
	// ErrCancelled is returned for cancelled attempts and abandoned captures.
	ErrCancelled = errors.New("attempt cancelled")
	// ErrTimeout is returned for attempts whose deadline passed. It wraps ErrCancelled.
	ErrTimeout error = timeoutError{}

	// ErrAttemptNotFound is returned for unknown or already finished attempts.
	ErrAttemptNotFound = errors.New("login attempt not found")
	// ErrAttemptsExceeded is joined to the step error that spends the failure budget.
	ErrAttemptsExceeded = errors.New("login attempt failure budget exhausted")
	// ErrRateLimited is returned when a password or OTP budget is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidRegistration is returned when registration input fails validation.
	ErrInvalidRegistration = errors.New("invalid registration request")
	// ErrRegistrationDisabled is returned when registration is turned off.
	ErrRegistrationDisabled = errors.New("registration disabled")
	// ErrStoreUnavailable wraps credential store failures.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrEngineNotReady is returned when a required dependency is missing.
	ErrEngineNotReady = errors.New("engine not initialized")
)

type timeoutError struct{}

func (timeoutError) Error() string { return "attempt timed out" }

func (timeoutError) Unwrap() error { return ErrCancelled }

// StepError reports which login step produced Err.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return e.Step.String() + " step: " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepErr(step Step, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// mapSessionError translates registry and state machine errors into the
// public taxonomy.
func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound):
		return ErrAttemptNotFound
	case errors.Is(err, session.ErrTimedOut):
		return ErrTimeout
	case errors.Is(err, session.ErrCancelled):
		return ErrCancelled
	case errors.Is(err, session.ErrCompleted), errors.Is(err, session.ErrOutOfOrder):
		return ErrStepOutOfOrder
	case errors.Is(err, session.ErrRetriesExhausted):
		return ErrAttemptsExceeded
	default:
		return err
	}
}
