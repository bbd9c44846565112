package securityproject

import (
	"context"
	"image"
	"time"

	"github.com/JasonStuckless/SecurityProject/biometric/voice"
	"github.com/JasonStuckless/SecurityProject/session"
)

// Step identifies one login factor. Steps run in the order password, voice,
// face, otp.
type Step = session.Step

const (
	StepPassword = session.StepPassword
	StepVoice    = session.StepVoice
	StepFace     = session.StepFace
	StepOTP      = session.StepOTP
)

// AttemptState is the position of a login attempt in the state machine.
type AttemptState = session.State

const (
	StateStart         = session.StateStart
	StatePasswordStep  = session.StatePasswordStep
	StateVoiceStep     = session.StateVoiceStep
	StateFaceStep      = session.StateFaceStep
	StateOTPStep       = session.StateOTPStep
	StateAuthenticated = session.StateAuthenticated
	StateFailed        = session.StateFailed
	StateCancelled     = session.StateCancelled
	StateTimeout       = session.StateTimeout
)

// StepStatus is the recorded outcome of one step.
type StepStatus = session.StepStatus

const (
	StatusPending = session.StatusPending
	StatusPassed  = session.StatusPassed
	StatusFailed  = session.StatusFailed
)

// AttemptView is a read-only copy of a login attempt.
type AttemptView = session.View

// UserRecord is the persisted enrollment of one user.
type UserRecord struct {
	Username      string
	PasswordHash  string
	FaceTemplate  []byte
	VoiceTemplate []byte
	Phone         string
	CreatedAt     time.Time
}

// CredentialStore persists enrolled users.
//
// CreateUser must reject an existing username with ErrDuplicateUsername using
// an atomic check-and-insert. GetUser returns ErrNotFound for unknown users.
// Records are never updated or deleted.
type CredentialStore interface {
	CreateUser(ctx context.Context, record UserRecord) error
	GetUser(ctx context.Context, username string) (UserRecord, error)
}

// FaceSample is a camera image for enrollment or the face step. When Region
// is non-empty the face was already located and detection is skipped.
type FaceSample struct {
	Image  image.Image
	Region image.Rectangle
}

// RegistrationRequest carries everything needed to enroll a user.
type RegistrationRequest struct {
	Username        string
	Password        string
	ConfirmPassword string
	Phone           string
	Face            FaceSample
	Voice           voice.Clip
}

// StepResult is returned by a successful login step.
type StepResult struct {
	AttemptID string
	Step      Step
	State     AttemptState
	// Distance is the biometric score for voice and face steps.
	Distance float64
	// AccessToken is set once the attempt is authenticated and a signer is configured.
	AccessToken string
	ExpiresAt   time.Time
}

// Authenticated reports whether the step completed the attempt.
func (r *StepResult) Authenticated() bool {
	return r != nil && r.State == StateAuthenticated
}
