package session

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrOutOfOrder is returned when a step is attempted before every earlier step passed.
	ErrOutOfOrder = errors.New("step out of order")
	// ErrCancelled is returned for operations on a cancelled attempt.
	ErrCancelled = errors.New("attempt cancelled")
	// ErrTimedOut is returned for operations on an expired attempt.
	ErrTimedOut = errors.New("attempt timed out")
	// ErrCompleted is returned for step operations on an authenticated attempt.
	ErrCompleted = errors.New("attempt already authenticated")
	// ErrRetriesExhausted is returned when the failure budget of an attempt is spent.
	ErrRetriesExhausted = errors.New("attempt failure budget exhausted")
	// ErrNotFound is returned by the registry for unknown or removed attempts.
	ErrNotFound = errors.New("attempt not found")
)

// Step identifies one verification factor. Steps run in declaration order.
type Step uint8

const (
	StepPassword Step = iota
	StepVoice
	StepFace
	StepOTP
	stepCount
)

// Steps lists every step in the order it must pass.
var Steps = [stepCount]Step{StepPassword, StepVoice, StepFace, StepOTP}

func (s Step) String() string {
	switch s {
	case StepPassword:
		return "password"
	case StepVoice:
		return "voice"
	case StepFace:
		return "face"
	case StepOTP:
		return "otp"
	default:
		return "unknown"
	}
}

// ParseStep maps a step name back to its Step value.
func ParseStep(name string) (Step, bool) {
	for _, s := range Steps {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

// StepStatus is the outcome recorded for one step.
type StepStatus uint8

const (
	StatusPending StepStatus = iota
	StatusPassed
	StatusFailed
)

func (s StepStatus) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// State is the position of an attempt in the login state machine.
type State uint8

const (
	StateStart State = iota
	StatePasswordStep
	StateVoiceStep
	StateFaceStep
	StateOTPStep
	StateAuthenticated
	StateFailed
	StateCancelled
	StateTimeout
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StatePasswordStep:
		return "password_step"
	case StateVoiceStep:
		return "voice_step"
	case StateFaceStep:
		return "face_step"
	case StateOTPStep:
		return "otp_step"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can leave s.
// StateFailed is not terminal while the failed step may still be retried.
func (s State) Terminal() bool {
	return s == StateAuthenticated || s == StateCancelled || s == StateTimeout
}

func stateFor(step Step) State {
	return StatePasswordStep + State(step)
}

// AuthSession is the state of one login attempt.
//
// Callers obtain sessions through [Registry.Acquire], which holds the session
// lock until the returned release function runs. Methods assume the lock is held.
type AuthSession struct {
	mu sync.Mutex

	ID            string
	Username      string
	State         State
	Steps         [stepCount]StepStatus
	PhoneSnapshot string
	Failures      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     time.Time
}

// Next returns the first step that has not passed. ok is false once all steps passed.
func (s *AuthSession) Next() (Step, bool) {
	for _, step := range Steps {
		if s.Steps[step] != StatusPassed {
			return step, true
		}
	}
	return 0, false
}

// Begin is the guarded transition into step. It succeeds only when every
// earlier step has passed and step itself has not. A failed step may be begun
// again; skipping ahead never succeeds.
func (s *AuthSession) Begin(step Step, now time.Time) error {
	if err := s.closedErr(); err != nil {
		return err
	}
	if step >= stepCount {
		return ErrOutOfOrder
	}
	next, ok := s.Next()
	if !ok || next != step {
		return ErrOutOfOrder
	}
	if s.State == StateFailed && s.Steps[step] != StatusFailed {
		return ErrOutOfOrder
	}

	s.State = stateFor(step)
	s.UpdatedAt = now
	return nil
}

// Pass records success for step, which must be the step currently running.
// After the last step the session becomes StateAuthenticated.
func (s *AuthSession) Pass(step Step, now time.Time) error {
	if err := s.closedErr(); err != nil {
		return err
	}
	if s.State != stateFor(step) {
		return ErrOutOfOrder
	}

	s.Steps[step] = StatusPassed
	s.UpdatedAt = now
	if next, ok := s.Next(); ok {
		s.State = stateFor(next)
		return nil
	}
	s.State = StateAuthenticated
	return nil
}

// Fail records a mismatch for step and moves the session to StateFailed.
// Earlier passed steps keep their status.
func (s *AuthSession) Fail(step Step, now time.Time) error {
	if err := s.closedErr(); err != nil {
		return err
	}
	if s.State != stateFor(step) {
		return ErrOutOfOrder
	}

	s.Steps[step] = StatusFailed
	s.State = StateFailed
	s.Failures++
	s.UpdatedAt = now
	return nil
}

// Cancel moves a non-terminal session to StateCancelled.
func (s *AuthSession) Cancel(now time.Time) error {
	if err := s.closedErr(); err != nil {
		return err
	}
	s.State = StateCancelled
	s.UpdatedAt = now
	return nil
}

// Timeout moves a non-terminal session to StateTimeout.
func (s *AuthSession) Timeout(now time.Time) error {
	if err := s.closedErr(); err != nil {
		return err
	}
	s.State = StateTimeout
	s.UpdatedAt = now
	return nil
}

// Authenticated reports whether every step passed. It is the only condition
// under which StateAuthenticated is reachable.
func (s *AuthSession) Authenticated() bool {
	for _, st := range s.Steps {
		if st != StatusPassed {
			return false
		}
	}
	return s.State == StateAuthenticated
}

// Expired reports whether the attempt deadline has passed at now.
func (s *AuthSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Snapshot returns a copy safe to hand to callers after the lock is released.
func (s *AuthSession) Snapshot() View {
	return View{
		ID:        s.ID,
		Username:  s.Username,
		State:     s.State,
		Steps:     s.Steps,
		Failures:  s.Failures,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

func (s *AuthSession) closedErr() error {
	switch s.State {
	case StateAuthenticated:
		return ErrCompleted
	case StateCancelled:
		return ErrCancelled
	case StateTimeout:
		return ErrTimedOut
	}
	return nil
}

// View is an immutable copy of an AuthSession without the phone snapshot.
type View struct {
	ID        string
	Username  string
	State     State
	Steps     [stepCount]StepStatus
	Failures  int
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Status returns the recorded outcome of step.
func (v View) Status(step Step) StepStatus {
	if step >= stepCount {
		return StatusPending
	}
	return v.Steps[step]
}
