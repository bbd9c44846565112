package security

import "time"

// PasswordReport describes the configured password hash.
type PasswordReport struct {
	Algorithm   string
	BcryptCost  int
	Memory      uint32
	Time        uint32
	Parallelism uint8
	MinLength   int
}

// Report is a flat view of the settings an operator audits before going live.
type Report struct {
	Password            PasswordReport
	FaceThreshold       float64
	VoiceThreshold      float64
	AttemptTTL          time.Duration
	StepTimeout         time.Duration
	MaxStepFailures     int
	TokensIssued        bool
	SigningAlgorithm    string
	AccessTTL           time.Duration
	PasswordThrottle    bool
	IPThrottle          bool
	OTPSendThrottle     bool
	RegistrationEnabled bool
	AuditEnabled        bool
	Warnings            []string
}

// ReportInput carries the values BuildReport inspects.
type ReportInput struct {
	Password            PasswordReport
	FaceThreshold       float64
	VoiceThreshold      float64
	AttemptTTL          time.Duration
	StepTimeout         time.Duration
	MaxStepFailures     int
	JWTKeyConfigured    bool
	SigningAlgorithm    string
	AccessTTL           time.Duration
	RedisConfigured     bool
	EnableIPThrottle    bool
	MaxPasswordFailures int
	MaxOTPSends         int
	RegistrationEnabled bool
	AuditEnabled        bool
}

const (
	minBcryptCost   = 10
	minArgon2Memory = 19 * 1024
)

// BuildReport derives a Report and flags weak settings.
func BuildReport(in ReportInput) Report {
	throttled := in.RedisConfigured && in.MaxPasswordFailures > 0
	r := Report{
		Password:            in.Password,
		FaceThreshold:       in.FaceThreshold,
		VoiceThreshold:      in.VoiceThreshold,
		AttemptTTL:          in.AttemptTTL,
		StepTimeout:         in.StepTimeout,
		MaxStepFailures:     in.MaxStepFailures,
		TokensIssued:        in.JWTKeyConfigured,
		AccessTTL:           in.AccessTTL,
		PasswordThrottle:    throttled,
		IPThrottle:          throttled && in.EnableIPThrottle,
		OTPSendThrottle:     in.RedisConfigured && in.MaxOTPSends > 0,
		RegistrationEnabled: in.RegistrationEnabled,
		AuditEnabled:        in.AuditEnabled,
	}
	if r.TokensIssued {
		r.SigningAlgorithm = in.SigningAlgorithm
	}

	switch in.Password.Algorithm {
	case "bcrypt":
		if in.Password.BcryptCost < minBcryptCost {
			r.Warnings = append(r.Warnings, "bcrypt cost below 10")
		}
	case "argon2id":
		if in.Password.Memory < minArgon2Memory {
			r.Warnings = append(r.Warnings, "argon2id memory below 19 MiB")
		}
	}
	if !r.PasswordThrottle {
		r.Warnings = append(r.Warnings, "password guessing is not throttled")
	}
	if in.MaxStepFailures <= 0 {
		r.Warnings = append(r.Warnings, "step failures are unlimited")
	}
	if !r.TokensIssued {
		r.Warnings = append(r.Warnings, "no access token is issued on authentication")
	}
	return r
}
