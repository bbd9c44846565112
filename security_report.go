package securityproject

import "github.com/JasonStuckless/SecurityProject/internal/security"

// SecurityReport summarizes the engine's security-relevant settings.
type SecurityReport = security.Report

// SecurityReport returns the posture of this engine, including warnings for
// weak settings such as a low hash cost or missing throttling.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config
	return security.BuildReport(security.ReportInput{
		Password: security.PasswordReport{
			Algorithm:   c.Password.Algorithm,
			BcryptCost:  c.Password.BcryptCost,
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			MinLength:   c.Password.MinLength,
		},
		FaceThreshold:       c.Face.Threshold,
		VoiceThreshold:      c.Voice.Threshold,
		AttemptTTL:          c.Attempt.TTL,
		StepTimeout:         c.Attempt.StepTimeout,
		MaxStepFailures:     c.Attempt.MaxFailures,
		JWTKeyConfigured:    e.jwtManager != nil,
		SigningAlgorithm:    c.JWT.SigningMethod,
		AccessTTL:           c.JWT.AccessTTL,
		RedisConfigured:     e.limiter != nil,
		EnableIPThrottle:    c.Security.EnableIPThrottle,
		MaxPasswordFailures: c.Security.MaxPasswordFailures,
		MaxOTPSends:         c.OTP.MaxSends,
		RegistrationEnabled: c.Registration.Enabled,
		AuditEnabled:        c.Audit.Enabled,
	})
}
