package securityproject

import (
	"errors"
	"strings"
	"time"

	"github.com/JasonStuckless/SecurityProject/password"
)

// Config holds every tunable of the Engine. Instances are intended to be
// built once during initialization and then treated as immutable.
type Config struct {
	Store        StoreConfig
	Password     PasswordConfig
	Face         FaceConfig
	Voice        VoiceConfig
	OTP          OTPConfig
	Attempt      AttemptConfig
	Registration RegistrationConfig
	JWT          JWTConfig
	Security     SecurityConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
	Tracing      TracingConfig
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig bounds calls into the CredentialStore.
type StoreConfig struct {
	// OperationTimeout caps each CreateUser/GetUser call. Zero leaves the caller deadline alone.
	OperationTimeout time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the password hash and its cost.
type PasswordConfig struct {
	Algorithm   string // "bcrypt" (default) or "argon2id"
	BcryptCost  int
	Memory      uint32 // argon2id, in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	MaxBytes    int
}

/*
====================================
BIOMETRIC CONFIG
====================================
*/

// FaceConfig tunes face templates. A probe passes iff its distance is below Threshold.
type FaceConfig struct {
	Size      int
	Threshold float64
}

// VoiceConfig tunes voice templates. A probe passes iff its cosine distance is below Threshold.
type VoiceConfig struct {
	Threshold   float64
	MinDuration float64 // seconds
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls phone handling and OTP send budgets.
type OTPConfig struct {
	DefaultCountryCode string
	MaxSends           int
	SendWindow         time.Duration
}

/*
====================================
ATTEMPT CONFIG
====================================
*/

// AttemptConfig bounds the lifetime of a login attempt.
type AttemptConfig struct {
	TTL           time.Duration
	StepTimeout   time.Duration
	MaxFailures   int
	SweepInterval time.Duration
}

/*
====================================
REGISTRATION CONFIG
====================================
*/

// RegistrationConfig validates enrollment requests.
type RegistrationConfig struct {
	Enabled           bool
	UsernameMinLength int
	UsernameMaxLength int
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls the access token issued on authentication. Tokens are
// issued only when PrivateKey is set.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls redis-backed throttling. Ignored without a redis client.
type SecurityConfig struct {
	EnableIPThrottle    bool
	MaxPasswordFailures int
	PasswordCooldown    time.Duration
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// TracingConfig controls span creation.
type TracingConfig struct {
	Enabled    bool
	TracerName string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Store: StoreConfig{
			OperationTimeout: 5 * time.Second,
		},
		Password: PasswordConfig{
			Algorithm:   password.AlgorithmBcrypt,
			BcryptCost:  password.DefaultBcryptCost,
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   1,
			MaxBytes:    password.DefaultMaxPasswordBytes,
		},
		Face: FaceConfig{
			Size:      100,
			Threshold: 1000,
		},
		Voice: VoiceConfig{
			Threshold: 0.40,
		},
		OTP: OTPConfig{
			DefaultCountryCode: "1",
			MaxSends:           5,
			SendWindow:         15 * time.Minute,
		},
		Attempt: AttemptConfig{
			TTL:           5 * time.Minute,
			StepTimeout:   0,
			MaxFailures:   3,
			SweepInterval: 10 * time.Second,
		},
		Registration: RegistrationConfig{
			Enabled:           true,
			UsernameMinLength: 3,
			UsernameMaxLength: 32,
		},
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "securityproject",
		},
		Security: SecurityConfig{
			EnableIPThrottle:    true,
			MaxPasswordFailures: 5,
			PasswordCooldown:    15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Tracing: TracingConfig{
			Enabled:    true,
			TracerName: "github.com/JasonStuckless/SecurityProject",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	// Store
	if c.Store.OperationTimeout < 0 {
		return errors.New("Store OperationTimeout must be >= 0")
	}

	// Password
	switch strings.ToLower(c.Password.Algorithm) {
	case "", password.AlgorithmBcrypt:
		if c.Password.BcryptCost != 0 && (c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31) {
			return errors.New("Password BcryptCost must be within [4,31]")
		}
	case password.AlgorithmArgon2id:
		if c.Password.Memory < 8*1024 {
			return errors.New("Password Memory must be >= 8192 KB")
		}
		if c.Password.Time < 1 {
			return errors.New("Password Time must be >= 1")
		}
		if c.Password.Parallelism < 1 {
			return errors.New("Password Parallelism must be >= 1")
		}
		if c.Password.SaltLength < 16 {
			return errors.New("Password SaltLength must be >= 16")
		}
		if c.Password.KeyLength < 16 {
			return errors.New("Password KeyLength must be >= 16")
		}
	default:
		return errors.New("unsupported Password Algorithm")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxBytes < c.Password.MinLength {
		return errors.New("Password MaxBytes must be >= MinLength")
	}

	// Biometrics
	if c.Face.Size < 8 {
		return errors.New("Face Size must be >= 8")
	}
	if c.Face.Threshold <= 0 {
		return errors.New("Face Threshold must be > 0")
	}
	if c.Voice.Threshold <= 0 || c.Voice.Threshold > 2 {
		return errors.New("Voice Threshold must be within (0,2]")
	}
	if c.Voice.MinDuration < 0 {
		return errors.New("Voice MinDuration must be >= 0")
	}

	// OTP
	if c.OTP.DefaultCountryCode == "" || strings.Trim(c.OTP.DefaultCountryCode, "0123456789") != "" {
		return errors.New("OTP DefaultCountryCode must be digits")
	}
	if c.OTP.MaxSends < 0 {
		return errors.New("OTP MaxSends must be >= 0")
	}
	if c.OTP.MaxSends > 0 && c.OTP.SendWindow <= 0 {
		return errors.New("OTP SendWindow must be > 0 when MaxSends is set")
	}

	// Attempt
	if c.Attempt.TTL <= 0 {
		return errors.New("Attempt TTL must be > 0")
	}
	if c.Attempt.StepTimeout < 0 {
		return errors.New("Attempt StepTimeout must be >= 0")
	}
	if c.Attempt.MaxFailures < 1 {
		return errors.New("Attempt MaxFailures must be >= 1")
	}
	if c.Attempt.SweepInterval <= 0 {
		return errors.New("Attempt SweepInterval must be > 0")
	}

	// Registration
	if c.Registration.UsernameMinLength < 1 {
		return errors.New("Registration UsernameMinLength must be >= 1")
	}
	if c.Registration.UsernameMaxLength < c.Registration.UsernameMinLength {
		return errors.New("Registration UsernameMaxLength must be >= UsernameMinLength")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) > 0 && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 PrivateKey must be at least 32 bytes")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) > 0 && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}

	// Security
	if c.Security.MaxPasswordFailures < 0 {
		return errors.New("Security MaxPasswordFailures must be >= 0")
	}
	if c.Security.MaxPasswordFailures > 0 && c.Security.PasswordCooldown <= 0 {
		return errors.New("Security PasswordCooldown must be > 0 when MaxPasswordFailures is set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
