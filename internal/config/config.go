// Package config loads process configuration for the binaries.
//
// Sources are layered, later ones winning:
//
//	defaults → TOML file (-config) → .env → environment → command-line flags
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/JasonStuckless/SecurityProject/internal/logging"
	"github.com/JasonStuckless/SecurityProject/internal/telemetry"
)

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig     `toml:"server"`
	Log       logging.Config   `toml:"log"`
	Telemetry telemetry.Config `toml:"telemetry"`
	Store     StoreConfig      `toml:"store"`
	Redis     RedisConfig      `toml:"redis"`
	Twilio    TwilioConfig     `toml:"twilio"`
	Sidecars  SidecarConfig    `toml:"sidecars"`
	Auth      AuthConfig       `toml:"auth"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `toml:"addr" env:"MFA_ADDR"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"MFA_SHUTDOWN_TIMEOUT"`
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	Driver       string `toml:"driver" env:"MFA_STORE_DRIVER"`
	DSN          string `toml:"dsn" env:"MFA_STORE_DSN"`
	MaxOpenConns int    `toml:"max_open_conns" env:"MFA_STORE_MAX_OPEN_CONNS"`
}

// RedisConfig configures the optional redis client. An empty Addr disables redis.
type RedisConfig struct {
	Addr     string `toml:"addr" env:"MFA_REDIS_ADDR"`
	Password string `toml:"password" env:"MFA_REDIS_PASSWORD"`
	DB       int    `toml:"db" env:"MFA_REDIS_DB"`
}

// TwilioConfig holds Twilio Verify credentials. Without them the server
// falls back to the local OTP provider.
type TwilioConfig struct {
	AccountSID string `toml:"account_sid" env:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `toml:"auth_token" env:"TWILIO_AUTH_TOKEN"`
	ServiceSID string `toml:"service_sid" env:"TWILIO_VERIFY_SERVICE_SID"`
}

// SidecarConfig points at the face detection and voice embedding services.
type SidecarConfig struct {
	FaceDetectorURL  string        `toml:"face_detector_url" env:"MFA_FACE_DETECTOR_URL"`
	VoiceEmbedderURL string        `toml:"voice_embedder_url" env:"MFA_VOICE_EMBEDDER_URL"`
	Timeout          time.Duration `toml:"timeout" env:"MFA_SIDECAR_TIMEOUT"`
}

// AuthConfig carries the engine settings exposed to operators.
type AuthConfig struct {
	JWTSecret      string        `toml:"jwt_secret" env:"MFA_JWT_SECRET"`
	PasswordAlgo   string        `toml:"password_algorithm" env:"MFA_PASSWORD_ALGORITHM"`
	BcryptCost     int           `toml:"bcrypt_cost" env:"MFA_BCRYPT_COST"`
	FaceThreshold  float64       `toml:"face_threshold" env:"MFA_FACE_THRESHOLD"`
	VoiceThreshold float64       `toml:"voice_threshold" env:"MFA_VOICE_THRESHOLD"`
	AttemptTTL     time.Duration `toml:"attempt_ttl" env:"MFA_ATTEMPT_TTL"`
	DefaultCountry string        `toml:"default_country" env:"MFA_DEFAULT_COUNTRY"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: logging.Config{Level: "info"},
		Store: StoreConfig{
			Driver:       "sqlite",
			DSN:          "file:mfa.db?_pragma=busy_timeout(5000)",
			MaxOpenConns: 8,
		},
		Sidecars: SidecarConfig{
			Timeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			PasswordAlgo:   "bcrypt",
			BcryptCost:     12,
			FaceThreshold:  1000,
			VoiceThreshold: 0.40,
			AttemptTTL:     5 * time.Minute,
			DefaultCountry: "1",
		},
	}
}

// Load builds a Config for the program name from args (without the program
// name). The .env file is optional; a missing one is ignored.
func Load(name string, args []string) (Config, error) {
	cfg, _, err := LoadArgs(name, args)
	return cfg, err
}

// LoadArgs is Load for programs that take positional arguments after the
// flags. It returns those arguments.
func LoadArgs(name string, args []string) (Config, []string, error) {
	cfg := Default()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.String("config", "", "path to a TOML config file")
	dotenv := fs.String("env-file", ".env", "path to a .env file")
	addr := fs.String("addr", "", "HTTP listen address")
	driver := fs.String("store", "", "credential store driver (memory, sqlite, postgres)")
	dsn := fs.String("dsn", "", "credential store DSN")
	level := fs.String("log-level", "", "log level")
	dev := fs.Bool("dev", false, "development logging")
	if err := fs.Parse(args); err != nil {
		return Config{}, nil, fmt.Errorf("parse flags: %w", err)
	}

	if *path != "" {
		if _, err := toml.DecodeFile(*path, &cfg); err != nil {
			return Config{}, nil, fmt.Errorf("decode %s: %w", *path, err)
		}
	}

	environ, err := environment(*dotenv)
	if err != nil {
		return Config{}, nil, err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, nil, fmt.Errorf("parse env: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addr
		case "store":
			cfg.Store.Driver = *driver
		case "dsn":
			cfg.Store.DSN = *dsn
		case "log-level":
			cfg.Log.Level = *level
		case "dev":
			cfg.Log.Dev = *dev
		}
	})

	return cfg, fs.Args(), cfg.Validate()
}

// environment merges the .env file under the process environment without
// mutating os.Environ.
func environment(dotenv string) (map[string]string, error) {
	merged, err := godotenv.Read(dotenv)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
		merged = map[string]string{}
	}
	for k, v := range env.ToMap(os.Environ()) {
		merged[k] = v
	}
	return merged, nil
}

// Validate rejects configurations the binaries cannot start with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("store driver %q is not supported", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return errors.New("store dsn is required")
	}
	if c.Server.Addr == "" {
		return errors.New("server addr is required")
	}
	if c.Auth.AttemptTTL <= 0 {
		return errors.New("auth attempt_ttl must be > 0")
	}
	if (c.Twilio.AccountSID == "") != (c.Twilio.AuthToken == "") {
		return errors.New("twilio account sid and auth token must be set together")
	}
	if c.Twilio.AccountSID != "" && c.Twilio.ServiceSID == "" {
		return errors.New("twilio verify service sid is required")
	}
	return nil
}
