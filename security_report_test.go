package securityproject

import (
	"slices"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestSecurityReportFlagsTestDefaults(t *testing.T) {
	e := newTestEngine(t, nil)
	r := e.SecurityReport()

	if r.PasswordThrottle || r.OTPSendThrottle {
		t.Fatalf("expected no throttling without redis, got %+v", r)
	}
	if r.TokensIssued {
		t.Fatal("expected no tokens without a signing key")
	}
	for _, want := range []string{"bcrypt cost below 10", "password guessing is not throttled"} {
		if !slices.Contains(r.Warnings, want) {
			t.Fatalf("expected warning %q in %v", want, r.Warnings)
		}
	}
}

func TestSecurityReportWithRedisAndKey(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := newTestEngine(t, func(cfg *Config, b *Builder) {
		cfg.Password.BcryptCost = 12
		cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
		b.WithRedis(rdb)
	})
	r := e.SecurityReport()

	if !r.PasswordThrottle || !r.OTPSendThrottle {
		t.Fatalf("expected throttling with redis, got %+v", r)
	}
	if !r.TokensIssued || r.SigningAlgorithm != "hs256" {
		t.Fatalf("expected hs256 tokens, got %+v", r)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
	if r.MaxStepFailures != 3 {
		t.Fatalf("expected 3 step failures, got %d", r.MaxStepFailures)
	}
}
