package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestPasswordBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxPasswordFailures: 3, PasswordCooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckPassword(ctx, "alice", ""); err != nil {
			t.Fatalf("check %d: unexpected error %v", i, err)
		}
		if err := l.RecordPasswordFailure(ctx, "alice", ""); err != nil {
			t.Fatalf("record %d: unexpected error %v", i, err)
		}
	}
	if err := l.CheckPassword(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckPassword(ctx, "bob", ""); err != nil {
		t.Fatalf("other users must not be limited: %v", err)
	}

	n, err := l.PasswordFailures(ctx, "alice")
	if err != nil || n != 3 {
		t.Fatalf("expected 3 failures, got %d (%v)", n, err)
	}

	if err := l.ResetPassword(ctx, "alice", ""); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if err := l.CheckPassword(ctx, "alice", ""); err != nil {
		t.Fatalf("expected reset counter, got %v", err)
	}
}

func TestPasswordWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxPasswordFailures: 1, PasswordCooldown: time.Minute})
	ctx := context.Background()

	_ = l.RecordPasswordFailure(ctx, "alice", "")
	if err := l.CheckPassword(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if err := l.CheckPassword(ctx, "alice", ""); err != nil {
		t.Fatalf("expected window to expire, got %v", err)
	}
}

func TestPasswordIPThrottle(t *testing.T) {
	l, _ := newTestLimiter(t, Config{EnableIPThrottle: true, MaxPasswordFailures: 2, PasswordCooldown: time.Minute})
	ctx := context.Background()

	_ = l.RecordPasswordFailure(ctx, "alice", "10.0.0.1")
	_ = l.RecordPasswordFailure(ctx, "bob", "10.0.0.1")
	if err := l.CheckPassword(ctx, "carol", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP budget to be exhausted, got %v", err)
	}
}

func TestOTPSendBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxOTPSends: 2, OTPSendWindow: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.AllowOTPSend(ctx, "+15551234567"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := l.AllowOTPSend(ctx, "+15551234567"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRedisUnavailable(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxPasswordFailures: 1, MaxOTPSends: 1, OTPSendWindow: time.Minute})
	mr.Close()
	ctx := context.Background()

	if err := l.CheckPassword(ctx, "alice", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if err := l.AllowOTPSend(ctx, "+1"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
