package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIPThrottle    bool
	MaxPasswordFailures int
	PasswordCooldown    time.Duration
	MaxOTPSends         int
	OTPSendWindow       time.Duration
}

// Limiter enforces per-username, per-IP and per-phone budgets using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckPassword reports ErrRateLimited when the username or IP has used up
// its failed-password budget. It does not count the current attempt.
func (l *Limiter) CheckPassword(ctx context.Context, username, ip string) error {
	if err := l.checkCounter(ctx, passwordUserKey(username), l.config.MaxPasswordFailures); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, passwordIPKey(ip), l.config.MaxPasswordFailures); err != nil {
			return err
		}
	}
	return nil
}

// RecordPasswordFailure counts a failed password check.
func (l *Limiter) RecordPasswordFailure(ctx context.Context, username, ip string) error {
	count, err := l.incrementWithTTL(ctx, passwordUserKey(username), l.config.PasswordCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxPasswordFailures) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, passwordIPKey(ip), l.config.PasswordCooldown)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxPasswordFailures) {
			return ErrRateLimited
		}
	}
	return nil
}

// ResetPassword clears the failure counters after a successful password step.
func (l *Limiter) ResetPassword(ctx context.Context, username, ip string) error {
	keys := []string{passwordUserKey(username)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, passwordIPKey(ip))
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// PasswordFailures returns the current failure count for username.
func (l *Limiter) PasswordFailures(ctx context.Context, username string) (int, error) {
	count, err := l.redis.Get(ctx, passwordUserKey(username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// AllowOTPSend counts one delivery to phone and reports ErrRateLimited once
// the window budget is exceeded.
func (l *Limiter) AllowOTPSend(ctx context.Context, phone string) error {
	if l.config.MaxOTPSends <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, otpSendKey(phone), l.config.OTPSendWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxOTPSends) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

func passwordUserKey(username string) string { return "mfa:rl:pw:" + username }
func passwordIPKey(ip string) string         { return "mfa:rl:pwi:" + ip }
func otpSendKey(phone string) string         { return "mfa:rl:otp:" + phone }
