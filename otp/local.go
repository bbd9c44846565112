package otp

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/redis/go-redis/v9"
)

// Notifier delivers a rendered message to a phone.
type Notifier interface {
	Notify(ctx context.Context, phone, message string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, phone, message string) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, phone, message string) error {
	return f(ctx, phone, message)
}

// WriterNotifier prints messages to W. It is meant for local development.
type WriterNotifier struct {
	W io.Writer
}

// Notify implements Notifier.
func (n WriterNotifier) Notify(_ context.Context, phone, message string) error {
	_, err := fmt.Fprintf(n.W, "sms to %s: %s\n", phone, message)
	return err
}

// LocalConfig tunes a LocalProvider.
type LocalConfig struct {
	TTL         time.Duration
	Digits      int
	MaxAttempts int
	KeyPrefix   string
}

// LocalProvider issues HOTP codes from a per-phone secret held in redis.
// A code is single use: a successful check or too many failures removes it.
type LocalProvider struct {
	redis    redis.UniversalClient
	notifier Notifier
	cfg      LocalConfig
	opts     hotp.ValidateOpts
}

// NewLocalProvider returns a redis-backed Provider.
func NewLocalProvider(rdb redis.UniversalClient, notifier Notifier, cfg LocalConfig) (*LocalProvider, error) {
	if rdb == nil {
		return nil, errors.New("otp redis client is nil")
	}
	if notifier == nil {
		return nil, errors.New("otp notifier is nil")
	}
	if cfg.TTL == 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "mfa:otp"
	}
	if cfg.Digits != 6 && cfg.Digits != 8 {
		return nil, errors.New("otp digits must be 6 or 8")
	}
	if cfg.TTL < 0 || cfg.MaxAttempts < 0 {
		return nil, errors.New("otp ttl and max attempts must be >= 0")
	}

	digits := otp.DigitsSix
	if cfg.Digits == 8 {
		digits = otp.DigitsEight
	}
	return &LocalProvider{
		redis:    rdb,
		notifier: notifier,
		cfg:      cfg,
		opts:     hotp.ValidateOpts{Digits: digits, Algorithm: otp.AlgorithmSHA1},
	}, nil
}

func (p *LocalProvider) key(phone string) string {
	return p.cfg.KeyPrefix + ":" + phone
}

// SendCode creates a fresh secret for phone, replacing any pending one.
func (p *LocalProvider) SendCode(ctx context.Context, phone string) error {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	counter := uint64(time.Now().UnixNano())

	code, err := hotp.GenerateCodeCustom(secret, counter, p.opts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	key := p.key(phone)
	pipe := p.redis.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, "secret", secret, "counter", strconv.FormatUint(counter, 10), "attempts", 0)
	pipe.Expire(ctx, key, p.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if err := p.notifier.Notify(ctx, phone, "Your verification code is "+code); err != nil {
		_ = p.redis.Del(ctx, key).Err()
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// VerifyCode checks code for phone. Missing or expired codes are not approved.
func (p *LocalProvider) VerifyCode(ctx context.Context, phone, code string) (bool, error) {
	key := p.key(phone)
	vals, err := p.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	secret := vals["secret"]
	if secret == "" {
		return false, nil
	}
	counter, err := strconv.ParseUint(vals["counter"], 10, 64)
	if err != nil {
		_ = p.redis.Del(ctx, key).Err()
		return false, nil
	}

	attempts, err := p.redis.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if attempts > int64(p.cfg.MaxAttempts) {
		_ = p.redis.Del(ctx, key).Err()
		return false, nil
	}

	ok, err := hotp.ValidateCustom(code, counter, secret, p.opts)
	if err != nil || !ok {
		return false, nil
	}
	if err := p.redis.Del(ctx, key).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return true, nil
}
