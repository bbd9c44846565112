package otp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twclient "github.com/twilio/twilio-go/client"
	verify "github.com/twilio/twilio-go/rest/verify/v2"
)

type captureNotifier struct {
	mu   sync.Mutex
	last map[string]string
	err  error
}

func (c *captureNotifier) Notify(_ context.Context, phone, message string) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		c.last = map[string]string{}
	}
	c.last[phone] = message[strings.LastIndex(message, " ")+1:]
	return nil
}

func (c *captureNotifier) code(phone string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[phone]
}

func newTestLocal(t *testing.T, cfg LocalConfig) (*LocalProvider, *captureNotifier, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	n := &captureNotifier{}
	p, err := NewLocalProvider(rdb, n, cfg)
	require.NoError(t, err)
	return p, n, mr
}

const phone = "+15551234567"

func TestLocalSendAndVerify(t *testing.T) {
	p, n, _ := newTestLocal(t, LocalConfig{})
	ctx := context.Background()

	require.NoError(t, p.SendCode(ctx, phone))
	code := n.code(phone)
	require.Len(t, code, 6)

	ok, err := p.VerifyCode(ctx, phone, code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.VerifyCode(ctx, phone, code)
	require.NoError(t, err)
	assert.False(t, ok, "code must be single use")
}

func TestLocalWrongCodeAndLockout(t *testing.T) {
	p, n, _ := newTestLocal(t, LocalConfig{MaxAttempts: 2})
	ctx := context.Background()

	require.NoError(t, p.SendCode(ctx, phone))
	code := n.code(phone)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 2; i++ {
		ok, err := p.VerifyCode(ctx, phone, wrong)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	ok, err := p.VerifyCode(ctx, phone, code)
	require.NoError(t, err)
	assert.False(t, ok, "code must be revoked after max attempts")
}

func TestLocalCodeExpires(t *testing.T) {
	p, n, mr := newTestLocal(t, LocalConfig{TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, p.SendCode(ctx, phone))
	mr.FastForward(2 * time.Minute)

	ok, err := p.VerifyCode(ctx, phone, n.code(phone))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalResendReplacesCode(t *testing.T) {
	p, n, _ := newTestLocal(t, LocalConfig{})
	ctx := context.Background()

	require.NoError(t, p.SendCode(ctx, phone))
	first := n.code(phone)
	require.NoError(t, p.SendCode(ctx, phone))
	second := n.code(phone)

	if first != second {
		ok, err := p.VerifyCode(ctx, phone, first)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	ok, err := p.VerifyCode(ctx, phone, second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalNotifierFailure(t *testing.T) {
	p, n, mr := newTestLocal(t, LocalConfig{})
	n.err = errors.New("carrier down")

	err := p.SendCode(context.Background(), phone)
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.False(t, mr.Exists("mfa:otp:"+phone))
}

func TestLocalRedisUnavailable(t *testing.T) {
	p, _, mr := newTestLocal(t, LocalConfig{})
	mr.Close()

	assert.ErrorIs(t, p.SendCode(context.Background(), phone), ErrProviderUnavailable)
	_, err := p.VerifyCode(context.Background(), phone, "123456")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

type fakeVerify struct {
	sent    []string
	status  string
	sendErr error
	chkErr  error
}

func (f *fakeVerify) CreateVerification(_ string, params *verify.CreateVerificationParams) (*verify.VerifyV2Verification, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, *params.To)
	return &verify.VerifyV2Verification{}, nil
}

func (f *fakeVerify) CreateVerificationCheck(_ string, _ *verify.CreateVerificationCheckParams) (*verify.VerifyV2VerificationCheck, error) {
	if f.chkErr != nil {
		return nil, f.chkErr
	}
	status := f.status
	return &verify.VerifyV2VerificationCheck{Status: &status}, nil
}

func TestTwilioVerify(t *testing.T) {
	api := &fakeVerify{status: "approved"}
	tv, err := newTwilioVerify(api, TwilioConfig{ServiceSID: "VA123"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, tv.SendCode(ctx, phone))
	assert.Equal(t, []string{phone}, api.sent)

	ok, err := tv.VerifyCode(ctx, phone, "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	api.status = "pending"
	ok, err = tv.VerifyCode(ctx, phone, "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTwilioVerifyErrors(t *testing.T) {
	api := &fakeVerify{sendErr: errors.New("401")}
	tv, err := newTwilioVerify(api, TwilioConfig{ServiceSID: "VA123"})
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, tv.SendCode(ctx, phone), ErrSendFailed)

	api.chkErr = &twclient.TwilioRestError{Status: http.StatusNotFound, Code: 20404}
	ok, err := tv.VerifyCode(ctx, phone, "1")
	require.NoError(t, err)
	assert.False(t, ok)

	api.chkErr = errors.New("connection reset")
	_, err = tv.VerifyCode(ctx, phone, "1")
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	_, err = newTwilioVerify(api, TwilioConfig{})
	assert.Error(t, err)
	_, err = NewTwilioVerify(TwilioConfig{ServiceSID: "VA"})
	assert.Error(t, err)
}

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+15551234567", "+15551234567", true},
		{"5551234567", "+15551234567", true},
		{"(555) 123-4567", "+15551234567", true},
		{"+44 20 7946 0958", "+442079460958", true},
		{"555123456", "", false},
		{"+0123456789", "", false},
		{"+1234567", "", false},
		{"+1234567890123456", "", false},
		{"555-CALL-NOW", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeE164(tc.in, "")
		if tc.ok {
			require.NoError(t, err, tc.in)
			assert.Equal(t, tc.want, got, tc.in)
		} else {
			assert.ErrorIs(t, err, ErrInvalidPhone, tc.in)
		}
	}

	got, err := NormalizeE164("2079460958", "44")
	require.NoError(t, err)
	assert.Equal(t, "+442079460958", got)
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "+1******4567", MaskPhone("+15551234567"))
	assert.Equal(t, "***", MaskPhone("+12"))
}
