// Package otp delivers and checks one-time passcodes sent to a phone.
//
// The engine depends only on [Provider]. TwilioVerify delegates code
// generation and storage to Twilio Verify; LocalProvider keeps a per-phone
// HOTP secret in redis and hands the code to a [Notifier].
package otp

import (
	"context"
	"errors"
)

var (
	// ErrSendFailed is returned when a code could not be delivered.
	ErrSendFailed = errors.New("otp delivery failed")
	// ErrProviderUnavailable is returned when the provider backend cannot be reached.
	ErrProviderUnavailable = errors.New("otp provider unavailable")
)

// Provider sends and verifies one-time codes. Implementations never return
// the code to the caller.
type Provider interface {
	SendCode(ctx context.Context, phone string) error
	VerifyCode(ctx context.Context, phone, code string) (bool, error)
}
