package otp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	verify "github.com/twilio/twilio-go/rest/verify/v2"
)

const statusApproved = "approved"

// verifyAPI is the subset of the Twilio Verify v2 service used here.
type verifyAPI interface {
	CreateVerification(serviceSid string, params *verify.CreateVerificationParams) (*verify.VerifyV2Verification, error)
	CreateVerificationCheck(serviceSid string, params *verify.CreateVerificationCheckParams) (*verify.VerifyV2VerificationCheck, error)
}

// TwilioConfig holds Twilio credentials and the Verify service SID.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	ServiceSID string
	Channel    string
}

// TwilioVerify sends codes through Twilio Verify.
type TwilioVerify struct {
	api        verifyAPI
	serviceSID string
	channel    string
}

// NewTwilioVerify returns a Provider backed by Twilio Verify.
func NewTwilioVerify(cfg TwilioConfig) (*TwilioVerify, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("twilio account sid and auth token are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioVerify(client.VerifyV2, cfg)
}

func newTwilioVerify(api verifyAPI, cfg TwilioConfig) (*TwilioVerify, error) {
	if cfg.ServiceSID == "" {
		return nil, errors.New("twilio verify service sid is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = "sms"
	}
	return &TwilioVerify{api: api, serviceSID: cfg.ServiceSID, channel: cfg.Channel}, nil
}

// SendCode starts a verification for phone.
func (t *TwilioVerify) SendCode(ctx context.Context, phone string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &verify.CreateVerificationParams{}
	params.SetTo(phone)
	params.SetChannel(t.channel)

	if _, err := t.api.CreateVerification(t.serviceSID, params); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// VerifyCode checks code against the pending verification for phone.
// A missing or expired verification is reported as not approved.
func (t *TwilioVerify) VerifyCode(ctx context.Context, phone, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	params := &verify.CreateVerificationCheckParams{}
	params.SetTo(phone)
	params.SetCode(code)

	resp, err := t.api.CreateVerificationCheck(t.serviceSID, params)
	if err != nil {
		var restErr *twclient.TwilioRestError
		if errors.As(err, &restErr) && restErr.Status == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return resp != nil && resp.Status != nil && *resp.Status == statusApproved, nil
}
