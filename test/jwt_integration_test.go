package test

import (
	"slices"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"

	mfa "github.com/JasonStuckless/SecurityProject"
	"github.com/JasonStuckless/SecurityProject/jwt"
)

var jwtKey = []byte("integration-key-integration-key-!")

func TestAccessTokenReadableByThirdParty(t *testing.T) {
	_, rdb := newRedis(t)
	engine, sms := newEngine(t, rdb, func(cfg *mfa.Config) {
		cfg.JWT.PrivateKey = jwtKey
		cfg.JWT.Audience = "api"
	})

	res := fullLogin(t, engine, sms)
	if res.AccessToken == "" {
		t.Fatal("expected an access token")
	}

	claims := &jwt.AccessClaims{}
	_, err := gjwt.ParseWithClaims(res.AccessToken, claims, func(*gjwt.Token) (interface{}, error) {
		return jwtKey, nil
	}, gjwt.WithValidMethods([]string{"HS256"}), gjwt.WithAudience("api"), gjwt.WithIssuer("securityproject"))
	if err != nil {
		t.Fatalf("third-party parse failed: %v", err)
	}
	if claims.Username() != "alice" {
		t.Fatalf("expected subject alice, got %q", claims.Username())
	}
	if claims.AttemptID == "" || claims.ID != claims.AttemptID {
		t.Fatalf("expected jti to carry attempt id, got aid=%q jti=%q", claims.AttemptID, claims.ID)
	}
	if !slices.Equal(claims.Factors, []string{"password", "voice", "face", "otp"}) {
		t.Fatalf("unexpected amr: %v", claims.Factors)
	}
}

func TestAccessTokenForgeriesRejected(t *testing.T) {
	_, rdb := newRedis(t)
	engine, _ := newEngine(t, rdb, func(cfg *mfa.Config) {
		cfg.JWT.PrivateKey = jwtKey
	})

	claims := jwt.AccessClaims{
		AttemptID: "forged",
		Factors:   []string{"password", "voice", "face", "otp"},
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "securityproject",
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
		},
	}

	unsigned, err := gjwt.NewWithClaims(gjwt.SigningMethodNone, claims).SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := engine.ParseAccessToken(unsigned); err == nil {
		t.Fatal("expected alg none token to fail")
	}

	wrongKey, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("another-key-another-key-another-k"))
	if err != nil {
		t.Fatalf("sign wrong key: %v", err)
	}
	if _, err := engine.ParseAccessToken(wrongKey); err == nil {
		t.Fatal("expected token signed with another key to fail")
	}

	good, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(jwtKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parsed, err := engine.ParseAccessToken(good)
	if err != nil {
		t.Fatalf("expected correctly signed token to parse: %v", err)
	}
	if parsed.AttemptID != "forged" {
		t.Fatalf("unexpected attempt id %q", parsed.AttemptID)
	}

	claims.ExpiresAt = gjwt.NewNumericDate(time.Now().Add(-time.Hour))
	expired, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(jwtKey)
	if _, err := engine.ParseAccessToken(expired); err == nil {
		t.Fatal("expected expired token to fail")
	}
}
