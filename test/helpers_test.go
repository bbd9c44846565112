package test

import (
	"context"
	"image"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	mfa "github.com/JasonStuckless/SecurityProject"
	"github.com/JasonStuckless/SecurityProject/biometric/face"
	"github.com/JasonStuckless/SecurityProject/biometric/voice"
	"github.com/JasonStuckless/SecurityProject/otp"
	"github.com/JasonStuckless/SecurityProject/store/memstore"
)

const (
	password = "Secret1!"
	phone    = "+15551234567"
)

var oneFace = face.StaticDetector{Faces: []image.Rectangle{image.Rect(2, 2, 30, 30)}}

var sameVoice = voice.EmbedderFunc(func(context.Context, []int16, int) ([]float32, error) {
	return []float32{0.6, 0.8}, nil
})

func grayFace() mfa.FaceSample {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return mfa.FaceSample{Image: img}
}

func clip() voice.Clip {
	samples := make([]int16, 800)
	for i := range samples {
		samples[i] = int16(i)
	}
	return voice.Clip{Samples: samples, SampleRate: voice.DefaultSampleRate}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// newEngine builds an engine over memstore and a local OTP provider whose
// messages land in the returned channel.
func newEngine(t *testing.T, rdb redis.UniversalClient, mutate func(*mfa.Config)) (*mfa.Engine, <-chan string) {
	t.Helper()
	sms := make(chan string, 16)
	provider, err := otp.NewLocalProvider(rdb, otp.NotifierFunc(func(_ context.Context, _, message string) error {
		sms <- message
		return nil
	}), otp.LocalConfig{})
	if err != nil {
		t.Fatalf("otp provider: %v", err)
	}

	cfg := mfa.DefaultConfig()
	cfg.Password.BcryptCost = 4
	cfg.Face.Size = 16
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := mfa.New().
		WithConfig(cfg).
		WithStore(memstore.New()).
		WithRedis(rdb).
		WithFaceDetector(oneFace).
		WithEmbedder(sameVoice).
		WithOTPProvider(provider).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	err = engine.Register(context.Background(), mfa.RegistrationRequest{
		Username:        "alice",
		Password:        password,
		ConfirmPassword: password,
		Phone:           phone,
		Face:            grayFace(),
		Voice:           clip(),
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return engine, sms
}

// codeFrom extracts the trailing six digits of a local OTP message.
func codeFrom(t *testing.T, message string) string {
	t.Helper()
	if len(message) < 6 {
		t.Fatalf("short otp message %q", message)
	}
	return message[len(message)-6:]
}

// fullLogin walks alice through every step and returns the final result.
func fullLogin(t *testing.T, engine *mfa.Engine, sms <-chan string) *mfa.StepResult {
	t.Helper()
	ctx := context.Background()
	v, err := engine.BeginLogin(ctx, "alice")
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if _, err := engine.VerifyPassword(ctx, v.ID, password); err != nil {
		t.Fatalf("password failed: %v", err)
	}
	if _, err := engine.VerifyVoice(ctx, v.ID, clip()); err != nil {
		t.Fatalf("voice failed: %v", err)
	}
	if _, err := engine.VerifyFace(ctx, v.ID, grayFace()); err != nil {
		t.Fatalf("face failed: %v", err)
	}
	if err := engine.SendOTP(ctx, v.ID); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	res, err := engine.VerifyOTP(ctx, v.ID, codeFrom(t, <-sms))
	if err != nil {
		t.Fatalf("otp failed: %v", err)
	}
	return res
}
