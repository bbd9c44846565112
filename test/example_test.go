package test

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	mfa "github.com/JasonStuckless/SecurityProject"
	"github.com/JasonStuckless/SecurityProject/biometric/face"
	"github.com/JasonStuckless/SecurityProject/otp"
	"github.com/JasonStuckless/SecurityProject/store/memstore"
)

// ExampleNew builds an engine over in-process backends and walks one user
// through registration and all four login steps.
func ExampleNew() {
	mr, _ := miniredis.Run()
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var lastSMS string
	provider, _ := otp.NewLocalProvider(rdb, otp.NotifierFunc(func(_ context.Context, _, msg string) error {
		lastSMS = msg
		return nil
	}), otp.LocalConfig{})

	cfg := mfa.DefaultConfig()
	cfg.Password.BcryptCost = 4
	cfg.Face.Size = 16

	engine, err := mfa.New().
		WithConfig(cfg).
		WithStore(memstore.New()).
		WithRedis(rdb).
		WithFaceDetector(face.StaticDetector{Faces: []image.Rectangle{image.Rect(2, 2, 30, 30)}}).
		WithEmbedder(sameVoice).
		WithOTPProvider(provider).
		Build()
	if err != nil {
		fmt.Println(err)
		return
	}
	defer engine.Close()

	ctx := context.Background()
	_ = engine.Register(ctx, mfa.RegistrationRequest{
		Username:        "alice",
		Password:        "Secret1!",
		ConfirmPassword: "Secret1!",
		Phone:           "(555) 123-4567",
		Face:            grayFace(),
		Voice:           clip(),
	})

	attempt, _ := engine.BeginLogin(ctx, "alice")
	fmt.Println(attempt.State)

	res, _ := engine.VerifyPassword(ctx, attempt.ID, "Secret1!")
	fmt.Println(res.State)
	res, _ = engine.VerifyVoice(ctx, attempt.ID, clip())
	fmt.Println(res.State)
	res, _ = engine.VerifyFace(ctx, attempt.ID, grayFace())
	fmt.Println(res.State)

	_ = engine.SendOTP(ctx, attempt.ID)
	code := lastSMS[strings.LastIndex(lastSMS, " ")+1:]
	res, _ = engine.VerifyOTP(ctx, attempt.ID, code)
	fmt.Println(res.State, res.Authenticated())

	// Output:
	// start
	// voice_step
	// face_step
	// otp_step
	// authenticated true
}

// ExampleEngine_MetricsSnapshot shows how to read in-process counters.
func ExampleEngine_MetricsSnapshot() {
	var engine *mfa.Engine
	snapshot := engine.MetricsSnapshot()
	fmt.Println(snapshot.Counters[mfa.MetricAuthenticated])
	// Output: 0
}
