package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	mfa "github.com/JasonStuckless/SecurityProject"
	"github.com/JasonStuckless/SecurityProject/biometric/face"
	"github.com/JasonStuckless/SecurityProject/biometric/voice"
	"github.com/JasonStuckless/SecurityProject/capture"
)

const usage = `usage:
  mfactl [flags] enroll <username> <phone> <voice.wav> <face-image>...
  mfactl [flags] login <username> <voice.wav> <face-image>...

Face images are played as camera frames; the last one holding exactly one
face is used.`

var errUsage = errors.New(usage)

type cli struct {
	engine   *mfa.Engine
	detector face.Detector
	in       *bufio.Reader
	out      io.Writer
	password func(prompt string) (string, error)
	logger   *zap.Logger
	fps      float64
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "enroll":
		return c.enroll(ctx, args[1:])
	case "login":
		return c.login(ctx, args[1:])
	default:
		return errUsage
	}
}

func (c *cli) enroll(ctx context.Context, args []string) error {
	if len(args) < 4 {
		return errUsage
	}
	username, phone, wavPath, facePaths := args[0], args[1], args[2], args[3:]

	pw, err := c.password("Password: ")
	if err != nil {
		return err
	}
	confirm, err := c.password("Confirm password: ")
	if err != nil {
		return err
	}

	clip, err := c.recordVoice(ctx, wavPath)
	if err != nil {
		return err
	}
	sample, err := c.captureFace(ctx, facePaths)
	if err != nil {
		return err
	}

	err = c.engine.Register(ctx, mfa.RegistrationRequest{
		Username:        username,
		Password:        pw,
		ConfirmPassword: confirm,
		Phone:           phone,
		Face:            sample,
		Voice:           clip,
	})
	if err != nil {
		return fmt.Errorf("enroll: %w", err)
	}
	fmt.Fprintf(c.out, "enrolled %s\n", username)
	return nil
}

func (c *cli) login(ctx context.Context, args []string) (err error) {
	if len(args) < 3 {
		return errUsage
	}
	username, wavPath, facePaths := args[0], args[1], args[2:]

	v, err := c.engine.BeginLogin(ctx, username)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = c.engine.Cancel(context.WithoutCancel(ctx), v.ID)
		}
	}()

	for {
		pw, perr := c.password("Password: ")
		if perr != nil {
			return perr
		}
		_, err = c.engine.VerifyPassword(ctx, v.ID, pw)
		if !retryable(err, mfa.ErrInvalidCredential) {
			break
		}
		fmt.Fprintln(c.out, "wrong password, try again")
	}
	if err != nil {
		return err
	}
	c.progress(mfa.StepPassword, nil)

	clip, err := c.recordVoice(ctx, wavPath)
	if err != nil {
		return err
	}
	res, err := c.engine.VerifyVoice(ctx, v.ID, clip)
	if err != nil {
		return err
	}
	c.progress(mfa.StepVoice, res)

	sample, err := c.captureFace(ctx, facePaths)
	if err != nil {
		return err
	}
	res, err = c.engine.VerifyFace(ctx, v.ID, sample)
	if err != nil {
		return err
	}
	c.progress(mfa.StepFace, res)

	if err = c.engine.SendOTP(ctx, v.ID); err != nil {
		return err
	}
	for {
		fmt.Fprint(c.out, "Code: ")
		code, rerr := readLine(c.in)
		if rerr != nil {
			return rerr
		}
		res, err = c.engine.VerifyOTP(ctx, v.ID, code)
		if !retryable(err, mfa.ErrOTPMismatch) {
			break
		}
		fmt.Fprintln(c.out, "wrong code, try again")
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "authenticated %s\n", username)
	if res.AccessToken != "" {
		fmt.Fprintf(c.out, "access token: %s\n", res.AccessToken)
	}
	return nil
}

// retryable reports a mismatch that left the attempt alive.
func retryable(err, mismatch error) bool {
	return errors.Is(err, mismatch) && !errors.Is(err, mfa.ErrAttemptsExceeded)
}

func (c *cli) progress(step mfa.Step, res *mfa.StepResult) {
	if res != nil && (step == mfa.StepVoice || step == mfa.StepFace) {
		fmt.Fprintf(c.out, "%s ok (distance %.4f)\n", step, res.Distance)
		return
	}
	fmt.Fprintf(c.out, "%s ok\n", step)
}

// captureFace plays paths through a camera worker and returns the last frame
// that held exactly one face, with its region already located.
func (c *cli) captureFace(ctx context.Context, paths []string) (mfa.FaceSample, error) {
	src, err := openFrames(paths...)
	if err != nil {
		return mfa.FaceSample{}, err
	}
	cam, err := capture.NewCamera(src, c.detector, capture.CameraConfig{FPS: c.fps, Logger: c.logger})
	if err != nil {
		return mfa.FaceSample{}, err
	}
	if err := cam.Run(ctx); err != nil {
		return mfa.FaceSample{}, err
	}
	if err := ctx.Err(); err != nil {
		return mfa.FaceSample{}, capture.ErrCancelled
	}
	frame, err := cam.Capture()
	if err != nil {
		return mfa.FaceSample{}, fmt.Errorf("%w: %w", mfa.ErrNoFaceDetected, err)
	}
	return mfa.FaceSample{Image: frame.Image, Region: frame.Face}, nil
}

func (c *cli) recordVoice(ctx context.Context, path string) (voice.Clip, error) {
	src, err := openWAV(path)
	if err != nil {
		return voice.Clip{}, err
	}
	rec, err := capture.NewRecorder(src, capture.RecorderConfig{
		MaxDuration: 30 * time.Second,
		Logger:      c.logger,
	})
	if err != nil {
		return voice.Clip{}, err
	}
	stop := capture.NewStopToken()
	defer stop.Stop()
	return rec.Record(ctx, stop)
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
