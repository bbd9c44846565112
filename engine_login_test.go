package securityproject

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestLoginAllStepsAuthenticate(t *testing.T) {
	e := newTestEngine(t, func(cfg *Config, _ *Builder) {
		cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	})
	registerAlice(t, e)
	ctx := context.Background()
	id := beginLogin(t, e, "alice")

	res, err := e.VerifyPassword(ctx, id, testPassword)
	mustStep(t, res, err, StateVoiceStep)

	res, err = e.VerifyVoice(ctx, id, voiceClip(2))
	res = mustStep(t, res, err, StateFaceStep)
	if res.Distance >= 0.40 || res.Distance < 0.09 {
		t.Fatalf("unexpected voice distance %f", res.Distance)
	}

	res, err = e.VerifyFace(ctx, id, faceSample(107))
	res = mustStep(t, res, err, StateOTPStep)
	if res.Distance >= 1000 {
		t.Fatalf("unexpected face distance %f", res.Distance)
	}

	if err := e.SendOTP(ctx, id); err != nil {
		t.Fatalf("send otp: %v", err)
	}
	if len(e.otp.sent) != 1 || e.otp.sent[0] != testPhone {
		t.Fatalf("expected code sent to snapshot phone, got %v", e.otp.sent)
	}

	res, err = e.VerifyOTP(ctx, id, testOTPCode)
	res = mustStep(t, res, err, StateAuthenticated)
	if !res.Authenticated() {
		t.Fatal("expected authenticated result")
	}
	if res.AccessToken == "" {
		t.Fatal("expected access token")
	}

	claims, err := e.ParseAccessToken(res.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Username() != "alice" || claims.AttemptID != id {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if strings.Join(claims.Factors, ",") != "password,voice,face,otp" {
		t.Fatalf("unexpected factors %v", claims.Factors)
	}

	if _, err := e.Attempt(id); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("authenticated attempt should be gone, got %v", err)
	}
	if got := e.metrics.Value(MetricAuthenticated); got != 1 {
		t.Fatalf("expected 1 authenticated, got %d", got)
	}
}

func TestLoginVoiceMismatchBlocksLaterSteps(t *testing.T) {
	e := newTestEngine(t, nil)
	registerAlice(t, e)
	ctx := context.Background()
	id := beginLogin(t, e, "alice")

	res, err := e.VerifyPassword(ctx, id, testPassword)
	mustStep(t, res, err, StateVoiceStep)

	_, err = e.VerifyVoice(ctx, id, voiceClip(3))
	requireStepErr(t, err, StepVoice, ErrBiometricMismatch)

	view, err := e.Attempt(id)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if view.State != StateFailed {
		t.Fatalf("expected failed state, got %s", view.State)
	}
	if view.Status(StepPassword) != StatusPassed || view.Status(StepVoice) != StatusFailed {
		t.Fatalf("unexpected step statuses %v", view.Steps)
	}

	_, err = e.VerifyFace(ctx, id, faceSample(100))
	requireStepErr(t, err, StepFace, ErrStepOutOfOrder)
	_, err = e.VerifyOTP(ctx, id, testOTPCode)
	requireStepErr(t, err, StepOTP, ErrStepOutOfOrder)
	if err := e.SendOTP(ctx, id); !errors.Is(err, ErrStepOutOfOrder) {
		t.Fatalf("expected out of order send, got %v", err)
	}
	if len(e.otp.sent) != 0 {
		t.Fatal("otp must not be sent before earlier steps pass")
	}

	// the failed step may be retried
	res, err = e.VerifyVoice(ctx, id, voiceClip(2))
	mustStep(t, res, err, StateFaceStep)
}

func TestLoginRejectsSkippingAhead(t *testing.T) {
	e := newTestEngine(t, nil)
	registerAlice(t, e)
	ctx := context.Background()
	id := beginLogin(t, e, "alice")

	_, err := e.VerifyFace(ctx, id, faceSample(100))
	requireStepErr(t, err, StepFace, ErrStepOutOfOrder)

	passPassword(t, e, id)
	_, err = e.VerifyFace(ctx, id, faceSample(100))
	requireStepErr(t, err, StepFace, ErrStepOutOfOrder)
	_, err = e.VerifyPassword(ctx, id, testPassword)
	requireStepErr(t, err, StepPassword, ErrStepOutOfOrder)

	if e.store.gets != 1 {
		t.Fatalf("out of order steps must not reach the store, got %d reads", e.store.gets)
	}
}

func passPassword(t *testing.T, e *testEngine, id string) {
	t.Helper()
	res, err := e.VerifyPassword(context.Background(), id, testPassword)
	mustStep(t, res, err, StateVoiceStep)
}

func TestLoginWrongPasswordAndUnknownUser(t *testing.T) {
	e := newTestEngine(t, nil)
	registerAlice(t, e)
	ctx := context.Background()

	id := beginLogin(t, e, "alice")
	_, err := e.VerifyPassword(ctx, id, "wrong")
	requireStepErr(t, err, StepPassword, ErrInvalidCredential)

	ghost := beginLogin(t, e, "mallory")
	_, err = e.VerifyPassword(ctx, ghost, testPassword)
	requireStepErr(t, err, StepPassword, ErrInvalidCredential)
	if errors.Is(err, ErrNotFound) {
		t.Fatal("unknown user must be indistinguishable from a wrong password")
	}
}

func TestLoginFailureBudgetDropsAttempt(t *testing.T) {
	e := newTestEngine(t, func(cfg *Config, _ *Builder) {
		cfg.Attempt.MaxFailures = 2
	})
	registerAlice(t, e)
	ctx := context.Background()
	id := beginLogin(t, e, "alice")

	_, err := e.VerifyPassword(ctx, id, "wrong")
	requireStepErr(t, err, StepPassword, ErrInvalidCredential)
	if errors.Is(err, ErrAttemptsExceeded) {
		t.Fatal("budget should not be spent after one failure")
	}

	_, err = e.VerifyPassword(ctx, id, "wrong")
	requireStepErr(t, err, StepPassword, ErrAttemptsExceeded)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected mismatch cause kept, got %v", err)
	}

	_, err = e.VerifyPassword(ctx, id, testPassword)
	requireStepErr(t, err, StepPassword, ErrAttemptNotFound)
	if got := e.metrics.Value(MetricAttemptAbandoned); got != 1 {
		t.Fatalf("expected 1 abandoned attempt, got %d", got)
	}
}

func TestLoginFaceErrorsLeaveStepPending(t *testing.T) {
	e := newTestEngine(t, nil)
	registerAlice(t, e)
	ctx := context.Background()
	id := beginLogin(t, e, "alice")
	passPassword(t, e, id)
	res, err := e.VerifyVoice(ctx, id, voiceClip(2))
	mustStep(t, res, err, StateFaceStep)

	_, err = e.VerifyFace(ctx, id, FaceSample{Image: grayImage(64, 100)})
	requireStepErr(t, err, StepFace, ErrMultipleFacesDetected)
	_, err = e.VerifyFace(ctx, id, FaceSample{Image: grayImage(16, 100)})
	requireStepErr(t, err, StepFace, ErrNoFaceDetected)

	view, _ := e.Attempt(id)
	if view.Status(StepFace) != StatusPending || view.Failures != 0 {
		t.Fatalf("capture errors must not fail the step: %+v", view)
	}

	_, err = e.VerifyFace(ctx, id, faceSample(150))
	requireStepErr(t, err, StepFace, ErrBiometricMismatch)

	res, err = e.VerifyFace(ctx, id, faceSample(100))
	mustStep(t, res, err, StateOTPStep)
}

func TestLoginOTPFailures(t *testing.T) {
	e := newTestEngine(t, nil)
	registerAlice(t, e)
	ctx := context.Background()
	id := beginLogin(t, e, "alice")
	passPassword(t, e, id)
	passVoice(t, e, id)
	res, err := e.VerifyFace(ctx, id, faceSample(100))
	mustStep(t, res, err, StateOTPStep)

	e.otp.sendErr = errors.New("carrier rejected +15551234567")
	err = e.SendOTP(ctx, id)
	if !errors.Is(err, ErrOTPSendFailure) {
		t.Fatalf("expected send failure, got %v", err)
	}
	if strings.Contains(err.Error(), testPhone) {
		t.Fatalf("provider error leaked: %v", err)
	}
	e.otp.sendErr = nil

	if err := e.SendOTP(ctx, id); err != nil {
		t.Fatalf("send otp: %v", err)
	}
	_, err = e.VerifyOTP(ctx, id, "000000")
	requireStepErr(t, err, StepOTP, ErrOTPMismatch)
	if strings.Contains(err.Error(), "000000") {
		t.Fatalf("code leaked into error: %v", err)
	}

	e.otp.chkErr = errors.New("verify service unreachable for +15551234567")
	_, err = e.VerifyOTP(ctx, id, testOTPCode)
	requireStepErr(t, err, StepOTP, ErrOTPCheckFailure)
	if errors.Is(err, ErrOTPSendFailure) || strings.Contains(err.Error(), "send") {
		t.Fatalf("check failure reported as a send failure: %v", err)
	}
	if strings.Contains(err.Error(), testPhone) {
		t.Fatalf("provider error leaked: %v", err)
	}
	e.otp.chkErr = nil

	res, err = e.VerifyOTP(ctx, id, testOTPCode)
	mustStep(t, res, err, StateAuthenticated)
	if res.AccessToken != "" {
		t.Fatal("no token expected without a signing key")
	}
}

func passVoice(t *testing.T, e *testEngine, id string) {
	t.Helper()
	res, err := e.VerifyVoice(context.Background(), id, voiceClip(2))
	mustStep(t, res, err, StateFaceStep)
}

func TestLoginTimeoutWrapsCancelled(t *testing.T) {
	e := newTestEngine(t, nil)
	registerAlice(t, e)
	ctx := context.Background()
	id := beginLogin(t, e, "alice")
	passPassword(t, e, id)

	base := e.attempts.Now()
	e.attempts.SetClock(func() time.Time { return base.Add(e.config.Attempt.TTL + time.Second) })

	_, err := e.VerifyVoice(ctx, id, voiceClip(2))
	requireStepErr(t, err, StepVoice, ErrTimeout)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("timeout should also match ErrCancelled: %v", err)
	}

	_, err = e.VerifyVoice(ctx, id, voiceClip(2))
	requireStepErr(t, err, StepVoice, ErrAttemptNotFound)
}

func TestLoginStepDeadlineTimesOutAttempt(t *testing.T) {
	e := newTestEngine(t, func(cfg *Config, _ *Builder) {
		cfg.Attempt.StepTimeout = 20 * time.Millisecond
	})
	registerAlice(t, e)
	ctx := context.Background()
	id := beginLogin(t, e, "alice")
	passPassword(t, e, id)

	_, err := e.VerifyVoice(ctx, id, voiceClip(9))
	requireStepErr(t, err, StepVoice, ErrTimeout)
	if _, err := e.Attempt(id); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("timed out attempt should be removed, got %v", err)
	}
}

func TestLoginCallerCancelLeavesAttemptUsable(t *testing.T) {
	e := newTestEngine(t, nil)
	registerAlice(t, e)
	id := beginLogin(t, e, "alice")
	passPassword(t, e, id)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.VerifyVoice(ctx, id, voiceClip(9))
	requireStepErr(t, err, StepVoice, ErrCancelled)
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("caller cancellation is not an attempt timeout: %v", err)
	}

	view, err := e.Attempt(id)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if view.Status(StepVoice) != StatusPending {
		t.Fatalf("cancelled capture must not fail the step, got %s", view.Status(StepVoice))
	}
	passVoice(t, e, id)
}

func TestCancelAndResetLogin(t *testing.T) {
	e := newTestEngine(t, nil)
	registerAlice(t, e)
	ctx := context.Background()

	id := beginLogin(t, e, "alice")
	passPassword(t, e, id)

	fresh, err := e.ResetLogin(ctx, id)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if fresh.ID == id || fresh.Username != "alice" || fresh.State != StateStart {
		t.Fatalf("unexpected fresh attempt %+v", fresh)
	}
	if _, err := e.VerifyVoice(ctx, id, voiceClip(2)); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("old attempt should be gone, got %v", err)
	}

	if err := e.Cancel(ctx, fresh.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := e.Cancel(ctx, fresh.ID); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("second cancel: expected not found, got %v", err)
	}
	if e.ActiveAttempts() != 0 {
		t.Fatalf("expected no live attempts, got %d", e.ActiveAttempts())
	}
}

func TestLoginPasswordThrottle(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	e := newTestEngine(t, func(cfg *Config, b *Builder) {
		cfg.Security.MaxPasswordFailures = 2
		b.WithRedis(rdb)
	})
	registerAlice(t, e)
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	for i := 0; i < 2; i++ {
		id := beginLogin(t, e, "alice")
		_, err := e.VerifyPassword(ctx, id, "wrong")
		requireStepErr(t, err, StepPassword, ErrInvalidCredential)
	}

	id := beginLogin(t, e, "alice")
	_, err = e.VerifyPassword(ctx, id, testPassword)
	requireStepErr(t, err, StepPassword, ErrRateLimited)

	view, err := e.Attempt(id)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if view.Failures != 0 {
		t.Fatal("throttled check must not count as a step failure")
	}

	mr.FastForward(e.config.Security.PasswordCooldown + time.Second)
	res, err := e.VerifyPassword(ctx, id, testPassword)
	mustStep(t, res, err, StateVoiceStep)
}

func TestLoginThrottleFailsClosedWithoutRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	e := newTestEngine(t, func(_ *Config, b *Builder) { b.WithRedis(rdb) })
	registerAlice(t, e)
	mr.Close()

	id := beginLogin(t, e, "alice")
	_, err = e.VerifyPassword(context.Background(), id, testPassword)
	requireStepErr(t, err, StepPassword, ErrRateLimited)
}

func TestLoginPhoneSnapshotIsNotRequeried(t *testing.T) {
	e := newTestEngine(t, nil)
	registerAlice(t, e)
	ctx := context.Background()
	id := beginLogin(t, e, "alice")
	passPassword(t, e, id)
	passVoice(t, e, id)
	res, err := e.VerifyFace(ctx, id, faceSample(100))
	mustStep(t, res, err, StateOTPStep)

	e.store.mu.Lock()
	rec := e.store.users["alice"]
	rec.Phone = "+15550000000"
	e.store.users["alice"] = rec
	gets := e.store.gets
	e.store.mu.Unlock()

	if err := e.SendOTP(ctx, id); err != nil {
		t.Fatalf("send: %v", err)
	}
	res, err = e.VerifyOTP(ctx, id, testOTPCode)
	mustStep(t, res, err, StateAuthenticated)

	if e.otp.sent[0] != testPhone {
		t.Fatalf("expected snapshot phone, got %s", e.otp.sent[0])
	}
	if e.store.gets != gets {
		t.Fatal("otp step must not read the store")
	}
}

func TestLoginStoreOutageIsSurfaced(t *testing.T) {
	e := newTestEngine(t, nil)
	registerAlice(t, e)
	e.store.getErr = errors.New("dial tcp: connection refused")

	id := beginLogin(t, e, "alice")
	_, err := e.VerifyPassword(context.Background(), id, testPassword)
	requireStepErr(t, err, StepPassword, ErrStoreUnavailable)

	view, _ := e.Attempt(id)
	if view.Failures != 0 {
		t.Fatal("store outage must not fail the step")
	}
}

func TestConcurrentStepsOnOneAttemptSerialize(t *testing.T) {
	e := newTestEngine(t, nil)
	registerAlice(t, e)
	ctx := context.Background()
	id := beginLogin(t, e, "alice")

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	passed, outOfOrder := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.VerifyPassword(ctx, id, testPassword)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				passed++
			case errors.Is(err, ErrStepOutOfOrder):
				outOfOrder++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if passed != 1 || outOfOrder != n-1 {
		t.Fatalf("expected exactly one pass, got passed=%d outOfOrder=%d", passed, outOfOrder)
	}
}

func TestLoginAuditAndSpans(t *testing.T) {
	sink := NewChannelSink(64)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	e := newTestEngine(t, func(_ *Config, b *Builder) {
		b.WithAuditSink(sink).WithTracerProvider(tp)
	})
	registerAlice(t, e)
	ctx := context.Background()
	id := beginLogin(t, e, "alice")
	passPassword(t, e, id)
	_, _ = e.VerifyVoice(ctx, id, voiceClip(3))
	e.Close()

	var failed *AuditEvent
	for _, ev := range drain(sink) {
		ev := ev
		if ev.EventType == auditEventStepFailed {
			failed = &ev
		}
		if strings.Contains(ev.Error, testPassword) || ev.Metadata["phone"] == testPhone {
			t.Fatalf("secret leaked into audit event %+v", ev)
		}
	}
	if failed == nil {
		t.Fatal("expected step_failed event")
	}
	if failed.Step != "voice" || failed.Error != string(auditErrBiometricMismatch) || failed.Metadata["distance"] == "" {
		t.Fatalf("unexpected step_failed event %+v", failed)
	}

	names := map[string]bool{}
	for _, s := range sr.Ended() {
		names[s.Name()] = true
	}
	for _, want := range []string{"register", "login.begin", "login.password", "login.voice"} {
		if !names[want] {
			t.Fatalf("missing span %q in %v", want, names)
		}
	}
}

func drain(sink *ChannelSink) []AuditEvent {
	var out []AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}
