package securityproject

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	e := newTestEngine(t, func(cfg *Config, b *Builder) {
		b.WithAuditSink(sink)
		cfg.Audit.Enabled = false
	})
	registerAlice(t, e)
	id := beginLogin(t, e, "alice")
	_, _ = e.VerifyPassword(context.Background(), id, "wrong")
	e.Close()

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditEventCarriesClientContext(t *testing.T) {
	sink := NewChannelSink(16)
	e := newTestEngine(t, func(_ *Config, b *Builder) {
		b.WithAuditSink(sink)
	})

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.4"), "kiosk/2")
	if _, err := e.BeginLogin(ctx, "alice"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	e.Close()

	select {
	case ev := <-sink.Events():
		if ev.EventType != auditEventLoginStarted || !ev.Success {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.IP != "198.51.100.4" || ev.Metadata["user_agent"] != "kiosk/2" {
			t.Fatalf("client context missing from %+v", ev)
		}
		if ev.AttemptID == "" || ev.Timestamp.IsZero() {
			t.Fatalf("expected attempt id and timestamp in %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected login_started event")
	}
}

func TestAuditErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		want AuditErrorCode
	}{
		{ErrDuplicateUsername, auditErrDuplicate},
		{stepErr(StepVoice, ErrBiometricMismatch), auditErrBiometricMismatch},
		{stepErr(StepFace, ErrMultipleFacesDetected), auditErrMultipleFaces},
		{stepErr(StepOTP, ErrTimeout), auditErrTimeout},
		{stepErr(StepOTP, ErrCancelled), auditErrCancelled},
		{stepErr(StepPassword, errors.Join(ErrInvalidCredential, ErrAttemptsExceeded)), auditErrAttemptsExceeded},
		{ErrStoreUnavailable, auditErrUnavailable},
		{errors.New("boom"), auditErrInternal},
	}
	for _, tc := range tests {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Fatalf("auditErrorCode(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: auditEventStepPassed,
		Username:  "alice",
		Step:      "face",
		Success:   true,
	})

	out := buf.String()
	if !strings.Contains(out, `"event_type":"step_passed"`) || !strings.Contains(out, `"step":"face"`) {
		t.Fatalf("unexpected JSON line %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatal("expected newline-terminated record")
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := NewChannelSink(64)
	e := newTestEngine(t, func(_ *Config, b *Builder) {
		b.WithAuditSink(sink)
	})
	registerAlice(t, e)
	ctx := context.Background()
	id := beginLogin(t, e, "alice")
	passPassword(t, e, id)
	passVoice(t, e, id)
	res, err := e.VerifyFace(ctx, id, faceSample(100))
	mustStep(t, res, err, StateOTPStep)
	if err := e.SendOTP(ctx, id); err != nil {
		t.Fatalf("send: %v", err)
	}
	_, _ = e.VerifyOTP(ctx, id, "111111")
	res, err = e.VerifyOTP(ctx, id, testOTPCode)
	mustStep(t, res, err, StateAuthenticated)
	e.Close()

	rec, _ := e.store.GetUser(ctx, "alice")
	needles := []string{testPassword, rec.PasswordHash, testOTPCode, "111111", testPhone}

	events := drain(sink)
	if len(events) == 0 {
		t.Fatal("expected audit events")
	}
	for _, ev := range events {
		var b strings.Builder
		b.WriteString(ev.Error)
		for k, v := range ev.Metadata {
			b.WriteString(k + "=" + v + ";")
		}
		for _, needle := range needles {
			if strings.Contains(b.String(), needle) {
				t.Fatalf("secret %q leaked into %s event", needle, ev.EventType)
			}
		}
	}
}
