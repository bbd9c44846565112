package internaldefs

import (
	mfa "github.com/JasonStuckless/SecurityProject"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   mfa.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   mfa.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in rendering order.
var CounterDefs = []CounterDef{
	{ID: mfa.MetricRegisterSuccess, Name: "mfa_register_success_total", Help: "Successful registrations."},
	{ID: mfa.MetricRegisterDuplicate, Name: "mfa_register_duplicate_total", Help: "Registrations rejected because the username exists."},
	{ID: mfa.MetricRegisterFailure, Name: "mfa_register_failure_total", Help: "Registrations that failed validation, enrollment or storage."},
	{ID: mfa.MetricLoginStarted, Name: "mfa_login_started_total", Help: "Login attempts opened."},
	{ID: mfa.MetricPasswordSuccess, Name: "mfa_password_success_total", Help: "Password steps passed."},
	{ID: mfa.MetricPasswordFailure, Name: "mfa_password_failure_total", Help: "Password steps failed."},
	{ID: mfa.MetricVoiceSuccess, Name: "mfa_voice_success_total", Help: "Voice steps passed."},
	{ID: mfa.MetricVoiceFailure, Name: "mfa_voice_failure_total", Help: "Voice steps failed."},
	{ID: mfa.MetricFaceSuccess, Name: "mfa_face_success_total", Help: "Face steps passed."},
	{ID: mfa.MetricFaceFailure, Name: "mfa_face_failure_total", Help: "Face steps failed."},
	{ID: mfa.MetricOTPSent, Name: "mfa_otp_sent_total", Help: "One-time codes delivered."},
	{ID: mfa.MetricOTPSendFailure, Name: "mfa_otp_send_failure_total", Help: "One-time code deliveries that failed."},
	{ID: mfa.MetricOTPSuccess, Name: "mfa_otp_success_total", Help: "OTP steps passed."},
	{ID: mfa.MetricOTPFailure, Name: "mfa_otp_failure_total", Help: "OTP steps failed."},
	{ID: mfa.MetricStepOutOfOrder, Name: "mfa_step_out_of_order_total", Help: "Steps attempted before earlier steps passed."},
	{ID: mfa.MetricAuthenticated, Name: "mfa_authenticated_total", Help: "Login attempts that passed every step."},
	{ID: mfa.MetricAttemptCancelled, Name: "mfa_attempt_cancelled_total", Help: "Login attempts cancelled by the caller."},
	{ID: mfa.MetricAttemptTimeout, Name: "mfa_attempt_timeout_total", Help: "Login attempts that timed out."},
	{ID: mfa.MetricAttemptAbandoned, Name: "mfa_attempt_abandoned_total", Help: "Login attempts dropped after too many failed steps."},
	{ID: mfa.MetricRateLimitHit, Name: "mfa_rate_limit_hit_total", Help: "Requests denied by password or OTP throttling."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: mfa.MetricStepLatency, Name: "mfa_step_latency_seconds", Help: "Latency of login step calls."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine's eight
// latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.025",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramBoundValues are HistogramBounds without the +Inf bucket, for
// exporters that take numeric boundaries.
var HistogramBoundValues = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
