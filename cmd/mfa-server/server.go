package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net"
	"net/http"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"go.uber.org/zap"

	mfa "github.com/JasonStuckless/SecurityProject"
	"github.com/JasonStuckless/SecurityProject/biometric/face"
	"github.com/JasonStuckless/SecurityProject/biometric/voice"
	"github.com/JasonStuckless/SecurityProject/middleware"
	"github.com/JasonStuckless/SecurityProject/session"
)

// maxBodyBytes bounds request bodies; a face image plus a voice clip fit
// comfortably.
const maxBodyBytes = 16 << 20

type server struct {
	engine  *mfa.Engine
	metrics http.Handler
	logger  *zap.Logger
}

func newServer(engine *mfa.Engine, metrics http.Handler, logger *zap.Logger) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &server{engine: engine, metrics: metrics, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	mux.HandleFunc("POST /v1/register", s.register)
	mux.HandleFunc("POST /v1/login", s.beginLogin)
	mux.HandleFunc("GET /v1/login/{id}", s.attempt)
	mux.HandleFunc("POST /v1/login/{id}/password", s.password)
	mux.HandleFunc("POST /v1/login/{id}/voice", s.voice)
	mux.HandleFunc("POST /v1/login/{id}/face", s.face)
	mux.HandleFunc("POST /v1/login/{id}/otp/send", s.sendOTP)
	mux.HandleFunc("POST /v1/login/{id}/otp/verify", s.verifyOTP)
	mux.HandleFunc("POST /v1/login/{id}/cancel", s.cancel)
	mux.HandleFunc("POST /v1/login/{id}/reset", s.reset)
	mux.Handle("GET /v1/me", middleware.RequireToken(s.engine)(http.HandlerFunc(s.me)))

	return s.logRequests(mux)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

type registerRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Phone           string `json:"phone"`
	FaceImage       []byte `json:"face_image"`
	VoiceWAV        []byte `json:"voice_wav"`
}

func (s *server) register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !s.decode(w, r, &body) {
		return
	}
	img, err := decodeImage(body.FaceImage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	clip, err := decodeClip(body.VoiceWAV)
	if err != nil {
		s.writeError(w, err)
		return
	}

	err = s.engine.Register(withRequestContext(r), mfa.RegistrationRequest{
		Username:        body.Username,
		Password:        body.Password,
		ConfirmPassword: body.ConfirmPassword,
		Phone:           body.Phone,
		Face:            mfa.FaceSample{Image: img},
		Voice:           clip,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"username": body.Username})
}

func (s *server) beginLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	v, err := s.engine.BeginLogin(withRequestContext(r), body.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attemptResponse(v))
}

func (s *server) attempt(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Attempt(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attemptResponse(v))
}

func (s *server) password(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.engine.VerifyPassword(withRequestContext(r), r.PathValue("id"), body.Password)
	s.writeStep(w, res, err)
}

func (s *server) voice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VoiceWAV []byte `json:"voice_wav"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	clip, err := decodeClip(body.VoiceWAV)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.engine.VerifyVoice(withRequestContext(r), r.PathValue("id"), clip)
	s.writeStep(w, res, err)
}

func (s *server) face(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FaceImage []byte `json:"face_image"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	img, err := decodeImage(body.FaceImage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.engine.VerifyFace(withRequestContext(r), r.PathValue("id"), mfa.FaceSample{Image: img})
	s.writeStep(w, res, err)
}

func (s *server) sendOTP(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SendOTP(withRequestContext(r), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *server) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.engine.VerifyOTP(withRequestContext(r), r.PathValue("id"), body.Code)
	s.writeStep(w, res, err)
}

func (s *server) cancel(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Cancel(withRequestContext(r), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) reset(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.ResetLogin(withRequestContext(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attemptResponse(v))
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":   claims.Username(),
		"attempt_id": claims.AttemptID,
		"factors":    claims.Factors,
	})
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

type attemptJSON struct {
	ID        string            `json:"id"`
	Username  string            `json:"username"`
	State     string            `json:"state"`
	Steps     map[string]string `json:"steps"`
	Failures  int               `json:"failures"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func attemptResponse(v mfa.AttemptView) attemptJSON {
	steps := make(map[string]string, len(session.Steps))
	for _, step := range session.Steps {
		steps[step.String()] = v.Status(step).String()
	}
	return attemptJSON{
		ID:        v.ID,
		Username:  v.Username,
		State:     v.State.String(),
		Steps:     steps,
		Failures:  v.Failures,
		ExpiresAt: v.ExpiresAt,
	}
}

type stepJSON struct {
	AttemptID     string     `json:"attempt_id"`
	Step          string     `json:"step"`
	State         string     `json:"state"`
	Distance      *float64   `json:"distance,omitempty"`
	Authenticated bool       `json:"authenticated"`
	AccessToken   string     `json:"access_token,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func (s *server) writeStep(w http.ResponseWriter, res *mfa.StepResult, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := stepJSON{
		AttemptID:     res.AttemptID,
		Step:          res.Step.String(),
		State:         res.State.String(),
		Authenticated: res.Authenticated(),
		AccessToken:   res.AccessToken,
	}
	if res.Step == mfa.StepVoice || res.Step == mfa.StepFace {
		d := res.Distance
		out.Distance = &d
	}
	if !res.ExpiresAt.IsZero() {
		t := res.ExpiresAt
		out.ExpiresAt = &t
	}
	writeJSON(w, http.StatusOK, out)
}

type errorJSON struct {
	Error string `json:"error"`
	Step  string `json:"step,omitempty"`
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorJSON{Error: err.Error()}
	// Timeouts read as cancellations; only audit and metrics tell them apart.
	if errors.Is(err, mfa.ErrCancelled) {
		body.Error = mfa.ErrCancelled.Error()
	}
	var se *mfa.StepError
	if errors.As(err, &se) {
		body.Step = se.Step.String()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

// statusFor maps engine errors onto HTTP status codes. Order matters: an
// exhausted budget is reported together with the mismatch that spent it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, mfa.ErrInvalidRegistration):
		return http.StatusBadRequest
	case errors.Is(err, mfa.ErrAttemptsExceeded), errors.Is(err, mfa.ErrRegistrationDisabled):
		return http.StatusForbidden
	case errors.Is(err, mfa.ErrDuplicateUsername), errors.Is(err, mfa.ErrStepOutOfOrder):
		return http.StatusConflict
	case errors.Is(err, mfa.ErrInvalidCredential),
		errors.Is(err, mfa.ErrBiometricMismatch),
		errors.Is(err, mfa.ErrOTPMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, mfa.ErrNoFaceDetected),
		errors.Is(err, mfa.ErrMultipleFacesDetected),
		errors.Is(err, mfa.ErrTemplateSizeMismatch),
		errors.Is(err, voice.ErrEmptyClip),
		errors.Is(err, voice.ErrZeroVector):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mfa.ErrAttemptNotFound):
		return http.StatusNotFound
	case errors.Is(err, mfa.ErrCancelled):
		return http.StatusGone
	case errors.Is(err, mfa.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, mfa.ErrOTPSendFailure),
		errors.Is(err, mfa.ErrOTPCheckFailure),
		errors.Is(err, mfa.ErrStoreUnavailable),
		errors.Is(err, face.ErrDetectorUnavailable),
		errors.Is(err, voice.ErrEmbedderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

var errBadRequest = errors.New("bad request")

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}

func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: face_image is required", errBadRequest)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: face_image: %v", errBadRequest, err)
	}
	return img, nil
}

func decodeClip(data []byte) (voice.Clip, error) {
	if len(data) == 0 {
		return voice.Clip{}, fmt.Errorf("%w: voice_wav is required", errBadRequest)
	}
	clip, err := voice.DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return voice.Clip{}, fmt.Errorf("%w: voice_wav: %v", errBadRequest, err)
	}
	return clip, nil
}

func withRequestContext(r *http.Request) context.Context {
	ctx := r.Context()

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ctx = mfa.WithClientIP(ctx, host)
	ctx = mfa.WithUserAgent(ctx, r.UserAgent())

	return ctx
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
