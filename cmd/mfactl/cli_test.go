package main

import (
	"bufio"
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mfa "github.com/JasonStuckless/SecurityProject"
	"github.com/JasonStuckless/SecurityProject/biometric/face"
	"github.com/JasonStuckless/SecurityProject/biometric/voice"
	"github.com/JasonStuckless/SecurityProject/store/memstore"
)

const code = "135790"

type fakeOTP struct {
	mu   sync.Mutex
	sent bool
}

func (f *fakeOTP) SendCode(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = true
	return nil
}

func (f *fakeOTP) VerifyCode(_ context.Context, _, got string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent && got == code, nil
}

// A frame holds a face only when its top-left pixel is bright.
var detector = face.DetectorFunc(func(_ context.Context, img image.Image) ([]image.Rectangle, error) {
	if r, _, _, _ := img.At(0, 0).RGBA(); r>>8 < 200 {
		return nil, nil
	}
	return []image.Rectangle{image.Rect(8, 8, 40, 40)}, nil
})

var embedder = voice.EmbedderFunc(func(_ context.Context, samples []int16, _ int) ([]float32, error) {
	if samples[0] == 7 {
		return []float32{0, 1}, nil
	}
	return []float32{1, 0}, nil
})

func writePNG(t *testing.T, dir, name string, corner uint8) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 48, 48))
	for i := range img.Pix {
		img.Pix[i] = 80
	}
	img.Pix[0] = corner
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func writeWAV(t *testing.T, dir, name string, value int16) string {
	t.Helper()
	samples := make([]int16, 4000)
	for i := range samples {
		samples[i] = value
	}
	var buf bytes.Buffer
	require.NoError(t, voice.EncodeWAV(&buf, voice.Clip{Samples: samples, SampleRate: voice.DefaultSampleRate}))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

type harness struct {
	engine *mfa.Engine
	dir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := mfa.DefaultConfig()
	cfg.Password.BcryptCost = 4
	cfg.Face.Size = 16
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	engine, err := mfa.New().
		WithConfig(cfg).
		WithStore(memstore.New()).
		WithFaceDetector(detector).
		WithEmbedder(embedder).
		WithOTPProvider(&fakeOTP{}).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return &harness{engine: engine, dir: t.TempDir()}
}

func (h *harness) cli(stdin string, passwords ...string) (*cli, *bytes.Buffer) {
	var out bytes.Buffer
	var mu sync.Mutex
	return &cli{
		engine:   h.engine,
		detector: detector,
		in:       bufio.NewReader(strings.NewReader(stdin)),
		out:      &out,
		fps:      1000,
		password: func(string) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			pw := passwords[0]
			if len(passwords) > 1 {
				passwords = passwords[1:]
			}
			return pw, nil
		},
	}, &out
}

func (h *harness) enroll(t *testing.T) {
	t.Helper()
	c, out := h.cli("", "Secret1!", "Secret1!")
	err := c.run(context.Background(), []string{
		"enroll", "alice", "+15551234567",
		writeWAV(t, h.dir, "enroll.wav", 1),
		writePNG(t, h.dir, "blank.png", 0),
		writePNG(t, h.dir, "face.png", 255),
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "enrolled alice")
}

func TestEnrollAndLogin(t *testing.T) {
	h := newHarness(t)
	h.enroll(t)

	c, out := h.cli("000000\n"+code+"\n", "wrong", "Secret1!")
	err := c.run(context.Background(), []string{
		"login", "alice",
		writeWAV(t, h.dir, "login.wav", 1),
		writePNG(t, h.dir, "face.png", 255),
		writePNG(t, h.dir, "blank.png", 0),
	})
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "wrong password, try again")
	assert.Contains(t, got, "voice ok (distance 0.0000)")
	assert.Contains(t, got, "wrong code, try again")
	assert.Contains(t, got, "authenticated alice")
	assert.Contains(t, got, "access token: ")
	assert.Zero(t, h.engine.ActiveAttempts())
}

func TestLoginVoiceMismatchCancelsAttempt(t *testing.T) {
	h := newHarness(t)
	h.enroll(t)

	c, _ := h.cli("", "Secret1!")
	err := c.run(context.Background(), []string{
		"login", "alice",
		writeWAV(t, h.dir, "other.wav", 7),
		writePNG(t, h.dir, "face.png", 255),
	})
	require.ErrorIs(t, err, mfa.ErrBiometricMismatch)
	assert.Zero(t, h.engine.ActiveAttempts())
}

func TestEnrollWithoutFaceFrame(t *testing.T) {
	h := newHarness(t)
	c, _ := h.cli("", "Secret1!", "Secret1!")
	err := c.run(context.Background(), []string{
		"enroll", "alice", "+15551234567",
		writeWAV(t, h.dir, "enroll.wav", 1),
		writePNG(t, h.dir, "blank.png", 0),
	})
	require.ErrorIs(t, err, mfa.ErrNoFaceDetected)
}

func TestUsage(t *testing.T) {
	h := newHarness(t)
	c, _ := h.cli("")
	assert.ErrorIs(t, c.run(context.Background(), nil), errUsage)
	assert.ErrorIs(t, c.run(context.Background(), []string{"login", "alice"}), errUsage)
	assert.ErrorIs(t, c.run(context.Background(), []string{"bogus"}), errUsage)
}
