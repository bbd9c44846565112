// Package voice compares speaker embeddings produced by an external model.
//
// A Clip of 16 kHz mono PCM16 audio is turned into a fixed-length float32
// embedding by an [Embedder]. Two embeddings match when their cosine distance
// (1 - cos θ) is strictly below the configured threshold.
package voice

import (
	"context"
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultThreshold is the cosine distance below which two voices match.
	DefaultThreshold = 0.40
	// DefaultSampleRate is the capture rate expected by embedders.
	DefaultSampleRate = 16000
)

var (
	// ErrEmptyClip is returned when a clip has no samples.
	ErrEmptyClip = errors.New("voice clip is empty")
	// ErrDimensionMismatch is returned when two embeddings differ in length.
	ErrDimensionMismatch = errors.New("voice embedding dimension mismatch")
	// ErrZeroVector is returned when an embedding has no magnitude.
	ErrZeroVector = errors.New("voice embedding has zero magnitude")
)

// Clip is a mono PCM16 recording.
type Clip struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Embedder maps audio samples to a speaker embedding.
type Embedder interface {
	Embed(ctx context.Context, samples []int16, sampleRate int) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, samples []int16, sampleRate int) ([]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, samples []int16, sampleRate int) ([]float32, error) {
	return f(ctx, samples, sampleRate)
}

// Config tunes a Matcher.
type Config struct {
	Threshold float64
	// MinDuration rejects clips shorter than this many seconds. Zero disables the check.
	MinDuration float64
}

// Result is the outcome of a comparison.
type Result struct {
	Distance float64
	Passed   bool
}

// Matcher enrolls and compares voice embeddings.
type Matcher struct {
	embedder    Embedder
	threshold   float64
	minDuration float64
}

// NewMatcher returns a Matcher over embedder. A zero threshold takes the default.
func NewMatcher(embedder Embedder, cfg Config) (*Matcher, error) {
	if embedder == nil {
		return nil, errors.New("voice embedder is nil")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Threshold < 0 || cfg.Threshold > 2 {
		return nil, errors.New("voice threshold must be within [0,2]")
	}
	if cfg.MinDuration < 0 {
		return nil, errors.New("voice min duration must be >= 0")
	}
	return &Matcher{embedder: embedder, threshold: cfg.Threshold, minDuration: cfg.MinDuration}, nil
}

// Threshold returns the pass threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Enroll embeds clip and returns the vector.
func (m *Matcher) Enroll(ctx context.Context, clip Clip) ([]float32, error) {
	if len(clip.Samples) == 0 {
		return nil, ErrEmptyClip
	}
	if clip.SampleRate <= 0 {
		clip.SampleRate = DefaultSampleRate
	}
	if m.minDuration > 0 && clip.Duration() < m.minDuration {
		return nil, fmt.Errorf("%w: shorter than %.1fs", ErrEmptyClip, m.minDuration)
	}
	vec, err := m.embedder.Embed(ctx, clip.Samples, clip.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("embed clip: %w", err)
	}
	if err := checkVector(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// checkVector rejects embeddings that no later probe could ever match.
func checkVector(vec []float32) error {
	if len(vec) == 0 {
		return ErrTemplateCorrupt
	}
	var norm float64
	for _, v := range vec {
		x := float64(v)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: non-finite value", ErrTemplateCorrupt)
		}
		norm += x * x
	}
	if norm == 0 {
		return ErrZeroVector
	}
	return nil
}

// Match embeds probe and compares it with the serialized stored template.
func (m *Matcher) Match(ctx context.Context, probe Clip, stored []byte) (Result, error) {
	ref, err := DecodeTemplate(stored)
	if err != nil {
		return Result{}, err
	}
	vec, err := m.Enroll(ctx, probe)
	if err != nil {
		return Result{}, err
	}
	return m.Compare(vec, ref)
}

// Compare scores two embeddings against the threshold.
func (m *Matcher) Compare(probe, stored []float32) (Result, error) {
	d, err := CosineDistance(probe, stored)
	if err != nil {
		return Result{}, err
	}
	return Result{Distance: d, Passed: d < m.threshold}, nil
}

// CosineDistance returns 1 - cos θ between a and b, in [0,2].
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	if len(a) == 0 {
		return 0, ErrZeroVector
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, ErrZeroVector
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// rounding can push identical vectors slightly past 1
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return 1 - cos, nil
}
