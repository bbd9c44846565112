package face

import (
	"context"
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

const (
	// DefaultSize is the template edge length in pixels.
	DefaultSize = 100
	// DefaultThreshold is the MSE below which two templates match.
	DefaultThreshold = 1000.0
)

var (
	// ErrNoFaceDetected is returned when the detector finds no face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrMultipleFacesDetected is returned when more than one face is visible.
	ErrMultipleFacesDetected = errors.New("multiple faces detected")
	// ErrTemplateSizeMismatch is returned when a template does not hold N*N bytes.
	ErrTemplateSizeMismatch = errors.New("face template size mismatch")
)

// Template is an N×N 8-bit grayscale image in row-major order.
type Template []byte

// Detector locates faces in an image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error)
}

// Config tunes a Matcher.
type Config struct {
	Size      int
	Threshold float64
}

// Result is the outcome of a comparison.
type Result struct {
	Distance float64
	Passed   bool
}

// Matcher enrolls and compares face templates.
type Matcher struct {
	detector  Detector
	size      int
	threshold float64
}

// NewMatcher returns a Matcher using detector. Zero config fields take defaults.
func NewMatcher(detector Detector, cfg Config) (*Matcher, error) {
	if detector == nil {
		return nil, errors.New("face detector is nil")
	}
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Size < 8 {
		return nil, errors.New("face template size must be >= 8")
	}
	if cfg.Threshold < 0 {
		return nil, errors.New("face threshold must be >= 0")
	}
	return &Matcher{detector: detector, size: cfg.Size, threshold: cfg.Threshold}, nil
}

// Size returns the template edge length.
func (m *Matcher) Size() int { return m.size }

// Threshold returns the pass threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Enroll detects the single face in img and returns its template.
func (m *Matcher) Enroll(ctx context.Context, img image.Image) (Template, error) {
	if img == nil {
		return nil, ErrNoFaceDetected
	}
	faces, err := m.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	switch len(faces) {
	case 0:
		return nil, ErrNoFaceDetected
	case 1:
	default:
		return nil, ErrMultipleFacesDetected
	}
	return m.Crop(img, faces[0])
}

// Crop converts the given region of img into a template without running
// detection. Callers that already located the face (the camera worker) use it.
func (m *Matcher) Crop(img image.Image, region image.Rectangle) (Template, error) {
	region = region.Intersect(img.Bounds())
	if region.Empty() {
		return nil, ErrNoFaceDetected
	}
	dst := image.NewGray(image.Rect(0, 0, m.size, m.size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, region, draw.Src, nil)

	out := make(Template, m.size*m.size)
	for y := 0; y < m.size; y++ {
		copy(out[y*m.size:(y+1)*m.size], dst.Pix[y*dst.Stride:y*dst.Stride+m.size])
	}
	return out, nil
}

// Match enrolls probe and compares it with stored.
func (m *Matcher) Match(ctx context.Context, probe image.Image, stored []byte) (Result, error) {
	if len(stored) != m.size*m.size {
		return Result{}, ErrTemplateSizeMismatch
	}
	tpl, err := m.Enroll(ctx, probe)
	if err != nil {
		return Result{}, err
	}
	return m.Compare(tpl, stored)
}

// Compare scores two templates against the threshold.
func (m *Matcher) Compare(probe, stored []byte) (Result, error) {
	if len(stored) != m.size*m.size {
		return Result{}, ErrTemplateSizeMismatch
	}
	d, err := Distance(probe, stored)
	if err != nil {
		return Result{}, err
	}
	return Result{Distance: d, Passed: d < m.threshold}, nil
}

// Distance returns the mean squared per-pixel difference of a and b.
func Distance(a, b []byte) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, ErrTemplateSizeMismatch
	}
	var sum uint64
	for i := range a {
		d := int64(a[i]) - int64(b[i])
		sum += uint64(d * d)
	}
	return float64(sum) / float64(len(a)), nil
}

// Image returns t as an *image.Gray of edge size, for debugging and export.
func (t Template) Image(size int) (*image.Gray, error) {
	if size <= 0 || len(t) != size*size {
		return nil, ErrTemplateSizeMismatch
	}
	img := image.NewGray(image.Rect(0, 0, size, size))
	copy(img.Pix, t)
	return img, nil
}
