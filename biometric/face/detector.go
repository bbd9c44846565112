package face

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrDetectorUnavailable is returned when the detection service cannot be reached.
var ErrDetectorUnavailable = errors.New("face detector unavailable")

// StaticDetector returns fixed rectangles regardless of input.
type StaticDetector struct {
	Faces []image.Rectangle
	Err   error
}

// Detect implements Detector.
func (d StaticDetector) Detect(_ context.Context, _ image.Image) ([]image.Rectangle, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	out := make([]image.Rectangle, len(d.Faces))
	copy(out, d.Faces)
	return out, nil
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, img image.Image) ([]image.Rectangle, error)

// Detect implements Detector.
func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	return f(ctx, img)
}

// HTTPDetectorConfig configures an HTTPDetector.
type HTTPDetectorConfig struct {
	// Endpoint receives a PNG body and answers {"faces":[{"x":..,"y":..,"w":..,"h":..}]}.
	Endpoint string
	Timeout  time.Duration

	// Cascade parameters forwarded as query arguments.
	ScaleFactor  float64
	MinNeighbors int
	MinFaceSize  int
}

// HTTPDetector calls an external detection sidecar.
type HTTPDetector struct {
	cfg        HTTPDetectorConfig
	httpClient *http.Client
}

// NewHTTPDetector returns a detector posting frames to cfg.Endpoint.
func NewHTTPDetector(cfg HTTPDetectorConfig) (*HTTPDetector, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("face detector endpoint is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ScaleFactor == 0 {
		cfg.ScaleFactor = 1.1
	}
	if cfg.MinNeighbors == 0 {
		cfg.MinNeighbors = 5
	}
	if cfg.MinFaceSize == 0 {
		cfg.MinFaceSize = 50
	}
	return &HTTPDetector{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type detectResponse struct {
	Faces []struct {
		X int `json:"x"`
		Y int `json:"y"`
		W int `json:"w"`
		H int `json:"h"`
	} `json:"faces"`
}

// Detect implements Detector.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	var body bytes.Buffer
	if err := png.Encode(&body, img); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	q := req.URL.Query()
	q.Set("scale_factor", strconv.FormatFloat(d.cfg.ScaleFactor, 'f', -1, 64))
	q.Set("min_neighbors", strconv.Itoa(d.cfg.MinNeighbors))
	q.Set("min_size", strconv.Itoa(d.cfg.MinFaceSize))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "image/png")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %s", ErrDetectorUnavailable, resp.Status)
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrDetectorUnavailable, err)
	}

	faces := make([]image.Rectangle, 0, len(out.Faces))
	for _, f := range out.Faces {
		faces = append(faces, image.Rect(f.X, f.Y, f.X+f.W, f.Y+f.H))
	}
	return faces, nil
}
