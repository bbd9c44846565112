package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrEmbedderUnavailable is returned when the embedding service cannot be reached.
var ErrEmbedderUnavailable = errors.New("voice embedder unavailable")

// HTTPEmbedderConfig configures an HTTPEmbedder.
type HTTPEmbedderConfig struct {
	// Endpoint receives an audio/wav body and answers {"embedding":[...]}.
	Endpoint string
	Timeout  time.Duration
	// Dimensions, when set, rejects responses of any other length.
	Dimensions int
}

// HTTPEmbedder calls an external speaker-embedding sidecar.
type HTTPEmbedder struct {
	cfg        HTTPEmbedderConfig
	httpClient *http.Client
}

// NewHTTPEmbedder returns an embedder posting WAV clips to cfg.Endpoint.
func NewHTTPEmbedder(cfg HTTPEmbedderConfig) (*HTTPEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("voice embedder endpoint is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Dimensions < 0 {
		return nil, errors.New("voice embedder dimensions must be >= 0")
	}
	return &HTTPEmbedder{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Embed implements Embedder.
func (e *HTTPEmbedder) Embed(ctx context.Context, samples []int16, sampleRate int) ([]float32, error) {
	var body bytes.Buffer
	if err := EncodeWAV(&body, Clip{Samples: samples, SampleRate: sampleRate}); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedderUnavailable, err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %s", ErrEmbedderUnavailable, resp.Status)
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrEmbedderUnavailable, err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrEmbedderUnavailable)
	}
	if e.cfg.Dimensions > 0 && len(out.Embedding) != e.cfg.Dimensions {
		return nil, ErrDimensionMismatch
	}
	return out.Embedding, nil
}
