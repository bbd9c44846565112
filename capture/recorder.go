package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JasonStuckless/SecurityProject/biometric/voice"
)

// AudioSource yields mono PCM16 samples.
type AudioSource interface {
	// Read fills buf and returns the number of samples written. io.EOF ends the stream.
	Read(ctx context.Context, buf []int16) (int, error)
	SampleRate() int
}

// RecorderConfig tunes a Recorder.
type RecorderConfig struct {
	ChunkSize   int
	MaxDuration time.Duration
	QueueDepth  int
	Logger      *zap.Logger
}

// Recorder reads chunks from an AudioSource until stopped.
type Recorder struct {
	src    AudioSource
	chunk  int
	max    time.Duration
	depth  int
	logger *zap.Logger
}

// NewRecorder returns a Recorder over src.
func NewRecorder(src AudioSource, cfg RecorderConfig) (*Recorder, error) {
	if src == nil {
		return nil, errors.New("audio source is nil")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 1024
	}
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = 30 * time.Second
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 64
	}
	if cfg.ChunkSize < 0 || cfg.MaxDuration < 0 || cfg.QueueDepth < 0 {
		return nil, errors.New("recorder config values must be >= 0")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Recorder{
		src:    src,
		chunk:  cfg.ChunkSize,
		max:    cfg.MaxDuration,
		depth:  cfg.QueueDepth,
		logger: cfg.Logger,
	}, nil
}

type chunkResult struct {
	samples []int16
	err     error
}

// Record captures audio until stop is signalled, the source ends, or
// MaxDuration worth of samples has been read. Chunks already queued when the
// stop is observed are kept. Cancelling ctx discards everything and returns
// ErrCancelled.
func (r *Recorder) Record(ctx context.Context, stop *StopToken) (voice.Clip, error) {
	if stop == nil {
		return voice.Clip{}, errors.New("stop token is nil")
	}
	rate := r.src.SampleRate()
	if rate <= 0 {
		rate = voice.DefaultSampleRate
	}
	limit := int(r.max.Seconds() * float64(rate))

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan chunkResult, r.depth)
	go r.readLoop(readCtx, stop, queue, limit)

	var samples []int16
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("recording cancelled", zap.Int("discarded_samples", len(samples)))
			return voice.Clip{}, ErrCancelled
		case res, ok := <-queue:
			if !ok {
				if ctx.Err() != nil {
					return voice.Clip{}, ErrCancelled
				}
				r.logger.Debug("recording finalized", zap.Int("samples", len(samples)), zap.Int("sample_rate", rate))
				return voice.Clip{Samples: samples, SampleRate: rate}, nil
			}
			if res.err != nil {
				return voice.Clip{}, fmt.Errorf("read audio: %w", res.err)
			}
			samples = append(samples, res.samples...)
		}
	}
}

func (r *Recorder) readLoop(ctx context.Context, stop *StopToken, queue chan<- chunkResult, limit int) {
	defer close(queue)
	total := 0
	for !stop.Stopped() && total < limit {
		if ctx.Err() != nil {
			return
		}
		buf := make([]int16, r.chunk)
		n, err := r.src.Read(ctx, buf)
		if n > 0 {
			if total+n > limit {
				n = limit - total
			}
			total += n
			select {
			case queue <- chunkResult{samples: buf[:n]}:
			case <-ctx.Done():
				return
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case queue <- chunkResult{err: err}:
			case <-ctx.Done():
			}
			return
		}
	}
}
