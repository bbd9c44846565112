package capture

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/time/rate"

	"github.com/JasonStuckless/SecurityProject/biometric/face"
)

// FrameSource yields camera frames. io.EOF ends the stream.
type FrameSource interface {
	ReadFrame(ctx context.Context) (image.Image, error)
}

// Frame is a frozen copy of a camera image and the single face found in it.
type Frame struct {
	Image *image.RGBA
	Face  image.Rectangle
	At    time.Time
}

// CameraConfig tunes a Camera.
type CameraConfig struct {
	FPS    float64
	Logger *zap.Logger
}

// Camera polls a FrameSource and remembers the last frame that contained
// exactly one face. Run is the only writer; Capture hands out copies.
type Camera struct {
	src      FrameSource
	detector face.Detector
	limiter  *rate.Limiter
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.RWMutex
	last *Frame
}

// NewCamera returns a Camera reading src and locating faces with detector.
func NewCamera(src FrameSource, detector face.Detector, cfg CameraConfig) (*Camera, error) {
	if src == nil {
		return nil, errors.New("frame source is nil")
	}
	if detector == nil {
		return nil, errors.New("face detector is nil")
	}
	if cfg.FPS == 0 {
		cfg.FPS = 15
	}
	if cfg.FPS < 0 {
		return nil, errors.New("camera fps must be > 0")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Camera{
		src:      src,
		detector: detector,
		limiter:  rate.NewLimiter(rate.Limit(cfg.FPS), 1),
		logger:   cfg.Logger,
		now:      time.Now,
	}, nil
}

// Run reads frames until ctx is cancelled or the source ends. On
// cancellation the buffered frame is discarded.
func (c *Camera) Run(ctx context.Context) error {
	defer c.logger.Debug("camera worker stopped")
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			c.reset()
			return nil
		}
		img, err := c.src.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				c.reset()
				return nil
			}
			c.logger.Warn("camera frame read failed", zap.Error(err))
			continue
		}

		faces, err := c.detector.Detect(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				c.reset()
				return nil
			}
			c.logger.Warn("face detection failed", zap.Error(err))
			continue
		}
		if len(faces) != 1 {
			continue
		}
		c.store(img, faces[0])
	}
}

func (c *Camera) store(img image.Image, region image.Rectangle) {
	frame := &Frame{Image: cloneRGBA(img), Face: region, At: c.now()}
	c.mu.Lock()
	c.last = frame
	c.mu.Unlock()
}

func (c *Camera) reset() {
	c.mu.Lock()
	c.last = nil
	c.mu.Unlock()
}

// Capture returns a copy of the most recent single-face frame.
func (c *Camera) Capture() (Frame, error) {
	c.mu.RLock()
	last := c.last
	c.mu.RUnlock()
	if last == nil {
		return Frame{}, ErrNoFrame
	}
	return Frame{Image: cloneRGBA(last.Image), Face: last.Face, At: last.At}, nil
}

func cloneRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	return dst
}
