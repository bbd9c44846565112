package main

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/JasonStuckless/SecurityProject/biometric/voice"
)

// fileFrames plays a fixed list of image files as camera frames, then ends.
type fileFrames struct {
	mu     sync.Mutex
	frames []image.Image
	next   int
}

func openFrames(paths ...string) (*fileFrames, error) {
	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := readImage(p)
		if err != nil {
			return nil, err
		}
		frames = append(frames, img)
	}
	return &fileFrames{frames: frames}, nil
}

func (f *fileFrames) ReadFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.frames) {
		return nil, io.EOF
	}
	img := f.frames[f.next]
	f.next++
	return img, nil
}

func readImage(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// wavSource streams a decoded WAV file as microphone input.
type wavSource struct {
	mu   sync.Mutex
	clip voice.Clip
	pos  int
}

func openWAV(path string) (*wavSource, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	clip, err := voice.DecodeWAV(fh)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &wavSource{clip: clip}, nil
}

func (s *wavSource) SampleRate() int { return s.clip.SampleRate }

func (s *wavSource) Read(ctx context.Context, buf []int16) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.clip.Samples) {
		return 0, io.EOF
	}
	n := copy(buf, s.clip.Samples[s.pos:])
	s.pos += n
	return n, nil
}
