package voice

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidWAV is returned for input that is not 16-bit PCM WAV.
var ErrInvalidWAV = errors.New("invalid wav data")

const (
	wavFormatPCM  = 1
	wavBitsPerSmp = 16
)

type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// EncodeWAV writes clip as a mono 16-bit PCM RIFF/WAVE file.
func EncodeWAV(w io.Writer, clip Clip) error {
	rate := clip.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	dataLen := uint32(len(clip.Samples) * 2)

	var hdr bytes.Buffer
	hdr.Grow(44)
	hdr.WriteString("RIFF")
	_ = binary.Write(&hdr, binary.LittleEndian, 36+dataLen)
	hdr.WriteString("WAVE")
	hdr.WriteString("fmt ")
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(16))
	_ = binary.Write(&hdr, binary.LittleEndian, wavFormat{
		AudioFormat:   wavFormatPCM,
		Channels:      1,
		SampleRate:    uint32(rate),
		ByteRate:      uint32(rate) * 2,
		BlockAlign:    2,
		BitsPerSample: wavBitsPerSmp,
	})
	hdr.WriteString("data")
	_ = binary.Write(&hdr, binary.LittleEndian, dataLen)

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, clip.Samples)
}

// WAV returns clip encoded as a WAV file.
func (c Clip) WAV() []byte {
	var buf bytes.Buffer
	_ = EncodeWAV(&buf, c)
	return buf.Bytes()
}

// DecodeWAV reads a 16-bit PCM WAV file. Multi-channel input is averaged down to mono.
func DecodeWAV(r io.Reader) (Clip, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Clip{}, ErrInvalidWAV
	}

	var (
		format    wavFormat
		haveFmt   bool
		chunkHead [8]byte
	)
	for {
		if _, err := io.ReadFull(r, chunkHead[:]); err != nil {
			return Clip{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
		}
		id := string(chunkHead[0:4])
		size := binary.LittleEndian.Uint32(chunkHead[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			if err := binary.Read(r, binary.LittleEndian, &format); err != nil {
				return Clip{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
			}
			if err := skip(r, int64(size)-16+int64(size&1)); err != nil {
				return Clip{}, err
			}
			if format.AudioFormat != wavFormatPCM || format.BitsPerSample != wavBitsPerSmp || format.Channels == 0 {
				return Clip{}, fmt.Errorf("%w: only 16-bit PCM is supported", ErrInvalidWAV)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Clip{}, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			frame := int(format.Channels) * 2
			raw := make([]int16, int(size)/2)
			if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
				return Clip{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
			}
			return Clip{Samples: downmix(raw, int(size)/frame, int(format.Channels)), SampleRate: int(format.SampleRate)}, nil
		default:
			if err := skip(r, int64(size)+int64(size&1)); err != nil {
				return Clip{}, err
			}
		}
	}
}

func downmix(raw []int16, frames, channels int) []int16 {
	if channels == 1 {
		return raw
	}
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(raw[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	return nil
}
