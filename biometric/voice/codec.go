package voice

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrTemplateCorrupt is returned when stored template bytes cannot be decoded.
var ErrTemplateCorrupt = errors.New("voice template corrupt")

// EncodeTemplate serializes an embedding as little-endian float32 values.
func EncodeTemplate(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// DecodeTemplate parses bytes written by EncodeTemplate.
func DecodeTemplate(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, ErrTemplateCorrupt
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		v := math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, ErrTemplateCorrupt
		}
		out[i] = v
	}
	return out, nil
}
