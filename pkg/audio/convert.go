package audio

import (
	"bytes"
	"encoding/binary"
)

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
//
// TTS providers that cannot synthesise at the conversation's sample rate are
// brought in line with it here before playback.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	srcSamples := len(pcm) / BytesPerSample
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*BytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sampleAt(pcm, idx+1)
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(v))
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
}

// Silence returns n bytes of zeroed PCM, rounded down to whole samples.
func Silence(n int) []byte {
	return make([]byte, n-n%BytesPerSample)
}

// wavHeaderSize is the size of the canonical 44-byte RIFF/WAVE header.
const wavHeaderSize = 44

// WAV wraps linear16 mono PCM in a canonical RIFF/WAVE container. Streaming
// analysis APIs that expect files rather than raw sample streams accept the
// result.
func WAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	dataLen := uint32(len(pcm))
	byteRate := uint32(sampleRate * BytesPerSample)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))             // fmt chunk size
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))              // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))              // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))     // sample rate
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)               // byte rate
	_ = binary.Write(&buf, binary.LittleEndian, uint16(BytesPerSample)) // block align
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))             // bits per sample

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}
