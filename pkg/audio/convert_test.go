package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/novo-avatar/novo/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestResampleMono16_SameRate(t *testing.T) {
	t.Parallel()
	in := samplesToBytes([]int16{1, 2, 3})
	out := audio.ResampleMono16(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Error("same-rate resample should return the input unchanged")
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	t.Parallel()
	in := samplesToBytes([]int16{0, 100, 200, 300, 400, 500})
	got := bytesToSamples(audio.ResampleMono16(in, 24000, 16000))
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[0] != 0 {
		t.Errorf("first sample = %d, want 0", got[0])
	}
	if got[1] != 150 {
		t.Errorf("second sample = %d, want 150 (interpolated)", got[1])
	}
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	t.Parallel()
	in := samplesToBytes([]int16{7, 8})
	if got := audio.ResampleMono16(in, 0, 16000); len(got) != len(in) {
		t.Errorf("zero source rate should pass input through, got %d bytes", len(got))
	}
}

func TestFrameBytes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		rate int
		d    time.Duration
		want int
	}{
		{16000, 80 * time.Millisecond, 2560},
		{16000, 100 * time.Millisecond, 3200},
		{24000, 20 * time.Millisecond, 960},
	}
	for _, tt := range tests {
		if got := audio.FrameBytes(tt.rate, tt.d); got != tt.want {
			t.Errorf("FrameBytes(%d, %v) = %d, want %d", tt.rate, tt.d, got, tt.want)
		}
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()
	if got := audio.Duration(32000, 16000); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}
	if got := audio.Duration(100, 0); got != 0 {
		t.Errorf("Duration with zero rate = %v, want 0", got)
	}
}

func TestWAV_Header(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{1, -1, 2, -2})
	wav := audio.WAV(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("unexpected chunk ids in header: %q", wav[:44])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("riff size = %d, want %d", got, 36+len(pcm))
	}
}

func TestSilence(t *testing.T) {
	t.Parallel()
	if got := len(audio.Silence(5)); got != 4 {
		t.Errorf("len(Silence(5)) = %d, want 4", got)
	}
}
