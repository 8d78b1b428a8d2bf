// Package audio holds the PCM primitives shared by the ingest pipeline, the
// speech providers and the playback controller.
//
// All audio inside novo is signed 16-bit little-endian mono PCM ("linear16").
// The sample rate is a per-conversation setting (16 kHz by default).
package audio

import "time"

// BytesPerSample is the width of one linear16 sample.
const BytesPerSample = 2

// Frame is an immutable, ordered chunk of captured PCM samples.
//
// Frames are produced by the ingest framer and consumed exactly once by the
// transcription transport. Seq starts at 1 and increases by one per frame
// within a conversation.
type Frame struct {
	// Seq is the frame's position in the capture stream.
	Seq uint64

	// Captured is the wall-clock time the frame was cut from the capture
	// stream.
	Captured time.Time

	// Data is linear16 mono PCM. Its length is fixed per conversation.
	Data []byte
}

// Len returns the frame size in bytes.
func (f Frame) Len() int { return len(f.Data) }

// FrameBytes returns the byte size of a frame holding d worth of audio at
// sampleRate. The result is always a whole number of samples.
func FrameBytes(sampleRate int, d time.Duration) int {
	samples := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return samples * BytesPerSample
}

// Duration returns the playback length of a linear16 mono buffer of n bytes.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 || n <= 0 {
		return 0
	}
	samples := n / BytesPerSample
	return time.Duration(int64(samples) * int64(time.Second) / int64(sampleRate))
}
