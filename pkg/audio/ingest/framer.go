// Package ingest turns captured microphone audio into an ordered stream of
// fixed-size frames and paces their delivery to a transcription transport.
//
// The [Framer] cuts arbitrary capture buffers into provider-compatible frames
// and numbers them. The [Pipeline] queues numbered frames in a small bounded
// buffer and drains it on a fixed cadence, so jitter on the capture side never
// turns into unbounded buffering or a blocked capture thread.
package ingest

import (
	"time"

	"github.com/novo-avatar/novo/pkg/audio"
)

// Framer slices a linear16 byte stream into frames of a fixed byte size.
// Partial tails are held until the next Write. Framer is not safe for
// concurrent use; each conversation owns one.
type Framer struct {
	size    int
	seq     uint64
	pending []byte
	now     func() time.Time
}

// NewFramer returns a Framer producing frames of frameBytes bytes. frameBytes
// is rounded down to whole samples and must be positive.
func NewFramer(frameBytes int) *Framer {
	frameBytes -= frameBytes % audio.BytesPerSample
	if frameBytes <= 0 {
		frameBytes = audio.BytesPerSample
	}
	return &Framer{
		size:    frameBytes,
		pending: make([]byte, 0, frameBytes),
		now:     time.Now,
	}
}

// FrameBytes returns the configured frame size.
func (f *Framer) FrameBytes() int { return f.size }

// Write appends p to the stream and returns every complete frame it closes,
// in sequence order. The returned frames do not alias p.
func (f *Framer) Write(p []byte) []audio.Frame {
	var out []audio.Frame
	for len(p) > 0 {
		n := min(f.size-len(f.pending), len(p))
		f.pending = append(f.pending, p[:n]...)
		p = p[n:]
		if len(f.pending) == f.size {
			out = append(out, f.cut(f.pending))
			f.pending = make([]byte, 0, f.size)
		}
	}
	return out
}

// Flush emits the buffered tail padded with silence to a full frame. It
// returns false when nothing is buffered.
func (f *Framer) Flush() (audio.Frame, bool) {
	if len(f.pending) == 0 {
		return audio.Frame{}, false
	}
	data := append(f.pending, audio.Silence(f.size-len(f.pending))...)
	f.pending = make([]byte, 0, f.size)
	return f.cut(data), true
}

// Pending returns the number of buffered bytes not yet part of a frame.
func (f *Framer) Pending() int { return len(f.pending) }

// Reset drops the buffered tail and restarts sequence numbering at 1.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
	f.seq = 0
}

func (f *Framer) cut(data []byte) audio.Frame {
	f.seq++
	return audio.Frame{Seq: f.seq, Captured: f.now(), Data: data}
}
