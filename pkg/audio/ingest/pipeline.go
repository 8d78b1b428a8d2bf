package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/novo-avatar/novo/pkg/audio"
)

const (
	defaultCapacity      = 32
	defaultDrainInterval = 50 * time.Millisecond
)

var (
	// ErrBackpressureExceeded is returned by Submit when the queue was full.
	// The submitted frame is kept and the oldest queued frame is dropped.
	ErrBackpressureExceeded = errors.New("ingest: backpressure exceeded")

	// ErrOutOfOrder is returned by Submit for a frame whose sequence number
	// is not greater than the last accepted one. The frame is discarded.
	ErrOutOfOrder = errors.New("ingest: frame out of order")
)

// Sink receives drained frames. [stt.Stream] satisfies it.
type Sink interface {
	Send(ctx context.Context, frame []byte) error
}

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithCapacity sets the queue bound. Default: 32 frames.
func WithCapacity(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// WithDrainInterval sets the drain cadence. Default: 50 ms.
func WithDrainInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithSentHook registers fn to be called with the byte count of every frame
// the sink accepted.
func WithSentHook(fn func(n int)) Option {
	return func(p *Pipeline) {
		p.onSent = fn
	}
}

// Pipeline is a bounded, paced frame queue in front of a [Sink].
//
// Submit is safe to call concurrently with Run and Flush. Frames reach the sink
// in sequence order, each exactly once, unless Submit reported
// [ErrBackpressureExceeded].
type Pipeline struct {
	sink     Sink
	capacity int
	interval time.Duration
	onSent   func(int)

	mu      sync.Mutex
	queue   []audio.Frame
	lastSeq uint64

	// drainMu serialises Run and Flush so concurrent drains cannot reorder.
	drainMu sync.Mutex

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// New creates a Pipeline that delivers to sink.
func New(sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		sink:     sink,
		capacity: defaultCapacity,
		interval: defaultDrainInterval,
	}
	for _, o := range opts {
		o(p)
	}
	p.queue = make([]audio.Frame, 0, p.capacity)
	return p
}

// Submit enqueues f without blocking.
func (p *Pipeline) Submit(f audio.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f.Seq <= p.lastSeq {
		return fmt.Errorf("%w: seq %d after %d", ErrOutOfOrder, f.Seq, p.lastSeq)
	}
	p.lastSeq = f.Seq

	if len(p.queue) >= p.capacity {
		oldest := p.queue[0]
		p.queue = append(p.queue[:0], p.queue[1:]...)
		p.queue = append(p.queue, f)
		p.dropped.Add(1)
		return fmt.Errorf("%w: queue full at %d frames, dropped seq %d", ErrBackpressureExceeded, p.capacity, oldest.Seq)
	}
	p.queue = append(p.queue, f)
	return nil
}

// Run drains the queue every drain interval until ctx is cancelled (returns
// nil) or the sink fails (returns the wrapped sink error).
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				return err
			}
		}
	}
}

// Flush forwards every queued frame to the sink now. On a sink error the
// unsent frames stay queued ahead of anything submitted later.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()

	p.mu.Lock()
	batch := p.queue
	p.queue = make([]audio.Frame, 0, p.capacity)
	p.mu.Unlock()

	for i, f := range batch {
		if err := p.sink.Send(ctx, f.Data); err != nil {
			p.requeue(batch[i:])
			return fmt.Errorf("ingest: send seq %d: %w", f.Seq, err)
		}
		p.sent.Add(uint64(len(f.Data)))
		if p.onSent != nil {
			p.onSent(len(f.Data))
		}
	}
	return nil
}

// requeue puts unsent frames back at the head of the queue, trimming from the
// front if the combined length exceeds capacity.
func (p *Pipeline) requeue(unsent []audio.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	merged := append(append([]audio.Frame(nil), unsent...), p.queue...)
	if over := len(merged) - p.capacity; over > 0 {
		merged = merged[over:]
		p.dropped.Add(uint64(over))
	}
	p.queue = merged
}

// Len returns the number of queued frames.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// SentBytes returns the total bytes accepted by the sink. Diagnostic only.
func (p *Pipeline) SentBytes() uint64 { return p.sent.Load() }

// Dropped returns the number of frames discarded under backpressure.
func (p *Pipeline) Dropped() uint64 { return p.dropped.Load() }
