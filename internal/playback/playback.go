// Package playback tracks the reply audio the presentation layer is playing
// for one session.
//
// The [Controller] holds at most one playing [Item]. A new item always
// preempts the current one; nothing is ever queued. Natural completion is
// reported by the client ([Controller.Finished]) or, failing that, by an
// end-of-clip timer. After a natural completion an idle timer is armed; when
// it fires the session shows an idle cue. Playback starts and user speech
// disarm it.
//
// Timer callbacks never touch controller state directly. They post a [Fire]
// back to the owning session actor, which hands it to [Controller.Handle];
// each arming carries a generation number so late firings are ignored.
//
// The Controller is not safe for concurrent use.
package playback

import (
	"time"

	"github.com/novo-avatar/novo/internal/clock"
)

// Defaults for [Config].
const (
	DefaultIdleTimeout = 15 * time.Second
	DefaultGrace       = 750 * time.Millisecond
)

// Item is one synthesized reply handed to the client.
type Item struct {
	ID    string
	Audio []byte
	Text  string

	// Duration is the clip length. Zero disables the end-of-clip timer, so
	// only the client can report completion.
	Duration time.Duration
}

// TimerKind identifies a controller timer.
type TimerKind int

const (
	// EndOfClip fires Duration+Grace after an item started.
	EndOfClip TimerKind = iota + 1

	// IdleTimer fires IdleTimeout after a natural completion.
	IdleTimer
)

// Fire is a timer firing routed through the session actor.
type Fire struct {
	Kind TimerKind
	Gen  uint64
}

// Outcome is the effect of a [Fire].
type Outcome int

const (
	// Stale means the firing belonged to a disarmed timer.
	Stale Outcome = iota

	// ClipFinished means the playing item completed naturally.
	ClipFinished

	// IdleCue means the idle timer expired.
	IdleCue
)

// Transition reports a change of the playing item.
type Transition struct {
	ItemID  string
	Playing bool
}

// Config tunes a [Controller].
type Config struct {
	// IdleTimeout is the silence after a natural completion before the idle
	// cue. Zero selects [DefaultIdleTimeout]; negative disables the cue.
	IdleTimeout time.Duration

	// Grace is added to an item's Duration before the end-of-clip timer
	// fires, leaving the client time to report completion itself. Zero
	// selects [DefaultGrace].
	Grace time.Duration

	// OnTransition, if set, observes every start and stop of an item.
	OnTransition func(Transition)
}

// Controller is the per-session playback state.
type Controller struct {
	clock clock.Clock
	post  func(Fire)
	cfg   Config

	playing *Item
	gen     uint64

	endTimer  clock.Timer
	endGen    uint64
	idleTimer clock.Timer
	idleGen   uint64
}

// New returns an idle Controller. post is called from timer goroutines and
// must hand the firing to the session actor without blocking indefinitely.
func New(clk clock.Clock, cfg Config, post func(Fire)) *Controller {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Grace == 0 {
		cfg.Grace = DefaultGrace
	}
	return &Controller{clock: clk, post: post, cfg: cfg}
}

// SetIdleTimeout changes the idle window for subsequent armings.
func (c *Controller) SetIdleTimeout(d time.Duration) {
	if d != 0 {
		c.cfg.IdleTimeout = d
	}
}

// Play starts item, first stopping and discarding any playing item. It
// returns the preempted item, if any.
func (c *Controller) Play(item Item) (preempted *Item) {
	preempted = c.stop()
	c.disarmIdle()

	c.playing = &item
	c.notify(item.ID, true)

	if item.Duration > 0 {
		c.gen++
		c.endGen = c.gen
		f := Fire{Kind: EndOfClip, Gen: c.gen}
		c.endTimer = c.clock.AfterFunc(item.Duration+c.cfg.Grace, func() { c.post(f) })
	}
	return preempted
}

// Interrupt stops the playing item. It reports whether one was playing and
// is a no-op otherwise.
func (c *Controller) Interrupt() bool {
	return c.stop() != nil
}

// Finished records natural completion of item id. Reports for anything but
// the playing item are ignored.
func (c *Controller) Finished(id string) bool {
	if c.playing == nil || c.playing.ID != id {
		return false
	}
	c.complete()
	return true
}

// UserActivity disarms the idle timer.
func (c *Controller) UserActivity() {
	c.disarmIdle()
}

// Handle applies a timer firing posted by this controller.
func (c *Controller) Handle(f Fire) Outcome {
	switch f.Kind {
	case EndOfClip:
		if c.playing == nil || f.Gen != c.endGen {
			return Stale
		}
		c.complete()
		return ClipFinished
	case IdleTimer:
		if c.idleTimer == nil || f.Gen != c.idleGen {
			return Stale
		}
		c.idleTimer = nil
		return IdleCue
	}
	return Stale
}

// Playing returns the playing item.
func (c *Controller) Playing() (Item, bool) {
	if c.playing == nil {
		return Item{}, false
	}
	return *c.playing, true
}

// IdleArmed reports whether the idle timer is pending.
func (c *Controller) IdleArmed() bool { return c.idleTimer != nil }

// Close stops playback and disarms every timer.
func (c *Controller) Close() {
	c.stop()
	c.disarmIdle()
}

func (c *Controller) complete() {
	c.stop()
	c.armIdle()
}

// stop clears the playing item and its end-of-clip timer.
func (c *Controller) stop() *Item {
	if c.endTimer != nil {
		c.endTimer.Stop()
		c.endTimer = nil
	}
	c.endGen = 0
	prev := c.playing
	if prev == nil {
		return nil
	}
	c.playing = nil
	c.notify(prev.ID, false)
	return prev
}

func (c *Controller) armIdle() {
	c.disarmIdle()
	if c.cfg.IdleTimeout < 0 {
		return
	}
	c.gen++
	c.idleGen = c.gen
	f := Fire{Kind: IdleTimer, Gen: c.gen}
	c.idleTimer = c.clock.AfterFunc(c.cfg.IdleTimeout, func() { c.post(f) })
}

func (c *Controller) disarmIdle() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	c.idleGen = 0
}

func (c *Controller) notify(id string, playing bool) {
	if c.cfg.OnTransition != nil {
		c.cfg.OnTransition(Transition{ItemID: id, Playing: playing})
	}
}
