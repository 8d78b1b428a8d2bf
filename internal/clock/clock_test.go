package clock_test

import (
	"testing"
	"time"

	"github.com/novo-avatar/novo/internal/clock"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AdvanceRunsDueTimersInOrder(t *testing.T) {
	t.Parallel()
	c := clock.NewFake(t0)
	var got []string
	c.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	c.AfterFunc(time.Second, func() { got = append(got, "a") })
	c.AfterFunc(5*time.Second, func() { got = append(got, "late") })

	c.Advance(3 * time.Second)

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("fired = %v, want [a b]", got)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", c.Pending())
	}
	if !c.Now().Equal(t0.Add(3 * time.Second)) {
		t.Errorf("Now = %v", c.Now())
	}
}

func TestFake_Stop(t *testing.T) {
	t.Parallel()
	c := clock.NewFake(t0)
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	if !tm.Stop() {
		t.Error("first Stop should report true")
	}
	if tm.Stop() {
		t.Error("second Stop should report false")
	}
	c.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFake_CallbackCanRearm(t *testing.T) {
	t.Parallel()
	c := clock.NewFake(t0)
	n := 0
	var tick func()
	tick = func() {
		n++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3500 * time.Millisecond)
	if n != 3 {
		t.Errorf("ticks = %d, want 3", n)
	}
}
