package presence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/novo-avatar/novo/internal/presence"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T, opts ...presence.Option) (*presence.Store, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := t0
	opts = append([]presence.Option{presence.WithNow(func() time.Time { return now })}, opts...)
	return presence.NewStore(client, opts...), mr, &now
}

func TestStore_Lifecycle(t *testing.T) {
	t.Parallel()
	s, _, now := newStore(t)
	ctx := context.Background()

	if err := s.Start(ctx, "s1", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	*now = t0.Add(time.Minute)
	for range 3 {
		if err := s.Touch(ctx, "s1"); err != nil {
			t.Fatalf("Touch: %v", err)
		}
	}

	rec, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.UserID != "alice" || rec.State != presence.StateActive {
		t.Errorf("record = %+v", rec)
	}
	if rec.MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", rec.MessageCount)
	}
	if !rec.StartedAt.Equal(t0) {
		t.Errorf("StartedAt = %v, want %v", rec.StartedAt, t0)
	}
	if !rec.LastActivityAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("LastActivityAt = %v", rec.LastActivityAt)
	}

	if err := s.End(ctx, "s1"); err != nil {
		t.Fatalf("End: %v", err)
	}
	rec, _ = s.Get(ctx, "s1")
	if rec.State != presence.StateClosed {
		t.Errorf("state after End = %q", rec.State)
	}
}

func TestStore_TTL(t *testing.T) {
	t.Parallel()
	s, mr, _ := newStore(t, presence.WithTTL(time.Hour))
	ctx := context.Background()

	if err := s.Start(ctx, "s1", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ttl := mr.TTL(s.Key("s1")); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := s.Get(ctx, "s1"); !errors.Is(err, presence.ErrNotFound) {
		t.Errorf("Get after expiry err = %v, want ErrNotFound", err)
	}
}

func TestStore_Prefix(t *testing.T) {
	t.Parallel()
	s, mr, _ := newStore(t, presence.WithPrefix("novo"))
	if got := s.Key("abc"); got != "novo:session:abc" {
		t.Errorf("Key = %q", got)
	}
	if err := s.Start(context.Background(), "abc", "bob"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !mr.Exists("novo:session:abc") {
		t.Error("prefixed key not written")
	}
}

func TestStore_EmptyID(t *testing.T) {
	t.Parallel()
	s, _, _ := newStore(t)
	if err := s.Touch(context.Background(), ""); err == nil {
		t.Error("Touch with empty id should fail")
	}
}

func TestStore_Ping(t *testing.T) {
	t.Parallel()
	s, mr, _ := newStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	mr.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping after server close should fail")
	}
}
