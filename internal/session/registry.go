package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/novo-avatar/novo/internal/intent"
	"github.com/novo-avatar/novo/internal/turn"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session: not found")

// Options configures a new session.
type Options struct {
	// UserID scopes conversation memory. Empty means anonymous.
	UserID string

	// Patch is applied on top of the registry defaults.
	Patch ConfigPatch
}

// Info describes an open session.
type Info struct {
	ID      string
	UserID  string
	Created time.Time
}

// Registry owns the open sessions. It is safe for concurrent use.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	defaults Settings
	sessions map[string]*Session
	closed   bool
}

// NewRegistry returns an empty registry whose sessions use deps and start
// from defaults.
func NewRegistry(deps Deps, defaults Settings) *Registry {
	return &Registry{
		deps:     deps.withDefaults(),
		defaults: defaults.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// SetDefaults replaces the settings new sessions start from. Open sessions
// are unaffected.
func (r *Registry) SetDefaults(s Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = s.withDefaults()
}

// SetPhrases replaces the trigger and intent matchers used by sessions opened
// from now on. A nil intents selects the default phrases.
func (r *Registry) SetPhrases(triggers *turn.TriggerMatcher, intents *intent.Classifier) {
	if intents == nil {
		intents = intent.New(nil, nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps.Triggers = triggers
	r.deps.Intents = intents
}

// Defaults returns the settings new sessions start from.
func (r *Registry) Defaults() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaults
}

// Open creates a session with a fresh id. The session outlives ctx; it ends
// with [Registry.Close] or [Registry.CloseAll].
func (r *Registry) Open(ctx context.Context, opts Options) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("session: open: %w", ErrSessionClosed)
	}

	settings := r.defaults
	if opts.UserID != "" {
		settings.UserID = opts.UserID
	}
	settings = opts.Patch.Apply(settings)

	id := uuid.NewString()
	s := New(context.WithoutCancel(ctx), id, settings, r.deps)
	r.sessions[id] = s
	r.deps.Logger.Info("session opened", "session_id", id, "user_id", settings.UserID, "open_sessions", len(r.sessions))
	return s, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session: get %q: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// Close closes and forgets the session with the given id.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: close %q: %w", id, ErrSessionNotFound)
	}
	s.Close()
	return nil
}

// List returns the open sessions ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Info{ID: s.id, UserID: s.userID, Created: s.created})
	}
	slices.SortFunc(out, func(a, b Info) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every session and refuses new ones. It returns ctx's error
// if the sessions did not all stop in time.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, s := range all {
			wg.Go(s.Close)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.deps.Logger.Info("all sessions closed", "count", len(all))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: close all: %w", ctx.Err())
	}
}
