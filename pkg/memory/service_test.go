package memory_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/novo-avatar/novo/pkg/memory"
	memmock "github.com/novo-avatar/novo/pkg/memory/mock"
	embmock "github.com/novo-avatar/novo/pkg/provider/embeddings/mock"
)

// keywordEmbedder maps texts onto a tiny topic space so recall ranking is
// predictable.
func keywordEmbedder() *embmock.Provider {
	return &embmock.Provider{
		DimensionsValue: 3,
		ModelIDValue:    "test-embed",
		EmbedFunc: func(text string) []float32 {
			text = strings.ToLower(text)
			v := []float32{0.01, 0.01, 0.01}
			if strings.Contains(text, "dog") {
				v[0] = 1
			}
			if strings.Contains(text, "coffee") {
				v[1] = 1
			}
			if strings.Contains(text, "guitar") {
				v[2] = 1
			}
			return v
		},
	}
}

func TestService_RememberAndRecall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memmock.Store{}
	svc := memory.NewService(store, keywordEmbedder(), memory.WithRecallLimit(2))

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(svc.Remember(ctx, "s1", "alice", "My dog is called Rex", "Rex is a great name!"))
	must(svc.Remember(ctx, "s1", "alice", "I drink coffee every morning", "A fine ritual."))
	must(svc.Remember(ctx, "s1", "bob", "My dog bites", "Oh no."))
	must(svc.Remember(ctx, "s2", "alice", "I play guitar", "Nice!"))

	saved := store.Exchanges()
	if len(saved) != 4 {
		t.Fatalf("saved %d exchanges, want 4", len(saved))
	}
	if saved[0].ID == "" || saved[0].Model != "test-embed" || saved[0].CreatedAt.IsZero() {
		t.Errorf("exchange metadata not filled: %+v", saved[0])
	}

	// Alice in a new session asks about her dog: her own dog exchange ranks
	// first, Bob's is never visible.
	got, err := svc.Recall(ctx, "s3", "alice", "what was my dog's name?")
	must(err)
	if len(got) != 2 {
		t.Fatalf("recalled %d, want limit 2", len(got))
	}
	if got[0].Exchange.UserText != "My dog is called Rex" {
		t.Errorf("best match = %q", got[0].Exchange.UserText)
	}
	for _, r := range got {
		if r.Exchange.UserID != "alice" {
			t.Errorf("recalled another user's exchange: %+v", r.Exchange)
		}
	}

	// The current session is excluded for identified users.
	got, _ = svc.Recall(ctx, "s2", "alice", "guitar")
	for _, r := range got {
		if r.Exchange.SessionID == "s2" {
			t.Errorf("recalled exchange from the current session: %+v", r.Exchange)
		}
	}
}

func TestService_AnonymousRecallStaysInSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memmock.Store{}
	svc := memory.NewService(store, keywordEmbedder())
	_ = svc.Remember(ctx, "s1", "", "my dog", "woof")
	_ = svc.Remember(ctx, "s2", "", "my dog too", "woof woof")

	got, err := svc.Recall(ctx, "s2", "", "dog")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Exchange.SessionID != "s2" {
		t.Errorf("anonymous recall = %+v, want only s2", got)
	}
}

func TestService_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("boom")

	emb := keywordEmbedder()
	emb.EmbedErr = boom
	svc := memory.NewService(&memmock.Store{}, emb)
	if err := svc.Remember(ctx, "s", "u", "a", "b"); !errors.Is(err, boom) {
		t.Errorf("Remember err = %v, want wrapped embed error", err)
	}
	if _, err := svc.Recall(ctx, "s", "u", "a"); !errors.Is(err, boom) {
		t.Errorf("Recall err = %v, want wrapped embed error", err)
	}

	svc = memory.NewService(&memmock.Store{SaveErr: boom}, keywordEmbedder())
	if err := svc.Remember(ctx, "s", "u", "a", "b"); !errors.Is(err, boom) {
		t.Errorf("Remember err = %v, want wrapped save error", err)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	if memory.Format(nil) != "" {
		t.Error("Format(nil) should be empty")
	}
	out := memory.Format([]memory.Recalled{{Exchange: memory.Exchange{UserText: "I like tea", Reply: "Noted!"}}})
	if !strings.Contains(out, `"I like tea"`) || !strings.Contains(out, `"Noted!"`) {
		t.Errorf("Format = %q", out)
	}
}

func TestExchangeText(t *testing.T) {
	t.Parallel()
	if got := memory.ExchangeText("hi", "hello"); got != "User: hi\nNoVo: hello" {
		t.Errorf("ExchangeText = %q", got)
	}
}
