package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/novo-avatar/novo/pkg/provider/embeddings"
)

// DefaultRecallLimit is the number of exchanges recalled per turn.
const DefaultRecallLimit = 5

// Service embeds and stores exchanges and recalls related ones.
type Service struct {
	store    Store
	embedder embeddings.Provider
	limit    int
	maxDist  float64
	now      func() time.Time
}

// ServiceOption configures a [Service].
type ServiceOption func(*Service)

// WithRecallLimit sets how many exchanges Recall returns.
func WithRecallLimit(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithMaxDistance drops recalled exchanges farther than d.
func WithMaxDistance(d float64) ServiceOption {
	return func(s *Service) { s.maxDist = d }
}

// NewService returns a Service over store using embedder for vectors.
func NewService(store Store, embedder embeddings.Provider, opts ...ServiceOption) *Service {
	s := &Service{store: store, embedder: embedder, limit: DefaultRecallLimit, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Remember embeds and saves one exchange.
func (s *Service) Remember(ctx context.Context, sessionID, userID, userText, reply string) error {
	vec, err := s.embedder.Embed(ctx, ExchangeText(userText, reply))
	if err != nil {
		return fmt.Errorf("memory: embed exchange: %w", err)
	}
	ex := Exchange{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		UserText:  userText,
		Reply:     reply,
		Embedding: vec,
		Model:     s.embedder.ModelID(),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Save(ctx, ex); err != nil {
		return fmt.Errorf("memory: save exchange: %w", err)
	}
	return nil
}

// Recall returns past exchanges related to query. Identified users recall
// across all their earlier sessions; anonymous sessions only see themselves.
func (s *Service) Recall(ctx context.Context, sessionID, userID, query string) ([]Recalled, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	f := Filter{Model: s.embedder.ModelID(), MaxDistance: s.maxDist}
	if userID != "" {
		f.UserID = userID
		f.ExcludeSessionID = sessionID
	} else {
		f.SessionID = sessionID
	}
	out, err := s.store.Recall(ctx, vec, s.limit, f)
	if err != nil {
		return nil, fmt.Errorf("memory: recall: %w", err)
	}
	return out, nil
}

// ExchangeText is the text embedded for an exchange.
func ExchangeText(userText, reply string) string {
	return "User: " + userText + "\nNoVo: " + reply
}

// Format renders recalled exchanges as a system prompt section. It returns
// "" for no results.
func Format(recalled []Recalled) string {
	if len(recalled) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Things you remember from earlier conversations with this person:")
	for _, r := range recalled {
		fmt.Fprintf(&b, "\n- They said %q and you replied %q.", r.Exchange.UserText, r.Exchange.Reply)
	}
	return b.String()
}
