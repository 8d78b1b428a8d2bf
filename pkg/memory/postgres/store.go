package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/novo-avatar/novo/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// Store is the PostgreSQL-backed exchange store. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a connection pool to the database at dsn, registers
// pgvector types on every connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping checks database connectivity. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Save implements [memory.Store]. An exchange with an existing ID is replaced.
func (s *Store) Save(ctx context.Context, ex memory.Exchange) error {
	const q = `
		INSERT INTO exchanges
		    (id, session_id, user_id, user_text, reply, embedding, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    session_id = EXCLUDED.session_id,
		    user_id    = EXCLUDED.user_id,
		    user_text  = EXCLUDED.user_text,
		    reply      = EXCLUDED.reply,
		    embedding  = EXCLUDED.embedding,
		    model      = EXCLUDED.model,
		    created_at = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, q,
		ex.ID,
		ex.SessionID,
		ex.UserID,
		ex.UserText,
		ex.Reply,
		pgvector.NewVector(ex.Embedding),
		ex.Model,
		ex.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save: %w", err)
	}
	return nil
}

// Recall implements [memory.Store] with cosine distance over the HNSW index.
func (s *Store) Recall(ctx context.Context, embedding []float32, limit int, f memory.Filter) ([]memory.Recalled, error) {
	q, args := recallQuery(embedding, limit, f)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recall: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Recalled, error) {
		var r memory.Recalled
		ex, err := scanExchange(row, &r.Distance)
		r.Exchange = ex
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan recall: %w", err)
	}
	if out == nil {
		out = []memory.Recalled{}
	}
	return out, nil
}

// recallQuery builds the parameterised nearest-neighbour query for f.
func recallQuery(embedding []float32, limit int, f memory.Filter) (string, []any) {
	args := []any{pgvector.NewVector(embedding)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conds []string
	if f.UserID != "" {
		conds = append(conds, "user_id = "+next(f.UserID))
	}
	if f.SessionID != "" {
		conds = append(conds, "session_id = "+next(f.SessionID))
	}
	if f.ExcludeSessionID != "" {
		conds = append(conds, "session_id <> "+next(f.ExcludeSessionID))
	}
	if f.Model != "" {
		conds = append(conds, "model = "+next(f.Model))
	}
	if f.MaxDistance > 0 {
		conds = append(conds, "embedding <=> $1 <= "+next(f.MaxDistance))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, "\n  AND ")
	}
	if limit <= 0 {
		limit = memory.DefaultRecallLimit
	}
	limitArg := next(limit)

	return fmt.Sprintf(`
		SELECT id, session_id, user_id, user_text, reply, embedding, model, created_at,
		       embedding <=> $1 AS distance
		FROM   exchanges
		%s
		ORDER  BY distance
		LIMIT  %s`, where, limitArg), args
}

// Recent implements [memory.Store].
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]memory.Exchange, error) {
	const q = `
		SELECT id, session_id, user_id, user_text, reply, embedding, model, created_at
		FROM (
		    SELECT * FROM exchanges
		    WHERE  user_id = $1
		    ORDER  BY created_at DESC
		    LIMIT  $2
		) recent
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Exchange, error) {
		return scanExchange(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan recent: %w", err)
	}
	return out, nil
}

// Get implements [memory.Store].
func (s *Store) Get(ctx context.Context, id string) (memory.Exchange, error) {
	const q = `
		SELECT id, session_id, user_id, user_text, reply, embedding, model, created_at
		FROM   exchanges
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return memory.Exchange{}, fmt.Errorf("postgres store: get: %w", err)
	}
	ex, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (memory.Exchange, error) {
		return scanExchange(row)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.Exchange{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.Exchange{}, fmt.Errorf("postgres store: get: %w", err)
	}
	return ex, nil
}

// scanExchange scans the standard exchange columns plus any trailing
// destinations.
func scanExchange(row pgx.CollectableRow, extra ...any) (memory.Exchange, error) {
	var (
		ex  memory.Exchange
		vec pgvector.Vector
	)
	dest := append([]any{
		&ex.ID, &ex.SessionID, &ex.UserID, &ex.UserText, &ex.Reply, &vec, &ex.Model, &ex.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return memory.Exchange{}, err
	}
	ex.Embedding = vec.Slice()
	return ex, nil
}
