// Package postgres provides a PostgreSQL-backed [memory.Store] using pgvector
// for nearest-neighbour recall over exchange embeddings.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Save(ctx, exchange)
//	recalled, _ := store.Recall(ctx, queryVec, 5, memory.Filter{UserID: "alice"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlExchanges returns the DDL with the embedding dimension substituted. The
// vector dimension is baked into the column type at schema creation time.
func ddlExchanges(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS exchanges (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    user_id     TEXT         NOT NULL DEFAULT '',
    user_text   TEXT         NOT NULL,
    reply       TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    model       TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_exchanges_session_id
    ON exchanges (session_id);

CREATE INDEX IF NOT EXISTS idx_exchanges_user_created
    ON exchanges (user_id, created_at);

CREATE INDEX IF NOT EXISTS idx_exchanges_embedding
    ON exchanges USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates the exchanges table and its indexes. It is idempotent and
// safe to call on every application start.
//
// embeddingDimensions must match the embedding model (1536 for
// text-embedding-3-small). Changing it after the first migration requires a
// manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	if _, err := pool.Exec(ctx, ddlExchanges(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
