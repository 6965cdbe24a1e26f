package semantic

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
	"github.com/rs/zerolog"
)

// PgVectorProvider stores semantic cache entries in a Postgres table with
// the pgvector extension, using the `<=>` cosine-distance operator for
// nearest-neighbour search. Rows are appended with plain INSERTs and
// embeddings are passed as pgvector text literals (see vecLiteral).
type PgVectorProvider struct {
	db     *sqlx.DB
	table  string
	logger zerolog.Logger
}

// NewPgVectorProvider opens a sqlx connection to dsn. sqlx.Connect pings the
// database, so an unreachable server is reported here as an error.
func NewPgVectorProvider(dsn, table string, logger zerolog.Logger) (*PgVectorProvider, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}
	return &PgVectorProvider{db: db, table: table, logger: logger.With().Str("component", "semantic.pgvector").Logger()}, nil
}

// EnsureReady creates the pgvector extension, backing table, and an ivfflat
// ANN index on embedding if they do not already exist.
func (p *PgVectorProvider) EnsureReady(ctx context.Context, dim int) error {
	if _, err := p.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("pgvector: create extension: %w", err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			backend TEXT NOT NULL,
			llm_source TEXT,
			model TEXT,
			query_text TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			response_json JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL
		)`, p.table, dim)
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}

	idx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		p.table, p.table)
	if _, err := p.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("pgvector: create ann index: %w", err)
	}
	return nil
}

// Search returns the single nearest neighbour satisfying the hard filters in
// sctx and the similarity threshold; 1 - (embedding <=> $vec) is the cosine
// similarity pgvector computes from its cosine-distance operator.
func (p *PgVectorProvider) Search(ctx context.Context, vec []float32, sctx Context, threshold float64) ([]byte, bool, error) {
	q := fmt.Sprintf(`
		SELECT response_json, 1 - (embedding <=> $1::vector) AS similarity
		FROM %s
		WHERE tenant_id = $2 AND endpoint = $3 AND backend = $4
		  AND (llm_source IS NULL OR $5::text IS NULL OR llm_source = $5)
		  AND (model IS NULL OR $6::text IS NULL OR model = $6)
		  AND expires_at > now()
		ORDER BY embedding <=> $1::vector
		LIMIT 1`, p.table)

	row := p.db.QueryRowContext(ctx, q, vecLiteral(vec), sctx.TenantID, sctx.Endpoint, sctx.Backend, sctx.LLMSource, sctx.Model)

	var respJSON []byte
	var similarity float64
	if err := row.Scan(&respJSON, &similarity); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, false, nil
		}
		return nil, false, err
	}
	if similarity < threshold {
		return nil, false, nil
	}
	return respJSON, true, nil
}

// IndexDoc inserts a new row; no existing rows are deleted or deduplicated.
func (p *PgVectorProvider) IndexDoc(ctx context.Context, doc Doc) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (tenant_id, endpoint, backend, llm_source, model, query_text, embedding, response_json, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8, $9, $10)`, p.table)

	_, err := p.db.ExecContext(ctx, q,
		doc.TenantID, doc.Endpoint, doc.Backend, doc.LLMSource, doc.Model,
		doc.QueryText, vecLiteral(doc.Embedding), doc.ResponseJSON, doc.CreatedAt, doc.ExpiresAt)
	return err
}

// vecLiteral formats a float32 vector as pgvector's textual literal
// "[0.1,0.2,...]" — pgvector's wire format is not a native Postgres array
// type, so it is built directly rather than via pq.Array.
func vecLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// HealthCheck verifies connectivity and that the vector extension is
// installed, mirroring developer-mesh's VectorStore.HealthCheck.
func (p *PgVectorProvider) HealthCheck(ctx context.Context) error {
	var ok bool
	err := p.db.GetContext(ctx, &ok, `SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')`)
	if err != nil {
		return fmt.Errorf("pgvector: health check: %w", err)
	}
	if !ok {
		return fmt.Errorf("pgvector: extension not installed")
	}
	return nil
}
