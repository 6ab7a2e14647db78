package vecstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Postgres is the production Store implementation on PostgreSQL with the
// pgvector extension.
//
// Layout: each collection is its own table (rc_<slug>_<hash>). CREATE
// TABLE IF NOT EXISTS provides the idempotent-create contract; a
// bigserial ord column provides the insertion-order tie-break; the
// ragcore_collections table (created by migrations) records each
// collection's table name, dimension, and embedding model so an
// ingest-time/query-time model mismatch is detected instead of silently
// returning miscomputed similarities.
//
// Postgres is safe for concurrent use; collection-level lifecycle
// serialization is handled above this layer by the registry.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a Postgres store on an existing connection pool.
// The pool is owned by the caller. logger may be nil.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

// tableName derives a safe SQL identifier for a collection name.
// Collection names are caller-facing (e.g. "session-scoped:abc") and may
// contain characters unfit for identifiers, so the slug is normalized
// and suffixed with a hash of the full name to prevent collisions.
func tableName(collection string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, collection)
	if len(slug) > 32 {
		slug = slug[:32]
	}

	sum := sha256.Sum256([]byte(collection))
	return "rc_" + slug + "_" + hex.EncodeToString(sum[:4])
}

// EnsureCollection creates the collection table and meta row if missing.
func (p *Postgres) EnsureCollection(ctx context.Context, name string, dim int, model string) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d for collection %q", dim, name)
	}

	tbl := tableName(name)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning ensure transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Meta row first: detects configuration drift before any DDL.
	var existingDim int
	var existingModel string
	err = tx.QueryRow(ctx,
		`SELECT dimension, model FROM ragcore_collections WHERE name = $1`,
		name,
	).Scan(&existingDim, &existingModel)
	switch {
	case err == nil:
		if existingModel != model {
			return fmt.Errorf("collection %q recorded model %q, got %q: %w",
				name, existingModel, model, ErrModelMismatch)
		}
		if existingDim != dim {
			return fmt.Errorf("collection %q recorded dimension %d, got %d: %w",
				name, existingDim, dim, ErrDimensionMismatch)
		}
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx,
			`INSERT INTO ragcore_collections (name, table_name, dimension, model)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (name) DO NOTHING`,
			name, tbl, dim, model,
		); err != nil {
			return fmt.Errorf("recording collection %q: %w", name, err)
		}
	default:
		return fmt.Errorf("looking up collection %q: %w", name, err)
	}

	// Dimension is validated above; table name comes from tableName and
	// contains only [a-z0-9_], so identifier interpolation is safe.
	ident := pgx.Identifier{tbl}.Sanitize()
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id uuid PRIMARY KEY,
		ord bigserial NOT NULL,
		content text NOT NULL,
		payload jsonb NOT NULL DEFAULT '{}',
		embedding vector(%d) NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	)`, ident, dim)
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating collection table %q: %w", tbl, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing collection %q: %w", name, err)
	}

	p.logger.Debug("collection ensured", "collection", name, "table", tbl, "dimension", dim)
	return nil
}

// CollectionExists checks the meta table for the collection.
func (p *Postgres) CollectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ragcore_collections WHERE name = $1)`,
		name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking collection %q: %w", name, err)
	}
	return exists, nil
}

// lookup fetches the collection's meta row.
func (p *Postgres) lookup(ctx context.Context, name string) (tbl string, dim int, model string, err error) {
	err = p.pool.QueryRow(ctx,
		`SELECT table_name, dimension, model FROM ragcore_collections WHERE name = $1`,
		name,
	).Scan(&tbl, &dim, &model)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, "", fmt.Errorf("collection %q: %w", name, ErrCollectionNotFound)
	}
	if err != nil {
		return "", 0, "", fmt.Errorf("looking up collection %q: %w", name, err)
	}
	return tbl, dim, model, nil
}

// Upsert appends points inside one transaction: the batch lands
// atomically or not at all, so a failed job leaves the point count
// unchanged.
func (p *Postgres) Upsert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	tbl, dim, _, err := p.lookup(ctx, name)
	if err != nil {
		return err
	}
	for _, pt := range points {
		if len(pt.Vector) != dim {
			return fmt.Errorf("point %q has dimension %d, collection %q wants %d: %w",
				pt.ID, len(pt.Vector), name, dim, ErrDimensionMismatch)
		}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ident := pgx.Identifier{tbl}.Sanitize()
	sql := fmt.Sprintf(
		`INSERT INTO %s (id, content, payload, embedding) VALUES ($1, $2, $3, $4)`, ident)

	batch := &pgx.Batch{}
	for _, pt := range points {
		payloadJSON, err := json.Marshal(pt.Payload)
		if err != nil {
			return fmt.Errorf("marshaling payload for point %q: %w", pt.ID, err)
		}
		vec := pgvector.NewVector(pt.Vector)
		batch.Queue(sql, pt.ID, pt.Text, payloadJSON, vec)
	}

	br := tx.SendBatch(ctx, batch)
	var execErr error
	for range points {
		if _, err := br.Exec(); err != nil && execErr == nil {
			execErr = err
		}
	}
	if closeErr := br.Close(); closeErr != nil && execErr == nil {
		execErr = closeErr
	}
	if execErr != nil {
		return fmt.Errorf("inserting points into %q: %w", name, execErr)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing upsert into %q: %w", name, err)
	}

	p.logger.Debug("points upserted", "collection", name, "count", len(points))
	return nil
}

// Search performs cosine-distance search, ties broken by insertion order.
func (p *Postgres) Search(ctx context.Context, name string, vector []float32, k int, model string) ([]ScoredPoint, error) {
	tbl, dim, recordedModel, err := p.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if model != "" && model != recordedModel {
		return nil, fmt.Errorf("collection %q recorded model %q, query used %q: %w",
			name, recordedModel, model, ErrModelMismatch)
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("query dimension %d, collection %q wants %d: %w",
			len(vector), name, dim, ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, nil
	}

	ident := pgx.Identifier{tbl}.Sanitize()
	sql := fmt.Sprintf(`SELECT id, content, payload, 1 - (embedding <=> $1) AS similarity
		FROM %s
		ORDER BY embedding <=> $1, ord
		LIMIT $2`, ident)

	vec := pgvector.NewVector(vector)
	rows, err := p.pool.Query(ctx, sql, vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching collection %q: %w", name, err)
	}
	defer rows.Close()

	var results []ScoredPoint
	for rows.Next() {
		var (
			sp          ScoredPoint
			payloadJSON []byte
		)
		if err := rows.Scan(&sp.ID, &sp.Text, &payloadJSON, &sp.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &sp.Payload); err != nil {
			p.logger.Warn("unparseable point payload", "collection", name, "point", sp.ID, "error", err)
			sp.Payload = map[string]string{}
		}
		results = append(results, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}
	return results, nil
}

// DeleteCollection drops the collection table and its meta row.
// Missing collection is a no-op success: sessions may be deleted before
// any ingestion ever happened.
func (p *Postgres) DeleteCollection(ctx context.Context, name string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var tbl string
	err = tx.QueryRow(ctx,
		`DELETE FROM ragcore_collections WHERE name = $1 RETURNING table_name`,
		name,
	).Scan(&tbl)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("removing collection record %q: %w", name, err)
	}

	ident := pgx.Identifier{tbl}.Sanitize()
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, ident)); err != nil {
		return fmt.Errorf("dropping collection table %q: %w", tbl, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing delete of %q: %w", name, err)
	}

	p.logger.Debug("collection deleted", "collection", name, "table", tbl)
	return nil
}

// Count returns the number of points in the collection.
func (p *Postgres) Count(ctx context.Context, name string) (int64, error) {
	tbl, _, _, err := p.lookup(ctx, name)
	if err != nil {
		return 0, err
	}

	ident := pgx.Identifier{tbl}.Sanitize()
	var count int64
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, ident)).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting points in %q: %w", name, err)
	}
	return count, nil
}

// ListCollections returns info for all recorded collections.
func (p *Postgres) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT name, dimension, model, created_at FROM ragcore_collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var infos []CollectionInfo
	for rows.Next() {
		var info CollectionInfo
		if err := rows.Scan(&info.Name, &info.Dimension, &info.Model, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning collection row: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating collection rows: %w", err)
	}
	return infos, nil
}

// compile-time interface check
var _ Store = (*Postgres)(nil)
