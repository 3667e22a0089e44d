package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pricematch-cli/internal/db"
	"github.com/sells-group/pricematch-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. Embeddings live in a
// pgvector column; the vector extension must be installable in the target
// database.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Register the pgvector codec on each new connection so embedding
	// columns scan directly into vectors.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS product_listings (
	listing_id  BIGINT PRIMARY KEY,
	retailer_id TEXT NOT NULL,
	source_type TEXT NOT NULL DEFAULT 'commercial',
	name        TEXT NOT NULL,
	brand       TEXT,
	barcode     TEXT,
	price       DOUBLE PRECISION NOT NULL DEFAULT 0,
	image_url   TEXT,
	category    TEXT,
	attributes  JSONB,
	embedding   vector
);

CREATE TABLE IF NOT EXISTS canonical_products (
	canonical_id    TEXT PRIMARY KEY,
	canonical_name  TEXT NOT NULL,
	canonical_brand TEXT,
	primary_barcode TEXT,
	category        TEXT,
	image_url       TEXT,
	price_min       DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_max       DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_avg       DOUBLE PRECISION NOT NULL DEFAULT 0,
	listing_count   INTEGER NOT NULL DEFAULT 0,
	retailer_coverage JSONB,
	attributes_json JSONB,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS listing_to_canonical (
	listing_id   BIGINT PRIMARY KEY,
	canonical_id TEXT NOT NULL REFERENCES canonical_products(canonical_id),
	source_type  TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	match_method TEXT NOT NULL,
	details      TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS match_runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	summary     JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS match_dlq (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL,
	batch_id   TEXT NOT NULL,
	listings   JSONB NOT NULL,
	reason     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_listings_retailer ON product_listings(retailer_id);
CREATE INDEX IF NOT EXISTS idx_listings_barcode ON product_listings(barcode) WHERE barcode IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_canonicals_barcode ON canonical_products(primary_barcode) WHERE primary_barcode IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_l2c_canonical ON listing_to_canonical(canonical_id);
CREATE INDEX IF NOT EXISTS idx_l2c_method ON listing_to_canonical(match_method);
CREATE INDEX IF NOT EXISTS idx_dlq_run ON match_dlq(run_id);
`

// Migrate creates the matcher's tables. Schema ownership beyond these
// tables belongs to the wider platform, not this engine.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var listingColumns = []string{
	"listing_id", "retailer_id", "source_type", "name", "brand", "barcode",
	"price", "image_url", "category", "attributes", "embedding",
}

// UpsertListings bulk-upserts listings keyed by listing_id.
func (s *PostgresStore) UpsertListings(ctx context.Context, listings []model.ProductListing) (int64, error) {
	rows := make([][]any, 0, len(listings))
	for _, l := range listings {
		attrs, err := marshalOrNil(l.Attributes)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal attributes for listing %d", l.ID)
		}
		var emb any
		if l.HasEmbedding() {
			emb = pgvector.NewVector(l.Embedding)
		}
		rows = append(rows, []any{
			l.ID, l.RetailerID, string(l.SourceType), l.Name,
			nullable(l.Brand), nullable(l.Barcode), l.Price,
			nullable(l.ImageURL), nullable(l.Category), attrs, emb,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "product_listings",
		Columns:      listingColumns,
		ConflictKeys: []string{"listing_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert listings")
	}
	return n, nil
}

// LoadListings reads the complete listing set in listing-id order.
func (s *PostgresStore) LoadListings(ctx context.Context) ([]model.ProductListing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT listing_id, retailer_id, source_type, name,
		       COALESCE(brand, ''), COALESCE(barcode, ''), price,
		       COALESCE(image_url, ''), COALESCE(category, ''),
		       attributes, embedding
		FROM product_listings
		ORDER BY listing_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load listings")
	}
	defer rows.Close()

	var out []model.ProductListing
	for rows.Next() {
		var l model.ProductListing
		var source string
		var attrs []byte
		var emb *pgvector.Vector
		if err := rows.Scan(&l.ID, &l.RetailerID, &source, &l.Name,
			&l.Brand, &l.Barcode, &l.Price, &l.ImageURL, &l.Category,
			&attrs, &emb); err != nil {
			return nil, eris.Wrap(err, "postgres: scan listing")
		}
		l.SourceType = model.SourceType(source)
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &l.Attributes); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal attributes for listing %d", l.ID)
			}
		}
		if emb != nil {
			l.Embedding = emb.Slice()
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate listings")
	}
	return out, nil
}

// CountListings returns the listing row count.
func (s *PostgresStore) CountListings(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM product_listings`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count listings")
	}
	return n, nil
}

var canonicalColumns = []string{
	"canonical_id", "canonical_name", "canonical_brand", "primary_barcode",
	"category", "image_url", "price_min", "price_max", "price_avg",
	"listing_count", "retailer_coverage", "attributes_json", "updated_at",
}

// UpsertCanonicals bulk-upserts canonical products keyed by canonical_id.
// An existing canonical for the same barcode updates in place; re-running
// the pipeline never duplicates a resolved product.
func (s *PostgresStore) UpsertCanonicals(ctx context.Context, products []model.CanonicalProduct) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(products))
	for _, p := range products {
		coverage, err := json.Marshal(p.Retailers)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal coverage for %s", p.CanonicalID)
		}
		attrs, err := marshalOrNil(p.Attributes)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal attributes for %s", p.CanonicalID)
		}
		rows = append(rows, []any{
			p.CanonicalID, p.Name, nullable(p.Brand), nullable(p.PrimaryBarcode),
			nullable(p.Category), nullable(p.ImageURL),
			p.PriceMin, p.PriceMax, p.PriceAvg, p.ListingCount,
			coverage, attrs, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "canonical_products",
		Columns:      canonicalColumns,
		ConflictKeys: []string{"canonical_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert canonical products")
	}
	return n, nil
}

var matchColumns = []string{
	"listing_id", "canonical_id", "source_type", "confidence",
	"match_method", "details", "created_at",
}

// UpsertMatches bulk-upserts the listing→canonical mapping keyed by
// listing_id, preserving the partition invariant at the schema level.
func (s *PostgresStore) UpsertMatches(ctx context.Context, matches []model.ListingMatch) (int64, error) {
	rows := make([][]any, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, []any{
			m.ListingID, m.CanonicalID, string(m.SourceType), m.Confidence,
			string(m.Method), nullable(m.Details), m.CreatedAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "listing_to_canonical",
		Columns:      matchColumns,
		ConflictKeys: []string{"listing_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert matches")
	}
	return n, nil
}

// ListCanonicals returns canonical products ordered by listing count
// descending, then id for determinism.
func (s *PostgresStore) ListCanonicals(ctx context.Context, limit int) ([]model.CanonicalProduct, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT canonical_id, canonical_name, COALESCE(canonical_brand, ''),
		       COALESCE(primary_barcode, ''), COALESCE(category, ''),
		       COALESCE(image_url, ''), price_min, price_max, price_avg,
		       listing_count, retailer_coverage
		FROM canonical_products
		ORDER BY listing_count DESC, canonical_id
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list canonical products")
	}
	defer rows.Close()

	var out []model.CanonicalProduct
	for rows.Next() {
		var p model.CanonicalProduct
		var coverage []byte
		if err := rows.Scan(&p.CanonicalID, &p.Name, &p.Brand, &p.PrimaryBarcode,
			&p.Category, &p.ImageURL, &p.PriceMin, &p.PriceMax, &p.PriceAvg,
			&p.ListingCount, &coverage); err != nil {
			return nil, eris.Wrap(err, "postgres: scan canonical product")
		}
		if len(coverage) > 0 {
			if err := json.Unmarshal(coverage, &p.Retailers); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal coverage for %s", p.CanonicalID)
			}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate canonical products")
	}
	return out, nil
}

// CountCanonicals returns the canonical product row count.
func (s *PostgresStore) CountCanonicals(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM canonical_products`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count canonical products")
	}
	return n, nil
}

// MethodCounts tallies persisted matches by method.
func (s *PostgresStore) MethodCounts(ctx context.Context) (map[model.MatchMethod]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT match_method, COUNT(*)
		FROM listing_to_canonical
		GROUP BY match_method`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: method counts")
	}
	defer rows.Close()

	counts := make(map[model.MatchMethod]int)
	for rows.Next() {
		var method string
		var n int
		if err := rows.Scan(&method, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan method count")
		}
		counts[model.MatchMethod(method)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate method counts")
	}
	return counts, nil
}

// RecordRun persists the end-of-run summary.
func (s *PostgresStore) RecordRun(ctx context.Context, run model.MatchRun) error {
	summary, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO match_runs (id, started_at, finished_at, summary)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET finished_at = EXCLUDED.finished_at, summary = EXCLUDED.summary`,
		run.ID, run.StartedAt, run.FinishedAt, summary)
	if err != nil {
		return eris.Wrap(err, "postgres: record run")
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.MatchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT summary FROM match_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.MatchRun
	for rows.Next() {
		var summary []byte
		if err := rows.Scan(&summary); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var run model.MatchRun
		if err := json.Unmarshal(summary, &run); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run summary")
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate runs")
	}
	return out, nil
}

// RecordFailedBatches appends arbitration failures to the dead-letter table.
func (s *PostgresStore) RecordFailedBatches(ctx context.Context, batches []model.FailedBatch) error {
	for _, b := range batches {
		ids, err := json.Marshal(b.Listings)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal dlq listings for %s", b.BatchID)
		}
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO match_dlq (run_id, batch_id, listings, reason, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			b.RunID, b.BatchID, ids, b.Reason, b.CreatedAt); err != nil {
			return eris.Wrapf(err, "postgres: record dlq batch %s", b.BatchID)
		}
	}
	return nil
}

// DLQDepth returns the number of dead-lettered arbitration batches.
func (s *PostgresStore) DLQDepth(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM match_dlq`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: dlq depth")
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalOrNil(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}
