package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pricematch-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite for local runs and
// tests. Embeddings and open attribute maps are stored as JSON text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS product_listings (
	listing_id  INTEGER PRIMARY KEY,
	retailer_id TEXT NOT NULL,
	source_type TEXT NOT NULL DEFAULT 'commercial',
	name        TEXT NOT NULL,
	brand       TEXT,
	barcode     TEXT,
	price       REAL NOT NULL DEFAULT 0,
	image_url   TEXT,
	category    TEXT,
	attributes  TEXT,
	embedding   TEXT
);

CREATE TABLE IF NOT EXISTS canonical_products (
	canonical_id    TEXT PRIMARY KEY,
	canonical_name  TEXT NOT NULL,
	canonical_brand TEXT,
	primary_barcode TEXT,
	category        TEXT,
	image_url       TEXT,
	price_min       REAL NOT NULL DEFAULT 0,
	price_max       REAL NOT NULL DEFAULT 0,
	price_avg       REAL NOT NULL DEFAULT 0,
	listing_count   INTEGER NOT NULL DEFAULT 0,
	retailer_coverage TEXT,
	attributes_json TEXT,
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS listing_to_canonical (
	listing_id   INTEGER PRIMARY KEY,
	canonical_id TEXT NOT NULL REFERENCES canonical_products(canonical_id),
	source_type  TEXT NOT NULL,
	confidence   REAL NOT NULL,
	match_method TEXT NOT NULL,
	details      TEXT,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS match_runs (
	id          TEXT PRIMARY KEY,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	summary     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS match_dlq (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	batch_id   TEXT NOT NULL,
	listings   TEXT NOT NULL,
	reason     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_retailer ON product_listings(retailer_id);
CREATE INDEX IF NOT EXISTS idx_listings_barcode ON product_listings(barcode);
CREATE INDEX IF NOT EXISTS idx_l2c_canonical ON listing_to_canonical(canonical_id);
CREATE INDEX IF NOT EXISTS idx_l2c_method ON listing_to_canonical(match_method);
CREATE INDEX IF NOT EXISTS idx_dlq_run ON match_dlq(run_id);
`

// Migrate creates the matcher's tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertListings upserts listings keyed by listing_id in one transaction.
func (s *SQLiteStore) UpsertListings(ctx context.Context, listings []model.ProductListing) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO product_listings
			(listing_id, retailer_id, source_type, name, brand, barcode, price, image_url, category, attributes, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id) DO UPDATE SET
			retailer_id = excluded.retailer_id,
			source_type = excluded.source_type,
			name = excluded.name,
			brand = excluded.brand,
			barcode = excluded.barcode,
			price = excluded.price,
			image_url = excluded.image_url,
			category = excluded.category,
			attributes = excluded.attributes,
			embedding = excluded.embedding`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert listings")
	}
	defer stmt.Close()

	var n int64
	for _, l := range listings {
		attrs, err := jsonOrNil(l.Attributes)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal attributes for listing %d", l.ID)
		}
		var emb any
		if l.HasEmbedding() {
			b, err := json.Marshal(l.Embedding)
			if err != nil {
				return 0, eris.Wrapf(err, "sqlite: marshal embedding for listing %d", l.ID)
			}
			emb = string(b)
		}
		if _, err := stmt.ExecContext(ctx,
			l.ID, l.RetailerID, string(l.SourceType), l.Name,
			sqlNullable(l.Brand), sqlNullable(l.Barcode), l.Price,
			sqlNullable(l.ImageURL), sqlNullable(l.Category), attrs, emb,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert listing %d", l.ID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit listings")
	}
	return n, nil
}

// LoadListings reads the complete listing set in listing-id order.
func (s *SQLiteStore) LoadListings(ctx context.Context) ([]model.ProductListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT listing_id, retailer_id, source_type, name,
		       COALESCE(brand, ''), COALESCE(barcode, ''), price,
		       COALESCE(image_url, ''), COALESCE(category, ''),
		       attributes, embedding
		FROM product_listings
		ORDER BY listing_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load listings")
	}
	defer rows.Close()

	var out []model.ProductListing
	for rows.Next() {
		var l model.ProductListing
		var source string
		var attrs, emb sql.NullString
		if err := rows.Scan(&l.ID, &l.RetailerID, &source, &l.Name,
			&l.Brand, &l.Barcode, &l.Price, &l.ImageURL, &l.Category,
			&attrs, &emb); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan listing")
		}
		l.SourceType = model.SourceType(source)
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &l.Attributes); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal attributes for listing %d", l.ID)
			}
		}
		if emb.Valid && emb.String != "" {
			if err := json.Unmarshal([]byte(emb.String), &l.Embedding); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal embedding for listing %d", l.ID)
			}
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate listings")
	}
	return out, nil
}

// CountListings returns the listing row count.
func (s *SQLiteStore) CountListings(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM product_listings`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count listings")
	}
	return n, nil
}

// UpsertCanonicals upserts canonical products keyed by canonical_id.
func (s *SQLiteStore) UpsertCanonicals(ctx context.Context, products []model.CanonicalProduct) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO canonical_products
			(canonical_id, canonical_name, canonical_brand, primary_barcode, category, image_url,
			 price_min, price_max, price_avg, listing_count, retailer_coverage, attributes_json,
			 updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(canonical_id) DO UPDATE SET
			canonical_name = excluded.canonical_name,
			canonical_brand = excluded.canonical_brand,
			primary_barcode = excluded.primary_barcode,
			category = excluded.category,
			image_url = excluded.image_url,
			price_min = excluded.price_min,
			price_max = excluded.price_max,
			price_avg = excluded.price_avg,
			listing_count = excluded.listing_count,
			retailer_coverage = excluded.retailer_coverage,
			attributes_json = excluded.attributes_json,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert canonicals")
	}
	defer stmt.Close()

	var n int64
	for _, p := range products {
		coverage, err := json.Marshal(p.Retailers)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal coverage for %s", p.CanonicalID)
		}
		attrs, err := jsonOrNil(p.Attributes)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal attributes for %s", p.CanonicalID)
		}
		if _, err := stmt.ExecContext(ctx,
			p.CanonicalID, p.Name, sqlNullable(p.Brand), sqlNullable(p.PrimaryBarcode),
			sqlNullable(p.Category), sqlNullable(p.ImageURL),
			p.PriceMin, p.PriceMax, p.PriceAvg, p.ListingCount,
			string(coverage), attrs,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert canonical %s", p.CanonicalID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit canonicals")
	}
	return n, nil
}

// UpsertMatches upserts the listing→canonical mapping keyed by listing_id.
func (s *SQLiteStore) UpsertMatches(ctx context.Context, matches []model.ListingMatch) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO listing_to_canonical
			(listing_id, canonical_id, source_type, confidence, match_method, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id) DO UPDATE SET
			canonical_id = excluded.canonical_id,
			source_type = excluded.source_type,
			confidence = excluded.confidence,
			match_method = excluded.match_method,
			details = excluded.details,
			created_at = excluded.created_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert matches")
	}
	defer stmt.Close()

	var n int64
	for _, m := range matches {
		if _, err := stmt.ExecContext(ctx,
			m.ListingID, m.CanonicalID, string(m.SourceType), m.Confidence,
			string(m.Method), sqlNullable(m.Details), m.CreatedAt.UTC(),
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert match for listing %d", m.ListingID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit matches")
	}
	return n, nil
}

// ListCanonicals returns canonical products ordered by listing count
// descending, then id.
func (s *SQLiteStore) ListCanonicals(ctx context.Context, limit int) ([]model.CanonicalProduct, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT canonical_id, canonical_name, COALESCE(canonical_brand, ''),
		       COALESCE(primary_barcode, ''), COALESCE(category, ''),
		       COALESCE(image_url, ''), price_min, price_max, price_avg,
		       listing_count, COALESCE(retailer_coverage, '[]')
		FROM canonical_products
		ORDER BY listing_count DESC, canonical_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list canonical products")
	}
	defer rows.Close()

	var out []model.CanonicalProduct
	for rows.Next() {
		var p model.CanonicalProduct
		var coverage string
		if err := rows.Scan(&p.CanonicalID, &p.Name, &p.Brand, &p.PrimaryBarcode,
			&p.Category, &p.ImageURL, &p.PriceMin, &p.PriceMax, &p.PriceAvg,
			&p.ListingCount, &coverage); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan canonical product")
		}
		if err := json.Unmarshal([]byte(coverage), &p.Retailers); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal coverage for %s", p.CanonicalID)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate canonical products")
	}
	return out, nil
}

// CountCanonicals returns the canonical product row count.
func (s *SQLiteStore) CountCanonicals(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM canonical_products`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count canonical products")
	}
	return n, nil
}

// MethodCounts tallies persisted matches by method.
func (s *SQLiteStore) MethodCounts(ctx context.Context) (map[model.MatchMethod]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT match_method, COUNT(*)
		FROM listing_to_canonical
		GROUP BY match_method`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: method counts")
	}
	defer rows.Close()

	counts := make(map[model.MatchMethod]int)
	for rows.Next() {
		var method string
		var n int
		if err := rows.Scan(&method, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan method count")
		}
		counts[model.MatchMethod(method)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate method counts")
	}
	return counts, nil
}

// RecordRun persists the end-of-run summary.
func (s *SQLiteStore) RecordRun(ctx context.Context, run model.MatchRun) error {
	summary, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO match_runs (id, started_at, finished_at, summary)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET finished_at = excluded.finished_at, summary = excluded.summary`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), string(summary))
	if err != nil {
		return eris.Wrap(err, "sqlite: record run")
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.MatchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT summary FROM match_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.MatchRun
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		var run model.MatchRun
		if err := json.Unmarshal([]byte(summary), &run); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run summary")
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate runs")
	}
	return out, nil
}

// RecordFailedBatches appends arbitration failures to the dead-letter table.
func (s *SQLiteStore) RecordFailedBatches(ctx context.Context, batches []model.FailedBatch) error {
	for _, b := range batches {
		ids, err := json.Marshal(b.Listings)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal dlq listings for %s", b.BatchID)
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO match_dlq (run_id, batch_id, listings, reason, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			b.RunID, b.BatchID, string(ids), b.Reason, b.CreatedAt.UTC()); err != nil {
			return eris.Wrapf(err, "sqlite: record dlq batch %s", b.BatchID)
		}
	}
	return nil
}

// DLQDepth returns the number of dead-lettered arbitration batches.
func (s *SQLiteStore) DLQDepth(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM match_dlq`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: dlq depth")
	}
	return n, nil
}

func sqlNullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonOrNil(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
